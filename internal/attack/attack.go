// Package attack implements attacker election and the selfish-mining state
// machine. Grounded on original_source/RBlockSim/src/Attacks.c/.h for
// election, and the GENERATE_BLOCK branch of ProcessEvent in RBlockSim.c for
// the selfish-mining decision logic.
package attack

import (
	"fmt"

	"github.com/rblocksim/rblocksim/internal/bitset"
	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/simrand"
)

// Type identifies which attack strategy, if any, is active for this run.
type Type int

const (
	None Type = iota
	SelfishMining
	FiftyOne
)

func (t Type) String() string {
	switch t {
	case SelfishMining:
		return "selfish"
	case FiftyOne:
		return "51"
	default:
		return "none"
	}
}

// Default parameter values, from Attacks.h.
const (
	DefaultSelfishHashPower    = 0.34
	DefaultSelfishDepth        = 2
	DefaultFiftyOneHashPower   = 0.51
	DefaultCatchupTolerance    = 1
	DefaultSelfishStartTime    = rbtypes.SimTime(600.0)
)

// SelfishConfig parameterizes a selfish-mining attack.
type SelfishConfig struct {
	HashPowerPortion float64
	Depth            uint64
	CatchupTolerance uint64
	StartTime        rbtypes.SimTime
}

// FiftyOneConfig parameterizes a 51%-majority attack.
type FiftyOneConfig struct {
	HashPowerPortion float64
	CatchupTolerance uint64
}

// Config is the full attack configuration for a run.
type Config struct {
	Type      Type
	Selfish   SelfishConfig
	FiftyOne  FiftyOneConfig
}

// CatchupTolerance returns the configured tolerance regardless of attack
// type, or 0 when there is no attack.
func (c Config) CatchupTolerance() uint64 {
	switch c.Type {
	case SelfishMining:
		return c.Selfish.CatchupTolerance
	case FiftyOne:
		return c.FiftyOne.CatchupTolerance
	default:
		return 0
	}
}

// HashPowerPortion returns the attacker's configured share of total hash
// power regardless of attack type, or 0 when there is no attack.
func (c Config) HashPowerPortion() float64 {
	switch c.Type {
	case SelfishMining:
		return c.Selfish.HashPowerPortion
	case FiftyOne:
		return c.FiftyOne.HashPowerPortion
	default:
		return 0
	}
}

// Roster is the result of attacker election: the chosen ids and a bitmap for
// O(1) membership tests, mirroring attacker_ids + is_attacker_bitmap in
// Attacks.c.
type Roster struct {
	ids       []rbtypes.NodeID
	isAttacker *bitset.Set
}

// IsAttacker reports whether node was elected as an attacker.
func (r *Roster) IsAttacker(node rbtypes.NodeID) bool {
	if r == nil || r.isAttacker == nil {
		return false
	}
	return r.isAttacker.Check(int(node))
}

// IDs returns the elected attacker node ids.
func (r *Roster) IDs() []rbtypes.NodeID {
	return r.ids
}

// generateAttackers runs a reservoir-style biased sample: scanning nodes in
// order, each remaining node is selected with probability
// remainingAttackers/remainingNodes, guaranteeing exactly count distinct ids.
// Grounded on generateAttackers in Attacks.c.
func generateAttackers(rng *simrand.Source, nodeCount, count int) []rbtypes.NodeID {
	ids := make([]rbtypes.NodeID, 0, count)
	chosen := 0
	for node := 0; node < nodeCount && chosen < count; node++ {
		remainingNodes := nodeCount - node
		remainingAttackers := count - chosen
		if rng.Uint64N(uint64(remainingNodes)) < uint64(remainingAttackers) {
			ids = append(ids, rbtypes.NodeID(node))
			chosen++
		}
	}
	return ids
}

// InitAttackers elects the attacker roster for cfg. Selfish mining and 51%
// attacks always use exactly one attacker, chosen uniformly at random; any
// other count for them is an error. Other attack types use the biased
// reservoir sample.
// Grounded on initAttackers in Attacks.c, whose fprintf+exit(1) validation
// failures become configuration errors here (spec.md §7).
func InitAttackers(rng *simrand.Source, nodeCount int, cfg Config, count int) (*Roster, error) {
	roster := &Roster{isAttacker: bitset.New(nodeCount)}

	if cfg.Type == None || count == 0 {
		return roster, nil
	}
	if count >= nodeCount {
		return nil, fmt.Errorf("attackers must be fewer than the number of nodes (requested %d attackers on %d nodes)", count, nodeCount)
	}
	if (cfg.Type == SelfishMining || cfg.Type == FiftyOne) && count != 1 {
		return nil, fmt.Errorf("selfish mining and 51%% attacks use exactly 1 attacker, got %d", count)
	}

	var ids []rbtypes.NodeID
	if cfg.Type == SelfishMining || cfg.Type == FiftyOne {
		ids = []rbtypes.NodeID{rbtypes.NodeID(rng.IntRange(0, nodeCount-1))}
	} else {
		ids = generateAttackers(rng, nodeCount, count)
	}

	for _, id := range ids {
		roster.isAttacker.Set(int(id))
	}
	roster.ids = ids
	return roster, nil
}

// Runtime is the per-attacker-node extension to its simulation state: the
// selfish-mining concealment state machine's bookkeeping. A 51% attacker
// carries one too, purely for uniform attack_info.json reporting — its
// failure and conceal counters never move (LastPropagatedHeight still
// follows OnMainChainAdvance).
type Runtime struct {
	LastPropagatedHeight rbtypes.Height
	Mining               bool
	Finished             bool
	FailedAttacks        uint64
	SuccessfulConceals   uint64
}

// NewRuntime allocates a zeroed attacker runtime.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// GenerateDecision tells the caller how to propagate a block the attacker
// just mined.
type GenerateDecision struct {
	// AncestorsToPropagate, when > 0, is the number of concealed ancestor
	// blocks (including the new one) that must be burst-released together,
	// per propagateBlockAndNAncestors in RBlockSim.c. 0 means no burst: the
	// new block is propagated alone, normally, when the runtime is not Mining
	// afterwards, and stays concealed while it is Mining.
	AncestorsToPropagate int
	MarkAttackBlock      bool
}

// OnGenerateBlock runs the selfish-mining state machine for a freshly mined
// block. blockHeight is the new block's height; parentIsSelf reports whether
// the block's parent was mined by this same attacker (false means a chain
// switch displaced the attacker's previous tip); mainChainHeight is the
// node's current main-chain height after inserting the new block.
//
// Grounded verbatim on the GENERATE_BLOCK handler's selfish-mining branch in
// RBlockSim.c's ProcessEvent.
func (r *Runtime) OnGenerateBlock(cfg SelfishConfig, now rbtypes.SimTime, blockHeight, mainChainHeight rbtypes.Height, parentIsSelf bool) GenerateDecision {
	if r.Finished {
		return GenerateDecision{}
	}

	if r.Mining && !parentIsSelf {
		r.Mining = false
		r.FailedAttacks++
	}

	if now >= cfg.StartTime && !r.Mining {
		r.Mining = true
		r.LastPropagatedHeight = blockHeight - 1
	}

	if !r.Mining {
		return GenerateDecision{}
	}

	concealed := uint64(mainChainHeight) - uint64(r.LastPropagatedHeight)
	if concealed < cfg.Depth {
		return GenerateDecision{}
	}

	r.SuccessfulConceals++
	r.LastPropagatedHeight = blockHeight
	r.Mining = false
	return GenerateDecision{AncestorsToPropagate: int(concealed), MarkAttackBlock: true}
}

// OnMainChainAdvance updates bookkeeping after any block (the attacker's own
// or a received one) moves the node's main chain forward to height.
func (r *Runtime) OnMainChainAdvance(height rbtypes.Height) {
	r.LastPropagatedHeight = height
}
