// Package simnode wires internal/chain, internal/txledger, internal/network,
// internal/attack, internal/stats and internal/kernel together into the
// per-node event dispatcher that drives one simulation run.
//
// Grounded on ProcessEvent in original_source/RBlockSim/src/RBlockSim.c: the
// event-type switch (RBLOCKSIM_INIT / GENERATE_BLOCK / RECEIVE_BLOCK /
// REQUEST_BLOCK, bracketed by LP_INIT / LP_FINI) and the exact early-return
// points that skip rearming the mining timer are preserved.
package simnode

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/rblocksim/rblocksim/internal/attack"
	"github.com/rblocksim/rblocksim/internal/chain"
	"github.com/rblocksim/rblocksim/internal/config"
	"github.com/rblocksim/rblocksim/internal/kernel"
	"github.com/rblocksim/rblocksim/internal/network"
	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/simrand"
	"github.com/rblocksim/rblocksim/internal/stats"
	"github.com/rblocksim/rblocksim/internal/txledger"
)

// Event tags, the Go counterpart of enum rblocksim_event in RBlockSim.h.
// Init (RBLOCKSIM_INIT) is the simulation's own internal event; LPInit/LPFini
// are handled by the kernel directly and never carry one of these tags.
const (
	TagInit = iota
	TagGenerateBlock
	TagReceiveBlock
	TagRequestBlock
)

// requestBlockEvt is the payload of a REQUEST_BLOCK event.
type requestBlockEvt struct {
	Requester rbtypes.NodeID
	Miner     rbtypes.NodeID
	Height    rbtypes.Height
}

// rawHashPowerMean/StdDev parameterize each honest node's raw mining power
// draw, from initBlockchainState's NormalExpanded(rng, 5000, 1000) call in
// Block.c.
const (
	rawHashPowerMean   = 5000
	rawHashPowerStdDev = 1000
)

// blockAncestorDelta is the fixed micro-delay between successive blocks in a
// selfish-mining burst release, from propagateBlockAndNAncestors in
// RBlockSim.c.
const blockAncestorDelta = rbtypes.SimTime(0.002)

// State is one node's full simulation state.
type State struct {
	RNG        *simrand.Source
	Chain      *chain.Blockchain
	TxState    *txledger.State
	Stats      *stats.Collector
	Selector   chain.Selector
	Attacker   *attack.Runtime
	IsAttacker bool

	rawHashPower     uint64
	hashPowerPortion float64
	minedByMe        uint64
}

// Sim owns every piece of shared, read-mostly run state and the kernel that
// drives the event loop.
type Sim struct {
	cfg      *config.Config
	topology *network.Topology
	roster   *attack.Roster
	txns     []txledger.Transaction
	log      *logrus.Logger
	kernel   *kernel.Kernel
	states   []*State

	totalHashPower atomic.Uint64
}

// New assembles a Sim ready to Run: it elects attackers, builds the gossip
// topology, and generates the global transaction stream.
func New(cfg *config.Config, rng *simrand.Source, log *logrus.Logger) (*Sim, error) {
	attackerCount := 0
	if cfg.Attack.Type != attack.None {
		attackerCount = 1
	}
	roster, err := attack.InitAttackers(rng, cfg.Nodes, cfg.Attack, attackerCount)
	if err != nil {
		return nil, err
	}

	s := &Sim{
		cfg:      cfg,
		topology: network.NewTopology(rng, cfg.Nodes, cfg.GossipFanout),
		roster:   roster,
		txns:     txledger.Generate(rng, cfg.TxnCount, cfg.TerminationTime, cfg.Nodes),
		log:      log,
		states:   make([]*State, cfg.Nodes),
	}
	s.kernel = kernel.New(cfg.Nodes, s.dispatch)
	return s, nil
}

// Run drives the event loop to completion.
func (s *Sim) Run() {
	s.kernel.Run(s.cfg.TerminationTime)
}

// State returns node's final state, valid only after Run returns.
func (s *Sim) State(node rbtypes.NodeID) *State {
	return s.states[node]
}

// NodeCount returns the configured node population.
func (s *Sim) NodeCount() int {
	return s.cfg.Nodes
}

// Attacker returns the elected attacker's id and runtime, if an attack is
// configured.
func (s *Sim) Attacker() (rbtypes.NodeID, *attack.Runtime, bool) {
	ids := s.roster.IDs()
	if len(ids) == 0 {
		return 0, nil, false
	}
	id := ids[0]
	return id, s.states[id].Attacker, true
}

// TotalMinedBlocks sums mined_by_me across every node, mirroring the
// tot_mined atomic accumulator in RBlockSim.c.
func (s *Sim) TotalMinedBlocks() uint64 {
	var total uint64
	for _, st := range s.states {
		total += st.minedByMe
	}
	return total
}

func (s *Sim) latency(sender, receiver rbtypes.NodeID) rbtypes.SimTime {
	return s.topology.TransmissionDelay(nil, sender, receiver)
}

func (s *Sim) dispatch(k *kernel.Kernel, me rbtypes.NodeID, now rbtypes.SimTime, evt kernel.Event) {
	switch evt.Kind {
	case kernel.LPInit:
		s.onInit(k, me)
		return
	case kernel.LPFini:
		s.onFini(me)
		return
	}

	state := s.states[me]

	switch evt.Tag {
	case TagInit:
		s.onRBlockSimInit(state)
	case TagGenerateBlock:
		s.onGenerateBlock(k, me, now, state)
	case TagReceiveBlock:
		block := evt.Payload.(*chain.Block)
		if !s.onReceiveBlock(k, me, now, state, block) {
			return // mirrors ProcessEvent's early `return` paths: no rearm
		}
	case TagRequestBlock:
		s.onRequestBlock(k, me, now, state, evt.Payload.(requestBlockEvt))
		return // REQUEST_BLOCK never rearms the mining timer
	}

	s.scheduleNextGeneration(k, me, now, state)
}

// onInit is the LP_INIT handler: allocate per-node state, draw raw hash
// power for honest nodes, and kick off RBLOCKSIM_INIT.
func (s *Sim) onInit(k *kernel.Kernel, me rbtypes.NodeID) {
	isAttacker := s.roster.IsAttacker(me)
	state := &State{
		RNG:        s.deriveRNG(me),
		Chain:      chain.New(),
		TxState:    txledger.NewState(len(s.txns)),
		IsAttacker: isAttacker,
	}
	if isAttacker {
		state.Attacker = attack.NewRuntime()
		state.Selector = chain.AttackerSelector(s.cfg.Attack.CatchupTolerance())
	} else {
		state.rawHashPower = uint64(state.RNG.Normal(rawHashPowerMean, rawHashPowerStdDev))
		s.totalHashPower.Add(state.rawHashPower)
		state.Selector = chain.HonestSelector()
	}
	state.Stats = stats.NewCollector(s.cfg.StatsMode, s.roster.IsAttacker)
	s.states[me] = state

	k.Schedule(me, 0, TagInit, nil)
}

// deriveRNG mirrors initialize_stream(RNG_SEED + me, ...): a per-node RNG
// stream independent of the others but deterministic given the run seed.
func (s *Sim) deriveRNG(me rbtypes.NodeID) *simrand.Source {
	return simrand.New(s.cfg.RNGSeed + int64(me))
}

// onRBlockSimInit is the RBLOCKSIM_INIT handler: compute each node's hash
// power portion now that the global total is known, and arm the first
// mining timer via the caller's trailing scheduleNextGeneration.
func (s *Sim) onRBlockSimInit(state *State) {
	if state.IsAttacker {
		state.hashPowerPortion = s.cfg.Attack.HashPowerPortion()
		return
	}
	total := s.totalHashPower.Load()
	if total == 0 {
		return
	}
	portion := float64(state.rawHashPower) / float64(total)
	if s.cfg.Attack.Type != attack.None {
		portion *= 1 - s.cfg.Attack.HashPowerPortion()
	}
	state.hashPowerPortion = portion
}

// scheduleNextGeneration (re)arms the retractable GENERATE_BLOCK event,
// mirroring scheduleNextBlockGeneration in Block.c.
func (s *Sim) scheduleNextGeneration(k *kernel.Kernel, me rbtypes.NodeID, now rbtypes.SimTime, state *State) {
	if state.hashPowerPortion <= 0 {
		return
	}
	delay := rbtypes.SimTime(state.RNG.Exponential(s.cfg.BlockInterval / state.hashPowerPortion))
	k.ScheduleRetractable(me, now+delay, TagGenerateBlock, nil)
}

// onGenerateBlock is the GENERATE_BLOCK handler: mine a block, decide
// whether (and how) to propagate it, and record mining statistics.
func (s *Sim) onGenerateBlock(k *kernel.Kernel, me rbtypes.NodeID, now rbtypes.SimTime, state *State) {
	block, _ := state.Chain.GenerateBlock(me, now, state.TxState, s.txns, s.latency, state.Stats, state.Selector)
	state.minedByMe++

	if s.cfg.Attack.Type == attack.SelfishMining && state.IsAttacker && !state.Attacker.Finished {
		parentIsSelf := block.PrevBlockMiner == me
		decision := state.Attacker.OnGenerateBlock(s.cfg.Attack.Selfish, now, block.Height, state.Chain.Height, parentIsSelf)
		if decision.AncestorsToPropagate > 0 {
			block.IsAttackBlock = true
			if decision.MarkAttackBlock && s.cfg.StatsMode == stats.Selfish {
				state.Stats.SwitchToSelfishChain() // bookkeeping only: this node is the attacker, not a convert
			}
			s.propagateBurst(k, state, me, now, block, decision.AncestorsToPropagate)
		} else if !state.Attacker.Mining {
			// Not concealing (attack not started yet): propagate normally.
			s.propagate(k, state, me, now, block)
		}
		// else: still concealing — withhold silently.
	} else {
		s.propagate(k, state, me, now, block)
	}

	switch s.cfg.StatsMode {
	case stats.Detailed:
		state.Stats.MineBlockDetailed(me, block.Height, now)
	case stats.Selfish:
		state.Stats.MineBlockSelfish()
	}
}

// onReceiveBlock is the RECEIVE_BLOCK handler. Returns false for the two
// early-return paths in ProcessEvent that must NOT rearm the mining timer:
// a block this node already knows about, and a block that didn't move the
// main chain.
func (s *Sim) onReceiveBlock(k *kernel.Kernel, me rbtypes.NodeID, now rbtypes.SimTime, state *State, b *chain.Block) bool {
	if seeked, _, ok := state.Chain.FindNode(b.Miner, b.Height); ok {
		if seeked.Orphan {
			s.requestParent(k, me, now, state, b)
		}
		return false
	}

	if s.cfg.StatsMode == stats.Detailed {
		state.Stats.ReceiveBlockDetailed(b.Miner, b.Height, now)
	}

	mainMoved, foundParent := state.Chain.ReceiveBlock(now, b, me, state.TxState, state.Stats, state.Selector)
	if !foundParent {
		s.requestParent(k, me, now, state, b)
	}

	// The received *Block is shared by every peer it was gossiped to, so the
	// relayed copy carries the new Sender, leaving b.Sender intact for them.
	fwd := *b
	fwd.Sender = me
	s.propagate(k, state, me, now, &fwd)

	if !mainMoved {
		return false
	}

	if b.IsAttackBlock && s.cfg.StatsMode == stats.Selfish {
		state.Stats.SwitchToSelfishChain()
	}
	if state.IsAttacker {
		state.Attacker.OnMainChainAdvance(b.Height)
	}
	return true
}

// onRequestBlock is the REQUEST_BLOCK handler: reply with the requested
// block if we have it.
func (s *Sim) onRequestBlock(k *kernel.Kernel, me rbtypes.NodeID, now rbtypes.SimTime, state *State, req requestBlockEvt) {
	block, ok := state.Chain.RetrieveBlock(req.Miner, req.Height)
	if !ok {
		return
	}
	block.Sender = me
	delay := s.topology.TransmissionDelay(state.RNG, me, req.Requester)
	k.Schedule(req.Requester, now+delay, TagReceiveBlock, block)
}

// requestParent asks the block's last sender for its parent, mirroring
// requestParent in RBlockSim.c.
func (s *Sim) requestParent(k *kernel.Kernel, me rbtypes.NodeID, now rbtypes.SimTime, state *State, b *chain.Block) {
	delay := s.topology.TransmissionDelay(state.RNG, me, b.Sender)
	k.Schedule(b.Sender, now+delay, TagRequestBlock, requestBlockEvt{
		Requester: me,
		Miner:     b.PrevBlockMiner,
		Height:    b.Height - 1,
	})
}

// propagate gossips a block to this node's peers.
func (s *Sim) propagate(k *kernel.Kernel, state *State, me rbtypes.NodeID, now rbtypes.SimTime, b *chain.Block) {
	for _, d := range s.topology.Gossip(state.RNG, me, b.Miner, now) {
		k.Schedule(d.Receiver, d.At, TagReceiveBlock, b)
	}
}

// propagateBurst releases a freshly mined block together with nAncestors-1
// previously concealed ancestors, each delayed by blockAncestorDelta behind
// the previous one, then the new block itself. Grounded on
// propagateBlockAndNAncestors in RBlockSim.c.
func (s *Sim) propagateBurst(k *kernel.Kernel, state *State, me rbtypes.NodeID, sendTime rbtypes.SimTime, block *chain.Block, nAncestors int) {
	t := sendTime
	for i := 1; i < nAncestors; i++ {
		height := block.Height - rbtypes.Height(nAncestors) + rbtypes.Height(i)
		ancestor, ok := state.Chain.RetrieveBlock(block.Miner, height)
		if !ok {
			panic("simnode: selfish burst ancestor not found in local chain")
		}
		ancestor.Sender = me
		s.propagate(k, state, me, t, ancestor)
		t += blockAncestorDelta
	}
	s.propagate(k, state, me, t, block)
}

// onFini is the LP_FINI handler: nothing but bookkeeping survives past this
// point (final JSON reports are assembled by the caller from s.states once
// Run has returned, per RBlockSim.c's main() dump, rather than per-LP here).
func (s *Sim) onFini(me rbtypes.NodeID) {
	state := s.states[me]
	s.log.WithFields(logrus.Fields{
		"node":   me,
		"height": state.Chain.Height,
		"mined":  state.minedByMe,
	}).Debug("node finished")
}
