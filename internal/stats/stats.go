// Package stats implements the statistics collector: per-node accumulators
// for the three supported reporting modes (detailed, 51%, selfish mining),
// each satisfying internal/chain's StatsObserver interface so the fork-tree
// store can notify them on every main-chain apply/revert without importing
// this package directly.
//
// Grounded on original_source/RBlockSim/src/Statistics.c and .h.
package stats

import (
	"github.com/rblocksim/rblocksim/internal/rbtypes"
)

// Mode selects which accumulator, if any, a node collects.
type Mode int

const (
	None Mode = iota
	Detailed
	FiftyOne
	Selfish
)

// BlockStat records one received block, for Detailed mode.
type BlockStat struct {
	Miner        rbtypes.NodeID
	Height       rbtypes.Height
	ReceivedTime rbtypes.SimTime
}

// MinedBlockStat records one locally mined block, for Detailed mode.
type MinedBlockStat struct {
	Miner     rbtypes.NodeID
	Height    rbtypes.Height
	MinedTime rbtypes.SimTime
}

// DetailedStats accumulates every block seen or mined, for offline replay
// analysis. Unlike the original's fixed-capacity reallocating arrays, this
// uses a plain Go slice.
type DetailedStats struct {
	BlockStats      []BlockStat
	MinedBlockStats []MinedBlockStat
}

// FiftyOneStats tracks main-chain composition for a 51% attack scenario.
type FiftyOneStats struct {
	AttackerBlocksInMainChain int
	TotalBlocksInMainChain    int
}

// SelfishStats tracks main-chain composition and mining outcomes for a
// selfish-mining attack scenario.
type SelfishStats struct {
	AttackerBlocksInMainChain int
	TotalBlocksInMainChain    int
	TotalBlocksMined          int
	OwnBlocksInMainChain      int
	SwitchesToSelfishChain    int
}

// Clone returns an independent copy of s, the counterpart of
// copySelfishStatisticsState in Statistics.c. SelfishStats is a plain value,
// so this is an ordinary copy.
func (s SelfishStats) Clone() SelfishStats {
	return s
}

// Collector is the per-node statistics accumulator. At most one of its
// state fields is populated, per mode (none in None mode).
type Collector struct {
	mode       Mode
	isAttacker func(rbtypes.NodeID) bool

	Detailed DetailedStats
	FiftyOne FiftyOneStats
	Selfish  SelfishStats
}

// NewCollector allocates a Collector for mode. isAttacker is consulted by
// the 51% and selfish accumulators to tell attacker-mined blocks apart from
// everyone else's.
func NewCollector(mode Mode, isAttacker func(rbtypes.NodeID) bool) *Collector {
	return &Collector{mode: mode, isAttacker: isAttacker}
}

// Mode reports which accumulator this Collector runs.
func (c *Collector) Mode() Mode {
	return c.mode
}

// AddBlock implements chain.StatsObserver: a block was just applied to the
// main chain. Grounded on applyChainNode's statsType dispatch in Block.c.
func (c *Collector) AddBlock(miner, me rbtypes.NodeID) {
	switch c.mode {
	case Selfish:
		c.Selfish.TotalBlocksInMainChain++
		if miner == me {
			c.Selfish.OwnBlocksInMainChain++
		}
		if c.isAttacker(miner) {
			c.Selfish.AttackerBlocksInMainChain++
		}
	case FiftyOne:
		c.FiftyOne.TotalBlocksInMainChain++
		if c.isAttacker(miner) {
			c.FiftyOne.AttackerBlocksInMainChain++
		}
	}
}

// RemoveBlock implements chain.StatsObserver: the exact inverse of AddBlock,
// called when a reorg reverts a previously-applied node.
func (c *Collector) RemoveBlock(miner, me rbtypes.NodeID) {
	switch c.mode {
	case Selfish:
		c.Selfish.TotalBlocksInMainChain--
		if miner == me {
			c.Selfish.OwnBlocksInMainChain--
		}
		if c.isAttacker(miner) {
			c.Selfish.AttackerBlocksInMainChain--
		}
	case FiftyOne:
		c.FiftyOne.TotalBlocksInMainChain--
		if c.isAttacker(miner) {
			c.FiftyOne.AttackerBlocksInMainChain--
		}
	}
}

// ReceiveBlockDetailed records a block's arrival, for Detailed mode. Called
// directly from the RECEIVE_BLOCK handler rather than through AddBlock,
// since detailed stats are not tied to main-chain membership.
func (c *Collector) ReceiveBlockDetailed(miner rbtypes.NodeID, height rbtypes.Height, receivedTime rbtypes.SimTime) {
	if c.mode != Detailed {
		return
	}
	c.Detailed.BlockStats = append(c.Detailed.BlockStats, BlockStat{Miner: miner, Height: height, ReceivedTime: receivedTime})
}

// MineBlockDetailed records a block's local mining, for Detailed mode.
func (c *Collector) MineBlockDetailed(miner rbtypes.NodeID, height rbtypes.Height, minedTime rbtypes.SimTime) {
	if c.mode != Detailed {
		return
	}
	c.Detailed.MinedBlockStats = append(c.Detailed.MinedBlockStats, MinedBlockStat{Miner: miner, Height: height, MinedTime: minedTime})
}

// MineBlockSelfish increments the local mined-block counter, for Selfish
// mode. Called unconditionally on every GENERATE_BLOCK, regardless of
// whether the block was propagated or concealed.
func (c *Collector) MineBlockSelfish() {
	if c.mode != Selfish {
		return
	}
	c.Selfish.TotalBlocksMined++
}

// SwitchToSelfishChain records that this node adopted a chain tip tagged as
// an attack block, whether as the attacker itself (bookkeeping only) or as
// a victim that reorganized onto the attacker's released chain.
func (c *Collector) SwitchToSelfishChain() {
	if c.mode != Selfish {
		return
	}
	c.Selfish.SwitchesToSelfishChain++
}
