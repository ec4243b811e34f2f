// Package chain implements the per-node fork tree: a branching, bounded
// sliding-window blockchain store with scored chain selection, orphan
// linking, and transactional apply/revert of main-chain head movements.
//
// Grounded on original_source/RBlockSim/src/Block.c and Block.h. The
// sliding-window level-array layout, the discriminated parent reference, and
// the reorg algorithm are all ported in semantics, not translated line by
// line: Go idioms (slices instead of realloc'd arrays, a tagged Parent
// struct instead of a union, panics instead of abort()) replace the C
// mechanics while preserving the same externally observable behavior.
package chain

import (
	"fmt"

	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/txledger"
)

// DepthToKeep is the maximum depth of history retained behind the highest
// known height; blocks older than this become unaddressable (spec.md §3).
const DepthToKeep = 200

// BlockValidationTime is the fixed processing delay ValidateBlock reports for
// a received block. Block "validation" is not cryptographic (spec.md §1
// Non-goals): it is always successful after this delay. The RECEIVE_BLOCK
// handler in internal/simnode does not call ValidateBlock, so no validation
// delay is added to block relay.
const BlockValidationTime rbtypes.SimTime = 0.03

// Parent is the discriminated parent reference of a ChainNode: a tagged sum
// of "linked to an index in the previous level" and "orphan, waiting on a
// miner id" (spec.md §9's faithful port of the original's untagged union).
type Parent struct {
	Linked  bool
	Index   int
	MinerID rbtypes.NodeID
}

// ChainNode is the storage-object counterpart of Block inside the local fork
// tree (see the GLOSSARY in spec.md).
type ChainNode struct {
	Parent         Parent
	TxnData        *txledger.Data
	Timestamp      rbtypes.SimTime
	Miner          rbtypes.NodeID
	Height         rbtypes.Height
	Score          uint64
	AncestorsMined uint64
	Orphan         bool
	// Included is reserved for future use, mirroring the original's unused
	// CHAIN_NODE_FLAG_INCLUDED bit (spec.md §9).
	Included bool
}

// ChainLevel holds every known ChainNode at one height. Siblings are rare in
// practice; the slice grows by simple append.
type ChainLevel struct {
	Nodes []ChainNode
}

// Block is the wire/transfer-object representation of a mined block.
type Block struct {
	Timestamp      rbtypes.SimTime
	Size           int
	Miner          rbtypes.NodeID
	PrevBlockMiner rbtypes.NodeID
	Sender         rbtypes.NodeID
	Height         rbtypes.Height
	IsAttackBlock  bool
	TxnData        *txledger.Data
}

// StatsObserver receives main-chain apply/revert notifications. Concrete
// implementations live in internal/stats; the interface is declared here so
// that adding a new observer only ever requires implementing both Apply and
// Revert paths together (spec.md §9 "Reorg correctness").
type StatsObserver interface {
	AddBlock(miner, me rbtypes.NodeID)
	RemoveBlock(miner, me rbtypes.NodeID)
}

// Selector picks the "better" of two ChainNodes, per spec.md §4.2. Honest
// and attacker nodes use different Selectors; the fork-tree store itself is
// oblivious to which.
type Selector func(a, b *ChainNode) *ChainNode

// HonestSelector implements the strictly-lexicographic honest ordering:
// higher score, then higher ancestors-mined, then lower timestamp, then
// lower miner id.
func HonestSelector() Selector {
	return honestMax
}

func honestMax(a, b *ChainNode) *ChainNode {
	if a.Score != b.Score {
		if a.Score > b.Score {
			return a
		}
		return b
	}
	if a.AncestorsMined != b.AncestorsMined {
		if a.AncestorsMined > b.AncestorsMined {
			return a
		}
		return b
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return a
		}
		return b
	}
	if a.Miner <= b.Miner {
		return a
	}
	return b
}

// AttackerSelector implements the attacker ordering of spec.md §4.2: the
// node with more ancestors mined by the local attacker is preferred while it
// trails the other by less than tolerance in score; trailing by exactly
// tolerance falls back to lower timestamp, then lower miner id.
func AttackerSelector(tolerance uint64) Selector {
	return func(a, b *ChainNode) *ChainNode {
		return attackerMax(a, b, tolerance)
	}
}

func attackerMax(a, b *ChainNode, tolerance uint64) *ChainNode {
	if a.AncestorsMined == b.AncestorsMined {
		return honestMax(a, b)
	}
	if a.AncestorsMined < b.AncestorsMined {
		a, b = b, a
	}
	// a now has more ancestors mined by the attacker.
	if a.Score >= b.Score {
		return a
	}
	virtual := a.Score + tolerance
	if virtual > b.Score {
		return a
	}
	if virtual < b.Score {
		return b
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return a
		}
		return b
	}
	if a.Miner <= b.Miner {
		return a
	}
	return b
}

// Blockchain is the per-node fork tree: two fixed-length arrays of
// ChainLevels forming a sliding window over heights
// [MinHeight, MinHeight + 2*DepthToKeep).
type Blockchain struct {
	oldLevels     []ChainLevel
	currentLevels []ChainLevel

	MinHeight      rbtypes.Height
	MaxHeight      rbtypes.Height
	Height         rbtypes.Height
	MainChainIndex int
}

// New allocates a Blockchain with only the genesis block present, at height
// zero, mined by the sentinel node (spec.md §3).
func New() *Blockchain {
	bc := &Blockchain{
		oldLevels:     make([]ChainLevel, DepthToKeep),
		currentLevels: make([]ChainLevel, DepthToKeep),
	}
	bc.oldLevels[0].Nodes = []ChainNode{{
		Parent:  Parent{MinerID: rbtypes.SentinelNode},
		Miner:   rbtypes.SentinelNode,
		Height:  0,
		TxnData: &txledger.Data{},
	}}
	return bc
}

// level resolves a height to its ChainLevel via the sliding-window mapping.
// Out-of-window access is a fatal programmer error, matching spec.md §7.
func (bc *Blockchain) level(h rbtypes.Height) *ChainLevel {
	if h < bc.MinHeight {
		panic(fmt.Sprintf("chain: height %d is below window minimum %d", h, bc.MinHeight))
	}
	offset := h - bc.MinHeight
	if offset < DepthToKeep {
		return &bc.oldLevels[offset]
	}
	if offset >= 2*DepthToKeep {
		panic(fmt.Sprintf("chain: height %d is above window maximum %d", h, bc.MinHeight+2*DepthToKeep-1))
	}
	return &bc.currentLevels[offset-DepthToKeep]
}

func (bc *Blockchain) nodeAt(h rbtypes.Height, idx int) *ChainNode {
	return &bc.level(h).Nodes[idx]
}

// FindNode does a linear scan of level h for miner, returning ok=false if
// the level doesn't exist yet (h beyond MaxHeight) or miner never mined
// there.
func (bc *Blockchain) FindNode(miner rbtypes.NodeID, h rbtypes.Height) (node *ChainNode, index int, ok bool) {
	if h > bc.MaxHeight {
		return nil, 0, false
	}
	level := bc.level(h)
	for i := range level.Nodes {
		if level.Nodes[i].Miner == miner {
			return &level.Nodes[i], i, true
		}
	}
	return nil, 0, false
}

// MainChainHead returns the ChainNode at the tip of the node's current main
// chain.
func (bc *Blockchain) MainChainHead() *ChainNode {
	return bc.nodeAt(bc.Height, bc.MainChainIndex)
}

func (bc *Blockchain) moveForward() {
	wiped := make([]ChainLevel, DepthToKeep)
	bc.oldLevels, bc.currentLevels = bc.currentLevels, wiped
	bc.MinHeight += DepthToKeep
}

// AddBlock is the central fork-tree mutation (spec.md §4.1): it inserts
// block into the local tree, links or orphans it against its parent,
// un-orphans any of its descendants that were waiting on it, and switches
// the main chain if the resulting best tip beats the current head.
func (bc *Blockchain) AddBlock(now rbtypes.SimTime, block *Block, me rbtypes.NodeID, txState *txledger.State, stats StatsObserver, selector Selector) (node *ChainNode, mainMoved bool, foundParent bool) {
	if block.Height < 1 {
		panic("chain: AddBlock called with height 0 (reserved for genesis)")
	}
	if block.Height > bc.MaxHeight {
		bc.MaxHeight = block.Height
		if uint64(block.Height) >= uint64(bc.MinHeight)+2*DepthToKeep {
			bc.moveForward()
		}
	}

	level := bc.level(block.Height)
	level.Nodes = append(level.Nodes, ChainNode{
		Parent:    Parent{MinerID: block.PrevBlockMiner},
		TxnData:   block.TxnData.Clone(),
		Timestamp: now,
		Miner:     block.Miner,
		Height:    block.Height,
	})
	idx := len(level.Nodes) - 1
	node = &level.Nodes[idx]

	parentLevel := bc.level(block.Height - 1)
	found := false
	for i := range parentLevel.Nodes {
		cand := &parentLevel.Nodes[i]
		if cand.Miner != node.Parent.MinerID {
			continue
		}
		if cand.Orphan {
			break
		}
		node.Parent = Parent{Linked: true, Index: i}
		node.AncestorsMined = cand.AncestorsMined
		node.Score = cand.Score + 1
		found = true
		break
	}
	if !found {
		node.Orphan = true
		return node, false, false
	}

	best := node
	bestIndex := idx
	if childBest, childIdx := bc.unorphanDescendants(node, idx, block.Height+1, selector); childBest != nil {
		if selector(best, childBest) == childBest {
			best = childBest
			bestIndex = childIdx
		}
	}

	mainMoved = bc.maybeSwitchChains(best, bestIndex, me, txState, stats, selector)
	return node, mainMoved, true
}

// unorphanDescendants links every orphan at childHeight whose parent-miner-id
// matches parent.Miner, recursing into deeper heights, and returns the
// best-scoring descendant tip reachable from parent (spec.md §4.1).
func (bc *Blockchain) unorphanDescendants(parent *ChainNode, parentIndex int, childHeight rbtypes.Height, selector Selector) (best *ChainNode, bestIndex int) {
	if childHeight > bc.MaxHeight {
		return nil, 0
	}
	level := bc.level(childHeight)
	for i := range level.Nodes {
		orphanNode := &level.Nodes[i]
		if !orphanNode.Orphan || orphanNode.Parent.MinerID != parent.Miner {
			continue
		}
		orphanNode.Orphan = false
		orphanNode.Parent = Parent{Linked: true, Index: parentIndex}
		orphanNode.AncestorsMined = parent.AncestorsMined
		orphanNode.Score = parent.Score + 1

		if best == nil {
			best, bestIndex = orphanNode, i
		} else if selector(best, orphanNode) == orphanNode {
			best, bestIndex = orphanNode, i
		}

		if childBest, childIdx := bc.unorphanDescendants(orphanNode, i, childHeight+1, selector); childBest != nil {
			if selector(best, childBest) == childBest {
				best, bestIndex = childBest, childIdx
			}
		}
	}
	return best, bestIndex
}

// applyNode marks node's transactions as included, advances the main chain
// height to node's height, and notifies stats.
func (bc *Blockchain) applyNode(node *ChainNode, me rbtypes.NodeID, txState *txledger.State, stats StatsObserver) {
	if txState != nil {
		txState.ApplyBlockTransactions(node.TxnData)
	}
	bc.Height = node.Height
	if stats != nil {
		stats.AddBlock(node.Miner, me)
	}
}

// revertNode is the exact inverse of applyNode.
func (bc *Blockchain) revertNode(node *ChainNode, me rbtypes.NodeID, txState *txledger.State, stats StatsObserver) {
	if txState != nil {
		txState.RevertBlockTransactions(node.TxnData)
	}
	bc.Height = node.Height - 1
	bc.MainChainIndex = node.Parent.Index
	if stats != nil {
		stats.RemoveBlock(node.Miner, me)
	}
}

// maybeSwitchChains switches the main chain to newTip iff it beats the
// current head under selector.
func (bc *Blockchain) maybeSwitchChains(newTip *ChainNode, newIndex int, me rbtypes.NodeID, txState *txledger.State, stats StatsObserver, selector Selector) bool {
	if selector(bc.MainChainHead(), newTip) != newTip {
		return false
	}
	bc.switchChains(newTip, newIndex, me, txState, stats)
	return true
}

// switchChains performs the reorg: walk back from newTip to the common
// ancestor with the current head, reverting main-chain nodes and buffering
// new-chain nodes along the way, then apply the buffer in height order.
// All-or-nothing: no intermediate state is exposed to callers.
func (bc *Blockchain) switchChains(newTip *ChainNode, newIndex int, me rbtypes.NodeID, txState *txledger.State, stats StatsObserver) {
	var toApply []*ChainNode

	walker := newTip
	for walker.Height > bc.Height {
		toApply = append(toApply, walker)
		walker = bc.nodeAt(walker.Height-1, walker.Parent.Index)
	}

	mainNode := bc.MainChainHead()
	for mainNode.Height > newTip.Height {
		bc.revertNode(mainNode, me, txState, stats)
		mainNode = bc.nodeAt(mainNode.Height-1, mainNode.Parent.Index)
	}

	for mainNode != walker {
		bc.revertNode(mainNode, me, txState, stats)
		mainNode = bc.nodeAt(mainNode.Height-1, mainNode.Parent.Index)

		toApply = append(toApply, walker)
		walker = bc.nodeAt(walker.Height-1, walker.Parent.Index)
	}

	for i := len(toApply) - 1; i >= 0; i-- {
		bc.applyNode(toApply[i], me, txState, stats)
	}
	bc.MainChainIndex = newIndex
}

// BlockFromNode creates a self-contained Block value from a stored
// ChainNode, for REQUEST_BLOCK replies and selfish-mining ancestor bursts.
// The caller owns the returned Block.
func (bc *Blockchain) BlockFromNode(node *ChainNode) *Block {
	var prevMiner rbtypes.NodeID
	if node.Parent.Linked {
		prevMiner = bc.nodeAt(node.Height-1, node.Parent.Index).Miner
	} else {
		prevMiner = node.Parent.MinerID
	}
	return &Block{
		Timestamp:      node.Timestamp,
		Size:           10,
		Miner:          node.Miner,
		PrevBlockMiner: prevMiner,
		Height:         node.Height,
		TxnData:        node.TxnData.Clone(),
	}
}

// RetrieveBlock looks up (miner, height) and returns its Block form.
func (bc *Blockchain) RetrieveBlock(miner rbtypes.NodeID, height rbtypes.Height) (*Block, bool) {
	node, _, ok := bc.FindNode(miner, height)
	if !ok {
		return nil, false
	}
	return bc.BlockFromNode(node), true
}

// GenerateBlock builds a Block extending the current main-chain head,
// optionally carrying a batch of available transactions, inserts it into
// the local fork tree, and returns both the wire Block and the resulting
// ChainNode.
func (bc *Blockchain) GenerateBlock(me rbtypes.NodeID, now rbtypes.SimTime, txState *txledger.State, txns []txledger.Transaction, latency txledger.LatencyFunc, stats StatsObserver, selector Selector) (*Block, *ChainNode) {
	head := bc.MainChainHead()

	var data *txledger.Data
	if txState != nil {
		if d, ok := txState.GenerateTransactionData(now, me, txns, latency); ok {
			data = d
		}
	}

	block := &Block{
		Timestamp:      now,
		Size:           10,
		Miner:          me,
		Sender:         me,
		PrevBlockMiner: head.Miner,
		Height:         head.Height + 1,
		TxnData:        data,
	}

	node, _, _ := bc.AddBlock(now, block, me, txState, stats, selector)
	node.AncestorsMined++
	return block, node
}

// ReceiveBlock is the Blockchain half of spec.md §4.5's RECEIVE_BLOCK
// handler: insert the block and report whether the main chain moved and
// whether the parent was found (i.e. the block is not an orphan).
func (bc *Blockchain) ReceiveBlock(now rbtypes.SimTime, block *Block, me rbtypes.NodeID, txState *txledger.State, stats StatsObserver, selector Selector) (mainMoved, foundParent bool) {
	_, mainMoved, foundParent = bc.AddBlock(now, block, me, txState, stats, selector)
	return mainMoved, foundParent
}

// ValidateBlock always succeeds after a fixed delay: block validation is
// not modeled cryptographically (spec.md §1 Non-goals).
func ValidateBlock(_ *Block) (delay rbtypes.SimTime, valid bool) {
	return BlockValidationTime, true
}
