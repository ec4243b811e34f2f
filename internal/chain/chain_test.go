package chain

import (
	"testing"

	"github.com/rblocksim/rblocksim/internal/bitset"
	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/txledger"
)

const me = rbtypes.NodeID(0)

func newBlock(miner, prevMiner rbtypes.NodeID, height rbtypes.Height, ts rbtypes.SimTime) *Block {
	return &Block{
		Timestamp:      ts,
		Miner:          miner,
		PrevBlockMiner: prevMiner,
		Height:         height,
		TxnData:        &txledger.Data{},
	}
}

func TestGenesisIsSentinelAtHeightZero(t *testing.T) {
	bc := New()
	head := bc.MainChainHead()
	if head.Miner != rbtypes.SentinelNode {
		t.Fatalf("genesis miner = %d, want sentinel", head.Miner)
	}
	if head.Height != 0 {
		t.Fatalf("genesis height = %d, want 0", head.Height)
	}
}

func TestAddBlockExtendsMainChain(t *testing.T) {
	bc := New()
	b := newBlock(1, rbtypes.SentinelNode, 1, 10)
	_, mainMoved, foundParent := bc.AddBlock(10, b, me, nil, nil, HonestSelector())
	if !foundParent {
		t.Fatalf("expected parent to be found (genesis)")
	}
	if !mainMoved {
		t.Fatalf("expected main chain to advance to height 1")
	}
	if bc.Height != 1 {
		t.Fatalf("Height = %d, want 1", bc.Height)
	}
	if bc.MainChainHead().Miner != 1 {
		t.Fatalf("main chain head miner = %d, want 1", bc.MainChainHead().Miner)
	}
}

func TestOrphanThenUnorphanOnParentArrival(t *testing.T) {
	bc := New()
	selector := HonestSelector()

	// Block at height 2 arrives before its height-1 parent: orphaned.
	child := newBlock(2, 1, 2, 20)
	_, mainMoved, foundParent := bc.AddBlock(20, child, me, nil, nil, selector)
	if foundParent {
		t.Fatalf("child block should be orphaned: its parent (miner 1, height 1) is unknown")
	}
	if mainMoved {
		t.Fatalf("an orphan must never move the main chain")
	}
	if bc.Height != 0 {
		t.Fatalf("Height advanced despite orphaned child, got %d", bc.Height)
	}

	// Now the parent arrives: the orphan should link and the chain advance
	// all the way to height 2 in one step.
	parent := newBlock(1, rbtypes.SentinelNode, 1, 10)
	_, mainMoved, foundParent = bc.AddBlock(21, parent, me, nil, nil, selector)
	if !foundParent {
		t.Fatalf("parent block should find genesis as its own parent")
	}
	if !mainMoved {
		t.Fatalf("arrival of the parent should unorphan the child and move the main chain")
	}
	if bc.Height != 2 {
		t.Fatalf("Height = %d, want 2 after un-orphaning", bc.Height)
	}
	if bc.MainChainHead().Miner != 2 {
		t.Fatalf("expected chain to settle on the unorphaned child, got miner %d", bc.MainChainHead().Miner)
	}
}

func TestReorgSwitchesToHigherScoringFork(t *testing.T) {
	bc := New()
	selector := HonestSelector()

	a1 := newBlock(1, rbtypes.SentinelNode, 1, 10)
	bc.AddBlock(10, a1, me, nil, nil, selector)

	// A competing fork at height 1, arriving later and from a higher miner
	// id, should NOT displace the first block at equal score/timestamp
	// ordering unless it actually scores higher down the line.
	b2 := newBlock(2, rbtypes.SentinelNode, 1, 10)
	bc.AddBlock(10, b2, me, nil, nil, selector)

	// Extend the second fork to height 2: it now strictly outscores the
	// first fork and must become the main chain.
	b3 := newBlock(2, 2, 2, 11)
	_, mainMoved, _ := bc.AddBlock(11, b3, me, nil, nil, selector)
	if !mainMoved {
		t.Fatalf("longer fork should trigger a reorg")
	}
	if bc.Height != 2 || bc.MainChainHead().Miner != 2 {
		t.Fatalf("expected reorg onto miner 2's fork at height 2, got height=%d miner=%d", bc.Height, bc.MainChainHead().Miner)
	}
}

func TestReorgAppliesAndRevertsTransactionsExactly(t *testing.T) {
	bc := New()
	selector := HonestSelector()
	txState := txledger.NewState(10)

	included := bitset.New(1)
	included.Set(0)
	data1 := &txledger.Data{Low: 0, High: 1, Included: included}
	a1 := newBlock(1, rbtypes.SentinelNode, 1, 10)
	a1.TxnData = data1
	bc.AddBlock(10, a1, me, txState, nil, selector)

	if txState.High < 1 {
		t.Fatalf("applying a1 should advance txState.High to at least 1, got %d", txState.High)
	}
	if !txState.Bitmap.Check(0) {
		t.Fatalf("applying a1 should mark transaction 0 included")
	}

	// Competing, ultimately better fork forces a1 to be reverted.
	b2 := newBlock(2, rbtypes.SentinelNode, 1, 9)
	bc.AddBlock(9, b2, me, txState, nil, selector)
	b3 := newBlock(2, 2, 2, 10)
	_, mainMoved, _ := bc.AddBlock(10, b3, me, txState, nil, selector)
	if !mainMoved {
		t.Fatalf("expected the taller fork to win")
	}
	if bc.MainChainHead().Miner != 2 {
		t.Fatalf("expected fork at miner 2 to be main chain after reorg")
	}
	if txState.Bitmap.Check(0) {
		t.Fatalf("reverting a1 should unmark transaction 0")
	}
}

func TestAncestorsMinedAccumulatesAlongChain(t *testing.T) {
	bc := New()
	selector := HonestSelector()

	b1 := newBlock(1, rbtypes.SentinelNode, 1, 10)
	node1, _, _ := bc.AddBlock(10, b1, me, nil, nil, selector)
	if node1.AncestorsMined != 0 {
		t.Fatalf("first block's AncestorsMined = %d, want 0 (only GenerateBlock increments this for the miner)", node1.AncestorsMined)
	}

	b2 := newBlock(1, 1, 2, 11)
	node2, _, _ := bc.AddBlock(11, b2, me, nil, nil, selector)
	if node2.Score != node1.Score+1 {
		t.Fatalf("child score = %d, want parent score + 1 = %d", node2.Score, node1.Score+1)
	}

	// Two locally generated blocks on top: each inherits the parent's count
	// and adds one for itself.
	_, node3 := bc.GenerateBlock(me, 12, nil, nil, nil, nil, selector)
	_, node4 := bc.GenerateBlock(me, 13, nil, nil, nil, nil, selector)
	if node3.AncestorsMined != 1 || node4.AncestorsMined != 2 {
		t.Fatalf("AncestorsMined = %d, %d along generated blocks, want 1, 2", node3.AncestorsMined, node4.AncestorsMined)
	}
}

func TestAttackerSelectorPrefersAttackerAncestryWithinTolerance(t *testing.T) {
	// Build two sibling nodes with equal height where one has more
	// ancestors-mined-by-attacker but trails slightly in score: the
	// attacker selector should still prefer it within tolerance.
	a := &ChainNode{Score: 5, AncestorsMined: 3, Timestamp: 1, Miner: 1}
	b := &ChainNode{Score: 6, AncestorsMined: 1, Timestamp: 1, Miner: 2}

	sel := AttackerSelector(2) // tolerance = 2
	if got := sel(a, b); got != a {
		t.Fatalf("expected attacker selector to prefer higher-ancestor node within tolerance")
	}

	sel2 := AttackerSelector(0) // zero tolerance: falls back to raw score
	if got := sel2(a, b); got != b {
		t.Fatalf("expected zero-tolerance attacker selector to fall back to the higher-score node")
	}
}

func TestRetrieveBlockRoundTrip(t *testing.T) {
	bc := New()
	selector := HonestSelector()
	b1 := newBlock(1, rbtypes.SentinelNode, 1, 10)
	bc.AddBlock(10, b1, me, nil, nil, selector)

	got, ok := bc.RetrieveBlock(1, 1)
	if !ok {
		t.Fatalf("expected to retrieve the block just added")
	}
	if got.Miner != 1 || got.Height != 1 {
		t.Fatalf("retrieved block mismatch: %+v", got)
	}
	if got.PrevBlockMiner != rbtypes.SentinelNode {
		t.Fatalf("PrevBlockMiner = %d, want sentinel", got.PrevBlockMiner)
	}
}

func TestOutOfWindowHeightPanics(t *testing.T) {
	bc := New()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic accessing a height below the sliding window")
		}
	}()
	bc.MinHeight = 5
	bc.level(1)
}

func TestValidateBlockAlwaysSucceeds(t *testing.T) {
	delay, valid := ValidateBlock(&Block{})
	if !valid {
		t.Fatalf("ValidateBlock should always succeed")
	}
	if delay != BlockValidationTime {
		t.Fatalf("delay = %v, want %v", delay, BlockValidationTime)
	}
}
