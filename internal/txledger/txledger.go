// Package txledger implements the global transaction stream and each node's
// per-node "available" bitmap over it. Grounded on
// original_source/RBlockSim/src/Transaction.c: transactions are produced
// once at startup, shared read-only, and indexed by integer id in [0, T).
//
// Block "execution" reduces to set-membership bookkeeping (spec.md §1
// Non-goals): there is no real transaction semantics here, only inclusion
// tracking that must apply and revert as exact inverses (spec.md invariant 4).
package txledger

import (
	"github.com/rblocksim/rblocksim/internal/bitset"
	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/simrand"
)

// Transaction is an immutable record in the global transaction stream.
type Transaction struct {
	Timestamp rbtypes.SimTime
	Size      int
	Fee       float64
	ID        rbtypes.TxnID
	Sender    rbtypes.NodeID
}

// LatencyFunc computes the one-hop network latency between two nodes; it is
// supplied by the caller (internal/network) to avoid a dependency cycle.
type LatencyFunc func(sender, receiver rbtypes.NodeID) rbtypes.SimTime

// Generate produces the full, time-ordered transaction stream. Transactions
// are spread evenly across [0, terminationTime), senders are drawn uniformly
// from the node population — grounded on generateTransactions in
// Transaction.c.
func Generate(rng *simrand.Source, count int, terminationTime rbtypes.SimTime, lps int) []Transaction {
	txns := make([]Transaction, count)
	if count == 0 {
		return txns
	}
	increment := float64(terminationTime) / float64(count)
	for i := range txns {
		txns[i] = Transaction{
			Timestamp: rbtypes.SimTime(float64(i) * increment),
			Sender:    rbtypes.NodeID(rng.Uint64N(uint64(lps))),
			Size:      i,
			ID:        rbtypes.TxnID(i),
			Fee:       float64(i),
		}
	}
	return txns
}

// Data is the inline transaction payload carried by a Block and a ChainNode:
// an inclusive-low, exclusive-high range over transaction ids, plus a bitmap
// over that range marking which ids are included.
type Data struct {
	Low, High rbtypes.TxnID
	Included  *bitset.Set
}

// Clone returns a deep copy of d, since Block and ChainNode each own their
// own Data buffer (spec.md §3 Ownership).
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	cp := &Data{Low: d.Low, High: d.High}
	if d.Included != nil {
		cp.Included = bitset.New(d.Included.Len())
		for i := 0; i < d.Included.Len(); i++ {
			if d.Included.Check(i) {
				cp.Included.Set(i)
			}
		}
	}
	return cp
}

// State is the per-node sliding-window view over the transaction stream:
// Low is the smallest id not yet included in the node's main chain, High is
// one past the greatest id the node has ever observed.
type State struct {
	Bitmap *bitset.Set
	Low    rbtypes.TxnID
	High   rbtypes.TxnID
}

// NewState allocates a transaction state with room for count transaction ids.
func NewState(count int) *State {
	return &State{Bitmap: bitset.New(count)}
}

// DeliverNewTransactions advances High to one past the greatest id whose
// generation timestamp is <= now, and advances Low past any ids already
// included.
// Grounded on deliverNewTransactions in Transaction.c.
func (s *State) DeliverNewTransactions(now rbtypes.SimTime, txns []Transaction) {
	for int(s.Low) < len(txns) && s.Bitmap.Check(int(s.Low)) {
		s.Low++
	}

	i := int(s.High)
	if i < 0 {
		i = 0
	}
	for i < len(txns) {
		if txns[i].Timestamp > now {
			break
		}
		i++
	}
	s.High = rbtypes.TxnID(i)
}

// GenerateTransactionData builds the TransactionData for a freshly generated
// block: the range [Low, bestHigh) over ids the node has not yet included
// and either owns (sender == me) or has already seen delivered
// (deliveryTime < now). Returns (nil, false) if nothing is available.
//
// Grounded verbatim on generateTransactionData in Transaction.c, including
// the off-by-one noted in spec.md §9: High is set to the last included id
// inside the loop, then bumped by one afterward iff it moved off Low. When
// the only included id is Low itself, High stays equal to Low and the
// returned range is empty even though that id's bit is set.
func (s *State) GenerateTransactionData(now rbtypes.SimTime, me rbtypes.NodeID, txns []Transaction, latency LatencyFunc) (*Data, bool) {
	s.DeliverNewTransactions(now, txns)
	if s.High <= s.Low {
		return nil, false
	}

	data := &Data{Low: s.Low, High: s.Low}
	bm := bitset.New(int(s.High - s.Low))
	for i, j := int(s.Low), 0; i < int(s.High); i, j = i+1, j+1 {
		if s.Bitmap.Check(i) {
			continue
		}
		txn := txns[i]
		deliveredBy := txn.Timestamp + rbtypes.SimTime(latency(txn.Sender, me))
		if txn.Sender == me || deliveredBy < now {
			data.High = rbtypes.TxnID(i)
			bm.Set(j)
		}
	}
	if data.High != data.Low {
		data.High++ // High is now one past the last included id.
	}
	data.Included = bm
	return data, true
}

// ApplyBlockTransactions marks every included id as executed and advances
// High to at least data.High. Inverse of RevertBlockTransactions.
func (s *State) ApplyBlockTransactions(data *Data) {
	if data == nil {
		return
	}
	for i := int(data.Low); i < int(data.High); i++ {
		if data.Included.Check(i - int(data.Low)) {
			s.Bitmap.Set(i)
		}
	}
	if s.High < data.High {
		s.High = data.High
	}
}

// RevertBlockTransactions unmarks every included id and retreats Low to at
// most data.Low. Exact inverse of ApplyBlockTransactions applied on top of
// the same state (spec.md invariant 4).
func (s *State) RevertBlockTransactions(data *Data) {
	if data == nil {
		return
	}
	for i := int(data.Low); i < int(data.High); i++ {
		if data.Included.Check(i - int(data.Low)) {
			s.Bitmap.Clear(i)
		}
	}
	if s.Low > data.Low {
		s.Low = data.Low
	}
}
