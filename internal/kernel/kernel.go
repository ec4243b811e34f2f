// Package kernel implements a minimal serial discrete-event engine: a
// single priority queue of timestamped per-LP events, processed in
// nondecreasing timestamp order, with LP_INIT/LP_FINI bracketing and a
// retractable-event slot per LP.
//
// Grounded on two sources: the event-list priority queue itself is the
// teacher's own container/heap-based eventlist from minesim.go (Len/Less/
// Swap/Push/Pop); the LP_INIT/LP_FINI lifecycle and the notion of a single
// "commit horizon" draining loop come from
// original_source/ROOT-Sim_core/src/serial/serial.c's
// serial_simulation_init/serial_simulation_run/serial_simulation_fini. This
// is deliberately a serial engine, not the original's parallel,
// rollback-capable one — see SPEC_FULL.md §4.8 for why that reduction is in
// scope.
package kernel

import (
	"container/heap"

	"github.com/rblocksim/rblocksim/internal/rbtypes"
)

// EventType distinguishes the handful of event kinds a dispatcher may see.
type EventType int

const (
	// LPInit is delivered once to every LP before any other event, in LP id
	// order.
	LPInit EventType = iota
	// LPFini is delivered once to every LP after the last event at or before
	// the termination time has been processed.
	LPFini
	// Retractable marks an event scheduled via ScheduleRetractable: at most
	// one such event may be outstanding per LP, and a later call supersedes
	// an earlier, not-yet-delivered one.
	Retractable
	// Normal is any other, non-retractable scheduled event.
	Normal
)

// Event is one entry in the kernel's priority queue.
type Event struct {
	To      rbtypes.NodeID
	At      rbtypes.SimTime
	Kind    EventType
	Tag     int // caller-defined sub-type, opaque to the kernel
	Payload interface{}

	// generation pins a retractable event to the slot generation it was
	// scheduled under; if the LP's retractable generation counter has moved
	// on by the time this event is popped, it is stale and silently
	// dropped.
	generation uint64

	// seq is assigned in push order and breaks timestamp ties, giving the
	// queue a total (At, seq) order matching msg_is_before's tie-break in
	// the original's serial engine.
	seq uint64
}

// eventHeap is the container/heap implementation, in the idiom of the
// teacher's eventlist.
type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].At != h[j].At {
		return h[i].At < h[j].At
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Dispatcher processes one event for LP `me`. It receives the Kernel itself
// so it can call Schedule/ScheduleRetractable while handling the event,
// without needing to close over a Kernel that doesn't exist yet at
// construction time.
type Dispatcher func(k *Kernel, me rbtypes.NodeID, now rbtypes.SimTime, evt Event)

// Kernel is the serial event-loop core.
type Kernel struct {
	queue          eventHeap
	retractableGen []uint64
	nextSeq        uint64
	dispatch       Dispatcher
	lps            int
}

// New allocates a Kernel for lps logical processes.
func New(lps int, dispatch Dispatcher) *Kernel {
	return &Kernel{
		queue:          make(eventHeap, 0, lps*4),
		retractableGen: make([]uint64, lps),
		dispatch:       dispatch,
		lps:            lps,
	}
}

// Schedule enqueues a normal (non-retractable) event.
func (k *Kernel) Schedule(to rbtypes.NodeID, at rbtypes.SimTime, tag int, payload interface{}) {
	k.nextSeq++
	heap.Push(&k.queue, Event{To: to, At: at, Kind: Normal, Tag: tag, Payload: payload, seq: k.nextSeq})
}

// ScheduleRetractable enqueues a retractable event for `to`, superseding any
// previously scheduled but not-yet-delivered retractable event for that LP.
// This is how GENERATE_BLOCK's "next block solve time" is (re)armed: a node
// always has at most one pending mining event (Block.c's
// scheduleNextBlockGeneration / ROOT-Sim's LP_RETRACTABLE mechanism).
func (k *Kernel) ScheduleRetractable(to rbtypes.NodeID, at rbtypes.SimTime, tag int, payload interface{}) {
	k.retractableGen[to]++
	k.nextSeq++
	heap.Push(&k.queue, Event{
		To: to, At: at, Kind: Retractable, Tag: tag, Payload: payload,
		generation: k.retractableGen[to],
		seq:        k.nextSeq,
	})
}

// Run drains the queue, delivering LP_INIT to every LP first (in id order),
// then every scheduled event up to and including terminationTime in
// nondecreasing timestamp order, then LP_FINI to every LP.
//
// Grounded on serial_simulation_init/fini in serial.c: LP_INIT messages are
// injected directly rather than drawn from the queue, and LP_FINI is
// delivered synchronously at the end rather than via the queue, since
// nothing may be scheduled after termination.
func (k *Kernel) Run(terminationTime rbtypes.SimTime) {
	for lp := 0; lp < k.lps; lp++ {
		k.dispatch(k, rbtypes.NodeID(lp), 0, Event{To: rbtypes.NodeID(lp), Kind: LPInit})
	}

	for k.queue.Len() > 0 {
		evt := heap.Pop(&k.queue).(Event)
		if evt.At > terminationTime {
			break
		}
		if evt.Kind == Retractable && evt.generation != k.retractableGen[evt.To] {
			continue // superseded by a later reschedule; drop silently
		}
		k.dispatch(k, evt.To, evt.At, evt)
	}

	for lp := 0; lp < k.lps; lp++ {
		k.dispatch(k, rbtypes.NodeID(lp), terminationTime, Event{To: rbtypes.NodeID(lp), Kind: LPFini})
	}
}
