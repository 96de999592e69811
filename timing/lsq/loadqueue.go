package lsq

import (
	"fmt"

	"github.com/sarchlab/memsubsys/mem"
)

// LoadState is the lifecycle state of a load-queue entry.
type LoadState int

const (
	// LoadFree marks an unallocated slot.
	LoadFree LoadState = iota
	// LoadIssued marks an entry allocated but not yet sent to memory.
	LoadIssued
	// LoadWaiting marks an entry with a memory request in flight.
	LoadWaiting
	// LoadReady marks a completed entry awaiting retirement.
	LoadReady
)

type loadEntry struct {
	addr  uint64
	kind  mem.AccessKind
	dest  int
	seq   uint64
	state LoadState
	data  uint32
	fault bool
	gen   uint32
}

// LoadHandle identifies an allocated load-queue entry. The generation
// field guards against completions addressed to a slot that was flushed
// and reallocated.
type LoadHandle struct {
	slot int
	gen  uint32
}

// Slot returns the entry's slot index.
func (h LoadHandle) Slot() int {
	return h.slot
}

// Gen returns the entry's allocation generation.
func (h LoadHandle) Gen() uint32 {
	return h.gen
}

// HandleAt reconstructs a handle from a slot index and generation, for
// callers that carried the two fields through an opaque token.
func HandleAt(slot int, gen uint32) LoadHandle {
	return LoadHandle{slot: slot, gen: gen}
}

// Retirement is the result delivered to the consumer when a load retires.
type Retirement struct {
	// Dest is the destination identifier given at submission.
	Dest int
	// Data is the width-adjusted, extension-applied load result.
	Data uint32
	// Fault is set when the backing store faulted on the access.
	Fault bool
}

// LoadQueue is a ring buffer of outstanding loads. Entries allocate in
// program order at the tail, complete out of order as memory responds,
// and retire strictly in order from the head. An incomplete head stalls
// retirement, never allocation.
type LoadQueue struct {
	entries []loadEntry
	head    int
	tail    int
	count   int
}

// NewLoadQueue creates a queue with the given depth, which must be a
// power of two. Depth 1 degenerates to a single-entry queue where head
// and tail always coincide.
func NewLoadQueue(depth int) *LoadQueue {
	if !mem.IsPowerOfTwo(depth) {
		panic("lsq: load queue depth must be a power of two")
	}

	return &LoadQueue{entries: make([]loadEntry, depth)}
}

func (q *LoadQueue) mask() int {
	return len(q.entries) - 1
}

func (q *LoadQueue) at(h LoadHandle) *loadEntry {
	return &q.entries[h.slot]
}

// Enqueue allocates the tail slot for a load. The sequence number orders
// the load against store-queue entries for the port-issue age check. It
// fails closed with ErrQueueFull when no slot is free.
func (q *LoadQueue) Enqueue(
	addr uint64,
	kind mem.AccessKind,
	dest int,
	seq uint64,
) (LoadHandle, error) {
	if q.Full() {
		return LoadHandle{}, ErrQueueFull
	}

	slot := q.tail
	e := &q.entries[slot]
	e.addr = addr
	e.kind = kind
	e.dest = dest
	e.seq = seq
	e.state = LoadIssued
	e.data = 0
	e.fault = false

	q.tail = (q.tail + 1) & q.mask()
	q.count++

	return LoadHandle{slot: slot, gen: e.gen}, nil
}

// MarkForwarded completes an entry directly from the store-queue
// forwarding path with an already-extended value. The entry never touches
// the memory port.
func (q *LoadQueue) MarkForwarded(h LoadHandle, value uint32) {
	e := q.at(h)
	if e.gen != h.gen || e.state != LoadIssued {
		panic(fmt.Sprintf("lsq: forward to slot %d in state %d", h.slot, e.state))
	}
	e.data = value
	e.state = LoadReady
}

// NextIssue returns the oldest entry still waiting to be sent to memory,
// if any.
func (q *LoadQueue) NextIssue() (LoadHandle, uint64, bool) {
	for i := 0; i < q.count; i++ {
		slot := (q.head + i) & q.mask()
		e := &q.entries[slot]
		if e.state == LoadIssued {
			return LoadHandle{slot: slot, gen: e.gen}, e.addr, true
		}
	}
	return LoadHandle{}, 0, false
}

// HasIssuedBefore reports whether any entry older than seq is still
// waiting to be sent to memory. A store may not drain to the cache ahead
// of an older load's issue, or the load would read the younger store's
// data.
func (q *LoadQueue) HasIssuedBefore(seq uint64) bool {
	for i := 0; i < q.count; i++ {
		e := &q.entries[(q.head+i)&q.mask()]
		if e.state == LoadIssued && e.seq < seq {
			return true
		}
	}
	return false
}

// MarkWaiting records that the entry's request was accepted by the cache
// and a response is now in flight.
func (q *LoadQueue) MarkWaiting(h LoadHandle) {
	e := q.at(h)
	if e.gen != h.gen || e.state != LoadIssued {
		panic(fmt.Sprintf("lsq: issue of slot %d in state %d", h.slot, e.state))
	}
	e.state = LoadWaiting
}

// Complete delivers the memory word containing the entry's address and
// applies the access width and extension. It returns false when the
// handle is stale (the entry was flushed), in which case the completion
// is dropped. Completing an already-ready entry is unrecoverable.
func (q *LoadQueue) Complete(h LoadHandle, word uint32) bool {
	e := q.at(h)
	if e.gen != h.gen || e.state == LoadFree {
		return false
	}
	if e.state == LoadReady {
		panic(fmt.Sprintf("lsq: slot %d completed twice", h.slot))
	}

	e.data = mem.Extend(e.kind, e.addr, word)
	e.state = LoadReady
	return true
}

// CompleteFault completes an entry with the fault flag instead of data.
// Stale handles are dropped as in Complete.
func (q *LoadQueue) CompleteFault(h LoadHandle) bool {
	e := q.at(h)
	if e.gen != h.gen || e.state == LoadFree {
		return false
	}
	if e.state == LoadReady {
		panic(fmt.Sprintf("lsq: slot %d completed twice", h.slot))
	}

	e.fault = true
	e.state = LoadReady
	return true
}

// Retire pops the head entry if it is ready. It returns false while the
// head is still outstanding, regardless of younger completed entries.
func (q *LoadQueue) Retire() (Retirement, bool) {
	if q.count == 0 {
		return Retirement{}, false
	}

	e := &q.entries[q.head]
	if e.state != LoadReady {
		return Retirement{}, false
	}

	result := Retirement{Dest: e.dest, Data: e.data, Fault: e.fault}
	e.state = LoadFree
	e.gen++
	q.head = (q.head + 1) & q.mask()
	q.count--

	return result, true
}

// Flush invalidates every entry. Generation counters advance so that
// responses still in flight for flushed slots are dropped on delivery.
func (q *LoadQueue) Flush() {
	for i := range q.entries {
		q.entries[i].state = LoadFree
		q.entries[i].gen++
	}
	q.head = 0
	q.tail = 0
	q.count = 0
}

// Reset is Flush plus generation reset; used only at construction-time
// style resets where no responses can be in flight.
func (q *LoadQueue) Reset() {
	for i := range q.entries {
		q.entries[i] = loadEntry{}
	}
	q.head = 0
	q.tail = 0
	q.count = 0
}

// Full reports whether no slot is free.
func (q *LoadQueue) Full() bool {
	return q.count == len(q.entries)
}

// Empty reports whether no entry is allocated.
func (q *LoadQueue) Empty() bool {
	return q.count == 0
}

// Occupancy returns the number of allocated entries.
func (q *LoadQueue) Occupancy() int {
	return q.count
}

// Depth returns the queue capacity.
func (q *LoadQueue) Depth() int {
	return len(q.entries)
}

// StateOf returns the lifecycle state of a slot, for tests.
func (q *LoadQueue) StateOf(slot int) LoadState {
	return q.entries[slot].state
}
