package lsq

import (
	"fmt"

	"github.com/sarchlab/memsubsys/mem"
)

// StoreState is the lifecycle state of a store-queue entry.
type StoreState int

const (
	// StoreFree marks an unallocated slot.
	StoreFree StoreState = iota
	// StorePending marks a store waiting for the memory port.
	StorePending
	// StoreCommitting marks the head store whose write is in flight.
	StoreCommitting
)

type storeEntry struct {
	wordAddr uint64
	data     uint32
	byteEn   uint8
	seq      uint64
	state    StoreState
}

// StoreRequest is a drained store handed to the data cache for commit.
type StoreRequest struct {
	// Addr is the word-aligned address of the write.
	Addr uint64
	// Data is the lane-positioned word to write.
	Data uint32
	// ByteEn selects the bytes of Data that land in memory.
	ByteEn uint8
}

// StoreQueue is a ring buffer of not-yet-committed stores. Entries
// allocate and retire in program order; a parallel associative lookup
// over all live entries forwards data to younger loads before the store
// reaches memory.
//
// Store data is normalised at enqueue: the value is shifted into its byte
// lanes and paired with the byte-enable mask, so lookup and commit both
// operate on lane-positioned words.
type StoreQueue struct {
	entries []storeEntry
	head    int
	tail    int
	count   int
}

// NewStoreQueue creates a queue with the given depth, which must be a
// power of two.
func NewStoreQueue(depth int) *StoreQueue {
	if !mem.IsPowerOfTwo(depth) {
		panic("lsq: store queue depth must be a power of two")
	}

	return &StoreQueue{entries: make([]storeEntry, depth)}
}

func (q *StoreQueue) mask() int {
	return len(q.entries) - 1
}

// Enqueue allocates the tail slot for a store of the given kind. The
// value's low bytes are positioned into their lanes and the byte-enable
// mask derived from the kind and address. The sequence number orders the
// store against load-queue entries. Fails closed with ErrQueueFull.
func (q *StoreQueue) Enqueue(
	addr uint64,
	value uint32,
	kind mem.AccessKind,
	seq uint64,
) (int, error) {
	if kind.IsLoad() {
		panic(fmt.Sprintf("lsq: store enqueue with load kind %v", kind))
	}
	if q.Full() {
		return 0, ErrQueueFull
	}

	slot := q.tail
	q.entries[slot] = storeEntry{
		wordAddr: mem.WordAddr(addr),
		data:     mem.LaneValue(kind, addr, value),
		byteEn:   mem.ByteMask(kind, addr),
		seq:      seq,
		state:    StorePending,
	}

	q.tail = (q.tail + 1) & q.mask()
	q.count++

	return slot, nil
}

// Lookup scans live entries from youngest to oldest for one that fully
// covers the load's bytes. A full-coverage match returns the forwarded,
// extension-applied value. An entry that overlaps only part of the needed
// bytes makes the lookup a miss: the load must fall through to the cache
// rather than stitch data from multiple sources. An entry on the same
// word with no overlapping bytes does not shadow older stores and the
// scan continues past it.
func (q *StoreQueue) Lookup(addr uint64, kind mem.AccessKind) (uint32, bool) {
	wordAddr := mem.WordAddr(addr)
	need := mem.ByteMask(kind, addr)

	for i := q.count - 1; i >= 0; i-- {
		e := &q.entries[(q.head+i)&q.mask()]
		if e.state == StoreFree || e.wordAddr != wordAddr {
			continue
		}
		overlap := e.byteEn & need
		if overlap == 0 {
			continue
		}
		if overlap != need {
			return 0, false
		}
		return mem.Extend(loadKindFor(kind), addr, e.data), true
	}

	return 0, false
}

// loadKindFor maps the querying load kind through unchanged; it exists so
// Lookup can accept load kinds while Enqueue rejects them.
func loadKindFor(kind mem.AccessKind) mem.AccessKind {
	if !kind.IsLoad() {
		panic(fmt.Sprintf("lsq: store lookup with store kind %v", kind))
	}
	return kind
}

// WantsPort reports whether the head store is ready to drain. A head
// already committing keeps the queue off the port until the cache
// acknowledges the write.
func (q *StoreQueue) WantsPort() bool {
	return q.count > 0 && q.entries[q.head].state == StorePending
}

// HeadSeq returns the sequence number of the head store. Valid only when
// the queue is non-empty.
func (q *StoreQueue) HeadSeq() uint64 {
	if q.count == 0 {
		panic("lsq: head seq of empty queue")
	}
	return q.entries[q.head].seq
}

// RetireHead moves the head store to Committing and returns its write
// request. Callable only when granted the port; the entry stays at the
// head until CommitAck frees it.
func (q *StoreQueue) RetireHead() (StoreRequest, bool) {
	if !q.WantsPort() {
		return StoreRequest{}, false
	}

	e := &q.entries[q.head]
	e.state = StoreCommitting

	return StoreRequest{Addr: e.wordAddr, Data: e.data, ByteEn: e.byteEn}, true
}

// AbortCommit returns a committing head to Pending, used when the cache
// refused the request this cycle and the store must re-arbitrate.
func (q *StoreQueue) AbortCommit() {
	if q.count == 0 || q.entries[q.head].state != StoreCommitting {
		panic("lsq: abort with no committing head")
	}
	q.entries[q.head].state = StorePending
}

// CommitAck frees the committing head once the cache has acknowledged the
// write, preserving store-to-store ordering in the backing store.
func (q *StoreQueue) CommitAck() {
	if q.count == 0 || q.entries[q.head].state != StoreCommitting {
		panic("lsq: ack with no committing head")
	}

	q.entries[q.head].state = StoreFree
	q.head = (q.head + 1) & q.mask()
	q.count--
}

// HeadCommitting reports whether the head store's write is in flight.
func (q *StoreQueue) HeadCommitting() bool {
	return q.count > 0 && q.entries[q.head].state == StoreCommitting
}

// Flush drops every pending store. A head already committing stays until
// its acknowledgement arrives; its write completes.
func (q *StoreQueue) Flush() {
	if q.HeadCommitting() {
		committing := q.entries[q.head]
		for i := range q.entries {
			q.entries[i] = storeEntry{}
		}
		q.entries[q.head] = committing
		q.tail = (q.head + 1) & q.mask()
		q.count = 1
		return
	}

	q.Reset()
}

// Reset clears the queue unconditionally.
func (q *StoreQueue) Reset() {
	for i := range q.entries {
		q.entries[i] = storeEntry{}
	}
	q.head = 0
	q.tail = 0
	q.count = 0
}

// Full reports whether no slot is free.
func (q *StoreQueue) Full() bool {
	return q.count == len(q.entries)
}

// Empty reports whether no entry is allocated.
func (q *StoreQueue) Empty() bool {
	return q.count == 0
}

// Occupancy returns the number of allocated entries.
func (q *StoreQueue) Occupancy() int {
	return q.count
}

// Depth returns the queue capacity.
func (q *StoreQueue) Depth() int {
	return len(q.entries)
}
