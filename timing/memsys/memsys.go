// Package memsys assembles the load queue, store queue, arbiter, and
// non-blocking data cache into the memory-access subsystem presented to
// the issuing pipeline.
//
// Execution advances in discrete steps. One Tick runs the fixed
// single-writer sequence: the backing store advances, the cache drains
// backing responses and replays parked requests, and then the queue
// granted by the arbiter (decided from start-of-step occupancy) drives
// the single cache port. No component observes another's in-step
// mutation out of this order, which stands in for clocked-register
// semantics.
package memsys

import (
	"errors"
	"fmt"

	"github.com/sarchlab/memsubsys/mem"
	"github.com/sarchlab/memsubsys/timing/arbiter"
	"github.com/sarchlab/memsubsys/timing/cache"
	"github.com/sarchlab/memsubsys/timing/lsq"
)

// ErrBackpressure is returned by Submit calls when the respective queue
// is full. The caller must hold the operation and resubmit in a later
// cycle; work is never silently dropped.
var ErrBackpressure = errors.New("memsys: backpressure")

// Config fixes the subsystem geometry at construction.
type Config struct {
	// LoadQueueDepth is the load queue capacity, a power of two.
	LoadQueueDepth int
	// StoreQueueDepth is the store queue capacity, a power of two.
	StoreQueueDepth int
	// Cache is the data cache geometry, including the MSHR table size.
	Cache cache.Config
}

// DefaultConfig returns 8-entry queues over the default cache geometry.
func DefaultConfig() Config {
	return Config{
		LoadQueueDepth:  8,
		StoreQueueDepth: 8,
		Cache:           cache.DefaultConfig(),
	}
}

// Validate checks all sizes used as index widths are powers of two.
func (c Config) Validate() error {
	if !mem.IsPowerOfTwo(c.LoadQueueDepth) {
		return fmt.Errorf(
			"memsys: LoadQueueDepth %d is not a power of two", c.LoadQueueDepth)
	}
	if !mem.IsPowerOfTwo(c.StoreQueueDepth) {
		return fmt.Errorf(
			"memsys: StoreQueueDepth %d is not a power of two",
			c.StoreQueueDepth)
	}
	return c.Cache.Validate()
}

// StoreHandle identifies a submitted store.
type StoreHandle struct {
	slot int
}

// Slot returns the store-queue slot index.
func (h StoreHandle) Slot() int {
	return h.slot
}

// StoreDrain is the result delivered when a store leaves the subsystem.
// Stores drain strictly in submission order, so the consumer matches
// results to submitted stores positionally.
type StoreDrain struct {
	// Fault is set when the store's line fill faulted; the write was
	// dropped.
	Fault bool
}

// Statistics holds subsystem event counts.
type Statistics struct {
	Cycles             uint64
	LoadsSubmitted     uint64
	StoresSubmitted    uint64
	LoadsRetired       uint64
	StoresDrained      uint64
	Forwards           uint64
	LoadFaults         uint64
	StoreFaults        uint64
	LoadGrants         uint64
	StoreGrants        uint64
	DroppedCompletions uint64
}

// System is the memory-access subsystem.
type System struct {
	config  Config
	lq      *lsq.LoadQueue
	sq      *lsq.StoreQueue
	dcache  *cache.Cache
	arb     *arbiter.Arbiter
	backing mem.BackingStore

	drains []StoreDrain

	// nextSeq orders loads and stores across both queues so a store
	// never drains ahead of an older load's issue.
	nextSeq uint64

	stats Statistics
}

// The store token never collides with a load token: only the head store
// can be committing, so a single marker value suffices.
const storeCommitToken = uint64(1) << 63

func loadToken(h lsq.LoadHandle) uint64 {
	return uint64(h.Slot()) | uint64(h.Gen())<<16
}

func loadHandleFromToken(token uint64) lsq.LoadHandle {
	return lsq.HandleAt(int(token&0xFFFF), uint32(token>>16))
}

// New creates a subsystem over the given backing store.
func New(config Config, backing mem.BackingStore) (*System, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &System{
		config:  config,
		lq:      lsq.NewLoadQueue(config.LoadQueueDepth),
		sq:      lsq.NewStoreQueue(config.StoreQueueDepth),
		arb:     arbiter.New(config.StoreQueueDepth),
		backing: backing,
	}
	s.dcache = cache.New(config.Cache, backing, s.onLoadDone, s.onStoreDone)

	return s, nil
}

// Config returns the subsystem geometry.
func (s *System) Config() Config {
	return s.config
}

// Stats returns the subsystem event counters.
func (s *System) Stats() Statistics {
	return s.stats
}

// CacheStats returns the data cache's event counters.
func (s *System) CacheStats() cache.Statistics {
	return s.dcache.Stats()
}

// LoadQueueOccupancy returns the number of outstanding loads.
func (s *System) LoadQueueOccupancy() int {
	return s.lq.Occupancy()
}

// StoreQueueOccupancy returns the number of not-yet-committed stores.
func (s *System) StoreQueueOccupancy() int {
	return s.sq.Occupancy()
}

// SubmitLoad enqueues a decoded load. The store queue is consulted
// first: a store that fully covers the load's bytes forwards its data
// and the load never touches the cache port. Fails with ErrBackpressure
// when the load queue is full; the caller must not resubmit within the
// same step.
func (s *System) SubmitLoad(
	addr uint64,
	kind mem.AccessKind,
	dest int,
) (lsq.LoadHandle, error) {
	if !kind.IsLoad() {
		panic(fmt.Sprintf("memsys: SubmitLoad with store kind %v", kind))
	}

	h, err := s.lq.Enqueue(addr, kind, dest, s.nextSeq)
	if err != nil {
		return lsq.LoadHandle{}, fmt.Errorf("%w: %w", ErrBackpressure, err)
	}
	s.nextSeq++
	s.stats.LoadsSubmitted++

	if value, ok := s.sq.Lookup(addr, kind); ok {
		s.lq.MarkForwarded(h, value)
		s.stats.Forwards++
	}

	return h, nil
}

// SubmitStore enqueues a decoded store. The value's low bytes are
// positioned into their lanes according to the kind and address. Fails
// with ErrBackpressure when the store queue is full.
func (s *System) SubmitStore(
	addr uint64,
	value uint32,
	kind mem.AccessKind,
) (StoreHandle, error) {
	slot, err := s.sq.Enqueue(addr, value, kind, s.nextSeq)
	if err != nil {
		return StoreHandle{}, fmt.Errorf("%w: %w", ErrBackpressure, err)
	}
	s.nextSeq++
	s.stats.StoresSubmitted++

	return StoreHandle{slot: slot}, nil
}

// PollLoadRetirement returns the oldest load's result once it is
// complete. Results arrive in exactly submission order regardless of the
// order memory completions arrived in.
func (s *System) PollLoadRetirement() (lsq.Retirement, bool) {
	r, ok := s.lq.Retire()
	if ok {
		s.stats.LoadsRetired++
		if r.Fault {
			s.stats.LoadFaults++
		}
	}
	return r, ok
}

// PollStoreDrain returns the oldest unconsumed store drain result.
// Faults on a store's line fill surface here, mirroring Retirement.Fault
// on the load side.
func (s *System) PollStoreDrain() (StoreDrain, bool) {
	if len(s.drains) == 0 {
		return StoreDrain{}, false
	}
	d := s.drains[0]
	s.drains = s.drains[1:]
	return d, true
}

// Tick advances the subsystem by one step.
func (s *System) Tick() {
	s.stats.Cycles++

	// Arbitration inputs are sampled before any in-step mutation. A head
	// store whose write is already in flight keeps the store queue off
	// the port until its acknowledgement, and a head store younger than
	// a not-yet-issued load waits for the load's issue so the load
	// cannot read the store's data from the cache.
	loadWants := s.loadWantsPort()
	storeWants := s.sq.WantsPort() &&
		!s.lq.HasIssuedBefore(s.sq.HeadSeq())
	storeOccupancy := s.sq.Occupancy()

	s.backing.Tick()
	s.dcache.Tick()

	grant := s.arb.Grant(loadWants, storeWants, storeOccupancy)
	switch grant {
	case arbiter.GrantLoad:
		s.issueLoad()
	case arbiter.GrantStore:
		s.issueStore()
	}
}

func (s *System) loadWantsPort() bool {
	_, _, ok := s.lq.NextIssue()
	return ok
}

func (s *System) issueLoad() {
	h, addr, ok := s.lq.NextIssue()
	if !ok {
		return
	}
	s.stats.LoadGrants++

	result := s.dcache.Access(cache.Request{
		Addr:  addr,
		Token: loadToken(h),
	})

	switch result.Status {
	case cache.Hit:
		s.lq.Complete(h, result.Data)
	case cache.MissPrimary, cache.MissCoalesced:
		s.lq.MarkWaiting(h)
	case cache.RetryInstalling, cache.RetryMSHRFull:
		// Entry stays issued and re-arbitrates next cycle.
	}
}

func (s *System) issueStore() {
	req, ok := s.sq.RetireHead()
	if !ok {
		return
	}
	s.stats.StoreGrants++

	result := s.dcache.Access(cache.Request{
		IsWrite: true,
		Addr:    req.Addr,
		Data:    req.Data,
		ByteEn:  req.ByteEn,
		Token:   storeCommitToken,
	})

	switch result.Status {
	case cache.Hit:
		s.sq.CommitAck()
		s.drains = append(s.drains, StoreDrain{})
		s.stats.StoresDrained++
	case cache.MissPrimary, cache.MissCoalesced:
		// Write-allocate: the store stays committing until the fill
		// installs and the write is applied.
	case cache.RetryInstalling, cache.RetryMSHRFull:
		s.sq.AbortCommit()
	}
}

func (s *System) onLoadDone(token uint64, word uint32, fault bool) {
	h := loadHandleFromToken(token)

	var delivered bool
	if fault {
		delivered = s.lq.CompleteFault(h)
	} else {
		delivered = s.lq.Complete(h, word)
	}

	// A completion for a flushed slot is simply unconsumed.
	if !delivered {
		s.stats.DroppedCompletions++
	}
}

func (s *System) onStoreDone(_ uint64, fault bool) {
	s.sq.CommitAck()
	s.drains = append(s.drains, StoreDrain{Fault: fault})
	s.stats.StoresDrained++
	if fault {
		s.stats.StoreFaults++
	}
}

// Flush invalidates all load-queue entries and all stores not yet
// granted the port. A committing head store finishes its write.
// In-flight line fills still complete and install; completions addressed
// to flushed load slots are dropped by the slot-generation check.
func (s *System) Flush() {
	s.lq.Flush()
	s.sq.Flush()
}

// Reset clears every queue entry, all MSHR valid bits, and all cache
// valid/dirty bits. The subsystem holds no persistent state. The backing
// store must be quiescent.
func (s *System) Reset() {
	s.lq.Reset()
	s.sq.Reset()
	s.dcache.Reset()
	s.drains = nil
	s.stats = Statistics{}
}
