// Package cache implements the non-blocking, set-associative, write-back
// data cache. Misses are tracked in an MSHR table so that hits to other
// lines keep completing while fills are in flight, and misses to a line
// already being fetched coalesce into the existing fill instead of
// issuing a duplicate refill.
package cache

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/memsubsys/mem"
	"github.com/sarchlab/memsubsys/timing/mshr"
)

// Config holds the cache geometry, fixed at construction.
type Config struct {
	// NumSets is the number of sets.
	NumSets int
	// Associativity is the number of ways per set.
	Associativity int
	// LineSize is the cache line size in bytes.
	LineSize int
	// MSHREntries is the number of outstanding line fills tracked.
	MSHREntries int
}

// DefaultConfig returns the default geometry: 2KB, 2-way, 64B lines,
// 8 MSHRs.
func DefaultConfig() Config {
	return Config{
		NumSets:       16,
		Associativity: 2,
		LineSize:      64,
		MSHREntries:   8,
	}
}

// Validate checks that every parameter used as an index width is a power
// of two. Associativity 1 (direct-mapped) and NumSets 1 are both legal.
func (c Config) Validate() error {
	if !mem.IsPowerOfTwo(c.NumSets) {
		return fmt.Errorf("cache: NumSets %d is not a power of two", c.NumSets)
	}
	if !mem.IsPowerOfTwo(c.Associativity) {
		return fmt.Errorf(
			"cache: Associativity %d is not a power of two", c.Associativity)
	}
	if !mem.IsPowerOfTwo(c.LineSize) || c.LineSize < mem.WordSize {
		return fmt.Errorf(
			"cache: LineSize %d is not a power of two words", c.LineSize)
	}
	if !mem.IsPowerOfTwo(c.MSHREntries) {
		return fmt.Errorf(
			"cache: MSHREntries %d is not a power of two", c.MSHREntries)
	}
	return nil
}

// Status classifies the outcome of an Access.
type Status int

const (
	// Hit means the request was served from the array this cycle.
	Hit Status = iota
	// MissPrimary means a new line fill was issued; the requester is
	// completed through its callback when the fill installs.
	MissPrimary
	// MissCoalesced means the request joined an already-in-flight fill.
	MissCoalesced
	// RetryInstalling means the request's line is being installed this
	// exact cycle; the requester must retry next cycle.
	RetryInstalling
	// RetryMSHRFull means no MSHR was free to track a new miss; the
	// requester must retry later. Work is never dropped.
	RetryMSHRFull
)

// Request is one access presented on the cache port.
type Request struct {
	// IsWrite selects a store commit over a load.
	IsWrite bool
	// Addr is the full byte address of the access.
	Addr uint64
	// Data is the lane-positioned word for writes.
	Data uint32
	// ByteEn selects the bytes of Data that land in the line.
	ByteEn uint8
	// Token is opaque to the cache and handed back on completion.
	Token uint64
}

// AccessResult is the same-cycle outcome of an Access.
type AccessResult struct {
	Status Status
	// Data is the word containing the requested address, valid for load
	// hits only. Misses deliver data through the completion callback.
	Data uint32
}

// LoadDoneFunc delivers a deferred load completion: the word containing
// the requested address, or a fault.
type LoadDoneFunc func(token uint64, word uint32, fault bool)

// StoreDoneFunc acknowledges a deferred store commit, or reports a fault
// on its line fill.
type StoreDoneFunc func(token uint64, fault bool)

// waiter is a request parked on an MSHR until its line installs.
type waiter struct {
	isWrite bool
	addr    uint64
	data    uint32
	byteEn  uint8
	token   uint64
}

// Statistics holds cache event counts.
type Statistics struct {
	ReadHits        uint64
	WriteHits       uint64
	PrimaryMisses   uint64
	CoalescedMisses uint64
	Fills           uint64
	FaultedFills    uint64
	Evictions       uint64
	Writebacks      uint64
	MSHRFullRetries uint64
	InstallRetries  uint64
}

// Cache is the non-blocking data cache. Tag state and LRU victim
// selection live in an Akita cache directory; line data is stored
// separately, indexed by (set, way).
type Cache struct {
	config    Config
	directory *akitacache.DirectoryImpl
	dataStore [][]byte
	mshrs     *mshr.Table
	waiters   [][]waiter
	backing   mem.BackingStore

	loadDone  LoadDoneFunc
	storeDone StoreDoneFunc

	// Lines installed during the current Tick. A request to one of these
	// lines is rejected for this cycle only.
	installedThisCycle []uint64

	stats Statistics
}

// New creates a cache over the given backing store. Deferred completions
// are delivered through the two callbacks when fills install.
func New(
	config Config,
	backing mem.BackingStore,
	loadDone LoadDoneFunc,
	storeDone StoreDoneFunc,
) *Cache {
	if err := config.Validate(); err != nil {
		panic(err)
	}

	totalLines := config.NumSets * config.Associativity
	dataStore := make([][]byte, totalLines)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.LineSize)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			config.NumSets,
			config.Associativity,
			config.LineSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
		mshrs:     mshr.NewTable(config.MSHREntries),
		waiters:   make([][]waiter, config.MSHREntries),
		backing:   backing,
		loadDone:  loadDone,
		storeDone: storeDone,
	}
}

// Config returns the cache geometry.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns the event counters.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// MSHROutstanding returns the number of fills in flight.
func (c *Cache) MSHROutstanding() int {
	return c.mshrs.OutstandingCount()
}

func (c *Cache) lineIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

// Tick drains completed backing-store transactions. Each read response
// installs its line, replays the fill's parked requests in arrival order,
// and retires the MSHR. Write acknowledgements carry no state.
func (c *Cache) Tick() {
	c.installedThisCycle = c.installedThisCycle[:0]

	for {
		resp, ok := c.backing.PollLineResponse()
		if !ok {
			return
		}
		if resp.IsWrite {
			continue
		}
		c.handleFill(resp)
	}
}

func (c *Cache) handleFill(resp mem.LineResponse) {
	id, ok := c.mshrs.Find(resp.LineAddr)
	if !ok {
		panic(fmt.Sprintf(
			"cache: fill for line 0x%X with no MSHR", resp.LineAddr))
	}

	parked := c.waiters[id]
	c.waiters[id] = nil
	c.mshrs.Retire(id)

	if resp.Fault {
		c.stats.FaultedFills++
		for _, w := range parked {
			if w.isWrite {
				c.storeDone(w.token, true)
			} else {
				c.loadDone(w.token, 0, true)
			}
		}
		return
	}

	block := c.installLine(resp.LineAddr, resp.Data)
	line := c.dataStore[c.lineIndex(block)]

	for _, w := range parked {
		offset := int(mem.WordAddr(w.addr) - resp.LineAddr)
		if w.isWrite {
			mem.WriteWord(line, offset, w.data, w.byteEn)
			block.IsDirty = true
			c.storeDone(w.token, false)
		} else {
			c.loadDone(w.token, mem.ReadWord(line, offset), false)
		}
	}

	c.installedThisCycle = append(c.installedThisCycle, resp.LineAddr)
}

// installLine picks a victim way, writes back a dirty victim, and
// installs the fetched line. The victim finder prefers an invalid way
// over evicting a valid line.
func (c *Cache) installLine(lineAddr uint64, data []byte) *akitacache.Block {
	victim := c.directory.FindVictim(lineAddr)
	if victim == nil {
		panic(fmt.Sprintf("cache: no victim for line 0x%X", lineAddr))
	}

	line := c.dataStore[c.lineIndex(victim)]

	if victim.IsValid {
		c.stats.Evictions++
		if victim.IsDirty {
			c.stats.Writebacks++
			evicted := make([]byte, len(line))
			copy(evicted, line)
			c.backing.RequestLineWrite(victim.Tag, evicted)
		}
	}

	copy(line, data)
	victim.Tag = lineAddr
	victim.IsValid = true
	victim.IsDirty = false
	c.directory.Visit(victim)
	c.stats.Fills++

	return victim
}

func (c *Cache) installingLine(lineAddr uint64) bool {
	for _, a := range c.installedThisCycle {
		if a == lineAddr {
			return true
		}
	}
	return false
}

// Access presents one request on the cache port. Hits are served
// immediately, including while other lines' fills are outstanding.
// Misses allocate or join an MSHR and complete later through the
// callbacks. Retry statuses leave all state untouched; the requester
// owns the retry.
func (c *Cache) Access(req Request) AccessResult {
	lineAddr := mem.LineAddr(req.Addr, c.config.LineSize)

	if c.installingLine(lineAddr) {
		c.stats.InstallRetries++
		return AccessResult{Status: RetryInstalling}
	}

	block := c.directory.Lookup(0, lineAddr)
	if block != nil && block.IsValid {
		return c.serveHit(req, lineAddr, block)
	}

	return c.handleMiss(req, lineAddr)
}

func (c *Cache) serveHit(
	req Request,
	lineAddr uint64,
	block *akitacache.Block,
) AccessResult {
	c.directory.Visit(block)

	line := c.dataStore[c.lineIndex(block)]
	offset := int(mem.WordAddr(req.Addr) - lineAddr)

	if req.IsWrite {
		mem.WriteWord(line, offset, req.Data, req.ByteEn)
		block.IsDirty = true
		c.stats.WriteHits++
		return AccessResult{Status: Hit}
	}

	c.stats.ReadHits++
	return AccessResult{Status: Hit, Data: mem.ReadWord(line, offset)}
}

// handleMiss matches against in-flight fills before allocating, within
// the same step, so two near-simultaneous misses to one line can never
// both allocate and issue duplicate refills.
func (c *Cache) handleMiss(req Request, lineAddr uint64) AccessResult {
	wordOffset := mem.WordOffset(req.Addr, c.config.LineSize)
	w := waiter{
		isWrite: req.IsWrite,
		addr:    req.Addr,
		data:    req.Data,
		byteEn:  req.ByteEn,
		token:   req.Token,
	}

	if id, ok := c.mshrs.TryMatch(lineAddr, wordOffset); ok {
		c.waiters[id] = append(c.waiters[id], w)
		c.stats.CoalescedMisses++
		return AccessResult{Status: MissCoalesced}
	}

	id, err := c.mshrs.TryAllocate(lineAddr, wordOffset)
	if err != nil {
		c.stats.MSHRFullRetries++
		return AccessResult{Status: RetryMSHRFull}
	}

	c.waiters[id] = append(c.waiters[id], w)
	c.backing.RequestLineRead(lineAddr)
	c.stats.PrimaryMisses++
	return AccessResult{Status: MissPrimary}
}

// Reset clears all valid and dirty bits, the MSHR table, and statistics.
// No fills may be outstanding at the backing store when Reset is called.
func (c *Cache) Reset() {
	c.directory.Reset()
	for i := range c.dataStore {
		for j := range c.dataStore[i] {
			c.dataStore[i][j] = 0
		}
	}
	c.mshrs.Reset()
	for i := range c.waiters {
		c.waiters[i] = nil
	}
	c.installedThisCycle = nil
	c.stats = Statistics{}
}
