// Package main provides a traffic driver for the memory-access
// subsystem. It pushes a randomized stream of word loads and stores
// through the queues, checks every retired load against a shadow memory
// image, and prints the subsystem and cache statistics.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/sarchlab/memsubsys/mem"
	"github.com/sarchlab/memsubsys/timing/memsys"
)

var (
	numOps     = flag.Int("ops", 10000, "Number of memory operations to issue")
	seed       = flag.Int64("seed", 1, "Random seed for the traffic stream")
	storeRatio = flag.Float64("store-ratio", 0.3, "Fraction of operations that are stores")
	latency    = flag.Uint64("mem-latency", 20, "Backing store latency in cycles")
	footprint  = flag.Uint64("footprint", 64*1024, "Address range touched, in bytes")
	verbose    = flag.Bool("v", false, "Verbose output")
)

type expectedLoad struct {
	dest  int
	value uint32
}

func main() {
	flag.Parse()

	config := memsys.DefaultConfig()
	backing := mem.NewSimpleMemory(config.Cache.LineSize, *latency)

	system, err := memsys.New(config, backing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating subsystem: %v\n", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	shadow := make(map[uint64]uint32)

	// The driver restricts itself to word accesses so that program-order
	// submission fully determines each load's expected value: a load of a
	// word either forwards from the youngest pending store to it or reads
	// the drained value from the cache.
	var (
		expected  []expectedLoad
		issued    int
		retired   int
		mismatch  int
		nextDest  int
		heldAddr  uint64
		heldValue uint32
		heldLoad  bool
		holding   bool
	)

	for issued < *numOps || retired < len(expected) ||
		system.StoreQueueOccupancy() > 0 {
		if issued < *numOps || holding {
			if !holding {
				heldAddr = mem.WordAddr(rng.Uint64() % *footprint)
				heldLoad = rng.Float64() >= *storeRatio
				heldValue = rng.Uint32()
			}

			if heldLoad {
				_, err := system.SubmitLoad(heldAddr, mem.LoadWord, nextDest)
				holding = err != nil
				if err == nil {
					expected = append(expected, expectedLoad{
						dest:  nextDest,
						value: shadow[heldAddr],
					})
					nextDest++
					issued++
				}
			} else {
				_, err := system.SubmitStore(heldAddr, heldValue, mem.StoreWord)
				holding = err != nil
				if err == nil {
					shadow[heldAddr] = heldValue
					issued++
				}
			}
		}

		system.Tick()

		for {
			r, ok := system.PollLoadRetirement()
			if !ok {
				break
			}
			want := expected[retired]
			if r.Dest != want.dest || r.Data != want.value || r.Fault {
				mismatch++
				if *verbose {
					fmt.Printf("MISMATCH dest=%d got=0x%08X want=0x%08X fault=%v\n",
						r.Dest, r.Data, want.value, r.Fault)
				}
			}
			retired++
		}
	}

	stats := system.Stats()
	cstats := system.CacheStats()

	fmt.Printf("Cycles:            %d\n", stats.Cycles)
	fmt.Printf("Loads submitted:   %d\n", stats.LoadsSubmitted)
	fmt.Printf("Stores submitted:  %d\n", stats.StoresSubmitted)
	fmt.Printf("Loads retired:     %d\n", stats.LoadsRetired)
	fmt.Printf("Stores drained:    %d\n", stats.StoresDrained)
	fmt.Printf("Forwarded loads:   %d\n", stats.Forwards)
	fmt.Printf("Cache read hits:   %d\n", cstats.ReadHits)
	fmt.Printf("Cache write hits:  %d\n", cstats.WriteHits)
	fmt.Printf("Primary misses:    %d\n", cstats.PrimaryMisses)
	fmt.Printf("Coalesced misses:  %d\n", cstats.CoalescedMisses)
	fmt.Printf("Evictions:         %d\n", cstats.Evictions)
	fmt.Printf("Writebacks:        %d\n", cstats.Writebacks)
	fmt.Printf("Line reads:        %d\n", backing.LineReadCount())
	fmt.Printf("Line writes:       %d\n", backing.LineWriteCount())

	if mismatch > 0 {
		fmt.Fprintf(os.Stderr, "%d retirement mismatches\n", mismatch)
		os.Exit(1)
	}
	fmt.Printf("All %d load retirements matched the reference image\n", retired)
}
