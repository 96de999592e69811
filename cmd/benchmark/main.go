// Command benchmark sweeps memory-subsystem configurations over a fixed
// random workload and reports throughput and hit-rate figures.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Flags:
//
//	-csv   Output results in CSV format (default: human-readable)
//	-ops   Operations per configuration
//	-seed  Random seed shared by all configurations
//
// Example:
//
//	# Compare configurations in a spreadsheet
//	go run ./cmd/benchmark -csv > results.csv
//
// Every configuration replays the identical operation stream, so the
// cycle counts are directly comparable across rows.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/sarchlab/memsubsys/mem"
	"github.com/sarchlab/memsubsys/timing/memsys"
)

type sweepPoint struct {
	name       string
	memLatency uint64
	config     memsys.Config
}

type result struct {
	point     sweepPoint
	cycles    uint64
	opsPerKC  float64
	hitRate   float64
	forwards  uint64
	lineReads uint64
}

func sweepPoints() []sweepPoint {
	base := memsys.DefaultConfig()

	blocking := base
	blocking.Cache.MSHREntries = 1

	wide := base
	wide.Cache.NumSets = 64
	wide.Cache.Associativity = 4

	return []sweepPoint{
		{name: "default latency=10", memLatency: 10, config: base},
		{name: "default latency=40", memLatency: 40, config: base},
		{name: "default latency=100", memLatency: 100, config: base},
		{name: "single-mshr latency=40", memLatency: 40, config: blocking},
		{name: "16KB-4way latency=40", memLatency: 40, config: wide},
	}
}

func run(point sweepPoint, numOps int, seed int64) result {
	backing := mem.NewSimpleMemory(point.config.Cache.LineSize, point.memLatency)
	system, err := memsys.New(point.config, backing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating subsystem: %v\n", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(seed))

	var (
		issued    int
		pending   int
		heldAddr  uint64
		heldValue uint32
		heldLoad  bool
		holding   bool
	)

	for issued < numOps || pending > 0 || system.StoreQueueOccupancy() > 0 {
		if issued < numOps || holding {
			if !holding {
				heldAddr = mem.WordAddr(rng.Uint64() % (64 * 1024))
				heldLoad = rng.Float64() >= 0.3
				heldValue = rng.Uint32()
			}

			if heldLoad {
				_, err := system.SubmitLoad(heldAddr, mem.LoadWord, issued)
				holding = err != nil
				if err == nil {
					issued++
					pending++
				}
			} else {
				_, err := system.SubmitStore(heldAddr, heldValue, mem.StoreWord)
				holding = err != nil
				if err == nil {
					issued++
				}
			}
		}

		system.Tick()

		for {
			if _, ok := system.PollLoadRetirement(); !ok {
				break
			}
			pending--
		}
	}

	stats := system.Stats()
	cstats := system.CacheStats()

	hits := cstats.ReadHits + cstats.WriteHits
	accesses := hits + cstats.PrimaryMisses + cstats.CoalescedMisses
	var hitRate float64
	if accesses > 0 {
		hitRate = float64(hits) / float64(accesses)
	}

	return result{
		point:     point,
		cycles:    stats.Cycles,
		opsPerKC:  float64(numOps) / float64(stats.Cycles) * 1000,
		hitRate:   hitRate,
		forwards:  stats.Forwards,
		lineReads: backing.LineReadCount(),
	}
}

func main() {
	csvOutput := flag.Bool("csv", false, "Output results in CSV format")
	numOps := flag.Int("ops", 50000, "Operations per configuration")
	seed := flag.Int64("seed", 1, "Random seed shared by all configurations")
	flag.Parse()

	var results []result
	for _, point := range sweepPoints() {
		results = append(results, run(point, *numOps, *seed))
	}

	if *csvOutput {
		fmt.Println("config,cycles,ops_per_kcycle,hit_rate,forwards,line_reads")
		for _, r := range results {
			fmt.Printf("%s,%d,%.1f,%.4f,%d,%d\n",
				r.point.name, r.cycles, r.opsPerKC, r.hitRate,
				r.forwards, r.lineReads)
		}
		return
	}

	fmt.Printf("%-24s %10s %14s %9s %9s %11s\n",
		"Config", "Cycles", "Ops/kcycle", "Hit rate", "Forwards", "Line reads")
	for _, r := range results {
		fmt.Printf("%-24s %10d %14.1f %8.1f%% %9d %11d\n",
			r.point.name, r.cycles, r.opsPerKC, r.hitRate*100,
			r.forwards, r.lineReads)
	}
}
