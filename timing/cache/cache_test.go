package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsubsys/mem"
	"github.com/sarchlab/memsubsys/timing/cache"
)

type loadCompletion struct {
	token uint64
	word  uint32
	fault bool
}

type storeCompletion struct {
	token uint64
	fault bool
}

var _ = Describe("Cache", func() {
	var (
		c      *cache.Cache
		memory *mem.SimpleMemory
		loads  []loadCompletion
		stores []storeCompletion
	)

	newCache := func(config cache.Config) *cache.Cache {
		return cache.New(config, memory,
			func(token uint64, word uint32, fault bool) {
				loads = append(loads, loadCompletion{token, word, fault})
			},
			func(token uint64, fault bool) {
				stores = append(stores, storeCompletion{token, fault})
			})
	}

	// advance runs n cycles of the backing store and the cache, in the
	// same order the memory system ticks them.
	advance := func(n int) {
		for i := 0; i < n; i++ {
			memory.Tick()
			c.Tick()
		}
	}

	BeforeEach(func() {
		loads = nil
		stores = nil
		memory = mem.NewSimpleMemory(64, 1)
		c = newCache(cache.DefaultConfig())
	})

	Describe("Config validation", func() {
		It("should reject a non-power-of-two geometry", func() {
			bad := cache.DefaultConfig()
			bad.NumSets = 12
			Expect(bad.Validate()).To(HaveOccurred())
			Expect(func() { cache.New(bad, memory, nil, nil) }).To(Panic())
		})

		It("should accept a direct-mapped single-set geometry", func() {
			tiny := cache.Config{
				NumSets: 1, Associativity: 1, LineSize: 64, MSHREntries: 1,
			}
			Expect(tiny.Validate()).To(Succeed())
		})
	})

	Describe("Load path", func() {
		It("should miss cold and complete through the callback", func() {
			memory.Write32(0x1008, 0xDEADBEEF)

			result := c.Access(cache.Request{Addr: 0x1008, Token: 42})
			Expect(result.Status).To(Equal(cache.MissPrimary))
			Expect(c.MSHROutstanding()).To(Equal(1))
			Expect(loads).To(BeEmpty())

			advance(2)

			Expect(loads).To(HaveLen(1))
			Expect(loads[0].token).To(Equal(uint64(42)))
			Expect(loads[0].word).To(Equal(uint32(0xDEADBEEF)))
			Expect(loads[0].fault).To(BeFalse())
			Expect(c.MSHROutstanding()).To(Equal(0))
		})

		It("should hit same-cycle once the line is resident", func() {
			memory.Write32(0x1000, 0x11111111)
			memory.Write32(0x103C, 0x22222222)

			c.Access(cache.Request{Addr: 0x1000, Token: 1})
			advance(2)

			result := c.Access(cache.Request{Addr: 0x103C, Token: 2})
			Expect(result.Status).To(Equal(cache.Hit))
			Expect(result.Data).To(Equal(uint32(0x22222222)))

			stats := c.Stats()
			Expect(stats.ReadHits).To(Equal(uint64(1)))
			Expect(stats.PrimaryMisses).To(Equal(uint64(1)))
		})

		It("should serve hits while another line's fill is outstanding", func() {
			memory.Write32(0x1000, 0xAAAAAAAA)
			c.Access(cache.Request{Addr: 0x1000, Token: 1})
			advance(2)

			slow := c.Access(cache.Request{Addr: 0x2000, Token: 2})
			Expect(slow.Status).To(Equal(cache.MissPrimary))

			hit := c.Access(cache.Request{Addr: 0x1000, Token: 3})
			Expect(hit.Status).To(Equal(cache.Hit))
			Expect(hit.Data).To(Equal(uint32(0xAAAAAAAA)))
		})
	})

	Describe("Miss coalescing", func() {
		It("should join an in-flight fill instead of issuing another read", func() {
			memory.Write32(0x1000, 0x11111111)
			memory.Write32(0x1004, 0x22222222)

			first := c.Access(cache.Request{Addr: 0x1000, Token: 1})
			second := c.Access(cache.Request{Addr: 0x1004, Token: 2})
			Expect(first.Status).To(Equal(cache.MissPrimary))
			Expect(second.Status).To(Equal(cache.MissCoalesced))
			Expect(memory.LineReadCount()).To(Equal(uint64(1)))
			Expect(c.MSHROutstanding()).To(Equal(1))

			advance(2)

			Expect(loads).To(HaveLen(2))
			Expect(loads[0].token).To(Equal(uint64(1)))
			Expect(loads[0].word).To(Equal(uint32(0x11111111)))
			Expect(loads[1].token).To(Equal(uint64(2)))
			Expect(loads[1].word).To(Equal(uint32(0x22222222)))
			Expect(memory.LineReadCount()).To(Equal(uint64(1)))
		})

		It("should coalesce a store into a load's fill", func() {
			load := c.Access(cache.Request{Addr: 0x1000, Token: 1})
			store := c.Access(cache.Request{
				IsWrite: true, Addr: 0x1004, Data: 0xBEEF, ByteEn: 0b1111,
				Token: 2,
			})
			Expect(load.Status).To(Equal(cache.MissPrimary))
			Expect(store.Status).To(Equal(cache.MissCoalesced))

			advance(2)

			Expect(loads).To(HaveLen(1))
			Expect(stores).To(HaveLen(1))
			Expect(stores[0].token).To(Equal(uint64(2)))

			result := c.Access(cache.Request{Addr: 0x1004, Token: 3})
			Expect(result.Status).To(Equal(cache.Hit))
			Expect(result.Data).To(Equal(uint32(0xBEEF)))
		})
	})

	Describe("Store path", func() {
		It("should merge a write hit under its byte enables", func() {
			memory.Write32(0x1000, 0x11223344)
			c.Access(cache.Request{Addr: 0x1000, Token: 1})
			advance(2)

			result := c.Access(cache.Request{
				IsWrite: true, Addr: 0x1000, Data: 0x00AA0000, ByteEn: 0b0100,
				Token: 2,
			})
			Expect(result.Status).To(Equal(cache.Hit))

			read := c.Access(cache.Request{Addr: 0x1000, Token: 3})
			Expect(read.Data).To(Equal(uint32(0x11AA3344)))
			Expect(c.Stats().WriteHits).To(Equal(uint64(1)))
		})

		It("should allocate on a write miss and ack after the fill", func() {
			memory.Write32(0x1000, 0x11223344)

			result := c.Access(cache.Request{
				IsWrite: true, Addr: 0x1000, Data: 0x000000AA, ByteEn: 0b0001,
				Token: 7,
			})
			Expect(result.Status).To(Equal(cache.MissPrimary))
			Expect(stores).To(BeEmpty())

			advance(2)

			Expect(stores).To(Equal([]storeCompletion{{token: 7}}))

			read := c.Access(cache.Request{Addr: 0x1000, Token: 8})
			Expect(read.Status).To(Equal(cache.Hit))
			Expect(read.Data).To(Equal(uint32(0x112233AA)))
		})

		It("should round-trip every byte-enable pattern through the line", func() {
			memory.Write32(0x1000, 0x11223344)
			c.Access(cache.Request{Addr: 0x1000, Token: 1})
			advance(2)

			for mask := uint8(0); mask < 16; mask++ {
				c.Access(cache.Request{Addr: 0x1000, IsWrite: true,
					Data: 0x11223344, ByteEn: 0b1111, Token: 2})
				c.Access(cache.Request{Addr: 0x1000, IsWrite: true,
					Data: 0xAABBCCDD, ByteEn: mask, Token: 3})

				read := c.Access(cache.Request{Addr: 0x1000, Token: 4})
				Expect(read.Status).To(Equal(cache.Hit))
				Expect(read.Data).To(
					Equal(mem.MergeWord(0x11223344, 0xAABBCCDD, mask)),
					"mask %04b", mask)
			}
		})

		It("should not write the backing store until eviction", func() {
			c.Access(cache.Request{
				IsWrite: true, Addr: 0x1000, Data: 0xAA, ByteEn: 0b0001,
				Token: 1,
			})
			advance(2)

			Expect(memory.LineWriteCount()).To(Equal(uint64(0)))
			Expect(memory.Read8(0x1000)).To(Equal(byte(0)))
		})
	})

	Describe("Eviction and writeback", func() {
		BeforeEach(func() {
			memory = mem.NewSimpleMemory(64, 1)
			c = newCache(cache.Config{
				NumSets: 1, Associativity: 1, LineSize: 64, MSHREntries: 2,
			})
		})

		It("should write back a dirty victim before reusing its way", func() {
			c.Access(cache.Request{Addr: 0x1000, Token: 1})
			advance(2)
			c.Access(cache.Request{
				IsWrite: true, Addr: 0x1000, Data: 0xAB, ByteEn: 0b0001,
				Token: 2,
			})

			c.Access(cache.Request{Addr: 0x2000, Token: 3})
			advance(2)

			Expect(memory.LineWriteCount()).To(Equal(uint64(1)))
			Expect(memory.Read8(0x1000)).To(Equal(byte(0xAB)))

			stats := c.Stats()
			Expect(stats.Evictions).To(Equal(uint64(1)))
			Expect(stats.Writebacks).To(Equal(uint64(1)))
		})

		It("should drop a clean victim without touching memory", func() {
			c.Access(cache.Request{Addr: 0x1000, Token: 1})
			advance(2)
			c.Access(cache.Request{Addr: 0x2000, Token: 2})
			advance(2)

			Expect(memory.LineWriteCount()).To(Equal(uint64(0)))
			Expect(c.Stats().Evictions).To(Equal(uint64(1)))
			Expect(c.Stats().Writebacks).To(Equal(uint64(0)))
		})

		It("should refetch an evicted dirty line with its stored data", func() {
			c.Access(cache.Request{
				IsWrite: true, Addr: 0x1000, Data: 0xCD, ByteEn: 0b0001,
				Token: 1,
			})
			advance(2)
			c.Access(cache.Request{Addr: 0x2000, Token: 2})
			advance(2)

			loads = nil
			c.Access(cache.Request{Addr: 0x1000, Token: 3})
			advance(2)

			Expect(loads).To(HaveLen(1))
			Expect(loads[0].word).To(Equal(uint32(0xCD)))
		})
	})

	Describe("Structural limits", func() {
		It("should retry when every MSHR is tracking a fill", func() {
			small := cache.Config{
				NumSets: 16, Associativity: 2, LineSize: 64, MSHREntries: 1,
			}
			c = newCache(small)

			first := c.Access(cache.Request{Addr: 0x1000, Token: 1})
			Expect(first.Status).To(Equal(cache.MissPrimary))

			blocked := c.Access(cache.Request{Addr: 0x2000, Token: 2})
			Expect(blocked.Status).To(Equal(cache.RetryMSHRFull))
			Expect(c.Stats().MSHRFullRetries).To(Equal(uint64(1)))

			advance(2)

			retried := c.Access(cache.Request{Addr: 0x2000, Token: 2})
			Expect(retried.Status).To(Equal(cache.MissPrimary))
		})

		It("should reject an access to a line in its install cycle", func() {
			c.Access(cache.Request{Addr: 0x1000, Token: 1})
			advance(1)

			// The fill landed during this cycle's Tick; the line is busy
			// installing for the rest of the cycle.
			result := c.Access(cache.Request{Addr: 0x1000, Token: 2})
			Expect(result.Status).To(Equal(cache.RetryInstalling))
			Expect(c.Stats().InstallRetries).To(Equal(uint64(1)))

			advance(1)

			result = c.Access(cache.Request{Addr: 0x1000, Token: 2})
			Expect(result.Status).To(Equal(cache.Hit))
		})
	})

	Describe("Faults", func() {
		It("should complete parked loads with the fault flag", func() {
			memory.AddFaultRange(0x3000, 0x3040)

			c.Access(cache.Request{Addr: 0x3000, Token: 1})
			c.Access(cache.Request{Addr: 0x3004, Token: 2})
			advance(2)

			Expect(loads).To(HaveLen(2))
			Expect(loads[0].fault).To(BeTrue())
			Expect(loads[1].fault).To(BeTrue())
			Expect(c.Stats().FaultedFills).To(Equal(uint64(1)))
		})

		It("should not install a faulted line", func() {
			memory.AddFaultRange(0x3000, 0x3040)

			c.Access(cache.Request{Addr: 0x3000, Token: 1})
			advance(2)

			result := c.Access(cache.Request{Addr: 0x3000, Token: 2})
			Expect(result.Status).To(Equal(cache.MissPrimary))
		})

		It("should fault a parked store ack", func() {
			memory.AddFaultRange(0x3000, 0x3040)

			c.Access(cache.Request{
				IsWrite: true, Addr: 0x3000, Data: 1, ByteEn: 0b1111,
				Token: 9,
			})
			advance(2)

			Expect(stores).To(Equal([]storeCompletion{{token: 9, fault: true}}))
		})
	})

	Describe("Reset", func() {
		It("should invalidate lines and clear statistics", func() {
			memory.Write32(0x1000, 0xAAAAAAAA)
			c.Access(cache.Request{Addr: 0x1000, Token: 1})
			advance(2)

			c.Reset()

			Expect(c.Stats()).To(Equal(cache.Statistics{}))
			result := c.Access(cache.Request{Addr: 0x1000, Token: 2})
			Expect(result.Status).To(Equal(cache.MissPrimary))
		})
	})
})
