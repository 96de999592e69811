package mem_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsubsys/mem"
)

var _ = Describe("SimpleMemory", func() {
	var memory *mem.SimpleMemory

	BeforeEach(func() {
		memory = mem.NewSimpleMemory(64, 3)
	})

	Describe("Direct access", func() {
		It("should read back written words", func() {
			memory.Write32(0x1000, 0xDEADBEEF)
			Expect(memory.Read32(0x1000)).To(Equal(uint32(0xDEADBEEF)))
		})

		It("should return zero for untouched addresses", func() {
			Expect(memory.Read32(0x8000)).To(Equal(uint32(0)))
		})

		It("should store words little-endian", func() {
			memory.Write32(0x1000, 0x12345678)
			Expect(memory.Read8(0x1000)).To(Equal(byte(0x78)))
			Expect(memory.Read8(0x1003)).To(Equal(byte(0x12)))
		})
	})

	Describe("Line reads", func() {
		It("should not respond before the latency elapses", func() {
			memory.RequestLineRead(0x1000)

			for i := 0; i < 3; i++ {
				_, ok := memory.PollLineResponse()
				Expect(ok).To(BeFalse())
				memory.Tick()
			}

			resp, ok := memory.PollLineResponse()
			Expect(ok).To(BeTrue())
			Expect(resp.LineAddr).To(Equal(uint64(0x1000)))
			Expect(resp.IsWrite).To(BeFalse())
			Expect(resp.Fault).To(BeFalse())
			Expect(resp.Data).To(HaveLen(64))
		})

		It("should return the full line content", func() {
			memory.Write32(0x1000, 0x11111111)
			memory.Write32(0x103C, 0x22222222)

			memory.RequestLineRead(0x1000)
			for i := 0; i < 4; i++ {
				memory.Tick()
			}

			resp, ok := memory.PollLineResponse()
			Expect(ok).To(BeTrue())
			Expect(mem.ReadWord(resp.Data, 0)).To(Equal(uint32(0x11111111)))
			Expect(mem.ReadWord(resp.Data, 0x3C)).To(Equal(uint32(0x22222222)))
		})

		It("should snapshot the line at request time", func() {
			memory.Write32(0x1000, 0xAAAAAAAA)
			memory.RequestLineRead(0x1000)
			memory.Write32(0x1000, 0xBBBBBBBB)

			for i := 0; i < 4; i++ {
				memory.Tick()
			}

			resp, _ := memory.PollLineResponse()
			Expect(mem.ReadWord(resp.Data, 0)).To(Equal(uint32(0xAAAAAAAA)))
		})

		It("should count requests", func() {
			memory.RequestLineRead(0x1000)
			memory.RequestLineRead(0x2000)
			Expect(memory.LineReadCount()).To(Equal(uint64(2)))
			Expect(memory.LineWriteCount()).To(Equal(uint64(0)))
		})
	})

	Describe("Line writes", func() {
		It("should apply the data and acknowledge after the latency", func() {
			data := make([]byte, 64)
			mem.WriteWord(data, 8, 0xCAFEBABE, 0b1111)

			memory.RequestLineWrite(0x1000, data)
			Expect(memory.Read32(0x1008)).To(Equal(uint32(0xCAFEBABE)))

			for i := 0; i < 4; i++ {
				memory.Tick()
			}

			resp, ok := memory.PollLineResponse()
			Expect(ok).To(BeTrue())
			Expect(resp.IsWrite).To(BeTrue())
			Expect(memory.LineWriteCount()).To(Equal(uint64(1)))
		})
	})

	Describe("Response ordering", func() {
		It("should deliver same-latency responses oldest first", func() {
			memory.RequestLineRead(0x1000)
			memory.RequestLineRead(0x2000)

			for i := 0; i < 4; i++ {
				memory.Tick()
			}

			first, _ := memory.PollLineResponse()
			second, _ := memory.PollLineResponse()
			Expect(first.LineAddr).To(Equal(uint64(0x1000)))
			Expect(second.LineAddr).To(Equal(uint64(0x2000)))
		})
	})

	Describe("Fault ranges", func() {
		It("should fault reads overlapping a registered range", func() {
			memory.AddFaultRange(0x3000, 0x3040)
			memory.RequestLineRead(0x3000)

			for i := 0; i < 4; i++ {
				memory.Tick()
			}

			resp, ok := memory.PollLineResponse()
			Expect(ok).To(BeTrue())
			Expect(resp.Fault).To(BeTrue())
			Expect(resp.Data).To(BeNil())
		})

		It("should not fault reads outside the range", func() {
			memory.AddFaultRange(0x3000, 0x3040)
			memory.RequestLineRead(0x3040)

			for i := 0; i < 4; i++ {
				memory.Tick()
			}

			resp, _ := memory.PollLineResponse()
			Expect(resp.Fault).To(BeFalse())
		})
	})

	Describe("Zero latency", func() {
		It("should respond on the first poll after a tick", func() {
			fast := mem.NewSimpleMemory(64, 0)
			fast.RequestLineRead(0x1000)
			fast.Tick()
			_, ok := fast.PollLineResponse()
			Expect(ok).To(BeTrue())
		})
	})
})
