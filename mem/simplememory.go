package mem

const pageSize = 4096

// SimpleMemory is a sparse, page-backed memory model implementing
// BackingStore with a configurable fixed latency. It also exposes direct
// byte/word access for loading test images and checking results.
type SimpleMemory struct {
	pages    map[uint64][]byte
	lineSize int
	latency  uint64

	pending []pendingTransaction

	faultRanges []faultRange

	// Request counters, readable by tests and the demo driver.
	lineReads  uint64
	lineWrites uint64
}

type pendingTransaction struct {
	resp      LineResponse
	remaining uint64
}

type faultRange struct {
	start, end uint64 // [start, end)
}

// NewSimpleMemory creates a memory model serving lines of lineSize bytes
// with the given fixed response latency in cycles. A latency of 0 makes
// responses available on the first Tick after the request.
func NewSimpleMemory(lineSize int, latency uint64) *SimpleMemory {
	if !IsPowerOfTwo(lineSize) {
		panic("mem: line size must be a power of two")
	}

	return &SimpleMemory{
		pages:    make(map[uint64][]byte),
		lineSize: lineSize,
		latency:  latency,
	}
}

// AddFaultRange marks [start, end) as faulting. Line reads touching the
// range complete with the Fault flag set instead of data.
func (m *SimpleMemory) AddFaultRange(start, end uint64) {
	m.faultRanges = append(m.faultRanges, faultRange{start: start, end: end})
}

func (m *SimpleMemory) faults(lineAddr uint64) bool {
	lineEnd := lineAddr + uint64(m.lineSize)
	for _, r := range m.faultRanges {
		if lineAddr < r.end && r.start < lineEnd {
			return true
		}
	}
	return false
}

// RequestLineRead queues a read of the full line at lineAddr.
func (m *SimpleMemory) RequestLineRead(lineAddr uint64) {
	m.lineReads++

	resp := LineResponse{LineAddr: lineAddr}
	if m.faults(lineAddr) {
		resp.Fault = true
	} else {
		data := make([]byte, m.lineSize)
		for i := 0; i < m.lineSize; i++ {
			data[i] = m.Read8(lineAddr + uint64(i))
		}
		resp.Data = data
	}

	m.pending = append(m.pending, pendingTransaction{
		resp:      resp,
		remaining: m.latency,
	})
}

// RequestLineWrite queues a write of a full line. The data is copied at
// request time; the acknowledgement is delivered after the latency.
func (m *SimpleMemory) RequestLineWrite(lineAddr uint64, data []byte) {
	m.lineWrites++

	for i, b := range data {
		m.Write8(lineAddr+uint64(i), b)
	}

	m.pending = append(m.pending, pendingTransaction{
		resp:      LineResponse{LineAddr: lineAddr, IsWrite: true},
		remaining: m.latency,
	})
}

// PollLineResponse returns the oldest transaction whose latency has
// elapsed.
func (m *SimpleMemory) PollLineResponse() (LineResponse, bool) {
	for i, t := range m.pending {
		if t.remaining == 0 {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return t.resp, true
		}
	}
	return LineResponse{}, false
}

// Tick advances all pending transactions by one cycle.
func (m *SimpleMemory) Tick() {
	for i := range m.pending {
		if m.pending[i].remaining > 0 {
			m.pending[i].remaining--
		}
	}
}

// LineReadCount returns the number of line reads requested so far.
func (m *SimpleMemory) LineReadCount() uint64 {
	return m.lineReads
}

// LineWriteCount returns the number of line writes requested so far.
func (m *SimpleMemory) LineWriteCount() uint64 {
	return m.lineWrites
}

func (m *SimpleMemory) page(addr uint64) []byte {
	base := addr &^ (pageSize - 1)
	p, ok := m.pages[base]
	if !ok {
		p = make([]byte, pageSize)
		m.pages[base] = p
	}
	return p
}

// Read8 reads one byte.
func (m *SimpleMemory) Read8(addr uint64) byte {
	return m.page(addr)[addr&(pageSize-1)]
}

// Write8 writes one byte.
func (m *SimpleMemory) Write8(addr uint64, value byte) {
	m.page(addr)[addr&(pageSize-1)] = value
}

// Read32 reads a little-endian 32-bit word.
func (m *SimpleMemory) Read32(addr uint64) uint32 {
	return uint32(m.Read8(addr)) |
		uint32(m.Read8(addr+1))<<8 |
		uint32(m.Read8(addr+2))<<16 |
		uint32(m.Read8(addr+3))<<24
}

// Write32 writes a little-endian 32-bit word.
func (m *SimpleMemory) Write32(addr uint64, value uint32) {
	m.Write8(addr, byte(value))
	m.Write8(addr+1, byte(value>>8))
	m.Write8(addr+2, byte(value>>16))
	m.Write8(addr+3, byte(value>>24))
}
