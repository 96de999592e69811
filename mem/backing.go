package mem

// LineResponse is a completed backing-store transaction. Read responses
// carry the full line data; write responses are acknowledgements only.
type LineResponse struct {
	// LineAddr is the line-aligned address of the transaction.
	LineAddr uint64
	// Data holds the line contents for read responses, nil for write acks.
	Data []byte
	// IsWrite distinguishes a write acknowledgement from a read response.
	IsWrite bool
	// Fault is set when the backing store could not service the access.
	Fault bool
}

// BackingStore is the next level of the memory hierarchy below the data
// cache. Requests complete asynchronously: the cache issues line reads and
// writes, advances the store with Tick, and drains completed transactions
// with PollLineResponse. Latency is unconstrained and responses may arrive
// in any order.
type BackingStore interface {
	// RequestLineRead asks for the full line at the line-aligned address.
	RequestLineRead(lineAddr uint64)
	// RequestLineWrite writes back a full line.
	RequestLineWrite(lineAddr uint64, data []byte)
	// PollLineResponse returns the next completed transaction, if any.
	PollLineResponse() (LineResponse, bool)
	// Tick advances the backing store by one cycle.
	Tick()
}
