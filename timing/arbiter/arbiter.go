// Package arbiter selects which queue drives the single cache port each
// cycle.
package arbiter

// Grant identifies the winner of a cycle's port arbitration.
type Grant int

const (
	// GrantNone means neither queue requested the port.
	GrantNone Grant = iota
	// GrantLoad gives the port to the load queue.
	GrantLoad
	// GrantStore gives the port to the store queue.
	GrantStore
)

// String returns a short name for the grant.
func (g Grant) String() string {
	switch g {
	case GrantLoad:
		return "load"
	case GrantStore:
		return "store"
	default:
		return "none"
	}
}

// Arbiter grants the memory port with load priority, except that the
// store queue wins whenever its occupancy reaches the high-water mark.
// The high-water override guarantees forward progress: under sustained
// load traffic the store queue fills to the mark, drains one store, and
// the cycle repeats, so neither queue starves.
type Arbiter struct {
	highWater int
}

// New creates an arbiter for a store queue of the given depth. The
// high-water mark is three quarters of the depth, rounded up, so a
// depth-1 queue reaches it with its single entry.
func New(storeQueueDepth int) *Arbiter {
	return &Arbiter{highWater: (storeQueueDepth*3 + 3) / 4}
}

// HighWater returns the occupancy at which stores take priority.
func (a *Arbiter) HighWater() int {
	return a.highWater
}

// Grant decides the port for this cycle from the queues' start-of-cycle
// requests and the store queue's occupancy. Stores win when no load wants
// the port or when occupancy is at or above the high-water mark;
// otherwise loads win.
func (a *Arbiter) Grant(loadWants, storeWants bool, storeOccupancy int) Grant {
	switch {
	case storeWants && (!loadWants || storeOccupancy >= a.highWater):
		return GrantStore
	case loadWants:
		return GrantLoad
	default:
		return GrantNone
	}
}
