// Package lsq implements the load and store queues: in-order-allocate ring
// buffers that track outstanding memory operations from issue to
// retirement, including the store-to-load forwarding path.
package lsq

import "errors"

// ErrQueueFull is returned by Enqueue when no slot is free. The caller
// must hold the operation and retry in a later cycle.
var ErrQueueFull = errors.New("lsq: queue full")
