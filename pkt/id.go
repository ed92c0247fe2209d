package pkt

import "sync"

// shortIDWrap is the short-id wraparound point: spec.md's "wraps
// 1...64000" — next_id returns 64000 then resets to 1.
const shortIDWrap = 64000

// IDGenerator is the packet-id counter, spec.md's single
// spin-locked record holding short_id and long_id. A sync.Mutex
// stands in for the spin lock: both generators are held only for the
// instant it takes to read-and-increment.
type IDGenerator struct {
	mu      sync.Mutex
	shortID uint16
	longID  uint32
}

// NewIDGenerator returns a generator with both counters at their
// initial value of 1.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{shortID: 1, longID: 1}
}

// NextID returns the current short id and advances it, wrapping
// 64000 back to 1.
func (g *IDGenerator) NextID() uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.shortID
	if g.shortID >= shortIDWrap {
		g.shortID = 1
	} else {
		g.shortID++
	}
	return id
}

// NextLongID returns the current long id and advances it without
// wrapping.
func (g *IDGenerator) NextLongID() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.longID
	g.longID++
	return id
}
