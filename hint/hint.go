// Package hint implements the route-hint cache (§3 "HINT"): an
// ordered list of (node, port) pairs cached per UID to bias future
// DIR dispatch toward whichever hint last worked. It has the same
// map+mutex shape as socket.Table; the cache's "move a working hint
// toward the head" policy is the only thing distinguishing it from a
// plain lookup table.
package hint

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/m-lab/domain-kernel/uid"
)

// Pair is one (node, port) route hint.
type Pair struct {
	Node uint32
	Port int
}

// maxHintsPerUID bounds how many hints are retained per UID so a
// pathological sequence of add_hint calls can't grow a single
// entry without bound.
const maxHintsPerUID = 8

// Cache maps a UID to its ordered hint list.
type Cache struct {
	mu    sync.Mutex
	hints map[uid.UID][]Pair
}

// NewCache returns an empty hint cache.
func NewCache() *Cache {
	return &Cache{hints: make(map[uid.UID][]Pair)}
}

// GetHints returns a copy of u's hint list in preference order, or nil
// if nothing is cached.
func (c *Cache) GetHints(u uid.UID) []Pair {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.hints[u]
	if len(src) == 0 {
		return nil
	}
	out := make([]Pair, len(src))
	copy(out, src)
	return out
}

// AddHint records that p worked for u, moving it to the head of u's
// hint list (creating the list if absent, trimming it to
// maxHintsPerUID).
func (c *Cache) AddHint(u uid.UID, p Pair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.hints[u]
	filtered := list[:0:0]
	for _, e := range list {
		if e != p {
			filtered = append(filtered, e)
		}
	}
	list = append([]Pair{p}, filtered...)
	if len(list) > maxHintsPerUID {
		list = list[:maxHintsPerUID]
	}
	c.hints[u] = list
}

// AddNet records p as a hint for every UID sharing a network-hint
// index, spec.md §3's DIR_$FIND_NET bucket. Since this package has no
// notion of "every UID with this index" (that set is unbounded and
// lives in the directory itself), AddNet is expressed as the
// per-UID primitive AddHint callers invoke once they've resolved the
// concrete UIDs DIR_$FIND_NET names.
func (c *Cache) AddNet(u uid.UID, p Pair) {
	c.AddHint(u, p)
}

// Invalidate drops every cached hint for u, leaving a clean slate
// rather than a reordered one. The dispatcher itself never calls it;
// main.go's conditional-flush hook does.
func (c *Cache) Invalidate(u uid.UID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hints, u)
}

// Entry is one row of a Cache's Snapshot: a UID, the rank (0-based
// position, lower is preferred) of one of its cached hints, and the
// hint itself.
type Entry struct {
	UID  uid.UID
	Rank int
	Pair Pair
}

// Snapshot returns every cached hint across every UID, for reporting
// tools (cmd/riptool) and tests. Row order within a UID matches
// preference order; order across UIDs is unspecified.
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	for u, list := range c.hints {
		for rank, p := range list {
			out = append(out, Entry{UID: u, Rank: rank, Pair: p})
		}
	}
	return out
}

// SnapshotLine is one JSON-encodable row of a WriteSnapshot dump.
type SnapshotLine struct {
	UIDHigh uint32
	UIDLow  uint32
	Rank    int
	Node    uint32
	Port    int
}

// WriteSnapshot JSON-encodes one line per cached hint, for
// cmd/riptool to turn into a CSV report alongside rip.Table's route
// snapshot.
func (c *Cache) WriteSnapshot(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, e := range c.Snapshot() {
		line := SnapshotLine{
			UIDHigh: e.UID.High,
			UIDLow:  e.UID.Low,
			Rank:    e.Rank,
			Node:    e.Pair.Node,
			Port:    e.Pair.Port,
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}
