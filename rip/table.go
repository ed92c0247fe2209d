// Package rip implements the RIP-style distance-vector routing layer:
// two parallel route classes per network ("standard" and
// "non-standard"), an aging timer, a request/response server on
// socket 8, broadcast updates, and the clean halt-on-last-port poison
// announcement. It builds on pkt and socket, and in turn satisfies
// pkt.Router so PKT's header builder can resolve a next hop without
// importing rip directly.
package rip

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/m-lab/domain-kernel/pkt"
	"github.com/m-lab/domain-kernel/status"
)

// Class distinguishes the two parallel route tables spec.md §3
// describes: "standard" and "non-standard," each with its own
// infinity metric.
type Class int

const (
	Standard Class = iota
	NonStandard
	numClasses
)

// Infinity returns the unreachable-metric ceiling for c: 17 for
// standard, 16 for non-standard, per spec.md §4.3 step 4.
func (c Class) Infinity() uint8 {
	if c == Standard {
		return 17
	}
	return 16
}

// String renders c for logs and reporting tools.
func (c Class) String() string {
	if c == Standard {
		return "standard"
	}
	return "non-standard"
}

// State is a route's 2-bit lifecycle state, spec.md §3's "state field
// packed with metric/flags."
type State int

const (
	Free State = iota
	Valid
	Aging
	Dead
)

// String renders s for logs and reporting tools.
func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Valid:
		return "valid"
	case Aging:
		return "aging"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Route is one class's view of how to reach a network.
type Route struct {
	Metric       uint8
	Port         int
	NextHopAddr  [12]byte
	GatewayNode  uint32
	State        State
	Age          int
	RecentChange bool
}

func freshRoute(infinity uint8) Route {
	return Route{Metric: infinity, State: Free}
}

// entry is one network's two parallel routes — spec.md's RIP routing
// table row. "A network appears at most once" (§3 invariant 4).
type entry struct {
	network uint32
	routes  [numClasses]Route
}

// ageTicks is how many timer ticks an aging route survives before
// being reclaimed — spec.md §4.3's "expiry interval."
const ageTicks = 6

// Port is one outgoing interface registered with the table, carrying
// the network it is currently assigned to announce on (for
// split-horizon bookkeeping) alongside the pkt.Port it maps to.
type Port struct {
	pkt.Port
	Network uint32
}

// Table is the kernel-owned RIP routing state: both route classes,
// indexed by network id, plus the registered port set. A Table
// implements pkt.Router.
type Table struct {
	mu      sync.RWMutex
	nodeMe  uint32
	entries map[uint32]*entry
	ports   map[int]*Port
}

// NewTable returns an empty table for node nodeMe.
func NewTable(nodeMe uint32) *Table {
	return &Table{
		nodeMe:  nodeMe,
		entries: make(map[uint32]*entry),
		ports:   make(map[int]*Port),
	}
}

// AddPort registers or replaces port p.
func (t *Table) AddPort(p Port) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := p
	t.ports[p.Index] = &cp
}

// RemovePort deregisters a port and reports how many ports remain —
// the input to spec.md §4.3's halt-on-last-port rule.
func (t *Table) RemovePort(index int) (remaining int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ports, index)
	return len(t.ports)
}

// PortCount reports the number of registered ports.
func (t *Table) PortCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ports)
}

func (t *Table) portLocked(index int) (*Port, bool) {
	p, ok := t.ports[index]
	return p, ok
}

// getOrCreate returns the entry for network, creating it (with both
// route classes Free) if absent. Caller must hold t.mu.
func (t *Table) getOrCreate(network uint32) *entry {
	e, ok := t.entries[network]
	if !ok {
		e = &entry{network: network}
		for c := Class(0); c < numClasses; c++ {
			e.routes[c] = freshRoute(c.Infinity())
		}
		t.entries[network] = e
	}
	return e
}

// FindNextHop implements pkt.Router. It prefers the standard route
// class and falls back to non-standard; a directly attached network
// (metric <= 1) resolves to RouteDirect, anything further to
// RouteGateway. Routing to nodeMe itself always resolves to
// RouteLocal without consulting the table.
func (t *Table) FindNextHop(routingKey, destNode uint32) (pkt.NextHop, status.Status) {
	if destNode == t.nodeMe {
		return pkt.NextHop{Class: pkt.RouteLocal}, status.OK
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[routingKey]
	if !ok {
		return pkt.NextHop{}, status.RouteNotFound
	}
	for _, c := range []Class{Standard, NonStandard} {
		r := e.routes[c]
		if r.State != Valid && r.State != Aging {
			continue
		}
		if r.Metric >= c.Infinity() {
			continue
		}
		port, ok := t.portLocked(r.Port)
		if !ok {
			continue
		}
		class := pkt.RouteGateway
		if r.Metric <= 1 {
			class = pkt.RouteDirect
		}
		return pkt.NextHop{Port: port.Port, Class: class, NextHopNode: r.GatewayNode}, status.OK
	}
	return pkt.NextHop{}, status.RouteNotFound
}

// hasRecentChanges reports whether any entry's class-c route is
// flagged for a pending broadcast.
func (t *Table) hasRecentChanges(c Class) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.routes[c].RecentChange {
			return true
		}
	}
	return false
}

// clearRecentChanges clears the recent-change flag on every class-c
// route, called after SendUpdates has broadcast them.
func (t *Table) clearRecentChanges(c Class) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		e.routes[c].RecentChange = false
	}
}

// Snapshot returns a copy of every entry's class-c route, for
// reporting tools (cmd/riptool) and tests. Dead entries are omitted.
func (t *Table) Snapshot(c Class) []struct {
	Network uint32
	Route   Route
} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []struct {
		Network uint32
		Route   Route
	}
	for net, e := range t.entries {
		r := e.routes[c]
		if r.State == Dead || r.State == Free {
			continue
		}
		out = append(out, struct {
			Network uint32
			Route   Route
		}{Network: net, Route: r})
	}
	return out
}

// SnapshotLine is one JSON-encodable row of a WriteSnapshot dump:
// a network's route in one class, flattened for cmd/riptool.
type SnapshotLine struct {
	Class       string
	Network     uint32
	Metric      uint8
	Port        int
	GatewayNode uint32
	State       string
	Age         int
}

// WriteSnapshot JSON-encodes one line per live route across both
// classes, for cmd/riptool to turn into a CSV report.
func (t *Table) WriteSnapshot(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, c := range []Class{Standard, NonStandard} {
		for _, row := range t.Snapshot(c) {
			line := SnapshotLine{
				Class:       c.String(),
				Network:     row.Network,
				Metric:      row.Route.Metric,
				Port:        row.Route.Port,
				GatewayNode: row.Route.GatewayNode,
				State:       row.Route.State.String(),
				Age:         row.Route.Age,
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
	}
	return nil
}
