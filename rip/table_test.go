package rip_test

import (
	"testing"

	"github.com/m-lab/domain-kernel/pkt"
	"github.com/m-lab/domain-kernel/rip"
	"github.com/m-lab/domain-kernel/status"
)

func TestFindNextHopLocal(t *testing.T) {
	tbl := rip.NewTable(100)
	next, st := tbl.FindNextHop(0, 100)
	if !st.OK() {
		t.Fatalf("FindNextHop to self: %v", st)
	}
	if next.Class != pkt.RouteLocal {
		t.Fatalf("want RouteLocal, got %v", next.Class)
	}
}

func TestFindNextHopNotFound(t *testing.T) {
	tbl := rip.NewTable(100)
	if _, st := tbl.FindNextHop(7, 200); st != status.RouteNotFound {
		t.Fatalf("want RouteNotFound, got %v", st)
	}
}

func TestFindNextHopDirectVsGateway(t *testing.T) {
	tbl := rip.NewTable(100)
	tbl.AddPort(rip.Port{Port: pkt.Port{Index: 1, MTU: 1500}})
	tbl.Update(5, rip.Standard, 1, 1, 0, [12]byte{})

	next, st := tbl.FindNextHop(5, 200)
	if !st.OK() {
		t.Fatalf("FindNextHop: %v", st)
	}
	if next.Class != pkt.RouteDirect {
		t.Fatalf("metric-1 route should resolve RouteDirect, got %v", next.Class)
	}

	tbl.Update(6, rip.Standard, 4, 1, 9, [12]byte{})
	next, st = tbl.FindNextHop(6, 200)
	if !st.OK() {
		t.Fatalf("FindNextHop: %v", st)
	}
	if next.Class != pkt.RouteGateway || next.NextHopNode != 9 {
		t.Fatalf("metric-4 route should resolve RouteGateway via 9, got %+v", next)
	}
}

func TestNoDuplicateNetworksAndMetricCeiling(t *testing.T) {
	tbl := rip.NewTable(1)
	tbl.AddPort(rip.Port{Port: pkt.Port{Index: 1, MTU: 1500}})
	tbl.Update(5, rip.Standard, 5, 1, 0, [12]byte{})
	tbl.Update(5, rip.Standard, 200, 2, 0, [12]byte{}) // unreachable announcement, capped to infinity

	snap := tbl.Snapshot(rip.Standard)
	var found int
	for _, row := range snap {
		if row.Network != 5 {
			continue
		}
		found++
		if row.Route.Metric > rip.Standard.Infinity() {
			t.Fatalf("metric %d exceeds infinity %d", row.Route.Metric, rip.Standard.Infinity())
		}
	}
	if found != 1 {
		t.Fatalf("network 5 appeared %d times, want exactly 1", found)
	}
}

func TestUnreachableAdvertisementAgesExistingEntry(t *testing.T) {
	tbl := rip.NewTable(1)
	tbl.Update(5, rip.Standard, 5, 1, 0, [12]byte{})
	tbl.Update(5, rip.Standard, rip.Standard.Infinity(), 2, 0, [12]byte{})

	snap := tbl.Snapshot(rip.Standard)
	if len(snap) != 1 {
		t.Fatalf("expected aging entry to remain visible, got %d rows", len(snap))
	}
	if snap[0].Route.State != rip.Aging {
		t.Fatalf("want Aging state, got %v", snap[0].Route.State)
	}
}

func TestWorseMetricFromDifferentNextHopIgnored(t *testing.T) {
	tbl := rip.NewTable(1)
	tbl.Update(5, rip.Standard, 3, 1, 0, [12]byte{})
	// worse metric from a different next hop is ignored per split horizon.
	tbl.Update(5, rip.Standard, 10, 2, 0, [12]byte{})

	snap := tbl.Snapshot(rip.Standard)
	if len(snap) != 1 || snap[0].Route.Metric != 3 || snap[0].Route.Port != 1 {
		t.Fatalf("expected original route to survive unchanged, got %+v", snap)
	}
}
