package pkt

import (
	"context"

	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/status"
)

// RouteClass distinguishes the three ways a route can reach a
// destination, each with its own maximum payload per spec.md §4.2.
type RouteClass int

const (
	// RouteLocal addresses this node itself; payload limit 4 KiB.
	RouteLocal RouteClass = iota
	// RouteDirect addresses a neighbor reachable without a gateway;
	// payload limit is the outgoing port's MTU.
	RouteDirect
	// RouteGateway addresses a node reached through an intermediate
	// router; payload limit 1 KiB.
	RouteGateway
)

// MaxPayload returns the size limit spec.md §4.2 assigns to c, given
// the chosen port's MTU (only consulted for RouteDirect).
func (c RouteClass) MaxPayload(portMTU int) int {
	switch c {
	case RouteLocal:
		return 4096
	case RouteDirect:
		return portMTU
	case RouteGateway:
		return 1024
	default:
		return 0
	}
}

// Port is a network interface a packet can be sent out of — either a
// simulated in-process port (tests, single-node operation) or one
// backed by a real host link (see netio.DiscoverPorts).
type Port struct {
	Index   int
	MTU     int
	Address [12]byte
}

// NextHop is the result of a routing lookup: the outgoing port, the
// route class that applied, and (for indirect routes) the address of
// the node to hand the packet to next.
type NextHop struct {
	Port        Port
	Class       RouteClass
	NextHopNode uint32
}

// Router resolves a (routing key, destination node) pair to an
// outgoing port — spec.md's rip.find_nexthop. rip.Table implements
// this; pkt depends only on the interface to avoid an import cycle
// with rip (which in turn builds on pkt's header parser).
type Router interface {
	FindNextHop(routingKey, destNode uint32) (NextHop, status.Status)
}

// NetIO is the link-layer send collaborator, spec.md's NET_IO_$SEND.
// The MAC driver itself is explicitly out of scope (spec.md §1); this
// interface is the abstract edge PKT calls across.
type NetIO interface {
	Send(ctx context.Context, port Port, header netbuf.PageAddr, data netbuf.DataArray) status.Status
}
