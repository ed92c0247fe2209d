// Package netio discovers the host's network links and turns them
// into the rip.Port entries spec.md §4.8 expects at bootstrap. It is
// the concrete, in-scope edge of the otherwise-abstract MAC-driver
// collaborator: it does not speak the wire protocol or reimplement
// ARP, it only answers "what ports exist and what is their MTU and
// address."
package netio

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/m-lab/domain-kernel/pkt"
)

// DiscoveredPort pairs the pkt.Port a link resolves to with the IPv4
// network address rip.Table wants to advertise it under. Links with
// no usable IPv4 address, loopback included, are skipped by
// DiscoverPorts.
type DiscoveredPort struct {
	Port    pkt.Port
	Network uint32
}

// DiscoverPorts enumerates the host's network links with
// netlink.LinkList and, for each link that is up and carries an IPv4
// address, resolves its MTU and address via netlink.AddrList. The
// loopback interface is exempt from the "up" check and is included
// under its own link index when it carries an IPv4 address; no port
// is given index 0 specially.
func DiscoverPorts(ctx context.Context) ([]DiscoveredPort, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netio: could not list links: %w", err)
	}

	var out []DiscoveredPort
	for _, link := range links {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		attrs := link.Attrs()
		if attrs.OperState != netlink.OperUp && attrs.Flags&net.FlagLoopback == 0 {
			continue
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil || len(addrs) == 0 {
			continue
		}
		ip4 := addrs[0].IP.To4()
		if ip4 == nil {
			continue
		}
		var addr [12]byte
		copy(addr[:4], ip4)
		out = append(out, DiscoveredPort{
			Port: pkt.Port{
				Index:   attrs.Index,
				MTU:     attrs.MTU,
				Address: addr,
			},
			Network: binary.BigEndian.Uint32(ip4),
		})
	}
	return out, nil
}
