package rip

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/m-lab/domain-kernel/pkt"
	"github.com/m-lab/domain-kernel/socket"
)

// MotherBootstrapSocket is spec.md §4.3's "mother node (socket 1)"
// bootstrap destination for diskless boot.
const MotherBootstrapSocket socket.Number = 1

// BootstrapReply is the route-port descriptor handed back by the
// mother node in response to a diskless bootstrap request.
type BootstrapReply struct {
	Port        Port
	Network     uint32
	Metric      uint8
	GatewayNode uint32
}

// Init is spec.md §4.3's "Initialization": when diskless is true, it
// sends a bootstrap packet to motherNode, waits for a reply carrying a
// route-port descriptor, and primes both table classes by running
// update_int twice with the returned route — once per class.
//
// When diskless is false, Init returns nil without touching t; there
// is no mother node to consult, and ports are registered by the
// caller through Table.AddPort.
func Init(ctx context.Context, k *pkt.Kernel, t *Table, diskless bool, motherNode uint32, timeout time.Duration) error {
	if !diskless {
		return nil
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	info := pkt.Info{Kind: pkt.KindSimple, Protocol: pkt.ProtocolStandard, RetryCount: 3}
	reply, _, st := k.SarInternet(ctx, info, motherNode, motherNode, MotherBootstrapSocket, nil, nil, timeout)
	if !st.OK() {
		return st
	}

	br, err := parseBootstrapReply(reply)
	if err != nil {
		return err
	}

	t.AddPort(br.Port)
	for _, c := range []Class{Standard, NonStandard} {
		t.Update(br.Network, c, br.Metric, br.Port.Index, br.GatewayNode, br.Port.Address)
	}
	return nil
}

// bootstrapReplyWire is the fixed-shape encoding of BootstrapReply:
// port index(4) + MTU(4) + network(4) + metric(1) + gateway node(4).
const bootstrapReplyWire = 17

func parseBootstrapReply(buf []byte) (BootstrapReply, error) {
	if len(buf) < bootstrapReplyWire {
		return BootstrapReply{}, fmt.Errorf("rip: bootstrap reply too short: %d bytes", len(buf))
	}
	idx := int(binary.BigEndian.Uint32(buf[0:]))
	mtu := int(binary.BigEndian.Uint32(buf[4:]))
	network := binary.BigEndian.Uint32(buf[8:])
	metric := buf[12]
	gateway := binary.BigEndian.Uint32(buf[13:])
	return BootstrapReply{
		Port:        Port{Port: pkt.Port{Index: idx, MTU: mtu}, Network: network},
		Network:     network,
		Metric:      metric,
		GatewayNode: gateway,
	}, nil
}
