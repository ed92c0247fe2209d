package pkt

import (
	"context"
	"time"

	"github.com/m-lab/domain-kernel/ec"
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/socket"
)

// pingOwner is the address-space id the kernel's own background
// processes (ping server, RIP server) register as socket owners
// under, distinct from any user process id.
const pingOwner socket.AddrSpaceID = 0

// pingNode sends up to retries pings to node on socket Ping and
// reports whether any were answered — the active half of
// likely_to_answer.
func pingNode(ctx context.Context, k *Kernel, node uint32, retries int, timeout time.Duration) bool {
	info := Info{Kind: KindSimple, Protocol: ProtocolStandard, RetryCount: retries}
	_, _, st := k.SarInternet(ctx, info, node, node, socket.Ping, nil, nil, timeout)
	return st.OK()
}

// RunPingServer is spec.md's ping server process: open socket Ping,
// and forever wait for an arriving packet, then echo its template
// back to the sender with the same request id so the sender's
// sar_internet correlates it as a reply. It returns when ctx is done
// or the kernel's quit event count advances.
func RunPingServer(ctx context.Context, k *Kernel) error {
	s, err := k.Sockets.Open(socket.Ping, pingOwner, socket.DefaultCapacity)
	if err != nil {
		return err
	}
	defer k.Sockets.Close(socket.Ping, pingOwner)

	for {
		idx, _, err := ec.Select(ctx, ec.NextOf(s.EC()), ec.NextOf(k.QuitEC))
		if err != nil {
			return err
		}
		if idx == 1 {
			return nil
		}
		for {
			d, ok := s.Get()
			if !ok {
				break
			}
			handlePing(ctx, k, d)
		}
	}
}

func handlePing(ctx context.Context, k *Kernel, d socket.Descriptor) {
	hdr, err := ParseHeader(k.Pool.HeaderBytes(d.HeaderPage), netbuf.HeaderSize)
	k.Pool.RtnHdr(d.HeaderPage)
	netbuf.ReleaseDataArray(k.Pool, d.Data)
	if err != nil {
		return
	}

	info := Info{
		Kind:             hdr.Kind,
		Protocol:         hdr.Protocol,
		ExtensionSubtype: hdr.ExtensionSubtype,
		RetryCount:       1,
	}
	k.SendInternet(ctx, info, hdr.RoutingKey, hdr.SrcNode, hdr.SrcSocket, socket.Ping, hdr.RequestID, hdr.Template, nil)
}
