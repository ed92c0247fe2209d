package rip

import (
	"context"
	"time"

	"github.com/m-lab/domain-kernel/ec"
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/pkt"
	"github.com/m-lab/domain-kernel/socket"
	"github.com/m-lab/domain-kernel/status"
)

// BroadcastNode is spec.md §4.3's broadcast destination, "the
// broadcast address 0xFFFFF."
const BroadcastNode uint32 = 0xFFFFF

// classOfHeader recovers which route class an incoming RIP packet
// belongs to from the carrying internet header's protocol byte —
// spec.md §4.3's "a flag byte in the received descriptor chooses
// standard vs non-standard," folded onto the header field PKT already
// reserves for a protocol selector rather than inventing a second one.
func classOfHeader(protocol byte) Class {
	if protocol == pkt.ProtocolStandard {
		return Standard
	}
	return NonStandard
}

func protocolOfClass(c Class) byte {
	if c == Standard {
		return pkt.ProtocolStandard
	}
	return pkt.ProtocolExtended
}

// Server runs the RIP protocol on socket 8: receiving request/
// response/name-register packets, answering requests, applying
// updates, and broadcasting changes.
type Server struct {
	Kernel *pkt.Kernel
	Table  *Table

	// NameRegisterHook, if set, receives command-3 packets — spec.md
	// §4.3 step 6's "forward to the directory-of-services hook."
	NameRegisterHook func(Packet)

	sock *socket.Socket
}

// NewServer returns a Server bound to k and t.
func NewServer(k *pkt.Kernel, t *Table) *Server {
	return &Server{Kernel: k, Table: t}
}

// serverOwner is the address-space id the RIP server registers its
// socket under, mirroring pkt's pingOwner convention.
const serverOwner socket.AddrSpaceID = 0

// Run opens socket RIP and processes packets until ctx is done or the
// kernel's quit event count advances.
func (s *Server) Run(ctx context.Context) error {
	sock, err := s.Kernel.Sockets.Open(socket.RIP, serverOwner, socket.DefaultCapacity)
	if err != nil {
		return err
	}
	s.sock = sock
	defer s.Kernel.Sockets.Close(socket.RIP, serverOwner)

	for {
		idx, _, err := ec.Select(ctx, ec.NextOf(sock.EC()), ec.NextOf(s.Kernel.QuitEC))
		if err != nil {
			return err
		}
		if idx == 1 {
			return nil
		}
		for {
			d, ok := sock.Get()
			if !ok {
				break
			}
			s.handle(ctx, d)
		}
	}
}

func (s *Server) handle(ctx context.Context, d socket.Descriptor) {
	hdr, err := pkt.ParseHeader(s.Kernel.Pool.HeaderBytes(d.HeaderPage), netbuf.HeaderSize)
	s.Kernel.Pool.RtnHdr(d.HeaderPage)
	defer netbuf.ReleaseDataArray(s.Kernel.Pool, d.Data)
	if err != nil {
		return
	}

	template := hdr.Template
	if len(template) == 0 && d.Data.Len > 0 {
		payload := make([]byte, d.Data.Len)
		if _, cerr := netbuf.DatCopy(s.Kernel.Pool, d.Data, payload); cerr == nil {
			template = payload
		}
	}
	srcNode := hdr.SrcNode

	class := classOfHeader(hdr.Protocol)
	rp, perr := ParsePacket(template)
	if perr != nil {
		return
	}

	switch rp.Command {
	case CmdRequest:
		s.handleRequest(ctx, class, hdr.RequestID, srcNode, hdr.SrcSocket, rp)
	case CmdResponse:
		s.handleResponse(ctx, class, srcNode, rp)
	case CmdNameRegister:
		if s.NameRegisterHook != nil {
			s.NameRegisterHook(rp)
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, class Class, requestID uint16, destNode uint32, destSocket socket.Number, req Packet) {
	var wantAll bool
	wanted := make(map[uint32]bool, len(req.Entries))
	for _, e := range req.Entries {
		if e.Network == FullTableSentinel {
			wantAll = true
			break
		}
		wanted[e.Network] = true
	}

	snap := s.Table.Snapshot(class)
	var entries []PacketEntry
	for _, row := range snap {
		if !wantAll && !wanted[row.Network] {
			continue
		}
		entries = append(entries, PacketEntry{Network: row.Network, Metric: uint16(row.Route.Metric)})
	}

	resp := Packet{Command: CmdResponse, Entries: entries}
	info := pkt.Info{Kind: pkt.KindSimple, Protocol: protocolOfClass(class), RetryCount: 1}
	body, err := resp.Marshal()
	if err != nil {
		return
	}

	if class == Standard {
		s.Kernel.SendInternet(ctx, info, destNode, destNode, destSocket, socket.RIP, requestID, body, nil)
	} else {
		s.sendRetrying(ctx, info, destNode, destSocket, requestID, body)
	}
}

func (s *Server) handleResponse(ctx context.Context, class Class, srcNode uint32, resp Packet) {
	port, portOK := s.portForSource(srcNode)
	if portOK {
		if port.Network != 0 {
			var anyDisagree bool
			for _, e := range resp.Entries {
				if e.Network != FullTableSentinel && e.Network != port.Network {
					anyDisagree = true
					break
				}
			}
			if anyDisagree {
				s.Table.RetractNetwork(port.Network, class)
				port.Network = resp.Entries[0].Network
			}
		}
	}

	for _, e := range resp.Entries {
		if e.Network == FullTableSentinel {
			continue
		}
		m := uint8(e.Metric) + 1
		if m > class.Infinity() {
			m = class.Infinity()
		}
		s.Table.Update(e.Network, class, m, portIndexOf(port), srcNode, [12]byte{})
	}
	s.SendUpdates(ctx, class)
}

func portIndexOf(p *Port) int {
	if p == nil {
		return -1
	}
	return p.Index
}

func (s *Server) portForSource(srcNode uint32) (*Port, bool) {
	s.Table.mu.RLock()
	defer s.Table.mu.RUnlock()
	for _, p := range s.Table.ports {
		if p.Network == srcNode {
			return p, true
		}
	}
	for _, p := range s.Table.ports {
		return p, true
	}
	return nil, false
}

// SendUpdates is spec.md's send_updates(class): when some class route
// carries a recent-change flag, broadcast every valid or aging entry
// of that class in one packet and clear the flags. Entries are not
// filtered by the port they were learned on: no split-horizon
// suppression is applied.
func (s *Server) SendUpdates(ctx context.Context, class Class) {
	if !s.Table.hasRecentChanges(class) {
		return
	}
	snap := s.Table.Snapshot(class)
	if len(snap) == 0 {
		return
	}
	entries := make([]PacketEntry, 0, len(snap))
	for _, row := range snap {
		entries = append(entries, PacketEntry{Network: row.Network, Metric: uint16(row.Route.Metric)})
	}
	s.broadcast(ctx, class, entries)
	s.Table.clearRecentChanges(class)
}

func (s *Server) broadcast(ctx context.Context, class Class, entries []PacketEntry) {
	rp := Packet{Command: CmdResponse, Entries: entries}
	body, err := rp.Marshal()
	if err != nil {
		return
	}
	s.send(ctx, class, BroadcastNode, socket.RIP, body)
}

func (s *Server) send(ctx context.Context, class Class, destNode uint32, destSocket socket.Number, body []byte) {
	info := pkt.Info{Kind: pkt.KindSimple, Protocol: protocolOfClass(class), RetryCount: 1}
	if class == Standard {
		s.Kernel.SendInternet(ctx, info, destNode, destNode, destSocket, socket.RIP, s.Kernel.IDs.NextID(), body, nil)
	} else {
		s.sendRetrying(ctx, info, destNode, destSocket, s.Kernel.IDs.NextID(), body)
	}
}

// sendRetrying is rip.send: the retry loop spec.md §4.3 step 4
// prescribes for non-standard responses, layered on top of PKT's own
// send_internet retry (which already honors Info.RetryCount).
func (s *Server) sendRetrying(ctx context.Context, info pkt.Info, destNode uint32, destSocket socket.Number, requestID uint16, body []byte) status.Status {
	const retries = 3
	var last status.Status
	for i := 0; i < retries; i++ {
		last = s.Kernel.SendInternet(ctx, info, destNode, destNode, destSocket, socket.RIP, requestID, body, nil)
		if last.OK() {
			return status.OK
		}
		select {
		case <-ctx.Done():
			return status.RemoteNodeFailedToRespond.WithRemote()
		case <-time.After(25 * time.Millisecond):
		}
	}
	return last
}

// RunTimer ticks the table's aging timer every interval until ctx is
// done, broadcasting any class whose table picked up a recent change.
func (s *Server) RunTimer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Table.Tick()
			for _, c := range []Class{Standard, NonStandard} {
				if s.Table.hasRecentChanges(c) {
					s.SendUpdates(ctx, c)
				}
			}
		}
	}
}

// Halt implements spec.md §4.3's "Halt": when the routing-port count
// drops to 1, emit the poison response {network: FullTableSentinel,
// metric: 16} (unreachable on both classes, per spec.md §8 scenario
// S5) and clear recent-changes. Call this after removing a port via
// Table.RemovePort.
func (s *Server) Halt(ctx context.Context, remainingPorts int) {
	if remainingPorts != 1 {
		return
	}
	for _, c := range []Class{Standard, NonStandard} {
		poison := []PacketEntry{{Network: FullTableSentinel, Metric: uint16(NonStandard.Infinity())}}
		s.broadcast(ctx, c, poison)
		s.Table.clearRecentChanges(c)
	}
}
