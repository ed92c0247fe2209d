package app_test

import (
	"testing"

	"github.com/m-lab/domain-kernel/app"
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/pkt"
	"github.com/m-lab/domain-kernel/socket"
)

func newTestDispatcher(t *testing.T, fileCapacity, overflowCapacity int) (*app.Dispatcher, *netbuf.Pool, *socket.Table) {
	t.Helper()
	pool := netbuf.NewPool(16, 16)
	sockets := socket.NewTable()
	if _, err := sockets.Open(socket.File, 1, fileCapacity); err != nil {
		t.Fatalf("open file socket: %v", err)
	}
	if _, err := sockets.Open(socket.Overflow, 1, overflowCapacity); err != nil {
		t.Fatalf("open overflow socket: %v", err)
	}
	return app.NewDispatcher(pool, sockets), pool, sockets
}

func buildSimplePacket(t *testing.T, pool *netbuf.Pool, destSocket socket.Number) netbuf.PageAddr {
	t.Helper()
	addr, buf, ok := pool.GetHdr()
	if !ok {
		t.Fatal("header pool exhausted")
	}
	h := &pkt.Header{
		Kind:       pkt.KindSimple,
		Protocol:   pkt.ProtocolStandard,
		SrcNode:    1,
		DestNode:   2,
		DestSocket: destSocket,
		SrcSocket:  socket.Number(40),
	}
	if _, err := h.Marshal(buf); err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	return addr
}

// TestFileSocketOverflowSpillsToOverflowSocket is spec.md §8 scenario
// S4: two back-to-back packets to socket 4 while it is full and
// socket 6 is empty.
func TestFileSocketOverflowSpillsToOverflowSocket(t *testing.T) {
	d, pool, sockets := newTestDispatcher(t, 1, 1)
	fileSock, _ := sockets.Get(socket.File)
	if !fileSock.Put(socket.Descriptor{}) {
		t.Fatal("could not fill socket 4 before the test")
	}

	hdr1 := buildSimplePacket(t, pool, socket.File)
	d.Demux(hdr1, netbuf.DataArray{}, 0)

	overflowSock, _ := sockets.Get(socket.Overflow)
	if overflowSock.Len() != 1 {
		t.Fatalf("first overflow packet should land on socket 6, got len=%d", overflowSock.Len())
	}

	hdr2 := buildSimplePacket(t, pool, socket.File)
	d.Demux(hdr2, netbuf.DataArray{}, 0)

	if overflowSock.Len() != 1 {
		t.Fatalf("second packet should not fit once overflow is also full, got len=%d", overflowSock.Len())
	}
}

// TestReturnBuffersSpecialCaseSkipsQueueing exercises spec.md §9's
// unexplained network-type-2/socket-4/negative-flag branch.
func TestReturnBuffersSpecialCaseSkipsQueueing(t *testing.T) {
	d, pool, sockets := newTestDispatcher(t, 4, 4)
	addr, buf, ok := pool.GetHdr()
	if !ok {
		t.Fatal("header pool exhausted")
	}
	h := &pkt.Header{
		Kind:       pkt.KindSimple,
		Protocol:   pkt.ProtocolStandard,
		SrcNode:    1,
		DestNode:   2,
		DestSocket: socket.File,
		SrcSocket:  socket.Number(40),
		RequestID:  0x8000, // sign bit set: negative as int16
	}
	if _, err := h.Marshal(buf); err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	d.Demux(addr, netbuf.DataArray{}, 0)

	fileSock, _ := sockets.Get(socket.File)
	if fileSock.Len() != 0 {
		t.Fatalf("return-buffers special case should skip queueing, got len=%d", fileSock.Len())
	}
}

func TestOrdinaryPacketDeliveredToDestSocket(t *testing.T) {
	d, pool, sockets := newTestDispatcher(t, 4, 4)
	if _, err := sockets.Open(socket.RIP, 1, 4); err != nil {
		t.Fatalf("open RIP socket: %v", err)
	}
	hdr := buildSimplePacket(t, pool, socket.RIP)
	d.Demux(hdr, netbuf.DataArray{}, 0)

	ripSock, _ := sockets.Get(socket.RIP)
	if ripSock.Len() != 1 {
		t.Fatalf("expected packet delivered to socket RIP, got len=%d", ripSock.Len())
	}
}
