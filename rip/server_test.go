package rip_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-lab/domain-kernel/ec"
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/pkt"
	"github.com/m-lab/domain-kernel/rip"
	"github.com/m-lab/domain-kernel/socket"
	"github.com/m-lab/domain-kernel/status"
)

// captureNetIO records every header/payload handed to Send, decoding
// the header immediately (the pool page is about to be returned by
// the caller) so assertions can run after Send returns.
type captureNetIO struct {
	pool *netbuf.Pool
	sent []*pkt.Header
}

func (c *captureNetIO) Send(ctx context.Context, port pkt.Port, header netbuf.PageAddr, data netbuf.DataArray) status.Status {
	hdr, err := pkt.ParseHeader(c.pool.HeaderBytes(header), netbuf.HeaderSize)
	if err == nil {
		c.sent = append(c.sent, hdr)
	}
	return status.OK
}

func newTestKernel(t *testing.T, router pkt.Router, netio pkt.NetIO) *pkt.Kernel {
	t.Helper()
	return &pkt.Kernel{
		Pool:       netbuf.NewPool(16, 16),
		Sockets:    socket.NewTable(),
		IDs:        pkt.NewIDGenerator(),
		Router:     router,
		NetIO:      netio,
		NodeMe:     100,
		QuitEC:     ec.New(),
		Visibility: pkt.NewVisibilityTracker(),
	}
}

func TestHaltOnLastPortSendsPoisonAndClearsChanges(t *testing.T) {
	tbl := rip.NewTable(100)
	tbl.AddPort(rip.Port{Port: pkt.Port{Index: 1, MTU: 1500}})
	tbl.AddPort(rip.Port{Port: pkt.Port{Index: 2, MTU: 1500}})
	tbl.Update(42, rip.Standard, 5, 1, 0, [12]byte{})

	capture := &captureNetIO{}
	k := newTestKernel(t, tbl, capture)
	capture.pool = k.Pool
	srv := rip.NewServer(k, tbl)

	remaining := tbl.RemovePort(2)
	if remaining != 1 {
		t.Fatalf("want 1 remaining port, got %d", remaining)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Halt(ctx, remaining)

	if len(capture.sent) != 2 {
		t.Fatalf("want one poison broadcast per class, got %d", len(capture.sent))
	}
	for _, hdr := range capture.sent {
		rp, err := rip.ParsePacket(hdr.Template)
		if err != nil {
			t.Fatalf("ParsePacket: %v", err)
		}
		if len(rp.Entries) != 1 || rp.Entries[0].Network != rip.FullTableSentinel {
			t.Fatalf("want a single poison entry, got %+v", rp.Entries)
		}
		if hdr.DestNode != rip.BroadcastNode&0x00FFFFFF {
			t.Fatalf("want broadcast destination, got %x", hdr.DestNode)
		}
	}

	// A further SendUpdates call with nothing changed should be a
	// silent no-op: the recent-changes flags were cleared by Halt.
	capture.sent = nil
	srv.SendUpdates(ctx, rip.Standard)
	if len(capture.sent) != 0 {
		t.Fatalf("expected no further broadcast, got %d", len(capture.sent))
	}
}
