package netbuf_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/m-lab/domain-kernel/netbuf"
)

func TestGetHdrNeverBlocksAndExhausts(t *testing.T) {
	p := netbuf.NewPool(2, 2)
	a1, _, ok := p.GetHdr()
	if !ok {
		t.Fatal("expected first GetHdr to succeed")
	}
	a2, _, ok := p.GetHdr()
	if !ok {
		t.Fatal("expected second GetHdr to succeed")
	}
	if _, _, ok := p.GetHdr(); ok {
		t.Fatal("expected pool to report exhaustion, not block")
	}
	p.RtnHdr(a1)
	if _, _, ok := p.GetHdr(); !ok {
		t.Fatal("expected GetHdr to succeed after a return")
	}
	p.RtnHdr(a2)
}

func TestHeaderECWakesWaiter(t *testing.T) {
	p := netbuf.NewPool(1, 1)
	addr, _, _ := p.GetHdr()

	woke := make(chan struct{})
	go func() {
		p.HeaderEC().WaitNext(context.Background())
		close(woke)
	}()
	time.Sleep(10 * time.Millisecond)
	p.RtnHdr(addr)
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("HeaderEC never woke waiter on RtnHdr")
	}
}

func TestCopyToPAAndDatCopyRoundTrip(t *testing.T) {
	p := netbuf.NewPool(4, 4)
	payload := bytes.Repeat([]byte{0xAB}, 1500) // spans 2 pages
	dat, err := netbuf.CopyToPA(p, payload)
	if err != nil {
		t.Fatalf("CopyToPA: %v", err)
	}
	defer netbuf.ReleaseDataArray(p, dat)

	dest := make([]byte, len(payload))
	n, err := netbuf.DatCopy(p, dat, dest)
	if err != nil {
		t.Fatalf("DatCopy: %v", err)
	}
	if n != len(payload) || !bytes.Equal(dest, payload) {
		t.Fatal("DatCopy did not reproduce the original payload")
	}

	// Repeated DatCopy must return the same bytes; pages are not consumed.
	dest2 := make([]byte, len(payload))
	if _, err := netbuf.DatCopy(p, dat, dest2); err != nil {
		t.Fatalf("second DatCopy: %v", err)
	}
	if !bytes.Equal(dest2, payload) {
		t.Fatal("second DatCopy diverged from the first")
	}
}

func TestCopyToPAReleasesOnExhaustion(t *testing.T) {
	p := netbuf.NewPool(1, 1) // only one data page available
	_, err := netbuf.CopyToPA(p, bytes.Repeat([]byte{1}, 2000))
	if err == nil {
		t.Fatal("expected CopyToPA to fail when it needs more pages than exist")
	}
	// The single page it managed to acquire before failing must have
	// been returned, so a fresh GetDat should succeed.
	if _, ok := p.GetDat(); !ok {
		t.Fatal("expected data pool to have recovered its page after CopyToPA failure")
	}
}

func TestCopyToPATooLarge(t *testing.T) {
	p := netbuf.NewPool(8, 8)
	if _, err := netbuf.CopyToPA(p, make([]byte, netbuf.MaxDataPages*netbuf.DataSize+1)); err == nil {
		t.Fatal("expected error for payload exceeding MaxDataPages*DataSize")
	}
}
