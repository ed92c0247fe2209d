package socket_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-lab/domain-kernel/socket"
)

func TestFIFOOrdering(t *testing.T) {
	tbl := socket.NewTable()
	s, err := tbl.Open(socket.File, 1, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	a := socket.Descriptor{HeaderPage: 1}
	b := socket.Descriptor{HeaderPage: 2}
	if !s.Put(a) || !s.Put(b) {
		t.Fatal("Put should succeed within capacity")
	}
	got1, ok := s.Get()
	if !ok || got1 != a {
		t.Errorf("first Get() = %+v, want %+v", got1, a)
	}
	got2, ok := s.Get()
	if !ok || got2 != b {
		t.Errorf("second Get() = %+v, want %+v", got2, b)
	}
	if _, ok := s.Get(); ok {
		t.Error("Get() on empty socket should report !ok")
	}
}

func TestPutReportsFullWithoutBlocking(t *testing.T) {
	tbl := socket.NewTable()
	s, _ := tbl.Open(socket.File, 1, 1)
	if !s.Put(socket.Descriptor{HeaderPage: 1}) {
		t.Fatal("first Put should succeed")
	}
	if s.Put(socket.Descriptor{HeaderPage: 2}) {
		t.Fatal("Put on a full socket should return false, not block")
	}
}

func TestInvalidSocketNumber(t *testing.T) {
	tbl := socket.NewTable()
	if _, err := tbl.Open(0, 1, 1); err == nil {
		t.Error("socket 0 is reserved and should be rejected")
	}
	if _, err := tbl.Open(socket.MaxNumber+1, 1, 1); err == nil {
		t.Error("socket numbers above 224 should be rejected")
	}
}

func TestCloseOnLastOwner(t *testing.T) {
	tbl := socket.NewTable()
	s, _ := tbl.Open(socket.RIP, 1, 4)
	s.AddOwner(2)
	tbl.Close(socket.RIP, 1)
	if _, ok := tbl.Get(socket.RIP); !ok {
		t.Fatal("socket should remain open while owner 2 still holds it")
	}
	tbl.Close(socket.RIP, 2)
	if _, ok := tbl.Get(socket.RIP); ok {
		t.Fatal("socket should close once its last owner exits")
	}
}

func TestPutAdvancesEC(t *testing.T) {
	tbl := socket.NewTable()
	s, _ := tbl.Open(socket.Ping, 1, 4)
	before := s.EC().Read()
	s.Put(socket.Descriptor{})
	if s.EC().Read() != before+1 {
		t.Error("Put should advance the socket's event count")
	}
}

func TestOpenEphemeralSkipsWellKnownAndInUse(t *testing.T) {
	tbl := socket.NewTable()
	_, n1, err := tbl.OpenEphemeral(1, 4)
	if err != nil {
		t.Fatalf("OpenEphemeral: %v", err)
	}
	if n1 < 32 {
		t.Errorf("ephemeral socket %d collides with the well-known range", n1)
	}
	_, n2, err := tbl.OpenEphemeral(1, 4)
	if err != nil {
		t.Fatalf("second OpenEphemeral: %v", err)
	}
	if n2 == n1 {
		t.Error("second OpenEphemeral should not reuse an already-open number")
	}
}

func TestWatchAddrSpacesFindsOwners(t *testing.T) {
	tbl := socket.NewTable()
	tbl.Open(socket.File, 42, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	idsChan := make(chan socket.AddrSpaceID, 16)
	go socket.WatchAddrSpaces(ctx, tbl, idsChan)

	found := false
	for id := range idsChan {
		if id == 42 {
			found = true
		}
	}
	if !found {
		t.Error("expected to observe address space 42 among socket owners")
	}
}
