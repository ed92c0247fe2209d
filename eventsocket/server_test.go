package eventsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/m-lab/go/rtx"
)

func TestServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir, err := ioutil.TempDir("", "TestEventSocketServer")
	rtx.Must(err, "Could not create tempdir")
	defer os.RemoveAll(dir)

	srv := New(dir + "/kernelevents.sock").(*server)
	srv.Listen()
	go srv.Serve(ctx)
	log.Println("About to dial")
	c, err := net.Dial("unix", dir+"/kernelevents.sock")
	rtx.Must(err, "Could not open UNIX domain socket")

	// Busy wait until the server has registered the client
	for {
		srv.mutex.Lock()
		length := len(srv.clients)
		srv.mutex.Unlock()
		if length > 0 {
			break
		}
	}

	// Send an event on the server, to cause the client to be notified by the server.
	srv.SocketClosed(time.Now(), 4)
	r := bufio.NewScanner(c)
	if !r.Scan() {
		t.Error("Should have been able to scan until the next newline, but couldn't")
	}
	var event KernelEvent
	rtx.Must(json.Unmarshal(r.Bytes(), &event), "Could not unmarshall")
	if event.Event != SocketClose || event.Socket != 4 {
		t.Error("Event was supposed to be {SocketClose, 4}, not", event)
	}

	// Send another event on the server, to cause the client to be notified by the server.
	before := time.Now()
	srv.SocketOpened(time.Now(), 4, 7)
	if !r.Scan() {
		t.Error("Should have been able to scan until the next newline, but couldn't")
	}
	rtx.Must(json.Unmarshal(r.Bytes(), &event), "Could not unmarshall")
	after := time.Now()
	if before.After(event.Timestamp) || after.Before(event.Timestamp) {
		t.Error("It should be true that", before, "<", event.Timestamp, "<", after)
	}
	event.Timestamp = time.Time{}
	if diff := deep.Equal(event, KernelEvent{Event: SocketOpen, Socket: 4, AddrSpace: 7}); diff != nil {
		t.Error("Event differed from expected:", diff)
	}

	// Send a port event too, to exercise the remaining two kinds.
	srv.PortUp(time.Now(), 0, 0xC0A80000)
	if !r.Scan() {
		t.Error("Should have been able to scan until the next newline, but couldn't")
	}
	rtx.Must(json.Unmarshal(r.Bytes(), &event), "Could not unmarshall")
	event.Timestamp = time.Time{}
	if diff := deep.Equal(event, KernelEvent{Event: PortUp, Port: 0, Network: 0xC0A80000}); diff != nil {
		t.Error("Event differed from expected:", diff)
	}

	// Close down things on the client side. When the server next tries to send
	// something to the client, the client should get removed from the set of
	// active clients.
	c.Close()

	// Now verify some internal error handling:
	srv.eventC <- nil
	srv.removeClient(nil)
	// No SIGSEGV == success!

	// Send an event to ensure that cleanup should occur.
	srv.PortDown(time.Now(), 0)

	// Busy wait until the server has unregistered the client
	for {
		srv.mutex.Lock()
		length := len(srv.clients)
		srv.mutex.Unlock()
		if length == 0 {
			break
		}
	}
	// Cancel the context to shutdown the server.
	cancel()
	// Wait for every component goroutine of the server to complete.
	srv.servingWG.Wait()
	// No timeout == success!
}

func TestKernelEventKind_String(t *testing.T) {
	tests := []struct {
		want string
		k    KernelEventKind
	}{
		{"SocketOpen", SocketOpen},
		{"SocketClose", SocketClose},
		{"PortUp", PortUp},
		{"PortDown", PortDown},
		{"KernelEventKind(9)", KernelEventKind(9)},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.k.String(); got != tt.want {
				t.Errorf("KernelEventKind.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNullServer(t *testing.T) {
	// Verify that the null server never crashes or returns a non-null error
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NullServer()
	rtx.Must(srv.Listen(), "Could not listen")
	rtx.Must(srv.Serve(ctx), "Could not serve")
	srv.SocketOpened(time.Now(), 0, 0)
	srv.SocketClosed(time.Now(), 0)
	srv.PortUp(time.Now(), 0, 0)
	srv.PortDown(time.Now(), 0)
	// No crash == success
}
