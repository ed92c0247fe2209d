package eventsocket

import (
	"context"
	"io/ioutil"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/m-lab/go/rtx"
)

type testHandler struct {
	mu                         sync.Mutex
	opens, closes, ups, downs int
	lastSocket                 uint16
	lastAddrSpace              uint32
	lastPort                   int
	lastNetwork                uint32
	wg                         sync.WaitGroup
}

func (h *testHandler) SocketOpened(ctx context.Context, timestamp time.Time, socketNum uint16, addrSpace uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opens++
	h.lastSocket = socketNum
	h.lastAddrSpace = addrSpace
	h.wg.Done()
}

func (h *testHandler) SocketClosed(ctx context.Context, timestamp time.Time, socketNum uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	h.lastSocket = socketNum
	h.wg.Done()
}

func (h *testHandler) PortUp(ctx context.Context, timestamp time.Time, port int, network uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ups++
	h.lastPort = port
	h.lastNetwork = network
	h.wg.Done()
}

func (h *testHandler) PortDown(ctx context.Context, timestamp time.Time, port int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.downs++
	h.lastPort = port
	h.wg.Done()
}

func TestClient(t *testing.T) {
	dir, err := ioutil.TempDir("", "TestEventSocketClient")
	rtx.Must(err, "Could not create tempdir")
	defer os.RemoveAll(dir)

	filename := dir + "/kernelevents.sock"
	srv := New(filename).(*server)
	srv.Listen()
	srvCtx, srvCancel := context.WithCancel(context.Background())
	go srv.Serve(srvCtx)
	defer srvCancel()

	h := &testHandler{}
	h.wg.Add(4)

	clientCtx, clientCancel := context.WithCancel(context.Background())
	clientWg := sync.WaitGroup{}
	clientWg.Add(1)
	go func() {
		MustRun(clientCtx, filename, h)
		clientWg.Done()
	}()

	// Busy wait until the server has registered the client before sending events.
	for {
		srv.mutex.Lock()
		length := len(srv.clients)
		srv.mutex.Unlock()
		if length > 0 {
			break
		}
	}

	srv.SocketOpened(time.Now(), 5, 9)
	srv.SocketClosed(time.Now(), 5)
	srv.PortUp(time.Now(), 2, 0xC0A80001)
	srv.PortDown(time.Now(), 2)

	h.wg.Wait() // Wait until the handler gets all four events.

	h.mu.Lock()
	if h.opens != 1 || h.lastSocket != 5 {
		t.Error("Expected one SocketOpened call for socket 5, got", h.opens, h.lastSocket)
	}
	if h.closes != 1 {
		t.Error("Expected one SocketClosed call, got", h.closes)
	}
	if h.ups != 1 || h.lastNetwork != 0xC0A80001 {
		t.Error("Expected one PortUp call with network 0xC0A80001, got", h.ups, h.lastNetwork)
	}
	if h.downs != 1 || h.lastPort != 2 {
		t.Error("Expected one PortDown call for port 2, got", h.downs, h.lastPort)
	}
	h.mu.Unlock()

	// Cancel the client context and wait until it stops running.
	clientCancel()
	clientWg.Wait()
}
