package eventsocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/m-lab/domain-kernel/metrics"
)

// KernelEvent is the data sent down the socket in JSONL form to
// clients. Timestamp and Event are always filled in; the remaining
// fields are populated according to Event's kind and omitted
// otherwise.
type KernelEvent struct {
	Event     KernelEventKind
	Timestamp time.Time

	// Socket and AddrSpace describe SocketOpen/SocketClose.
	Socket    uint16 `json:",omitempty"`
	AddrSpace uint32 `json:",omitempty"`

	// Port and Network describe PortUp/PortDown. Network is zero for
	// PortDown, which has already lost its network association.
	Port    int    `json:",omitempty"`
	Network uint32 `json:",omitempty"`
}

// Server is the interface that serves kernel lifecycle events over a
// unix-domain socket. Construct one with eventsocket.New or
// eventsocket.NullServer.
type Server interface {
	Listen() error
	Serve(context.Context) error
	SocketOpened(timestamp time.Time, socketNum uint16, addrSpace uint32)
	SocketClosed(timestamp time.Time, socketNum uint16)
	PortUp(timestamp time.Time, port int, network uint32)
	PortDown(timestamp time.Time, port int)
}

type server struct {
	eventC       chan *KernelEvent
	filename     string
	clients      map[net.Conn]struct{}
	unixListener net.Listener
	mutex        sync.Mutex
	servingWG    sync.WaitGroup
}

func (s *server) addClient(c net.Conn) {
	log.Println("Adding new kernel event client", c)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[c] = struct{}{}
}

func (s *server) removeClient(c net.Conn) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.clients[c]
	if !ok {
		log.Println("Tried to remove kernel event client", c, "that was not present")
		return
	}
	delete(s.clients, c)
}

func (s *server) sendToAllListeners(data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for c := range s.clients {
		_, err := fmt.Fprintln(c, data)
		if err != nil {
			log.Println("Write to client", c, "failed with error", err, " - removing the client.")
			// Remove in a goroutine because removeClient needs to grab the
			// mutex, so let the goroutine block until the mutex is released
			// when this method returns. This also prevents mid-iteration
			// modification of s.clients.
			go s.removeClient(c)
			go c.Close()
		}
	}
}

func (s *server) notifyClients(ctx context.Context) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	for ctx.Err() == nil {
		event := <-s.eventC
		var b []byte
		var err error
		if event != nil {
			b, err = json.Marshal(*event)
		}
		if event == nil || err != nil {
			log.Printf("WARNING: Bad event received %v (err: %v)\n", event, err)
			continue
		}
		s.sendToAllListeners(string(b))
	}
}

// Listen returns quickly. After Listen has been called, connections
// to the server will not immediately fail. In order for them to
// succeed, Serve() should be called. This function should only be
// called once for a given Server.
func (s *server) Listen() error {
	// Add to the waitgroup inside Listen(), subtract from it in Serve(). That way,
	// even if the Serve() goroutine is scheduled weirdly, servingWG.Wait() will
	// definitely wait for Serve() to finish.
	s.servingWG.Add(1)
	var err error
	// Delete any existing socket file before trying to listen on it. Unclean
	// shutdowns can cause orphaned, stale socket files to hang around, causing
	// this service to fail to start because it can't create the socket.
	os.Remove(s.filename)
	s.unixListener, err = net.Listen("unix", s.filename)
	return err
}

// Serve all clients that connect to this server until the context is
// canceled. It is expected that this will be called in a goroutine,
// after Listen has been called. This function should only be called
// once for a given server.
func (s *server) Serve(ctx context.Context) error {
	defer s.servingWG.Done()
	derivedCtx, derivedCancel := context.WithCancel(ctx)
	defer derivedCancel()

	go s.notifyClients(derivedCtx)

	// When the context is canceled (which happens when this function exits, but
	// could happen sooner if the parent context is canceled), close the
	// listener and the internal channel. These two closes, along with the
	// context cancellation, should cause every other goroutine to terminate.
	s.servingWG.Add(1) // Add this cleanup goroutine to the waitgroup.
	go func() {
		<-derivedCtx.Done()
		s.unixListener.Close()
		close(s.eventC)
		s.servingWG.Done()
	}()

	var err error
	for derivedCtx.Err() == nil {
		var conn net.Conn
		conn, err = s.unixListener.Accept()
		if err != nil {
			log.Printf("Could not Accept on socket %q: %s\n", s.filename, err)
			continue
		}
		s.addClient(conn)
	}
	return err
}

// SocketOpened should be called whenever the socket table gives a
// socket its first owner.
func (s *server) SocketOpened(timestamp time.Time, socketNum uint16, addrSpace uint32) {
	s.eventC <- &KernelEvent{
		Event:     SocketOpen,
		Timestamp: timestamp,
		Socket:    socketNum,
		AddrSpace: addrSpace,
	}
	metrics.KernelEventCount.WithLabelValues("socket_open").Inc()
}

// SocketClosed should be called whenever the socket table removes a
// socket's last owner.
func (s *server) SocketClosed(timestamp time.Time, socketNum uint16) {
	s.eventC <- &KernelEvent{
		Event:     SocketClose,
		Timestamp: timestamp,
		Socket:    socketNum,
	}
	metrics.KernelEventCount.WithLabelValues("socket_close").Inc()
}

// PortUp should be called whenever RIP registers a routing port.
func (s *server) PortUp(timestamp time.Time, port int, network uint32) {
	s.eventC <- &KernelEvent{
		Event:     PortUp,
		Timestamp: timestamp,
		Port:      port,
		Network:   network,
	}
	metrics.KernelEventCount.WithLabelValues("port_up").Inc()
}

// PortDown should be called whenever RIP deregisters a routing port,
// spec.md §4.3's halt-on-last-port transition among others.
func (s *server) PortDown(timestamp time.Time, port int) {
	s.eventC <- &KernelEvent{
		Event:     PortDown,
		Timestamp: timestamp,
		Port:      port,
	}
	metrics.KernelEventCount.WithLabelValues("port_down").Inc()
}

// New makes a new server that serves clients on the provided unix
// domain socket.
func New(filename string) Server {
	c := make(chan *KernelEvent, 100)
	return &server{
		filename: filename,
		eventC:   c,
		clients:  make(map[net.Conn]struct{}),
	}
}

type nullServer struct{}

// Empty implementations that do no harm.
func (nullServer) Listen() error                                       { return nil }
func (nullServer) Serve(context.Context) error                         { return nil }
func (nullServer) SocketOpened(time.Time, uint16, uint32)              {}
func (nullServer) SocketClosed(time.Time, uint16)                      {}
func (nullServer) PortUp(time.Time, int, uint32)                       {}
func (nullServer) PortDown(time.Time, int)                             {}

// NullServer returns a Server that does nothing. It is made so that
// code that may or may not want to use an eventsocket can receive a
// Server interface and not have to worry about whether it is nil.
func NullServer() Server {
	return nullServer{}
}
