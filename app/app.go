// Package app implements the application-packet dispatcher: the
// receive-side demultiplex from the link layer to per-socket queues,
// with overflow spillover for the well-known file socket.
package app

import (
	"sync"

	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/socket"
)

// XNSProtocol is the XNS IDP protocol number APP_$STD_OPEN registers
// APP_$DEMUX against, spec.md §4's "protocol 0x0499."
const XNSProtocol uint16 = 0x0499

// LinkRegistrar is the link layer's channel-registration call,
// APP_$STD_OPEN's XNS_$REGISTER. A concrete implementation lives
// outside this module (it talks to the real network device); tests
// and simulated nodes supply their own.
type LinkRegistrar interface {
	RegisterHandler(protocol uint16, handler DemuxFunc) (channel uint32, err error)
}

// DemuxFunc is the signature the link layer invokes per received
// packet: the header page and its (possibly empty) data pages, plus
// a caller-supplied flag word whose sign matters to the demux's
// direct-return special case.
type DemuxFunc func(hdrPage netbuf.PageAddr, data netbuf.DataArray, callerFlag int16)

// Dispatcher is APP's demultiplexer: it owns the mutex APP_$STD_OPEN
// initializes and the registered channel handle, and holds the
// pool/socket-table collaborators Demux and Receive need.
type Dispatcher struct {
	mu      sync.Mutex
	Pool    *netbuf.Pool
	Sockets *socket.Table

	channel uint32
	opened  bool
}

// NewDispatcher returns an unopened Dispatcher.
func NewDispatcher(pool *netbuf.Pool, sockets *socket.Table) *Dispatcher {
	return &Dispatcher{Pool: pool, Sockets: sockets}
}

// Open is APP_$STD_OPEN: initialize the APP mutex (implicit in the Go
// port — every exported method already locks d.mu) and register
// Demux as this node's XNS 0x0499 handler.
func (d *Dispatcher) Open(reg LinkRegistrar) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	channel, err := reg.RegisterHandler(XNSProtocol, d.Demux)
	if err != nil {
		return err
	}
	d.channel = channel
	d.opened = true
	return nil
}

// inlineThreshold is spec.md's APP_$RECEIVE inline-copy cutoff,
// 0x3B8 bytes. Receive does not branch on it: every payload, whatever
// its size, is copied out of its data pages through DatCopy.
const inlineThreshold = 0x3B8

// channelFor reports the registered XNS channel, for callers wiring
// up diagnostics.
func (d *Dispatcher) channelFor() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}
