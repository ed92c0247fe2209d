package netio

import (
	"context"
	"sync"

	"github.com/m-lab/domain-kernel/app"
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/pkt"
	"github.com/m-lab/domain-kernel/status"
)

// Loopback is a single-node stand-in for the MAC driver spec.md §1
// excludes from this module's scope: it hands every packet PKT sends
// straight to whichever handler APP registered, instead of putting it
// on a wire. A node running without real peers (single-process
// bootstrapping, most of this module's own tests) uses this so
// send_internet and APP_$DEMUX can be exercised end to end without a
// network device.
type Loopback struct {
	mu      sync.Mutex
	handler app.DemuxFunc
}

// NewLoopback returns a Loopback with no handler registered yet.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// RegisterHandler implements app.LinkRegistrar.
func (l *Loopback) RegisterHandler(protocol uint16, handler app.DemuxFunc) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = handler
	return uint32(protocol), nil
}

// Send implements pkt.NetIO by calling the registered handler
// directly, as if the packet had gone out and immediately come back
// in on the same port.
func (l *Loopback) Send(ctx context.Context, port pkt.Port, header netbuf.PageAddr, data netbuf.DataArray) status.Status {
	l.mu.Lock()
	handler := l.handler
	l.mu.Unlock()
	if handler == nil {
		return status.RemoteNodeFailedToRespond
	}
	handler(header, data, 0)
	return status.OK
}
