package dir

import (
	"context"
	"time"

	"github.com/m-lab/domain-kernel/hint"
	"github.com/m-lab/domain-kernel/pkt"
	"github.com/m-lab/domain-kernel/socket"
	"github.com/m-lab/domain-kernel/status"
	"github.com/m-lab/domain-kernel/uid"
)

// RemoteSender is spec.md's REM_FILE_$SEND_REQUEST: send a DIR request
// to a specific hint and wait for its reply.
type RemoteSender interface {
	SendRequest(ctx context.Context, h hint.Pair, dirUID uid.UID, req []byte) (resp []byte, st status.Status)
}

// remoteTimeout is the per-hint reply wait REM_FILE_$SEND_REQUEST
// uses atop PKT's own sar_internet retry loop.
const remoteTimeout = 2 * time.Second

// PktSender is the concrete RemoteSender: it addresses the hinted
// node via PKT's send-and-receive on socket FileServer, the transport
// spec.md §3 names for directory traffic.
type PktSender struct {
	Kernel *pkt.Kernel
}

// SendRequest implements RemoteSender.
func (s *PktSender) SendRequest(ctx context.Context, h hint.Pair, dirUID uid.UID, req []byte) ([]byte, status.Status) {
	info := pkt.Info{Kind: pkt.KindSimple, Protocol: pkt.ProtocolStandard, RetryCount: 3}
	reply, _, st := s.Kernel.SarInternet(ctx, info, h.Node, h.Node, socket.FileServer, req, nil, remoteTimeout)
	return reply, st
}
