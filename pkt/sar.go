package pkt

import (
	"context"
	"time"

	"github.com/m-lab/domain-kernel/ec"
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/socket"
	"github.com/m-lab/domain-kernel/status"
)

// DefaultReplyTimeout is the per-attempt wait SarInternet uses when a
// caller does not override it.
const DefaultReplyTimeout = 500 * time.Millisecond

// maxTimeoutsBeforeProbe is spec.md's "after 2 timeouts, probe with
// likely_to_answer."
const maxTimeoutsBeforeProbe = 2

// SarInternet is spec.md's sar_internet: send a request and wait for a
// matching reply, retrying on timeout. It allocates a temporary reply
// socket, closes it on every exit path (including cancellation, per
// spec.md §7's "receive cancellation inside sar_internet must still
// close the socket and return pending netbufs"), and marks the
// destination node visible once a reply arrives.
func (k *Kernel) SarInternet(
	ctx context.Context,
	info Info,
	routingKey, destNode uint32,
	destSocket socket.Number,
	template, payload []byte,
	timeout time.Duration,
) ([]byte, netbuf.DataArray, status.Status) {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}

	replySock, replyNum, err := k.Sockets.OpenEphemeral(socket.AddrSpaceID(k.NodeMe), socket.DefaultCapacity)
	if err != nil {
		return nil, netbuf.DataArray{}, status.NoEphemeralSocketAvailable
	}
	defer k.Sockets.Close(replyNum, socket.AddrSpaceID(k.NodeMe))

	id := k.IDs.NextID()
	attempts := retryCap(info.RetryCount)
	timeouts := 0

	for attempt := 0; attempt < attempts; attempt++ {
		if st := k.SendInternet(ctx, info, routingKey, destNode, destSocket, replyNum, id, template, payload); !st.OK() {
			return nil, netbuf.DataArray{}, st
		}

		reply, data, ok, quitOrCancel := waitForReply(ctx, k, replySock, id, timeout)
		if quitOrCancel != status.OK {
			return nil, netbuf.DataArray{}, quitOrCancel
		}
		if ok {
			k.Visibility.NoteVisible(destNode, true)
			return reply, data, status.OK
		}

		timeouts++
		if timeouts >= maxTimeoutsBeforeProbe {
			if !k.Visibility.LikelyToAnswer(ctx, k, destNode) {
				return nil, netbuf.DataArray{}, status.RemoteNodeFailedToRespond
			}
			timeouts = 0
		}
	}
	return nil, netbuf.DataArray{}, status.RemoteNodeFailedToRespond
}

// waitForReply waits up to timeout for a reply on s matching id,
// discarding any stale descriptors whose request id doesn't match
// (spec.md §5: "a retry that receives multiple responses accepts the
// first whose reply-id matches the request-id; stale responses are
// dropped"). ok is false on an ordinary per-attempt timeout; a
// non-OK quitOrCancel means the caller should give up entirely.
func waitForReply(ctx context.Context, k *Kernel, s *socket.Socket, id uint16, timeout time.Duration) (template []byte, data netbuf.DataArray, ok bool, quitOrCancel status.Status) {
	for {
		deadline, cancel := context.WithTimeout(ctx, timeout)
		idx, _, werr := ec.Select(deadline, ec.NextOf(s.EC()), ec.NextOf(k.QuitEC))
		cancel()
		if werr != nil {
			if ctx.Err() != nil {
				return nil, netbuf.DataArray{}, false, status.RemoteNodeFailedToRespond.WithRemote()
			}
			return nil, netbuf.DataArray{}, false, status.OK // ordinary timeout
		}
		if idx == 1 {
			return nil, netbuf.DataArray{}, false, status.RemoteNodeFailedToRespond.WithRemote()
		}

		for {
			d, got := s.Get()
			if !got {
				break
			}
			hdr, perr := ParseHeader(k.Pool.HeaderBytes(d.HeaderPage), netbuf.HeaderSize)
			if perr != nil {
				k.Pool.RtnHdr(d.HeaderPage)
				netbuf.ReleaseDataArray(k.Pool, d.Data)
				continue
			}
			if hdr.RequestID != id {
				k.Pool.RtnHdr(d.HeaderPage)
				netbuf.ReleaseDataArray(k.Pool, d.Data)
				continue
			}
			tmpl := append([]byte(nil), hdr.Template...)
			k.Pool.RtnHdr(d.HeaderPage)
			return tmpl, d.Data, true, status.OK
		}
	}
}
