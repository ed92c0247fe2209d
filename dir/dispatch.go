package dir

import (
	"context"

	"github.com/m-lab/domain-kernel/hint"
	"github.com/m-lab/domain-kernel/status"
	"github.com/m-lab/domain-kernel/uid"
)

// LocalHandler executes one opcode against this node's own directory
// state and fills in a response.
type LocalHandler func(ctx context.Context, req Request) Response

// AuditFunc is called after every locally-handled operation when
// auditing is enabled, spec.md §4.4's "if audit is enabled emit an
// audit record."
type AuditFunc func(req Request, resp Response, hintIndex int, wasFirstHint bool)

// FlushFunc is spec.md §4.4's AST_$COND_FLUSH, invoked when a local
// handler's response carries a flush-needed UID.
type FlushFunc func(ctx context.Context, flushUID uid.UID) status.Status

// ranOutRetries is spec.md §4.4's "retry with same hint up to 19
// times" for ran_out_of_address_space.
const ranOutRetries = 19

// Dispatcher is DIR_$DO_OP: it owns the hint cache, the remote-send
// collaborator, and the local opcode handler registry.
type Dispatcher struct {
	NodeMe   uint32
	Hints    *hint.Cache
	Remote   RemoteSender
	Handlers map[Opcode]LocalHandler
	Audit    AuditFunc
	Flush    FlushFunc
}

// NewDispatcher returns a Dispatcher with an empty handler registry;
// callers fill Handlers via RegisterDefaultHandlers or their own map.
func NewDispatcher(nodeMe uint32, hints *hint.Cache, remote RemoteSender) *Dispatcher {
	return &Dispatcher{
		NodeMe:   nodeMe,
		Hints:    hints,
		Remote:   remote,
		Handlers: make(map[Opcode]LocalHandler),
	}
}

// retryableAcrossHints reports whether st should advance the
// dispatcher to the next hint rather than return immediately to the
// caller — spec.md §4.4 step 3's "retryability table." Only the stale
// directory-entry error is retried across hints in this module; every
// other non-OK status in §7's taxonomy is either consumed internally
// (version-skew, handled by the legacy-downgrade encoder wrapper) or
// surfaced directly (permanent network errors).
func retryableAcrossHints(st status.Status) bool {
	return st == status.DirEntryStale
}

// DoOp is spec.md §4.4's dispatch algorithm. callerIsServerProcess
// forces the single local hint {NodeMe, 0} per step 2; ordinary
// callers get the cached hint order (falling back to a local-first
// guess when nothing is cached yet).
func (d *Dispatcher) DoOp(ctx context.Context, callerIsServerProcess bool, req Request) (Response, status.Status) {
	var hints []hint.Pair
	if callerIsServerProcess {
		hints = []hint.Pair{{Node: d.NodeMe, Port: 0}}
	} else {
		hints = d.Hints.GetHints(req.DirUID)
		if len(hints) == 0 {
			hints = []hint.Pair{{Node: d.NodeMe, Port: 0}}
		}
	}

	last := status.FileNotFound
	for i, h := range hints {
		if h.Node != d.NodeMe {
			resp, st := d.dispatchRemote(ctx, h, req)
			switch {
			case st.OK():
				if status.Status(resp.Status) != status.OK {
					last = status.Status(resp.Status)
					if retryableAcrossHints(last) {
						continue
					}
					return resp, last
				}
				if i > 0 {
					d.Hints.AddHint(req.DirUID, h)
				}
				if req.Opcode == OpResolve && resp.Loop && len(resp.Payload) >= 8 {
					d.handleResolveRedirect(req.DirUID, resp, h)
				}
				return resp, status.OK
			case st == status.RanOutOfAddressSpace:
				resp, st = d.retryRanOutOfSpace(ctx, h, req)
				if st.OK() {
					return resp, status.OK
				}
				last = st
				continue
			case retryableAcrossHints(st):
				last = st
				continue
			default:
				return Response{Status: uint32(st)}, st
			}
		}

		resp := d.Handlers[req.Opcode](ctx, req)
		resp.Version = currentVersion
		wasFirst := i == 0
		if d.Audit != nil {
			d.Audit(req, resp, i, wasFirst)
		}
		st := status.Status(resp.Status)
		if st == status.OK {
			if !wasFirst {
				d.Hints.AddHint(req.DirUID, h)
			}
			if meta, ok := opcodeTable[req.Opcode]; ok && meta.FlushCandidate && d.Flush != nil {
				if flushUID, needs := decodeFlushUID(resp.Payload); needs && !flushUID.IsNil() {
					d.Flush(ctx, flushUID)
				}
			}
			return resp, status.OK
		}
		if st == status.DirEntryStale && callerIsServerProcess && i < len(hints)-1 {
			last = st
			continue
		}
		return resp, st
	}
	return Response{Status: uint32(last)}, last
}

// dispatchRemote stamps the request's version field and invokes the
// remote collaborator, validating the returned parameter version.
func (d *Dispatcher) dispatchRemote(ctx context.Context, h hint.Pair, req Request) (Response, status.Status) {
	req.Version = currentVersion
	buf, err := req.Marshal()
	if err != nil {
		return Response{}, status.NetworkMessageHeaderTooBig
	}
	raw, st := d.Remote.SendRequest(ctx, h, req.DirUID, buf)
	if !st.OK() {
		return Response{}, st
	}
	resp, perr := ParseResponse(raw)
	if perr != nil {
		return Response{}, status.BadReplyReceivedFromRemoteNode
	}
	meta := opcodeTable[req.Opcode]
	if resp.Version > currentVersion || resp.Version < meta.MinVersion {
		return resp, status.BadReplyReceivedFromRemoteNode
	}
	return resp, status.OK
}

func (d *Dispatcher) retryRanOutOfSpace(ctx context.Context, h hint.Pair, req Request) (Response, status.Status) {
	var last status.Status = status.RanOutOfAddressSpace
	for i := 0; i < ranOutRetries; i++ {
		resp, st := d.dispatchRemote(ctx, h, req)
		if st.OK() && status.Status(resp.Status) == status.OK {
			return resp, status.OK
		}
		if st == status.RanOutOfAddressSpace {
			last = st
			continue
		}
		return resp, st
	}
	return Response{}, last
}

// handleResolveRedirect is spec.md §4.4's "hint-refresh helper":
// RESOLVE redirected to a UID sharing a different network-hint
// bucket, so the new UID's hint is seeded from the hint that produced
// the redirect.
func (d *Dispatcher) handleResolveRedirect(original uid.UID, resp Response, h hint.Pair) {
	newUID := uid.New(beUint32(resp.Payload[0:4]), beUint32(resp.Payload[4:8]))
	if newUID.HintIndex() != original.HintIndex() {
		d.Hints.AddNet(newUID, h)
	}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// decodeFlushUID reads a trailing {needs_flush byte, uid high(4),
// uid low(4)} block a flush-candidate opcode appends after its normal
// payload, spec.md §4.4's conditional-flush convention.
func decodeFlushUID(payload []byte) (uid.UID, bool) {
	if len(payload) < 9 {
		return uid.Nil, false
	}
	tail := payload[len(payload)-9:]
	if tail[0] == 0 {
		return uid.Nil, false
	}
	return uid.New(beUint32(tail[1:5]), beUint32(tail[5:9])), true
}
