package pkt

import (
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/socket"
	"github.com/m-lab/domain-kernel/status"
)

// compoundLimit is the combined template+payload ceiling spec.md
// §4.2 imposes regardless of route class: "compound (payload+template)
// must not exceed 0x500."
const compoundLimit = 0x500

// Info is the small "pkt_info" template a caller passes to select how
// a header should be built: which of the two shapes to use, whether
// this is a loopback delivery, the extended-protocol/signature bits,
// and a retry-count policy consumed later by SendInternet.
type Info struct {
	Kind             Kind
	Loopback         bool
	Protocol         byte
	ExtensionSubtype byte
	RetryCount       int // 0 = DefaultRetryCap; nothing is derived from an attempt's response
}

// BuildResult is everything BuildInternetHeader hands back: the
// acquired header page, the header written into it, and (for type-2
// headers) the outgoing port a caller must hand to NetIO.Send.
type BuildResult struct {
	Page   netbuf.PageAddr
	Header *Header
	Port   Port
}

// BuildInternetHeader is spec.md's bld_internet_hdr. router is
// consulted only for KindSimple/KindExtended; loopback headers never
// touch routing.
func BuildInternetHeader(
	pool *netbuf.Pool,
	router Router,
	info Info,
	routingKey uint32,
	destNode uint32,
	destSocket socket.Number,
	srcNode uint32,
	srcSocket socket.Number,
	requestID uint16,
	template []byte,
	payloadLen int,
) (BuildResult, status.Status) {

	if info.Loopback {
		destNode = srcNode
	}
	kind := info.Kind
	if kind == 0 {
		kind = KindSimple
	}

	h := &Header{
		Kind:             kind,
		Loopback:         info.Loopback,
		SrcNode:          srcNode,
		DestNode:         destNode,
		SrcSocket:        srcSocket,
		DestSocket:       destSocket,
		RequestID:        requestID,
		Protocol:         info.Protocol,
		ExtensionSubtype: info.ExtensionSubtype,
		Template:         template,
	}

	var outPort Port
	if h.Kind != KindLoopback {
		next, st := router.FindNextHop(routingKey, destNode)
		if !st.OK() {
			return writeBestEffort(pool, h), st
		}
		h.RoutingKey = routingKey
		outPort = next.Port

		if payloadLen+len(template) > compoundLimit {
			return writeBestEffort(pool, h), status.NetworkMessageHeaderTooBig
		}
		limit := next.Class.MaxPayload(next.Port.MTU)
		if payloadLen > limit {
			return writeBestEffort(pool, h), status.NetworkMessageHeaderTooBig
		}
	}

	if h.fixedLen()+len(template) > netbuf.HeaderSize {
		return writeBestEffort(pool, h), status.NetworkMessageHeaderTooBig
	}

	addr, va, ok := pool.GetHdr()
	if !ok {
		return BuildResult{}, status.HeaderPoolExhausted
	}
	if _, err := h.Marshal(va); err != nil {
		pool.RtnHdr(addr)
		return BuildResult{}, status.NetworkMessageHeaderTooBig
	}
	return BuildResult{Page: addr, Header: h, Port: outPort}, status.OK
}

// writeBestEffort acquires a page and writes whatever of h fits, for
// the "write a best-effort header anyway, so the caller has something
// to send an error reply with" path spec.md §4.2 step 2 describes on
// validation failure. If even that fails, it returns a zero result;
// callers must check Page != 0 before using it.
func writeBestEffort(pool *netbuf.Pool, h *Header) BuildResult {
	addr, va, ok := pool.GetHdr()
	if !ok {
		return BuildResult{}
	}
	if len(h.Template) > 0 && h.fixedLen()+len(h.Template) > netbuf.HeaderSize {
		h.Template = nil
	}
	if _, err := h.Marshal(va); err != nil {
		pool.RtnHdr(addr)
		return BuildResult{}
	}
	return BuildResult{Page: addr, Header: h}
}
