package app

import (
	"github.com/m-lab/domain-kernel/metrics"
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/pkt"
	"github.com/m-lab/domain-kernel/socket"
)

// isNegative reports a 16-bit field's sign bit, the same test
// APP_$DEMUX's special case applies to the packet's own flag word and
// to the caller-supplied flag.
func isNegative(v int16) bool { return v < 0 }

// Demux is APP_$DEMUX: parse the packet descriptor's header, decide
// its destination socket, and enqueue it there (spilling socket FILE
// overflow to socket OVERFLOW, and counting drops when both are
// full).
func (d *Dispatcher) Demux(hdrPage netbuf.PageAddr, data netbuf.DataArray, callerFlag int16) {
	hdrBuf := d.Pool.HeaderBytes(hdrPage)
	h, err := pkt.ParseHeader(hdrBuf, netbuf.HeaderSize)
	if err != nil {
		d.Pool.RtnHdr(hdrPage)
		netbuf.ReleaseDataArray(d.Pool, data)
		metrics.AppDropCount.Inc()
		return
	}

	// spec.md §9's unexplained "return_buffers" branch: network-type 2
	// (KindSimple), socket 4 (File), a negative packet flag, and a
	// non-negative caller flag skip queueing entirely and hand the
	// buffers straight back. Preserved as the spec names it rather than
	// guessing at intent; see DESIGN.md.
	if h.Kind == pkt.KindSimple && h.DestSocket == socket.File &&
		isNegative(int16(h.RequestID)) && !isNegative(callerFlag) {
		d.Pool.RtnHdr(hdrPage)
		netbuf.ReleaseDataArray(d.Pool, data)
		return
	}

	desc := socket.Descriptor{HeaderPage: hdrPage, Data: data}
	sock, ok := d.Sockets.Get(h.DestSocket)
	if !ok {
		d.Pool.RtnHdr(hdrPage)
		netbuf.ReleaseDataArray(d.Pool, data)
		metrics.AppDropCount.Inc()
		return
	}

	if sock.Put(desc) {
		return
	}

	if h.DestSocket != socket.File {
		d.Pool.RtnHdr(hdrPage)
		netbuf.ReleaseDataArray(d.Pool, data)
		metrics.AppDropCount.Inc()
		return
	}

	metrics.AppOverflowCount.WithLabelValues("file_overflow").Inc()
	overflow, ok := d.Sockets.Get(socket.Overflow)
	if ok && overflow.Put(desc) {
		return
	}

	metrics.AppOverflowCount.WithLabelValues("overflow_overflow").Inc()
	d.Pool.RtnHdr(hdrPage)
	netbuf.ReleaseDataArray(d.Pool, data)
}
