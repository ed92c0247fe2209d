// Package eventsocket publishes kernel lifecycle events — socket
// open/close and RIP port up/down transitions — as a JSONL stream
// over a unix-domain socket, so an external monitor can observe demux
// overflow and routing churn without polling. Adapted from the
// teacher's eventsocket package, which served the same role for TCP
// flow open/close events; the unix-socket broadcast shape is kept
// verbatim, only the event vocabulary changed.
package eventsocket

import "fmt"

// KernelEventKind identifies which kernel lifecycle transition a
// KernelEvent describes.
type KernelEventKind int

const (
	// SocketOpen is sent when a socket gains its first owner.
	SocketOpen = KernelEventKind(iota)
	// SocketClose is sent when a socket loses its last owner.
	SocketClose
	// PortUp is sent when a RIP routing port is registered.
	PortUp
	// PortDown is sent when a RIP routing port is deregistered.
	PortDown
)

// String renders k the way a stringer-generated method would; hand
// written because this module cannot invoke go:generate.
func (k KernelEventKind) String() string {
	switch k {
	case SocketOpen:
		return "SocketOpen"
	case SocketClose:
		return "SocketClose"
	case PortUp:
		return "PortUp"
	case PortDown:
		return "PortDown"
	default:
		return fmt.Sprintf("KernelEventKind(%d)", int(k))
	}
}
