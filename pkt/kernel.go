package pkt

import (
	"github.com/m-lab/domain-kernel/ec"
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/socket"
)

// Kernel bundles the state a PKT caller needs: the netbuf pool, the
// socket table, the id generator, the routing and link-layer
// collaborators, this node's identity, and the process-quit event
// count every blocking wait in this package selects on.
//
// This replaces the source's fixed-address globals (spec.md §9:
// "Raw memory layout at absolute addresses") with an explicitly
// constructed, explicitly passed state object.
type Kernel struct {
	Pool    *netbuf.Pool
	Sockets *socket.Table
	IDs     *IDGenerator
	Router  Router
	NetIO   NetIO
	NodeMe  uint32
	QuitEC  *ec.EC

	Visibility *VisibilityTracker
}

// DefaultRetryCap is the retry ceiling send_internet and sar_internet
// fall back to when a caller's Info.RetryCount is 0.
const DefaultRetryCap = 5

func retryCap(requested int) int {
	if requested > 0 {
		return requested
	}
	return DefaultRetryCap
}
