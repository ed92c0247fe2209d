package netio

import (
	"context"
	"testing"
)

func TestDiscoverPorts(t *testing.T) {
	ports, err := DiscoverPorts(context.Background())
	if err != nil {
		t.Fatal("DiscoverPorts returned an error:", err)
	}
	// The result may be empty on a host without IPv4 links; every port
	// that is returned must carry a positive MTU.
	for _, p := range ports {
		if p.Port.MTU <= 0 {
			t.Errorf("port %d has non-positive MTU %d", p.Port.Index, p.Port.MTU)
		}
	}
}

func TestDiscoverPortsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A canceled context should not cause DiscoverPorts to panic; it
	// may return early with whatever was already resolved.
	if _, err := DiscoverPorts(ctx); err != nil && err != context.Canceled {
		t.Fatal("unexpected error:", err)
	}
}
