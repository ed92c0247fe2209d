package socket

import (
	"context"
	"time"
)

// WatchAddrSpaces repeatedly polls t's socket table to discover every
// address-space id currently holding ownership of at least one
// socket, pushing each one found to idsChan. Consumers should expect
// duplicates across polls and dedupe if they care.
//
// Adapted from the teacher's namespaces.WatchForNetworkNamespaces,
// which polled /proc for network namespaces the same way; here there
// is no /proc to poll, so the source of truth is the socket table's
// own owner bitmaps.
func WatchAddrSpaces(ctx context.Context, t *Table, idsChan chan<- AddrSpaceID) {
	defer close(idsChan)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, id := range t.liveAddrSpaces() {
			select {
			case idsChan <- id:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Table) liveAddrSpaces() []AddrSpaceID {
	t.mu.Lock()
	sockets := make([]*Socket, 0, len(t.sockets))
	for _, s := range t.sockets {
		sockets = append(sockets, s)
	}
	t.mu.Unlock()

	seen := make(map[AddrSpaceID]struct{})
	var ids []AddrSpaceID
	for _, s := range sockets {
		s.mu.Lock()
		for id := range s.owners {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		s.mu.Unlock()
	}
	return ids
}
