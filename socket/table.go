package socket

import (
	"fmt"
	"sync"
)

// Table is the kernel-global registry of open sockets.
type Table struct {
	mu      sync.Mutex
	sockets map[Number]*Socket
}

// NewTable returns an empty socket table.
func NewTable() *Table {
	return &Table{sockets: make(map[Number]*Socket)}
}

// Open creates (or attaches owner to, if already open) the socket
// numbered num with the given FIFO capacity. Opening socket 0 or a
// number above MaxNumber is an error.
func (t *Table) Open(num Number, owner AddrSpaceID, capacity int) (*Socket, error) {
	if !num.Valid() {
		return nil, fmt.Errorf("socket: invalid socket number %d", num)
	}
	t.mu.Lock()
	s, ok := t.sockets[num]
	if !ok {
		s = newSocket(num, capacity)
		t.sockets[num] = s
	}
	t.mu.Unlock()
	s.AddOwner(owner)
	return s, nil
}

// OpenEphemeral opens the first unused socket number at or above 32
// (numbers below that are reserved for the well-known sockets) and
// returns it along with the socket itself — the allocation
// send-and-receive callers like pkt.SarInternet use for their
// temporary reply socket.
func (t *Table) OpenEphemeral(owner AddrSpaceID, capacity int) (*Socket, Number, error) {
	t.mu.Lock()
	var n Number
	for cand := Number(32); cand <= MaxNumber; cand++ {
		if _, exists := t.sockets[cand]; !exists {
			n = cand
			break
		}
	}
	t.mu.Unlock()
	if n == 0 {
		return nil, 0, fmt.Errorf("socket: no ephemeral socket numbers available")
	}
	s, err := t.Open(n, owner, capacity)
	return s, n, err
}

// Get returns the socket numbered num, if open.
func (t *Table) Get(num Number) (*Socket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sockets[num]
	return s, ok
}

// Close removes owner from the socket numbered num. If owner was the
// last owner, the socket is removed from the table entirely — a
// socket is automatically closed when its owning process exits.
func (t *Table) Close(num Number, owner AddrSpaceID) {
	t.mu.Lock()
	s, ok := t.sockets[num]
	if !ok {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if remaining := s.RemoveOwner(owner); remaining == 0 {
		t.mu.Lock()
		delete(t.sockets, num)
		t.mu.Unlock()
	}
}

// CloseAllOwnedBy closes every socket owned by owner — the bulk path
// run when owner's process exits.
func (t *Table) CloseAllOwnedBy(owner AddrSpaceID) {
	t.mu.Lock()
	var nums []Number
	for num, s := range t.sockets {
		if s.Owns(owner) {
			nums = append(nums, num)
		}
	}
	t.mu.Unlock()
	for _, num := range nums {
		t.Close(num, owner)
	}
}
