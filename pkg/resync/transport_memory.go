package resync

import (
	"context"
	"fmt"
	"sync"
)

func init() {
	RegisterTransport("memory", func(TransportOptions) (Transport, error) {
		return defaultNetwork, nil
	})
}

var defaultNetwork = NewMemoryNetwork()

// MemoryNetwork connects in-process nodes by address. Addresses can be cut
// off to simulate a partitioned peer.
type MemoryNetwork struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	partitioned map[string]bool
}

// NewMemoryNetwork creates an empty network
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		handlers:    make(map[string]Handler),
		partitioned: make(map[string]bool),
	}
}

// Partition makes addr unreachable until Heal
func (n *MemoryNetwork) Partition(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[addr] = true
}

// Heal reconnects addr
func (n *MemoryNetwork) Heal(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, addr)
}

// Send delivers request to the handler serving addr
func (n *MemoryNetwork) Send(ctx context.Context, addr string, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.RLock()
	h, ok := n.handlers[addr]
	cut := n.partitioned[addr]
	n.mu.RUnlock()

	if !ok || cut {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnreachable, addr)
	}
	return h(ctx, append([]byte(nil), request...)), nil
}

// Serve registers h at addr until ctx ends
func (n *MemoryNetwork) Serve(ctx context.Context, addr string, h Handler) error {
	n.mu.Lock()
	if _, exists := n.handlers[addr]; exists {
		n.mu.Unlock()
		return fmt.Errorf("address already in use: %s", addr)
	}
	n.handlers[addr] = h
	n.mu.Unlock()

	<-ctx.Done()

	n.mu.Lock()
	delete(n.handlers, addr)
	n.mu.Unlock()
	return nil
}

var _ Transport = (*MemoryNetwork)(nil)
