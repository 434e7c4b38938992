package resync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Handler answers one inbound request
type Handler func(ctx context.Context, request []byte) []byte

// Transport is a request/reply channel between members. Send blocks until
// the peer replies or ctx ends; Serve blocks until ctx ends.
type Transport interface {
	Send(ctx context.Context, addr string, request []byte) ([]byte, error)
	Serve(ctx context.Context, addr string, h Handler) error
}

// TransportOptions tunes socket transports
type TransportOptions struct {
	// Timeout bounds a single send or reply
	Timeout time.Duration
	// PollInterval is how often Serve checks for shutdown
	PollInterval time.Duration
}

// DefaultTransportOptions returns the defaults used by the daemon
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		Timeout:      2 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

func (o TransportOptions) withDefaults() TransportOptions {
	d := DefaultTransportOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}

// TransportFactory builds a transport
type TransportFactory func(opts TransportOptions) (Transport, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]TransportFactory{}
)

// RegisterTransport makes a transport available to NewTransport. Transports
// behind build tags register themselves from init.
func RegisterTransport(kind string, f TransportFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = f
}

// NewTransport builds a registered transport by kind
func NewTransport(kind string, opts TransportOptions) (Transport, error) {
	factoriesMu.RLock()
	f, ok := factories[kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownTransport, kind, Transports())
	}
	return f(opts.withDefaults())
}

// Transports lists the registered kinds
func Transports() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// timeUntil is the time left before deadline, never less than a millisecond
func timeUntil(deadline time.Time) time.Duration {
	return max(time.Until(deadline), time.Millisecond)
}
