//go:build zmq
// +build zmq

package resync

import (
	"context"
	"fmt"
	"syscall"

	zmq "github.com/pebbe/zmq4"
)

func init() {
	RegisterTransport("zmq", func(opts TransportOptions) (Transport, error) {
		return NewZMQTransport(opts), nil
	})
}

// ZMQTransport carries resync messages over ZeroMQ REQ/REP sockets.
// Requires libzmq; built only with -tags zmq.
type ZMQTransport struct {
	opts TransportOptions
}

// NewZMQTransport creates a ZeroMQ transport
func NewZMQTransport(opts TransportOptions) *ZMQTransport {
	return &ZMQTransport{opts: opts.withDefaults()}
}

// Send connects to addr, sends one request and waits for the reply
func (t *ZMQTransport) Send(ctx context.Context, addr string, request []byte) ([]byte, error) {
	sock, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return nil, fmt.Errorf("failed to create REQ socket: %w", err)
	}
	defer sock.Close()

	timeout := t.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, timeUntil(deadline))
	}
	sock.SetLinger(0)
	sock.SetSndtimeo(timeout)
	sock.SetRcvtimeo(timeout)

	if err := sock.Connect(addr); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, addr, err)
	}
	if _, err := sock.SendBytes(request, 0); err != nil {
		return nil, fmt.Errorf("%w: send to %s: %v", ErrPeerUnreachable, addr, err)
	}
	reply, err := sock.RecvBytes(0)
	if err != nil {
		return nil, fmt.Errorf("%w: reply from %s: %v", ErrPeerUnreachable, addr, err)
	}
	return reply, nil
}

// Serve binds addr and answers requests until ctx ends
func (t *ZMQTransport) Serve(ctx context.Context, addr string, h Handler) error {
	sock, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return fmt.Errorf("failed to create REP socket: %w", err)
	}
	defer sock.Close()

	sock.SetLinger(0)
	sock.SetRcvtimeo(t.opts.PollInterval)
	sock.SetSndtimeo(t.opts.Timeout)

	if err := sock.Bind(addr); err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	for {
		request, err := sock.RecvBytes(0)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			return fmt.Errorf("resync receive failed: %w", err)
		}

		if _, err := sock.SendBytes(h(ctx, request), 0); err != nil {
			return fmt.Errorf("resync reply failed: %w", err)
		}
	}
}

var _ Transport = (*ZMQTransport)(nil)
