package resync

import (
	"context"
	"errors"
	"fmt"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

func init() {
	RegisterTransport("mangos", func(opts TransportOptions) (Transport, error) {
		return NewMangosTransport(opts), nil
	})
}

// MangosTransport carries resync messages over mangos REQ/REP sockets.
// Addresses are mangos URLs such as tcp://10.0.0.5:7946.
type MangosTransport struct {
	opts TransportOptions
}

// NewMangosTransport creates a mangos transport
func NewMangosTransport(opts TransportOptions) *MangosTransport {
	return &MangosTransport{opts: opts.withDefaults()}
}

// Send dials addr, sends one request and waits for the reply
func (t *MangosTransport) Send(ctx context.Context, addr string, request []byte) ([]byte, error) {
	sock, err := req.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create REQ socket: %w", err)
	}
	defer sock.Close()

	timeout := t.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, timeUntil(deadline))
	}
	if err := sock.SetOption(mangos.OptionSendDeadline, timeout); err != nil {
		return nil, err
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, timeout); err != nil {
		return nil, err
	}
	// Fail fast instead of reconnecting in the background
	if err := sock.SetOption(mangos.OptionDialAsynch, false); err != nil {
		return nil, err
	}

	if err := sock.Dial(addr); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, addr, err)
	}
	if err := sock.Send(request); err != nil {
		return nil, fmt.Errorf("%w: send to %s: %v", ErrPeerUnreachable, addr, err)
	}
	reply, err := sock.Recv()
	if err != nil {
		return nil, fmt.Errorf("%w: reply from %s: %v", ErrPeerUnreachable, addr, err)
	}
	return reply, nil
}

// Serve listens on addr and answers requests until ctx ends
func (t *MangosTransport) Serve(ctx context.Context, addr string, h Handler) error {
	sock, err := rep.NewSocket()
	if err != nil {
		return fmt.Errorf("failed to create REP socket: %w", err)
	}
	defer sock.Close()

	if err := sock.SetOption(mangos.OptionRecvDeadline, t.opts.PollInterval); err != nil {
		return err
	}
	if err := sock.SetOption(mangos.OptionSendDeadline, t.opts.Timeout); err != nil {
		return err
	}
	if err := sock.Listen(addr); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	for {
		request, err := sock.Recv()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, mangos.ErrRecvTimeout) {
				continue
			}
			if errors.Is(err, mangos.ErrClosed) {
				return nil
			}
			return fmt.Errorf("resync receive failed: %w", err)
		}

		if err := sock.Send(h(ctx, request)); err != nil && !errors.Is(err, mangos.ErrSendTimeout) {
			return fmt.Errorf("resync reply failed: %w", err)
		}
	}
}

var _ Transport = (*MangosTransport)(nil)
