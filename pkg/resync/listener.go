package resync

import (
	"context"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

// ReplyOK acknowledges an applied message; any other reply is a rejection
const ReplyOK = "ok"

// Listener is the inbound side: it verifies messages and dispatches them
// to the local registry
type Listener struct {
	registry *Registry
	signer   *Signer
	localID  string
	metrics  *metrics.Registry
	logger   logging.Logger
}

// NewListener creates a listener. A nil signer accepts unsigned messages.
func NewListener(localID string, registry *Registry, signer *Signer, reg *metrics.Registry, logger logging.Logger) *Listener {
	return &Listener{
		registry: registry,
		signer:   signer,
		localID:  localID,
		metrics:  reg,
		logger:   logging.OrNop(logger).With(logging.Component("resync")),
	}
}

// Handle processes one request and returns the reply
func (l *Listener) Handle(ctx context.Context, request []byte) []byte {
	msg, err := DecodeMessage(request)
	if err != nil {
		l.reject("malformed", err)
		return []byte("error: " + err.Error())
	}
	if l.signer != nil {
		if err := l.signer.Verify(msg); err != nil {
			l.reject("invalid_token", err, logging.Peer(msg.Origin))
			return []byte("error: " + err.Error())
		}
	}
	if msg.Origin == l.localID {
		// Our own broadcast echoed back; local state is already current.
		return []byte(ReplyOK)
	}

	if err := l.registry.Dispatch(ctx, msg.Participant, msg.ObjectID); err != nil {
		return []byte("error: " + err.Error())
	}
	return []byte(ReplyOK)
}

// Serve answers resync requests on addr until ctx ends
func (l *Listener) Serve(ctx context.Context, t Transport, addr string) error {
	l.logger.Info("Resync listener started", logging.String("addr", addr))
	return t.Serve(ctx, addr, l.Handle)
}

func (l *Listener) reject(reason string, err error, fields ...logging.Field) {
	if l.metrics != nil {
		l.metrics.RecordRejected(reason)
	}
	l.logger.Warn("Rejected resync message", append(fields, logging.String("reason", reason), logging.Error(err))...)
}
