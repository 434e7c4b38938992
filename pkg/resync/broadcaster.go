package resync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/membership"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

// BroadcasterOptions configures a Broadcaster
type BroadcasterOptions struct {
	Membership membership.Provider
	Transport  Transport
	Signer     *Signer // nil sends unsigned messages
	// FanOut caps concurrent peer deliveries
	FanOut int
	// Timeout bounds one whole broadcast
	Timeout time.Duration
	Metrics *metrics.Registry
	Logger  logging.Logger
}

// Report is the outcome of one broadcast
type Report struct {
	Participant string
	ObjectID    string
	Delivered   []string
	Failed      map[string]error
}

// Broadcaster sends resync hints to every other member
type Broadcaster struct {
	membership membership.Provider
	transport  Transport
	signer     *Signer
	fanOut     int
	timeout    time.Duration
	metrics    *metrics.Registry
	logger     logging.Logger

	inflight sync.WaitGroup
}

// NewBroadcaster creates a broadcaster
func NewBroadcaster(opts BroadcasterOptions) *Broadcaster {
	if opts.FanOut <= 0 {
		opts.FanOut = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Broadcaster{
		membership: opts.Membership,
		transport:  opts.Transport,
		signer:     opts.Signer,
		fanOut:     opts.FanOut,
		timeout:    opts.Timeout,
		metrics:    opts.Metrics,
		logger:     logging.OrNop(opts.Logger).With(logging.Component("resync")),
	}
}

// Broadcast sends the hint in the background and returns immediately. The
// caller's state is already committed, so delivery failures are only logged
// and cancelling ctx does not abort delivery.
func (b *Broadcaster) Broadcast(ctx context.Context, participant, objectID string) {
	ctx = context.WithoutCancel(ctx)

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.BroadcastSync(ctx, participant, objectID)
	}()
}

// Wait blocks until every background broadcast has finished
func (b *Broadcaster) Wait() {
	b.inflight.Wait()
}

// BroadcastSync delivers the hint to every peer and reports per-peer results
func (b *Broadcaster) BroadcastSync(ctx context.Context, participant, objectID string) Report {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	report := Report{Participant: participant, ObjectID: objectID, Failed: map[string]error{}}
	if b.metrics != nil {
		b.metrics.RecordBroadcast(participant)
	}

	snap := b.membership.Snapshot()
	peers := snap.Peers()
	if len(peers) == 0 {
		return report
	}

	msg := Message{
		Participant: participant,
		ObjectID:    objectID,
		Origin:      snap.LocalID(),
		SentAt:      time.Now().UTC(),
	}
	if b.signer != nil {
		if err := b.signer.Sign(&msg); err != nil {
			b.logger.Error("Failed to sign resync message", logging.Participant(participant), logging.Error(err))
			return report
		}
	}
	payload, err := msg.Encode()
	if err != nil {
		b.logger.Error("Failed to encode resync message", logging.Participant(participant), logging.Error(err))
		return report
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(b.fanOut)

	for _, peer := range peers {
		g.Go(func() error {
			start := time.Now()
			err := b.deliver(ctx, peer.Addr, payload)
			elapsed := time.Since(start)

			if b.metrics != nil {
				b.metrics.RecordDelivery(participant, err == nil, elapsed)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[peer.ID] = controlerr.TransientDelivery("resync delivery", err)
				b.logger.Warn("Resync delivery failed",
					logging.Peer(peer.ID),
					logging.Participant(participant),
					logging.ObjectID(objectID),
					logging.Error(err),
				)
				return nil
			}
			report.Delivered = append(report.Delivered, peer.ID)
			return nil
		})
	}
	_ = g.Wait()

	b.logger.Debug("Resync broadcast finished",
		logging.Participant(participant),
		logging.ObjectID(objectID),
		logging.Int("delivered", len(report.Delivered)),
		logging.Int("failed", len(report.Failed)),
	)
	return report
}

func (b *Broadcaster) deliver(ctx context.Context, addr string, payload []byte) error {
	reply, err := b.transport.Send(ctx, addr, payload)
	if err != nil {
		return err
	}
	if string(reply) != ReplyOK {
		return fmt.Errorf("%w: %s", ErrPeerRejected, reply)
	}
	return nil
}
