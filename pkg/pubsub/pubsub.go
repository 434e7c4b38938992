// Package pubsub is an in-process topic bus used to fan out control-plane
// events (task progress, fencing changes) to local watchers.
package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrShutdown is returned when subscribing to a closed bus
var ErrShutdown = errors.New("pubsub is shut down")

// DefaultBuffer is the per-subscription channel capacity
const DefaultBuffer = 100

// PubSub delivers messages of type T to subscribers by topic. Publishing
// never blocks: a subscriber whose buffer is full misses the message.
type PubSub[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription[T]]struct{}
	buffer      int

	shutdown   chan struct{}
	shutdownMu sync.Mutex
	isShutdown bool

	dropped atomic.Int64
}

// Subscription is one subscriber's view of a topic
type Subscription[T any] struct {
	topic     string
	channel   chan T
	ps        *PubSub[T]
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a bus with the given per-subscription buffer (DefaultBuffer if <= 0)
func New[T any](buffer int) *PubSub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &PubSub[T]{
		subscribers: make(map[string]map[*Subscription[T]]struct{}),
		buffer:      buffer,
		shutdown:    make(chan struct{}),
	}
}

// Subscribe creates a subscription that ends when ctx is cancelled
func (ps *PubSub[T]) Subscribe(ctx context.Context, topic string) (*Subscription[T], error) {
	ps.shutdownMu.Lock()
	defer ps.shutdownMu.Unlock()
	if ps.isShutdown {
		return nil, ErrShutdown
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		topic:   topic,
		channel: make(chan T, ps.buffer),
		ps:      ps,
		cancel:  cancel,
	}

	ps.mu.Lock()
	if ps.subscribers[topic] == nil {
		ps.subscribers[topic] = make(map[*Subscription[T]]struct{})
	}
	ps.subscribers[topic][sub] = struct{}{}
	ps.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-ps.shutdown:
			sub.close()
		}
	}()

	return sub, nil
}

// Publish sends message to every subscriber of topic
func (ps *PubSub[T]) Publish(topic string, message T) {
	ps.shutdownMu.Lock()
	closed := ps.isShutdown
	ps.shutdownMu.Unlock()
	if closed {
		return
	}

	// Copy under the read lock so a concurrent Unsubscribe cannot race the sends
	ps.mu.RLock()
	subs := make([]*Subscription[T], 0, len(ps.subscribers[topic]))
	for sub := range ps.subscribers[topic] {
		subs = append(subs, sub)
	}
	ps.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.channel <- message:
		default:
			ps.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of subscribers of topic
func (ps *PubSub[T]) SubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}

// Dropped returns how many deliveries were skipped because a buffer was full
func (ps *PubSub[T]) Dropped() int64 {
	return ps.dropped.Load()
}

// Shutdown closes all subscriptions
func (ps *PubSub[T]) Shutdown() {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return
	}
	ps.isShutdown = true
	ps.shutdownMu.Unlock()

	close(ps.shutdown)

	ps.mu.Lock()
	for topic, subs := range ps.subscribers {
		for sub := range subs {
			sub.close()
		}
		delete(ps.subscribers, topic)
	}
	ps.mu.Unlock()
}

// Channel returns the subscription's message channel. It is closed when the
// subscription ends.
func (s *Subscription[T]) Channel() <-chan T {
	return s.channel
}

// Unsubscribe removes the subscription
func (s *Subscription[T]) Unsubscribe() {
	s.cancel()

	s.ps.mu.Lock()
	if subs := s.ps.subscribers[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.ps.subscribers, s.topic)
		}
	}
	s.ps.mu.Unlock()

	s.close()
}

func (s *Subscription[T]) close() {
	s.closeOnce.Do(func() {
		close(s.channel)
	})
}
