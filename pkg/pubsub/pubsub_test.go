package pubsub

import (
	"context"
	"testing"
	"time"
)

func receive[T any](t *testing.T, sub *Subscription[T]) (T, bool) {
	t.Helper()
	select {
	case msg, ok := <-sub.Channel():
		return msg, ok
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for message")
		var zero T
		return zero, false
	}
}

func TestBasicPubSub(t *testing.T) {
	ps := New[string](0)
	defer ps.Shutdown()

	sub, err := ps.Subscribe(context.Background(), "tasks")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	ps.Publish("tasks", "created")

	if msg, _ := receive(t, sub); msg != "created" {
		t.Errorf("Expected 'created', got %q", msg)
	}
}

func TestMultipleSubscribers(t *testing.T) {
	ps := New[int](0)
	defer ps.Shutdown()

	subs := make([]*Subscription[int], 5)
	for i := range subs {
		sub, err := ps.Subscribe(context.Background(), "fanout")
		if err != nil {
			t.Fatalf("Failed to subscribe %d: %v", i, err)
		}
		subs[i] = sub
	}
	if n := ps.SubscriberCount("fanout"); n != 5 {
		t.Errorf("Expected 5 subscribers, got %d", n)
	}

	ps.Publish("fanout", 42)

	for i, sub := range subs {
		if msg, _ := receive(t, sub); msg != 42 {
			t.Errorf("Subscriber %d: expected 42, got %d", i, msg)
		}
	}
}

func TestTopicIsolation(t *testing.T) {
	ps := New[string](0)
	defer ps.Shutdown()

	a, _ := ps.Subscribe(context.Background(), "a")
	b, _ := ps.Subscribe(context.Background(), "b")

	ps.Publish("a", "for-a")

	if msg, _ := receive(t, a); msg != "for-a" {
		t.Errorf("Expected 'for-a', got %q", msg)
	}
	select {
	case msg := <-b.Channel():
		t.Errorf("Topic b received %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestContextCancellationUnsubscribes(t *testing.T) {
	ps := New[string](0)
	defer ps.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := ps.Subscribe(ctx, "tasks")
	cancel()

	if _, ok := receive(t, sub); ok {
		t.Error("Expected channel to be closed after cancel")
	}
	if n := ps.SubscriberCount("tasks"); n != 0 {
		t.Errorf("Expected 0 subscribers, got %d", n)
	}
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	ps := New[int](1)
	defer ps.Shutdown()

	sub, _ := ps.Subscribe(context.Background(), "slow")
	defer sub.Unsubscribe()

	ps.Publish("slow", 1)
	ps.Publish("slow", 2)

	if got := ps.Dropped(); got != 1 {
		t.Errorf("Expected 1 dropped message, got %d", got)
	}
}

func TestSubscribeAfterShutdown(t *testing.T) {
	ps := New[string](0)
	sub, _ := ps.Subscribe(context.Background(), "tasks")
	ps.Shutdown()
	ps.Shutdown()

	if _, ok := receive(t, sub); ok {
		t.Error("Expected channel closed by shutdown")
	}
	if _, err := ps.Subscribe(context.Background(), "tasks"); err != ErrShutdown {
		t.Errorf("Expected ErrShutdown, got %v", err)
	}
	ps.Publish("tasks", "ignored")
}
