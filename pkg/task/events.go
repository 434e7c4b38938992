package task

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-controlplane/pkg/pubsub"
)

// EventType names what happened to a task
type EventType string

const (
	EventCreated     EventType = "created"
	EventProgress    EventType = "progress"
	EventCompleted   EventType = "completed"
	EventFailed      EventType = "failed"
	EventRetriggered EventType = "retriggered"
	EventRemediated  EventType = "remediated"
)

// Event is published for every externally visible task change
type Event struct {
	Type     EventType `json:"type"`
	TaskID   string    `json:"task_id"`
	ParentID string    `json:"parent_id,omitempty"`
	Kind     string    `json:"kind"`
	Status   Status    `json:"status"`
	Percent  int       `json:"percent"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier receives task events
type Notifier interface {
	Notify(e Event)
}

// AllTopic carries every task event on a BusNotifier
const AllTopic = "tasks"

// BusNotifier publishes events on a pubsub bus, once on AllTopic and once on
// the task's own topic
type BusNotifier struct {
	bus *pubsub.PubSub[Event]
}

// NewBusNotifier creates a notifier over bus
func NewBusNotifier(bus *pubsub.PubSub[Event]) *BusNotifier {
	return &BusNotifier{bus: bus}
}

// Topic is the per-task topic name
func Topic(taskID string) string {
	return "task." + taskID
}

// Notify implements Notifier
func (n *BusNotifier) Notify(e Event) {
	n.bus.Publish(AllTopic, e)
	n.bus.Publish(Topic(e.TaskID), e)
}

// Watch subscribes to one task's events, or to all events when taskID is empty
func (n *BusNotifier) Watch(ctx context.Context, taskID string) (*pubsub.Subscription[Event], error) {
	topic := AllTopic
	if taskID != "" {
		topic = Topic(taskID)
	}
	return n.bus.Subscribe(ctx, topic)
}

// Executor performs the work of a task and reports back through the Manager
type Executor interface {
	Execute(ctx context.Context, t *Task)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, t *Task)

// Execute implements Executor
func (f ExecutorFunc) Execute(ctx context.Context, t *Task) { f(ctx, t) }
