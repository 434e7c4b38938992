// Package task tracks units of work through their lifecycle.
//
// A Task moves INITIALIZING -> IN_PROGRESS -> COMPLETED|FAILED. Each
// execution attempt is a Trigger; the newest trigger is the current one.
// Execution happens elsewhere: executors report progress back through the
// Manager, and a periodic stale sweep fails tasks whose executor vanished.
package task

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Status is the lifecycle state of a task or one of its attempts
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
)

// Terminal reports whether s is COMPLETED or FAILED
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether s is INITIALIZING or IN_PROGRESS
func (s Status) Active() bool {
	return s == StatusInitializing || s == StatusInProgress
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s.Active() || s.Terminal()
}

// CleanupReason is the failure reason written by the stale sweep
const CleanupReason = "cleanup"

// Attempt is the bookkeeping shared by every trigger kind
type Attempt struct {
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Status          Status     `json:"status"`
	PercentComplete int        `json:"percent_complete"`
	FailureReason   string     `json:"failure_reason,omitempty"`
}

// TriggerKind tags the trigger union
type TriggerKind string

const (
	TriggerSimple    TriggerKind = "SIMPLE"
	TriggerAggregate TriggerKind = "AGGREGATE"
)

// Trigger is one execution attempt: a *SimpleTrigger advanced by its own
// executor, or an *AggregateTrigger whose state is derived from child tasks
type Trigger interface {
	Kind() TriggerKind
	State() *Attempt
	clone() Trigger
}

// SimpleTrigger is an attempt reported on directly by an executor
type SimpleTrigger struct {
	Attempt
}

// Kind implements Trigger
func (t *SimpleTrigger) Kind() TriggerKind { return TriggerSimple }

// State implements Trigger
func (t *SimpleTrigger) State() *Attempt { return &t.Attempt }

func (t *SimpleTrigger) clone() Trigger {
	out := *t
	out.EndTime = cloneTime(t.EndTime)
	return &out
}

// AggregateTrigger fans out to child tasks. It never receives progress of
// its own; it is recomputed whenever a child changes.
type AggregateTrigger struct {
	Attempt
	ChildTaskIDs []string
}

// Kind implements Trigger
func (t *AggregateTrigger) Kind() TriggerKind { return TriggerAggregate }

// State implements Trigger
func (t *AggregateTrigger) State() *Attempt { return &t.Attempt }

func (t *AggregateTrigger) clone() Trigger {
	out := *t
	out.EndTime = cloneTime(t.EndTime)
	out.ChildTaskIDs = slices.Clone(t.ChildTaskIDs)
	return &out
}

// Task is a tracked unit of work
type Task struct {
	ID         string
	Kind       string
	Payload    json.RawMessage
	Status     Status
	Scheduled  bool
	ScheduleID string
	ParentID   string
	// Triggers is most-recent-first: Triggers[0] is the current attempt
	Triggers []Trigger
	// Remediated is nil for kinds that cannot be remediated
	Remediated *bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Current returns the current trigger, nil if the task has none
func (t *Task) Current() Trigger {
	if len(t.Triggers) == 0 {
		return nil
	}
	return t.Triggers[0]
}

// IsAggregate reports whether the current trigger fans out to children
func (t *Task) IsAggregate() bool {
	cur := t.Current()
	return cur != nil && cur.Kind() == TriggerAggregate
}

// Children returns the child ids of an aggregate task
func (t *Task) Children() []string {
	if agg, ok := t.Current().(*AggregateTrigger); ok {
		return slices.Clone(agg.ChildTaskIDs)
	}
	return nil
}

// push makes trig the current trigger
func (t *Task) push(trig Trigger) {
	t.Triggers = append([]Trigger{trig}, t.Triggers...)
}

// Clone returns a deep copy
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Payload = slices.Clone(t.Payload)
	out.Triggers = make([]Trigger, len(t.Triggers))
	for i, trig := range t.Triggers {
		out.Triggers[i] = trig.clone()
	}
	if t.Remediated != nil {
		r := *t.Remediated
		out.Remediated = &r
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// triggerJSON is the stored envelope of a trigger
type triggerJSON struct {
	Kind TriggerKind `json:"kind"`
	Attempt
	ChildTaskIDs []string `json:"child_task_ids,omitempty"`
}

type taskJSON struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     Status          `json:"status"`
	Scheduled  bool            `json:"scheduled"`
	ScheduleID string          `json:"schedule_id,omitempty"`
	ParentID   string          `json:"parent_id,omitempty"`
	Triggers   []triggerJSON   `json:"triggers"`
	Remediated *bool           `json:"remediated,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// MarshalTriggers encodes a trigger stack for storage
func MarshalTriggers(triggers []Trigger) ([]byte, error) {
	return json.Marshal(encodeTriggers(triggers))
}

// UnmarshalTriggers decodes a stored trigger stack
func UnmarshalTriggers(data []byte) ([]Trigger, error) {
	var env []triggerJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return decodeTriggers(env)
}

func encodeTriggers(triggers []Trigger) []triggerJSON {
	out := make([]triggerJSON, len(triggers))
	for i, trig := range triggers {
		out[i] = triggerJSON{Kind: trig.Kind(), Attempt: *trig.State()}
		if agg, ok := trig.(*AggregateTrigger); ok {
			out[i].ChildTaskIDs = agg.ChildTaskIDs
		}
	}
	return out
}

func decodeTriggers(env []triggerJSON) ([]Trigger, error) {
	out := make([]Trigger, len(env))
	for i, e := range env {
		switch e.Kind {
		case TriggerSimple:
			out[i] = &SimpleTrigger{Attempt: e.Attempt}
		case TriggerAggregate:
			out[i] = &AggregateTrigger{Attempt: e.Attempt, ChildTaskIDs: e.ChildTaskIDs}
		default:
			return nil, fmt.Errorf("unknown trigger kind %q", e.Kind)
		}
	}
	return out, nil
}

// MarshalJSON implements json.Marshaler
func (t *Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(taskJSON{
		ID:         t.ID,
		Kind:       t.Kind,
		Payload:    t.Payload,
		Status:     t.Status,
		Scheduled:  t.Scheduled,
		ScheduleID: t.ScheduleID,
		ParentID:   t.ParentID,
		Triggers:   encodeTriggers(t.Triggers),
		Remediated: t.Remediated,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Task) UnmarshalJSON(data []byte) error {
	var j taskJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	triggers, err := decodeTriggers(j.Triggers)
	if err != nil {
		return err
	}
	*t = Task{
		ID:         j.ID,
		Kind:       j.Kind,
		Payload:    j.Payload,
		Status:     j.Status,
		Scheduled:  j.Scheduled,
		ScheduleID: j.ScheduleID,
		ParentID:   j.ParentID,
		Triggers:   triggers,
		Remediated: j.Remediated,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	return nil
}
