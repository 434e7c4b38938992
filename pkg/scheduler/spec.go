// Package scheduler owns recurring (CRON) and one-shot (SIMPLE) triggers that
// spawn tasks. The repository is authoritative; the local Engine only mirrors
// the SCHEDULED specs and is reconverged on resync.
package scheduler

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dd0wney/cluso-controlplane/pkg/validation"
)

// JobType selects how a spec fires
type JobType string

const (
	JobCron   JobType = "CRON"
	JobSimple JobType = "SIMPLE"
)

// Status is the lifecycle state of a spec
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusScheduled    Status = "SCHEDULED"
	StatusPaused       Status = "PAUSED"
	StatusCancelled    Status = "CANCELLED"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
)

// ActiveStatuses are the statuses reported by GetActive
var ActiveStatuses = []Status{StatusScheduled, StatusPaused, StatusInitializing}

// Active reports whether s is SCHEDULED, PAUSED or INITIALIZING
func (s Status) Active() bool {
	return slices.Contains(ActiveStatuses, s)
}

// cronParser accepts five fields, an optional leading seconds field, and
// descriptors such as @hourly or @every 5m
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func init() {
	_ = validation.RegisterValidation("cronspec", func(v string) bool {
		if v == "" {
			return true
		}
		_, err := cronParser.Parse(v)
		return err == nil
	})
}

// ParseCron parses a cron expression with the scheduler's parser
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Spec is a persisted trigger definition. Exactly one of CronExpression and
// ScheduledTime is set, matching JobType.
type Spec struct {
	ID             string          `json:"id" validate:"omitempty,identifier"`
	Name           string          `json:"name,omitempty" validate:"max=256"`
	JobType        JobType         `json:"job_type" validate:"required,oneof=CRON SIMPLE"`
	CronExpression string          `json:"cron_expression,omitempty" validate:"required_if=JobType CRON,excluded_unless=JobType CRON,cronspec"`
	ScheduledTime  *time.Time      `json:"scheduled_time,omitempty" validate:"required_if=JobType SIMPLE,excluded_unless=JobType SIMPLE"`
	TaskKind       string          `json:"task_kind" validate:"required,identifier"`
	Payload        json.RawMessage `json:"payload,omitempty"`

	Status        Status     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	FireCount     int64      `json:"fire_count"`
	LastFiredAt   *time.Time `json:"last_fired_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Validate checks the trigger definition. Every failure wraps
// ErrInvalidScheduleInput.
func (s *Spec) Validate() error {
	if err := validation.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScheduleInput, err)
	}
	return nil
}

// Clone returns a deep copy
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	c := *s
	if s.ScheduledTime != nil {
		t := *s.ScheduledTime
		c.ScheduledTime = &t
	}
	if s.LastFiredAt != nil {
		t := *s.LastFiredAt
		c.LastFiredAt = &t
	}
	if s.Payload != nil {
		c.Payload = slices.Clone(s.Payload)
	}
	return &c
}

// trigger identifies the firing definition; engines use it to skip
// re-registering an unchanged spec
func (s *Spec) trigger() string {
	if s.JobType == JobSimple && s.ScheduledTime != nil {
		return string(JobSimple) + "@" + s.ScheduledTime.UTC().Format(time.RFC3339Nano)
	}
	return string(s.JobType) + "@" + s.CronExpression
}
