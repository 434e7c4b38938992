package scheduler

import "errors"

// Input errors
var (
	// ErrInvalidScheduleInput means the job type and its time field disagree,
	// or a field failed validation
	ErrInvalidScheduleInput = errors.New("invalid schedule input")
	ErrScheduledTimeInPast  = errors.New("scheduled time is not in the future")
	ErrEmptyScheduleID      = errors.New("schedule id cannot be empty")
)

// State errors
var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrScheduleExists   = errors.New("schedule already exists")
	ErrNotModifiable    = errors.New("schedule is no longer active")
)

// Wiring errors
var (
	ErrMissingRepository = errors.New("scheduler requires a repository")
	ErrMissingEngine     = errors.New("scheduler requires a trigger engine")
	ErrMissingTasks      = errors.New("scheduler requires a task submitter")
)
