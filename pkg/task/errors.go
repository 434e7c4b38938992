package task

import "errors"

// Lookup errors
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")
)

// Lifecycle errors
var (
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrInvalidProgress   = errors.New("percentage must be between 0 and 100")
	ErrAggregateTrigger  = errors.New("aggregate triggers are advanced through their children")
	ErrNotRemediable     = errors.New("task kind cannot be remediated")
	ErrNotTerminal       = errors.New("task has not finished")
	ErrEmptyKind         = errors.New("task kind cannot be empty")
)

// ErrNoStaleTasks is returned by CleanupStale when nothing needed cleaning
var ErrNoStaleTasks = errors.New("no stale tasks found")
