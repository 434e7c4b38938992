package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-controlplane/pkg/task"
)

// TaskRepository implements task.Repository
type TaskRepository struct {
	pool *pgxpool.Pool
}

var _ task.Repository = (*TaskRepository)(nil)

const taskColumns = `id, kind, payload, status, scheduled, schedule_id, parent_id, triggers, remediated, created_at, updated_at`

// Create stores a new task
func (r *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	triggers, err := task.MarshalTriggers(t.Triggers)
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}

	query := `INSERT INTO tasks (` + taskColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.pool.Exec(ctx, query,
		t.ID,
		t.Kind,
		nullJSON(t.Payload),
		string(t.Status),
		t.Scheduled,
		t.ScheduleID,
		t.ParentID,
		triggers,
		t.Remediated,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return task.ErrTaskExists
	}
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Get retrieves a task by id
func (r *TaskRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// Update replaces a stored task
func (r *TaskRepository) Update(ctx context.Context, t *task.Task) error {
	triggers, err := task.MarshalTriggers(t.Triggers)
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}

	query := `
		UPDATE tasks
		SET kind = $2, payload = $3, status = $4, scheduled = $5, schedule_id = $6,
			parent_id = $7, triggers = $8, remediated = $9, updated_at = $10
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		t.ID,
		t.Kind,
		nullJSON(t.Payload),
		string(t.Status),
		t.Scheduled,
		t.ScheduleID,
		t.ParentID,
		triggers,
		t.Remediated,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

// List returns matching tasks ordered by creation time
func (r *TaskRepository) List(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	query, args := taskListQuery(f)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func taskListQuery(f task.Filter) (string, []any) {
	var w where
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY($%d)", statuses)
	}
	if f.Kind != "" {
		w.add("kind = $%d", f.Kind)
	}
	if f.ScheduleID != "" {
		w.add("schedule_id = $%d", f.ScheduleID)
	}
	if f.ParentID != "" {
		w.add("parent_id = $%d", f.ParentID)
	}
	return `SELECT ` + taskColumns + ` FROM tasks` + w.String() + ` ORDER BY created_at, id`, w.args
}

// Delete removes a task
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (*task.Task, error) {
	t := &task.Task{}
	var status string
	var payload, triggers []byte

	err := row.Scan(
		&t.ID,
		&t.Kind,
		&payload,
		&status,
		&t.Scheduled,
		&t.ScheduleID,
		&t.ParentID,
		&triggers,
		&t.Remediated,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	t.Payload = payload
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.Triggers, err = task.UnmarshalTriggers(triggers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal triggers of %s: %w", t.ID, err)
	}
	return t, nil
}

// nullJSON maps an empty document to SQL NULL
func nullJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
