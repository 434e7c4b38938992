package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-controlplane/pkg/scheduler"
)

// ScheduleRepository implements scheduler.Repository
type ScheduleRepository struct {
	pool *pgxpool.Pool
}

var _ scheduler.Repository = (*ScheduleRepository)(nil)

const scheduleColumns = `id, name, job_type, cron_expression, scheduled_time, task_kind, payload, status, failure_reason, fire_count, last_fired_at, created_at, updated_at`

// Create stores a new spec
func (r *ScheduleRepository) Create(ctx context.Context, s *scheduler.Spec) error {
	query := `INSERT INTO schedules (` + scheduleColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.Name,
		string(s.JobType),
		s.CronExpression,
		s.ScheduledTime,
		s.TaskKind,
		nullJSON(s.Payload),
		string(s.Status),
		s.FailureReason,
		s.FireCount,
		s.LastFiredAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return scheduler.ErrScheduleExists
	}
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// Get retrieves a spec by id
func (r *ScheduleRepository) Get(ctx context.Context, id string) (*scheduler.Spec, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	s, err := scanSchedule(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scheduler.ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return s, nil
}

// Update replaces a stored spec
func (r *ScheduleRepository) Update(ctx context.Context, s *scheduler.Spec) error {
	query := `
		UPDATE schedules
		SET name = $2, job_type = $3, cron_expression = $4, scheduled_time = $5, task_kind = $6,
			payload = $7, status = $8, failure_reason = $9, fire_count = $10, last_fired_at = $11, updated_at = $12
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		s.ID,
		s.Name,
		string(s.JobType),
		s.CronExpression,
		s.ScheduledTime,
		s.TaskKind,
		nullJSON(s.Payload),
		string(s.Status),
		s.FailureReason,
		s.FireCount,
		s.LastFiredAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrScheduleNotFound
	}
	return nil
}

// List returns specs in any of statuses, oldest first
func (r *ScheduleRepository) List(ctx context.Context, statuses ...scheduler.Status) ([]*scheduler.Spec, error) {
	var w where
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		w.add("status = ANY($%d)", names)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM schedules`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var specs []*scheduler.Spec
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		specs = append(specs, s)
	}
	return specs, rows.Err()
}

// Delete removes a spec
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrScheduleNotFound
	}
	return nil
}

func scanSchedule(row pgx.Row) (*scheduler.Spec, error) {
	s := &scheduler.Spec{}
	var jobType, status string
	var payload []byte

	err := row.Scan(
		&s.ID,
		&s.Name,
		&jobType,
		&s.CronExpression,
		&s.ScheduledTime,
		&s.TaskKind,
		&payload,
		&status,
		&s.FailureReason,
		&s.FireCount,
		&s.LastFiredAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.JobType = scheduler.JobType(jobType)
	s.Status = scheduler.Status(status)
	s.Payload = payload
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}
