package postgres

import "context"

// migrate creates the control plane tables
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cluster_config (
		singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
		id TEXT NOT NULL,
		cluster_name TEXT NOT NULL,
		validation_token TEXT NOT NULL,
		deployment_mode TEXT NOT NULL,
		quorum INTEGER NOT NULL,
		members TEXT[] NOT NULL DEFAULT '{}',
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload JSONB,
		status TEXT NOT NULL,
		scheduled BOOLEAN NOT NULL DEFAULT FALSE,
		schedule_id TEXT NOT NULL DEFAULT '',
		parent_id TEXT NOT NULL DEFAULT '',
		triggers JSONB NOT NULL,
		remediated BOOLEAN,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_schedule_id ON tasks(schedule_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent_id ON tasks(parent_id);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		job_type TEXT NOT NULL,
		cron_expression TEXT NOT NULL DEFAULT '',
		scheduled_time TIMESTAMPTZ,
		task_kind TEXT NOT NULL,
		payload JSONB,
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		fire_count BIGINT NOT NULL DEFAULT 0,
		last_fired_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_status ON schedules(status);

	CREATE TABLE IF NOT EXISTS participant_state (
		participant TEXT NOT NULL,
		key TEXT NOT NULL,
		value JSONB NOT NULL,
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (participant, key)
	);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}
