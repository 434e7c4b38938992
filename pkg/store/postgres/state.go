package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-controlplane/pkg/participants"
)

// StateRepository implements participants.StateRepository
type StateRepository struct {
	pool *pgxpool.Pool
}

var _ participants.StateRepository = (*StateRepository)(nil)

// Get retrieves one record
func (r *StateRepository) Get(ctx context.Context, participant, key string) (*participants.Record, error) {
	query := `
		SELECT participant, key, value, version, updated_at
		FROM participant_state
		WHERE participant = $1 AND key = $2
	`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, participant, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, participants.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return rec, nil
}

// List returns a participant's records ordered by key, or every record
func (r *StateRepository) List(ctx context.Context, participant string) ([]*participants.Record, error) {
	var w where
	if participant != "" {
		w.add("participant = $%d", participant)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT participant, key, value, version, updated_at FROM participant_state`+w.String()+` ORDER BY participant, key`,
		w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list state: %w", err)
	}
	defer rows.Close()

	var out []*participants.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Put upserts a record and bumps its version
func (r *StateRepository) Put(ctx context.Context, rec *participants.Record) error {
	query := `
		INSERT INTO participant_state (participant, key, value, version, updated_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (participant, key) DO UPDATE SET
			value = EXCLUDED.value,
			version = participant_state.version + 1,
			updated_at = now()
		RETURNING version, updated_at
	`

	err := r.pool.QueryRow(ctx, query, rec.Participant, rec.Key, []byte(rec.Value)).
		Scan(&rec.Version, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return nil
}

// Delete removes a record
func (r *StateRepository) Delete(ctx context.Context, participant, key string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM participant_state WHERE participant = $1 AND key = $2`, participant, key)
	if err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return participants.ErrRecordNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*participants.Record, error) {
	rec := &participants.Record{}
	var value []byte
	if err := row.Scan(&rec.Participant, &rec.Key, &value, &rec.Version, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Value = value
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
