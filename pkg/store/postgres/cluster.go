package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-controlplane/pkg/cluster"
)

// ClusterRepository implements cluster.Repository on a single-row table
type ClusterRepository struct {
	pool *pgxpool.Pool
}

var _ cluster.Repository = (*ClusterRepository)(nil)

// Load returns the stored config or cluster.ErrConfigNotFound
func (r *ClusterRepository) Load(ctx context.Context) (*cluster.Config, error) {
	query := `
		SELECT id, cluster_name, validation_token, deployment_mode, quorum, members, version, updated_at
		FROM cluster_config
		WHERE singleton
	`

	cfg := &cluster.Config{}
	var mode string
	err := r.pool.QueryRow(ctx, query).Scan(
		&cfg.ID,
		&cfg.ClusterName,
		&cfg.ValidationToken,
		&mode,
		&cfg.Quorum,
		&cfg.Members,
		&cfg.Version,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cluster.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster config: %w", err)
	}
	cfg.DeploymentMode = cluster.DeploymentMode(mode)
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return cfg, nil
}

// Save upserts cfg. The version increment happens in the same statement so
// concurrent savers never reuse a version.
func (r *ClusterRepository) Save(ctx context.Context, cfg *cluster.Config) error {
	query := `
		INSERT INTO cluster_config (singleton, id, cluster_name, validation_token, deployment_mode, quorum, members, version, updated_at)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6, 1, now())
		ON CONFLICT (singleton) DO UPDATE SET
			id = EXCLUDED.id,
			cluster_name = EXCLUDED.cluster_name,
			validation_token = EXCLUDED.validation_token,
			deployment_mode = EXCLUDED.deployment_mode,
			quorum = EXCLUDED.quorum,
			members = EXCLUDED.members,
			version = cluster_config.version + 1,
			updated_at = now()
		RETURNING version, updated_at
	`

	members := slices.Clone(cfg.Members)
	slices.Sort(members)
	members = slices.Compact(members)
	if members == nil {
		members = []string{}
	}

	err := r.pool.QueryRow(ctx, query,
		cfg.ID,
		cfg.ClusterName,
		cfg.ValidationToken,
		string(cfg.DeploymentMode),
		cfg.Quorum,
		members,
	).Scan(&cfg.Version, &cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save cluster config: %w", err)
	}
	cfg.Members = members
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return nil
}
