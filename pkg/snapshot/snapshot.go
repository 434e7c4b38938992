// Package snapshot exports the shared store to a compressed document and
// restores it into an empty store.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-controlplane/pkg/cluster"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/participants"
	"github.com/dd0wney/cluso-controlplane/pkg/resync"
	"github.com/dd0wney/cluso-controlplane/pkg/scheduler"
	"github.com/dd0wney/cluso-controlplane/pkg/task"
	"github.com/dd0wney/cluso-controlplane/pkg/validation"
)

// FormatVersion is the document version written by Export
const FormatVersion = 1

// magic prefixes every encoded snapshot
var magic = []byte("CPSNAP1\n")

var (
	ErrBadMagic       = errors.New("not a control plane snapshot")
	ErrTargetNotEmpty = errors.New("import target store is not empty")
	ErrMissingSource  = errors.New("snapshot requires every repository")
)

// Document is the exported state of a cluster
type Document struct {
	FormatVersion int                    `json:"format_version" validate:"eq=1"`
	ClusterName   string                 `json:"cluster_name" validate:"required"`
	NodeID        string                 `json:"node_id"`
	CreatedAt     time.Time              `json:"created_at" validate:"required"`
	Config        *cluster.Config        `json:"config" validate:"required"`
	State         []*participants.Record `json:"state"`
	Schedules     []*scheduler.Spec      `json:"schedules"`
	Tasks         []*task.Task           `json:"tasks"`
}

// Stores are the repositories a snapshot reads from or writes to
type Stores struct {
	Cluster   cluster.Repository
	State     participants.StateRepository
	Schedules scheduler.Repository
	Tasks     task.Repository
}

func (s Stores) check() error {
	if s.Cluster == nil || s.State == nil || s.Schedules == nil || s.Tasks == nil {
		return ErrMissingSource
	}
	return nil
}

// Export reads every repository into a Document
func Export(ctx context.Context, src Stores, nodeID string) (*Document, error) {
	if err := src.check(); err != nil {
		return nil, err
	}

	cfg, err := src.Cluster.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster config: %w", err)
	}
	state, err := src.State.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list participant state: %w", err)
	}
	schedules, err := src.Schedules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	tasks, err := src.Tasks.List(ctx, task.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return &Document{
		FormatVersion: FormatVersion,
		ClusterName:   cfg.ClusterName,
		NodeID:        nodeID,
		CreatedAt:     time.Now().UTC(),
		Config:        cfg,
		State:         state,
		Schedules:     schedules,
		Tasks:         tasks,
	}, nil
}

// Encode serializes and compresses a document
func Encode(doc *Document) ([]byte, error) {
	if err := validation.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return append(bytes.Clone(magic), snappy.Encode(nil, data)...), nil
}

// Decode reverses Encode and validates the document
func Decode(data []byte) (*Document, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, ErrBadMagic
	}
	raw, err := snappy.Decode(nil, data[len(magic):])
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if err := validation.Struct(&doc); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	return &doc, nil
}

// Broadcaster asks every peer to resync a participant object
type Broadcaster interface {
	Broadcast(ctx context.Context, participant, objectID string)
}

// ImportOptions controls Import
type ImportOptions struct {
	// Broadcaster and Participants, when set, trigger a full resync of each
	// named participant once the store is written
	Broadcaster  Broadcaster
	Participants []string
	Logger       logging.Logger
}

// Import writes doc into an empty store
func Import(ctx context.Context, dst Stores, doc *Document, opts ImportOptions) error {
	if err := dst.check(); err != nil {
		return err
	}
	if err := ensureEmpty(ctx, dst); err != nil {
		return err
	}
	logger := logging.OrNop(opts.Logger).With(logging.Component("snapshot"))

	cfg := doc.Config.Clone()
	if err := dst.Cluster.Save(ctx, cfg); err != nil {
		return fmt.Errorf("failed to restore cluster config: %w", err)
	}
	for _, rec := range doc.State {
		if err := dst.State.Put(ctx, rec); err != nil {
			return fmt.Errorf("failed to restore %s/%s: %w", rec.Participant, rec.Key, err)
		}
	}
	for _, spec := range doc.Schedules {
		if err := dst.Schedules.Create(ctx, spec); err != nil {
			return fmt.Errorf("failed to restore schedule %s: %w", spec.ID, err)
		}
	}
	for _, t := range doc.Tasks {
		if err := dst.Tasks.Create(ctx, t); err != nil {
			return fmt.Errorf("failed to restore task %s: %w", t.ID, err)
		}
	}

	if opts.Broadcaster != nil {
		for _, name := range opts.Participants {
			opts.Broadcaster.Broadcast(ctx, name, resync.All)
		}
	}

	logger.Info("Snapshot imported",
		logging.String("cluster", doc.ClusterName),
		logging.Time("created_at", doc.CreatedAt),
		logging.Int("schedules", len(doc.Schedules)),
		logging.Int("tasks", len(doc.Tasks)),
		logging.Int("state_records", len(doc.State)),
	)
	return nil
}

func ensureEmpty(ctx context.Context, dst Stores) error {
	if _, err := dst.Cluster.Load(ctx); !errors.Is(err, cluster.ErrConfigNotFound) {
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: cluster config exists", ErrTargetNotEmpty)
	}
	if state, err := dst.State.List(ctx, ""); err != nil || len(state) > 0 {
		return errors.Join(err, notEmpty(len(state), "participant state"))
	}
	if specs, err := dst.Schedules.List(ctx); err != nil || len(specs) > 0 {
		return errors.Join(err, notEmpty(len(specs), "schedules"))
	}
	if tasks, err := dst.Tasks.List(ctx, task.Filter{}); err != nil || len(tasks) > 0 {
		return errors.Join(err, notEmpty(len(tasks), "tasks"))
	}
	return nil
}

func notEmpty(n int, what string) error {
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d %s", ErrTargetNotEmpty, n, what)
}

// Name returns the object name used for a document in a sink
func Name(doc *Document) string {
	return fmt.Sprintf("%s-%s.snap", doc.ClusterName, doc.CreatedAt.UTC().Format("20060102T150405Z"))
}
