package node

import (
	"context"
	"errors"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/resync"
	"github.com/dd0wney/cluso-controlplane/pkg/snapshot"
)

// ErrNoSink means neither snapshot.dir nor snapshot.s3_bucket is set
var ErrNoSink = errors.New("no snapshot sink configured")

// buildSink prefers the bucket when one is configured
func (n *Node) buildSink(ctx context.Context) error {
	cfg := n.Config.Snapshot
	switch {
	case cfg.S3Bucket != "":
		sink, err := snapshot.NewS3Sink(ctx, snapshot.S3Options{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3Endpoint != "",
		})
		if err != nil {
			return err
		}
		n.Sink = sink
	case cfg.Dir != "":
		sink, err := snapshot.NewFileSink(cfg.Dir)
		if err != nil {
			return err
		}
		n.Sink = sink
	}
	return nil
}

// ExportSnapshot writes the whole store to the sink and returns its name
func (n *Node) ExportSnapshot(ctx context.Context) (string, error) {
	if n.Sink == nil {
		return "", ErrNoSink
	}
	op := logging.StartOperation(n.Logger, "Snapshot export")

	doc, err := snapshot.Export(ctx, n.Stores, n.Config.Node.ID)
	if err != nil {
		op.EndError(err)
		return "", err
	}
	data, err := snapshot.Encode(doc)
	if err != nil {
		op.EndError(err)
		return "", err
	}
	name := snapshot.Name(doc)
	if err := n.Sink.Write(ctx, name, data); err != nil {
		op.EndError(err)
		return "", err
	}
	op.End()
	return name, nil
}

// ImportSnapshot restores a named snapshot into an empty store and asks
// every member to reload
func (n *Node) ImportSnapshot(ctx context.Context, name string) error {
	if n.Sink == nil {
		return ErrNoSink
	}
	data, err := n.Sink.Read(ctx, name)
	if err != nil {
		return err
	}
	doc, err := snapshot.Decode(data)
	if err != nil {
		return err
	}
	if err := snapshot.Import(ctx, n.Stores, doc, snapshot.ImportOptions{
		Broadcaster:  n.Broadcaster,
		Participants: n.Registry.Names(),
		Logger:       n.Logger,
	}); err != nil {
		return err
	}
	return n.Registry.ResyncAll(ctx)
}

// FullResync reloads every participant locally and asks every peer to do
// the same
func (n *Node) FullResync(ctx context.Context) error {
	err := n.Registry.ResyncAll(ctx)
	for _, name := range n.Registry.Names() {
		n.Broadcaster.Broadcast(ctx, name, resync.All)
	}
	return err
}
