package cluster

import (
	"context"
	"sync/atomic"

	"github.com/dd0wney/cluso-controlplane/pkg/membership"
)

// QuorumPresence reports whether the local node currently sees quorum. The
// oldest member only recomputes quorum while presence is PRESENT.
type QuorumPresence interface {
	Present(ctx context.Context) bool
}

// MembershipPresence is PRESENT while the live membership is at least the
// persisted quorum
type MembershipPresence struct {
	Repository Repository
	Membership membership.Provider
}

// Present implements QuorumPresence
func (p MembershipPresence) Present(ctx context.Context) bool {
	cfg, err := p.Repository.Load(ctx)
	if err != nil {
		return false
	}
	return p.Membership.Snapshot().Size() >= cfg.Quorum
}

// StaticPresence is a settable flag
type StaticPresence struct {
	present atomic.Bool
}

// NewStaticPresence creates a flag with an initial value
func NewStaticPresence(present bool) *StaticPresence {
	p := &StaticPresence{}
	p.present.Store(present)
	return p
}

// Set changes the flag
func (p *StaticPresence) Set(present bool) {
	p.present.Store(present)
}

// Present implements QuorumPresence
func (p *StaticPresence) Present(context.Context) bool {
	return p.present.Load()
}
