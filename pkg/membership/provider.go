package membership

import (
	"errors"
	"sync"
)

// Membership errors
var (
	ErrMemberNotFound      = errors.New("member not found")
	ErrMemberAlreadyExists = errors.New("member already exists")
	ErrCannotRemoveLocal   = errors.New("cannot remove the local member")
)

// Listener is called with a fresh snapshot after every join or leave
type Listener func(Snapshot)

// Provider is the external membership collaborator
type Provider interface {
	LocalID() string
	Snapshot() Snapshot
	// Subscribe registers l for membership changes and returns a function
	// that removes it.
	Subscribe(l Listener) func()
}

// listeners is the subscription bookkeeping shared by providers
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]Listener
}

func (ls *listeners) add(l Listener) func() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.fns == nil {
		ls.fns = make(map[int]Listener)
	}
	id := ls.next
	ls.next++
	ls.fns[id] = l

	return func() {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		delete(ls.fns, id)
	}
}

func (ls *listeners) notify(s Snapshot) {
	ls.mu.Lock()
	fns := make([]Listener, 0, len(ls.fns))
	for _, fn := range ls.fns {
		fns = append(fns, fn)
	}
	ls.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// StaticProvider is a membership list maintained by explicit Join/Leave
// calls. It backs configured peer lists and tests. Listeners run
// synchronously on the goroutine that changed the membership.
type StaticProvider struct {
	local   Member
	mu      sync.RWMutex
	members map[string]Member
	subs    listeners
}

// NewStaticProvider creates a provider containing local and peers
func NewStaticProvider(local Member, peers ...Member) *StaticProvider {
	p := &StaticProvider{
		local:   local,
		members: make(map[string]Member, len(peers)+1),
	}
	p.members[local.ID] = local
	for _, m := range peers {
		p.members[m.ID] = m
	}
	return p
}

// LocalID returns the local node id
func (p *StaticProvider) LocalID() string {
	return p.local.ID
}

// Snapshot returns the current ordered membership
func (p *StaticProvider) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	members := make([]Member, 0, len(p.members))
	for _, m := range p.members {
		members = append(members, m)
	}
	return NewSnapshot(p.local.ID, members)
}

// Subscribe registers a membership listener
func (p *StaticProvider) Subscribe(l Listener) func() {
	return p.subs.add(l)
}

// Join adds a member and notifies listeners
func (p *StaticProvider) Join(m Member) error {
	p.mu.Lock()
	if _, exists := p.members[m.ID]; exists {
		p.mu.Unlock()
		return ErrMemberAlreadyExists
	}
	p.members[m.ID] = m
	p.mu.Unlock()

	p.subs.notify(p.Snapshot())
	return nil
}

// Leave removes a member and notifies listeners
func (p *StaticProvider) Leave(id string) error {
	if id == p.local.ID {
		return ErrCannotRemoveLocal
	}

	p.mu.Lock()
	if _, exists := p.members[id]; !exists {
		p.mu.Unlock()
		return ErrMemberNotFound
	}
	delete(p.members, id)
	p.mu.Unlock()

	p.subs.notify(p.Snapshot())
	return nil
}

// Elector applies the oldest-member heuristic to a provider: the node that
// joined first is the one that performs cluster-wide recomputations.
type Elector struct {
	provider Provider
}

// NewElector creates an elector over p
func NewElector(p Provider) *Elector {
	return &Elector{provider: p}
}

// IsLeader reports whether the local node is currently the oldest member
func (e *Elector) IsLeader() bool {
	return e.provider.Snapshot().IsLocalOldest()
}
