// Package membership provides read-only views of the current cluster members.
//
// This package handles:
//   - Ordered membership snapshots (oldest member first)
//   - Membership providers: static (configured peers) and gossip (memlist)
//   - The oldest-member leadership heuristic
//
// The control plane never writes membership; it only consumes what a
// provider reports.
package membership

import (
	"sort"
	"time"
)

// Member is one node of the cluster as seen by the membership layer
type Member struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"`      // resync endpoint, e.g. tcp://10.0.0.4:7600
	JoinedAt time.Time `json:"joined_at"` // when the node started participating
}

// Snapshot is an immutable view of the membership, ordered by join time.
// Ties are broken by ID so every node derives the same order.
type Snapshot struct {
	local   string
	members []Member
}

// NewSnapshot orders members and records which of them is the local node
func NewSnapshot(localID string, members []Member) Snapshot {
	ordered := make([]Member, len(members))
	copy(ordered, members)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].JoinedAt.Equal(ordered[j].JoinedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].JoinedAt.Before(ordered[j].JoinedAt)
	})
	return Snapshot{local: localID, members: ordered}
}

// LocalID returns the id of the node that took the snapshot
func (s Snapshot) LocalID() string {
	return s.local
}

// Members returns a copy of the ordered members
func (s Snapshot) Members() []Member {
	out := make([]Member, len(s.members))
	copy(out, s.members)
	return out
}

// IDs returns member ids in join order
func (s Snapshot) IDs() []string {
	ids := make([]string, len(s.members))
	for i, m := range s.members {
		ids[i] = m.ID
	}
	return ids
}

// Size returns the number of members
func (s Snapshot) Size() int {
	return len(s.members)
}

// Oldest returns the member that joined first
func (s Snapshot) Oldest() (Member, bool) {
	if len(s.members) == 0 {
		return Member{}, false
	}
	return s.members[0], true
}

// IsOldest reports whether id is the oldest member
func (s Snapshot) IsOldest(id string) bool {
	oldest, ok := s.Oldest()
	return ok && oldest.ID == id
}

// IsLocalOldest reports whether the local node is the oldest member
func (s Snapshot) IsLocalOldest() bool {
	return s.IsOldest(s.local)
}

// IsLocal reports whether id is the local node
func (s Snapshot) IsLocal(id string) bool {
	return id == s.local
}

// Get returns the member with the given id
func (s Snapshot) Get(id string) (Member, bool) {
	for _, m := range s.members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// Contains reports whether id is a member
func (s Snapshot) Contains(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Peers returns every member except the local node
func (s Snapshot) Peers() []Member {
	peers := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		if m.ID != s.local {
			peers = append(peers, m)
		}
	}
	return peers
}
