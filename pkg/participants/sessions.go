package participants

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
)

// SessionsName is the resync participant name for user sessions
const SessionsName = "sessions"

var ErrSessionNotFound = errors.New("session not found")

// Session is a locally cached user session
type Session struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// revocation invalidates every session of a user issued before Before
type revocation struct {
	Before time.Time `json:"before"`
	Reason string    `json:"reason,omitempty"`
}

// Sessions caches live sessions on this node and evicts those a stored
// revocation invalidates
type Sessions struct {
	state[revocation]
	cache *gocache.Cache
	now   func() time.Time
}

// NewSessions creates the session participant. Cached sessions expire after
// ttl.
func NewSessions(opts Options, ttl time.Duration) *Sessions {
	return &Sessions{
		state: newState[revocation](SessionsName, opts),
		cache: gocache.New(ttl, time.Minute),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Name implements resync.Participant
func (s *Sessions) Name() string { return SessionsName }

// Track caches a session on this node unless a stored revocation already
// covers it
func (s *Sessions) Track(ctx context.Context, sess Session) error {
	if sess.ID == "" || sess.UserID == "" {
		return controlerr.Validation("track session", errors.New("session id and user id are required"))
	}
	rev, ok, err := s.get(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if ok && sess.IssuedAt.Before(rev.Before) {
		return controlerr.Precondition("track session", fmt.Errorf("session %s was revoked", sess.ID))
	}
	s.cache.SetDefault(sess.ID, sess)
	return nil
}

// Lookup returns a cached session
func (s *Sessions) Lookup(id string) (Session, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return v.(Session), nil
}

// Count returns the number of cached sessions
func (s *Sessions) Count() int {
	return s.cache.ItemCount()
}

// RevokeUser invalidates every session of a user issued up to now, on this
// node and, through the broadcast, on every peer
func (s *Sessions) RevokeUser(ctx context.Context, userID, reason string) error {
	if userID == "" {
		return controlerr.Validation("revoke sessions", ErrEmptyKey)
	}
	rev := revocation{Before: s.now(), Reason: reason}
	if err := s.put(ctx, userID, rev); err != nil {
		return err
	}
	s.evict(userID, rev)
	return nil
}

// Resync evicts sessions of one user, or of every revoked user when userID
// is empty
func (s *Sessions) Resync(ctx context.Context, userID string) error {
	if userID != "" {
		rev, ok, err := s.get(ctx, userID)
		if err != nil || !ok {
			return err
		}
		s.evict(userID, rev)
		return nil
	}

	all, err := s.all(ctx)
	if err != nil {
		return err
	}
	for _, user := range sortedKeys(all) {
		s.evict(user, all[user])
	}
	return nil
}

func (s *Sessions) evict(userID string, rev revocation) {
	evicted := 0
	for id, item := range s.cache.Items() {
		sess, ok := item.Object.(Session)
		if !ok || sess.UserID != userID || !sess.IssuedAt.Before(rev.Before) {
			continue
		}
		s.cache.Delete(id)
		evicted++
	}
	if evicted > 0 {
		s.logger.Info("Sessions evicted",
			logging.String("user_id", userID),
			logging.Count(evicted),
		)
	}
}
