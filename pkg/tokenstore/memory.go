package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/oidcgate/pkg/jwtx"
)

// MemoryStore is the built-in session adaptor: per-session credential sets
// held in process memory. Entries expire lazily after the configured TTL,
// mirroring the host session lifetime. State does not survive a restart,
// which for a login session just means users re-authenticate.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memorySession
}

type memorySession struct {
	set     Set
	touched time.Time
}

// NewMemoryStore creates the in-memory adaptor. A ttl of zero disables
// expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*memorySession),
	}
}

func (s *MemoryStore) Find(_ context.Context, sessionID string, role Role) (*jwtx.Token, error) {
	if _, err := storageKey(role); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	if s.ttl > 0 && s.now().Sub(sess.touched) > s.ttl {
		delete(s.sessions, sessionID)
		return nil, nil
	}

	switch role {
	case RoleIdentity:
		return sess.set.Identity, nil
	case RoleAccess:
		return sess.set.Access, nil
	default:
		if sess.set.Refresh == "" {
			return nil, nil
		}
		return &jwtx.Token{Raw: sess.set.Refresh}, nil
	}
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string, role Role) (*jwtx.Token, error) {
	return getOrMissing(ctx, s, sessionID, role)
}

func (s *MemoryStore) Put(_ context.Context, sessionID string, set Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Whole-set replacement keeps access+refresh atomic.
	s.sessions[sessionID] = &memorySession{set: set, touched: s.now()}
	return nil
}

func (s *MemoryStore) Forget(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}
