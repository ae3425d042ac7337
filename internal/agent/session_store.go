package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/soyeahso/daogate/internal/domain"
)

// SessionStore is durable keyed storage for sessions. Implementations must be
// safe for concurrent use on different ids; same-id turns are serialised by a
// Locker, not by the store.
type SessionStore interface {
	// Load returns the session with id, or domain.ErrSessionNotFound.
	Load(ctx context.Context, id string) (*domain.Session, error)

	// Save upserts the session by id.
	Save(ctx context.Context, sess *domain.Session) error

	// List returns every stored session id.
	List(ctx context.Context) ([]string, error)
}

// MemorySessionStore is an in-memory SessionStore. It keeps clones so callers
// never alias stored state.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *MemorySessionStore) Load(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemorySessionStore) Save(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *MemorySessionStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
