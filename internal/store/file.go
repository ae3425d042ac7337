package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/soyeahso/daogate/internal/domain"
)

// FileSessionStore keeps every session in one JSON document keyed by id,
// the chats.json layout. The document is rewritten atomically on each Save.
// It suits a single process; use sqlite or postgres for anything larger.
type FileSessionStore struct {
	path string

	mu       sync.Mutex
	loaded   bool
	sessions map[string]*domain.Session
}

// NewFileSessionStore creates a store backed by path. The file and its
// directory are created on first Save.
func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

func (s *FileSessionStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	s.sessions = make(map[string]*domain.Session)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.sessions); err != nil {
			return fmt.Errorf("parsing %s: %w", s.path, err)
		}
	}
	s.loaded = true
	return nil
}

func (s *FileSessionStore) Load(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := sess.Clone()
	if cp.ConnectedAccounts == nil {
		cp.ConnectedAccounts = make(map[domain.AccountKind]bool)
	}
	return cp, nil
}

func (s *FileSessionStore) Save(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	prev, had := s.sessions[sess.ID]
	if had && len(prev.Messages) > len(sess.Messages) {
		return fmt.Errorf("session %s: transcript has %d messages but %d are stored",
			sess.ID, len(sess.Messages), len(prev.Messages))
	}
	s.sessions[sess.ID] = sess.Clone()
	if err := s.flush(); err != nil {
		if had {
			s.sessions[sess.ID] = prev
		} else {
			delete(s.sessions, sess.ID)
		}
		return err
	}
	return nil
}

func (s *FileSessionStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// flush writes to a temp file in the same directory and renames it over path.
func (s *FileSessionStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(s.path), err)
	}
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".chats-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
