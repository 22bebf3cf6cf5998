package auth

import (
	"context"
	"sync"
	"time"

	"relaygate/pkg/interfaces"
)

// MemorySessionStore is the default single-node session store. The session
// table is read on every authorized operation and written only on login and
// revoke, so an RWMutex-guarded map fits the access pattern.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*interfaces.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*interfaces.Session),
	}
}

var _ interfaces.SessionStore = (*MemorySessionStore)(nil)

func (s *MemorySessionStore) Put(_ context.Context, session *interfaces.Session) error {
	s.mu.Lock()
	s.sessions[session.Token] = session
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, token string) (*interfaces.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	// Expired entries are purged lazily; callers still check ExpiresAt.
	if !time.Now().Before(session.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return nil, interfaces.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Close() error {
	return nil
}

// Len reports the current table size, counting entries not yet lazily
// purged. Used by diagnostics.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
