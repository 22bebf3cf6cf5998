package database

import (
	"context"
	"sync"
	"time"

	"relaygate/pkg/interfaces"
)

// StaticStore is an in-memory credential table, used when credentials come
// from configuration instead of the SQLite database, and by tests.
type StaticStore struct {
	mu    sync.RWMutex
	creds map[string]*interfaces.Credential
}

func NewStaticStore(creds []*interfaces.Credential) *StaticStore {
	s := &StaticStore{creds: make(map[string]*interfaces.Credential, len(creds))}
	for _, cred := range creds {
		copied := *cred
		if copied.CreatedAt.IsZero() {
			copied.CreatedAt = time.Now().UTC()
		}
		s.creds[copied.APIKey] = &copied
	}
	return s
}

var _ interfaces.CredentialStore = (*StaticStore)(nil)

func (s *StaticStore) Lookup(_ context.Context, apiKey string) (*interfaces.Credential, error) {
	s.mu.RLock()
	cred, ok := s.creds[apiKey]
	s.mu.RUnlock()
	if !ok {
		return nil, interfaces.ErrCredentialNotFound
	}
	copied := *cred
	return &copied, nil
}

func (s *StaticStore) Upsert(_ context.Context, cred *interfaces.Credential) error {
	copied := *cred
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.creds[copied.APIKey] = &copied
	s.mu.Unlock()
	return nil
}

func (s *StaticStore) Delete(_ context.Context, apiKey string) error {
	s.mu.Lock()
	delete(s.creds, apiKey)
	s.mu.Unlock()
	return nil
}

func (s *StaticStore) List(_ context.Context) ([]*interfaces.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds := make([]*interfaces.Credential, 0, len(s.creds))
	for _, cred := range s.creds {
		copied := *cred
		creds = append(creds, &copied)
	}
	return creds, nil
}

func (s *StaticStore) Close() error {
	return nil
}
