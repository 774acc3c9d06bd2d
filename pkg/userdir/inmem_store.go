package userdir

import (
	"context"
	"slices"
	"sync"

	"github.com/tendant/simple-mfa/pkg/mfa"
)

// InMemoryStore implements ProfileStore using an in-memory map
type InMemoryStore struct {
	profiles map[string]Profile
	mu       sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]Profile),
	}
}

func (s *InMemoryStore) GetProfile(ctx context.Context, subjectID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[subjectID]
	if !ok {
		return Profile{}, mfa.ErrNotFound
	}
	return clone(p), nil
}

func (s *InMemoryStore) SaveProfile(ctx context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.SubjectID] = clone(p)
	return nil
}

func clone(p Profile) Profile {
	p.Wallets = slices.Clone(p.Wallets)
	p.OAuthIdentities = slices.Clone(p.OAuthIdentities)
	p.Methods = slices.Clone(p.Methods)
	return p
}
