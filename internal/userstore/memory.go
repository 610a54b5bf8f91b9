package userstore

import (
	"context"
	"sync"
	"time"

	"voicepassport/pkg/domain"
	"voicepassport/pkg/platform/sentinel"
)

// MemoryStore is an in-memory Store for tests and single-node runs.
type MemoryStore struct {
	mu       sync.RWMutex
	byUser   map[domain.UserID]User
	bySample map[domain.SampleID]domain.UserID
}

// NewMemoryStore returns an empty directory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser:   make(map[domain.UserID]User),
		bySample: make(map[domain.SampleID]domain.UserID),
	}
}

func (s *MemoryStore) FindByUser(_ context.Context, id domain.UserID) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byUser[id]
	if !ok {
		return User{}, sentinel.ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) FindBySample(_ context.Context, id domain.SampleID) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.bySample[id]
	if !ok {
		return User{}, sentinel.ErrNotFound
	}
	return s.byUser[userID], nil
}

func (s *MemoryStore) Put(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := s.byUser[user.ID]; ok {
		user.CreatedAt = prev.CreatedAt
		delete(s.bySample, prev.SampleID)
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	s.byUser[user.ID] = user
	s.bySample[user.SampleID] = user.ID
	return nil
}

func (s *MemoryStore) SetEnabled(_ context.Context, id domain.UserID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byUser[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	user.Enabled = enabled
	user.UpdatedAt = time.Now().UTC()
	s.byUser[id] = user
	return nil
}
