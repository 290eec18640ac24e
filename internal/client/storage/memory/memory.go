// Package memory держит сессию в памяти процесса. Используется в тестах и
// когда сохранять токены на диск не нужно.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/iudanet/edusession/internal/client/storage"
	"github.com/iudanet/edusession/internal/models"
)

// Storage in-memory реализация storage.AuthStorage
type Storage struct {
	record  *storage.Record
	profile *models.UserProfile
	mu      sync.RWMutex
}

// New creates an empty in-memory storage
func New() *Storage {
	return &Storage{}
}

func (s *Storage) SaveRecord(_ context.Context, rec *storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = rec.Clone()
	return nil
}

func (s *Storage) GetRecord(_ context.Context) (*storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return nil, storage.ErrAuthNotFound
	}
	return s.record.Clone(), nil
}

func (s *Storage) DeleteRecord(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	return nil
}

func (s *Storage) SaveProfile(_ context.Context, profile *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = cloneProfile(profile)
	return nil
}

func (s *Storage) GetProfile(_ context.Context) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil, storage.ErrProfileNotFound
	}
	return cloneProfile(s.profile), nil
}

func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	s.profile = nil
	return nil
}

func cloneProfile(p *models.UserProfile) *models.UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Attributes = maps.Clone(p.Attributes)
	return &c
}

var _ storage.AuthStorage = (*Storage)(nil)
