package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/edusession/internal/client/storage"
	"github.com/iudanet/edusession/internal/models"
)

var currentKey = []byte("current")

// SaveRecord stores the token envelope
func (s *Storage) SaveRecord(ctx context.Context, rec *storage.Record) error {
	return s.put(bucketAuth, rec)
}

// GetRecord retrieves the stored token envelope
func (s *Storage) GetRecord(ctx context.Context) (*storage.Record, error) {
	rec := &storage.Record{}
	if err := s.get(bucketAuth, rec, storage.ErrAuthNotFound); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteRecord removes the token envelope
func (s *Storage) DeleteRecord(ctx context.Context) error {
	return s.update(func(tx *bbolt.Tx) error {
		return deleteCurrent(tx, bucketAuth)
	})
}

// SaveProfile stores the user profile
func (s *Storage) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	return s.put(bucketProfile, profile)
}

// GetProfile retrieves the stored user profile
func (s *Storage) GetProfile(ctx context.Context) (*models.UserProfile, error) {
	profile := &models.UserProfile{}
	if err := s.get(bucketProfile, profile, storage.ErrProfileNotFound); err != nil {
		return nil, err
	}
	return profile, nil
}

// Clear removes the envelope and the profile in one transaction (logout)
func (s *Storage) Clear(ctx context.Context) error {
	return s.update(func(tx *bbolt.Tx) error {
		if err := deleteCurrent(tx, bucketAuth); err != nil {
			return err
		}
		return deleteCurrent(tx, bucketProfile)
	})
}

func (s *Storage) put(name []byte, v any) error {
	// Сериализуем данные в JSON
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s data: %w", name, err)
	}

	return s.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(name)
		if bucket == nil {
			return fmt.Errorf("%s bucket not found", name)
		}
		if err := bucket.Put(currentKey, data); err != nil {
			return fmt.Errorf("failed to save %s data: %w", name, err)
		}
		return nil
	})
}

func (s *Storage) get(name []byte, v any, notFound error) error {
	return s.view(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(name)
		if bucket == nil {
			return fmt.Errorf("%s bucket not found", name)
		}

		data := bucket.Get(currentKey)
		if data == nil {
			return notFound
		}

		// Десериализуем
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to unmarshal %s data: %w", name, err)
		}
		return nil
	})
}

func deleteCurrent(tx *bbolt.Tx, name []byte) error {
	bucket := tx.Bucket(name)
	if bucket == nil {
		return fmt.Errorf("%s bucket not found", name)
	}
	// Delete отсутствующего ключа не ошибка
	if err := bucket.Delete(currentKey); err != nil {
		return fmt.Errorf("failed to delete %s data: %w", name, err)
	}
	return nil
}

var _ storage.AuthStorage = (*Storage)(nil)
