package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/edusession/internal/client/storage"
	"github.com/iudanet/edusession/internal/models"
)

// SaveRecord stores the token envelope
func (s *Storage) SaveRecord(ctx context.Context, rec *storage.Record) error {
	return s.put(ctx, "auth_record", rec)
}

// GetRecord retrieves the stored token envelope
func (s *Storage) GetRecord(ctx context.Context) (*storage.Record, error) {
	rec := &storage.Record{}
	if err := s.get(ctx, "auth_record", rec, storage.ErrAuthNotFound); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteRecord removes the token envelope
func (s *Storage) DeleteRecord(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM auth_record`)
		return err
	})
}

// SaveProfile stores the user profile
func (s *Storage) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	return s.put(ctx, "user_profile", profile)
}

// GetProfile retrieves the stored user profile
func (s *Storage) GetProfile(ctx context.Context) (*models.UserProfile, error) {
	profile := &models.UserProfile{}
	if err := s.get(ctx, "user_profile", profile, storage.ErrProfileNotFound); err != nil {
		return nil, err
	}
	return profile, nil
}

// Clear removes the envelope and the profile in one transaction
func (s *Storage) Clear(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM auth_record`); err != nil {
			return fmt.Errorf("failed to delete auth record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_profile`); err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		return nil
	})
}

// table всегда одна из констант выше, не пользовательский ввод
func (s *Storage) put(ctx context.Context, table string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", table, err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO `+table+` (id, payload) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload
		`, data)
		if err != nil {
			return fmt.Errorf("failed to save %s: %w", table, err)
		}
		return nil
	})
}

func (s *Storage) get(ctx context.Context, table string, v any, notFound error) error {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM `+table+` WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", table, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", table, err)
	}
	return nil
}

var _ storage.AuthStorage = (*Storage)(nil)
