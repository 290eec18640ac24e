package storage

import (
	"context"
	"time"

	"github.com/iudanet/edusession/internal/models"
)

// AuthStorage defines interface for storing the session envelope on the client.
// This is the lowest storage layer - it persists records as-is and performs no
// validation, integrity checks or encryption; auth.TokenStore does that.
type AuthStorage interface {
	// SaveRecord atomically replaces the token envelope
	SaveRecord(ctx context.Context, rec *Record) error

	// GetRecord returns the stored envelope
	// Returns ErrAuthNotFound if no record exists
	GetRecord(ctx context.Context) (*Record, error)

	// DeleteRecord removes the token envelope; missing record is not an error
	DeleteRecord(ctx context.Context) error

	// SaveProfile stores the user profile separately from tokens
	SaveProfile(ctx context.Context, profile *models.UserProfile) error

	// GetProfile returns ErrProfileNotFound if no profile exists
	GetProfile(ctx context.Context) (*models.UserProfile, error)

	// Clear removes the envelope and the profile in one transaction
	Clear(ctx context.Context) error
}

// Record is the persisted envelope of a token pair.
// When KeySalt is set the tokens are sealed with a key derived from the store
// passphrase; IntegrityTag always covers the plaintext pair and SavedAt.
type Record struct {
	SavedAt      time.Time `json:"saved_at"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IntegrityTag string    `json:"integrity_tag"`
	KeySalt      string    `json:"key_salt,omitempty"`
}

// Clone returns an independent copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Change describes a write observed by a storage-level watcher
type Change struct {
	Origin   string // context that performed the write
	Revision int64  // monotonically increasing per storage
}

// Watcher is implemented by backends that can observe writes made by other
// processes sharing the same storage (e.g. the SQLite file).
type Watcher interface {
	// Revision returns the latest committed change
	Revision(ctx context.Context) (Change, error)
	// Watch calls fn for each revision newer than since until ctx is done.
	// Writes committed after Revision returned since are never skipped.
	Watch(ctx context.Context, since int64, interval time.Duration, fn func(Change)) error
}
