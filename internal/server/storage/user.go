package storage

import (
	"context"
	"time"

	"github.com/iudanet/edusession/internal/models"
)

// UserStorage учетные записи шлюза.
// Email сравнивается без учета регистра; отсутствие записи дает ErrUserNotFound.
type UserStorage interface {
	// CreateUser: занятый email дает ErrUserAlreadyExists
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	// SetActive блокирует или разблокирует вход
	SetActive(ctx context.Context, userID string, active bool) error
	UpdateLastLogin(ctx context.Context, userID string, lastLogin time.Time) error
}
