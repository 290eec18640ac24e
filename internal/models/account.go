package models

import "time"

// User учетная запись на стороне dev шлюза
type User struct {
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // bcrypt
	Role         string     `json:"role"`
	FullName     string     `json:"full_name,omitempty"`
	Active       bool       `json:"active"`
}

// Profile возвращает публичную часть учетной записи
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:       u.ID,
		Email:    u.Email,
		Role:     u.Role,
		FullName: u.FullName,
	}
}

// RefreshToken выданный refresh token. Отозванные токены не удаляются сразу,
// чтобы повторное предъявление отличалось от неизвестного токена.
type RefreshToken struct {
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
	Token     string
	UserID    string
}

// Revoked сообщает, что токен отозван (ротация или выход)
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Expired сообщает, что срок действия токена истек к моменту now
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
