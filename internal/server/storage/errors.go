package storage

import "errors"

// Ошибки хранилища шлюза; обработчики сопоставляют их с кодами ответа через errors.Is
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	// refresh token не найден, отозван или уже заменен при ротации
	ErrTokenNotFound = errors.New("refresh token not found")
)
