package storage

import "errors"

var (
	// ErrAuthNotFound конверта с токенами нет
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrProfileNotFound профиля нет
	ErrProfileNotFound = errors.New("user profile not found")

	// ErrStorageClosed хранилище уже закрыто
	ErrStorageClosed = errors.New("storage is closed")

	// ErrStorageLocked файл хранилища держит другой процесс
	ErrStorageLocked = errors.New("storage is locked by another process")
)
