package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/edusession/internal/client/storage"
	"github.com/iudanet/edusession/internal/client/token"
	"github.com/iudanet/edusession/internal/crypto"
	"github.com/iudanet/edusession/internal/models"
)

// DefaultRetention - сколько живет сохраненная пара без перезаписи
const DefaultRetention = 7 * 24 * time.Hour

// aad для AES-GCM, чтобы access и refresh нельзя было поменять местами
const (
	aadAccess  = "edusession/access"
	aadRefresh = "edusession/refresh"
)

// ChangeKind вид изменения сохраненного состояния
type ChangeKind int

const (
	ChangeSaved ChangeKind = iota + 1
	ChangeCleared
	ChangeProfile
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSaved:
		return "saved"
	case ChangeCleared:
		return "cleared"
	case ChangeProfile:
		return "profile"
	default:
		return "unknown"
	}
}

// Store хранит пару токенов и профиль поверх storage.AuthStorage.
// Отвечает за валидацию, integrity tag, срок хранения и шифрование.
// Любая запись, которая не прошла проверку при чтении, удаляется.
type Store struct {
	storage    storage.AuthStorage
	clock      clockwork.Clock
	logger     *slog.Logger
	onChange   func(context.Context, ChangeKind)
	keys       map[string][]byte // salt (base64) -> ключ
	passphrase string
	saltB64    string // соль для новых записей
	retention  time.Duration
	mu         sync.Mutex
}

// StoreOption настраивает Store
type StoreOption func(*Store)

// WithRetention задает срок хранения записи; 0 отключает проверку
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) { s.retention = d }
}

// WithClock подменяет часы
func WithClock(c clockwork.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithLogger задает логгер
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithPassphrase включает шифрование токенов ключом, выведенным из passphrase
func WithPassphrase(passphrase string) StoreOption {
	return func(s *Store) { s.passphrase = passphrase }
}

// WithChangeHook вызывается после каждого Save, Clear и SaveProfile
func WithChangeHook(fn func(context.Context, ChangeKind)) StoreOption {
	return func(s *Store) { s.onChange = fn }
}

// NewStore creates a new token store
func NewStore(st storage.AuthStorage, opts ...StoreOption) *Store {
	s := &Store{
		storage:   st,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		retention: DefaultRetention,
		keys:      make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save проверяет и сохраняет пару одной записью
func (s *Store) Save(ctx context.Context, pair models.TokenPair) error {
	if pair.AccessToken == "" {
		return &ValidationError{Field: "access token", Reason: "empty"}
	}
	if pair.RefreshToken == "" {
		return &ValidationError{Field: "refresh token", Reason: "empty"}
	}
	if err := token.ValidateStructure(pair.AccessToken); err != nil {
		return &ValidationError{Field: "access token", Reason: "malformed", Err: err}
	}

	savedAt := s.clock.Now().UTC()
	rec := &storage.Record{
		SavedAt:      savedAt,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}

	var key []byte
	if s.passphrase != "" {
		saltB64, k, err := s.currentKey()
		if err != nil {
			return fmt.Errorf("failed to derive store key: %w", err)
		}
		key = k

		// Шифруем токены
		if rec.AccessToken, err = crypto.Seal(pair.AccessToken, key, aadAccess); err != nil {
			return fmt.Errorf("failed to encrypt access token: %w", err)
		}
		if rec.RefreshToken, err = crypto.Seal(pair.RefreshToken, key, aadRefresh); err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		rec.KeySalt = saltB64
	}

	// Тег считается по открытым токенам
	rec.IntegrityTag = crypto.IntegrityTag(key, tagParts(pair, savedAt)...)

	if err := s.storage.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}

	s.notify(ctx, ChangeSaved)
	return nil
}

// Load возвращает сохраненную пару или nil, если ее нет или она не прошла проверку.
// Ошибка возвращается только при отмене ctx.
func (s *Store) Load(ctx context.Context) (*models.TokenPair, error) {
	rec, err := s.storage.GetRecord(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.discard(ctx, "unreadable record", err)
		return nil, nil
	}

	if s.retention > 0 && s.clock.Now().Sub(rec.SavedAt) > s.retention {
		s.discard(ctx, "retention window elapsed", nil)
		return nil, nil
	}

	pair := models.TokenPair{AccessToken: rec.AccessToken, RefreshToken: rec.RefreshToken}

	var key []byte
	if rec.KeySalt != "" {
		key, err = s.keyForSalt(rec.KeySalt)
		if err != nil {
			s.discard(ctx, "store key unavailable", err)
			return nil, nil
		}
		if pair.AccessToken, err = crypto.Open(rec.AccessToken, key, aadAccess); err != nil {
			s.discard(ctx, "access token decryption failed", err)
			return nil, nil
		}
		if pair.RefreshToken, err = crypto.Open(rec.RefreshToken, key, aadRefresh); err != nil {
			s.discard(ctx, "refresh token decryption failed", err)
			return nil, nil
		}
	}

	if !crypto.VerifyIntegrityTag(key, rec.IntegrityTag, tagParts(pair, rec.SavedAt)...) {
		s.discard(ctx, "integrity tag mismatch", nil)
		return nil, nil
	}

	if !pair.Complete() {
		s.discard(ctx, "incomplete pair", nil)
		return nil, nil
	}
	if err := token.ValidateStructure(pair.AccessToken); err != nil {
		s.discard(ctx, "malformed access token", err)
		return nil, nil
	}

	return &pair, nil
}

// Clear удаляет токены и профиль. Ошибки хранилища только логируются.
func (s *Store) Clear(ctx context.Context) {
	if err := s.storage.Clear(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to clear auth storage", slog.Any("error", err))
	}
	s.notify(ctx, ChangeCleared)
}

// SaveProfile сохраняет профиль пользователя
func (s *Store) SaveProfile(ctx context.Context, profile models.UserProfile) error {
	if err := s.storage.SaveProfile(ctx, &profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	s.notify(ctx, ChangeProfile)
	return nil
}

// LoadProfile возвращает профиль или nil, если его нет или он не читается
func (s *Store) LoadProfile(ctx context.Context) (*models.UserProfile, error) {
	profile, err := s.storage.GetProfile(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.WarnContext(ctx, "failed to read profile", slog.Any("error", err))
		return nil, nil
	}
	return profile, nil
}

// discard реализует самовосстановление: плохая запись удаляется целиком
func (s *Store) discard(ctx context.Context, reason string, err error) {
	attrs := []any{slog.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	s.logger.WarnContext(ctx, "discarding stored session", attrs...)

	if clearErr := s.storage.Clear(ctx); clearErr != nil {
		s.logger.WarnContext(ctx, "failed to clear auth storage", slog.Any("error", clearErr))
	}
}

func (s *Store) notify(ctx context.Context, kind ChangeKind) {
	if s.onChange != nil {
		s.onChange(ctx, kind)
	}
}

// currentKey возвращает соль и ключ для новых записей, создавая их при первом вызове
func (s *Store) currentKey() (string, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saltB64 != "" {
		return s.saltB64, s.keys[s.saltB64], nil
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return "", nil, err
	}
	key, err := crypto.DeriveStoreKey(s.passphrase, salt)
	if err != nil {
		return "", nil, err
	}

	saltB64 := base64.StdEncoding.EncodeToString(salt)
	s.saltB64 = saltB64
	s.keys[saltB64] = key
	return saltB64, key, nil
}

// keyForSalt выводит ключ для соли из записи; результат кешируется
func (s *Store) keyForSalt(saltB64 string) ([]byte, error) {
	if s.passphrase == "" {
		return nil, errors.New("record is encrypted but no passphrase configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[saltB64]; ok {
		return key, nil
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	key, err := crypto.DeriveStoreKey(s.passphrase, salt)
	if err != nil {
		return nil, err
	}

	s.keys[saltB64] = key
	// Продолжаем писать с той же солью, чтобы не выводить ключ повторно
	if s.saltB64 == "" {
		s.saltB64 = saltB64
	}
	return key, nil
}

func tagParts(pair models.TokenPair, savedAt time.Time) []string {
	return []string{pair.AccessToken, pair.RefreshToken, strconv.FormatInt(savedAt.UnixNano(), 10)}
}
