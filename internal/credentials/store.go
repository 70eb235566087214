// Package credentials keeps per-user cloud API keys encrypted at rest and
// hands them to adapters only for the duration of a call.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/logging"
	"ai_gateway/internal/models"
	"ai_gateway/internal/providers"
	"ai_gateway/internal/storage"
)

// Repository persists encrypted credential records. Get returns
// storage.ErrCredentialNotFound when the user has no key for provider.
type Repository interface {
	Upsert(ctx context.Context, cred *models.CredentialRecord) error
	Get(ctx context.Context, userID int64, provider string) (*models.CredentialRecord, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.CredentialRecord, error)
}

// ErrNoCredential is returned by a CredentialSource when neither the user
// nor the deployment has a key for the provider.
var ErrNoCredential = errors.New("no credential for provider")

// Store encrypts, stores and resolves provider API keys. Only ciphertext is
// cached; plaintext exists only inside a CredentialSource call.
type Store struct {
	repo   Repository
	enc    *storage.Encryption
	cache  *cache.Cache
	logger *logging.Logger

	mu     sync.RWMutex
	system map[string]string // provider -> ciphertext
}

// NewStore creates a store. A zero ttl disables caching of records.
func NewStore(repo Repository, enc *storage.Encryption, ttl, cleanup time.Duration) *Store {
	var c *cache.Cache
	if ttl > 0 {
		c = cache.New(ttl, cleanup)
	}

	return &Store{
		repo:   repo,
		enc:    enc,
		cache:  c,
		logger: logging.NewLogger("credentials"),
		system: make(map[string]string),
	}
}

func userAAD(userID int64, provider string) []byte {
	return []byte("user:" + strconv.FormatInt(userID, 10) + ":" + provider)
}

func systemAAD(provider string) []byte {
	return []byte("system:" + provider)
}

func cacheKey(userID int64, provider string) string {
	return strconv.FormatInt(userID, 10) + "/" + provider
}

// Set encrypts apiKey and stores it for the user, replacing any previous
// key for the same provider.
func (s *Store) Set(ctx context.Context, userID int64, provider, apiKey, defaultModel string) (*models.MaskedCredential, error) {
	provider = strings.TrimSpace(provider)
	apiKey = strings.TrimSpace(apiKey)

	if userID <= 0 {
		return nil, gwerr.Validation("user_id", "must be positive")
	}
	if provider == "" || strings.Contains(provider, ":") {
		return nil, gwerr.Validation("provider", "invalid provider name %q", provider)
	}
	if apiKey == "" {
		return nil, gwerr.Validation("api_key", "must not be empty")
	}

	encrypted, err := s.enc.EncryptString(apiKey, userAAD(userID, provider))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	record := &models.CredentialRecord{
		UserID:       userID,
		Provider:     provider,
		EncryptedKey: encrypted,
		MaskedKey:    MaskKey(apiKey),
		DefaultModel: strings.TrimSpace(defaultModel),
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Delete(cacheKey(userID, provider))
	}

	s.logger.Info("Credential stored", "user_id", userID, "provider", provider, "key", record.MaskedKey)
	masked := record.Masked()
	return &masked, nil
}

// SetSystemKey registers a deployment-wide key used when a user has none.
func (s *Store) SetSystemKey(provider, apiKey string) error {
	if apiKey == "" {
		return nil
	}
	encrypted, err := s.enc.EncryptString(apiKey, systemAAD(provider))
	if err != nil {
		return fmt.Errorf("failed to encrypt system credential: %w", err)
	}

	s.mu.Lock()
	s.system[provider] = encrypted
	s.mu.Unlock()

	s.logger.Info("System credential configured", "provider", provider, "key", MaskKey(apiKey))
	return nil
}

func (s *Store) systemKey(provider string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.system[provider]
	return v, ok
}

// GetMasked lists the user's credentials without any key material.
func (s *Store) GetMasked(ctx context.Context, userID int64) ([]models.MaskedCredential, error) {
	records, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]models.MaskedCredential, 0, len(records))
	for _, r := range records {
		out = append(out, r.Masked())
	}
	return out, nil
}

func (s *Store) record(ctx context.Context, userID int64, provider string) (*models.CredentialRecord, error) {
	key := cacheKey(userID, provider)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.(*models.CredentialRecord), nil
		}
	}

	rec, err := s.repo.Get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetDefault(key, rec)
	}
	return rec, nil
}

// Has reports whether a key is available for the user, either their own or
// the system fallback, and the user's preferred default model. Nothing is
// decrypted.
func (s *Store) Has(ctx context.Context, userID int64, provider string) (bool, string, error) {
	rec, err := s.record(ctx, userID, provider)
	switch {
	case err == nil:
		return true, rec.DefaultModel, nil
	case errors.Is(err, storage.ErrCredentialNotFound):
		_, ok := s.systemKey(provider)
		return ok, "", nil
	default:
		return false, "", err
	}
}

// Source returns a function that decrypts the key at call time.
func (s *Store) Source(userID int64, provider string) providers.CredentialSource {
	return func(ctx context.Context) (string, error) {
		rec, err := s.record(ctx, userID, provider)
		if err == nil {
			return s.enc.DecryptString(rec.EncryptedKey, userAAD(userID, provider))
		}
		if !errors.Is(err, storage.ErrCredentialNotFound) {
			return "", err
		}

		encrypted, ok := s.systemKey(provider)
		if !ok {
			return "", ErrNoCredential
		}
		return s.enc.DecryptString(encrypted, systemAAD(provider))
	}
}

// MaskKey keeps a short recognisable prefix and the last four characters,
// e.g. "sk-...abcd".
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}
