// Package apikey validates producer API keys against PostgreSQL. Raw keys
// are generated with crypto/rand, stored only as SHA-256 digests, and carry
// a scope that gates which gateway surfaces they may call.
//
// Expected schema:
//
//	CREATE TABLE api_keys (
//	    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
//	    key_hash     TEXT NOT NULL UNIQUE,
//	    name         TEXT NOT NULL,
//	    scope        TEXT NOT NULL DEFAULT 'score',
//	    rate_limit   INT NOT NULL DEFAULT 120,
//	    is_active    BOOLEAN NOT NULL DEFAULT true,
//	    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    last_used_at TIMESTAMPTZ,
//	    expires_at   TIMESTAMPTZ
//	);
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrasewatch/phrasewatch/pkg/postgres"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

// Scopes. A key's scope fixes the widest surface it may reach: score keys
// hit the scoring path only, intake keys may also submit batches, admin
// keys reach everything including resets and key management.
const (
	ScopeScore  = "score"
	ScopeIntake = "intake"
	ScopeAdmin  = "admin"
)

const rawKeyPrefix = "pw_"

// KeyInfo is the metadata of a validated key. The raw key and its hash are
// never returned after creation.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Scope     string     `json:"scope"`
	RateLimit int        `json:"rate_limit"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Allows reports whether the key's scope covers the required scope.
func (k *KeyInfo) Allows(required string) bool {
	switch k.Scope {
	case ScopeAdmin:
		return true
	case ScopeIntake:
		return required == ScopeScore || required == ScopeIntake
	default:
		return required == ScopeScore
	}
}

// Validator checks presented keys against the api_keys table.
type Validator struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewValidator(db *postgres.Client) *Validator {
	return &Validator{
		db:     db,
		logger: slog.Default().With("component", "apikey-validator"),
	}
}

// Validate resolves a raw key to its KeyInfo. Returns ErrInvalidKey for
// unknown or revoked keys and ErrExpiredKey past the key's expiry.
func (v *Validator) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	hash := HashKey(rawKey)

	var info KeyInfo
	var expiresAt sql.NullTime

	err := v.db.DB.QueryRowContext(ctx,
		`SELECT id, name, scope, rate_limit, is_active, created_at, expires_at
		 FROM api_keys
		 WHERE key_hash = $1 AND is_active = true`,
		hash,
	).Scan(&info.ID, &info.Name, &info.Scope, &info.RateLimit,
		&info.IsActive, &info.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}

	if expiresAt.Valid {
		if expiresAt.Time.Before(time.Now()) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &expiresAt.Time
	}

	// Best effort; validation does not fail on a lost touch.
	if _, err := v.db.DB.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, info.ID); err != nil {
		v.logger.Debug("failed to touch api key", "id", info.ID, "error", err)
	}

	return &info, nil
}

// CreateKey mints a new raw key, stores its hash, and returns the raw key.
// This is the only time the raw key is available.
func (v *Validator) CreateKey(ctx context.Context, name, scope string, rateLimit int, expiresAt *time.Time) (string, error) {
	switch scope {
	case ScopeScore, ScopeIntake, ScopeAdmin:
	default:
		return "", fmt.Errorf("unknown scope %q", scope)
	}

	rawKey := generateRawKey()

	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}

	_, err := v.db.DB.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, name, scope, rate_limit, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		HashKey(rawKey), name, scope, rateLimit, expiry,
	)
	if err != nil {
		return "", fmt.Errorf("creating api key: %w", err)
	}

	v.logger.Info("api key created", "name", name, "scope", scope, "rate_limit", rateLimit)
	return rawKey, nil
}

// RevokeKey deactivates a key by its raw value.
func (v *Validator) RevokeKey(ctx context.Context, rawKey string) error {
	result, err := v.db.DB.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false WHERE key_hash = $1`,
		HashKey(rawKey),
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrInvalidKey
	}
	v.logger.Info("api key revoked")
	return nil
}

// ListKeys returns the active keys, newest first.
func (v *Validator) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := v.db.DB.QueryContext(ctx,
		`SELECT id, name, scope, rate_limit, is_active, created_at, expires_at
		 FROM api_keys
		 WHERE is_active = true
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var k KeyInfo
		var expiresAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &k.Scope, &k.RateLimit,
			&k.IsActive, &k.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// HashKey returns the SHA-256 hex digest of a raw key.
func HashKey(raw string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}

func generateRawKey() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return rawKeyPrefix + hex.EncodeToString(b)
}
