// Package settings persists per-user model settings.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/kinsafe/internal/types"
)

const (
	redisCacheTTL  = 10 * time.Minute
	redisKeyPrefix = "kinsafe:settings:"
)

// ValidationError wraps invalid settings submitted by a caller.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid model settings: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks s against the accepted ranges.
func Validate(s types.ModelSettings) error {
	if err := validate.Struct(s); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// Store reads and writes per-user settings.
type Store interface {
	Get(ctx context.Context, userID string) (types.ModelSettings, error)
	Put(ctx context.Context, userID string, s types.ModelSettings) (types.ModelSettings, error)
}

// Repository is the persistence layer behind CachedStore.
type Repository interface {
	Load(ctx context.Context, userID string) (*types.ModelSettings, error)
	Save(ctx context.Context, userID string, s types.ModelSettings) error
}

// CachedStore implements Store over a Repository with a Redis read cache.
type CachedStore struct {
	repo  Repository
	redis *redis.Client
}

func NewCachedStore(repo Repository, rdb *redis.Client) *CachedStore {
	return &CachedStore{repo: repo, redis: rdb}
}

// Get returns the user's settings, or the defaults when none were saved.
func (s *CachedStore) Get(ctx context.Context, userID string) (types.ModelSettings, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+userID).Bytes()
		if err == nil {
			var ms types.ModelSettings
			if err := json.Unmarshal(cached, &ms); err == nil {
				return ms, nil
			}
		}
	}

	stored, err := s.repo.Load(ctx, userID)
	if err != nil {
		return types.ModelSettings{}, err
	}
	ms := stored.WithDefaults()

	if s.redis != nil {
		if data, err := json.Marshal(ms); err == nil {
			s.redis.Set(ctx, redisKeyPrefix+userID, data, redisCacheTTL)
		}
	}
	return ms, nil
}

// Put validates and saves s, returning the stored value.
func (s *CachedStore) Put(ctx context.Context, userID string, ms types.ModelSettings) (types.ModelSettings, error) {
	if ms.ModelVersion == "" {
		ms.ModelVersion = types.ModelPrimary
	}
	if err := Validate(ms); err != nil {
		return types.ModelSettings{}, err
	}
	if err := s.repo.Save(ctx, userID, ms); err != nil {
		return types.ModelSettings{}, err
	}
	if s.redis != nil {
		if err := s.redis.Del(ctx, redisKeyPrefix+userID).Err(); err != nil {
			slog.Warn("failed to invalidate settings cache", "user_id", userID, "error", err)
		}
	}
	return ms, nil
}

// PGRepository stores settings in user_model_settings.
type PGRepository struct {
	db *pgxpool.Pool
}

func NewPGRepository(db *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: db}
}

// Load returns nil when the user has no saved settings.
func (r *PGRepository) Load(ctx context.Context, userID string) (*types.ModelSettings, error) {
	var ms types.ModelSettings
	err := r.db.QueryRow(ctx, `
		SELECT model_version, temperature, max_tokens
		FROM user_model_settings
		WHERE user_id = $1
	`, userID).Scan(&ms.ModelVersion, &ms.Temperature, &ms.MaxTokens)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user_model_settings: %w", err)
	}
	return &ms, nil
}

func (r *PGRepository) Save(ctx context.Context, userID string, ms types.ModelSettings) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_model_settings (user_id, model_version, temperature, max_tokens, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET model_version = EXCLUDED.model_version,
		    temperature   = EXCLUDED.temperature,
		    max_tokens    = EXCLUDED.max_tokens,
		    updated_at    = NOW()
	`, userID, string(ms.ModelVersion), ms.Temperature, ms.MaxTokens)
	if err != nil {
		return fmt.Errorf("upsert user_model_settings: %w", err)
	}
	return nil
}
