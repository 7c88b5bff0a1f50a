package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const redisCacheTTL = 5 * time.Minute
const redisKeyPrefix = "kinsafe:key:"

// ErrKeyNotFound is returned when revoking a key the caller does not own.
var ErrKeyNotFound = errors.New("api key not found")

// KeyStore looks up API key metadata by hash.
type KeyStore interface {
	Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error)
}

// KeyManager lists, creates and revokes a user's keys.
type KeyManager interface {
	List(ctx context.Context, userID string) ([]KeySummary, error)
	Create(ctx context.Context, req NewKey) (*CreatedKey, error)
	Revoke(ctx context.Context, userID, keyID string) error
}

// KeySummary is the listing view of a key; the raw key is never stored.
type KeySummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"keyPrefix"`
	Status     string     `json:"status"`
	DailyLimit *int       `json:"dailyLimit,omitempty"`
	RPMLimit   *int       `json:"rpmLimit,omitempty"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// NewKey describes a key to create.
type NewKey struct {
	UserID     string        `json:"-"`
	Name       string        `json:"name" validate:"required,max=100"`
	Env        string        `json:"-"`
	DailyLimit *int          `json:"dailyLimit,omitempty" validate:"omitempty,gte=1"`
	RPMLimit   *int          `json:"rpmLimit,omitempty" validate:"omitempty,gte=1"`
	TTL        time.Duration `json:"-"`
}

// CreatedKey carries the raw key, shown to the caller exactly once.
type CreatedKey struct {
	KeySummary
	Key string `json:"key"`
}

// CachedKeyStore implements KeyStore and KeyManager with PostgreSQL + Redis cache.
type CachedKeyStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewCachedKeyStore(db *pgxpool.Pool, rdb *redis.Client) *CachedKeyStore {
	return &CachedKeyStore{db: db, redis: rdb}
}

func (s *CachedKeyStore) Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	// Check Redis cache first
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+keyHash).Bytes()
		if err == nil {
			var meta KeyMetadata
			if err := json.Unmarshal(cached, &meta); err == nil && meta.ExpiresAt.After(time.Now()) {
				return &meta, nil
			}
		}
	}

	meta, err := s.lookupDB(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}

	if s.redis != nil {
		data, err := json.Marshal(meta)
		if err == nil {
			s.redis.Set(ctx, redisKeyPrefix+keyHash, data, redisCacheTTL)
		}
	}

	return meta, nil
}

func (s *CachedKeyStore) lookupDB(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	var meta KeyMetadata

	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, rpm_limit, daily_limit, expires_at
		FROM api_keys
		WHERE key_hash = $1
		  AND status = 'active'
		  AND expires_at > NOW()
	`, keyHash).Scan(
		&meta.ID,
		&meta.UserID,
		&meta.Name,
		&meta.RPMLimit,
		&meta.DailyLimit,
		&meta.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query api_keys: %w", err)
	}

	// Update last_used_at asynchronously (fire-and-forget)
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := s.db.Exec(bgCtx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, meta.ID); err != nil {
			slog.Debug("failed to touch api key", "key_id", meta.ID, "error", err)
		}
	}()

	return &meta, nil
}

func (s *CachedKeyStore) List(ctx context.Context, userID string) ([]KeySummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, key_prefix, status, daily_limit, rpm_limit, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query api_keys: %w", err)
	}
	defer rows.Close()

	keys := make([]KeySummary, 0)
	for rows.Next() {
		var k KeySummary
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.Status, &k.DailyLimit, &k.RPMLimit,
			&k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api_key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api_keys: %w", err)
	}
	return keys, nil
}

func (s *CachedKeyStore) Create(ctx context.Context, req NewKey) (*CreatedKey, error) {
	raw, err := GenerateKey(req.Env)
	if err != nil {
		return nil, err
	}

	out := &CreatedKey{
		Key: raw,
		KeySummary: KeySummary{
			Name:       req.Name,
			KeyPrefix:  KeyPrefix(raw),
			Status:     "active",
			DailyLimit: req.DailyLimit,
			RPMLimit:   req.RPMLimit,
			ExpiresAt:  time.Now().Add(req.TTL).UTC(),
		},
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, user_id, name, daily_limit, rpm_limit, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7)
		RETURNING id, created_at
	`, HashKey(raw), out.KeyPrefix, req.UserID, req.Name, req.DailyLimit, req.RPMLimit, out.ExpiresAt,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert api_key: %w", err)
	}
	return out, nil
}

// Revoke marks the key revoked and drops its cache entry so the revocation
// takes effect immediately.
func (s *CachedKeyStore) Revoke(ctx context.Context, userID, keyID string) error {
	var keyHash string
	err := s.db.QueryRow(ctx, `
		UPDATE api_keys SET status = 'revoked'
		WHERE id = $1 AND user_id = $2 AND status = 'active'
		RETURNING key_hash
	`, keyID, userID).Scan(&keyHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("revoke api_key: %w", err)
	}
	return s.Invalidate(ctx, keyHash)
}

// Invalidate removes a cached lookup.
func (s *CachedKeyStore) Invalidate(ctx context.Context, keyHash string) error {
	if s.redis == nil {
		return nil
	}
	if err := s.redis.Del(ctx, redisKeyPrefix+keyHash).Err(); err != nil {
		return fmt.Errorf("invalidate key cache: %w", err)
	}
	return nil
}
