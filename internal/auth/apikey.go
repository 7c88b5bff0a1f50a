package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"
	keyScheme    = "ks"
)

// GenerateKey creates a new API key with the format: ks-{env}-{32 random alphanumeric chars}
func GenerateKey(env string) (string, error) {
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", keyScheme, env, random), nil
}

// HashKey returns the SHA-256 hex digest of an API key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}

// KeyPrefix extracts a display-safe prefix from a key: ks-{env}-{first 8 chars}
func KeyPrefix(key string) string {
	first := strings.IndexByte(key, '-')
	if first < 0 {
		return safePrefix(key)
	}
	second := strings.IndexByte(key[first+1:], '-')
	if second < 0 {
		return safePrefix(key)
	}
	end := first + 1 + second + 9 // dash + 8 chars
	if end > len(key) {
		end = len(key)
	}
	return key[:end]
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// KeyMetadata holds the cached metadata for an API key.
type KeyMetadata struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	RPMLimit   *int      `json:"rpm_limit,omitempty"`
	DailyLimit *int      `json:"daily_limit,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ParseDuration parses a duration string like "365d", "30d", "24h".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	last := s[len(s)-1]
	if last == 'd' {
		var days int
		_, err := fmt.Sscanf(s, "%dd", &days)
		if err != nil {
			return 0, fmt.Errorf("parse days: %w", err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
