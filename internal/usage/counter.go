package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// UpdatesChannel carries {"subject","count"} messages after every increment
// so a realtime consumer can push live counters.
const UpdatesChannel = "kinsafe:usage:updates"

// Counter tracks per-subject daily request counts in Redis.
type Counter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewCounter creates a counter. If rdb is nil, counts are always zero.
func NewCounter(rdb *redis.Client) *Counter {
	return &Counter{rdb: rdb, now: time.Now}
}

// UserSubject buckets requests by account.
func UserSubject(userID string) string { return "user:" + userID }

// KeySubject buckets requests made with one API key.
func KeySubject(keyID string) string { return "key:" + keyID }

// AnonymousSubject buckets unauthenticated requests by client IP.
func AnonymousSubject(clientIP string) string { return "anon:" + clientIP }

func (c *Counter) dailyKey(subject string) string {
	day := c.now().UTC().Format("2006-01-02")
	return fmt.Sprintf("kinsafe:usage:daily:%s:%s", subject, day)
}

// Today returns the subject's count for the current UTC day.
func (c *Counter) Today(ctx context.Context, subject string) (int64, error) {
	if c.rdb == nil {
		return 0, nil
	}
	n, err := c.rdb.Get(ctx, c.dailyKey(subject)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read usage counter: %w", err)
	}
	return n, nil
}

// Incr adds one request to the subject's daily count and returns the new
// total.
func (c *Counter) Incr(ctx context.Context, subject string) (int64, error) {
	if c.rdb == nil {
		return 0, nil
	}

	key := c.dailyKey(subject)
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// Expire at end of day UTC + 1 hour buffer
	now := c.now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment usage counter: %w", err)
	}

	count := incr.Val()
	msg, err := json.Marshal(struct {
		Subject string `json:"subject"`
		Count   int64  `json:"count"`
	}{subject, count})
	if err != nil {
		slog.Warn("failed to encode usage update", "subject", subject, "error", err)
		return count, nil
	}
	// Live updates are best effort; the count is already committed.
	if err := c.rdb.Publish(ctx, UpdatesChannel, msg).Err(); err != nil {
		slog.Warn("failed to publish usage update", "subject", subject, "error", err)
	}
	return count, nil
}
