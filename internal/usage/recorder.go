// Package usage records classification usage: an asynchronous usage log in
// PostgreSQL and a realtime daily counter in Redis.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/af-corp/kinsafe/internal/telemetry"
	"github.com/af-corp/kinsafe/internal/types"
)

// Entry is one usage log row. Message text is never recorded.
type Entry struct {
	ID             string       `json:"id"`
	UserID         string       `json:"userId,omitempty"`
	APIKeyID       string       `json:"apiKeyId,omitempty"`
	Status         types.Status `json:"status"`
	Confidence     float64      `json:"confidence"`
	Source         types.Source `json:"source"`
	Model          string       `json:"model"`
	ResponseTimeMs int64        `json:"responseTimeMs"`
	Alerted        bool         `json:"alerted"`
	Severity       string       `json:"severity,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// NewEntry builds a log entry from a classification result.
func NewEntry(res *types.AnalysisResult, userID, keyID string, alerted bool, severity string, at time.Time) Entry {
	return Entry{
		UserID:         userID,
		APIKeyID:       keyID,
		Status:         res.Status,
		Confidence:     res.Confidence,
		Source:         res.Source,
		Model:          res.ModelUsed,
		ResponseTimeMs: res.ResponseTimeMs,
		Alerted:        alerted,
		Severity:       severity,
		CreatedAt:      at.UTC(),
	}
}

// Writer persists entries.
type Writer interface {
	Insert(ctx context.Context, e Entry) error
}

// Recorder queues entries and writes them on a single background worker so
// request latency never includes the database write.
type Recorder struct {
	writer  Writer
	queue   chan Entry
	timeout time.Duration
	metrics *telemetry.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewRecorder(w Writer, queueSize int, writeTimeout time.Duration, metrics *telemetry.Metrics) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	r := &Recorder{
		writer:  w,
		queue:   make(chan Entry, queueSize),
		timeout: writeTimeout,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues e. When the queue is full the entry is dropped and false
// is returned.
func (r *Recorder) Record(e Entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- e:
		return true
	default:
		slog.Warn("usage queue full, dropping entry", "user_id", e.UserID, "status", e.Status)
		if r.metrics != nil {
			r.metrics.RecordUsageDropped()
		}
		return false
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.writer.Insert(ctx, e); err != nil {
			slog.Error("failed to write usage log", "error", err, "user_id", e.UserID)
		}
		cancel()
	}
}

// Close stops accepting entries and waits until queued ones are written or
// ctx expires.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
