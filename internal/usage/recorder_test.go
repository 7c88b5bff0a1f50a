package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/kinsafe/internal/types"
)

type memWriter struct {
	mu      sync.Mutex
	entries []Entry
	block   chan struct{}
	err     error
}

func (m *memWriter) Insert(ctx context.Context, e Entry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func (m *memWriter) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestRecorder_WritesEntries(t *testing.T) {
	w := &memWriter{}
	r := NewRecorder(w, 8, time.Second, nil)

	res := &types.AnalysisResult{Status: types.StatusSuspicious, Confidence: 88, Source: types.SourceHeuristic, ModelUsed: "llama3.2", ResponseTimeMs: 12}
	for range 3 {
		assert.True(t, r.Record(NewEntry(res, "u1", "k1", true, "medium", time.Now())))
	}
	require.NoError(t, r.Close(context.Background()))

	require.Equal(t, 3, w.len())
	e := w.entries[0]
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, "k1", e.APIKeyID)
	assert.Equal(t, types.StatusSuspicious, e.Status)
	assert.Equal(t, "llama3.2", e.Model)
	assert.True(t, e.Alerted)
	assert.Equal(t, "medium", e.Severity)
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	w := &memWriter{block: make(chan struct{})}
	r := NewRecorder(w, 1, time.Second, nil)

	// The worker takes the first entry and blocks; the second fills the queue.
	require.True(t, r.Record(Entry{UserID: "a"}))
	require.Eventually(t, func() bool { return len(r.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, r.Record(Entry{UserID: "b"}))
	assert.False(t, r.Record(Entry{UserID: "c"}))

	close(w.block)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 2, w.len())
}

func TestRecorder_WriteErrorsAreAbsorbed(t *testing.T) {
	w := &memWriter{err: errors.New("db down")}
	r := NewRecorder(w, 4, time.Second, nil)
	r.Record(Entry{UserID: "a"})
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 1, w.len())
}

func TestRecorder_RecordAfterClose(t *testing.T) {
	r := NewRecorder(&memWriter{}, 4, time.Second, nil)
	require.NoError(t, r.Close(context.Background()))
	assert.False(t, r.Record(Entry{}))
	// Closing twice is safe.
	require.NoError(t, r.Close(context.Background()))
}

func TestRecorder_CloseHonorsContext(t *testing.T) {
	w := &memWriter{block: make(chan struct{})}
	r := NewRecorder(w, 4, time.Second, nil)
	r.Record(Entry{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	close(w.block)
}
