package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/kinsafe/internal/types"
)

type memRepo struct {
	data  map[string]types.ModelSettings
	loads int
	err   error
}

func (m *memRepo) Load(_ context.Context, userID string) (*types.ModelSettings, error) {
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	ms, ok := m.data[userID]
	if !ok {
		return nil, nil
	}
	return &ms, nil
}

func (m *memRepo) Save(_ context.Context, userID string, ms types.ModelSettings) error {
	if m.err != nil {
		return m.err
	}
	m.data[userID] = ms
	return nil
}

func newStore(t *testing.T) (*memRepo, *CachedStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	repo := &memRepo{data: map[string]types.ModelSettings{}}
	return repo, NewCachedStore(repo, rdb)
}

func TestGet_DefaultsForUnknownUser(t *testing.T) {
	_, s := newStore(t)
	ms, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultModelSettings(), ms)
}

func TestPutThenGet(t *testing.T) {
	repo, s := newStore(t)
	ctx := context.Background()

	// Prime the cache with defaults.
	_, err := s.Get(ctx, "u1")
	require.NoError(t, err)

	want := types.ModelSettings{ModelVersion: types.ModelSecondary, Temperature: 0.4, MaxTokens: 1024}
	got, err := s.Put(ctx, "u1", want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ms, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, want, ms)

	// Second read is served from cache.
	loads := repo.loads
	_, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, loads, repo.loads)
}

func TestPut_Validation(t *testing.T) {
	_, s := newStore(t)

	tests := []struct {
		name string
		ms   types.ModelSettings
	}{
		{"unknown version", types.ModelSettings{ModelVersion: "tertiary", Temperature: 0.1, MaxTokens: 10}},
		{"temperature high", types.ModelSettings{ModelVersion: types.ModelPrimary, Temperature: 1.5, MaxTokens: 10}},
		{"temperature negative", types.ModelSettings{ModelVersion: types.ModelPrimary, Temperature: -0.1, MaxTokens: 10}},
		{"zero tokens", types.ModelSettings{ModelVersion: types.ModelPrimary, Temperature: 0.1, MaxTokens: 0}},
		{"too many tokens", types.ModelSettings{ModelVersion: types.ModelPrimary, Temperature: 0.1, MaxTokens: 9000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Put(context.Background(), "u1", tt.ms)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}

func TestPut_EmptyVersionDefaultsToPrimary(t *testing.T) {
	_, s := newStore(t)
	got, err := s.Put(context.Background(), "u1", types.ModelSettings{Temperature: 0, MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, types.ModelPrimary, got.ModelVersion)
}

func TestGet_RepositoryError(t *testing.T) {
	repo, s := newStore(t)
	repo.err = errors.New("db down")
	_, err := s.Get(context.Background(), "u1")
	assert.Error(t, err)
}

func TestWithoutRedis(t *testing.T) {
	repo := &memRepo{data: map[string]types.ModelSettings{}}
	s := NewCachedStore(repo, nil)
	_, err := s.Put(context.Background(), "u1", types.ModelSettings{ModelVersion: types.ModelPrimary, Temperature: 0.2, MaxTokens: 100})
	require.NoError(t, err)
	ms, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.2, ms.Temperature)
}
