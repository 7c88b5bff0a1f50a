package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/kinsafe/internal/auth"
	"github.com/af-corp/kinsafe/internal/classifier"
	"github.com/af-corp/kinsafe/internal/config"
	"github.com/af-corp/kinsafe/internal/policy"
	"github.com/af-corp/kinsafe/internal/settings"
	"github.com/af-corp/kinsafe/internal/types"
	"github.com/af-corp/kinsafe/internal/usage"
)

type fakeClassifier struct {
	mu       sync.Mutex
	calls    int
	settings *types.ModelSettings
	result   *types.AnalysisResult
	err      error
}

func (f *fakeClassifier) Classify(_ context.Context, message string, s *types.ModelSettings) (*types.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.settings = s
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type memSettings struct {
	data map[string]types.ModelSettings
	err  error
}

func (m *memSettings) Get(_ context.Context, userID string) (types.ModelSettings, error) {
	if m.err != nil {
		return types.ModelSettings{}, m.err
	}
	if s, ok := m.data[userID]; ok {
		return s, nil
	}
	return types.DefaultModelSettings(), nil
}

func (m *memSettings) Put(_ context.Context, userID string, s types.ModelSettings) (types.ModelSettings, error) {
	if err := settings.Validate(s); err != nil {
		return types.ModelSettings{}, err
	}
	m.data[userID] = s
	return s, nil
}

type memKeys struct {
	keys    []auth.KeySummary
	created auth.NewKey
	revoked []string
}

func (m *memKeys) List(context.Context, string) ([]auth.KeySummary, error) { return m.keys, nil }

func (m *memKeys) Create(_ context.Context, req auth.NewKey) (*auth.CreatedKey, error) {
	m.created = req
	return &auth.CreatedKey{Key: "ks-test-abc", KeySummary: auth.KeySummary{ID: "k-new", Name: req.Name}}, nil
}

func (m *memKeys) Revoke(_ context.Context, userID, keyID string) error {
	if keyID != "k1" {
		return auth.ErrKeyNotFound
	}
	m.revoked = append(m.revoked, userID+"/"+keyID)
	return nil
}

type memUsage struct {
	mu       sync.Mutex
	counts   map[string]int64
	recorded []usage.Entry
}

func (m *memUsage) Incr(_ context.Context, subject string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[subject]++
	return m.counts[subject], nil
}

func (m *memUsage) Today(_ context.Context, subject string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[subject], nil
}

func (m *memUsage) Record(e usage.Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, e)
	return true
}

func (m *memUsage) Recent(_ context.Context, userID string, limit int) ([]usage.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]usage.Entry, 0)
	for _, e := range m.recorded {
		if e.UserID == userID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type alwaysNotify struct{}

func (alwaysNotify) Decide(_ context.Context, in policy.Input) policy.Decision {
	return policy.Decision{Notify: in.Verdict.Status != "SAFE", Severity: "medium"}
}

type keyStore map[string]*auth.KeyMetadata

func (k keyStore) Lookup(_ context.Context, hash string) (*auth.KeyMetadata, error) {
	return k[hash], nil
}

const userKey = "ks-test-userkey000000000000000000000000"

type testEnv struct {
	classifier *fakeClassifier
	settings   *memSettings
	keys       *memKeys
	usage      *memUsage
	router     http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		classifier: &fakeClassifier{result: &types.AnalysisResult{
			Status:             types.StatusDangerous,
			Confidence:         95,
			Reason:             "explicit solicitation",
			ResponseTimeMs:     42,
			RawBackendResponse: `{"confidence":95,"reason":"explicit solicitation","status":"DANGEROUS"}`,
			ModelUsed:          "llama3.2",
			Source:             types.SourceBackend,
			Settings:           types.DefaultModelSettings(),
		}},
		settings: &memSettings{data: map[string]types.ModelSettings{}},
		keys:     &memKeys{},
		usage:    &memUsage{counts: map[string]int64{}},
	}
	cfg := config.DefaultConfig()
	h := NewHandler(Deps{
		Classifier: env.classifier,
		Settings:   env.settings,
		Keys:       env.keys,
		Recorder:   env.usage,
		Counter:    env.usage,
		History:    env.usage,
		Policy:     alwaysNotify{},
		Config:     func() *config.Config { return cfg },
		Version:    "test",
	})
	store := keyStore{auth.HashKey(userKey): {ID: "k1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}}
	env.router = NewRouter(h, Middlewares{
		OptionalAuth: auth.OptionalMiddleware(store),
		RequireAuth:  auth.Middleware(store),
	})
	return env
}

func (e *testEnv) do(method, path, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.7:4444"
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestPredict_ResponseContract(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/predict", `{"message":"hey"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "explicit solicitation", body["prediction"])
	assert.Equal(t, 95.0, body["probability"])
	assert.Equal(t, "DANGEROUS", body["classification"])
	assert.Equal(t, map[string]any{
		"explanation":    "explicit solicitation",
		"risk_level":     95.0,
		"classification": "DANGEROUS",
	}, body["details"])
	assert.Equal(t, 42.0, body["responseTime"])
	assert.Equal(t, `{"confidence":95,"reason":"explicit solicitation","status":"DANGEROUS"}`, body["rawResponse"])
	assert.Equal(t, "llama3.2", body["modelUsed"])
	assert.Equal(t, map[string]any{"temperature": 0.1, "maxTokens": 2048.0}, body["settings"])
	assert.Equal(t, map[string]any{"notify": true, "severity": "medium"}, body["alert"])
}

func TestPredict_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty message", `{"message":""}`, "must not be empty"},
		{"whitespace message", `{"message":"   "}`, "must not be empty"},
		{"missing message", `{"text":"hi"}`, "message is required"},
		{"null message", `{"message":null}`, "message is required"},
		{"number message", `{"message":42}`, "message must be a string"},
		{"object message", `{"message":{"a":1}}`, "message must be a string"},
		{"not json", `message=hi`, "Invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/api/predict", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, env.classifier.calls, "classifier must not be invoked")
			assert.Contains(t, rec.Body.String(), "invalid_request_error")
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestPredict_AnonymousUsesDefaults(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/predict", `{"message":"hi","settings":{"temperature":0.9}}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Nil(t, env.classifier.settings)
	assert.Equal(t, int64(1), env.usage.counts[usage.AnonymousSubject("192.0.2.7")])
	assert.Empty(t, env.usage.recorded, "anonymous calls are not logged")
}

func TestPredict_AuthenticatedUsesStoredSettings(t *testing.T) {
	env := newTestEnv(t)
	env.settings.data["u1"] = types.ModelSettings{ModelVersion: types.ModelSecondary, Temperature: 0.5, MaxTokens: 100}

	rec := env.do(http.MethodPost, "/api/predict", `{"message":"hi"}`, userKey)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, env.classifier.settings)
	assert.Equal(t, types.ModelSecondary, env.classifier.settings.ModelVersion)
	assert.Equal(t, int64(1), env.usage.counts[usage.UserSubject("u1")])
	assert.Equal(t, int64(1), env.usage.counts[usage.KeySubject("k1")])
	require.Len(t, env.usage.recorded, 1)
	assert.Equal(t, "k1", env.usage.recorded[0].APIKeyID)
	assert.True(t, env.usage.recorded[0].Alerted)
}

func TestPredict_SettingsErrorFallsBackToDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.settings.err = errors.New("db down")

	rec := env.do(http.MethodPost, "/api/predict", `{"message":"hi"}`, userKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, env.classifier.settings)
}

func TestPredict_InvalidKeyRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/predict", `{"message":"hi"}`, "ks-test-wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, env.classifier.calls)
}

func TestPredict_UnexpectedFailure(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.err = errors.New("serialization bug")

	rec := env.do(http.MethodPost, "/api/predict", `{"message":"hi"}`, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "serialization bug")
}

func TestPredict_ClassifierInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.err = classifier.ErrInvalidInput

	rec := env.do(http.MethodPost, "/api/predict", `{"message":"\u200b"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelSettingsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/settings/model", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/settings/model", "", userKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"modelVersion":"primary","temperature":0.1,"maxTokens":2048}`, rec.Body.String())

	rec = env.do(http.MethodPut, "/api/settings/model", `{"modelVersion":"secondary","temperature":0.3,"maxTokens":512}`, userKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.ModelSecondary, env.settings.data["u1"].ModelVersion)

	rec = env.do(http.MethodPut, "/api/settings/model", `{"modelVersion":"secondary","temperature":2,"maxTokens":512}`, userKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPut, "/api/settings/model", `{"temperature":0}`, userKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"modelVersion":"primary","temperature":0,"maxTokens":2048}`, rec.Body.String())
	assert.Equal(t, 0.0, env.settings.data["u1"].Temperature)

	rec = env.do(http.MethodPut, "/api/settings/model", `not json`, userKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeyEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.keys.keys = []auth.KeySummary{{ID: "k1", Name: "laptop", KeyPrefix: "ks-test-userkey0"}}

	rec := env.do(http.MethodGet, "/api/keys", "", userKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"keyPrefix":"ks-test-userkey0"`)

	rec = env.do(http.MethodPost, "/api/keys", `{"name":"tablet","dailyLimit":100,"expiresIn":"30d"}`, userKey)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"key":"ks-test-abc"`)
	assert.Equal(t, "u1", env.keys.created.UserID)
	assert.Equal(t, "prod", env.keys.created.Env)
	assert.Equal(t, 30*24*time.Hour, env.keys.created.TTL)

	rec = env.do(http.MethodPost, "/api/keys", `{"name":""}`, userKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/keys", `{"name":"x","expiresIn":"-3d"}`, userKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodDelete, "/api/keys/k1", "", userKey)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"u1/k1"}, env.keys.revoked)

	rec = env.do(http.MethodDelete, "/api/keys/other", "", userKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	for range 2 {
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/predict", `{"message":"hi"}`, userKey).Code)
	}

	rec := env.do(http.MethodGet, "/api/usage?limit=1", "", userKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Today  int64         `json:"today"`
		Recent []usage.Entry `json:"recent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Today)
	assert.Len(t, body.Recent, 1)

	rec = env.do(http.MethodGet, "/api/usage?limit=0", "", userKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestRequestID_Propagated(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
