package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockKeyStore implements KeyStore for testing.
type mockKeyStore struct {
	keys map[string]*KeyMetadata
	err  error
}

func (m *mockKeyStore) Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	if m.err != nil {
		return nil, m.err
	}
	meta, ok := m.keys[keyHash]
	if !ok {
		return nil, nil
	}
	return meta, nil
}

const testRawKey = "ks-prod-testkey12345678901234567890ab"

func storeWithTestKey() *mockKeyStore {
	daily := 100
	return &mockKeyStore{
		keys: map[string]*KeyMetadata{
			HashKey(testRawKey): {
				ID:         "key-uuid-123",
				UserID:     "user-1",
				DailyLimit: &daily,
				ExpiresAt:  time.Now().Add(24 * time.Hour),
			},
		},
	}
}

func serve(mw func(http.Handler) http.Handler, authHeader string, next http.HandlerFunc) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/test", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "test-req")
	mw(next).ServeHTTP(w, req)
	return w
}

func mustNotRun(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
		store  *mockKeyStore
		status int
	}{
		{"missing header", "", storeWithTestKey(), http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", storeWithTestKey(), http.StatusUnauthorized},
		{"empty bearer", "Bearer  ", storeWithTestKey(), http.StatusUnauthorized},
		{"unknown key", "Bearer ks-prod-invalidkey123", storeWithTestKey(), http.StatusUnauthorized},
		{"store error", "Bearer " + testRawKey, &mockKeyStore{err: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(Middleware(tt.store), tt.header, mustNotRun(t))
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestMiddleware_ValidKey(t *testing.T) {
	var gotAuth *AuthInfo
	w := serve(Middleware(storeWithTestKey()), "Bearer "+testRawKey, func(w http.ResponseWriter, r *http.Request) {
		info, ok := AuthFromContext(r.Context())
		if !ok {
			t.Error("expected auth info in context")
			return
		}
		gotAuth = info
		w.WriteHeader(http.StatusOK)
	})

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if gotAuth == nil {
		t.Fatal("auth info should be set")
	}
	if gotAuth.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", gotAuth.UserID)
	}
	if gotAuth.KeyID != "key-uuid-123" {
		t.Errorf("expected key-uuid-123, got %s", gotAuth.KeyID)
	}
	if gotAuth.DailyLimit == nil || *gotAuth.DailyLimit != 100 {
		t.Errorf("expected daily limit 100, got %v", gotAuth.DailyLimit)
	}
}

func TestOptionalMiddleware_Anonymous(t *testing.T) {
	called := false
	w := serve(OptionalMiddleware(storeWithTestKey()), "", func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := AuthFromContext(r.Context()); ok {
			t.Error("anonymous request should carry no auth info")
		}
		w.WriteHeader(http.StatusOK)
	})

	if !called || w.Code != http.StatusOK {
		t.Errorf("expected anonymous pass-through, got %d", w.Code)
	}
}

func TestOptionalMiddleware_InvalidKeyRejected(t *testing.T) {
	w := serve(OptionalMiddleware(storeWithTestKey()), "Bearer ks-prod-nope", mustNotRun(t))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestOptionalMiddleware_ValidKey(t *testing.T) {
	w := serve(OptionalMiddleware(storeWithTestKey()), "Bearer "+testRawKey, func(w http.ResponseWriter, r *http.Request) {
		if info, ok := AuthFromContext(r.Context()); !ok || info.UserID != "user-1" {
			t.Errorf("expected user-1 auth info, got %+v", info)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}
