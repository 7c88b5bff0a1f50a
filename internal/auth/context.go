package auth

import "context"

type contextKey string

const authContextKey contextKey = "kinsafe_auth"

// AuthInfo holds authenticated identity information extracted from an API key.
type AuthInfo struct {
	KeyID      string
	UserID     string
	RPMLimit   *int
	DailyLimit *int
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

// AuthFromContext returns the caller identity. It reports false for
// anonymous requests.
func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok && info != nil
}
