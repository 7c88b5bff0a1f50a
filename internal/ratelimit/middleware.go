package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/kinsafe/internal/auth"
	"github.com/af-corp/kinsafe/internal/config"
	"github.com/af-corp/kinsafe/internal/httputil"
	"github.com/af-corp/kinsafe/internal/telemetry"
	"github.com/af-corp/kinsafe/internal/usage"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// DailyCounter reports how many requests a subject made today.
type DailyCounter interface {
	Today(ctx context.Context, subject string) (int64, error)
}

// Middleware returns chi middleware that enforces per-caller RPM limits and
// the per-key daily quota. Authenticated callers are keyed by API key,
// anonymous ones by client IP.
func Middleware(limiter *Limiter, counter DailyCounter, cfg func() config.RateLimitConfig, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := cfg()
			if !c.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			reqID := w.Header().Get("X-Request-ID")

			authInfo, authed := auth.AuthFromContext(r.Context())

			var rpm int
			var bucket string
			if authed {
				rpm = c.DefaultRPM
				if authInfo.RPMLimit != nil {
					rpm = *authInfo.RPMLimit
				}
				bucket = "rpm:key:" + authInfo.KeyID
			} else {
				rpm = c.AnonymousRPM
				bucket = "rpm:ip:" + clientIP(r)
			}

			if rpm > 0 {
				result, _ := limiter.Check(r.Context(), bucket, int64(rpm), time.Minute)

				w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
				w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
				w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

				if !result.Allowed {
					slog.WarnContext(r.Context(), "rate limit exceeded",
						"bucket", bucket,
						"dimension", "rpm",
						"limit", rpm,
					)
					if metrics != nil {
						metrics.RecordRateLimitHit("rpm")
					}
					w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
					httputil.WriteRateLimitError(w, reqID,
						fmt.Sprintf("Rate limit exceeded: %d requests per minute. Retry after %s", rpm, result.ResetAt.Format(time.RFC3339)))
					return
				}
			}

			if authed && authInfo.DailyLimit != nil && counter != nil {
				used, err := counter.Today(r.Context(), usage.KeySubject(authInfo.KeyID))
				if err != nil {
					// Fail open on Redis errors
					slog.WarnContext(r.Context(), "daily quota check failed", "error", err)
				} else if used >= int64(*authInfo.DailyLimit) {
					slog.WarnContext(r.Context(), "daily quota exceeded",
						"key_id", authInfo.KeyID,
						"user_id", authInfo.UserID,
						"used", used,
						"limit", *authInfo.DailyLimit,
					)
					if metrics != nil {
						metrics.RecordRateLimitHit("daily")
					}
					httputil.WriteQuotaExceededError(w, reqID,
						fmt.Sprintf("Daily quota exceeded: %d of %d requests used", used, *authInfo.DailyLimit))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the host part of RemoteAddr, which chi's RealIP
// middleware has already rewritten from forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
