package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/user-manager/internal/apperror"
)

// Counter counts hits on key within a fixed window and returns the count
// after this hit. The first hit of a window starts the window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// ErrorWriter renders an error response; handler.WriteError satisfies it.
type ErrorWriter func(http.ResponseWriter, error)

// RateLimit allows at most limit requests per client IP and path within
// each window. A counter failure is logged and the request goes through.
//
// Run it after chimiddleware.RealIP so RemoteAddr is the client address.
func RateLimit(counter Counter, limit int64, window time.Duration, fail ErrorWriter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ratelimit:" + r.URL.Path + ":" + clientIP(r)

			n, err := counter.Incr(r.Context(), key, window)
			if err != nil {
				logger.Warn("rate limit counter unavailable",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(limit-n, 0), 10))

			if n > limit {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				fail(w, apperror.RateLimited("Too many requests, please try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP leaves a bare address without a port
		return r.RemoteAddr
	}
	return host
}
