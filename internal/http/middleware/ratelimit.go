package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/transcode-nexus/internal/ratelimit"
	"github.com/princekumarofficial/transcode-nexus/internal/utils/response"
)

// ActionSubmit is the rate limited action behind POST /jobs.
const ActionSubmit = "submit"

type RateLimitConfig struct {
	redisClient *redis.Client
	limiters    map[string]*ratelimit.TokenBucket
}

// NewRateLimitConfig limits job submissions to submitPerMinute per client IP.
// A non-positive limit disables throttling.
func NewRateLimitConfig(redisClient *redis.Client, prefix string, submitPerMinute int64) *RateLimitConfig {
	config := &RateLimitConfig{
		redisClient: redisClient,
		limiters:    make(map[string]*ratelimit.TokenBucket),
	}

	if submitPerMinute > 0 {
		config.limiters[ActionSubmit] = ratelimit.NewTokenBucket(redisClient, prefix, submitPerMinute, submitPerMinute)
	}

	return config
}

func (rlc *RateLimitConfig) RateLimitMiddleware(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter, exists := rlc.limiters[action]
			if !exists {
				next.ServeHTTP(w, r)
				return
			}

			client := ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), client, action)
			if err != nil {
				slog.Error("rate limit check failed", slog.String("client", client), slog.String("error", err.Error()))
				response.WriteError(w, http.StatusInternalServerError, fmt.Errorf("rate limit check failed: %w", err))
				return
			}

			remaining, _ := limiter.GetRemaining(r.Context(), client, action)
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limiter.Capacity(), 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(limiter.Window().Seconds())))

			if !allowed {
				response.WriteError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitedHandler wraps a handler with rate limiting for a specific action
func (rlc *RateLimitConfig) RateLimitedHandler(action string, handler http.HandlerFunc) http.Handler {
	return rlc.RateLimitMiddleware(action)(http.HandlerFunc(handler))
}

// ClientIP is the first X-Forwarded-For hop, or the peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
