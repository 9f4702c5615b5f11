package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	rateLimitKeyPrefix = "ratelimit:"
	rateLimitWindow    = 60 * time.Second
)

// RedisRateLimiter is a fixed-window counter per caller. Redis failures fail
// open: a broken limiter must not take the API down with it.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
}

func NewRedisRateLimiter(client *redis.Client, limit int) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, callerID string) bool {
	window := time.Now().Unix() / int64(rateLimitWindow.Seconds())
	key := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, callerID, window)

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("callerId", callerID).Msg("rate limit check failed, allowing request")
		return true
	}

	if count == 1 {
		if err := rl.client.Expire(ctx, key, rateLimitWindow+10*time.Second).Err(); err != nil {
			log.Warn().Err(err).Str("callerId", callerID).Msg("failed to set rate limit key expiry")
		}
	}

	return count <= int64(rl.limit)
}

type RedisRateLimitMiddleware struct {
	limiter *RedisRateLimiter
}

func NewRedisRateLimitMiddleware(client *redis.Client, limit int) *RedisRateLimitMiddleware {
	return &RedisRateLimitMiddleware{
		limiter: NewRedisRateLimiter(client, limit),
	}
}

func (m *RedisRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callerID := GetUserID(r.Context())
		if callerID == "" {
			callerID = r.RemoteAddr
		}

		if !m.limiter.Allow(r.Context(), callerID) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
