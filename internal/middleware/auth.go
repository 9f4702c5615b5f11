package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// UserIDHeader is set by the API gateway after it has verified the caller's
// token. Token verification itself is not this service's concern.
const UserIDHeader = "X-User-Id"

type contextKey string

const userContextKey contextKey = "userId"

// GetUserID returns the authenticated caller id, or "" when the request was
// not authenticated.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userContextKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID attaches a caller id to the context. Exposed for handler tests.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

type AuthMiddleware struct{}

func NewAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			log.Warn().Str("path", r.URL.Path).Msg("auth middleware: missing gateway identity")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authenticated identity",
			})
			return
		}

		ctx := WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
