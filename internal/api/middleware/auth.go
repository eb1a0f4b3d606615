package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SpeedyCraftah/go-chat-app/internal/models"
	"github.com/SpeedyCraftah/go-chat-app/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware resolves session bearer tokens for authenticated
// endpoints. Lookups go through the Redis cache when configured; cache
// entries carry a TTL and are invalidated explicitly on logout.
type AuthMiddleware struct {
	store store.DataStore
	redis *store.RedisStore
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(ds store.DataStore, redis *store.RedisStore) *AuthMiddleware {
	return &AuthMiddleware{store: ds, redis: redis}
}

// ResolveToken maps a session token to its user. Returns (nil, nil)
// for unknown or empty tokens. Also used by the gateway handshake.
func (m *AuthMiddleware) ResolveToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, nil
	}

	var session *models.Session
	if m.redis != nil {
		cached, err := m.redis.GetCachedSession(ctx, token)
		if err == nil {
			session = cached
		}
		// Cache errors fall through to the data store.
	}

	if session == nil {
		var err error
		session, err = m.store.GetSessionByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, nil
		}
		if m.redis != nil {
			_ = m.redis.CacheSession(ctx, session)
		}
	}

	return m.store.GetUserByID(ctx, session.UserID)
}

// RequireSession middleware verifies the X-Session header and attaches
// the authenticated user to the request context.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.ResolveToken(r.Context(), r.Header.Get("X-Session"))
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		if user == nil {
			jsonError(w, http.StatusUnauthorized, "invalid session")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
