package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/wxjbaga/medical/pkg/common/logger"
	"github.com/wxjbaga/medical/pkg/common/web"
)

type claimsKey struct{}

// ClaimsFrom returns the token claims of a session-authenticated request.
// Internal-token requests carry no claims.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

// Middleware authenticates requests. Two identities are accepted: a user
// session token (Authorization: Bearer), and the shared internal token
// (X-Internal-Auth) used by the algorithm service for status callbacks,
// which acts as the privileged system user.
type Middleware struct {
	jwt           *JWTManager
	sessions      *SessionStore
	internalToken string
	systemUserID  int64
}

func NewMiddleware(jwt *JWTManager, sessions *SessionStore, internalToken string, systemUserID int64) *Middleware {
	return &Middleware{
		jwt:           jwt,
		sessions:      sessions,
		internalToken: internalToken,
		systemUserID:  systemUserID,
	}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if internal := r.Header.Get("X-Internal-Auth"); internal != "" {
			if m.internalToken == "" || subtle.ConstantTimeCompare([]byte(internal), []byte(m.internalToken)) != 1 {
				web.FailStatus(w, http.StatusUnauthorized, "invalid internal token")
				return
			}
			actor := Actor{UserID: m.systemUserID, Admin: true, System: true}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
			return
		}

		token := r.Header.Get("Authorization")
		if token == "" {
			web.FailStatus(w, http.StatusUnauthorized, "not logged in")
			return
		}
		token = strings.TrimPrefix(token, "Bearer ")

		claims, err := m.jwt.ValidateToken(token)
		if err != nil {
			web.FailStatus(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if m.sessions != nil {
			active, err := m.sessions.Active(r.Context(), claims.ID)
			if err != nil {
				// Redis being down must not lock every user out; the
				// token signature already proves identity.
				logger.Log.WithError(err).Warn("session check failed, accepting token")
			} else if !active {
				web.FailStatus(w, http.StatusUnauthorized, "session expired")
				return
			}
		}

		actor := Actor{UserID: claims.UserID, Admin: claims.Admin}
		ctx := WithActor(r.Context(), actor)
		ctx = context.WithValue(ctx, claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireInternal only admits the system identity; user sessions are
// rejected. Callback endpoints sit behind this.
func (m *Middleware) RequireInternal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok || !actor.System {
			web.FailStatus(w, http.StatusForbidden, "internal endpoint")
			return
		}
		next.ServeHTTP(w, r)
	})
}
