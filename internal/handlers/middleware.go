package handlers

import (
	"net/http"
	"strings"

	"github.com/gotours/apiserver/internal/apperr"
	"github.com/gotours/apiserver/internal/auth"
	"github.com/gotours/apiserver/types"
	"go.uber.org/zap"
)

// tokenCookieName is the cookie carrying the session token.
const tokenCookieName = "jwt"

// Middleware resolves caller identity per request and gates by role.
type Middleware struct {
	svc     *auth.Service
	logger  *zap.Logger
	verbose bool
}

func NewMiddleware(svc *auth.Service, logger *zap.Logger, verbose bool) *Middleware {
	return &Middleware{svc: svc, logger: logger, verbose: verbose}
}

// RequireAuth rejects requests without a valid, fresh session token and
// attaches the resolved account to the request context.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, ok := extractToken(r)
		if !ok {
			writeOpError(w, apperr.ErrUnauthenticated, m.verbose)
			return
		}
		user, err := m.svc.Authenticate(r.Context(), rawToken)
		if err != nil {
			writeOpError(w, err, m.verbose)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// OptionalAuth attaches the account when a valid token is present and
// proceeds anonymously otherwise. Only for read paths that render
// differently for logged-in viewers; mutating routes use RequireAuth.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rawToken, ok := extractToken(r); ok {
			if user, err := m.svc.Authenticate(r.Context(), rawToken); err == nil {
				r = r.WithContext(withUser(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole gates a route to the given roles. It must run after
// RequireAuth; a missing identity here is a wiring bug and surfaces as an
// internal error, not an auth failure.
func (m *Middleware) RequireRole(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				m.logger.Error("RequireRole used without RequireAuth",
					zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "something went wrong")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeOpError(w, apperr.ErrForbidden, m.verbose)
		})
	}
}

// extractToken pulls the bearer token from the Authorization header or,
// failing that, the session cookie.
func extractToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token, true
			}
		}
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}
