package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/apperror"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Module provides the identity resolver and the echo middleware.
var Module = fx.Module("auth",
	fx.Provide(
		NewJWTResolver,
		func(r *JWTResolver) IdentityResolver { return r },
		NewMiddleware,
	),
)

type contextKey string

const UserContextKey contextKey = "auth_user"

// GetUser retrieves the authenticated identity from the Echo context
func GetUser(c echo.Context) *Identity {
	if id, ok := c.Get(string(UserContextKey)).(*Identity); ok {
		return id
	}
	return nil
}

// Middleware handles authentication for routes
type Middleware struct {
	resolver IdentityResolver
	log      *slog.Logger
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(resolver IdentityResolver, log *slog.Logger) *Middleware {
	return &Middleware{
		resolver: resolver,
		log:      log.With(logger.Scope("auth")),
	}
}

// RequireAuth returns middleware that requires a valid bearer token
func (m *Middleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := m.resolver.Resolve(c.Request().Context(), ExtractToken(c.Request()))
			if err != nil {
				m.log.Warn("authentication failed",
					slog.String("path", c.Path()),
					logger.Error(err))
				return ToAppError(err)
			}
			c.Set(string(UserContextKey), id)
			return next(c)
		}
	}
}

// RequireRole returns middleware that requires every listed role.
// It must run after RequireAuth.
func (m *Middleware) RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := GetUser(c)
			if id == nil {
				return apperror.ErrUnauthorized
			}

			var missing []string
			for _, r := range roles {
				if !id.HasRole(r) {
					missing = append(missing, r)
				}
			}
			if len(missing) > 0 {
				return echo.NewHTTPError(http.StatusForbidden, map[string]any{
					"error": map[string]any{
						"code":    "insufficient_role",
						"message": "Insufficient permissions",
						"details": map[string]any{
							"missing": missing,
						},
					},
				})
			}
			return next(c)
		}
	}
}

// ExtractToken reads the bearer token from the Authorization header, falling
// back to the token query parameter used by browser WebSocket and SSE clients.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// ToAppError maps a resolver error to the HTTP error returned to clients.
func ToAppError(err error) *apperror.Error {
	switch {
	case errors.Is(err, ErrMissingToken):
		return apperror.ErrMissingToken
	default:
		return apperror.ErrInvalidToken.WithInternal(err)
	}
}
