package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

const identityKey = "identity"

// Middleware authenticates every request with a and stores the Identity on
// the echo context.
func Middleware(a Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := a.Authenticate(c.Request())
			if err != nil {
				if errors.Is(err, ErrMissingToken) {
					return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.Set(identityKey, id)
			return next(c)
		}
	}
}

// RequireRole rejects requests whose identity lacks every listed role.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := IdentityFrom(c)
			if id == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			for _, r := range roles {
				if id.HasRole(r) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
		}
	}
}

// IdentityFrom returns the identity stored by Middleware, or nil.
func IdentityFrom(c echo.Context) *Identity {
	id, _ := c.Get(identityKey).(*Identity)
	return id
}
