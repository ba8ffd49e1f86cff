package middleware

import (
	"github.com/labstack/echo/v4"

	serrors "github.com/portfoliolab/authcore/errors"
)

// RequireRoles returns echo middleware that rejects requests whose principal
// holds none of the required roles. A missing principal is an authentication
// failure (401), a principal lacking the roles is an authorization failure
// (403). With no required roles, any authenticated principal passes.
func RequireRoles(required ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := PrincipalFromEcho(c)
			if !ok {
				ae := serrors.AsAuthError(serrors.ErrUnauthenticated)
				return c.JSON(ae.Status, ae)
			}
			if !principal.HasAnyRole(required...) {
				ae := serrors.AsAuthError(serrors.ErrForbidden)
				return c.JSON(ae.Status, ae)
			}
			return next(c)
		}
	}
}
