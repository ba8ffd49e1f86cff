package middleware

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
	"github.com/portfoliolab/authcore/token"
)

// principalKey is the echo context key the gate stores the principal under.
const principalKey = "auth_principal"

// Gate is the per-request authorization entry point. It validates bearer
// access tokens and derives a request-scoped principal. Access tokens are
// stateless: no store lookup happens here, so a revoked account's
// outstanding access tokens stay valid until natural expiry.
type Gate struct {
	codec *token.Codec
}

// NewGate creates a new Gate.
func NewGate(codec *token.Codec) *Gate {
	return &Gate{codec: codec}
}

// Authenticate resolves an Authorization header value to a principal. It is
// the sole interface protected endpoints depend on.
func (g *Gate) Authenticate(headerValue string) (*domain.Principal, error) {
	if headerValue == "" {
		return nil, serrors.ErrUnauthenticated
	}
	parts := strings.SplitN(headerValue, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fmt.Errorf("%w: expected Bearer token", serrors.ErrUnauthenticated)
	}

	claims, err := g.codec.Validate(parts[1], token.TypeAccess)
	if err != nil {
		return nil, err
	}
	return &domain.Principal{
		AccountID: claims.Subject,
		Roles:     claims.Roles,
	}, nil
}

// Authenticator returns echo middleware that authenticates every request and
// attaches the principal to the request context. Requests without a valid
// token are rejected before the handler runs.
func (g *Gate) Authenticator() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, err := g.Authenticate(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				ae := serrors.AsAuthError(err)
				return c.JSON(ae.Status, ae)
			}

			c.Set(principalKey, principal)
			ctx := domain.ContextWithPrincipal(c.Request().Context(), principal)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// PrincipalFromEcho retrieves the principal the gate attached, if any.
func PrincipalFromEcho(c echo.Context) (*domain.Principal, bool) {
	principal, ok := c.Get(principalKey).(*domain.Principal)
	return principal, ok
}
