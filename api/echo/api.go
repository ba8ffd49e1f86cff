//nolint:varnamelen
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
	"github.com/portfoliolab/authcore/middleware"
	"github.com/portfoliolab/authcore/services"
)

// AuthAPI struct to hold dependencies.
type AuthAPI struct {
	auth       *services.AuthService
	federation *services.FederationService
	accounts   domain.AccountRepository
	gate       *middleware.Gate
}

// NewAuthAPI initializes the authentication API.
func NewAuthAPI(
	auth *services.AuthService,
	federation *services.FederationService,
	accounts domain.AccountRepository,
	gate *middleware.Gate,
) *AuthAPI {
	return &AuthAPI{
		auth:       auth,
		federation: federation,
		accounts:   accounts,
		gate:       gate,
	}
}

// RegisterRoutes registers the authentication routes.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/signup", a.SignupHandler)
	e.POST("/login", a.LoginHandler)
	e.POST("/token/refresh", a.RefreshHandler)
	e.POST("/logout", a.LogoutHandler)

	// Social login endpoints
	e.GET("/login/:provider", a.FederatedBeginHandler)
	e.POST("/login/:provider/callback", a.FederatedCallbackHandler)

	protected := e.Group("", a.gate.Authenticator())
	protected.GET("/me", a.MeHandler)
	protected.POST("/password", a.ChangePasswordHandler)
}

type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type signupResponse struct {
	AccountID string              `json:"accountId"`
	Email     string              `json:"email"`
	Username  string              `json:"username"`
	Tokens    *services.TokenPair `json:"tokens"`
}

// SignupHandler registers a new local account and logs it in.
func (a *AuthAPI) SignupHandler(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.AsAuthError(serrors.ErrInvalidArtifact))
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "invalid_request",
			"error_description": "email, username and password are required",
		})
	}

	account, pair, err := a.auth.Register(c.Request().Context(), req.Email, req.Username, req.Password)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, signupResponse{
		AccountID: account.ID,
		Email:     account.Email,
		Username:  account.Username,
		Tokens:    pair,
	})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginHandler verifies local credentials and returns a token pair.
func (a *AuthAPI) LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.AsAuthError(serrors.ErrInvalidArtifact))
	}

	pair, err := a.auth.Login(c.Request().Context(), req.Identifier, req.Password)
	if err != nil {
		return a.writeError(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshHandler rotates a refresh token into a fresh token pair.
func (a *AuthAPI) RefreshHandler(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.AsAuthError(serrors.ErrInvalidArtifact))
	}

	pair, err := a.auth.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return a.writeError(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// LogoutHandler revokes the session family of the presented refresh token.
// It always answers 204: logging out with a dead token is not an error.
func (a *AuthAPI) LogoutHandler(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusNoContent)
	}
	if err := a.auth.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		log.Warn().Err(err).Msg("Logout failed")
	}
	return c.NoContent(http.StatusNoContent)
}

type federatedBeginResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
}

// FederatedBeginHandler starts a social login flow against the named provider.
func (a *AuthAPI) FederatedBeginHandler(c echo.Context) error {
	authURL, state, err := a.federation.Begin(c.Param("provider"))
	if err != nil {
		return a.writeError(c, err)
	}
	if c.QueryParam("redirect") == "true" {
		return c.Redirect(http.StatusFound, authURL)
	}
	return c.JSON(http.StatusOK, federatedBeginResponse{
		AuthorizationURL: authURL,
		State:            state,
	})
}

type federatedCallbackResponse struct {
	Outcome services.CallbackOutcome `json:"outcome"`
	Tokens  *services.TokenPair      `json:"tokens"`
}

type federatedCallbackRequest struct {
	Code  string `json:"code" query:"code"`
	State string `json:"state" query:"state"`
}

// FederatedCallbackHandler completes a social login flow with the code and
// state carried back from the provider redirect.
func (a *AuthAPI) FederatedCallbackHandler(c echo.Context) error {
	var req federatedCallbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.AsAuthError(serrors.ErrInvalidArtifact))
	}

	pair, outcome, err := a.federation.Callback(
		c.Request().Context(),
		c.Param("provider"),
		req.Code,
		req.State,
	)
	if err != nil {
		return a.writeError(c, err)
	}
	return c.JSON(http.StatusOK, federatedCallbackResponse{
		Outcome: outcome,
		Tokens:  pair,
	})
}

type meResponse struct {
	AccountID string   `json:"accountId"`
	Email     string   `json:"email"`
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
}

// MeHandler returns the profile of the authenticated account.
func (a *AuthAPI) MeHandler(c echo.Context) error {
	principal, ok := middleware.PrincipalFromEcho(c)
	if !ok {
		return a.writeError(c, serrors.ErrUnauthenticated)
	}

	account, err := a.accounts.GetAccountByID(c.Request().Context(), principal.AccountID)
	if err != nil {
		return a.writeError(c, serrors.ErrUnauthenticated)
	}

	return c.JSON(http.StatusOK, meResponse{
		AccountID: account.ID,
		Email:     account.Email,
		Username:  account.Username,
		Roles:     account.Roles,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePasswordHandler rotates the account password and revokes every
// outstanding refresh token of the account.
func (a *AuthAPI) ChangePasswordHandler(c echo.Context) error {
	principal, ok := middleware.PrincipalFromEcho(c)
	if !ok {
		return a.writeError(c, serrors.ErrUnauthenticated)
	}

	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.AsAuthError(serrors.ErrInvalidArtifact))
	}
	if req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "invalid_request",
			"error_description": "newPassword is required",
		})
	}

	if err := a.auth.ChangePassword(c.Request().Context(), principal.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		return a.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// writeError maps service errors onto HTTP responses. Unknown errors are
// logged and answered with an opaque 500 so internals never leak.
func (a *AuthAPI) writeError(c echo.Context, err error) error {
	ae := serrors.AsAuthError(err)
	if ae.Status >= http.StatusInternalServerError && ae.Code == "server_error" {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.JSON(ae.Status, ae)
}
