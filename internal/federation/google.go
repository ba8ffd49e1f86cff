package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	googleOAuth2 "golang.org/x/oauth2/google"
)

var GoogleUserInfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleProvider implements Provider for Google.
type GoogleProvider struct {
	*BaseProvider
}

// NewGoogleProvider creates a Google provider with the openid/profile/email
// scopes unless the configuration overrides them.
func NewGoogleProvider(cfg ProviderConfig) *GoogleProvider {
	return &GoogleProvider{
		BaseProvider: newBaseProvider("google", cfg, googleOAuth2.Endpoint,
			[]string{"openid", "profile", "email"}),
	}
}

// FetchClaims fetches Google's userinfo document and normalizes it.
func (g *GoogleProvider) FetchClaims(ctx context.Context, token *oauth2.Token) (*NormalizedClaims, error) {
	client := g.httpClient(ctx, token)
	resp, err := client.Get(GoogleUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("google: failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("google: user info request returned status %d: %s", resp.StatusCode, string(body))
	}

	var raw struct {
		Sub           string `json:"sub"`
		Name          string `json:"name"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("google: failed to decode user info: %w", err)
	}
	if raw.Sub == "" {
		return nil, fmt.Errorf("google: user info missing subject id")
	}

	return &NormalizedClaims{
		Provider:      g.Name(),
		SubjectID:     raw.Sub,
		Email:         raw.Email,
		EmailVerified: raw.EmailVerified,
		DisplayName:   raw.Name,
	}, nil
}

var _ Provider = (*GoogleProvider)(nil)
