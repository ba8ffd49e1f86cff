package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	githubOAuth2 "golang.org/x/oauth2/github"
)

var (
	GithubUserInfoEndpoint   = "https://api.github.com/user"
	GithubUserEmailsEndpoint = "https://api.github.com/user/emails"
)

// GitHubProvider implements Provider for GitHub. GitHub is plain OAuth2, not
// OIDC, and may need a second call to resolve the primary verified email.
type GitHubProvider struct {
	*BaseProvider
}

// NewGitHubProvider creates a GitHub provider with the read:user and
// user:email scopes unless the configuration overrides them.
func NewGitHubProvider(cfg ProviderConfig) *GitHubProvider {
	return &GitHubProvider{
		BaseProvider: newBaseProvider("github", cfg, githubOAuth2.Endpoint,
			[]string{"read:user", "user:email"}),
	}
}

// FetchClaims fetches the GitHub user profile and, when the profile email is
// private, the primary verified email from the emails endpoint.
func (g *GitHubProvider) FetchClaims(ctx context.Context, token *oauth2.Token) (*NormalizedClaims, error) {
	client := g.httpClient(ctx, token)

	resp, err := client.Get(GithubUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("github: failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github: user info request returned status %d: %s", resp.StatusCode, string(body))
	}

	var raw struct {
		ID    json.Number `json:"id"`
		Login string      `json:"login"`
		Name  string      `json:"name"`
		Email string      `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("github: failed to decode user info: %w", err)
	}
	if raw.ID.String() == "" {
		return nil, fmt.Errorf("github: user info missing subject id")
	}

	claims := &NormalizedClaims{
		Provider:    g.Name(),
		SubjectID:   raw.ID.String(),
		Email:       raw.Email,
		DisplayName: raw.Name,
	}
	if claims.DisplayName == "" {
		claims.DisplayName = raw.Login
	}

	if claims.Email == "" {
		email, verified, err := g.fetchPrimaryEmail(ctx, client)
		if err != nil {
			return nil, err
		}
		claims.Email = email
		claims.EmailVerified = verified
	} else {
		// Public profile emails on GitHub are user-asserted; treat them as
		// verified only when the emails endpoint confirms it.
		_, verified, err := g.fetchPrimaryEmail(ctx, client)
		if err == nil {
			claims.EmailVerified = verified
		}
	}

	return claims, nil
}

func (g *GitHubProvider) fetchPrimaryEmail(ctx context.Context, client *http.Client) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GithubUserEmailsEndpoint, nil)
	if err != nil {
		return "", false, fmt.Errorf("github: failed to build emails request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("github: failed to get user emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("github: user emails request returned status %d", resp.StatusCode)
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", false, fmt.Errorf("github: failed to decode user emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email, e.Verified, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, emails[0].Verified, nil
	}
	return "", false, nil
}

var _ Provider = (*GitHubProvider)(nil)
