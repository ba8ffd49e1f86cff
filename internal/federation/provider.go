package federation

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// NormalizedClaims is the provider-independent identity claim set produced by
// exchanging an authorization artifact.
type NormalizedClaims struct {
	Provider      string // provider name, e.g. "google"
	SubjectID     string // provider-issued subject id
	Email         string
	EmailVerified bool
	DisplayName   string
}

// Provider is one external OAuth2 identity provider. New providers are added
// by implementing this interface; provider quirks stay behind it.
type Provider interface {
	// Name returns the unique identifier for the provider (e.g. "google").
	Name() string

	// AuthCodeURL builds the URL the user is redirected to, carrying the
	// anti-forgery state value.
	AuthCodeURL(state string) string

	// ExchangeCode exchanges an authorization code for a provider token.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchClaims retrieves user information with the provider token and
	// normalizes it.
	FetchClaims(ctx context.Context, token *oauth2.Token) (*NormalizedClaims, error)
}

// ProviderConfig is the static configuration for one provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// BaseProvider carries the shared oauth2 plumbing; concrete providers embed
// it and supply their endpoint and claim normalization.
type BaseProvider struct {
	name string
	conf *oauth2.Config
}

func newBaseProvider(name string, cfg ProviderConfig, endpoint oauth2.Endpoint, defaultScopes []string) *BaseProvider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &BaseProvider{
		name: name,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

func (b *BaseProvider) Name() string {
	return b.name
}

func (b *BaseProvider) AuthCodeURL(state string) string {
	return b.conf.AuthCodeURL(state)
}

func (b *BaseProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return b.conf.Exchange(ctx, code)
}

func (b *BaseProvider) httpClient(ctx context.Context, token *oauth2.Token) *http.Client {
	return b.conf.Client(ctx, token)
}
