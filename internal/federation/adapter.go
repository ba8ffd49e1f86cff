package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	serrors "github.com/portfoliolab/authcore/errors"
)

// DefaultExchangeTimeout bounds the provider's token-exchange and user-info
// calls. On timeout the attempt fails retryably; the adapter never retries on
// its own.
const DefaultExchangeTimeout = 10 * time.Second

// Adapter runs the federated login flow against a registry of providers:
// issue state, redirect, validate the callback, exchange the code, normalize
// the claims.
type Adapter struct {
	providers       map[string]Provider
	states          *StateStore
	exchangeTimeout time.Duration
}

// NewAdapter creates an adapter over the given providers.
func NewAdapter(states *StateStore, providers ...Provider) *Adapter {
	registry := make(map[string]Provider, len(providers))
	for _, p := range providers {
		registry[p.Name()] = p
	}
	return &Adapter{
		providers:       registry,
		states:          states,
		exchangeTimeout: DefaultExchangeTimeout,
	}
}

// Provider looks up a registered provider by name.
func (a *Adapter) Provider(name string) (Provider, error) {
	p, ok := a.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", serrors.ErrInvalidArtifact, name)
	}
	return p, nil
}

// Begin starts a federated login attempt: it issues a single-use state value
// and returns the provider URL to redirect the user to.
func (a *Adapter) Begin(providerName string) (authURL, state string, err error) {
	p, err := a.Provider(providerName)
	if err != nil {
		return "", "", err
	}
	state, err = a.states.Issue(providerName)
	if err != nil {
		return "", "", err
	}
	return p.AuthCodeURL(state), state, nil
}

// Callback validates the returned state, exchanges the authorization code and
// fetches normalized claims. State failures are terminal; provider-side
// failures are classified retryable (ProviderError) or not (InvalidArtifact).
func (a *Adapter) Callback(ctx context.Context, providerName, code, state string) (*NormalizedClaims, error) {
	if !a.states.Redeem(providerName, state) {
		return nil, serrors.ErrStateMismatch
	}

	p, err := a.Provider(providerName)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", serrors.ErrInvalidArtifact)
	}

	ctx, cancel := context.WithTimeout(ctx, a.exchangeTimeout)
	defer cancel()

	tok, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(providerName, err)
	}

	claims, err := p.FetchClaims(ctx, tok)
	if err != nil {
		log.Warn().Err(err).Str("provider", providerName).Msg("federation: user info fetch failed")
		return nil, fmt.Errorf("%w: %v", serrors.ErrProviderError, err)
	}
	return claims, nil
}

// classifyExchangeError splits exchange failures into the caller-retryable
// class (network, timeout, provider 5xx) and the terminal class (provider
// rejected the artifact with a 4xx).
func classifyExchangeError(providerName string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := retrieveErr.Response.StatusCode
		if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
			log.Warn().Str("provider", providerName).Int("status", status).Msg("federation: provider rejected authorization code")
			return fmt.Errorf("%w: provider returned status %d", serrors.ErrInvalidArtifact, status)
		}
	}
	log.Warn().Err(err).Str("provider", providerName).Msg("federation: code exchange failed")
	return fmt.Errorf("%w: %v", serrors.ErrProviderError, err)
}
