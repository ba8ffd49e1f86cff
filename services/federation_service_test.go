package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
	"github.com/portfoliolab/authcore/internal/auth"
	"github.com/portfoliolab/authcore/internal/federation"
	"github.com/portfoliolab/authcore/session"
	"github.com/portfoliolab/authcore/token"
)

// fakeIdentityRepository is an in-memory domain.ExternalIdentityRepository.
type fakeIdentityRepository struct {
	identities map[string]*domain.ExternalIdentity // by provider+"/"+subject
	nextID     int
}

func newFakeIdentityRepository() *fakeIdentityRepository {
	return &fakeIdentityRepository{identities: make(map[string]*domain.ExternalIdentity)}
}

func (r *fakeIdentityRepository) Create(_ context.Context, identity *domain.ExternalIdentity) error {
	key := identity.Provider + "/" + identity.ProviderUserID
	if _, ok := r.identities[key]; ok {
		return serrors.ErrAccountConflict
	}
	r.nextID++
	cp := *identity
	r.identities[key] = &cp
	return nil
}

func (r *fakeIdentityRepository) GetByProviderUserID(_ context.Context, provider, providerUserID string) (*domain.ExternalIdentity, error) {
	if identity, ok := r.identities[provider+"/"+providerUserID]; ok {
		cp := *identity
		return &cp, nil
	}
	return nil, errAccountNotFound
}

func (r *fakeIdentityRepository) ListByAccountID(_ context.Context, accountID string) ([]*domain.ExternalIdentity, error) {
	var out []*domain.ExternalIdentity
	for _, identity := range r.identities {
		if identity.AccountID == accountID {
			cp := *identity
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeIdentityRepository) Delete(_ context.Context, id string) error {
	for key, identity := range r.identities {
		if identity.ID == id {
			delete(r.identities, key)
			return nil
		}
	}
	return errAccountNotFound
}

// scriptedProvider returns fixed claims for every login.
type scriptedProvider struct {
	name   string
	claims federation.NormalizedClaims
}

func (p *scriptedProvider) Name() string                { return p.name }
func (p *scriptedProvider) AuthCodeURL(s string) string { return "https://idp.example/?state=" + s }

func (p *scriptedProvider) ExchangeCode(_ context.Context, _ string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "provider-token"}, nil
}

func (p *scriptedProvider) FetchClaims(_ context.Context, _ *oauth2.Token) (*federation.NormalizedClaims, error) {
	cp := p.claims
	return &cp, nil
}

type federationFixture struct {
	service    *FederationService
	auth       *AuthService
	accounts   *fakeAccountRepository
	identities *fakeIdentityRepository
}

func newFederationFixture(t *testing.T, provider federation.Provider, linkByEmail bool) *federationFixture {
	t.Helper()

	accounts := newFakeAccountRepository()
	identities := newFakeIdentityRepository()
	sessions := session.NewMemoryStore()
	t.Cleanup(func() { _ = sessions.Close() })

	hasher := auth.NewBcryptPasswordHasher(4)
	keyring := token.NewKeyring("test", []byte("federation-service-test-secret"))
	codec := token.NewCodec(keyring, "authcore-test")
	authService := NewAuthService(
		accounts, auth.NewCredentialVerifier(accounts, hasher), hasher,
		codec, sessions, time.Hour, 720*time.Hour)

	states := federation.NewStateStore(time.Minute)
	t.Cleanup(states.Close)
	adapter := federation.NewAdapter(states, provider)

	return &federationFixture{
		service:    NewFederationService(adapter, accounts, identities, authService, linkByEmail),
		auth:       authService,
		accounts:   accounts,
		identities: identities,
	}
}

func (f *federationFixture) login(t *testing.T, provider string) (*TokenPair, CallbackOutcome) {
	t.Helper()
	_, state, err := f.service.Begin(provider)
	require.NoError(t, err)
	pair, outcome, err := f.service.Callback(context.Background(), provider, "code", state)
	require.NoError(t, err)
	return pair, outcome
}

func googleClaims() federation.NormalizedClaims {
	return federation.NormalizedClaims{
		Provider:      "google",
		SubjectID:     "google-subject-1",
		Email:         "alice@example.com",
		EmailVerified: true,
		DisplayName:   "Alice",
	}
}

func TestFederationService_FirstLoginCreatesAccount(t *testing.T) {
	provider := &scriptedProvider{name: "google", claims: googleClaims()}
	fixture := newFederationFixture(t, provider, false)

	pair, outcome := fixture.login(t, "google")
	assert.Equal(t, OutcomeCreated, outcome)
	assert.NotEmpty(t, pair.AccessToken)

	// The mapping now exists and points at an active account.
	identity, err := fixture.identities.GetByProviderUserID(context.Background(), "google", "google-subject-1")
	require.NoError(t, err)
	account, err := fixture.accounts.GetAccountByID(context.Background(), identity.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", account.Email)
	assert.Equal(t, []string{domain.RoleUser}, account.Roles)
	assert.Empty(t, account.PasswordHash)
}

func TestFederationService_SecondLoginReusesAccount(t *testing.T) {
	provider := &scriptedProvider{name: "google", claims: googleClaims()}
	fixture := newFederationFixture(t, provider, false)

	fixture.login(t, "google")
	_, outcome := fixture.login(t, "google")
	assert.Equal(t, OutcomeLinked, outcome)

	assert.Len(t, fixture.accounts.accounts, 1)
}

func TestFederationService_EmailCollisionRejectedByDefault(t *testing.T) {
	provider := &scriptedProvider{name: "google", claims: googleClaims()}
	fixture := newFederationFixture(t, provider, false)

	// A local account already owns the email.
	_, _, err := fixture.auth.Register(context.Background(), "alice@example.com", "alice", "s3cret")
	require.NoError(t, err)

	_, state, err := fixture.service.Begin("google")
	require.NoError(t, err)
	_, _, err = fixture.service.Callback(context.Background(), "google", "code", state)
	assert.ErrorIs(t, err, serrors.ErrAccountConflict)

	// Nothing was linked or created.
	_, err = fixture.identities.GetByProviderUserID(context.Background(), "google", "google-subject-1")
	assert.Error(t, err)
	assert.Len(t, fixture.accounts.accounts, 1)
}

func TestFederationService_EmailLinkingWhenEnabled(t *testing.T) {
	provider := &scriptedProvider{name: "google", claims: googleClaims()}
	fixture := newFederationFixture(t, provider, true)

	account, _, err := fixture.auth.Register(context.Background(), "alice@example.com", "alice", "s3cret")
	require.NoError(t, err)

	_, outcome := fixture.login(t, "google")
	assert.Equal(t, OutcomeLinked, outcome)

	identity, err := fixture.identities.GetByProviderUserID(context.Background(), "google", "google-subject-1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, identity.AccountID)
	assert.Len(t, fixture.accounts.accounts, 1)
}

func TestFederationService_UnverifiedEmailNeverLinks(t *testing.T) {
	claims := googleClaims()
	claims.EmailVerified = false
	provider := &scriptedProvider{name: "google", claims: claims}
	fixture := newFederationFixture(t, provider, true)

	_, _, err := fixture.auth.Register(context.Background(), "alice@example.com", "alice", "s3cret")
	require.NoError(t, err)

	_, state, err := fixture.service.Begin("google")
	require.NoError(t, err)
	_, _, err = fixture.service.Callback(context.Background(), "google", "code", state)
	assert.ErrorIs(t, err, serrors.ErrAccountConflict)
}

func TestFederationService_StateMismatchHasNoSideEffects(t *testing.T) {
	provider := &scriptedProvider{name: "google", claims: googleClaims()}
	fixture := newFederationFixture(t, provider, false)

	_, _, err := fixture.service.Callback(context.Background(), "google", "code", "forged")
	assert.ErrorIs(t, err, serrors.ErrStateMismatch)

	assert.Empty(t, fixture.accounts.accounts)
	assert.Empty(t, fixture.identities.identities)
}

func TestFederationService_DisabledAccountRejected(t *testing.T) {
	provider := &scriptedProvider{name: "google", claims: googleClaims()}
	fixture := newFederationFixture(t, provider, false)

	fixture.login(t, "google")
	for _, account := range fixture.accounts.accounts {
		account.Status = domain.AccountStatusDisabled
	}

	_, state, err := fixture.service.Begin("google")
	require.NoError(t, err)
	_, _, err = fixture.service.Callback(context.Background(), "google", "code", state)
	assert.ErrorIs(t, err, serrors.ErrUnauthenticated)
}

func TestFederationService_PairWorksWithLocalRefresh(t *testing.T) {
	provider := &scriptedProvider{name: "google", claims: googleClaims()}
	fixture := newFederationFixture(t, provider, false)

	pair, _ := fixture.login(t, "google")

	rotated, err := fixture.auth.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.AccessToken)
}
