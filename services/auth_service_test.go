package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
	"github.com/portfoliolab/authcore/internal/auth"
	"github.com/portfoliolab/authcore/session"
	"github.com/portfoliolab/authcore/token"
)

var errAccountNotFound = errors.New("account not found")

// fakeAccountRepository is an in-memory domain.AccountRepository shared by
// the service tests.
type fakeAccountRepository struct {
	accounts map[string]*domain.Account // by id
}

func newFakeAccountRepository() *fakeAccountRepository {
	return &fakeAccountRepository{accounts: make(map[string]*domain.Account)}
}

func (r *fakeAccountRepository) CreateAccount(_ context.Context, a *domain.Account) error {
	for _, existing := range r.accounts {
		if existing.Email == a.Email || existing.Username == a.Username {
			return serrors.ErrAccountConflict
		}
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *fakeAccountRepository) GetAccountByID(_ context.Context, id string) (*domain.Account, error) {
	if a, ok := r.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, errAccountNotFound
}

func (r *fakeAccountRepository) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	for _, a := range r.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errAccountNotFound
}

func (r *fakeAccountRepository) GetAccountByUsername(_ context.Context, username string) (*domain.Account, error) {
	for _, a := range r.accounts {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errAccountNotFound
}

func (r *fakeAccountRepository) UpdateAccount(_ context.Context, a *domain.Account) error {
	if _, ok := r.accounts[a.ID]; !ok {
		return errAccountNotFound
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

type authFixture struct {
	service  *AuthService
	accounts *fakeAccountRepository
	sessions *session.MemoryStore
	codec    *token.Codec
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	accounts := newFakeAccountRepository()
	sessions := session.NewMemoryStore()
	t.Cleanup(func() { _ = sessions.Close() })

	hasher := auth.NewBcryptPasswordHasher(4)
	keyring := token.NewKeyring("test", []byte("auth-service-test-secret"))
	codec := token.NewCodec(keyring, "authcore-test")

	service := NewAuthService(
		accounts,
		auth.NewCredentialVerifier(accounts, hasher),
		hasher,
		codec,
		sessions,
		time.Hour,
		720*time.Hour,
	)
	return &authFixture{service: service, accounts: accounts, sessions: sessions, codec: codec}
}

func (f *authFixture) register(t *testing.T) (*domain.Account, *TokenPair) {
	t.Helper()
	account, pair, err := f.service.Register(context.Background(), "alice@example.com", "alice", "s3cret")
	require.NoError(t, err)
	return account, pair
}

func TestAuthService_Register(t *testing.T) {
	fixture := newAuthFixture(t)

	account, pair := fixture.register(t)
	assert.Equal(t, "alice@example.com", account.Email)
	assert.Equal(t, []string{domain.RoleUser}, account.Roles)
	assert.Equal(t, domain.AccountStatusActive, account.Status)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	// Registration includes a usable session.
	_, err := fixture.service.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_RegisterConflicts(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.register(t)

	_, _, err := fixture.service.Register(context.Background(), "alice@example.com", "alice2", "pw")
	assert.ErrorIs(t, err, serrors.ErrAccountConflict)

	_, _, err = fixture.service.Register(context.Background(), "other@example.com", "alice", "pw")
	assert.ErrorIs(t, err, serrors.ErrAccountConflict)
}

func TestAuthService_LoginIssuesValidPair(t *testing.T) {
	fixture := newAuthFixture(t)
	account, _ := fixture.register(t)

	pair, err := fixture.service.Login(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int(time.Hour.Seconds()), pair.ExpiresIn)

	claims, err := fixture.codec.Validate(pair.AccessToken, token.TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.Subject)
	assert.Equal(t, account.Roles, claims.Roles)

	// The refresh token carries no roles; authorization always re-derives
	// from a fresh access token.
	refreshClaims, err := fixture.codec.Validate(pair.RefreshToken, token.TypeRefresh)
	require.NoError(t, err)
	assert.Empty(t, refreshClaims.Roles)
}

func TestAuthService_LoginFailure(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.register(t)

	_, err := fixture.service.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, serrors.ErrInvalidCredentials)
}

func TestAuthService_RefreshRotation(t *testing.T) {
	fixture := newAuthFixture(t)
	_, pair := fixture.register(t)
	ctx := context.Background()

	rotated, err := fixture.service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The rotated-away token is dead.
	_, err = fixture.service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, serrors.ErrTokenReused)

	// Rotation stays within the login's family.
	oldClaims, validateErr := fixture.codec.Validate(rotated.RefreshToken, token.TypeRefresh)
	require.NoError(t, validateErr)
	rec, err := fixture.sessions.Get(ctx, oldClaims.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.FamilyID)
}

func TestAuthService_RefreshRejectsAccessToken(t *testing.T) {
	fixture := newAuthFixture(t)
	_, pair := fixture.register(t)

	_, err := fixture.service.Refresh(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, serrors.ErrTypeMismatch)
}

func TestAuthService_ReuseRevokesAllSessions(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.register(t)
	ctx := context.Background()

	// Two independent logins, two families.
	first, err := fixture.service.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	second, err := fixture.service.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)

	rotated, err := fixture.service.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	// Replaying the rotated-away token nukes every session of the account.
	_, err = fixture.service.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, serrors.ErrTokenReused)

	_, err = fixture.service.Refresh(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, serrors.ErrTokenRevoked)
	_, err = fixture.service.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, serrors.ErrTokenRevoked)
}

func TestAuthService_LogoutRevokesFamily(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.register(t)
	ctx := context.Background()

	ours, err := fixture.service.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	otherDevice, err := fixture.service.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)

	require.NoError(t, fixture.service.Logout(ctx, ours.RefreshToken))

	_, err = fixture.service.Refresh(ctx, ours.RefreshToken)
	assert.ErrorIs(t, err, serrors.ErrTokenRevoked)

	// The other device's session survives.
	_, err = fixture.service.Refresh(ctx, otherDevice.RefreshToken)
	assert.NoError(t, err)
}

func TestAuthService_LogoutIsIdempotent(t *testing.T) {
	fixture := newAuthFixture(t)
	_, pair := fixture.register(t)
	ctx := context.Background()

	require.NoError(t, fixture.service.Logout(ctx, pair.RefreshToken))
	require.NoError(t, fixture.service.Logout(ctx, pair.RefreshToken))
	require.NoError(t, fixture.service.Logout(ctx, "not-even-a-token"))
}

func TestAuthService_RefreshDisabledAccount(t *testing.T) {
	fixture := newAuthFixture(t)
	account, pair := fixture.register(t)
	ctx := context.Background()

	stored := fixture.accounts.accounts[account.ID]
	stored.Status = domain.AccountStatusDisabled

	_, err := fixture.service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, serrors.ErrUnauthenticated)
}

func TestAuthService_ChangePassword(t *testing.T) {
	fixture := newAuthFixture(t)
	account, pair := fixture.register(t)
	ctx := context.Background()

	err := fixture.service.ChangePassword(ctx, account.ID, "wrong", "newpw")
	assert.ErrorIs(t, err, serrors.ErrInvalidCredentials)

	require.NoError(t, fixture.service.ChangePassword(ctx, account.ID, "s3cret", "newpw"))

	// Old secret no longer works, and every session is revoked.
	_, err = fixture.service.Login(ctx, "alice", "s3cret")
	assert.ErrorIs(t, err, serrors.ErrInvalidCredentials)
	_, err = fixture.service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, serrors.ErrTokenRevoked)

	_, err = fixture.service.Login(ctx, "alice", "newpw")
	assert.NoError(t, err)
}
