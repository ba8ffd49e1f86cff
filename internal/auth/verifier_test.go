package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
)

var errAccountNotFound = errors.New("account not found")

// fakeAccountRepository is an in-memory domain.AccountRepository.
type fakeAccountRepository struct {
	byUsername map[string]*domain.Account
	byEmail    map[string]*domain.Account
}

func newFakeAccountRepository(accounts ...*domain.Account) *fakeAccountRepository {
	repo := &fakeAccountRepository{
		byUsername: make(map[string]*domain.Account),
		byEmail:    make(map[string]*domain.Account),
	}
	for _, a := range accounts {
		repo.byUsername[a.Username] = a
		repo.byEmail[a.Email] = a
	}
	return repo
}

func (r *fakeAccountRepository) CreateAccount(_ context.Context, a *domain.Account) error {
	r.byUsername[a.Username] = a
	r.byEmail[a.Email] = a
	return nil
}

func (r *fakeAccountRepository) GetAccountByID(_ context.Context, id string) (*domain.Account, error) {
	for _, a := range r.byUsername {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errAccountNotFound
}

func (r *fakeAccountRepository) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	if a, ok := r.byEmail[email]; ok {
		return a, nil
	}
	return nil, errAccountNotFound
}

func (r *fakeAccountRepository) GetAccountByUsername(_ context.Context, username string) (*domain.Account, error) {
	if a, ok := r.byUsername[username]; ok {
		return a, nil
	}
	return nil, errAccountNotFound
}

func (r *fakeAccountRepository) UpdateAccount(_ context.Context, a *domain.Account) error {
	r.byUsername[a.Username] = a
	r.byEmail[a.Email] = a
	return nil
}

func newVerifierFixture(t *testing.T, accounts ...*domain.Account) *CredentialVerifier {
	t.Helper()
	return NewCredentialVerifier(newFakeAccountRepository(accounts...), NewBcryptPasswordHasher(4))
}

func testAccount(t *testing.T, username, email, password string) *domain.Account {
	t.Helper()
	hash, err := NewBcryptPasswordHasher(4).Hash(password)
	require.NoError(t, err)
	return &domain.Account{
		ID:           "acct-" + username,
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Roles:        []string{domain.RoleUser},
		Status:       domain.AccountStatusActive,
	}
}

func TestCredentialVerifier_ByUsername(t *testing.T) {
	account := testAccount(t, "alice", "alice@example.com", "s3cret")
	verifier := newVerifierFixture(t, account)

	got, err := verifier.Verify(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestCredentialVerifier_ByEmailFallback(t *testing.T) {
	account := testAccount(t, "alice", "alice@example.com", "s3cret")
	verifier := newVerifierFixture(t, account)

	got, err := verifier.Verify(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestCredentialVerifier_UniformFailures(t *testing.T) {
	account := testAccount(t, "alice", "alice@example.com", "s3cret")
	disabled := testAccount(t, "bob", "bob@example.com", "s3cret")
	disabled.Status = domain.AccountStatusDisabled
	federated := testAccount(t, "carol", "carol@example.com", "ignored")
	federated.PasswordHash = ""
	verifier := newVerifierFixture(t, account, disabled, federated)

	cases := []struct {
		name       string
		identifier string
		secret     string
	}{
		{"unknown identifier", "mallory", "s3cret"},
		{"wrong secret", "alice", "wrong"},
		{"disabled account", "bob", "s3cret"},
		{"federated-only account", "carol", "anything"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tc.identifier, tc.secret)
			assert.ErrorIs(t, err, serrors.ErrInvalidCredentials)
		})
	}
}
