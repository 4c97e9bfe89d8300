package identity_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProviderFixture(t *testing.T) (*identity.UserProvider, *fakeUsers, *identity.User) {
	t.Helper()

	users := newFakeUsers()
	user := users.add(&identity.User{
		Username:     "pepe",
		Email:        "pepe@example.com",
		PasswordHash: testPasswordHash(t),
	})

	return identity.NewUserProvider(users), users, user
}

func TestVerifyIdentity(t *testing.T) {
	provider, _, user := newProviderFixture(t)
	ctx := context.Background()

	ident, err := provider.VerifyIdentity(ctx, "pepe@example.com", "password123")
	require.NoError(t, err)

	assert.Equal(t, user.ID.String(), ident.ID())
	assert.Equal(t, "pepe", ident.Username())
	assert.Equal(t, "pepe@example.com", ident.Email())
	assert.Equal(t, user.Stamp, ident.SecurityStamp())
}

func TestVerifyIdentityWrongPassword(t *testing.T) {
	provider, _, user := newProviderFixture(t)
	ctx := context.Background()

	_, err := provider.VerifyIdentity(ctx, "pepe@example.com", "wrong")
	assert.ErrorIs(t, err, identity.ErrMismatchedHashAndPassword)

	assert.Equal(t, 1, user.LoginAttempts, "failed attempt is tracked")
	assert.NotNil(t, user.LoginAttemptAt)
}

func TestVerifyIdentityUnknownUser(t *testing.T) {
	provider, _, _ := newProviderFixture(t)
	ctx := context.Background()

	// same error as a wrong password so callers cannot enumerate accounts
	_, err := provider.VerifyIdentity(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, identity.ErrMismatchedHashAndPassword)
}

func TestVerifyIdentityLockout(t *testing.T) {
	provider, _, user := newProviderFixture(t)
	ctx := context.Background()

	now := time.Now()
	user.LoginAttempts = identity.MaxLoginAttempts + 1
	user.LoginAttemptAt = &now

	_, err := provider.VerifyIdentity(ctx, "pepe@example.com", "password123")
	assert.ErrorIs(t, err, identity.ErrAccountLockedOut)
}

func TestVerifyIdentityCooldownExpires(t *testing.T) {
	provider, _, user := newProviderFixture(t)
	ctx := context.Background()

	old := time.Now().Add(-25 * time.Hour)
	user.LoginAttempts = identity.MaxLoginAttempts + 1
	user.LoginAttemptAt = &old

	ident, err := provider.VerifyIdentity(ctx, "pepe@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), ident.ID())
	assert.Equal(t, 0, user.LoginAttempts, "successful login resets the counter")
}

func TestVerifyIdentityResetsAttemptsOnSuccess(t *testing.T) {
	provider, _, user := newProviderFixture(t)
	ctx := context.Background()

	_, err := provider.VerifyIdentity(ctx, "pepe@example.com", "wrong")
	require.Error(t, err)
	require.Equal(t, 1, user.LoginAttempts)

	_, err = provider.VerifyIdentity(ctx, "pepe@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, 0, user.LoginAttempts)
	assert.NotNil(t, user.LoggedInAt)
}

func TestVerifyIdentityValidatorHook(t *testing.T) {
	provider, _, _ := newProviderFixture(t)
	ctx := context.Background()

	provider.Validator = func(user *identity.User) error {
		return goerrors.New("account suspended", goerrors.CategoryAuthz)
	}

	_, err := provider.VerifyIdentity(ctx, "pepe@example.com", "password123")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "account suspended")
}

func TestFindIdentityByIdentifier(t *testing.T) {
	provider, _, user := newProviderFixture(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		identifier string
	}{
		{"by email", "pepe@example.com"},
		{"by username", "pepe"},
		{"by id", user.ID.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ident, err := provider.FindIdentityByIdentifier(ctx, tt.identifier)
			require.NoError(t, err)
			assert.Equal(t, user.ID.String(), ident.ID())
		})
	}

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := provider.FindIdentityByIdentifier(ctx, "nobody")
		assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
	})
}
