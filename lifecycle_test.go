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

type lifecycleFixture struct {
	repo    *fakeRepo
	manager *identity.SessionManager
	sender  *captureSender
	sink    *captureSink
	user    *identity.User
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	repo := newFakeRepo()
	sender := &captureSender{}
	sink := &captureSink{}

	user := repo.users.add(&identity.User{
		Username:       "pepe",
		Email:          "pepe@example.com",
		PasswordHash:   testPasswordHash(t),
		EmailConfirmed: true,
	})

	otp := identity.NewOneTimeTokenIssuer(repo, sender)
	provider := identity.NewUserProvider(repo.users)

	manager := identity.NewSessionManager(newTestCodec(t), repo).
		WithIdentityProvider(provider).
		WithOneTimeIssuer(otp).
		WithActivitySink(sink)

	return &lifecycleFixture{
		repo:    repo,
		manager: manager,
		sender:  sender,
		sink:    sink,
		user:    user,
	}
}

func TestIssueAndValidate(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	pair, err := f.manager.IssueSession(ctx, f.user)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))

	session, err := f.manager.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID.String(), session.GetUserID())
	assert.Equal(t, pair.SessionID.String(), session.GetSessionID())
	assert.False(t, session.IsRestricted())

	assert.True(t, f.sink.has(identity.ActivityEventSessionIssued))
}

func TestValidateRejectsRefreshToken(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	pair, err := f.manager.IssueSession(ctx, f.user)
	require.NoError(t, err)

	_, err = f.manager.ValidateAccess(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrWrongTokenType)

	_, err = f.manager.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, identity.ErrWrongTokenType)
}

func TestRefreshRotation(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	pair, err := f.manager.IssueSession(ctx, f.user)
	require.NoError(t, err)

	next, err := f.manager.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, pair.SessionID, next.SessionID, "refresh stays on the same session")
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// the new refresh token works in turn
	_, err = f.manager.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshReplayRevokesSession(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	pair, err := f.manager.IssueSession(ctx, f.user)
	require.NoError(t, err)

	next, err := f.manager.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	// presenting the consumed generation again is treated as theft
	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.True(t, identity.IsReplayError(err))
	assert.True(t, f.sink.has(identity.ActivityEventReplayDetected))

	// the whole session is dead: the winner's tokens fail too
	_, err = f.manager.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrSessionRevoked)

	_, err = f.manager.ValidateAccess(ctx, next.AccessToken)
	assert.ErrorIs(t, err, identity.ErrSessionRevoked)
}

func TestStampRotationInvalidatesTokens(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	pair, err := f.manager.IssueSession(ctx, f.user)
	require.NoError(t, err)

	f.user.RotateStamp()

	_, err = f.manager.ValidateAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, identity.ErrStaleCredentials)

	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrStaleCredentials)
}

func TestRevoke(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	pair, err := f.manager.IssueSession(ctx, f.user)
	require.NoError(t, err)

	require.NoError(t, f.manager.Revoke(ctx, pair.SessionID))

	_, err = f.manager.ValidateAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, identity.ErrSessionRevoked)

	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrSessionRevoked)
}

func TestSignIn(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		pair, err := f.manager.SignIn(ctx, "pepe@example.com", "password123")
		require.NoError(t, err)
		require.NotNil(t, pair)
		assert.True(t, f.sink.has(identity.ActivityEventLoginSuccess))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.manager.SignIn(ctx, "pepe@example.com", "wrong")
		assert.ErrorIs(t, err, identity.ErrMismatchedHashAndPassword)
		assert.True(t, f.sink.has(identity.ActivityEventLoginFailure))
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := f.manager.SignIn(ctx, "nobody@example.com", "password123")
		assert.ErrorIs(t, err, identity.ErrMismatchedHashAndPassword)
	})
}

func TestSignInLockout(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	f.user.LoginAttempts = identity.MaxLoginAttempts + 1
	now := time.Now()
	f.user.LoginAttemptAt = &now

	_, err := f.manager.SignIn(ctx, "pepe@example.com", "password123")
	assert.ErrorIs(t, err, identity.ErrAccountLockedOut)
}

func TestSignInConfirmationGating(t *testing.T) {
	ctx := context.Background()

	t.Run("unconfirmed account is refused", func(t *testing.T) {
		f := newLifecycleFixture(t)
		f.user.EmailConfirmed = false

		_, err := f.manager.SignIn(ctx, "pepe@example.com", "password123")
		assert.ErrorIs(t, err, identity.ErrAccountUnconfirmed)
	})

	t.Run("phone confirmation satisfies require-any", func(t *testing.T) {
		f := newLifecycleFixture(t)
		f.user.EmailConfirmed = false
		f.user.PhoneConfirmed = true

		_, err := f.manager.SignIn(ctx, "pepe@example.com", "password123")
		assert.NoError(t, err)
	})

	t.Run("require-email refuses phone-only confirmation", func(t *testing.T) {
		f := newLifecycleFixture(t)
		f.manager.WithConfirmationPolicy(identity.PolicyRequireEmail)
		f.user.EmailConfirmed = false
		f.user.PhoneConfirmed = true

		_, err := f.manager.SignIn(ctx, "pepe@example.com", "password123")
		assert.ErrorIs(t, err, identity.ErrAccountUnconfirmed)
	})

	t.Run("allow-unconfirmed issues a restricted session", func(t *testing.T) {
		f := newLifecycleFixture(t)
		f.manager.WithConfirmationPolicy(identity.PolicyAllowUnconfirmed)
		f.user.EmailConfirmed = false

		pair, err := f.manager.SignIn(ctx, "pepe@example.com", "password123")
		require.NoError(t, err)

		session, err := f.manager.ValidateAccess(ctx, pair.AccessToken)
		require.NoError(t, err)
		assert.True(t, session.IsRestricted())

		scopes, ok := session.GetData()["scopes"].([]string)
		require.True(t, ok, "scope list travels with the session")
		assert.Contains(t, scopes, identity.ScopeRestricted)
	})
}

func TestTwoFactorSignIn(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	f.user.TwoFactor = true
	f.user.Phone = "+14155552671"

	_, err := f.manager.SignIn(ctx, "pepe@example.com", "password123")
	require.ErrorIs(t, err, identity.ErrTwoFactorRequired)

	code := f.sender.last(t).Code
	require.Len(t, code, 6)

	pair, err := f.manager.CompleteTwoFactor(ctx, "pepe@example.com", code)
	require.NoError(t, err)
	require.NotNil(t, pair)

	// a code authorizes exactly one session
	_, err = f.manager.CompleteTwoFactor(ctx, "pepe@example.com", code)
	assert.ErrorIs(t, err, identity.ErrCodeAlreadyConsumed)
}

func TestRequestTwoFactorCodeSupersedes(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	f.user.TwoFactor = true
	f.user.Phone = "+14155552671"

	_, err := f.manager.SignIn(ctx, "pepe@example.com", "password123")
	require.ErrorIs(t, err, identity.ErrTwoFactorRequired)
	first := f.sender.last(t).Code

	require.NoError(t, f.manager.RequestTwoFactorCode(ctx, "pepe@example.com"))
	second := f.sender.last(t).Code

	_, err = f.manager.CompleteTwoFactor(ctx, "pepe@example.com", first)
	assert.Error(t, err, "superseded code must not issue a session")

	_, err = f.manager.CompleteTwoFactor(ctx, "pepe@example.com", second)
	assert.NoError(t, err)
}

func TestCompleteExternalSignIn(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	pair, err := f.manager.CompleteExternalSignIn(ctx, f.user)
	require.NoError(t, err)
	require.NotNil(t, pair)

	_, err = f.manager.CompleteExternalSignIn(ctx, nil)
	assert.Error(t, err)
}

func TestSessionFromToken(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	pair, err := f.manager.IssueSession(ctx, f.user)
	require.NoError(t, err)

	session, err := f.manager.SessionFromToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID.String(), session.GetUserID())

	uid, err := session.GetUserUUID()
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, uid)
}

func TestExpiredRefreshRecord(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	pair, err := f.manager.IssueSession(ctx, f.user)
	require.NoError(t, err)

	// expire the persisted chain without touching the token itself
	record, err := f.repo.sessions.GetByID(ctx, pair.SessionID.String())
	require.NoError(t, err)
	record.ExpiresAt = time.Now().Add(-time.Minute)

	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	assert.True(t, goerrors.Is(err, identity.ErrTokenExpired))
}
