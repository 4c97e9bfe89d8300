package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// DefaultAccessTokenTTL keeps bearer tokens short-lived; refresh tokens give
// clients a week before they must sign in again.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// SessionManager drives the token lifecycle: Issued -> Active ->
// {Refreshed -> Active | Expired | Revoked}. It persists one SessionRecord
// per refresh chain and delegates all cryptographic framing to the codec.
type SessionManager struct {
	codec    *TokenCodec
	repo     RepositoryManager
	provider IdentityProvider
	otp      *OneTimeTokenIssuer
	logger   Logger
	sink     ActivitySink
	notifier Notifier
	policy   ConfirmationPolicy

	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

var _ Authenticator = (*SessionManager)(nil)

// NewSessionManager returns a manager with default TTLs and the
// require-any confirmation policy.
func NewSessionManager(codec *TokenCodec, repo RepositoryManager) *SessionManager {
	return &SessionManager{
		codec:      codec,
		repo:       repo,
		logger:     defLogger{},
		sink:       noopActivitySink{},
		notifier:   noopNotifier{},
		policy:     PolicyRequireAny,
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
		now:        time.Now,
	}
}

func (m *SessionManager) WithLogger(logger Logger) *SessionManager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

func (m *SessionManager) WithActivitySink(sink ActivitySink) *SessionManager {
	m.sink = normalizeActivitySink(sink)
	return m
}

func (m *SessionManager) WithNotifier(notifier Notifier) *SessionManager {
	m.notifier = normalizeNotifier(notifier)
	return m
}

// WithIdentityProvider wires the credential-verification store used by SignIn.
func (m *SessionManager) WithIdentityProvider(provider IdentityProvider) *SessionManager {
	m.provider = provider
	return m
}

// WithOneTimeIssuer wires the issuer used for two-factor codes.
func (m *SessionManager) WithOneTimeIssuer(otp *OneTimeTokenIssuer) *SessionManager {
	m.otp = otp
	return m
}

func (m *SessionManager) WithConfirmationPolicy(policy ConfirmationPolicy) *SessionManager {
	if policy != "" {
		m.policy = policy
	}
	return m
}

func (m *SessionManager) WithAccessTTL(ttl time.Duration) *SessionManager {
	if ttl > 0 {
		m.accessTTL = ttl
	}
	return m
}

func (m *SessionManager) WithRefreshTTL(ttl time.Duration) *SessionManager {
	if ttl > 0 {
		m.refreshTTL = ttl
	}
	return m
}

// WithClock injects a custom clock (useful for tests).
func (m *SessionManager) WithClock(clock func() time.Time) *SessionManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// SignIn verifies password credentials, applies the confirmation gating
// policy, and issues an access+refresh pair. When the account has two-factor
// enabled a code is dispatched and ErrTwoFactorRequired is returned; the
// client completes sign-in through CompleteTwoFactor.
func (m *SessionManager) SignIn(ctx context.Context, identifier, password string) (*TokenPair, error) {
	if m.provider == nil {
		return nil, goerrors.New("identity provider is not configured", goerrors.CategoryInternal)
	}

	ident, err := m.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		m.emit(ctx, ActivityEventLoginFailure, "", "", map[string]any{"identifier": identifier})
		return nil, err
	}

	user, err := m.loadUser(ctx, ident.ID())
	if err != nil {
		return nil, err
	}

	if user.TwoFactor {
		if m.otp == nil {
			return nil, goerrors.New("two-factor issuer is not configured", goerrors.CategoryInternal)
		}
		if _, err := m.otp.Issue(ctx, user, PurposeTwoFactor); err != nil {
			return nil, err
		}
		return nil, ErrTwoFactorRequired
	}

	return m.issueGated(ctx, user)
}

// CompleteTwoFactor consumes a two-factor code and issues the session the
// code authorized. Consumption is exactly-once, so each code yields at most
// one session.
func (m *SessionManager) CompleteTwoFactor(ctx context.Context, identifier, code string) (*TokenPair, error) {
	if m.otp == nil {
		return nil, goerrors.New("two-factor issuer is not configured", goerrors.CategoryInternal)
	}

	user, err := m.loadUser(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if err := m.otp.Consume(ctx, user, PurposeTwoFactor, code); err != nil {
		m.emit(ctx, ActivityEventLoginFailure, user.ID.String(), "", map[string]any{"reason": "two_factor"})
		return nil, err
	}

	return m.issueGated(ctx, user)
}

// RequestTwoFactorCode re-issues the two-factor code, superseding any prior
// unconsumed one.
func (m *SessionManager) RequestTwoFactorCode(ctx context.Context, identifier string) error {
	if m.otp == nil {
		return goerrors.New("two-factor issuer is not configured", goerrors.CategoryInternal)
	}

	user, err := m.loadUser(ctx, identifier)
	if err != nil {
		return err
	}

	_, err = m.otp.Issue(ctx, user, PurposeTwoFactor)
	return err
}

// CompleteExternalSignIn issues a session for a user resolved through a
// federated provider. The provider already vouched for the user, so the
// password branch is skipped; confirmation gating still applies.
func (m *SessionManager) CompleteExternalSignIn(ctx context.Context, user *User) (*TokenPair, error) {
	if user == nil {
		return nil, ErrIdentityNotFound
	}
	return m.issueGated(ctx, user)
}

// IssueSession starts a fresh session for an already-authenticated user and
// mints its first token pair at generation zero.
func (m *SessionManager) IssueSession(ctx context.Context, user *User, scopes ...string) (*TokenPair, error) {
	if user == nil {
		return nil, goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	session, err := m.repo.Sessions().Start(ctx, user.ID, m.refreshTTL)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to start session")
	}

	pair, err := m.mintPair(user, session.ID, session.Generation, scopes)
	if err != nil {
		return nil, err
	}

	m.emit(ctx, ActivityEventSessionIssued, user.ID.String(), session.ID.String(), nil)
	m.emit(ctx, ActivityEventLoginSuccess, user.ID.String(), session.ID.String(), nil)

	return pair, nil
}

// ValidateAccess verifies the token's signature and framing, checks the token
// type, compares the embedded security stamp against the user's live stamp,
// and rejects tokens whose session has been revoked. Stamp mismatch is
// reported as stale credentials, distinct from expiry.
func (m *SessionManager) ValidateAccess(ctx context.Context, token string) (*SessionObject, error) {
	claims, err := m.codec.Verify(token)
	if err != nil {
		return nil, err
	}

	if !claims.IsAccess() {
		return nil, ErrWrongTokenType
	}

	session, err := m.loadSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Revoked {
		return nil, ErrSessionRevoked
	}

	user, err := m.loadUser(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}

	if user.Stamp != claims.Stamp {
		return nil, ErrStaleCredentials
	}

	return sessionFromClaims(claims)
}

// Refresh exchanges a refresh token for a new access+refresh pair. The
// presented generation must equal the session's stored generation; winning
// the compare-and-swap advances it, so the old refresh token is dead even
// before its expiry. A stale generation means the token was already used --
// that is treated as theft and revokes the whole session.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := m.codec.Verify(refreshToken)
	if err != nil {
		return nil, err
	}

	if !claims.IsRefresh() {
		return nil, ErrWrongTokenType
	}

	sessionID, err := claims.SessionUUID()
	if err != nil {
		return nil, ErrTokenMalformed
	}

	session, err := m.loadSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Revoked {
		return nil, ErrSessionRevoked
	}
	if m.now().After(session.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	user, err := m.loadUser(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}
	if user.Stamp != claims.Stamp {
		return nil, ErrStaleCredentials
	}

	advanced, err := m.repo.Sessions().ConsumeGeneration(ctx, sessionID, claims.Generation)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate session generation")
	}

	if !advanced {
		// Reuse of a stale generation signals the token was exfiltrated and
		// presented twice. Kill the whole session.
		if err := m.repo.Sessions().Revoke(ctx, sessionID); err != nil {
			m.logger.Error("failed to revoke replayed session %s: %v", sessionID.String(), err)
		}
		m.emit(ctx, ActivityEventReplayDetected, user.ID.String(), sessionID.String(), nil)
		m.notifier.NotifyUserUpdated(user.ID.String(), map[string]any{"reason": "session_revoked"})
		return nil, ErrGenerationReplay
	}

	pair, err := m.mintPair(user, sessionID, claims.Generation+1, claims.Scopes)
	if err != nil {
		return nil, err
	}

	m.emit(ctx, ActivityEventSessionRefreshed, user.ID.String(), sessionID.String(), map[string]any{
		"generation": claims.Generation + 1,
	})

	return pair, nil
}

// Revoke flags the session; every subsequent validate or refresh fails with
// ErrSessionRevoked regardless of signature validity.
func (m *SessionManager) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	if err := m.repo.Sessions().Revoke(ctx, sessionID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}

	session, err := m.repo.Sessions().GetByID(ctx, sessionID.String())
	userID := ""
	if err == nil && session != nil {
		userID = session.UserID.String()
	}

	m.emit(ctx, ActivityEventSessionRevoked, userID, sessionID.String(), nil)
	if userID != "" {
		m.notifier.NotifyUserUpdated(userID, map[string]any{"reason": "session_revoked"})
	}

	return nil
}

// SessionFromToken validates an access token and returns its session
// snapshot.
func (m *SessionManager) SessionFromToken(ctx context.Context, token string) (Session, error) {
	return m.ValidateAccess(ctx, token)
}

// Codec exposes the underlying token codec for middleware wiring.
func (m *SessionManager) Codec() *TokenCodec {
	return m.codec
}

// issueGated applies the confirmation policy before issuing a session.
func (m *SessionManager) issueGated(ctx context.Context, user *User) (*TokenPair, error) {
	state := StateOf(user)

	if !state.Satisfies(m.policy) {
		m.emit(ctx, ActivityEventLoginFailure, user.ID.String(), "", map[string]any{"reason": "unconfirmed"})
		return nil, ErrAccountUnconfirmed
	}

	var scopes []string
	if m.policy == PolicyAllowUnconfirmed && !state.Confirmed() {
		scopes = []string{ScopeRestricted}
	}

	return m.IssueSession(ctx, user, scopes...)
}

func (m *SessionManager) mintPair(user *User, sessionID uuid.UUID, generation int64, scopes []string) (*TokenPair, error) {
	now := m.now()

	access := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
		UID:        user.ID.String(),
		TokenType:  TokenTypeAccess,
		Stamp:      user.Stamp,
		SessionID:  sessionID.String(),
		Generation: generation,
	}
	if len(scopes) > 0 {
		access.Scopes = append([]string(nil), scopes...)
	}

	refresh := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshTTL)),
		},
		UID:        user.ID.String(),
		TokenType:  TokenTypeRefresh,
		Stamp:      user.Stamp,
		SessionID:  sessionID.String(),
		Generation: generation,
	}
	if len(scopes) > 0 {
		refresh.Scopes = append([]string(nil), scopes...)
	}

	accessToken, err := m.codec.Sign(access)
	if err != nil {
		return nil, err
	}

	refreshToken, err := m.codec.Sign(refresh)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  access.Expires(),
		RefreshExpiresAt: refresh.Expires(),
		SessionID:        sessionID,
	}, nil
}

func (m *SessionManager) loadUser(ctx context.Context, identifier string) (*User, error) {
	user, err := m.repo.Users().GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}
	return user, nil
}

func (m *SessionManager) loadSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	session, err := m.repo.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSessionRevoked
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
	}
	return session, nil
}

func (m *SessionManager) emit(ctx context.Context, eventType ActivityEventType, userID, sessionID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      ActorRef{ID: userID, Type: "user"},
		UserID:     userID,
		SessionID:  sessionID,
		Metadata:   metadata,
		OccurredAt: m.now(),
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if err := m.sink.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink record error: %v", err)
	}
}
