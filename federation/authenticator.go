package federation

import (
	"context"
	"fmt"
	"sort"
	"time"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
)

// Authenticator orchestrates the federated sign-in flow. Begin hands the
// client a provider redirect carrying the encrypted state; Complete trades
// the callback code for a profile and resolves it to exactly one local user.
// The resolved user goes to the session manager to mint the token pair.
type Authenticator struct {
	providers map[string]Provider
	state     StateManager
	linker    *Linker
	logger    identity.Logger
	config    Config
}

// Config configures the federated flow.
type Config struct {
	DefaultRedirectURL string
	StateEncryptionKey []byte
	StateHMACKey       []byte
	StateTTL           time.Duration
}

// Option configures the authenticator.
type Option func(*Authenticator)

// WithProvider registers an identity provider.
func WithProvider(provider Provider) Option {
	return func(a *Authenticator) {
		if provider == nil {
			return
		}
		a.providers[provider.Name()] = provider
	}
}

// WithStateManager overrides the default encrypted state manager.
func WithStateManager(sm StateManager) Option {
	return func(a *Authenticator) {
		if sm != nil {
			a.state = sm
		}
	}
}

func WithLogger(logger identity.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthenticator builds an authenticator around a linker.
func NewAuthenticator(linker *Linker, config Config, opts ...Option) *Authenticator {
	cfg := config
	if cfg.StateTTL == 0 {
		cfg.StateTTL = 10 * time.Minute
	}

	a := &Authenticator{
		providers: make(map[string]Provider),
		linker:    linker,
		logger:    identity.NewDefaultLogger(),
		config:    cfg,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.state == nil {
		a.state = NewEncryptedStateManager(cfg.StateEncryptionKey, cfg.StateHMACKey, cfg.StateTTL)
	}

	return a
}

// Redirect carries the provider authorization URL for the client.
type Redirect struct {
	URL      string
	State    string
	Provider string
}

// Result is the outcome of a completed callback. The user is resolved and
// linked; the caller issues the session.
type Result struct {
	User        *identity.User
	Login       *identity.ExternalLogin
	IsNewUser   bool
	Provider    string
	Profile     *ExternalProfile
	RedirectURL string
}

// BeginOption configures flow initiation.
type BeginOption func(*beginConfig)

type beginConfig struct {
	action      string
	redirectURL string
	linkUserID  string
}

// ForAction sets the flow action.
func ForAction(action string) BeginOption {
	return func(c *beginConfig) {
		c.action = action
	}
}

// WithRedirectURL sets the post-callback redirect URL.
func WithRedirectURL(url string) BeginOption {
	return func(c *beginConfig) {
		c.redirectURL = url
	}
}

// ForLinkingUser targets the flow at attaching the provider to an existing
// account instead of signing in.
func ForLinkingUser(userID string) BeginOption {
	return func(c *beginConfig) {
		c.linkUserID = userID
		c.action = ActionLink
	}
}

// Begin starts the flow for a provider. The returned redirect carries the
// encrypted state token; the PKCE verifier travels inside it, never to the
// client.
func (a *Authenticator) Begin(ctx context.Context, providerName string, opts ...BeginOption) (*Redirect, error) {
	provider, ok := a.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerName)
	}

	cfg := &beginConfig{
		action:      ActionSignIn,
		redirectURL: a.config.DefaultRedirectURL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code verifier")
	}

	now := time.Now()
	state := &OAuthState{
		Nonce:        generateNonce(),
		Provider:     providerName,
		CodeVerifier: verifier,
		RedirectURL:  cfg.redirectURL,
		Action:       cfg.action,
		LinkUserID:   cfg.linkUserID,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(a.config.StateTTL).Unix(),
	}

	token, err := a.state.Encode(state)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode state")
	}

	return &Redirect{
		URL:      provider.AuthCodeURL(token, WithPKCE(ComputeCodeChallenge(verifier), "S256")),
		State:    token,
		Provider: providerName,
	}, nil
}

// Complete finishes the flow after the provider callback. The state must
// decode, belong to the named provider, and still be live; the code is then
// exchanged and the profile resolved through the linker.
func (a *Authenticator) Complete(ctx context.Context, providerName, code, stateToken string) (*Result, error) {
	state, err := a.state.Decode(stateToken)
	if err != nil {
		if goerrors.Is(err, ErrStateExpired) {
			return nil, ErrStateExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	if state.Provider != providerName {
		return nil, fmt.Errorf("%w: state was issued for another provider", ErrInvalidState)
	}

	provider, ok := a.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerName)
	}

	token, err := provider.Exchange(ctx, code, WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	profile, err := provider.Profile(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}

	var linked *LinkingResult
	if state.Action == ActionLink && state.LinkUserID != "" {
		userID, perr := uuid.Parse(state.LinkUserID)
		if perr != nil {
			return nil, fmt.Errorf("%w: bad link target", ErrInvalidState)
		}
		linked, err = a.linker.Link(ctx, userID, profile)
	} else {
		linked, err = a.linker.ResolveOrCreate(ctx, profile)
	}
	if err != nil {
		return nil, err
	}
	if linked == nil || linked.User == nil {
		return nil, identity.ErrIdentityNotFound
	}

	return &Result{
		User:        linked.User,
		Login:       linked.Login,
		IsNewUser:   linked.IsNewUser,
		Provider:    providerName,
		Profile:     profile,
		RedirectURL: state.RedirectURL,
	}, nil
}

// ProviderInfo describes a registered provider.
type ProviderInfo struct {
	Name    string
	AuthURL string
}

// Providers lists the registered providers in name order.
func (a *Authenticator) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(a.providers))
	for name, p := range a.providers {
		out = append(out, ProviderInfo{Name: name, AuthURL: p.AuthCodeURL("")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
