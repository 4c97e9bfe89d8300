package federation

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Actions describe why a profile is being resolved.
const (
	ActionSignIn = "sign_in"
	ActionLink   = "link"
)

// Linking modes control how unknown profiles are handled.
const (
	// LinkModeAutoCreate links to a matching confirmed account or creates a
	// new one.
	LinkModeAutoCreate = "auto_create"
	// LinkModeEmailMatch links to a matching confirmed account, never signs
	// up.
	LinkModeEmailMatch = "email_match"
	// LinkModeExplicitOnly only links when the user asked for it.
	LinkModeExplicitOnly = "explicit_only"
	// LinkModeRejectUnknown rejects profiles without an existing link.
	LinkModeRejectUnknown = "reject_unknown"
)

// LinkingResult contains the resolved user and metadata.
type LinkingResult struct {
	User      *identity.User
	Login     *identity.ExternalLogin
	IsNewUser bool
	Linked    bool
}

// Linker resolves an external profile to exactly one local user. The
// (provider, subject) pair is the primary key of the mapping; email matching
// is only a fallback, and only against accounts whose email is confirmed.
// Resolution runs in one transaction so a concurrent callback for the same
// subject cannot create two links.
type Linker struct {
	repo     identity.RepositoryManager
	logger   identity.Logger
	sink     identity.ActivitySink
	notifier identity.Notifier

	Mode                 string
	AllowSignup          bool
	RequireEmailVerified bool

	OnUserCreated func(ctx context.Context, user *identity.User, profile *ExternalProfile) error
}

// NewLinker returns a linker in auto-create mode.
func NewLinker(repo identity.RepositoryManager) *Linker {
	return &Linker{
		repo:                 repo,
		logger:               identity.NewDefaultLogger(),
		sink:                 identity.ActivitySinkFunc(nil),
		notifier:             identity.NewNotifier(nil),
		Mode:                 LinkModeAutoCreate,
		AllowSignup:          true,
		RequireEmailVerified: true,
	}
}

func (l *Linker) WithLogger(logger identity.Logger) *Linker {
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *Linker) WithActivitySink(sink identity.ActivitySink) *Linker {
	if sink != nil {
		l.sink = sink
	}
	return l
}

// WithNotifier wires the publisher that announces link changes to
// subscribed clients.
func (l *Linker) WithNotifier(n identity.Notifier) *Linker {
	if n != nil {
		l.notifier = n
	}
	return l
}

func (l *Linker) WithMode(mode string) *Linker {
	if mode != "" {
		l.Mode = mode
	}
	return l
}

// ResolveOrCreate maps the profile to a local user, creating the link record
// (and possibly the user) atomically. An email collision with an account
// whose email is unconfirmed is never auto-linked; it surfaces as
// ErrLinkConflict for the caller to resolve with the user.
func (l *Linker) ResolveOrCreate(ctx context.Context, profile *ExternalProfile) (*LinkingResult, error) {
	if profile == nil || profile.Provider == "" || profile.Subject == "" {
		return nil, ErrProfileFailed
	}

	if l.RequireEmailVerified && profile.Email != "" && !profile.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	result := &LinkingResult{}

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := l.repo.ExternalLogins().FindByProviderTx(ctx, tx, profile.Provider, profile.Subject)
		if err == nil && existing != nil {
			user, err := l.repo.Users().GetByIdentifierTx(ctx, tx, existing.UserID.String())
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find linked user")
			}
			result.User = user
			result.Login = existing
			return nil
		}
		if err != nil && !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up external login")
		}

		if l.Mode == LinkModeRejectUnknown || l.Mode == LinkModeExplicitOnly {
			return ErrLinkingNotAllowed
		}

		if profile.Email != "" {
			user, err := l.repo.Users().GetByIdentifierTx(ctx, tx, profile.Email)
			if err == nil && user != nil {
				if !user.EmailConfirmed {
					// the local account never proved it owns this address
					return ErrLinkConflict
				}
				return l.createLink(ctx, tx, user, profile, result)
			}
			if err != nil && !repository.IsRecordNotFound(err) {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find user by email")
			}
		}

		if l.Mode == LinkModeEmailMatch {
			return ErrSignupNotAllowed
		}

		if !l.AllowSignup {
			return ErrSignupNotAllowed
		}

		user := userFromProfile(profile)
		created, err := l.repo.Users().RegisterTx(ctx, tx, user)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "failed to create user from profile")
		}

		if l.OnUserCreated != nil {
			if err := l.OnUserCreated(ctx, created, profile); err != nil {
				return err
			}
		}

		result.IsNewUser = true
		return l.createLink(ctx, tx, created, profile, result)
	})

	if err != nil {
		return nil, err
	}

	l.recordLink(ctx, result, profile)

	return result, nil
}

// Link attaches the profile to an already-authenticated user. Used by the
// explicit "connect account" flow.
func (l *Linker) Link(ctx context.Context, userID uuid.UUID, profile *ExternalProfile) (*LinkingResult, error) {
	if profile == nil || profile.Provider == "" || profile.Subject == "" {
		return nil, ErrProfileFailed
	}

	result := &LinkingResult{}

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := l.repo.Users().GetByIdentifierTx(ctx, tx, userID.String())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find user to link")
		}

		existing, err := l.repo.ExternalLogins().FindByProviderTx(ctx, tx, profile.Provider, profile.Subject)
		if err == nil && existing != nil {
			if existing.UserID != userID {
				// subject already belongs to a different local account
				return ErrLinkConflict
			}
			result.User = user
			result.Login = existing
			return nil
		}
		if err != nil && !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up external login")
		}

		return l.createLink(ctx, tx, user, profile, result)
	})

	if err != nil {
		return nil, err
	}

	l.recordLink(ctx, result, profile)

	return result, nil
}

// Unlink removes a provider link. Refuses to orphan an account that has no
// password and no other link.
func (l *Linker) Unlink(ctx context.Context, userID uuid.UUID, provider string) error {
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := l.repo.Users().GetByIdentifierTx(ctx, tx, userID.String())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find user")
		}

		logins, err := l.repo.ExternalLogins().ListForUser(ctx, userID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list external logins")
		}

		if user.PasswordHash == "" && len(logins) <= 1 {
			return ErrLastAuthMethod
		}

		removed, err := l.repo.ExternalLogins().RemoveTx(ctx, tx, userID, provider)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete external login")
		}
		if !removed {
			return ErrProviderNotFound
		}

		return nil
	})
	if err != nil {
		return err
	}

	l.notifier.NotifyUserUpdated(userID.String(), map[string]any{
		"reason":   "link_removed",
		"provider": provider,
	})

	return nil
}

func (l *Linker) createLink(ctx context.Context, tx bun.IDB, user *identity.User, profile *ExternalProfile, result *LinkingResult) error {
	login := &identity.ExternalLogin{
		UserID:      user.ID,
		Provider:    profile.Provider,
		Subject:     profile.Subject,
		Email:       profile.Email,
		DisplayName: profile.Name,
		AvatarURL:   profile.AvatarURL,
	}

	created, err := l.repo.ExternalLogins().CreateTx(ctx, tx, login)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryConflict, "failed to create external login")
	}

	result.User = user
	result.Login = created
	result.Linked = true
	return nil
}

func (l *Linker) recordLink(ctx context.Context, result *LinkingResult, profile *ExternalProfile) {
	if result == nil || !result.Linked || result.User == nil {
		return
	}

	event := identity.ActivityEvent{
		EventType: identity.ActivityEventLinkCreated,
		Actor: identity.ActorRef{
			ID:   result.User.ID.String(),
			Type: "user",
		},
		UserID: result.User.ID.String(),
		Metadata: map[string]any{
			"provider": profile.Provider,
			"new_user": result.IsNewUser,
		},
		OccurredAt: time.Now(),
	}

	if err := l.sink.Record(ctx, event); err != nil {
		l.logger.Warn("activity sink error during link: %v", err)
	}

	l.notifier.NotifyUserUpdated(result.User.ID.String(), map[string]any{
		"reason":   "link_created",
		"provider": profile.Provider,
		"new_user": result.IsNewUser,
	})
}

func userFromProfile(profile *ExternalProfile) *identity.User {
	user := &identity.User{
		Email:          profile.Email,
		EmailConfirmed: profile.EmailVerified,
	}

	if profile.Username != "" {
		user.Username = profile.Username
	} else if profile.Email != "" {
		user.Username = strings.Split(profile.Email, "@")[0]
	} else {
		user.Username = fmt.Sprintf("%s_%s", profile.Provider, profile.Subject)
	}

	return user
}
