package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Default expiry windows per purpose. Interactive codes are short-lived,
// link-style codes get a day.
const (
	DefaultShortCodeTTL = 5 * time.Minute
	DefaultLongCodeTTL  = 24 * time.Hour
)

// codeAlphabet for short numeric codes typed from an SMS or authenticator.
const shortCodeDigits = 6

// OneTimeTokenIssuer generates and consumes single-use confirmation codes.
// Only a SHA-256 digest of the code is persisted; the cleartext exists just
// long enough to hand to the delivery transport.
type OneTimeTokenIssuer struct {
	repo   RepositoryManager
	sender Sender
	logger Logger
	sink   ActivitySink
	ttls   map[TokenPurpose]time.Duration
	now    func() time.Time
}

// NewOneTimeTokenIssuer creates an issuer with per-purpose default TTLs.
func NewOneTimeTokenIssuer(repo RepositoryManager, sender Sender) *OneTimeTokenIssuer {
	return &OneTimeTokenIssuer{
		repo:   repo,
		sender: sender,
		logger: defLogger{},
		sink:   noopActivitySink{},
		ttls: map[TokenPurpose]time.Duration{
			PurposeEmailConfirm:  DefaultLongCodeTTL,
			PurposePhoneConfirm:  DefaultLongCodeTTL,
			PurposePasswordReset: DefaultLongCodeTTL,
			PurposeTwoFactor:     DefaultShortCodeTTL,
			PurposeOTP:           DefaultShortCodeTTL,
		},
		now: time.Now,
	}
}

func (i *OneTimeTokenIssuer) WithLogger(logger Logger) *OneTimeTokenIssuer {
	if logger != nil {
		i.logger = logger
	}
	return i
}

func (i *OneTimeTokenIssuer) WithActivitySink(sink ActivitySink) *OneTimeTokenIssuer {
	i.sink = normalizeActivitySink(sink)
	return i
}

// WithTTL overrides the expiry window for a purpose.
func (i *OneTimeTokenIssuer) WithTTL(purpose TokenPurpose, ttl time.Duration) *OneTimeTokenIssuer {
	if ttl > 0 {
		i.ttls[purpose] = ttl
	}
	return i
}

// WithClock injects a custom clock (useful for tests).
func (i *OneTimeTokenIssuer) WithClock(clock func() time.Time) *OneTimeTokenIssuer {
	if clock != nil {
		i.now = clock
	}
	return i
}

// Issue invalidates any prior unconsumed token of the same purpose, persists
// a fresh code, and hands it to the delivery transport. A transport failure
// surfaces as ErrDeliveryFailed so the request fails visibly rather than
// silently stranding the user.
func (i *OneTimeTokenIssuer) Issue(ctx context.Context, user *User, purpose TokenPurpose) (string, error) {
	if user == nil {
		return "", goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	code, err := generateCode(purpose)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code")
	}

	channel := channelFor(purpose)
	destination, err := destinationFor(user, channel)
	if err != nil {
		return "", err
	}

	now := i.now()
	record := &OneTimeToken{
		UserID:    user.ID,
		Purpose:   purpose,
		CodeHash:  hashCode(code),
		ExpiresAt: now.Add(i.ttl(purpose)),
		CreatedAt: &now,
	}

	err = i.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := i.repo.OneTimeTokens().SupersedeActiveTx(ctx, tx, user.ID, purpose); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to supersede prior code")
		}
		if _, err := i.repo.OneTimeTokens().CreateTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist code")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if i.sender != nil && channel != ChannelNone {
		if err := i.sender.Send(ctx, channel, destination, code, purpose); err != nil {
			i.logger.Error("failed to deliver %s code via %s: %v", purpose, channel, err)
			return "", goerrors.Wrap(err, ErrDeliveryFailed.Category, ErrDeliveryFailed.Message).
				WithTextCode(ErrDeliveryFailed.TextCode)
		}
	}

	i.record(ctx, ActivityEventCodeIssued, user, map[string]any{
		"purpose": purpose,
		"channel": channel,
	})

	return code, nil
}

// Consume validates a presented code against the active token for
// (user, purpose) and marks it consumed exactly once. Expiry is enforced
// lazily here; there is no background sweep. A replayed code fails with
// ErrCodeAlreadyConsumed, anything else with ErrCodeInvalid, and neither
// reveals which part of the lookup went wrong.
func (i *OneTimeTokenIssuer) Consume(ctx context.Context, user *User, purpose TokenPurpose, presented string) error {
	if user == nil || presented == "" {
		return ErrCodeInvalid
	}

	presentedHash := hashCode(presented)

	return i.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		active, err := i.repo.OneTimeTokens().ActiveForTx(ctx, tx, user.ID, purpose)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return i.classifyMiss(ctx, tx, user, purpose, presentedHash)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up code")
		}

		if !codeHashesEqual(active.CodeHash, presentedHash) {
			return ErrCodeInvalid
		}

		if i.now().After(active.ExpiresAt) {
			return ErrCodeExpired
		}

		consumed, err := i.repo.OneTimeTokens().MarkConsumedTx(ctx, tx, active.ID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume code")
		}
		if !consumed {
			// Lost the race against a concurrent consume of the same code.
			return ErrCodeAlreadyConsumed
		}

		i.record(ctx, ActivityEventCodeConsumed, user, map[string]any{
			"purpose": purpose,
		})

		return nil
	})
}

// classifyMiss distinguishes a replayed code from a wrong one when no active
// token exists.
func (i *OneTimeTokenIssuer) classifyMiss(ctx context.Context, tx bun.IDB, user *User, purpose TokenPurpose, presentedHash string) error {
	latest, err := i.repo.OneTimeTokens().LatestForTx(ctx, tx, user.ID, purpose)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrCodeInvalid
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up code")
	}

	if latest.Consumed && codeHashesEqual(latest.CodeHash, presentedHash) {
		return ErrCodeAlreadyConsumed
	}

	return ErrCodeInvalid
}

func (i *OneTimeTokenIssuer) ttl(purpose TokenPurpose) time.Duration {
	if ttl, ok := i.ttls[purpose]; ok {
		return ttl
	}
	return DefaultShortCodeTTL
}

func (i *OneTimeTokenIssuer) record(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:     user.ID.String(),
		Metadata:   metadata,
		OccurredAt: i.now(),
	}
	if err := i.sink.Record(ctx, event); err != nil {
		i.logger.Warn("activity sink record error: %v", err)
	}
}

// generateCode produces a short numeric code for SMS/authenticator purposes
// and a long URL-safe code for link-based flows.
func generateCode(purpose TokenPurpose) (string, error) {
	switch channelFor(purpose) {
	case ChannelSMS, ChannelNone:
		return randomDigits(shortCodeDigits)
	default:
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			return "", err
		}
		return base64.RawURLEncoding.EncodeToString(raw), nil
	}
}

func randomDigits(n int) (string, error) {
	max := big.NewInt(10)
	digits := make([]byte, n)
	for idx := range digits {
		d, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		digits[idx] = byte('0' + d.Int64())
	}
	return string(digits), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// codeHashesEqual compares digests in constant time to avoid timing side
// channels on the presented value.
func codeHashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
