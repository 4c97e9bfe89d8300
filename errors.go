package identity

import (
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeTokenMalformed    = "TOKEN_MALFORMED"
	TextCodeStaleCredentials  = "STALE_CREDENTIALS"
	TextCodeSessionRevoked    = "SESSION_REVOKED"
	TextCodeGenerationReplay  = "GENERATION_REPLAY"
	TextCodeWrongTokenType    = "WRONG_TOKEN_TYPE"
	TextCodeCodeConsumed      = "CODE_ALREADY_CONSUMED"
	TextCodeCodeInvalid       = "CODE_INVALID"
	TextCodeCodeExpired       = "CODE_EXPIRED"
	TextCodeDeliveryFailed    = "DELIVERY_FAILED"
	TextCodeLinkConflict      = "ACCOUNT_LINK_CONFLICT"
	TextCodeTwoFactorRequired = "TWO_FACTOR_REQUIRED"
	TextCodeUnconfirmed       = "ACCOUNT_UNCONFIRMED"
	TextCodeLockedOut         = "ACCOUNT_LOCKED_OUT"
)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode("IDENTITY_NOT_FOUND").
	WithCode(errors.CodeNotFound)

// ErrTokenExpired is returned when a token's expiry is in the past. Expiry is
// exact, there is no clock-skew allowance.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned when a token cannot be parsed, its signature
// does not verify, or issuer/audience do not match.
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrStaleCredentials is returned when a token's embedded security stamp no
// longer matches the user's current stamp. The client must re-authenticate.
var ErrStaleCredentials = errors.New("credentials changed since token issuance", errors.CategoryAuth).
	WithTextCode(TextCodeStaleCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrSessionRevoked is returned for any operation against a revoked session.
// Terminal for that session.
var ErrSessionRevoked = errors.New("session has been revoked", errors.CategoryAuth).
	WithTextCode(TextCodeSessionRevoked).
	WithCode(errors.CodeUnauthorized)

// ErrGenerationReplay is returned when a refresh token presents a generation
// that was already consumed. The whole session is revoked as a side effect.
var ErrGenerationReplay = errors.New("refresh token generation already used", errors.CategoryAuth).
	WithTextCode(TextCodeGenerationReplay).
	WithCode(errors.CodeUnauthorized)

// ErrWrongTokenType is returned when an access token is presented to Refresh
// or a refresh token is presented to ValidateAccess.
var ErrWrongTokenType = errors.New("unexpected token type", errors.CategoryAuth).
	WithTextCode(TextCodeWrongTokenType).
	WithCode(errors.CodeUnauthorized)

// ErrCodeAlreadyConsumed is returned when a one-time code is presented twice.
var ErrCodeAlreadyConsumed = errors.New("code already consumed", errors.CategoryConflict).
	WithTextCode(TextCodeCodeConsumed).
	WithCode(errors.CodeConflict)

// ErrCodeInvalid is returned for unknown or mismatched codes. It does not
// reveal which portion of the lookup failed.
var ErrCodeInvalid = errors.New("invalid code", errors.CategoryBadInput).
	WithTextCode(TextCodeCodeInvalid).
	WithCode(errors.CodeBadRequest)

// ErrCodeExpired is returned when a one-time code is past its expiry window.
var ErrCodeExpired = errors.New("code is expired", errors.CategoryBadInput).
	WithTextCode(TextCodeCodeExpired).
	WithCode(errors.CodeBadRequest)

// ErrDeliveryFailed is returned when the email/SMS transport fails. Retryable
// by the caller; never silently dropped since the user has no other path to
// the code.
var ErrDeliveryFailed = errors.New("code delivery failed", errors.CategoryOperation).
	WithTextCode(TextCodeDeliveryFailed).
	WithCode(errors.CodeInternal)

// ErrAccountLinkConflict is returned when a federated identity resolves to a
// local account that cannot be silently linked. Requires explicit user
// confirmation, never auto-resolved.
var ErrAccountLinkConflict = errors.New("account link requires confirmation", errors.CategoryConflict).
	WithTextCode(TextCodeLinkConflict).
	WithCode(errors.CodeConflict)

// ErrTwoFactorRequired is returned by SignIn when the user has two-factor
// enabled; a code has been issued and CompleteTwoFactor must follow.
var ErrTwoFactorRequired = errors.New("two-factor code required", errors.CategoryAuth).
	WithTextCode(TextCodeTwoFactorRequired).
	WithCode(errors.CodeUnauthorized)

// ErrAccountUnconfirmed is returned when the confirmation policy refuses a
// full session for an unconfirmed account.
var ErrAccountUnconfirmed = errors.New("account is not confirmed", errors.CategoryAuth).
	WithTextCode(TextCodeUnconfirmed).
	WithCode(errors.CodeForbidden)

// ErrAccountLockedOut is returned while the login-attempt cool-down is active.
var ErrAccountLockedOut = errors.New("account is locked out", errors.CategoryAuth).
	WithTextCode(TextCodeLockedOut).
	WithCode(errors.CodeUnauthorized)

// ErrMismatchedHashAndPassword is returned on credential mismatch.
var ErrMismatchedHashAndPassword = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS").
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString is returned when a required string input is empty.
var ErrNoEmptyString = errors.New("value must not be empty", errors.CategoryBadInput).
	WithTextCode("EMPTY_VALUE").
	WithCode(errors.CodeBadRequest)

// ErrUnableToFindSession is the error when our request has no token
var ErrUnableToFindSession = errors.New("unable to find session", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToDecodeSession unable to decode JWT claims into a session
var ErrUnableToDecodeSession = errors.New("unable to decode session", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsReplayError reports whether the error indicates refresh-token reuse.
func IsReplayError(err error) bool {
	return err != nil && errors.Is(err, ErrGenerationReplay)
}
