package federation

import "github.com/goliatone/go-errors"

const (
	TextCodeProviderNotFound  = "federation_provider_not_found"
	TextCodeInvalidState      = "federation_invalid_state"
	TextCodeStateExpired      = "federation_state_expired"
	TextCodeTokenExchangeFail = "federation_token_exchange_failed"
	TextCodeProfileFail       = "federation_profile_failed"
	TextCodeEmailNotVerified  = "federation_email_not_verified"
	TextCodeLinkConflict      = "federation_link_conflict"
	TextCodeSignupDisabled    = "federation_signup_disabled"
	TextCodeLinkingDisabled   = "federation_linking_disabled"
	TextCodeLastAuthMethod    = "federation_last_auth_method"
)

// ErrProviderNotFound is returned when a requested provider is not configured.
var ErrProviderNotFound = errors.New("identity provider not found", errors.CategoryNotFound).
	WithTextCode(TextCodeProviderNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidState is returned when the OAuth state is invalid or tampered.
var ErrInvalidState = errors.New("invalid oauth state", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(errors.CodeBadRequest)

// ErrStateExpired is returned when the OAuth state has expired.
var ErrStateExpired = errors.New("oauth state expired", errors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(errors.CodeBadRequest)

// ErrTokenExchangeFailed is returned when a provider token exchange fails.
var ErrTokenExchangeFailed = errors.New("token exchange failed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExchangeFail).
	WithCode(errors.CodeUnauthorized)

// ErrProfileFailed is returned when fetching the provider profile fails.
var ErrProfileFailed = errors.New("failed to fetch provider profile", errors.CategoryAuth).
	WithTextCode(TextCodeProfileFail).
	WithCode(errors.CodeUnauthorized)

// ErrEmailNotVerified is returned when a provider email is not verified.
var ErrEmailNotVerified = errors.New("email not verified", errors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified).
	WithCode(errors.CodeForbidden)

// ErrLinkConflict is returned when a profile's email matches a local account
// that cannot be silently linked. The link needs explicit user confirmation.
var ErrLinkConflict = errors.New("account link requires confirmation", errors.CategoryConflict).
	WithTextCode(TextCodeLinkConflict).
	WithCode(errors.CodeConflict)

// ErrSignupNotAllowed is returned when signup is disabled.
var ErrSignupNotAllowed = errors.New("signup not allowed", errors.CategoryAuth).
	WithTextCode(TextCodeSignupDisabled).
	WithCode(errors.CodeForbidden)

// ErrLinkingNotAllowed is returned when account linking is disabled.
var ErrLinkingNotAllowed = errors.New("linking not allowed", errors.CategoryAuth).
	WithTextCode(TextCodeLinkingDisabled).
	WithCode(errors.CodeForbidden)

// ErrLastAuthMethod is returned when unlinking would remove the last auth method.
var ErrLastAuthMethod = errors.New("cannot unlink last authentication method", errors.CategoryValidation).
	WithTextCode(TextCodeLastAuthMethod).
	WithCode(errors.CodeBadRequest)
