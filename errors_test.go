package identity_test

import (
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
)

func TestIsTokenExpiredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Structured token expired error",
			err:      identity.ErrTokenExpired,
			expected: true,
		},
		{
			name:     "Legacy token expired error (string match)",
			err:      errors.New("some wrapper: token is expired"),
			expected: true,
		},
		{
			name:     "Different structured error",
			err:      identity.ErrIdentityNotFound,
			expected: false,
		},
		{
			name:     "Different legacy error",
			err:      errors.New("invalid token"),
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := identity.IsTokenExpiredError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestIsMalformedError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Structured malformed error",
			err:      identity.ErrTokenMalformed,
			expected: true,
		},
		{
			name:     "Legacy malformed error (string match)",
			err:      errors.New("token is malformed"),
			expected: true,
		},
		{
			name:     "Legacy missing JWT error (string match)",
			err:      errors.New("missing or malformed JWT"),
			expected: true,
		},
		{
			name:     "Different legacy error",
			err:      errors.New("invalid token"),
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := identity.IsMalformedError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestIsReplayError(t *testing.T) {
	assert.True(t, identity.IsReplayError(identity.ErrGenerationReplay))
	assert.False(t, identity.IsReplayError(identity.ErrSessionRevoked))
	assert.False(t, identity.IsReplayError(nil))
}

func TestStructuredErrorProperties(t *testing.T) {
	t.Run("ErrIdentityNotFound", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryNotFound, identity.ErrIdentityNotFound.Category)
		assert.Equal(t, "identity not found", identity.ErrIdentityNotFound.Message)
	})

	t.Run("ErrTokenExpired", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, identity.ErrTokenExpired.Category)
		assert.Equal(t, identity.TextCodeTokenExpired, identity.ErrTokenExpired.TextCode)
	})

	t.Run("ErrStaleCredentials", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, identity.ErrStaleCredentials.Category)
		assert.Equal(t, identity.TextCodeStaleCredentials, identity.ErrStaleCredentials.TextCode)
	})

	t.Run("ErrGenerationReplay", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, identity.ErrGenerationReplay.Category)
		assert.Equal(t, identity.TextCodeGenerationReplay, identity.ErrGenerationReplay.TextCode)
	})

	t.Run("ErrCodeAlreadyConsumed", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryConflict, identity.ErrCodeAlreadyConsumed.Category)
		assert.Equal(t, identity.TextCodeCodeConsumed, identity.ErrCodeAlreadyConsumed.TextCode)
	})

	t.Run("ErrDeliveryFailed", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryOperation, identity.ErrDeliveryFailed.Category)
		assert.Equal(t, identity.TextCodeDeliveryFailed, identity.ErrDeliveryFailed.TextCode)
	})

	t.Run("ErrAccountUnconfirmed", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, identity.ErrAccountUnconfirmed.Category)
		assert.Equal(t, identity.TextCodeUnconfirmed, identity.ErrAccountUnconfirmed.TextCode)
	})

	t.Run("ErrTwoFactorRequired", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, identity.ErrTwoFactorRequired.Category)
		assert.Equal(t, identity.TextCodeTwoFactorRequired, identity.ErrTwoFactorRequired.TextCode)
	})
}
