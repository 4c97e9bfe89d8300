package tokenware_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-identity/middleware/tokenware"
	"github.com/stretchr/testify/assert"
)

type stubValidator struct{}

func (stubValidator) Validate(ctx context.Context, token string) (tokenware.AuthSession, error) {
	return nil, nil
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := tokenware.GetDefaultConfig(tokenware.Config{
		TokenValidator: stubValidator{},
	})

	assert.Equal(t, "user", cfg.ContextKey)
	assert.Equal(t, "Bearer", cfg.AuthScheme)
	assert.NotEmpty(t, cfg.TokenLookup)
	assert.NotNil(t, cfg.SuccessHandler)
	assert.NotNil(t, cfg.ErrorHandler)
}

func TestGetDefaultConfigKeepsOverrides(t *testing.T) {
	cfg := tokenware.GetDefaultConfig(tokenware.Config{
		TokenValidator: stubValidator{},
		ContextKey:     "session",
		AuthScheme:     "Token",
		TokenLookup:    "cookie:access",
	})

	assert.Equal(t, "session", cfg.ContextKey)
	assert.Equal(t, "Token", cfg.AuthScheme)
	assert.Equal(t, "cookie:access", cfg.TokenLookup)
}

func TestGetDefaultConfigRequiresValidator(t *testing.T) {
	assert.Panics(t, func() {
		tokenware.GetDefaultConfig(tokenware.Config{})
	})
}

type stubSession struct {
	data map[string]any
}

func (s stubSession) GetUserID() string       { return "user-1" }
func (s stubSession) GetSessionID() string    { return "session-1" }
func (s stubSession) GetData() map[string]any { return s.data }

func TestCheckScope(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		required string
		allowed  bool
	}{
		{"no requirement", map[string]any{"scopes": []string{"restricted"}}, "", true},
		{"full session passes", nil, "admin", true},
		{"empty data passes", map[string]any{}, "admin", true},
		{"restricted session rejected", map[string]any{"scopes": []string{"restricted"}, "restricted": true}, "admin", false},
		{"scoped session with matching scope", map[string]any{"scopes": []string{"restricted"}}, "restricted", true},
		{"scoped session missing scope", map[string]any{"scopes": []string{"billing"}}, "admin", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tokenware.CheckScope(stubSession{data: tt.data}, tt.required)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestGetExtractors(t *testing.T) {
	tests := []struct {
		name   string
		lookup string
		count  int
	}{
		{"header only", "header:Authorization", 1},
		{"header and cookie", "header:Authorization,cookie:jwt", 2},
		{"all sources", "header:Authorization,cookie:jwt,query:access_token,param:token", 4},
		{"unknown source skipped", "header:Authorization,body:token", 1},
		{"spaces tolerated", "header: Authorization , cookie: jwt", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractors := tokenware.GetExtractors(tt.lookup)
			assert.Len(t, extractors, tt.count)
		})
	}
}
