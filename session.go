package identity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

// SessionObject is the decoded snapshot of a validated access token.
type SessionObject struct {
	UserID         string         `json:"user_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Audience       []string       `json:"audience,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Stamp          string         `json:"-"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

func (s *SessionObject) GetSessionID() string {
	return s.SessionID
}

func (s *SessionObject) GetAudience() []string {
	return s.Audience
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetSecurityStamp() string {
	return s.Stamp
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

// IsRestricted reports whether the session was issued under the
// AllowUnconfirmed policy and carries the restricted scope.
func (s *SessionObject) IsRestricted() bool {
	if s.Data == nil {
		return false
	}
	restricted, ok := s.Data["restricted"].(bool)
	return ok && restricted
}

func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"user=%s sid=%s aud=%v iss=%s iat=%s",
		s.UserID,
		s.SessionID,
		s.Audience,
		s.Issuer,
		issuedAt,
	)
}

// sessionFromClaims creates a SessionObject from verified token claims.
func sessionFromClaims(claims *TokenClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToDecodeSession
	}

	data := make(map[string]any)
	if len(claims.Scopes) > 0 {
		data["scopes"] = append([]string(nil), claims.Scopes...)
	}
	if claims.HasScope(ScopeRestricted) {
		data["restricted"] = true
	}

	issuedAt := claims.IssuedAt()
	expiresAt := claims.Expires()

	return &SessionObject{
		UserID:         claims.UserID(),
		SessionID:      claims.SessionID,
		Audience:       append([]string(nil), claims.RegisteredClaims.Audience...),
		Issuer:         claims.RegisteredClaims.Issuer,
		Stamp:          claims.Stamp,
		Data:           data,
		IssuedAt:       &issuedAt,
		ExpirationDate: &expiresAt,
	}, nil
}
