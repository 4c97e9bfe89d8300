package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the root identity record. Sessions, one-time tokens, and external
// logins are owned by and scoped to a user.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username       string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email          string     `bun:"email,unique,nullzero" json:"email,omitempty"`
	Phone          string     `bun:"phone_number,unique,nullzero" json:"phone_number,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"-"`
	EmailConfirmed bool       `bun:"is_email_confirmed" json:"is_email_confirmed,omitempty"`
	PhoneConfirmed bool       `bun:"is_phone_confirmed" json:"is_phone_confirmed,omitempty"`
	TwoFactor      bool       `bun:"is_two_factor_enabled" json:"is_two_factor_enabled,omitempty"`
	Stamp          string     `bun:"security_stamp,notnull" json:"-"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Identity adapts the user record to the Identity interface so it can be
// handed to the token layer directly.
func (u *User) Identity() Identity { return identityView{user: u} }

// RotateStamp replaces the security stamp, implicitly invalidating every
// outstanding bearer token for the user.
func (u *User) RotateStamp() *User {
	u.Stamp = uuid.NewString()
	return u
}

// identityView adapts a *User to the Identity interface without colliding
// with the model's field names.
type identityView struct{ user *User }

func (v identityView) ID() string            { return v.user.ID.String() }
func (v identityView) Username() string      { return v.user.Username }
func (v identityView) Email() string         { return v.user.Email }
func (v identityView) SecurityStamp() string { return v.user.Stamp }

// SessionRecord is the persisted refresh-token chain for one device/client.
// Generation is a monotonically increasing rotation counter: a refresh must
// consume the presented generation and mint a strictly greater one.
type SessionRecord struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Generation    int64      `bun:"generation,notnull,default:0" json:"generation"`
	Revoked       bool       `bun:"is_revoked,notnull,default:false" json:"is_revoked,omitempty"`
	IssuedAt      time.Time  `bun:"issued_at,notnull" json:"issued_at,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// TokenPurpose tags a one-time token with the flow it authorizes.
type TokenPurpose = string

const (
	PurposeEmailConfirm  TokenPurpose = "email-confirm"
	PurposePhoneConfirm  TokenPurpose = "phone-confirm"
	PurposePasswordReset TokenPurpose = "password-reset"
	PurposeTwoFactor     TokenPurpose = "two-factor"
	PurposeOTP           TokenPurpose = "otp"
)

// OneTimeToken is a single-use confirmation code. At most one unconsumed
// token per (user, purpose) is active; issuing a new one supersedes the
// prior. Expiry is enforced lazily at consumption time.
type OneTimeToken struct {
	bun.BaseModel `bun:"table:one_time_tokens,alias:ott"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Purpose       string     `bun:"purpose,notnull" json:"purpose,omitempty"`
	CodeHash      string     `bun:"code_hash,notnull" json:"-"`
	Consumed      bool       `bun:"is_consumed,notnull,default:false" json:"is_consumed,omitempty"`
	Superseded    bool       `bun:"is_superseded,notnull,default:false" json:"is_superseded,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	ConsumedAt    *time.Time `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
}

// Active reports whether the token can still be consumed at the given time.
func (t *OneTimeToken) Active(now time.Time) bool {
	return t != nil && !t.Consumed && !t.Superseded && now.Before(t.ExpiresAt)
}

// ExternalLogin links a federated provider subject to a local user. The
// (provider, subject) pair is unique and maps to exactly one local user.
type ExternalLogin struct {
	bun.BaseModel `bun:"table:external_logins,alias:extl"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Provider      string     `bun:"provider,notnull,unique:provider_subject" json:"provider,omitempty"`
	Subject       string     `bun:"provider_subject,notnull,unique:provider_subject" json:"provider_subject,omitempty"`
	Email         string     `bun:"email" json:"email,omitempty"`
	DisplayName   string     `bun:"display_name" json:"display_name,omitempty"`
	AvatarURL     string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}
