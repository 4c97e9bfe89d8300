package identity

// ConfirmationPolicy decides how much of a session an unconfirmed account
// gets. The policy boundary lives here; the value is external configuration.
type ConfirmationPolicy string

const (
	// PolicyRequireAny requires at least one confirmed contact channel
	// (email or phone) before a full session is issued.
	PolicyRequireAny ConfirmationPolicy = "require-any"
	// PolicyRequireEmail requires a confirmed email address.
	PolicyRequireEmail ConfirmationPolicy = "require-email"
	// PolicyRequirePhone requires a confirmed phone number.
	PolicyRequirePhone ConfirmationPolicy = "require-phone"
	// PolicyAllowUnconfirmed issues a restricted session to unconfirmed
	// accounts instead of refusing sign-in.
	PolicyAllowUnconfirmed ConfirmationPolicy = "allow-unconfirmed"
)

// ScopeRestricted marks tokens issued to unconfirmed accounts under
// PolicyAllowUnconfirmed.
const ScopeRestricted = "restricted"

// ConfirmationState is a snapshot of the two per-user confirmation flags.
// Each flag moves Unconfirmed -> Confirmed one way; a contact-info change
// resets its flag back through ResetEmailConfirmation/ResetPhoneConfirmation.
type ConfirmationState struct {
	EmailConfirmed bool
	PhoneConfirmed bool
}

// StateOf reads the confirmation snapshot from a user record.
func StateOf(user *User) ConfirmationState {
	if user == nil {
		return ConfirmationState{}
	}
	return ConfirmationState{
		EmailConfirmed: user.EmailConfirmed,
		PhoneConfirmed: user.PhoneConfirmed,
	}
}

// Satisfies reports whether the snapshot meets the policy's bar for a full
// session. PolicyAllowUnconfirmed always passes; the restriction shows up in
// the issued token's scopes instead.
func (s ConfirmationState) Satisfies(policy ConfirmationPolicy) bool {
	switch policy {
	case PolicyRequireEmail:
		return s.EmailConfirmed
	case PolicyRequirePhone:
		return s.PhoneConfirmed
	case PolicyAllowUnconfirmed:
		return true
	default:
		// PolicyRequireAny and unknown values fall back to the original
		// behavior: email OR phone.
		return s.EmailConfirmed || s.PhoneConfirmed
	}
}

// Confirmed reports whether either channel has been verified.
func (s ConfirmationState) Confirmed() bool {
	return s.EmailConfirmed || s.PhoneConfirmed
}

// ConfirmEmail flips the email flag on the record. One-way; only a contact
// change resets it.
func ConfirmEmail(user *User) {
	if user != nil {
		user.EmailConfirmed = true
	}
}

// ConfirmPhone flips the phone flag on the record.
func ConfirmPhone(user *User) {
	if user != nil {
		user.PhoneConfirmed = true
	}
}

// ResetEmailConfirmation clears the email flag after an email change and
// rotates the security stamp so outstanding tokens die with the old address.
func ResetEmailConfirmation(user *User, newEmail string) {
	if user == nil {
		return
	}
	user.Email = newEmail
	user.EmailConfirmed = false
	user.RotateStamp()
}

// ResetPhoneConfirmation clears the phone flag after a phone change and
// rotates the security stamp.
func ResetPhoneConfirmation(user *User, newPhone string) {
	if user == nil {
		return
	}
	user.Phone = newPhone
	user.PhoneConfirmed = false
	user.RotateStamp()
}
