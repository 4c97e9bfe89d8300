package identity

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// Channel selects the outbound transport for a one-time code.
type Channel = string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	// ChannelNone covers authenticator-app style codes that are displayed or
	// derived on-device and never sent.
	ChannelNone Channel = "none"
)

// Sender is the outbound delivery collaborator (SMTP, Twilio, push, ...).
// Implementations own their transport timeout; errors must be returned, not
// swallowed, since the user has no other path to the code.
type Sender interface {
	Send(ctx context.Context, channel Channel, destination, code string, purpose TokenPurpose) error
}

// SenderFunc adapts a function into a Sender.
type SenderFunc func(ctx context.Context, channel Channel, destination, code string, purpose TokenPurpose) error

// Send satisfies the Sender interface.
func (f SenderFunc) Send(ctx context.Context, channel Channel, destination, code string, purpose TokenPurpose) error {
	if f == nil {
		return nil
	}
	return f(ctx, channel, destination, code, purpose)
}

// channelFor maps a purpose to its delivery channel.
func channelFor(purpose TokenPurpose) Channel {
	switch purpose {
	case PurposeEmailConfirm, PurposePasswordReset:
		return ChannelEmail
	case PurposePhoneConfirm, PurposeTwoFactor, PurposeOTP:
		return ChannelSMS
	default:
		return ChannelNone
	}
}

// destinationFor picks the user's contact point for the channel. Phone
// numbers are normalized to E.164 before they reach the transport.
func destinationFor(user *User, channel Channel) (string, error) {
	switch channel {
	case ChannelEmail:
		if user.Email == "" {
			return "", errors.New("user has no email address", errors.CategoryBadInput)
		}
		return user.Email, nil
	case ChannelSMS:
		if user.Phone == "" {
			return "", errors.New("user has no phone number", errors.CategoryBadInput)
		}
		num, err := phonenumbers.Parse(user.Phone, "")
		if err != nil {
			return "", errors.Wrap(err, errors.CategoryBadInput, "user phone number does not parse")
		}
		return phonenumbers.Format(num, phonenumbers.E164), nil
	default:
		return "", nil
	}
}

// devSender logs deliveries instead of sending them. Useful for local
// development, mirrors writing emails to a pickup directory.
type devSender struct {
	logger Logger
}

// NewDevSender returns a Sender that logs code metadata without the code
// value itself.
func NewDevSender(logger Logger) Sender {
	if logger == nil {
		logger = defLogger{}
	}
	return &devSender{logger: logger}
}

func (s *devSender) Send(_ context.Context, channel Channel, destination, code string, purpose TokenPurpose) error {
	s.logger.Info("delivering %s code via %s to %s (%d chars)", purpose, channel, destination, len(code))
	return nil
}
