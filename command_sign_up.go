package identity

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type SignUpMessage struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	UseHashid  bool
	OnResponse func(user *User)
}

func (e SignUpMessage) Type() string { return "user.sign_up" }

// Validate will run validation rules
func (e SignUpMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(
			&e.Email,
			validation.Required,
			validation.Length(6, 100),
			is.Email,
		),
		validation.Field(&e.Password, validation.Required, validation.Length(10, 100)),
	)
}

// SignUpHandler creates a user with an initial security stamp and kicks off
// email confirmation when an issuer is wired.
type SignUpHandler struct {
	repo   RepositoryManager
	otp    *OneTimeTokenIssuer
	logger Logger
}

func NewSignUpHandler(repo RepositoryManager) *SignUpHandler {
	return &SignUpHandler{
		repo:   repo,
		logger: defLogger{},
	}
}

func (h *SignUpHandler) WithLogger(logger Logger) *SignUpHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithOneTimeIssuer enables the post-registration email confirmation code.
func (h *SignUpHandler) WithOneTimeIssuer(otp *OneTimeTokenIssuer) *SignUpHandler {
	h.otp = otp
	return h
}

func (h *SignUpHandler) Execute(ctx context.Context, event SignUpMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user sign up",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SignUpHandler) execute(ctx context.Context, event SignUpMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sign up payload")
	}

	user := &User{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user.PasswordHash = hash
		user.Email = event.Email
		user.Username = getUsername(event.Username, event.Email)

		if event.Phone != "" {
			normalized, ok := normalizePhone(event.Phone)
			if !ok {
				return goerrors.New("phone number is not a valid E.164 number", goerrors.CategoryValidation).
					WithMetadata(map[string]any{"phone": event.Phone})
			}
			user.Phone = normalized
		}

		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				user.ID = id
			}
		}

		if user, err = h.repo.Users().RegisterTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "user sign up transaction failed")
	}

	if h.otp != nil && user.Email != "" {
		if _, err := h.otp.Issue(ctx, user, PurposeEmailConfirm); err != nil {
			// The account exists; the user can re-request the code later.
			h.logger.Warn("failed to issue email confirmation code: %v", err)
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}
