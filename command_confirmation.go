package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type RequestConfirmationMessage struct {
	Identifier string       `json:"identifier"`
	Purpose    TokenPurpose `json:"purpose"`
}

func (e RequestConfirmationMessage) Type() string { return "user.confirmation_request" }

// Validate will run validation rules
func (e RequestConfirmationMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Identifier, validation.Required),
		validation.Field(&e.Purpose, validation.Required, validation.In(
			PurposeEmailConfirm,
			PurposePhoneConfirm,
		)),
	)
}

// RequestConfirmationHandler issues a confirmation code for the user's email
// or phone. Re-requesting supersedes the previous code.
type RequestConfirmationHandler struct {
	repo   RepositoryManager
	otp    *OneTimeTokenIssuer
	logger Logger
}

func NewRequestConfirmationHandler(repo RepositoryManager, otp *OneTimeTokenIssuer) *RequestConfirmationHandler {
	return &RequestConfirmationHandler{
		repo:   repo,
		otp:    otp,
		logger: defLogger{},
	}
}

func (h *RequestConfirmationHandler) WithLogger(logger Logger) *RequestConfirmationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestConfirmationHandler) Execute(ctx context.Context, event RequestConfirmationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during confirmation request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestConfirmationHandler) execute(ctx context.Context, event RequestConfirmationMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid confirmation request payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByIdentifier(ctx, event.Identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrIdentityNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for confirmation")
	}

	_, err = h.otp.Issue(ctx, user, event.Purpose)
	return err
}

type ConfirmAccountMessage struct {
	Identifier string       `json:"identifier"`
	Purpose    TokenPurpose `json:"purpose"`
	Code       string       `json:"code"`
}

func (e ConfirmAccountMessage) Type() string { return "user.confirm_account" }

// Validate will validate the payload
func (e ConfirmAccountMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Identifier, validation.Required),
		validation.Field(&e.Purpose, validation.Required, validation.In(
			PurposeEmailConfirm,
			PurposePhoneConfirm,
		)),
		validation.Field(&e.Code, validation.Required),
	)
}

// ConfirmAccountHandler consumes a confirmation code and flips the matching
// confirmation flag. The flag only moves forward; a contact change is what
// resets it.
type ConfirmAccountHandler struct {
	repo     RepositoryManager
	otp      *OneTimeTokenIssuer
	notifier Notifier
	logger   Logger
}

func NewConfirmAccountHandler(repo RepositoryManager, otp *OneTimeTokenIssuer) *ConfirmAccountHandler {
	return &ConfirmAccountHandler{
		repo:     repo,
		otp:      otp,
		notifier: noopNotifier{},
		logger:   defLogger{},
	}
}

func (h *ConfirmAccountHandler) WithNotifier(notifier Notifier) *ConfirmAccountHandler {
	h.notifier = normalizeNotifier(notifier)
	return h
}

func (h *ConfirmAccountHandler) WithLogger(logger Logger) *ConfirmAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ConfirmAccountHandler) Execute(ctx context.Context, event ConfirmAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmAccountHandler) execute(ctx context.Context, event ConfirmAccountMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid confirmation payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByIdentifier(ctx, event.Identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrIdentityNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for confirmation")
	}

	if err := h.otp.Consume(ctx, user, event.Purpose, event.Code); err != nil {
		return err
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		switch event.Purpose {
		case PurposeEmailConfirm:
			return h.repo.Users().SetEmailConfirmedTx(ctx, tx, user.ID)
		case PurposePhoneConfirm:
			return h.repo.Users().SetPhoneConfirmedTx(ctx, tx, user.ID)
		default:
			return goerrors.New("unknown confirmation purpose", goerrors.CategoryBadInput).
				WithMetadata(map[string]any{"purpose": event.Purpose})
		}
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist confirmation")
	}

	h.notifier.NotifyUserUpdated(user.ID.String(), map[string]any{
		"reason":  "confirmation",
		"purpose": event.Purpose,
	})

	return nil
}
