package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type OneTimeTokens interface {
	repository.Repository[*OneTimeToken]

	// ActiveFor returns the single unconsumed, unsuperseded token for
	// (user, purpose). Expiry is not checked here; consumption enforces it
	// lazily.
	ActiveFor(ctx context.Context, userID uuid.UUID, purpose TokenPurpose) (*OneTimeToken, error)
	ActiveForTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose) (*OneTimeToken, error)

	// LatestFor returns the most recent token for (user, purpose) regardless
	// of state, so consumption can tell a replayed code from a wrong one.
	LatestForTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose) (*OneTimeToken, error)

	// SupersedeActive invalidates any prior unconsumed token of the purpose,
	// enforcing the at-most-one-active invariant before a new issue.
	SupersedeActiveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose) error

	// MarkConsumed flips the consumed flag only if it is still unset, so two
	// concurrent consumes cannot both succeed.
	MarkConsumed(ctx context.Context, id uuid.UUID) (bool, error)
	MarkConsumedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
}

type oneTimeTokens struct {
	repository.Repository[*OneTimeToken]
	db *bun.DB
}

var (
	_ OneTimeTokens                        = (*oneTimeTokens)(nil)
	_ repository.Repository[*OneTimeToken] = (*oneTimeTokens)(nil)
)

func NewOneTimeTokensRepository(db *bun.DB) OneTimeTokens {
	repo := repository.NewRepository[*OneTimeToken](db, repository.ModelHandlers[*OneTimeToken]{
		NewRecord: func() *OneTimeToken { return &OneTimeToken{} },
		GetID: func(t *OneTimeToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *OneTimeToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
	})

	return &oneTimeTokens{
		Repository: repo,
		db:         db,
	}
}

func (r *oneTimeTokens) ActiveFor(ctx context.Context, userID uuid.UUID, purpose TokenPurpose) (*OneTimeToken, error) {
	return r.ActiveForTx(ctx, r.db, userID, purpose)
}

func (r *oneTimeTokens) ActiveForTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose) (*OneTimeToken, error) {
	record := &OneTimeToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.purpose = ?", purpose).
		Where("?TableAlias.is_consumed = ?", false).
		Where("?TableAlias.is_superseded = ?", false).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *oneTimeTokens) LatestForTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose) (*OneTimeToken, error) {
	record := &OneTimeToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.purpose = ?", purpose).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *oneTimeTokens) SupersedeActiveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose) error {
	_, err := tx.NewUpdate().
		Model((*OneTimeToken)(nil)).
		Set("is_superseded = ?", true).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.purpose = ?", purpose).
		Where("?TableAlias.is_consumed = ?", false).
		Where("?TableAlias.is_superseded = ?", false).
		Exec(ctx)
	return err
}

func (r *oneTimeTokens) MarkConsumed(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.MarkConsumedTx(ctx, r.db, id)
}

func (r *oneTimeTokens) MarkConsumedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*OneTimeToken)(nil)).
		Set("is_consumed = ?", true).
		Set("consumed_at = ?", time.Now()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.is_consumed = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}
