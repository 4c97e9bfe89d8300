package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ExternalLogins interface {
	repository.Repository[*ExternalLogin]

	FindByProvider(ctx context.Context, provider, subject string) (*ExternalLogin, error)
	FindByProviderTx(ctx context.Context, tx bun.IDB, provider, subject string) (*ExternalLogin, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*ExternalLogin, error)

	// RemoveTx deletes one provider link for a user.
	RemoveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, provider string) (bool, error)
}

type externalLogins struct {
	repository.Repository[*ExternalLogin]
	db *bun.DB
}

var (
	_ ExternalLogins                        = (*externalLogins)(nil)
	_ repository.Repository[*ExternalLogin] = (*externalLogins)(nil)
)

func NewExternalLoginsRepository(db *bun.DB) ExternalLogins {
	repo := repository.NewRepository[*ExternalLogin](db, repository.ModelHandlers[*ExternalLogin]{
		NewRecord: func() *ExternalLogin { return &ExternalLogin{} },
		GetID: func(l *ExternalLogin) uuid.UUID {
			if l == nil {
				return uuid.Nil
			}
			return l.ID
		},
		SetID: func(l *ExternalLogin, id uuid.UUID) {
			if l != nil {
				l.ID = id
			}
		},
	})

	return &externalLogins{
		Repository: repo,
		db:         db,
	}
}

func (r *externalLogins) FindByProvider(ctx context.Context, provider, subject string) (*ExternalLogin, error) {
	return r.FindByProviderTx(ctx, r.db, provider, subject)
}

func (r *externalLogins) FindByProviderTx(ctx context.Context, tx bun.IDB, provider, subject string) (*ExternalLogin, error) {
	record := &ExternalLogin{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.provider_subject = ?", subject).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *externalLogins) RemoveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, provider string) (bool, error) {
	res, err := tx.NewDelete().
		Model((*ExternalLogin)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.provider = ?", provider).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *externalLogins) ListForUser(ctx context.Context, userID uuid.UUID) ([]*ExternalLogin, error) {
	var records []*ExternalLogin
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
