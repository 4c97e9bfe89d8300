package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Sessions interface {
	repository.Repository[*SessionRecord]

	Start(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*SessionRecord, error)
	StartTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, ttl time.Duration) (*SessionRecord, error)

	// ConsumeGeneration is the serialized read-modify-write at the heart of
	// refresh rotation: it advances the stored generation only when the
	// presented value still matches and the session is not revoked. Exactly
	// one of two concurrent refreshes can win.
	ConsumeGeneration(ctx context.Context, id uuid.UUID, presented int64) (bool, error)
	ConsumeGenerationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, presented int64) (bool, error)

	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

type sessions struct {
	repository.Repository[*SessionRecord]
	db *bun.DB
}

var (
	_ Sessions                              = (*sessions)(nil)
	_ repository.Repository[*SessionRecord] = (*sessions)(nil)
)

func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*SessionRecord](db, repository.ModelHandlers[*SessionRecord]{
		NewRecord: func() *SessionRecord { return &SessionRecord{} },
		GetID: func(s *SessionRecord) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *SessionRecord, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})

	return &sessions{
		Repository: repo,
		db:         db,
	}
}

func (r *sessions) Start(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*SessionRecord, error) {
	return r.StartTx(ctx, r.db, userID, ttl)
}

func (r *sessions) StartTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, ttl time.Duration) (*SessionRecord, error) {
	now := time.Now()
	record := &SessionRecord{
		ID:         uuid.New(),
		UserID:     userID,
		Generation: 0,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
	return r.Repository.CreateTx(ctx, tx, record)
}

func (r *sessions) ConsumeGeneration(ctx context.Context, id uuid.UUID, presented int64) (bool, error) {
	return r.ConsumeGenerationTx(ctx, r.db, id, presented)
}

func (r *sessions) ConsumeGenerationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, presented int64) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*SessionRecord)(nil)).
		Set("generation = generation + 1").
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.is_revoked = ?", false).
		Where("?TableAlias.generation = ?", presented).
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

func (r *sessions) Revoke(ctx context.Context, id uuid.UUID) error {
	return r.RevokeTx(ctx, r.db, id)
}

func (r *sessions) RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*SessionRecord)(nil)).
		Set("is_revoked = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

func (r *sessions) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*SessionRecord)(nil)).
		Set("is_revoked = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.is_revoked = ?", false).
		Exec(ctx)
	return err
}
