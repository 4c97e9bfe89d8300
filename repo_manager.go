package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Sessions() Sessions
	OneTimeTokens() OneTimeTokens
	ExternalLogins() ExternalLogins
}

type mngr struct {
	db             *bun.DB
	users          Users
	sessions       Sessions
	oneTimeTokens  OneTimeTokens
	externalLogins ExternalLogins
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:             db,
		users:          NewUsersRepository(db),
		sessions:       NewSessionsRepository(db),
		oneTimeTokens:  NewOneTimeTokensRepository(db),
		externalLogins: NewExternalLoginsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	if m.oneTimeTokens == nil {
		return errors.New("repository oneTimeTokens should be initialized")
	}

	if m.externalLogins == nil {
		return errors.New("repository externalLogins should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Sessions() Sessions {
	return m.sessions
}

func (m mngr) OneTimeTokens() OneTimeTokens {
	return m.oneTimeTokens
}

func (m mngr) ExternalLogins() ExternalLogins {
	return m.externalLogins
}
