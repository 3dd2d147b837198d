package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories plus the shared
// transactional boundary.
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Users() Users
	EmailLogs() EmailLogs
}

type mngr struct {
	db        *bun.DB
	users     Users
	emailLogs EmailLogs
}

// NewRepositoryManager wires the bun-backed repositories.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:        db,
		users:     NewUsersRepository(db),
		emailLogs: NewEmailLogsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.emailLogs == nil {
		return errors.New("repository emailLogs should be initialized")
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

func (m mngr) EmailLogs() EmailLogs {
	return m.emailLogs
}
