package identity

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var setUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

var setUserActivationSQL = `UPDATE "users" AS "usr"
SET
	"is_email_activated" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

var setUserEmailSQL = `UPDATE "users" AS "usr"
SET
	"email" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

var setUserResetTokenSQL = `UPDATE "users" AS "usr"
SET
	"password_reset_token" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

// Users is the credential store. It intentionally exposes a narrow,
// domain-shaped surface instead of the generic repository so workflows
// can be exercised against an in-memory double.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)

	Create(ctx context.Context, record *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)

	SetActivation(ctx context.Context, id uuid.UUID, activated bool) error
	SetActivationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, activated bool) error

	UpdateEmail(ctx context.Context, id uuid.UUID, email string) error
	UpdateEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email string) error

	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdatePasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	StoreResetToken(ctx context.Context, id uuid.UUID, token string) error
	StoreResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error
	ClearResetToken(ctx context.Context, id uuid.UUID) error
	ClearResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var _ Users = (*users)(nil)

// NewUsersRepository builds the bun-backed credential store.
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	return a.getByColumnTx(ctx, tx, "id", id.String())
}

func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	return a.getByColumnTx(ctx, a.db, "username", strings.TrimSpace(username))
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.getByColumnTx(ctx, a.db, "email", strings.TrimSpace(email))
}

func (a *users) getByColumnTx(ctx context.Context, tx bun.IDB, column, value string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias."+column+" = ?", value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{column: value})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *users) SetActivation(ctx context.Context, id uuid.UUID, activated bool) error {
	return a.SetActivationTx(ctx, a.db, id, activated)
}

func (a *users) SetActivationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, activated bool) error {
	return a.execTargetedUpdate(ctx, tx, setUserActivationSQL, activated, id)
}

func (a *users) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	return a.UpdateEmailTx(ctx, a.db, id, email)
}

func (a *users) UpdateEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email string) error {
	return a.execTargetedUpdate(ctx, tx, setUserEmailSQL, email, id)
}

func (a *users) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.UpdatePasswordHashTx(ctx, a.db, id, passwordHash)
}

func (a *users) UpdatePasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return a.execTargetedUpdate(ctx, tx, setUserPasswordSQL, passwordHash, id)
}

func (a *users) StoreResetToken(ctx context.Context, id uuid.UUID, token string) error {
	return a.StoreResetTokenTx(ctx, a.db, id, token)
}

func (a *users) StoreResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error {
	return a.execTargetedUpdate(ctx, tx, setUserResetTokenSQL, token, id)
}

func (a *users) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	return a.ClearResetTokenTx(ctx, a.db, id)
}

func (a *users) ClearResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return a.execTargetedUpdate(ctx, tx, setUserResetTokenSQL, nil, id)
}

func (a *users) execTargetedUpdate(ctx context.Context, tx bun.IDB, query string, value any, id uuid.UUID) error {
	res, err := a.Repository.RawTx(ctx, tx, query, value, time.Now(), id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.DateJoined == nil {
		now := time.Now()
		record.DateJoined = &now
	}
}
