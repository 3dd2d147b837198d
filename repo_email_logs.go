package identity

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EmailLogs is the append-only throttle ledger. Rows are inserted when
// an email is dispatched and only removed in bulk via PurgeByType.
type EmailLogs interface {
	Append(ctx context.Context, userID uuid.UUID, emailType EmailType) (*EmailLog, error)
	AppendTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, emailType EmailType) (*EmailLog, error)

	CountByType(ctx context.Context, userID uuid.UUID, emailType EmailType) (int, error)

	// LatestByType returns the most recent row, or nil when the ledger
	// holds no rows for the pair.
	LatestByType(ctx context.Context, userID uuid.UUID, emailType EmailType) (*EmailLog, error)

	PurgeByType(ctx context.Context, userID uuid.UUID, emailType EmailType) error
	PurgeByTypeTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, emailType EmailType) error
}

type emailLogs struct {
	repository.Repository[*EmailLog]
	db *bun.DB
}

var _ EmailLogs = (*emailLogs)(nil)

// NewEmailLogsRepository builds the bun-backed ledger.
func NewEmailLogsRepository(db *bun.DB) EmailLogs {
	repo := repository.NewRepository[*EmailLog](db, repository.ModelHandlers[*EmailLog]{
		NewRecord: func() *EmailLog { return &EmailLog{} },
		GetID: func(record *EmailLog) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *EmailLog, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
	})

	return &emailLogs{
		Repository: repo,
		db:         db,
	}
}

func (a *emailLogs) Append(ctx context.Context, userID uuid.UUID, emailType EmailType) (*EmailLog, error) {
	return a.AppendTx(ctx, a.db, userID, emailType)
}

func (a *emailLogs) AppendTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, emailType EmailType) (*EmailLog, error) {
	now := time.Now()
	record := &EmailLog{
		ID:        uuid.New(),
		UserID:    userID,
		EmailType: emailType,
		CreatedAt: &now,
	}

	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *emailLogs) CountByType(ctx context.Context, userID uuid.UUID, emailType EmailType) (int, error) {
	return a.db.NewSelect().
		Model((*EmailLog)(nil)).
		Where("?TableAlias.user_id = ?", userID.String()).
		Where("?TableAlias.email_type = ?", emailType).
		Count(ctx)
}

func (a *emailLogs) LatestByType(ctx context.Context, userID uuid.UUID, emailType EmailType) (*EmailLog, error) {
	record := &EmailLog{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID.String()).
		Where("?TableAlias.email_type = ?", emailType).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return record, nil
}

func (a *emailLogs) PurgeByType(ctx context.Context, userID uuid.UUID, emailType EmailType) error {
	return a.PurgeByTypeTx(ctx, a.db, userID, emailType)
}

func (a *emailLogs) PurgeByTypeTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, emailType EmailType) error {
	_, err := tx.NewDelete().
		Model((*EmailLog)(nil)).
		Where("?TableAlias.user_id = ?", userID.String()).
		Where("?TableAlias.email_type = ?", emailType).
		Exec(ctx)

	return err
}
