package identity_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	identity "github.com/goliatone/go-identity"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// memoryUsers is an in-memory Users implementation. It hands out copies
// so tests observe persisted state, not shared pointers.
type memoryUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*identity.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[uuid.UUID]*identity.User{}}
}

func cloneUser(u *identity.User) *identity.User {
	c := *u
	if u.PasswordResetToken != nil {
		token := *u.PasswordResetToken
		c.PasswordResetToken = &token
	}
	return &c
}

func (m *memoryUsers) seed(u *identity.User) *identity.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.byID[u.ID] = cloneUser(u)
	return cloneUser(u)
}

func (m *memoryUsers) GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}
	return cloneUser(u), nil
}

func (m *memoryUsers) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*identity.User, error) {
	return m.GetByID(ctx, id)
}

func (m *memoryUsers) GetByUsername(ctx context.Context, username string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{"username": username})
}

func (m *memoryUsers) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{"email": email})
}

func (m *memoryUsers) Create(ctx context.Context, record *identity.User) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == record.Username {
			return nil, fmt.Errorf("UNIQUE constraint failed: users.username")
		}
		if u.Email == record.Email {
			return nil, fmt.Errorf("UNIQUE constraint failed: users.email")
		}
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.DateJoined == nil {
		joined := time.Now()
		record.DateJoined = &joined
	}
	m.byID[record.ID] = cloneUser(record)
	return cloneUser(record), nil
}

func (m *memoryUsers) CreateTx(ctx context.Context, tx bun.IDB, record *identity.User) (*identity.User, error) {
	return m.Create(ctx, record)
}

func (m *memoryUsers) update(id uuid.UUID, f func(u *identity.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}
	f(u)
	return nil
}

func (m *memoryUsers) SetActivation(ctx context.Context, id uuid.UUID, activated bool) error {
	return m.update(id, func(u *identity.User) { u.IsEmailActivated = activated })
}

func (m *memoryUsers) SetActivationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, activated bool) error {
	return m.SetActivation(ctx, id, activated)
}

func (m *memoryUsers) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	m.mu.Lock()
	for otherID, u := range m.byID {
		if otherID != id && u.Email == email {
			m.mu.Unlock()
			return fmt.Errorf("UNIQUE constraint failed: users.email")
		}
	}
	m.mu.Unlock()
	return m.update(id, func(u *identity.User) { u.Email = email })
}

func (m *memoryUsers) UpdateEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email string) error {
	return m.UpdateEmail(ctx, id, email)
}

func (m *memoryUsers) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return m.update(id, func(u *identity.User) { u.PasswordHash = passwordHash })
}

func (m *memoryUsers) UpdatePasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return m.UpdatePasswordHash(ctx, id, passwordHash)
}

func (m *memoryUsers) StoreResetToken(ctx context.Context, id uuid.UUID, token string) error {
	return m.update(id, func(u *identity.User) { u.PasswordResetToken = &token })
}

func (m *memoryUsers) StoreResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error {
	return m.StoreResetToken(ctx, id, token)
}

func (m *memoryUsers) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	return m.update(id, func(u *identity.User) { u.PasswordResetToken = nil })
}

func (m *memoryUsers) ClearResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return m.ClearResetToken(ctx, id)
}

// memoryEmailLogs is an in-memory EmailLogs ledger with a pluggable clock.
type memoryEmailLogs struct {
	mu   sync.Mutex
	rows []identity.EmailLog
	now  func() time.Time
}

func newMemoryEmailLogs() *memoryEmailLogs {
	return &memoryEmailLogs{now: time.Now}
}

func (m *memoryEmailLogs) Append(ctx context.Context, userID uuid.UUID, emailType identity.EmailType) (*identity.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp := m.now()
	row := identity.EmailLog{
		ID:        uuid.New(),
		UserID:    userID,
		EmailType: emailType,
		CreatedAt: &stamp,
	}
	m.rows = append(m.rows, row)
	return &row, nil
}

func (m *memoryEmailLogs) AppendTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, emailType identity.EmailType) (*identity.EmailLog, error) {
	return m.Append(ctx, userID, emailType)
}

func (m *memoryEmailLogs) CountByType(ctx context.Context, userID uuid.UUID, emailType identity.EmailType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, row := range m.rows {
		if row.UserID == userID && row.EmailType == emailType {
			count++
		}
	}
	return count, nil
}

func (m *memoryEmailLogs) LatestByType(ctx context.Context, userID uuid.UUID, emailType identity.EmailType) (*identity.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *identity.EmailLog
	for i := range m.rows {
		row := m.rows[i]
		if row.UserID != userID || row.EmailType != emailType {
			continue
		}
		if latest == nil || row.CreatedAt.After(*latest.CreatedAt) {
			latest = &row
		}
	}
	return latest, nil
}

func (m *memoryEmailLogs) PurgeByType(ctx context.Context, userID uuid.UUID, emailType identity.EmailType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	for _, row := range m.rows {
		if row.UserID == userID && row.EmailType == emailType {
			continue
		}
		kept = append(kept, row)
	}
	m.rows = kept
	return nil
}

func (m *memoryEmailLogs) PurgeByTypeTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, emailType identity.EmailType) error {
	return m.PurgeByType(ctx, userID, emailType)
}

// memoryRepo bundles the fakes behind the RepositoryManager interface.
// RunInTx executes the callback directly; transactional semantics are
// covered by the bun-backed implementation.
type memoryRepo struct {
	users *memoryUsers
	logs  *memoryEmailLogs
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users: newMemoryUsers(),
		logs:  newMemoryEmailLogs(),
	}
}

func (m *memoryRepo) Validate() error { return nil }
func (m *memoryRepo) MustValidate()   {}

func (m *memoryRepo) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (m *memoryRepo) Users() identity.Users         { return m.users }
func (m *memoryRepo) EmailLogs() identity.EmailLogs { return m.logs }

// captureDispatcher records dispatched emails instead of enqueuing them.
type captureDispatcher struct {
	mu       sync.Mutex
	messages []identity.EmailMessage
	fail     error
}

func (d *captureDispatcher) DispatchEmail(ctx context.Context, msg identity.EmailMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.messages = append(d.messages, msg)
	return nil
}

func (d *captureDispatcher) sent() []identity.EmailMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]identity.EmailMessage, len(d.messages))
	copy(out, d.messages)
	return out
}
