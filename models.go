package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivationState tracks the email activation lifecycle of a user.
type ActivationState = string

const (
	// ActivationUnverified is the initial state of every account.
	ActivationUnverified ActivationState = "unverified"
	// ActivationVerified is reached only through a valid verification token.
	ActivationVerified ActivationState = "verified"
)

// EmailType identifies the purpose of a dispatched email.
type EmailType = string

const (
	// EmailTypeVerification is an account activation email
	EmailTypeVerification EmailType = "verification"
	// EmailTypePasswordReset is a password reset email
	EmailTypePasswordReset EmailType = "password_reset"
)

// User is the identity record. Username and email are both unique
// identifiers; the password is only ever stored as a bcrypt hash.
type User struct {
	bun.BaseModel      `bun:"table:users,alias:usr"`
	ID                 uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username           string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email              string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash       string     `bun:"password_hash" json:"-"`
	IsStaff            bool       `bun:"is_staff" json:"is_staff,omitempty"`
	IsActive           bool       `bun:"is_active" json:"is_active,omitempty"`
	IsSuperuser        bool       `bun:"is_superuser" json:"is_superuser,omitempty"`
	IsEmailActivated   bool       `bun:"is_email_activated" json:"is_email_activated"`
	PasswordResetToken *string    `bun:"password_reset_token,nullzero" json:"-"`
	DateJoined         *time.Time `bun:"date_joined,nullzero,default:current_timestamp" json:"date_joined,omitempty"`
	UpdatedAt          *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt          *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// ActivationState returns the current state of the activation lifecycle.
func (u *User) ActivationState() ActivationState {
	if u != nil && u.IsEmailActivated {
		return ActivationVerified
	}
	return ActivationUnverified
}

// HasResetToken reports whether a password reset is in flight.
func (u *User) HasResetToken() bool {
	return u != nil && u.PasswordResetToken != nil && *u.PasswordResetToken != ""
}

// EmailLog is one row of the append-only email ledger. The ledger doubles
// as audit trail and throttle state: rows are inserted when an email is
// dispatched and only ever removed in bulk when a verification cycle is
// invalidated by an email change.
type EmailLog struct {
	bun.BaseModel `bun:"table:email_logs,alias:elog"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	EmailType     EmailType  `bun:"email_type,notnull" json:"email_type,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}
