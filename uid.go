package identity

import (
	"context"
	"encoding/base64"

	"github.com/google/uuid"
)

// EncodeUID wraps a user primary key in a URL-safe encoding for use in
// activation and reset links. It is reversible transport encoding, not
// encryption: the uid is never secret, the token next to it is.
func EncodeUID(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id.String()))
}

// DecodeUID reverses EncodeUID.
func DecodeUID(uid string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(string(raw))
}

// ResolveUID folds uid decoding and the user lookup into one operation.
// Any failure, bad encoding, non-uuid payload, or unknown id, reports an
// absent user so callers can answer with the generic token error.
func ResolveUID(ctx context.Context, users Users, uid string) (*User, bool) {
	id, err := DecodeUID(uid)
	if err != nil {
		return nil, false
	}

	user, err := users.GetByID(ctx, id)
	if err != nil || user == nil {
		return nil, false
	}

	return user, true
}
