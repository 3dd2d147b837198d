package identity

import (
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

var (
	ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized)
	ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
					WithCode(goerrors.CodeUnauthorized)
	ErrUnableToMapClaims = goerrors.New("unable to map claims", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized)
	ErrUnableToParseData = goerrors.New("unable to parse session data", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized)
)

var _ Session = &SessionObject{}

// Session is the authenticated caller as seen by HTTP handlers.
type Session interface {
	GetUserID() string
	GetUserUUID() (uuid.UUID, error)
	IsSuperuser() bool
}

type SessionObject struct {
	UserID         string         `json:"user_id,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

// IsSuperuser reports the superuser flag carried in the token data.
func (s *SessionObject) IsSuperuser() bool {
	if s.Data == nil {
		return false
	}
	flag, ok := s.Data["is_superuser"].(bool)
	return ok && flag
}

func (s SessionObject) String() string {
	return fmt.Sprintf("SessionObject{UserID: %s, Issuer: %s}", s.UserID, s.Issuer)
}

// GetRouterSession pulls the decoded JWT the auth middleware stored in
// the request locals and folds its claims into a SessionObject.
func GetRouterSession(c router.Context, key string) (*SessionObject, error) {
	cookie := c.Locals(key)
	if cookie == nil {
		return nil, ErrUnableToFindSession
	}

	token, ok := cookie.(*jwt.Token)
	if token == nil || !ok {
		return nil, ErrUnableToDecodeSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if claims == nil || !ok {
		return nil, ErrUnableToMapClaims
	}

	return sessionFromClaims(claims)
}

func sessionFromClaims(claims jwt.Claims) (*SessionObject, error) {
	sub, err := claims.GetSubject()
	if err != nil {
		return nil, ErrUnableToParseData
	}

	iss, err := claims.GetIssuer()
	if err != nil {
		return nil, ErrUnableToParseData
	}

	eat, err := claims.GetExpirationTime()
	if err != nil {
		return nil, ErrUnableToParseData
	}

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, ErrUnableToParseData
	}

	session := &SessionObject{
		UserID: sub,
		Issuer: iss,
	}

	if iat != nil {
		session.IssuedAt = &iat.Time
	}

	if eat != nil {
		session.ExpirationDate = &eat.Time
	}

	if mp, ok := claims.(jwt.MapClaims); ok {
		if dat, ok := mp["data"].(map[string]any); ok {
			session.Data = dat
		}
	}

	return session, nil
}
