package identity

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/middleware/jwtware"
	"github.com/goliatone/go-router"
)

// SessionGuardConfig configures bearer token verification for the
// protected endpoints.
type SessionGuardConfig struct {
	// SigningKey verifies session JWTs minted by the auth service.
	SigningKey []byte
	// SigningMethod defaults to HS256.
	SigningMethod string
	// ContextKey is the locals key the decoded token is stored under.
	ContextKey string
	// TokenLookup follows the jwtware lookup syntax, e.g.
	// "header:Authorization" or "cookie:session".
	TokenLookup string
	AuthScheme  string
}

// SessionGuard rejects unauthenticated requests on routes that act on
// the session user.
type SessionGuard struct {
	cfg          SessionGuardConfig
	Logger       Logger
	ErrorHandler func(c router.Context, err error) error
}

func NewSessionGuard(cfg SessionGuardConfig) *SessionGuard {
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = "HS256"
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	g := &SessionGuard{
		cfg:    cfg,
		Logger: defLogger{},
	}

	g.ErrorHandler = g.defaultErrHandler

	return g
}

// ProtectedRoute verifies the bearer token and stores the decoded JWT
// in the request locals for GetRouterSession.
func (g *SessionGuard) ProtectedRoute() router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ErrorHandler: g.handleAuthError,
		SigningKey: jwtware.SigningKey{
			Key:    g.cfg.SigningKey,
			JWTAlg: g.cfg.SigningMethod,
		},
		ContextKey:  g.cfg.ContextKey,
		TokenLookup: g.cfg.TokenLookup,
		AuthScheme:  g.cfg.AuthScheme,
	})
}

func (g *SessionGuard) handleAuthError(c router.Context, err error) error {
	var richErr *goerrors.Error

	if IsTokenExpiredError(err) {
		richErr = ErrTokenExpired
	} else if IsMalformedError(err) {
		richErr = ErrTokenMalformed
	} else {
		richErr = goerrors.Wrap(err, goerrors.CategoryAuth, "invalid authentication token").
			WithCode(goerrors.CodeUnauthorized)
	}

	return g.ErrorHandler(c, richErr)
}

func (g *SessionGuard) defaultErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryAuth, "authentication failed").
			WithCode(goerrors.CodeUnauthorized)
	}

	g.Logger.Info(
		"rejected unauthenticated request to %s: %s",
		c.OriginalURL(), richErr.Message,
	)

	return c.JSON(http.StatusUnauthorized, map[string]any{
		"error": richErr.Message,
	})
}
