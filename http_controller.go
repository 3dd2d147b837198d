package identity

import (
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterIdentityRoutes mounts the account endpoints on the given
// router. The protected middleware guards the routes that act on the
// session user; registration, activation, and the reset flow stay
// public.
func RegisterIdentityRoutes[T any](app router.Router[T], controller *IdentityController, protected ...router.MiddlewareFunc) {
	app.Post(controller.Routes.Register, controller.Register).
		SetName("users.register")

	app.Get(controller.Routes.Activate, controller.Activate).
		SetName("users.activate")

	app.Get(controller.Routes.RequestActivationEmail, controller.RequestActivationEmail, protected...).
		SetName("users.request-activation-email")

	app.Post(controller.Routes.SetPassword, controller.SetPassword, protected...).
		SetName("users.set-password")

	app.Post(controller.Routes.ChangeEmail, controller.ChangeEmail, protected...).
		SetName("users.change-email")

	app.Post(controller.Routes.ResetPassword, controller.ResetPassword).
		SetName("users.reset-password")

	app.Post(controller.Routes.ResetPasswordConfirm, controller.ResetPasswordConfirm).
		SetName("users.reset-password-confirm")
}

type IdentityControllerRoutes struct {
	Register               string
	Activate               string
	RequestActivationEmail string
	SetPassword            string
	ChangeEmail            string
	ResetPassword          string
	ResetPasswordConfirm   string
}

type IdentityController struct {
	Debug  bool
	Logger Logger
	// SessionKey is the locals key the JWT middleware stores the
	// decoded token under.
	SessionKey string
	// RequireCurrentPassword makes password changes verify the old
	// password before accepting a new one.
	RequireCurrentPassword bool
	Routes                 *IdentityControllerRoutes

	RegisterUser      *RegisterUserHandler
	ActivateAccount   *ActivateAccountHandler
	RequestActivation *RequestActivationEmailHandler
	PasswordChange    *SetPasswordHandler
	EmailChange       *ChangeEmailHandler
	ResetInitialize   *InitializePasswordResetHandler
	ResetFinalize     *FinalizePasswordResetHandler
}

type IdentityControllerOption func(*IdentityController) *IdentityController

func NewIdentityController(opts ...IdentityControllerOption) *IdentityController {
	c := &IdentityController{
		Logger:                 defLogger{},
		SessionKey:             "user",
		RequireCurrentPassword: true,
		// Paths are registered without trailing slashes; the server
		// runs with strict routing disabled, so the slash-suffixed
		// variants resolve to the same handlers.
		Routes: &IdentityControllerRoutes{
			Register:               "/users",
			Activate:               "/users/activate/:uid/:token",
			RequestActivationEmail: "/users/:username/request-activation-email",
			SetPassword:            "/users/set-password",
			ChangeEmail:            "/users/change-email",
			ResetPassword:          "/users/reset-password",
			ResetPasswordConfirm:   "/users/reset-password-confirm",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.RegisterUser == nil ||
		c.ActivateAccount == nil ||
		c.RequestActivation == nil ||
		c.PasswordChange == nil ||
		c.EmailChange == nil ||
		c.ResetInitialize == nil ||
		c.ResetFinalize == nil {
		panic("Missing command handlers in identity controller...")
	}

	return c
}

func WithControllerLogger(logger Logger) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithSessionKey(key string) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		if key != "" {
			c.SessionKey = key
		}
		return c
	}
}

func WithRequireCurrentPassword(require bool) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.RequireCurrentPassword = require
		return c
	}
}

// ControllerHandlers bundles the command handlers behind the endpoints.
type ControllerHandlers struct {
	RegisterUser      *RegisterUserHandler
	ActivateAccount   *ActivateAccountHandler
	RequestActivation *RequestActivationEmailHandler
	PasswordChange    *SetPasswordHandler
	EmailChange       *ChangeEmailHandler
	ResetInitialize   *InitializePasswordResetHandler
	ResetFinalize     *FinalizePasswordResetHandler
}

func WithHandlers(handlers ControllerHandlers) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.RegisterUser = handlers.RegisterUser
		c.ActivateAccount = handlers.ActivateAccount
		c.RequestActivation = handlers.RequestActivation
		c.PasswordChange = handlers.PasswordChange
		c.EmailChange = handlers.EmailChange
		c.ResetInitialize = handlers.ResetInitialize
		c.ResetFinalize = handlers.ResetFinalize
		return c
	}
}

// RegisterPayload is the account creation body.
type RegisterPayload struct {
	Username string `form:"username" json:"username"`
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 30)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
	)
}

// UserResponse is the public projection of a user record.
type UserResponse struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	IsEmailActivated bool   `json:"is_email_activated"`
}

func newUserResponse(user *User) UserResponse {
	return UserResponse{
		ID:               user.ID.String(),
		Username:         user.Username,
		Email:            user.Email,
		IsEmailActivated: user.IsEmailActivated,
	}
}

func (a *IdentityController) Register(ctx router.Context) error {
	payload := new(RegisterPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.respondError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, ozzoError(err))
	}

	if a.Debug {
		a.Logger.Debug("register payload: %s", print.MaybePrettyJSON(payload))
	}

	var created *User
	msg := RegisterUserMessage{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
		OnResponse: func(user *User) {
			created = user
		},
	}

	if err := a.RegisterUser.Execute(ctx.Context(), msg); err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, newUserResponse(created))
}

func (a *IdentityController) Activate(ctx router.Context) error {
	msg := ActivateAccountMessage{
		UID:   ctx.Param("uid"),
		Token: ctx.Param("token"),
	}

	if err := a.ActivateAccount.Execute(ctx.Context(), msg); err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

func (a *IdentityController) RequestActivationEmail(ctx router.Context) error {
	session, err := GetRouterSession(ctx, a.SessionKey)
	if err != nil {
		return a.respondError(ctx, err)
	}

	msg := RequestActivationEmailMessage{
		Username:         ctx.Param("username"),
		ActorID:          session.GetUserID(),
		ActorIsSuperuser: session.IsSuperuser(),
	}

	if err := a.RequestActivation.Execute(ctx.Context(), msg); err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// SetPasswordPayload carries a password change for the session user.
type SetPasswordPayload struct {
	CurrentPassword string `form:"current_password" json:"current_password"`
	NewPassword     string `form:"new_password" json:"new_password"`
	RetypedPassword string `form:"retyped_password" json:"retyped_password"`
}

func (r SetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 128)),
		validation.Field(
			&r.RetypedPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.NewPassword)),
		),
	)
}

func (a *IdentityController) SetPassword(ctx router.Context) error {
	session, err := GetRouterSession(ctx, a.SessionKey)
	if err != nil {
		return a.respondError(ctx, err)
	}

	payload := new(SetPasswordPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.respondError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, ozzoError(err))
	}

	msg := SetPasswordMessage{
		UserID:          session.GetUserID(),
		CurrentPassword: payload.CurrentPassword,
		NewPassword:     payload.NewPassword,
		RetypedPassword: payload.RetypedPassword,
		RequireCurrent:  a.RequireCurrentPassword,
	}

	if err := a.PasswordChange.Execute(ctx.Context(), msg); err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// ChangeEmailPayload swaps the session user's email address.
type ChangeEmailPayload struct {
	NewEmail string `form:"new_email" json:"new_email"`
}

func (r ChangeEmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.NewEmail, validation.Required, validation.Length(3, 254), is.Email),
	)
}

func (a *IdentityController) ChangeEmail(ctx router.Context) error {
	session, err := GetRouterSession(ctx, a.SessionKey)
	if err != nil {
		return a.respondError(ctx, err)
	}

	payload := new(ChangeEmailPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.respondError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, ozzoError(err))
	}

	msg := ChangeEmailMessage{
		UserID:   session.GetUserID(),
		NewEmail: payload.NewEmail,
	}

	if err := a.EmailChange.Execute(ctx.Context(), msg); err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// ResetPasswordPayload asks for a reset link by email.
type ResetPasswordPayload struct {
	Email string `form:"email" json:"email"`
}

func (r ResetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *IdentityController) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.respondError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, ozzoError(err))
	}

	msg := InitializePasswordResetMessage{Email: payload.Email}

	if err := a.ResetInitialize.Execute(ctx.Context(), msg); err != nil {
		return a.respondError(ctx, err)
	}

	// identical response for known and unknown addresses
	return ctx.NoContent(http.StatusNoContent)
}

// ResetPasswordConfirmPayload spends a reset token.
type ResetPasswordConfirmPayload struct {
	UID             string `form:"uid" json:"uid"`
	Token           string `form:"token" json:"token"`
	NewPassword     string `form:"new_password" json:"new_password"`
	RetypedPassword string `form:"retyped_password" json:"retyped_password"`
}

func (r ResetPasswordConfirmPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UID, validation.Required),
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 128)),
		validation.Field(
			&r.RetypedPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.NewPassword)),
		),
	)
}

func (a *IdentityController) ResetPasswordConfirm(ctx router.Context) error {
	payload := new(ResetPasswordConfirmPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.respondError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, ozzoError(err))
	}

	msg := FinalizePasswordResetMessage{
		UID:             payload.UID,
		Token:           payload.Token,
		NewPassword:     payload.NewPassword,
		RetypedPassword: payload.RetypedPassword,
	}

	if err := a.ResetFinalize.Execute(ctx.Context(), msg); err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func bindError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request body").
		WithCode(goerrors.CodeBadRequest)
}

// ozzoError lifts ozzo validation output into the shared error shape,
// keeping the per-field messages.
func ozzoError(err error) error {
	var ve validation.Errors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for field, ferr := range ve {
			fields[field] = ferr.Error()
		}
		return ValidationError("validation failed", fields)
	}
	return ValidationError(err.Error(), nil)
}

func (a *IdentityController) respondError(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		a.Logger.Error("unhandled error: %v", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]any{
			"error": "internal server error",
		})
	}

	status := http.StatusInternalServerError
	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput, goerrors.CategoryRateLimit:
		status = http.StatusBadRequest
	case goerrors.CategoryAuth:
		status = http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		status = http.StatusForbidden
	case goerrors.CategoryNotFound:
		status = http.StatusNotFound
	case goerrors.CategoryConflict:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		a.Logger.Error("request failed: %v", richErr)
	}

	body := map[string]any{"error": richErr.Message}

	if richErr.Metadata != nil {
		if fields, ok := richErr.Metadata["fields"]; ok {
			body["fields"] = fields
		}
		if wait, ok := richErr.Metadata["wait_time"]; ok {
			body["wait_time"] = wait
		}
	}

	return ctx.JSON(status, body)
}
