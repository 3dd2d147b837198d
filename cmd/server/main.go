package main

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/pkg/config"
	"github.com/goliatone/go-router"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/migrate"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	if err := runMigrations(ctx, db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	repo := identity.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		log.Fatalf("invalid repository manager: %v", err)
	}

	queueClient := identity.NewQueueClient(cfg.Redis.Addr(), cfg.Redis.Password)
	defer queueClient.Close()

	dispatcher := identity.NewQueueDispatcher(queueClient, identity.DefaultLogger())

	secret := []byte(cfg.Tokens.Secret)
	verificationTokens := identity.NewVerificationTokens(secret,
		identity.WithTokenValidityDays(int64(cfg.Tokens.ValidityDays)),
	)
	resetTokens := identity.NewResetTokens(secret, repo.Users(),
		identity.WithTokenValidityDays(int64(cfg.Tokens.ValidityDays)),
	)

	throttle := identity.NewEmailThrottle(repo.EmailLogs(),
		identity.WithThrottleCooldown(cfg.Throttle.Cooldown()),
		identity.WithThrottleLifetimeCap(cfg.Throttle.LifetimeCap),
	)

	emailer := identity.NewActivationEmailer(repo, verificationTokens, dispatcher, identity.DefaultLogger())

	policy := identity.NewPasswordPolicy(
		identity.WithMinLength(cfg.Password.MinLength),
	)

	machine := identity.NewActivationStateMachine(repo.Users(), repo.EmailLogs())

	controller := identity.NewIdentityController(
		identity.WithSessionKey(cfg.Session.ContextKey),
		identity.WithRequireCurrentPassword(cfg.Password.RequireCurrent),
		identity.WithHandlers(identity.ControllerHandlers{
			RegisterUser:      identity.NewRegisterUserHandler(repo, policy, emailer),
			ActivateAccount:   identity.NewActivateAccountHandler(repo, verificationTokens, machine),
			RequestActivation: identity.NewRequestActivationEmailHandler(repo, throttle, emailer),
			PasswordChange:    identity.NewSetPasswordHandler(repo, policy),
			EmailChange:       identity.NewChangeEmailHandler(repo, machine, throttle, emailer),
			ResetInitialize:   identity.NewInitializePasswordResetHandler(repo, resetTokens, throttle, dispatcher),
			ResetFinalize:     identity.NewFinalizePasswordResetHandler(repo, resetTokens, policy),
		}),
	)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:  true,
			StrictRouting: false,
			AppName:       "identity",
		}))
	})

	guard := identity.NewSessionGuard(identity.SessionGuardConfig{
		SigningKey: []byte(cfg.Session.Secret),
		ContextKey: cfg.Session.ContextKey,
	})

	identity.RegisterIdentityRoutes(srv.Router(), controller, guard.ProtectedRoute())

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("shutting down server...")
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		cancel()
	}()

	log.Printf("identity server listening on %s", cfg.Server.Addr())
	if err := srv.Serve(cfg.Server.Addr()); err != nil {
		log.Fatalf("server error: %v", err)
	}

	<-ctx.Done()
}

func runMigrations(ctx context.Context, db *bun.DB) error {
	sqlFS, err := fs.Sub(identity.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return err
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(sqlFS); err != nil {
		return err
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}

	if _, err := migrator.Migrate(ctx); err != nil {
		return err
	}

	return nil
}
