package main

import (
	"log"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/pkg/config"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := identity.DefaultLogger()

	srv := identity.NewQueueServer(cfg.Redis.Addr(), cfg.Redis.Password, 10)

	// TODO: swap the log sender for an SMTP implementation once the
	// delivery provider is picked.
	worker := identity.NewMailWorker(identity.NewLogEmailSender(logger), logger)

	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux)

	logger.Info("email worker started, waiting for tasks...")

	if err := srv.Run(mux); err != nil {
		log.Fatalf("worker error: %v", err)
	}
}
