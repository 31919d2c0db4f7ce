/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server: tenant credit ledger,
  coupon batch lifecycle and the external verification surface.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Parse command-line flags (flags override environment)
  3. Initialize SQLite store
  4. Start the notification outbox
  5. Create API handler with dependencies
  6. Start HTTP server with graceful shutdown

CONFIGURATION:
  PORT            HTTP server port (default: 8080)
  DATABASE_PATH   SQLite database path (default: loyalty.db)
                  Use ":memory:" for an in-memory database
  LOG_LEVEL       logrus level (default: info)
  SMTP_HOST       Optional; enables the email notification sink
  SMTP_PORT       SMTP port (default: 587)
  SMTP_USERNAME   SMTP auth user
  SMTP_PASSWORD   SMTP auth password
  SMTP_FROM       Sender address
  SMTP_TO         Operations inbox for workflow events

COMMAND-LINE FLAGS:
  -port    Overrides PORT
  -db      Overrides DATABASE_PATH

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain the notification outbox
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/notify"
	"github.com/warp/loyalty-engine/store/sqlite"
)

type config struct {
	Port         int    `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"loyalty.db"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPTo       string `env:"SMTP_TO"`
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env")
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.WithError(err).Fatal("failed to parse configuration")
	}

	// Flags override environment
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path")
	flag.Parse()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Notification outbox
	sinks := []notify.Sink{notify.NewLogSink()}
	if cfg.SMTPHost != "" {
		sinks = append(sinks, notify.NewEmailSink(notify.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.SMTPTo,
		}))
		log.WithField("host", cfg.SMTPHost).Info("email notifications enabled")
	}
	outbox := notify.NewOutbox(sinks...)
	outbox.Start()
	defer outbox.Stop()

	// Handler and router
	handler := api.NewHandler(store, outbox, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}
