// Package server initializes and runs the account service. It opens the
// database, runs schema migrations, wires services to the HTTP router, and
// handles graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avdeyev/authcore/internal/logging"
	"github.com/avdeyev/authcore/internal/server/captcha"
	"github.com/avdeyev/authcore/internal/server/config"
	"github.com/avdeyev/authcore/internal/server/credentials"
	"github.com/avdeyev/authcore/internal/server/httpapi"
	"github.com/avdeyev/authcore/internal/server/mail"
	"github.com/avdeyev/authcore/internal/server/repositories/repomanager"
	"github.com/avdeyev/authcore/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	handler http.Handler
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	verifier := credentials.NewVerifier(rm)
	mailer := mail.NewLogMailer(cfg.MailFrom, logger)

	accounts := services.NewAccountService(db, rm, verifier, mailer, captcha.AllowAll{}, cfg, logger)
	sessions := services.NewSessionService(db, rm)
	totp := services.NewTOTPService(db, rm, verifier, cfg)

	handler := httpapi.NewRouter(cfg, &httpapi.Deps{
		Accounts: accounts,
		Sessions: sessions,
		TOTP:     totp,
		Logger:   logger,
	})

	return &App{config: cfg, logger: logger, db: db, handler: handler}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			app.logger.Error(ctx, err.Error())
		}
	case <-ctx.Done():
		app.logger.Info(ctx, "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, err.Error())
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
