// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/avdeyev/authcore/internal/dbx"
	"github.com/avdeyev/authcore/internal/server/migrations"
	"github.com/avdeyev/authcore/internal/server/repositories/onetimereqs"
	"github.com/avdeyev/authcore/internal/server/repositories/sessions"
	"github.com/avdeyev/authcore/internal/server/repositories/totp"
	"github.com/avdeyev/authcore/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

// Users returns a users.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

// Sessions returns a sessions.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Sessions(db dbx.DBTX) sessions.Repository {
	return sessions.NewPostgresRepository(db)
}

// OneTimeRequests returns an onetimereqs.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) OneTimeRequests(db dbx.DBTX) onetimereqs.Repository {
	return onetimereqs.NewPostgresRepository(db)
}

// TOTP returns a totp.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) TOTP(db dbx.DBTX) totp.Repository {
	return totp.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetDialect("pgx")
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}
