package repomanager

import (
	"context"
	"database/sql"

	"github.com/avdeyev/authcore/internal/dbx"
	"github.com/avdeyev/authcore/internal/server/repositories/onetimereqs"
	"github.com/avdeyev/authcore/internal/server/repositories/sessions"
	"github.com/avdeyev/authcore/internal/server/repositories/totp"
	"github.com/avdeyev/authcore/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a specific DBTX, so the same
// factory serves plain connections and open transactions.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	OneTimeRequests(db dbx.DBTX) onetimereqs.Repository
	TOTP(db dbx.DBTX) totp.Repository
}
