// Package users provides the store operations for user accounts.
package users

import (
	"context"

	"github.com/avdeyev/authcore/internal/server/models"
)

// Repository is the set of user queries and mutations. Implementations are
// bound to a DBTX, so the same code runs inside or outside a transaction.
type Repository interface {
	// Create inserts a new user. The caller supplies the random ID; a
	// uniqueness violation is returned untranslated so the caller can decide
	// between rerolling (users_pkey) and surfacing a taken email
	// (users_email_key).
	Create(ctx context.Context, user *models.User) error

	// GetByEmail returns the user with the given normalized email, or
	// common.ErrorNotFound.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByID returns the user with the given ID, or common.ErrorNotFound.
	GetByID(ctx context.Context, id []byte) (*models.User, error)

	// GetBySessionTokenHash resolves a session token hash to its user, or
	// common.ErrorNotFound when the session doesn't exist.
	GetBySessionTokenHash(ctx context.Context, tokenHash []byte) (*models.User, error)

	// GetPasswordHash returns the stored password hash for the user, or
	// common.ErrorNotFound.
	GetPasswordHash(ctx context.Context, id []byte) (string, error)

	// UpdatePassword replaces the user's password hash.
	UpdatePassword(ctx context.Context, id []byte, passwordHash string) error

	// UpdateName replaces the user's display name.
	UpdateName(ctx context.Context, id []byte, name string) error

	// UpdateEmail replaces the user's email. A users_email_key violation is
	// returned untranslated.
	UpdateEmail(ctx context.Context, id []byte, email string) error
}
