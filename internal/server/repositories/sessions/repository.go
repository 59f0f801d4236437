// Package sessions provides the store operations for sign-in sessions.
package sessions

import (
	"context"

	"github.com/avdeyev/authcore/internal/server/models"
)

// Repository is the set of session mutations. Sessions are keyed by token
// hash; the plaintext token never reaches the store.
type Repository interface {
	// Create inserts a session row. A sessions_pkey violation (token hash
	// collision) is returned untranslated so the caller can reroll the token
	// inside a savepoint.
	Create(ctx context.Context, tokenHash, userID []byte) error

	// Delete removes the session with the given token hash and reports
	// whether a row was deleted.
	Delete(ctx context.Context, tokenHash []byte) (bool, error)

	// DeleteAllForUser removes every session the user has.
	DeleteAllForUser(ctx context.Context, userID []byte) error

	// DeleteOthersForUser removes every session the user has except the one
	// with the given token hash. Used on password change so the changing
	// client stays signed in.
	DeleteOthersForUser(ctx context.Context, userID, keepTokenHash []byte) error

	// Touch updates the session's last-used timestamp.
	Touch(ctx context.Context, tokenHash []byte) error

	// ListForUser returns the user's sessions, most recently used first.
	ListForUser(ctx context.Context, userID []byte) ([]*models.Session, error)
}
