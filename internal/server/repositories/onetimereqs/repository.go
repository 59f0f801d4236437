// Package onetimereqs provides the store operations for one-time requests:
// sign-up email verification, password resets, and email changes.
package onetimereqs

import (
	"context"

	"github.com/avdeyev/authcore/internal/server/models"
)

// Repository manages single-use, token-addressed requests. At most one live
// request exists per (kind, target); issuing a new one replaces the previous
// within the ambient transaction.
type Repository interface {
	// ReplaceForEmail deletes any live request of req.Kind targeting
	// req.Email, then inserts req.
	ReplaceForEmail(ctx context.Context, req *models.OneTimeRequest) error

	// ReplaceForUser deletes any live request of req.Kind for req.UserID,
	// then inserts req.
	ReplaceForUser(ctx context.Context, req *models.OneTimeRequest) error

	// FindByTokenHash returns the live request of the given kind with the
	// given token hash without consuming it, or common.ErrorNotFound.
	FindByTokenHash(ctx context.Context, kind string, tokenHash []byte) (*models.OneTimeRequest, error)

	// FindByEmail returns the live request of the given kind targeting the
	// email without consuming it, or common.ErrorNotFound. Used for
	// short-code checks, where the caller verifies the code hash.
	FindByEmail(ctx context.Context, kind, email string) (*models.OneTimeRequest, error)

	// ConsumeByTokenHash deletes and returns the live request of the given
	// kind with the given token hash, or common.ErrorNotFound. Deletion and
	// retrieval are a single statement so a request can be fulfilled at most
	// once even under concurrent submissions.
	ConsumeByTokenHash(ctx context.Context, kind string, tokenHash []byte) (*models.OneTimeRequest, error)

	// ConsumeByEmail deletes and returns the live request of the given kind
	// targeting the email, or common.ErrorNotFound.
	ConsumeByEmail(ctx context.Context, kind, email string) (*models.OneTimeRequest, error)

	// DeleteForEmail removes any live request of the given kind targeting
	// the email, for invalidation without fulfillment.
	DeleteForEmail(ctx context.Context, kind, email string) error
}
