// Package totp provides the store operations for users' second-factor
// configurations: enrollment staging, the rolling anti-replay window, and
// single-use backup codes.
package totp

import "context"

// Repository manages TOTP configurations, at most one per user.
type Repository interface {
	// IsEnabled reports whether the user has a verified TOTP secret. Rows
	// that only stage an enrollment don't count.
	IsEnabled(ctx context.Context, userID []byte) (bool, error)

	// ConsumeBackupCode removes the backup code with the given hash from the
	// user's unused set and reports whether it was present. Removal and the
	// presence check are a single conditional statement, so under the
	// serializable isolation level a code can satisfy verification at most
	// once, ever.
	ConsumeBackupCode(ctx context.Context, userID, codeHash []byte) (bool, error)

	// RecordCode shifts the rolling window (last used becomes second-to-last
	// used, the submitted code becomes last used), but only when the
	// submitted code differs from both recorded values and the user has a
	// verified secret. On success it returns the secret and true; when the
	// code was already in the window (or no verified config exists) it
	// returns false.
	//
	// The shift happens before any cryptographic check, so even a code that
	// later fails verification has consumed a window slot.
	RecordCode(ctx context.Context, userID []byte, code string) (secret []byte, recorded bool, err error)

	// StageEnrollment replaces any staged (unverified) enrollment with a new
	// one holding the given secret. Returns common.ErrorAlreadyExists when
	// the user already has a verified configuration.
	StageEnrollment(ctx context.Context, userID, secret []byte) error

	// ConfirmEnrollment promotes the staged secret to verified, records the
	// confirming code as last used, and stores the backup code hashes. The
	// staged secret must match the one supplied; reports whether a staged
	// enrollment was promoted.
	ConfirmEnrollment(ctx context.Context, userID, secret []byte, confirmingCode string, backupCodeHashes [][]byte) (bool, error)

	// Disable removes the user's TOTP configuration, staged or verified, and
	// reports whether one existed.
	Disable(ctx context.Context, userID []byte) (bool, error)
}
