package totp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avdeyev/authcore/internal/common"
	"github.com/avdeyev/authcore/internal/dbx"
)

// PkeyConstraint is the unique constraint on TOTP configurations (one per
// user).
const PkeyConstraint = "totp_pkey"

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) IsEnabled(ctx context.Context, userID []byte) (bool, error) {
	query := `
		SELECT TRUE
		FROM totp
		WHERE user_id = $1 AND secret IS NOT NULL
	`
	var enabled bool
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return enabled, nil
}

func (r *PostgresRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash []byte) (bool, error) {
	query := `
		UPDATE totp
		SET unused_backup_code_hashes = array_remove(unused_backup_code_hashes, $1)
		WHERE user_id = $2 AND $1 = ANY (unused_backup_code_hashes)
	`
	res, err := r.db.ExecContext(ctx, query, codeHash, userID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) RecordCode(ctx context.Context, userID []byte, code string) ([]byte, bool, error) {
	query := `
		UPDATE totp
		SET otp_used_2nd_to_last = otp_used_last,
		    otp_used_last = $1
		WHERE user_id = $2
		  AND secret IS NOT NULL
		  AND $1 IS DISTINCT FROM otp_used_last
		  AND $1 IS DISTINCT FROM otp_used_2nd_to_last
		RETURNING secret
	`
	var secret []byte
	if err := r.db.QueryRowContext(ctx, query, code, userID).Scan(&secret); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("db error: %w", err)
	}
	return secret, true, nil
}

func (r *PostgresRepository) StageEnrollment(ctx context.Context, userID, secret []byte) error {
	deleteStale := `
		DELETE FROM totp
		WHERE user_id = $1 AND secret IS NULL
	`
	if _, err := r.db.ExecContext(ctx, deleteStale, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	insert := `
		INSERT INTO totp (user_id, unverified_secret)
		VALUES ($1, $2)
	`
	if _, err := r.db.ExecContext(ctx, insert, userID, secret); err != nil {
		if dbx.IsUniqueViolation(err, PkeyConstraint) {
			// The user already has a verified configuration.
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ConfirmEnrollment(ctx context.Context, userID, secret []byte, confirmingCode string, backupCodeHashes [][]byte) (bool, error) {
	query := `
		UPDATE totp
		SET secret = unverified_secret,
		    unverified_secret = NULL,
		    otp_used_last = $1,
		    unused_backup_code_hashes = $2
		WHERE user_id = $3
		  AND secret IS NULL
		  AND unverified_secret = $4
	`
	res, err := r.db.ExecContext(ctx, query, confirmingCode, backupCodeHashes, userID, secret)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Disable(ctx context.Context, userID []byte) (bool, error) {
	query := `
		DELETE FROM totp
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}
