package sessions

import (
	"context"
	"fmt"

	"github.com/avdeyev/authcore/internal/dbx"
	"github.com/avdeyev/authcore/internal/server/models"
)

// PkeyConstraint is the unique constraint on session token hashes.
const PkeyConstraint = "sessions_pkey"

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, tokenHash, userID []byte) error {
	query := `
		INSERT INTO sessions (token_hash, user_id)
		VALUES ($1, $2)
	`
	if _, err := r.db.ExecContext(ctx, query, tokenHash, userID); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tokenHash []byte) (bool, error) {
	query := `
		DELETE FROM sessions
		WHERE token_hash = $1
	`
	res, err := r.db.ExecContext(ctx, query, tokenHash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) DeleteAllForUser(ctx context.Context, userID []byte) error {
	query := `
		DELETE FROM sessions
		WHERE user_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteOthersForUser(ctx context.Context, userID, keepTokenHash []byte) error {
	query := `
		DELETE FROM sessions
		WHERE user_id = $1 AND token_hash != $2
	`
	if _, err := r.db.ExecContext(ctx, query, userID, keepTokenHash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID []byte) ([]*models.Session, error) {
	query := `
		SELECT token_hash, user_id, created_at, last_used_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY last_used_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		s := &models.Session{}
		if err := rows.Scan(&s.TokenHash, &s.UserID, &s.CreatedAt, &s.LastUsedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Touch(ctx context.Context, tokenHash []byte) error {
	query := `
		UPDATE sessions
		SET last_used_at = now()
		WHERE token_hash = $1
	`
	if _, err := r.db.ExecContext(ctx, query, tokenHash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
