package onetimereqs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avdeyev/authcore/internal/common"
	"github.com/avdeyev/authcore/internal/dbx"
	"github.com/avdeyev/authcore/internal/server/models"
)

// TokenHashConstraint is the unique constraint on request token hashes.
const TokenHashConstraint = "one_time_requests_token_hash_key"

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ReplaceForEmail(ctx context.Context, req *models.OneTimeRequest) error {
	query := `
		DELETE FROM one_time_requests
		WHERE kind = $1 AND email = $2
	`
	if _, err := r.db.ExecContext(ctx, query, req.Kind, req.Email); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.insert(ctx, req)
}

func (r *PostgresRepository) ReplaceForUser(ctx context.Context, req *models.OneTimeRequest) error {
	query := `
		DELETE FROM one_time_requests
		WHERE kind = $1 AND user_id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, req.Kind, req.UserID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.insert(ctx, req)
}

func (r *PostgresRepository) insert(ctx context.Context, req *models.OneTimeRequest) error {
	query := `
		INSERT INTO one_time_requests (kind, token_hash, email, user_id, code_hash)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		req.Kind, req.TokenHash, nullString(req.Email), nullBytes(req.UserID), nullString(req.CodeHash))
	if err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) FindByTokenHash(ctx context.Context, kind string, tokenHash []byte) (*models.OneTimeRequest, error) {
	query := `
		SELECT kind, token_hash, email, user_id, code_hash, created_at
		FROM one_time_requests
		WHERE kind = $1 AND token_hash = $2
	`
	return r.scanRequest(r.db.QueryRowContext(ctx, query, kind, tokenHash))
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, kind, email string) (*models.OneTimeRequest, error) {
	query := `
		SELECT kind, token_hash, email, user_id, code_hash, created_at
		FROM one_time_requests
		WHERE kind = $1 AND email = $2
	`
	return r.scanRequest(r.db.QueryRowContext(ctx, query, kind, email))
}

func (r *PostgresRepository) ConsumeByTokenHash(ctx context.Context, kind string, tokenHash []byte) (*models.OneTimeRequest, error) {
	query := `
		DELETE FROM one_time_requests
		WHERE kind = $1 AND token_hash = $2
		RETURNING kind, token_hash, email, user_id, code_hash, created_at
	`
	return r.scanRequest(r.db.QueryRowContext(ctx, query, kind, tokenHash))
}

func (r *PostgresRepository) ConsumeByEmail(ctx context.Context, kind, email string) (*models.OneTimeRequest, error) {
	query := `
		DELETE FROM one_time_requests
		WHERE kind = $1 AND email = $2
		RETURNING kind, token_hash, email, user_id, code_hash, created_at
	`
	return r.scanRequest(r.db.QueryRowContext(ctx, query, kind, email))
}

func (r *PostgresRepository) DeleteForEmail(ctx context.Context, kind, email string) error {
	query := `
		DELETE FROM one_time_requests
		WHERE kind = $1 AND email = $2
	`
	if _, err := r.db.ExecContext(ctx, query, kind, email); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanRequest(row *sql.Row) (*models.OneTimeRequest, error) {
	req := &models.OneTimeRequest{}
	var email, codeHash sql.NullString
	err := row.Scan(&req.Kind, &req.TokenHash, &email, &req.UserID, &codeHash, &req.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	req.Email = email.String
	req.CodeHash = codeHash.String
	return req, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
