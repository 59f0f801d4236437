package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avdeyev/authcore/internal/common"
	"github.com/avdeyev/authcore/internal/dbx"
	"github.com/avdeyev/authcore/internal/server/models"
)

// PkeyConstraint is the unique constraint on the random user ID. Violations
// mean an ID collision and are retried with a rerolled ID.
const PkeyConstraint = "users_pkey"

// EmailConstraint is the unique constraint on user emails.
const EmailConstraint = "users_email_key"

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, password_hash)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.Name, user.PasswordHash); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, name, password_hash, created_at
		FROM users
		WHERE email = $1
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id []byte) (*models.User, error) {
	query := `
		SELECT id, email, name, password_hash, created_at
		FROM users
		WHERE id = $1
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetBySessionTokenHash(ctx context.Context, tokenHash []byte) (*models.User, error) {
	query := `
		SELECT users.id, users.email, users.name, users.password_hash, users.created_at
		FROM users
		INNER JOIN sessions ON sessions.user_id = users.id
		WHERE sessions.token_hash = $1
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, tokenHash))
}

func (r *PostgresRepository) GetPasswordHash(ctx context.Context, id []byte) (string, error) {
	query := `
		SELECT password_hash
		FROM users
		WHERE id = $1
	`
	var hash string
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return hash, nil
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id []byte, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $1
		WHERE id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, passwordHash, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateName(ctx context.Context, id []byte, name string) error {
	query := `
		UPDATE users
		SET name = $1
		WHERE id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, name, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateEmail(ctx context.Context, id []byte, email string) error {
	query := `
		UPDATE users
		SET email = $1
		WHERE id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, email, id); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}
