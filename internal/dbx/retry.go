package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the coordinators classify on.
const (
	serializationFailureCode = "40001"
	uniqueViolationCode      = "23505"
)

// maxSerializableAttempts bounds the whole-transaction retry loop. Conflicting
// transaction sets are small and retries rare, so hitting the bound means
// something is wrong; the caller gets ErrTooManyRetries instead of an endless
// loop.
const maxSerializableAttempts = 10

// maxCollisionAttempts bounds identifier rerolls inside one savepoint.
// A fresh 128-bit token colliding even once is already extraordinary.
const maxCollisionAttempts = 10

// ErrTooManyRetries reports that a serializable transaction kept conflicting
// past the retry bound. It is an internal condition; callers must not expose
// it to clients.
var ErrTooManyRetries = errors.New("transaction retried too many times")

// RunSerializable runs fn inside a SERIALIZABLE transaction, transparently
// re-running the whole fn from scratch whenever the store reports a
// serialization failure (two concurrent transactions conflicted and one must
// be redone). Any other error from fn aborts the transaction and is returned
// as-is, so domain failures pass through untouched.
//
// fn may run multiple times and must not have side effects outside the
// transaction handle it is given.
func RunSerializable(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}

	for attempt := 0; attempt < maxSerializableAttempts; attempt++ {
		err := WithTx(ctx, db, opts, fn)
		if err == nil {
			return nil
		}
		if isSerializationFailure(err) {
			continue
		}
		return err
	}

	return fmt.Errorf("%w (limit %d)", ErrTooManyRetries, maxSerializableAttempts)
}

// WithCollisionRetry wraps one collision-prone insert in a savepoint. When the
// insert violates the named unique constraint (a randomly generated identifier
// collided), only the savepoint is rolled back and fn runs again; the caller
// rerolls the identifier inside fn. Work done earlier in the enclosing
// transaction is preserved.
//
// This is deliberately a separate mechanism from RunSerializable: its rollback
// scope is the savepoint, not the transaction.
func WithCollisionRetry(ctx context.Context, tx DBTX, constraint string, fn func(ctx context.Context) error) error {
	for attempt := 0; attempt < maxCollisionAttempts; attempt++ {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT reroll"); err != nil {
			return fmt.Errorf("savepoint: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT reroll"); err != nil {
				return fmt.Errorf("release savepoint: %w", err)
			}
			return nil
		}

		if IsUniqueViolation(err, constraint) {
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT reroll"); err != nil {
				return fmt.Errorf("rollback to savepoint: %w", err)
			}
			continue
		}

		return err
	}

	return fmt.Errorf("%w (identifier collided %d times)", ErrTooManyRetries, maxCollisionAttempts)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode
}

// IsUniqueViolation reports whether err is a unique-constraint violation on
// the given constraint. Repositories use it to map expected conflicts
// (duplicate enrollment, identifier collisions) to domain outcomes.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == uniqueViolationCode &&
		pgErr.ConstraintName == constraint
}
