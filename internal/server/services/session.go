package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/avdeyev/authcore/internal/common"
	"github.com/avdeyev/authcore/internal/server/models"
	"github.com/avdeyev/authcore/internal/server/repositories/repomanager"
	"github.com/avdeyev/authcore/internal/token"
)

// SessionService resolves and revokes sign-in sessions.
type SessionService struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
}

// NewSessionService constructs a SessionService.
func NewSessionService(db *sql.DB, m repomanager.RepositoryManager) *SessionService {
	return &SessionService{db: db, repos: m}
}

// UserByToken resolves a session token to its user and refreshes the
// session's last-used timestamp. An unknown or malformed token yields
// common.ErrorUnauthorized.
func (s *SessionService) UserByToken(ctx context.Context, tokenStr string) (*models.User, error) {
	t, err := token.Parse(tokenStr)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}
	h := t.Hash()

	user, err := s.repos.Users(s.db).GetBySessionTokenHash(ctx, h[:])
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}
	if err := s.repos.Sessions(s.db).Touch(ctx, h[:]); err != nil {
		return nil, err
	}
	return user, nil
}

// SignOut deletes the session named by the token. Signing out a session that
// is already gone is not an error.
func (s *SessionService) SignOut(ctx context.Context, tokenStr string) error {
	t, err := token.Parse(tokenStr)
	if err != nil {
		return nil
	}
	h := t.Hash()
	_, err = s.repos.Sessions(s.db).Delete(ctx, h[:])
	return err
}

// ListSessions returns the user's sessions, most recently used first.
func (s *SessionService) ListSessions(ctx context.Context, userID []byte) ([]*models.Session, error) {
	return s.repos.Sessions(s.db).ListForUser(ctx, userID)
}

// RevokeOtherSessions deletes every session the user has except the one
// named by keepTokenHash.
func (s *SessionService) RevokeOtherSessions(ctx context.Context, userID, keepTokenHash []byte) error {
	return s.repos.Sessions(s.db).DeleteOthersForUser(ctx, userID, keepTokenHash)
}

// RevokeAllSessions deletes every session the user has, including the
// current one.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID []byte) error {
	return s.repos.Sessions(s.db).DeleteAllForUser(ctx, userID)
}
