package services

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/avdeyev/authcore/internal/common"
	"github.com/avdeyev/authcore/internal/dbx"
	"github.com/avdeyev/authcore/internal/logging"
	"github.com/avdeyev/authcore/internal/server/mail"
	"github.com/avdeyev/authcore/internal/server/models"
	onetimereqsrepo "github.com/avdeyev/authcore/internal/server/repositories/onetimereqs"
	sessionsrepo "github.com/avdeyev/authcore/internal/server/repositories/sessions"
	totprepo "github.com/avdeyev/authcore/internal/server/repositories/totp"
	usersrepo "github.com/avdeyev/authcore/internal/server/repositories/users"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// --- shared test plumbing ---
//
// Services are tested against in-memory repository fakes; sqlmock provides
// only the transaction and savepoint control surface.

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// expectTxWithSavepoints registers expectations for one committed
// transaction containing n released savepoints.
func expectTxWithSavepoints(mock sqlmock.Sqlmock, n int) {
	mock.ExpectBegin()
	for i := 0; i < n; i++ {
		mock.ExpectExec(`SAVEPOINT reroll`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`RELEASE SAVEPOINT reroll`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()
}

func sqlmockResultOK() driver.Result { return sqlmock.NewResult(0, 0) }

func uniqueViolation(constraint string) *pgconn.PgError {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value"}
}

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, args ...any) {}
func (nopLogger) Info(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Warn(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Error(ctx context.Context, msg string, args ...any) {}
func (nopLogger) With(args ...any) logging.Logger                    { return nopLogger{} }

// recordingMailer captures sent messages.
type recordingMailer struct {
	sent []mail.Message
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

// --- users fake ---

type fakeUsers struct {
	byID map[string]*models.User // hex id → user

	// pkeyFailures makes the next n Creates collide on users_pkey.
	pkeyFailures int

	sessions *fakeSessions
}

func newFakeUsers(sessions *fakeSessions) *fakeUsers {
	return &fakeUsers{byID: map[string]*models.User{}, sessions: sessions}
}

func (f *fakeUsers) add(u *models.User) { f.byID[hex.EncodeToString(u.ID)] = u }

func (f *fakeUsers) Create(ctx context.Context, user *models.User) error {
	if f.pkeyFailures > 0 {
		f.pkeyFailures--
		return uniqueViolation(usersrepo.PkeyConstraint)
	}
	for _, u := range f.byID {
		if u.Email == user.Email {
			return uniqueViolation(usersrepo.EmailConstraint)
		}
	}
	cp := *user
	f.add(&cp)
	return nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsers) GetByID(ctx context.Context, id []byte) (*models.User, error) {
	if u, ok := f.byID[hex.EncodeToString(id)]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsers) GetBySessionTokenHash(ctx context.Context, tokenHash []byte) (*models.User, error) {
	userID, ok := f.sessions.byHash[hex.EncodeToString(tokenHash)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return f.GetByID(ctx, userID)
}

func (f *fakeUsers) GetPasswordHash(ctx context.Context, id []byte) (string, error) {
	u, err := f.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.PasswordHash, nil
}

func (f *fakeUsers) UpdatePassword(ctx context.Context, id []byte, passwordHash string) error {
	u, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeUsers) UpdateName(ctx context.Context, id []byte, name string) error {
	u, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.Name = name
	return nil
}

func (f *fakeUsers) UpdateEmail(ctx context.Context, id []byte, email string) error {
	for _, u := range f.byID {
		if u.Email == email {
			return uniqueViolation(usersrepo.EmailConstraint)
		}
	}
	u, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.Email = email
	return nil
}

// --- sessions fake ---

type fakeSessions struct {
	byHash map[string][]byte // hex token hash → user id

	// createFailures makes the next n Creates collide on sessions_pkey.
	createFailures int
	touched        int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byHash: map[string][]byte{}}
}

func (f *fakeSessions) Create(ctx context.Context, tokenHash, userID []byte) error {
	if f.createFailures > 0 {
		f.createFailures--
		return uniqueViolation(sessionsrepo.PkeyConstraint)
	}
	f.byHash[hex.EncodeToString(tokenHash)] = userID
	return nil
}

func (f *fakeSessions) Delete(ctx context.Context, tokenHash []byte) (bool, error) {
	key := hex.EncodeToString(tokenHash)
	_, ok := f.byHash[key]
	delete(f.byHash, key)
	return ok, nil
}

func (f *fakeSessions) DeleteAllForUser(ctx context.Context, userID []byte) error {
	for k, id := range f.byHash {
		if bytes.Equal(id, userID) {
			delete(f.byHash, k)
		}
	}
	return nil
}

func (f *fakeSessions) DeleteOthersForUser(ctx context.Context, userID, keepTokenHash []byte) error {
	keep := hex.EncodeToString(keepTokenHash)
	for k, id := range f.byHash {
		if bytes.Equal(id, userID) && k != keep {
			delete(f.byHash, k)
		}
	}
	return nil
}

func (f *fakeSessions) Touch(ctx context.Context, tokenHash []byte) error {
	f.touched++
	return nil
}

func (f *fakeSessions) ListForUser(ctx context.Context, userID []byte) ([]*models.Session, error) {
	var result []*models.Session
	for h, uid := range f.byHash {
		if hex.EncodeToString(uid) != hex.EncodeToString(userID) {
			continue
		}
		th, _ := hex.DecodeString(h)
		result = append(result, &models.Session{TokenHash: th, UserID: uid})
	}
	return result, nil
}

// --- one-time requests fake ---

type fakeReqs struct {
	reqs []*models.OneTimeRequest
}

func (f *fakeReqs) ReplaceForEmail(ctx context.Context, req *models.OneTimeRequest) error {
	kept := f.reqs[:0]
	for _, r := range f.reqs {
		if !(r.Kind == req.Kind && r.Email == req.Email) {
			kept = append(kept, r)
		}
	}
	f.reqs = append(kept, req)
	return nil
}

func (f *fakeReqs) ReplaceForUser(ctx context.Context, req *models.OneTimeRequest) error {
	kept := f.reqs[:0]
	for _, r := range f.reqs {
		if !(r.Kind == req.Kind && bytes.Equal(r.UserID, req.UserID)) {
			kept = append(kept, r)
		}
	}
	f.reqs = append(kept, req)
	return nil
}

func (f *fakeReqs) FindByTokenHash(ctx context.Context, kind string, tokenHash []byte) (*models.OneTimeRequest, error) {
	for _, r := range f.reqs {
		if r.Kind == kind && bytes.Equal(r.TokenHash, tokenHash) {
			return r, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeReqs) FindByEmail(ctx context.Context, kind, email string) (*models.OneTimeRequest, error) {
	for _, r := range f.reqs {
		if r.Kind == kind && r.Email == email {
			return r, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeReqs) ConsumeByTokenHash(ctx context.Context, kind string, tokenHash []byte) (*models.OneTimeRequest, error) {
	for i, r := range f.reqs {
		if r.Kind == kind && bytes.Equal(r.TokenHash, tokenHash) {
			f.reqs = append(f.reqs[:i], f.reqs[i+1:]...)
			return r, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeReqs) ConsumeByEmail(ctx context.Context, kind, email string) (*models.OneTimeRequest, error) {
	for i, r := range f.reqs {
		if r.Kind == kind && r.Email == email {
			f.reqs = append(f.reqs[:i], f.reqs[i+1:]...)
			return r, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeReqs) DeleteForEmail(ctx context.Context, kind, email string) error {
	kept := f.reqs[:0]
	for _, r := range f.reqs {
		if !(r.Kind == kind && r.Email == email) {
			kept = append(kept, r)
		}
	}
	f.reqs = kept
	return nil
}

// --- totp fake ---

type fakeTOTP struct {
	secret     []byte
	staged     []byte
	lastUsed   string
	secondLast string
	backup     map[string]bool // hex code hash → unused
}

func (f *fakeTOTP) IsEnabled(ctx context.Context, userID []byte) (bool, error) {
	return f.secret != nil, nil
}

func (f *fakeTOTP) ConsumeBackupCode(ctx context.Context, userID, codeHash []byte) (bool, error) {
	key := hex.EncodeToString(codeHash)
	if f.backup[key] {
		delete(f.backup, key)
		return true, nil
	}
	return false, nil
}

func (f *fakeTOTP) RecordCode(ctx context.Context, userID []byte, code string) ([]byte, bool, error) {
	if f.secret == nil || code == f.lastUsed || code == f.secondLast {
		return nil, false, nil
	}
	f.secondLast = f.lastUsed
	f.lastUsed = code
	return f.secret, true, nil
}

func (f *fakeTOTP) StageEnrollment(ctx context.Context, userID, secret []byte) error {
	if f.secret != nil {
		return common.ErrorAlreadyExists
	}
	f.staged = secret
	return nil
}

func (f *fakeTOTP) ConfirmEnrollment(ctx context.Context, userID, secret []byte, confirmingCode string, backupCodeHashes [][]byte) (bool, error) {
	if f.secret != nil || !bytes.Equal(f.staged, secret) {
		return false, nil
	}
	f.secret = f.staged
	f.staged = nil
	f.lastUsed = confirmingCode
	f.backup = map[string]bool{}
	for _, h := range backupCodeHashes {
		f.backup[hex.EncodeToString(h)] = true
	}
	return true, nil
}

func (f *fakeTOTP) Disable(ctx context.Context, userID []byte) (bool, error) {
	existed := f.secret != nil || f.staged != nil
	f.secret, f.staged = nil, nil
	return existed, nil
}

// --- repository manager fake ---

type fakeRepoManager struct {
	users    *fakeUsers
	sessions *fakeSessions
	reqs     *fakeReqs
	totp     *fakeTOTP
}

func newFakeRepoManager() *fakeRepoManager {
	sessions := newFakeSessions()
	return &fakeRepoManager{
		users:    newFakeUsers(sessions),
		sessions: sessions,
		reqs:     &fakeReqs{},
		totp:     &fakeTOTP{},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository       { return m.users }
func (m *fakeRepoManager) Sessions(db dbx.DBTX) sessionsrepo.Repository { return m.sessions }
func (m *fakeRepoManager) OneTimeRequests(db dbx.DBTX) onetimereqsrepo.Repository {
	return m.reqs
}
func (m *fakeRepoManager) TOTP(db dbx.DBTX) totprepo.Repository { return m.totp }
