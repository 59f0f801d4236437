package services

import (
	"context"
	"database/sql"
	"encoding/hex"
	"testing"
	"time"

	"github.com/avdeyev/authcore/internal/common"
	"github.com/avdeyev/authcore/internal/cryptox"
	"github.com/avdeyev/authcore/internal/server/captcha"
	"github.com/avdeyev/authcore/internal/server/config"
	"github.com/avdeyev/authcore/internal/server/credentials"
	"github.com/avdeyev/authcore/internal/server/models"
	"github.com/avdeyev/authcore/internal/token"
	"github.com/avdeyev/authcore/internal/totpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccountService(t *testing.T, db *sql.DB, rm *fakeRepoManager) (*AccountService, *recordingMailer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	mailer := &recordingMailer{}
	v := credentials.NewVerifier(rm)
	return NewAccountService(db, rm, v, mailer, captcha.AllowAll{}, cfg, nopLogger{}), mailer
}

func seedUser(rm *fakeRepoManager, email, password string) *models.User {
	id := token.GenerateUserID()
	u := &models.User{ID: id[:], Email: email, Name: "User", PasswordHash: cryptox.HashPassword(password)}
	rm.users.add(u)
	return u
}

func TestSignIn_UnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	seedUser(rm, "alice@example.com", "right")
	s, _ := newAccountService(t, db, rm)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, errUnknown := s.SignIn(context.Background(), "ghost@example.com", "right", nil)
	_, errWrong := s.SignIn(context.Background(), "alice@example.com", "wrong", nil)

	require.ErrorIs(t, errUnknown, common.ErrUserCredentialsWrong)
	require.ErrorIs(t, errWrong, common.ErrUserCredentialsWrong)
	assert.Equal(t, errUnknown.Error(), errWrong.Error(),
		"the two failure modes must be indistinguishable to the caller")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignIn_Success(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(rm, "alice@example.com", "right")
	s, _ := newAccountService(t, db, rm)

	expectTxWithSavepoints(mock, 1)

	tok, err := s.SignIn(context.Background(), "alice@example.com", "right", nil)
	require.NoError(t, err)

	h := tok.Hash()
	assert.Equal(t, u.ID, rm.sessions.byHash[hex.EncodeToString(h[:])])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignIn_SecondFactorRequiredWhenEnabled(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	seedUser(rm, "alice@example.com", "right")
	rm.totp.secret = []byte("12345678901234567890")
	s, _ := newAccountService(t, db, rm)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.SignIn(context.Background(), "alice@example.com", "right", nil)
	require.ErrorIs(t, err, common.ErrSecondFactorWrong)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignIn_WithTOTPCode(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	seedUser(rm, "alice@example.com", "right")
	secret := []byte("12345678901234567890")
	rm.totp.secret = secret
	s, _ := newAccountService(t, db, rm)

	expectTxWithSavepoints(mock, 1)

	code := totpx.Generate(secret, time.Now())
	_, err := s.SignIn(context.Background(), "alice@example.com", "right", &code)
	require.NoError(t, err)
	assert.Equal(t, code, rm.totp.lastUsed, "an accepted code must enter the replay window")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignIn_DifferentlyCasedEmailIsSameAccount(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(rm, "alice@example.com", "right")
	s, _ := newAccountService(t, db, rm)

	expectTxWithSavepoints(mock, 1)

	tok, err := s.SignIn(context.Background(), "Alice@EXAMPLE.com", "right", nil)
	require.NoError(t, err)

	h := tok.Hash()
	assert.Equal(t, u.ID, rm.sessions.byHash[hex.EncodeToString(h[:])])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestSignUp_NormalizesAddress(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	s, mailer := newAccountService(t, db, rm)

	expectTxWithSavepoints(mock, 1)

	require.NoError(t, s.RequestSignUp(context.Background(), " Alice@Example.COM ", "ok"))

	require.Len(t, rm.reqs.reqs, 1)
	assert.Equal(t, "alice@example.com", rm.reqs.reqs[0].Email,
		"the stored request must carry the canonical address")
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "alice@example.com", mailer.sent[0].To)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignUp_ByTokenCreatesUserAndSession(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	s, _ := newAccountService(t, db, rm)

	reqToken := token.Generate()
	h := reqToken.Hash()
	rm.reqs.reqs = append(rm.reqs.reqs, &models.OneTimeRequest{
		Kind: models.RequestKindSignUp, TokenHash: h[:], Email: "new@example.com",
	})

	// One savepoint for the user insert, one for the session.
	expectTxWithSavepoints(mock, 2)

	user, tok, err := s.SignUp(context.Background(), SignUpParams{
		Token: reqToken.String(), Name: "New User", Password: "hunter2",
	})
	require.NoError(t, err)

	require.Len(t, user.ID, token.UserIDSize)
	assert.Equal(t, "new@example.com", user.Email)
	assert.True(t, cryptox.VerifyPassword("hunter2", user.PasswordHash))
	assert.Empty(t, rm.reqs.reqs, "the verification request must be consumed")

	sh := tok.Hash()
	assert.Equal(t, user.ID, rm.sessions.byHash[hex.EncodeToString(sh[:])])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignUp_UserIDCollisionRerolls(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	rm.users.pkeyFailures = 1
	s, _ := newAccountService(t, db, rm)

	reqToken := token.Generate()
	h := reqToken.Hash()
	rm.reqs.reqs = append(rm.reqs.reqs, &models.OneTimeRequest{
		Kind: models.RequestKindSignUp, TokenHash: h[:], Email: "new@example.com",
	})

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT reroll`).WillReturnResult(sqlmockResultOK())
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT reroll`).WillReturnResult(sqlmockResultOK())
	mock.ExpectExec(`SAVEPOINT reroll`).WillReturnResult(sqlmockResultOK())
	mock.ExpectExec(`RELEASE SAVEPOINT reroll`).WillReturnResult(sqlmockResultOK())
	mock.ExpectExec(`SAVEPOINT reroll`).WillReturnResult(sqlmockResultOK())
	mock.ExpectExec(`RELEASE SAVEPOINT reroll`).WillReturnResult(sqlmockResultOK())
	mock.ExpectCommit()

	user, _, err := s.SignUp(context.Background(), SignUpParams{
		Token: reqToken.String(), Name: "New User", Password: "hunter2",
	})
	require.NoError(t, err, "a colliding user ID must be rerolled, not surfaced")
	require.Len(t, rm.users.byID, 1)
	require.Len(t, user.ID, token.UserIDSize)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignUp_WrongCodeLeavesRequestLive(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	s, _ := newAccountService(t, db, rm)

	rm.reqs.reqs = append(rm.reqs.reqs, &models.OneTimeRequest{
		Kind: models.RequestKindSignUp, Email: "new@example.com",
		CodeHash: cryptox.HashPassword("ABC123"),
	})

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, _, err := s.SignUp(context.Background(), SignUpParams{
		Email: "new@example.com", Code: "WRONG1", Name: "New", Password: "hunter2",
	})
	require.ErrorIs(t, err, common.ErrEmailVerificationWrong)
	assert.Len(t, rm.reqs.reqs, 1, "a wrong code must not consume the request")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignUp_EmailAlreadyTaken(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	seedUser(rm, "taken@example.com", "pw")
	s, _ := newAccountService(t, db, rm)

	reqToken := token.Generate()
	h := reqToken.Hash()
	rm.reqs.reqs = append(rm.reqs.reqs, &models.OneTimeRequest{
		Kind: models.RequestKindSignUp, TokenHash: h[:], Email: "taken@example.com",
	})

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT reroll`).WillReturnResult(sqlmockResultOK())
	mock.ExpectRollback()

	_, _, err := s.SignUp(context.Background(), SignUpParams{
		Token: reqToken.String(), Name: "New", Password: "hunter2",
	})
	require.ErrorIs(t, err, common.ErrorAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestSignUp_NewEmail(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	s, mailer := newAccountService(t, db, rm)

	expectTxWithSavepoints(mock, 1)

	require.NoError(t, s.RequestSignUp(context.Background(), "new@example.com", "captcha-ok"))

	require.Len(t, rm.reqs.reqs, 1)
	req := rm.reqs.reqs[0]
	assert.Equal(t, models.RequestKindSignUp, req.Kind)
	assert.Equal(t, "new@example.com", req.Email)
	assert.NotEmpty(t, req.CodeHash)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "new@example.com", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Body, "/sign-up/verify?token=")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestSignUp_ExistingEmailSendsNoticeOnly(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	seedUser(rm, "alice@example.com", "pw")
	s, mailer := newAccountService(t, db, rm)

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, s.RequestSignUp(context.Background(), "alice@example.com", "captcha-ok"))

	assert.Empty(t, rm.reqs.reqs, "no verification request for an already registered address")
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "You already have an account", mailer.sent[0].Subject)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePassword_KeepsOnlyCurrentSession(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(rm, "alice@example.com", "old")
	s, _ := newAccountService(t, db, rm)

	keep := token.Generate().Hash()
	other := token.Generate().Hash()
	rm.sessions.byHash[hex.EncodeToString(keep[:])] = u.ID
	rm.sessions.byHash[hex.EncodeToString(other[:])] = u.ID

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := s.ChangePassword(context.Background(), u.ID, keep[:], credentials.Password{Plaintext: "old"}, "new")
	require.NoError(t, err)

	assert.True(t, cryptox.VerifyPassword("new", u.PasswordHash))
	assert.Contains(t, rm.sessions.byHash, hex.EncodeToString(keep[:]))
	assert.NotContains(t, rm.sessions.byHash, hex.EncodeToString(other[:]))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestPasswordReset_UnknownEmailIsSilentlyOK(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	s, mailer := newAccountService(t, db, rm)

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, s.RequestPasswordReset(context.Background(), "ghost@example.com", "captcha-ok"))
	assert.Empty(t, mailer.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFulfillPasswordReset(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(rm, "alice@example.com", "old")
	s, _ := newAccountService(t, db, rm)

	old := token.Generate().Hash()
	rm.sessions.byHash[hex.EncodeToString(old[:])] = u.ID

	reqToken := token.Generate()
	h := reqToken.Hash()
	rm.reqs.reqs = append(rm.reqs.reqs, &models.OneTimeRequest{
		Kind: models.RequestKindPasswordReset, TokenHash: h[:], Email: u.Email, UserID: u.ID,
	})

	expectTxWithSavepoints(mock, 1)

	newTok, err := s.FulfillPasswordReset(context.Background(), reqToken.String(), nil, "fresh")
	require.NoError(t, err)

	assert.True(t, cryptox.VerifyPassword("fresh", u.PasswordHash))
	assert.Empty(t, rm.reqs.reqs)
	assert.NotContains(t, rm.sessions.byHash, hex.EncodeToString(old[:]),
		"every pre-reset session must be revoked")
	nh := newTok.Hash()
	assert.Contains(t, rm.sessions.byHash, hex.EncodeToString(nh[:]))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFulfillPasswordReset_RequiresSecondFactorWhenEnabled(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(rm, "alice@example.com", "old")
	rm.totp.secret = []byte("12345678901234567890")
	s, _ := newAccountService(t, db, rm)

	reqToken := token.Generate()
	h := reqToken.Hash()
	rm.reqs.reqs = append(rm.reqs.reqs, &models.OneTimeRequest{
		Kind: models.RequestKindPasswordReset, TokenHash: h[:], Email: u.Email, UserID: u.ID,
	})

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.FulfillPasswordReset(context.Background(), reqToken.String(), nil, "fresh")
	require.ErrorIs(t, err, common.ErrSecondFactorWrong,
		"a stolen reset link alone must not defeat a second factor")
	assert.False(t, cryptox.VerifyPassword("fresh", u.PasswordHash))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestEmailChange_TakenAddress(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(rm, "alice@example.com", "pw")
	seedUser(rm, "bob@example.com", "pw")
	s, mailer := newAccountService(t, db, rm)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.RequestEmailChange(context.Background(), u.ID, "bob@example.com")
	require.ErrorIs(t, err, common.ErrorAlreadyExists)
	assert.Empty(t, mailer.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyEmailChange(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(rm, "alice@example.com", "pw")
	s, _ := newAccountService(t, db, rm)

	reqToken := token.Generate()
	h := reqToken.Hash()
	rm.reqs.reqs = append(rm.reqs.reqs, &models.OneTimeRequest{
		Kind: models.RequestKindEmailChange, TokenHash: h[:], Email: "alice@new.example", UserID: u.ID,
	})

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, s.VerifyEmailChange(context.Background(), reqToken.String()))
	assert.Equal(t, "alice@new.example", u.Email)
	assert.Empty(t, rm.reqs.reqs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeName(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(rm, "alice@example.com", "pw")
	s, _ := newAccountService(t, db, rm)

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, s.ChangeName(context.Background(), u.ID, credentials.Password{Plaintext: "pw"}, "New Name"))
	assert.Equal(t, "New Name", u.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyCredentials_WrongPassword(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(rm, "alice@example.com", "pw")
	s, _ := newAccountService(t, db, rm)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.VerifyCredentials(context.Background(), u.ID, credentials.Password{Plaintext: "nope"})
	require.ErrorIs(t, err, common.ErrFirstFactorWrong)
	require.NoError(t, mock.ExpectationsWereMet())
}
