// Package services contains the server-side business logic. Each operation
// that touches more than one row runs inside a single serializable
// transaction, so concurrent submissions of the same token or code cannot
// both succeed.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avdeyev/authcore/internal/common"
	"github.com/avdeyev/authcore/internal/cryptox"
	"github.com/avdeyev/authcore/internal/dbx"
	"github.com/avdeyev/authcore/internal/logging"
	"github.com/avdeyev/authcore/internal/server/captcha"
	"github.com/avdeyev/authcore/internal/server/config"
	"github.com/avdeyev/authcore/internal/server/credentials"
	"github.com/avdeyev/authcore/internal/server/mail"
	"github.com/avdeyev/authcore/internal/server/models"
	"github.com/avdeyev/authcore/internal/server/repositories/onetimereqs"
	"github.com/avdeyev/authcore/internal/server/repositories/repomanager"
	"github.com/avdeyev/authcore/internal/server/repositories/sessions"
	"github.com/avdeyev/authcore/internal/server/repositories/users"
	"github.com/avdeyev/authcore/internal/token"
)

// emailCodeLength is the length of the short code offered as an alternative
// to the emailed link.
const emailCodeLength = 6

// dummyPasswordHash is verified against when sign-in hits an unknown email,
// so the unknown-email path costs about as much as the wrong-password path.
var dummyPasswordHash = cryptox.HashPassword("dummy")

// AccountService implements account lifecycle operations: sign-up with email
// verification, sign-in, password change and reset, email change, and
// display-name change.
type AccountService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	verifier *credentials.Verifier
	mailer   mail.Mailer
	captcha  captcha.Verifier
	baseURL  string
	logger   logging.Logger
}

// NewAccountService constructs an AccountService.
func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, v *credentials.Verifier,
	mailer mail.Mailer, cv captcha.Verifier, cfg *config.Config, logger logging.Logger) *AccountService {
	return &AccountService{
		db:       db,
		repos:    m,
		verifier: v,
		mailer:   mailer,
		captcha:  cv,
		baseURL:  cfg.BaseURL,
		logger:   logger,
	}
}

// RequestSignUp issues an email-verification request for a new account and
// mails a link plus a short code. When the address already has an account it
// mails a notice instead; the caller sees the same result either way, so the
// endpoint does not reveal which addresses are registered.
func (s *AccountService) RequestSignUp(ctx context.Context, email, captchaResponse string) error {
	email = normalizeEmail(email)

	ok, err := s.captcha.Verify(ctx, captchaResponse)
	if err != nil {
		return fmt.Errorf("error verifying captcha: %w", err)
	}
	if !ok {
		return common.ErrCaptchaFailed
	}

	code := cryptox.GenerateShortCode(emailCodeLength)
	var msg mail.Message

	err = dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.repos.Users(tx).GetByEmail(ctx, email)
		if err == nil {
			msg = s.accountExistsMail(email)
			return nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		t, err := s.createOneTimeRequest(ctx, tx, &models.OneTimeRequest{
			Kind:  models.RequestKindSignUp,
			Email: email,
			// Short codes are guessable, so unlike the token they get the
			// salted slow hash.
			CodeHash: cryptox.HashPassword(code),
		}, false)
		if err != nil {
			return err
		}
		msg = s.signUpMail(email, t, code)
		return nil
	})
	if err != nil {
		return err
	}

	// Deliver only after the request row is committed, so a mailed link is
	// never dead on arrival.
	return s.mailer.Send(ctx, msg)
}

// SignUpParams carries one sign-up submission. Either Token, or Email plus
// Code, must identify a live email-verification request.
type SignUpParams struct {
	Token    string
	Email    string
	Code     string
	Name     string
	Password string
}

// SignUp consumes the email-verification request, creates the user, and
// signs them in. A verification mismatch of any kind comes back as
// common.ErrEmailVerificationWrong.
func (s *AccountService) SignUp(ctx context.Context, p SignUpParams) (*models.User, token.Token, error) {
	p.Email = normalizeEmail(p.Email)
	passwordHash := cryptox.HashPassword(p.Password)

	var user *models.User
	var sessionToken token.Token

	err := dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		req, err := s.consumeSignUpRequest(ctx, tx, p)
		if err != nil {
			return err
		}

		// A pending change to another account's email must not survive this
		// address being claimed.
		if err := s.repos.OneTimeRequests(tx).DeleteForEmail(ctx, models.RequestKindEmailChange, req.Email); err != nil {
			return err
		}

		user = &models.User{Email: req.Email, Name: p.Name, PasswordHash: passwordHash}

		id := token.GenerateUserID()
		err = dbx.WithCollisionRetry(ctx, tx, users.PkeyConstraint, func(ctx context.Context) error {
			user.ID = id[:]
			err := s.repos.Users(tx).Create(ctx, user)
			if dbx.IsUniqueViolation(err, users.PkeyConstraint) {
				id.Reroll()
			}
			return err
		})
		if err != nil {
			if dbx.IsUniqueViolation(err, users.EmailConstraint) {
				return common.ErrorAlreadyExists
			}
			return err
		}

		sessionToken, err = s.createSession(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, token.Token{}, err
	}
	return user, sessionToken, nil
}

func (s *AccountService) consumeSignUpRequest(ctx context.Context, tx dbx.DBTX, p SignUpParams) (*models.OneTimeRequest, error) {
	reqs := s.repos.OneTimeRequests(tx)

	if p.Token != "" {
		t, err := token.Parse(p.Token)
		if err != nil {
			return nil, common.ErrEmailVerificationWrong
		}
		h := t.Hash()
		req, err := reqs.ConsumeByTokenHash(ctx, models.RequestKindSignUp, h[:])
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrEmailVerificationWrong
		}
		return req, err
	}

	req, err := reqs.FindByEmail(ctx, models.RequestKindSignUp, p.Email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrEmailVerificationWrong
		}
		return nil, err
	}
	if !cryptox.VerifyPassword(p.Code, req.CodeHash) {
		return nil, common.ErrEmailVerificationWrong
	}
	return reqs.ConsumeByEmail(ctx, models.RequestKindSignUp, p.Email)
}

// SignIn verifies an email and password, plus a one-time code when the user
// has a second factor enabled, and creates a session.
//
// An unknown email and a wrong password produce the same
// common.ErrUserCredentialsWrong; a second-factor failure keeps its own
// error so clients know to prompt for a code.
func (s *AccountService) SignIn(ctx context.Context, email, password string, otp *string) (token.Token, error) {
	email = normalizeEmail(email)

	var sessionToken token.Token

	err := dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repos.Users(tx).GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				cryptox.VerifyPassword(password, dummyPasswordHash)
				return common.ErrUserCredentialsWrong
			}
			return err
		}

		cred := credentials.FirstAndSecond{First: credentials.Password{Plaintext: password}}
		if otp != nil {
			cred.Second = &credentials.OTP{Code: *otp}
		}
		if err := s.verifier.Verify(ctx, tx, user.ID, cred); err != nil {
			if errors.Is(err, common.ErrFirstFactorWrong) {
				return common.ErrUserCredentialsWrong
			}
			return err
		}

		sessionToken, err = s.createSession(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return token.Token{}, err
	}
	return sessionToken, nil
}

// VerifyCredentials re-verifies an already signed-in user's credentials, for
// confirming sensitive operations.
func (s *AccountService) VerifyCredentials(ctx context.Context, userID []byte, cred credentials.Credential) error {
	return dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		return s.verifier.Verify(ctx, tx, userID, cred)
	})
}

// ChangePassword verifies the current password, updates the hash, and signs
// out every other session. The session named by keepTokenHash survives.
func (s *AccountService) ChangePassword(ctx context.Context, userID, keepTokenHash []byte, current credentials.Password, newPassword string) error {
	newHash := cryptox.HashPassword(newPassword)

	return dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.verifier.VerifyFirst(ctx, tx, userID, current); err != nil {
			return err
		}
		if err := s.repos.Users(tx).UpdatePassword(ctx, userID, newHash); err != nil {
			return err
		}
		return s.repos.Sessions(tx).DeleteOthersForUser(ctx, userID, keepTokenHash)
	})
}

// RequestPasswordReset issues a password-reset request and mails its link.
// An unknown email is reported as success to the caller; only the log knows.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email, captchaResponse string) error {
	email = normalizeEmail(email)

	ok, err := s.captcha.Verify(ctx, captchaResponse)
	if err != nil {
		return fmt.Errorf("error verifying captcha: %w", err)
	}
	if !ok {
		return common.ErrCaptchaFailed
	}

	var msg *mail.Message

	err = dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repos.Users(tx).GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				s.logger.Info(ctx, "password reset requested for unknown email")
				return nil
			}
			return err
		}

		t, err := s.createOneTimeRequest(ctx, tx, &models.OneTimeRequest{
			Kind:   models.RequestKindPasswordReset,
			Email:  email,
			UserID: user.ID,
		}, true)
		if err != nil {
			return err
		}
		m := s.passwordResetMail(email, t)
		msg = &m
		return nil
	})
	if err != nil || msg == nil {
		return err
	}
	return s.mailer.Send(ctx, *msg)
}

// CheckPasswordReset reports whether the token names a live password-reset
// request, without consuming it. Lets the reset form fail fast on dead links.
func (s *AccountService) CheckPasswordReset(ctx context.Context, tokenStr string) error {
	t, err := token.Parse(tokenStr)
	if err != nil {
		return common.ErrorNotFound
	}
	h := t.Hash()
	_, err = s.repos.OneTimeRequests(s.db).FindByTokenHash(ctx, models.RequestKindPasswordReset, h[:])
	return err
}

// FulfillPasswordReset consumes the reset request, verifies the user's
// second factor (required when one is enabled), sets the new password,
// revokes every session, and signs the user in fresh.
func (s *AccountService) FulfillPasswordReset(ctx context.Context, tokenStr string, otp *string, newPassword string) (token.Token, error) {
	newHash := cryptox.HashPassword(newPassword)

	var sessionToken token.Token

	err := dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		t, err := token.Parse(tokenStr)
		if err != nil {
			return common.ErrorNotFound
		}
		h := t.Hash()
		req, err := s.repos.OneTimeRequests(tx).ConsumeByTokenHash(ctx, models.RequestKindPasswordReset, h[:])
		if err != nil {
			return err
		}

		// A stolen reset link alone must not defeat a second factor.
		var cred *credentials.OTP
		if otp != nil {
			cred = &credentials.OTP{Code: *otp}
		}
		if err := s.verifier.VerifySecond(ctx, tx, req.UserID, cred); err != nil {
			return err
		}

		if err := s.repos.Users(tx).UpdatePassword(ctx, req.UserID, newHash); err != nil {
			return err
		}
		if err := s.repos.Sessions(tx).DeleteAllForUser(ctx, req.UserID); err != nil {
			return err
		}
		sessionToken, err = s.createSession(ctx, tx, req.UserID)
		return err
	})
	if err != nil {
		return token.Token{}, err
	}
	return sessionToken, nil
}

// RequestEmailChange issues an email-change request for the new address and
// mails a verification link to it. The caller must already have re-verified
// their credentials.
func (s *AccountService) RequestEmailChange(ctx context.Context, userID []byte, newEmail string) error {
	newEmail = normalizeEmail(newEmail)

	var msg mail.Message

	err := dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.repos.Users(tx).GetByEmail(ctx, newEmail)
		if err == nil {
			return common.ErrorAlreadyExists
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		t, err := s.createOneTimeRequest(ctx, tx, &models.OneTimeRequest{
			Kind:   models.RequestKindEmailChange,
			Email:  newEmail,
			UserID: userID,
		}, true)
		if err != nil {
			return err
		}
		msg = s.emailChangeMail(newEmail, t)
		return nil
	})
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}

// VerifyEmailChange consumes the email-change request and moves the account
// to the new address.
func (s *AccountService) VerifyEmailChange(ctx context.Context, tokenStr string) error {
	return dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		t, err := token.Parse(tokenStr)
		if err != nil {
			return common.ErrorNotFound
		}
		h := t.Hash()
		req, err := s.repos.OneTimeRequests(tx).ConsumeByTokenHash(ctx, models.RequestKindEmailChange, h[:])
		if err != nil {
			return err
		}
		if err := s.repos.Users(tx).UpdateEmail(ctx, req.UserID, req.Email); err != nil {
			// The address was claimed between request and verification.
			if dbx.IsUniqueViolation(err, users.EmailConstraint) {
				return common.ErrorAlreadyExists
			}
			return err
		}
		return nil
	})
}

// ChangeName verifies the password and updates the display name.
func (s *AccountService) ChangeName(ctx context.Context, userID []byte, current credentials.Password, newName string) error {
	return dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.verifier.VerifyFirst(ctx, tx, userID, current); err != nil {
			return err
		}
		return s.repos.Users(tx).UpdateName(ctx, userID, newName)
	})
}

// createSession inserts a session for the user and returns its plaintext
// token, rerolling on the astronomically unlikely hash collision.
func (s *AccountService) createSession(ctx context.Context, tx dbx.DBTX, userID []byte) (token.Token, error) {
	t := token.Generate()
	err := dbx.WithCollisionRetry(ctx, tx, sessions.PkeyConstraint, func(ctx context.Context) error {
		h := t.Hash()
		err := s.repos.Sessions(tx).Create(ctx, h[:], userID)
		if dbx.IsUniqueViolation(err, sessions.PkeyConstraint) {
			t.Reroll()
		}
		return err
	})
	if err != nil {
		return token.Token{}, err
	}
	return t, nil
}

// createOneTimeRequest fills in the request token, stores the request with
// reroll-on-collision, and returns the plaintext token for the emailed link.
// byUser selects which replacement scope applies.
func (s *AccountService) createOneTimeRequest(ctx context.Context, tx dbx.DBTX, req *models.OneTimeRequest, byUser bool) (token.Token, error) {
	reqs := s.repos.OneTimeRequests(tx)

	t := token.Generate()
	err := dbx.WithCollisionRetry(ctx, tx, onetimereqs.TokenHashConstraint, func(ctx context.Context) error {
		h := t.Hash()
		req.TokenHash = h[:]
		var err error
		if byUser {
			err = reqs.ReplaceForUser(ctx, req)
		} else {
			err = reqs.ReplaceForEmail(ctx, req)
		}
		if dbx.IsUniqueViolation(err, onetimereqs.TokenHashConstraint) {
			t.Reroll()
		}
		return err
	})
	if err != nil {
		return token.Token{}, err
	}
	return t, nil
}
