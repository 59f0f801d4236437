package services

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/avdeyev/authcore/internal/common"
	"github.com/avdeyev/authcore/internal/cryptox"
	"github.com/avdeyev/authcore/internal/dbx"
	"github.com/avdeyev/authcore/internal/server/config"
	"github.com/avdeyev/authcore/internal/server/credentials"
	"github.com/avdeyev/authcore/internal/server/repositories/repomanager"
	"github.com/avdeyev/authcore/internal/token"
	"github.com/avdeyev/authcore/internal/totpx"
)

const (
	backupCodeCount  = 10
	backupCodeLength = 8
)

// TOTPService manages second-factor enrollment: staging a secret, confirming
// it with a live code, issuing backup codes, and disabling.
type TOTPService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	verifier *credentials.Verifier
	issuer   string
	now      func() time.Time
}

// NewTOTPService constructs a TOTPService.
func NewTOTPService(db *sql.DB, m repomanager.RepositoryManager, v *credentials.Verifier, cfg *config.Config) *TOTPService {
	return &TOTPService{
		db:       db,
		repos:    m,
		verifier: v,
		issuer:   cfg.TOTPIssuer,
		now:      time.Now,
	}
}

// Enrollment is a staged, not yet active, second-factor configuration.
type Enrollment struct {
	// Secret is the shared secret in unpadded base32, for manual entry.
	Secret string
	// URI is the otpauth:// form of the same secret, for QR provisioning.
	URI string
}

// StartEnrollment verifies the password, generates a fresh secret, and
// stages it. The configuration stays inactive until ConfirmEnrollment proves
// the authenticator produces matching codes. A user who already has an
// active configuration gets common.ErrorAlreadyExists.
func (s *TOTPService) StartEnrollment(ctx context.Context, userID []byte, current credentials.Password) (*Enrollment, error) {
	secret := totpx.GenerateSecret()
	raw, err := totpx.DecodeSecret(secret)
	if err != nil {
		return nil, err
	}

	var enrollment *Enrollment

	err = dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.verifier.VerifyFirst(ctx, tx, userID, current); err != nil {
			return err
		}
		user, err := s.repos.Users(tx).GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.repos.TOTP(tx).StageEnrollment(ctx, userID, raw); err != nil {
			return err
		}
		enrollment = &Enrollment{Secret: secret, URI: s.provisioningURI(user.Email, secret)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// ConfirmEnrollment checks the submitted code against the staged secret and,
// on success, activates the configuration and returns freshly generated
// backup codes. The confirming code is recorded as used so it cannot be
// replayed at sign-in.
//
// The staged secret is echoed back by the client, which lets the guard in
// the store reject confirmations against a secret that was re-staged since.
func (s *TOTPService) ConfirmEnrollment(ctx context.Context, userID []byte, secret, code string) ([]string, error) {
	raw, err := totpx.DecodeSecret(secret)
	if err != nil {
		return nil, common.ErrSecondFactorWrong
	}
	code = strings.TrimSpace(code)
	if !totpx.Accepts(raw, code, s.now()) {
		return nil, common.ErrSecondFactorWrong
	}

	codes := make([]string, backupCodeCount)
	hashes := make([][]byte, backupCodeCount)
	for i := range codes {
		codes[i] = cryptox.GenerateShortCode(backupCodeLength)
		h := token.HashBytes([]byte(codes[i]))
		hashes[i] = h[:]
	}

	err = dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		promoted, err := s.repos.TOTP(tx).ConfirmEnrollment(ctx, userID, raw, code, hashes)
		if err != nil {
			return err
		}
		if !promoted {
			return common.ErrorNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// Disable verifies the password and removes the user's second-factor
// configuration. Deliberately no code required: the common reason for
// disabling is a lost authenticator. Returns common.ErrorNotFound when
// nothing was configured.
func (s *TOTPService) Disable(ctx context.Context, userID []byte, current credentials.Password) error {
	return dbx.RunSerializable(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.verifier.VerifyFirst(ctx, tx, userID, current); err != nil {
			return err
		}
		existed, err := s.repos.TOTP(tx).Disable(ctx, userID)
		if err != nil {
			return err
		}
		if !existed {
			return common.ErrorNotFound
		}
		return nil
	})
}

// provisioningURI renders the otpauth:// URI authenticator apps scan.
func (s *TOTPService) provisioningURI(email, secret string) string {
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", s.issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprint(totpx.Digits))
	q.Set("period", fmt.Sprint(int(totpx.Step.Seconds())))

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + s.issuer + ":" + email,
		RawQuery: q.Encode(),
	}
	return u.String()
}
