package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avdeyev/authcore/internal/common"
	"github.com/avdeyev/authcore/internal/cryptox"
	"github.com/avdeyev/authcore/internal/dbx"
	"github.com/avdeyev/authcore/internal/server/repositories/repomanager"
	"github.com/avdeyev/authcore/internal/token"
	"github.com/avdeyev/authcore/internal/totpx"
)

// Verifier checks credentials against the stored account state. Every method
// runs inside the caller's transaction: second-factor verification mutates
// the anti-replay state, and those writes must commit or roll back together
// with whatever the caller is doing.
type Verifier struct {
	repos repomanager.RepositoryManager
	now   func() time.Time
}

// NewVerifier constructs a Verifier over the given repositories.
func NewVerifier(repos repomanager.RepositoryManager) *Verifier {
	return &Verifier{repos: repos, now: time.Now}
}

// Verify checks a multi-factor credential for the user. A bare Password or
// OTP is accepted as a degenerate combination; FirstAndSecond checks the
// first factor and then the second, which may be absent only when the user
// has no second-factor method enabled.
//
// Failures come back as common.ErrFirstFactorWrong or
// common.ErrSecondFactorWrong so callers can map them to responses without
// inspecting the credential themselves.
func (v *Verifier) Verify(ctx context.Context, tx dbx.DBTX, userID []byte, cred Credential) error {
	switch c := cred.(type) {
	case Password:
		return v.Verify(ctx, tx, userID, FirstAndSecond{First: c})
	case OTP:
		return v.VerifySecond(ctx, tx, userID, &c)
	case FirstAndSecond:
		if err := v.VerifyFirst(ctx, tx, userID, c.First); err != nil {
			return err
		}
		return v.VerifySecond(ctx, tx, userID, c.Second)
	case Multi:
		// Uninhabited; no value can reach this arm.
		return fmt.Errorf("%w: unhandled credential kind %T", common.ErrorInternal, c)
	default:
		return fmt.Errorf("%w: unknown credential kind %T", common.ErrorInternal, cred)
	}
}

// VerifyFirst checks a first-factor credential. A missing user verifies the
// same way as a wrong password.
func (v *Verifier) VerifyFirst(ctx context.Context, tx dbx.DBTX, userID []byte, cred Password) error {
	hash, err := v.repos.Users(tx).GetPasswordHash(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrFirstFactorWrong
		}
		return err
	}
	if !cryptox.VerifyPassword(cred.Plaintext, hash) {
		return common.ErrFirstFactorWrong
	}
	return nil
}

// VerifySecond checks a second-factor credential. A nil credential means the
// caller supplied none; that passes only when the user has no second-factor
// method enabled.
//
// A submitted code is first tried against the user's unused backup codes and,
// failing that, against the rolling TOTP window. The window slot is consumed
// as soon as the code clears the replay check, before the code itself is
// verified, so a mistyped code still burns its value.
func (v *Verifier) VerifySecond(ctx context.Context, tx dbx.DBTX, userID []byte, cred *OTP) error {
	if cred == nil {
		for _, m := range secondFactorMethods {
			enabled, err := v.enabled(ctx, tx, userID, m)
			if err != nil {
				return err
			}
			if enabled {
				return common.ErrSecondFactorWrong
			}
		}
		return nil
	}

	code := strings.TrimSpace(cred.Code)

	// Backup codes are generated uppercase; accept either case back.
	codeHash := token.HashBytes([]byte(strings.ToUpper(code)))
	consumed, err := v.repos.TOTP(tx).ConsumeBackupCode(ctx, userID, codeHash[:])
	if err != nil {
		return err
	}
	if consumed {
		return nil
	}

	secret, recorded, err := v.repos.TOTP(tx).RecordCode(ctx, userID, code)
	if err != nil {
		return err
	}
	if !recorded {
		return common.ErrSecondFactorWrong
	}
	if !totpx.Accepts(secret, code, v.now()) {
		return common.ErrSecondFactorWrong
	}
	return nil
}

func (v *Verifier) enabled(ctx context.Context, tx dbx.DBTX, userID []byte, m SecondFactorMethod) (bool, error) {
	switch m {
	case SecondFactorTOTP:
		return v.repos.TOTP(tx).IsEnabled(ctx, userID)
	default:
		return false, fmt.Errorf("%w: unknown second factor method %d", common.ErrorInternal, m)
	}
}
