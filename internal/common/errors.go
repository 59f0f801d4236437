// Package common defines shared constants and sentinel errors used across
// the identity backend. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Credential errors. Handlers must report the least specific variant
	// available at their call site so responses can't be used to probe
	// which part of a credential was wrong.
	ErrUserCredentialsWrong   = errors.New("user credentials wrong")
	ErrFirstFactorWrong       = errors.New("first-factor credentials wrong")
	ErrSecondFactorWrong      = errors.New("second-factor credentials wrong")
	ErrEmailVerificationWrong = errors.New("email verification wrong")

	// External-collaborator errors.
	ErrCaptchaFailed = errors.New("captcha verification failed")
)
