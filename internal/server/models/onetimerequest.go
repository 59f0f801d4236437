package models

import "time"

// Kinds of one-time requests. A kind plus a target (email or user) has at
// most one live request; issuing a new one replaces the previous
// transactionally.
const (
	// RequestKindSignUp verifies an email address before account creation.
	RequestKindSignUp = "sign_up"

	// RequestKindPasswordReset lets a user set a new password by email.
	RequestKindPasswordReset = "password_reset"

	// RequestKindEmailChange verifies a new address for an existing account.
	RequestKindEmailChange = "email_change"
)

// OneTimeRequest is a single-use, token-addressed request. Expiry is implied
// by deletion on use. Email is the target address for sign-up and
// email-change requests; UserID is set for password-reset and email-change
// requests.
type OneTimeRequest struct {
	Kind      string
	TokenHash []byte
	Email     string
	UserID    []byte
	// CodeHash is the salted hash of an optional short human-enterable code.
	// Salted because short codes are guessable, unlike tokens.
	CodeHash  string
	CreatedAt time.Time
}
