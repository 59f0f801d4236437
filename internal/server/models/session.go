package models

import "time"

// Session is a sign-in session, keyed by the hash of a token only the client
// holds. The plaintext token is never stored.
type Session struct {
	TokenHash  []byte
	UserID     []byte
	CreatedAt  time.Time
	LastUsedAt time.Time
}
