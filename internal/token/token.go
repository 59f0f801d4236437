// Package token generates the opaque random identifiers used for sessions,
// one-time requests, and user IDs, together with the unsalted hashes under
// which tokens are stored and looked up.
//
// Tokens are 128-bit values from a cryptographically secure source, so the
// stored hash is deliberately unsalted: the input already has full entropy,
// and an index over the hashes must support exact-match lookups.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Size is the length of a token in bytes.
const Size = 16

// UserIDSize is the length of a user ID in bytes. User IDs are short because
// they appear in URLs; collisions are expected over time and handled by
// rerolling inside a savepoint.
const UserIDSize = 8

// Token is an opaque credential held only by the client. It is never stored
// server-side; only its hash is.
type Token [Size]byte

// Hash is the SHA-256 digest of a token, used as its storage key.
type Hash [sha256.Size]byte

// Generate returns a fresh random token.
//
// Panics if the secure random source fails: the process cannot safely issue
// credentials without it.
func Generate() Token {
	var t Token
	if _, err := rand.Read(t[:]); err != nil {
		panic(fmt.Sprintf("secure random source failed: %v", err))
	}
	return t
}

// Reroll replaces the token with a fresh random value in place. Used when an
// insert hits a uniqueness collision on the token's hash.
func (t *Token) Reroll() {
	*t = Generate()
}

// Hash returns the token's unsalted SHA-256 lookup hash.
func (t Token) Hash() Hash {
	return sha256.Sum256(t[:])
}

// String encodes the token for transport (cookies, email links).
func (t Token) String() string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}

// Parse decodes a token from its transport encoding.
func Parse(s string) (Token, error) {
	var t Token
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("invalid token encoding: %w", err)
	}
	if len(b) != Size {
		return t, fmt.Errorf("invalid token length %d", len(b))
	}
	copy(t[:], b)
	return t, nil
}

// HashBytes hashes an already-encoded token value without decoding it first.
// Useful for hashing short verification codes, which share the tokens'
// single-use storage model.
func HashBytes(b []byte) Hash {
	return sha256.Sum256(b)
}

// UserID is a user's opaque identifier.
type UserID [UserIDSize]byte

// GenerateUserID returns a fresh random user ID. Same fatal contract as
// Generate.
func GenerateUserID() UserID {
	var id UserID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("secure random source failed: %v", err))
	}
	return id
}

// Reroll replaces the ID with a fresh random value in place.
func (id *UserID) Reroll() {
	*id = GenerateUserID()
}

// String encodes the ID for URLs and logs.
func (id UserID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseUserID decodes a user ID from its hex form.
func ParseUserID(s string) (UserID, error) {
	var id UserID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid user id encoding: %w", err)
	}
	if len(b) != UserIDSize {
		return id, fmt.Errorf("invalid user id length %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}
