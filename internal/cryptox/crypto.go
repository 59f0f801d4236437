// Package cryptox implements the password hashing and short-code primitives
// for stored credentials.
//
// Two hashing schemes are used deliberately:
//
//   - Secrets that may be short or guessable (passwords, emailed codes) are
//     salted and hashed with Argon2id, producing a PHC-format string.
//   - High-entropy single-use values (session tokens) are hashed without a
//     salt (see the token package) so the store can index them for exact
//     lookups; their safety comes from entropy and single-use constraints,
//     not secrecy of a salt.
package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Kept in the hash string so they can be raised later
// without invalidating existing hashes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// shortCodeChars is the alphabet for human-enterable codes. `O` is excluded
// because it's often mistaken for `0`.
const shortCodeChars = "0123456789ABCDEFGHIJKLMNPQRSTUVWXYZ"

// HashPassword salts and hashes a password with Argon2id, returning a
// self-describing PHC-format string.
//
// Panics if the secure random source fails; a hash derived from a predictable
// salt must never be produced.
func HashPassword(password string) string {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		panic(fmt.Sprintf("secure random source failed: %v", err))
	}

	digest := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		b64.EncodeToString(salt), b64.EncodeToString(digest))
}

// VerifyPassword reports whether password matches the stored PHC-format hash.
//
// A structurally invalid stored hash yields false rather than an error, so a
// corrupt row is indistinguishable from a wrong password to the caller.
func VerifyPassword(password, encoded string) bool {
	memory, time, threads, salt, digest, ok := parsePHC(encoded)
	if !ok {
		return false
	}

	candidate := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(digest)))
	return subtle.ConstantTimeCompare(candidate, digest) == 1
}

func parsePHC(encoded string) (memory, time uint32, threads uint8, salt, digest []byte, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return 0, 0, 0, nil, nil, false
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, false
	}
	digest, err = b64.DecodeString(parts[5])
	if err != nil || len(digest) == 0 {
		return 0, 0, 0, nil, nil, false
	}

	return memory, time, threads, salt, digest, true
}

// GenerateShortCode returns a cryptographically random code that is short and
// easy to type, e.g. for email verification and TOTP backup codes.
func GenerateShortCode(length int) string {
	var sb strings.Builder
	sb.Grow(length)

	// Rejection sampling keeps the distribution uniform: 245 is the largest
	// multiple of len(shortCodeChars) below 256.
	const limit = 245
	buf := make([]byte, 1)
	for sb.Len() < length {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("secure random source failed: %v", err))
		}
		if buf[0] >= limit {
			continue
		}
		sb.WriteByte(shortCodeChars[int(buf[0])%len(shortCodeChars)])
	}
	return sb.String()
}
