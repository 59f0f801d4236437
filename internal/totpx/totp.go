// Package totpx computes RFC 6238 time-based one-time passwords: 30-second
// steps, 6 digits, HMAC-SHA1.
//
// This package is a pure primitive. Replay protection is persisted state and
// belongs to the credential model, which records the last two accepted codes
// per user.
package totpx

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// Step is the TOTP time step.
	Step = 30 * time.Second

	// Digits is the length of a generated code.
	Digits = 6

	secretBytes = 20
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generate computes the code for the step containing the given time.
func Generate(secret []byte, at time.Time) string {
	return hotp(secret, uint64(at.Unix())/uint64(Step/time.Second))
}

// Accepts reports whether the submitted code matches the step containing the
// given time or the immediately preceding step. The one-step window tolerates
// up to 30 seconds of clock drift on the client's authenticator.
func Accepts(secret []byte, submitted string, at time.Time) bool {
	counter := uint64(at.Unix()) / uint64(Step/time.Second)

	current := subtle.ConstantTimeCompare([]byte(hotp(secret, counter)), []byte(submitted))
	previous := 0
	if counter > 0 {
		previous = subtle.ConstantTimeCompare([]byte(hotp(secret, counter-1)), []byte(submitted))
	}
	return current|previous == 1
}

// GenerateSecret returns a fresh 160-bit shared secret in unpadded base32,
// the encoding authenticator apps expect.
//
// Panics if the secure random source fails.
func GenerateSecret() string {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("secure random source failed: %v", err))
	}
	return b32.EncodeToString(raw)
}

// DecodeSecret decodes an unpadded-base32 shared secret.
func DecodeSecret(s string) ([]byte, error) {
	raw, err := b32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid totp secret encoding: %w", err)
	}
	return raw, nil
}

// hotp is the RFC 4226 dynamic-truncation construction.
func hotp(secret []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	return fmt.Sprintf("%06d", bin%1_000_000)
}
