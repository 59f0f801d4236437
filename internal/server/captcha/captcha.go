// Package captcha defines the CAPTCHA verification boundary for endpoints
// open to unauthenticated traffic.
package captcha

import "context"

// Verifier checks a client-submitted CAPTCHA response token.
type Verifier interface {
	// Verify reports whether the response token passes. A network or provider
	// failure is an error, not a rejection.
	Verify(ctx context.Context, response string) (bool, error)
}

// AllowAll accepts every response. The development stand-in for a real
// provider.
type AllowAll struct{}

func (AllowAll) Verify(ctx context.Context, response string) (bool, error) {
	return true, nil
}
