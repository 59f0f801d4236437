// Package credentials defines the closed set of credential variants a
// request can carry and the uniform verification contract over them.
//
// A credential value is ephemeral and request-scoped: it exists only to
// carry one verification attempt across the ambient transaction. Nothing
// here is persisted.
package credentials

// Credential is the closed union of credential variants. Adding a variant
// means adding a case to Verifier.Verify's switch; the sealed marker method
// keeps the set closed to this package's types.
type Credential interface {
	credential()
}

// Password is the first-factor variant: the user's password in plain text.
type Password struct {
	Plaintext string
}

func (Password) credential() {}

// OTP is the second-factor variant: a one-time password, which may be either
// a current TOTP code or one of the user's single-use backup codes.
type OTP struct {
	Code string
}

func (OTP) credential() {}

// FirstAndSecond is the combined multi-factor variant: a first factor plus
// an optional second factor. The second factor may be omitted only when the
// user has no second-factor method enabled.
type FirstAndSecond struct {
	First  Password
	Second *OTP
}

func (FirstAndSecond) credential() {}

// Multi marks credential kinds that cannot be decomposed into separate first
// and second factors. No such kinds exist; the interface is the
// extensibility point for them and is deliberately uninhabited.
type Multi interface {
	Credential
	multiFactor()
}

// SecondFactorMethod is a kind of second-factor authentication.
type SecondFactorMethod int

// The known second-factor methods.
const (
	SecondFactorTOTP SecondFactorMethod = iota
)

// secondFactorMethods lists every known method. Verification of an absent
// second factor iterates this to decide whether one was required.
var secondFactorMethods = []SecondFactorMethod{SecondFactorTOTP}
