package httpapi

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/avdeyev/authcore/internal/logging"
	"github.com/avdeyev/authcore/internal/server/credentials"
	"github.com/avdeyev/authcore/internal/server/models"
	"github.com/avdeyev/authcore/internal/server/services"
	"github.com/avdeyev/authcore/internal/token"
)

// userResponse is the public view of an account.
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:        hex.EncodeToString(u.ID),
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
}

// AccountHandler serves the account lifecycle endpoints.
type AccountHandler struct {
	accounts     *services.AccountService
	cookieName   string
	cookieSecure bool
	logger       logging.Logger
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(accounts *services.AccountService, cookieName string, cookieSecure bool, logger logging.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, cookieName: cookieName, cookieSecure: cookieSecure, logger: logger}
}

func (h *AccountHandler) setSessionCookie(w http.ResponseWriter, t token.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    t.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AccountHandler) RequestSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email   string `json:"email" validate:"required,email"`
		Captcha string `json:"captcha" validate:"required"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.accounts.RequestSignUp(r.Context(), body.Email, body.Captcha); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "verification email sent"})
}

func (h *AccountHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Email    string `json:"email" validate:"omitempty,email"`
		Code     string `json:"code"`
		Name     string `json:"name" validate:"required,max=128"`
		Password string `json:"password" validate:"required,min=8"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Token == "" && (body.Email == "" || body.Code == "") {
		writeError(w, http.StatusBadRequest, "either token or email and code are required")
		return
	}

	user, sessionToken, err := h.accounts.SignUp(r.Context(), services.SignUpParams{
		Token:    body.Token,
		Email:    body.Email,
		Code:     body.Code,
		Name:     body.Name,
		Password: body.Password,
	})
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	h.setSessionCookie(w, sessionToken)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *AccountHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string  `json:"email" validate:"required,email"`
		Password string  `json:"password" validate:"required"`
		OTP      *string `json:"otp"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	sessionToken, err := h.accounts.SignIn(r.Context(), body.Email, body.Password, body.OTP)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	h.setSessionCookie(w, sessionToken)
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "signed in"})
}

func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	tokenStr, _ := sessionTokenFromContext(r.Context())
	t, err := token.Parse(tokenStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h2 := t.Hash()

	err = h.accounts.ChangePassword(r.Context(), user.ID, h2[:],
		credentials.Password{Plaintext: body.CurrentPassword}, body.NewPassword)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password changed"})
}

func (h *AccountHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email   string `json:"email" validate:"required,email"`
		Captcha string `json:"captcha" validate:"required"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.accounts.RequestPasswordReset(r.Context(), body.Email, body.Captcha); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "if the address is registered, a reset email was sent"})
}

func (h *AccountHandler) CheckPasswordReset(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.CheckPasswordReset(r.Context(), r.URL.Query().Get("token")); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "reset request is live"})
}

func (h *AccountHandler) FulfillPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string  `json:"token" validate:"required"`
		OTP         *string `json:"otp"`
		NewPassword string  `json:"new_password" validate:"required,min=8"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	sessionToken, err := h.accounts.FulfillPasswordReset(r.Context(), body.Token, body.OTP, body.NewPassword)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	h.setSessionCookie(w, sessionToken)
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password reset"})
}

func (h *AccountHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		NewEmail string `json:"new_email" validate:"required,email"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.accounts.RequestEmailChange(r.Context(), user.ID, body.NewEmail); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "verification email sent to the new address"})
}

func (h *AccountHandler) VerifyEmailChange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token" validate:"required"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.accounts.VerifyEmailChange(r.Context(), body.Token); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "email changed"})
}

func (h *AccountHandler) ChangeName(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		Password string `json:"password" validate:"required"`
		Name     string `json:"name" validate:"required,max=128"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	err := h.accounts.ChangeName(r.Context(), user.ID, credentials.Password{Plaintext: body.Password}, body.Name)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "name changed"})
}

func (h *AccountHandler) VerifyCredentials(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		Password string  `json:"password" validate:"required"`
		OTP      *string `json:"otp"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	cred := credentials.FirstAndSecond{First: credentials.Password{Plaintext: body.Password}}
	if body.OTP != nil {
		cred.Second = &credentials.OTP{Code: *body.OTP}
	}
	if err := h.accounts.VerifyCredentials(r.Context(), user.ID, cred); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "credentials verified"})
}
