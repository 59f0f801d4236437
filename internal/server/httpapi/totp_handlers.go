package httpapi

import (
	"net/http"

	"github.com/avdeyev/authcore/internal/logging"
	"github.com/avdeyev/authcore/internal/server/credentials"
	"github.com/avdeyev/authcore/internal/server/services"
)

// TOTPHandler serves the second-factor enrollment endpoints.
type TOTPHandler struct {
	totp   *services.TOTPService
	logger logging.Logger
}

// NewTOTPHandler constructs a TOTPHandler.
func NewTOTPHandler(totp *services.TOTPService, logger logging.Logger) *TOTPHandler {
	return &TOTPHandler{totp: totp, logger: logger}
}

// Enroll stages a new TOTP secret for the user.
func (h *TOTPHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		Password string `json:"password" validate:"required"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	enrollment, err := h.totp.StartEnrollment(r.Context(), user.ID, credentials.Password{Plaintext: body.Password})
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Secret string `json:"secret"`
		URI    string `json:"uri"`
	}{Secret: enrollment.Secret, URI: enrollment.URI})
}

// Confirm activates the staged enrollment and returns backup codes.
func (h *TOTPHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		Secret string `json:"secret" validate:"required"`
		Code   string `json:"code" validate:"required"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	backupCodes, err := h.totp.ConfirmEnrollment(r.Context(), user.ID, body.Secret, body.Code)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		BackupCodes []string `json:"backup_codes"`
	}{BackupCodes: backupCodes})
}

// Disable removes the user's TOTP configuration.
func (h *TOTPHandler) Disable(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		Password string `json:"password" validate:"required"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.totp.Disable(r.Context(), user.ID, credentials.Password{Plaintext: body.Password}); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "two-factor authentication disabled"})
}
