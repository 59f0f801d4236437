package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avdeyev/authcore/internal/common"
	"github.com/avdeyev/authcore/internal/logging"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// writeDomainError maps a service error to a response. Anything unrecognized
// is an internal failure: the details go to the log, the client gets an
// opaque 500.
func writeDomainError(ctx context.Context, w http.ResponseWriter, logger logging.Logger, err error) {
	switch {
	case errors.Is(err, common.ErrUserCredentialsWrong):
		writeError(w, http.StatusUnauthorized, "user credentials wrong")
	case errors.Is(err, common.ErrFirstFactorWrong):
		writeError(w, http.StatusUnauthorized, "password wrong")
	case errors.Is(err, common.ErrSecondFactorWrong):
		writeError(w, http.StatusUnauthorized, "second factor wrong")
	case errors.Is(err, common.ErrEmailVerificationWrong):
		writeError(w, http.StatusBadRequest, "email verification wrong")
	case errors.Is(err, common.ErrCaptchaFailed):
		writeError(w, http.StatusBadRequest, "captcha failed")
	case errors.Is(err, common.ErrorUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrorAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	default:
		logger.Error(ctx, "internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
