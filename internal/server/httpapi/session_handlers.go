package httpapi

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/avdeyev/authcore/internal/logging"
	"github.com/avdeyev/authcore/internal/server/services"
	"github.com/avdeyev/authcore/internal/token"
)

// sessionResponse is the public view of a sign-in session. The ID is the hex
// token hash, which cannot be turned back into a usable token.
type sessionResponse struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	Current    bool      `json:"current"`
}

// SessionHandler serves the current-user and session management endpoints.
type SessionHandler struct {
	sessions     *services.SessionService
	cookieName   string
	cookieSecure bool
	logger       logging.Logger
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(sessions *services.SessionService, cookieName string, cookieSecure bool, logger logging.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, cookieName: cookieName, cookieSecure: cookieSecure, logger: logger}
}

func (h *SessionHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Me returns the authenticated user.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// List returns the user's sessions and marks the calling one.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var currentHash []byte
	if tokenStr, ok := sessionTokenFromContext(r.Context()); ok {
		if t, err := token.Parse(tokenStr); err == nil {
			th := t.Hash()
			currentHash = th[:]
		}
	}

	list, err := h.sessions.ListSessions(r.Context(), user.ID)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	resp := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		resp = append(resp, sessionResponse{
			ID:         hex.EncodeToString(s.TokenHash),
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			Current:    subtle.ConstantTimeCompare(s.TokenHash, currentHash) == 1,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Sessions []sessionResponse `json:"sessions"`
	}{Sessions: resp})
}

// SignOut deletes the calling session and clears the cookie.
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	tokenStr, ok := sessionTokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.sessions.SignOut(r.Context(), tokenStr); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "signed out"})
}

// RevokeOthers deletes every session of the user except the calling one.
func (h *SessionHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tokenStr, _ := sessionTokenFromContext(r.Context())
	t, err := token.Parse(tokenStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	th := t.Hash()
	if err := h.sessions.RevokeOtherSessions(r.Context(), user.ID, th[:]); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "other sessions revoked"})
}

// RevokeAll deletes every session of the user, including the calling one.
func (h *SessionHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.sessions.RevokeAllSessions(r.Context(), user.ID); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "all sessions revoked"})
}
