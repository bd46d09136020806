package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"flhub.app/internal/audit"
	"flhub.app/internal/identity"
	"flhub.app/internal/rendezvous"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

type handshakeResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type handshakeStatusResponse struct {
	Status     string `json:"status"`
	Credential string `json:"credential,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.identities.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
		return
	}

	credential, err := a.sessions.Issue(user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "credential issuance failed")
		return
	}

	effective := user.Entitlement().Effective(time.Now().UTC())
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": user.ID,
		"role":    string(effective),
	})

	writeJSON(w, http.StatusOK, credentialResponse{
		Token: credential,
		Role:  string(effective),
	})
}

// handleTelegramToken opens a handshake: it hands the web client a one-time
// token to present in the messaging channel.
func (a *API) handleTelegramToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	token, err := a.broker.Issue(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.handshake.issued", map[string]any{
		"expires_at": token.ExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, handshakeResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
	})
}

// handleTelegramStatus is polled by the web client. Once the channel side
// has claimed the token, the response carries the signed session credential
// for the linked account.
func (a *API) handleTelegramStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	value := strings.TrimSpace(r.URL.Query().Get("token"))
	if value == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	token, err := a.broker.Status(r.Context(), value)
	switch {
	case err == nil:
	case errors.Is(err, rendezvous.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "unknown token")
		return
	case errors.Is(err, rendezvous.ErrExpired):
		writeJSON(w, http.StatusOK, handshakeStatusResponse{Status: "expired"})
		return
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	if !token.Consumed || token.ClaimedBy == nil {
		writeJSON(w, http.StatusOK, handshakeStatusResponse{Status: "pending"})
		return
	}

	user, err := a.identities.Store().FindByTelegramID(r.Context(), *token.ClaimedBy)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, r, http.StatusConflict, "claimed account no longer exists")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	credential, err := a.sessions.Issue(user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "credential issuance failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.handshake.completed", map[string]any{
		"user_id": user.ID,
	})

	writeJSON(w, http.StatusOK, handshakeStatusResponse{
		Status:     "claimed",
		Credential: credential,
	})
}
