package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"flhub.app/internal/audit"
	"flhub.app/internal/identity"
	"flhub.app/internal/session"
)

type grantRequest struct {
	Role   string `json:"role"`
	Months int    `json:"months"`
}

type subscriptionResponse struct {
	UserID        string     `json:"user_id"`
	Role          string     `json:"role"`
	EffectiveRole string     `json:"effective_role"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DaysLeft      int        `json:"days_left,omitempty"`
	Permanent     bool       `json:"permanent"`
}

func subscriptionView(user *identity.User, effective identity.Role, now time.Time) subscriptionResponse {
	resp := subscriptionResponse{
		UserID:        user.ID,
		Role:          string(user.Role),
		EffectiveRole: string(effective),
		ExpiresAt:     user.VIPExpiresAt,
		Permanent:     user.Entitlement().Permanent(),
	}
	if user.VIPExpiresAt != nil && user.VIPExpiresAt.After(now) {
		resp.DaysLeft = int(user.VIPExpiresAt.Sub(now).Hours() / 24)
	}
	return resp
}

// handleSubscription returns the caller's own entitlement snapshot with the
// decayed role applied.
func (a *API) handleSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	claims, ok := session.ClaimsFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing credential")
		return
	}

	user, err := a.identities.Find(r.Context(), claims.UserID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	effective, err := a.identities.Resolve(r.Context(), claims.UserID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, subscriptionView(user, effective, time.Now().UTC()))
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" || rest != "role" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.grantRole(w, r, id)
}

// grantRole changes a user's entitlement. Admins may hand out BASIC and VIP;
// granting ADMIN takes the CEO. The caller's privilege is the live resolved
// role, not the snapshot in the credential.
func (a *API) grantRole(w http.ResponseWriter, r *http.Request, targetID string) {
	claims, ok := session.ClaimsFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing credential")
		return
	}
	callerRole, err := a.identities.Resolve(r.Context(), claims.UserID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if !callerRole.AtLeast(identity.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "admin privilege required")
		return
	}

	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}
	if role.AtLeast(identity.RoleAdmin) && callerRole != identity.RoleCEO {
		writeError(w, r, http.StatusForbidden, "only the owner may grant admin")
		return
	}

	user, err := a.identities.Grant(r.Context(), targetID, role, req.Months)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "entitlement.granted", map[string]any{
		"target_id": user.ID,
		"role":      string(user.Role),
		"months":    req.Months,
	})

	writeJSON(w, http.StatusOK, subscriptionView(user, user.Role, time.Now().UTC()))
}

func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
