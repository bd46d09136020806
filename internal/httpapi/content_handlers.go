package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"flhub.app/internal/audit"
	"flhub.app/internal/delivery"
	"flhub.app/internal/session"
)

func (a *API) handleContentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/content/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" || rest != "download" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.download(w, r, id)
}

// download re-authorizes against the live entitlement and either redirects
// to external storage or relays the file under the grant's throughput policy.
func (a *API) download(w http.ResponseWriter, r *http.Request, resourceID string) {
	raw, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}

	grant, err := a.gate.Authorize(r.Context(), raw, resourceID)
	switch {
	case err == nil:
	case errors.Is(err, delivery.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "credential rejected")
		return
	case errors.Is(err, delivery.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	ctx := session.WithClaims(r.Context(), &session.Claims{UserID: grant.User.ID})
	_ = audit.LogEvent(ctx, "content.download", map[string]any{
		"resource_id": grant.Resource.ID,
		"policy":      grant.Policy.Name(),
	})

	// External storage delivers itself; throughput policy cannot be applied
	// to a redirected transfer.
	if grant.Resource.External() {
		a.gate.Redirected(r.Context(), grant)
		http.Redirect(w, r, grant.Resource.URL, http.StatusFound)
		return
	}

	file, err := os.Open(filepath.Join(a.fileRoot, filepath.Clean("/"+grant.Resource.Path)))
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource unavailable")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", grant.Resource.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(grant.Resource.Path)))
	if info, err := file.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := a.gate.Stream(r.Context(), w, file, grant); err != nil {
		// Headers are gone; nothing left to send the client.
		obsStreamFailure(ctx, grant.Resource.ID, err)
	}
}
