package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"flhub.app/internal/delivery"
	"flhub.app/internal/identity"
	"flhub.app/internal/obs"
	"flhub.app/internal/rendezvous"
	"flhub.app/internal/session"
)

// ReadyProbe checks dependencies for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	identities *identity.Service
	sessions   *session.Issuer
	broker     *rendezvous.Broker
	gate       *delivery.Gate
	fileRoot   string

	rateBurst  int
	ratePerSec int
	limiter    *ipLimiter
}

// New wires the routes over the domain services. fileRoot is the directory
// locally stored resources are streamed from.
func New(rp ReadyProbe, version string, identities *identity.Service, sessions *session.Issuer, broker *rendezvous.Broker, gate *delivery.Gate, fileRoot string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		identities: identities,
		sessions:   sessions,
		broker:     broker,
		gate:       gate,
		fileRoot:   fileRoot,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// auth
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/telegram/token", a.handleTelegramToken)
	a.mux.HandleFunc("/v1/auth/telegram/status", a.handleTelegramStatus)

	// subscriptions and roles
	a.mux.HandleFunc("/v1/subscription", a.handleSubscription)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	// content delivery
	a.mux.HandleFunc("/v1/content/", a.handleContentResource)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	if a.limiter == nil {
		a.limiter = newIPLimiter(a.rateBurst, a.ratePerSec)
	}
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = a.limiter.RateLimit(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// Close stops background maintenance owned by the HTTP layer.
func (a *API) Close() {
	if a.limiter != nil {
		a.limiter.Close()
	}
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "flhub-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "flhub-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
