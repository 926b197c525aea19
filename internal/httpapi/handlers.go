package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"exportdesk.org/internal/auth"
	"exportdesk.org/internal/obs"
)

const (
	defaultRateBurst  = 20
	defaultRatePerSec = 10
	defaultMaxBody    = 1 << 20
	readyTimeout      = 2 * time.Second
)

// Pinger is a backing store that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness pings the backing stores. Nil members are skipped.
type Readiness struct {
	Users       Pinger
	Revocations Pinger
}

func (rd Readiness) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if rd.Users != nil {
		if err := rd.Users.Ping(ctx); err != nil {
			return fmt.Errorf("user store: %w", err)
		}
	}
	if rd.Revocations != nil {
		if err := rd.Revocations.Ping(ctx); err != nil {
			return fmt.Errorf("revocation store: %w", err)
		}
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	readiness Readiness
	version   string

	sessions *auth.SessionService
	authn    *auth.Authenticator

	rateBurst      int
	ratePerSec     int
	maxBodyBytes   int64
	allowedOrigins []string
	trustedProxies []netip.Prefix
}

// Option configures the API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithAllowedOrigins adds CORS origins beyond local development hosts.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) {
		a.allowedOrigins = append(a.allowedOrigins, origins...)
	}
}

// WithTrustedProxies lists the peers whose X-Forwarded-For header is honored.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = append(a.trustedProxies, prefixes...)
	}
}

func New(rd Readiness, version string, sessions *auth.SessionService, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readiness:    rd,
		version:      version,
		sessions:     sessions,
		rateBurst:    defaultRateBurst,
		ratePerSec:   defaultRatePerSec,
		maxBodyBytes: defaultMaxBody,
	}
	if sessions != nil {
		a.authn = auth.NewAuthenticator(sessions)
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/auth/reissue", a.handleReissue)
	a.mux.HandleFunc("/api/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/api/auth/me", a.handleMe)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.allowedOrigins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.trustedProxies...)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "exportdesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readiness.Check(r.Context()); err != nil {
		obs.Warn("readiness check failed", map[string]any{"error": err})
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

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
