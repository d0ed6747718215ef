package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"list39.org/internal/auth"
	"list39.org/internal/obs"
	"list39.org/internal/registry"
)

const serviceName = "list39"

var errDrained = errors.New("instance is drained")

// Pinger is a backing service that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every backing service; nil entries are skipped.
type ReadyProbe struct {
	Pingers []Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, p := range rp.Pingers {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP layer of the registry.
type API struct {
	router   chi.Router
	admin    chi.Router
	registry *registry.Service
	resolver *auth.Resolver
	tokens   *auth.Tokens
	provider auth.IdentityProvider

	readyProbe ReadyProbe
	ready      *atomic.Bool
	version    string
	baseURL    string

	secureCookies bool
	trustProxy    bool
	rateLimit     int
	rateWindow    time.Duration
	maxBody       int64

	log zerolog.Logger
}

// Option configures API.
type Option func(*API)

// WithIdentityProvider enables the external sign-in routes.
func WithIdentityProvider(p auth.IdentityProvider) Option {
	return func(a *API) { a.provider = p }
}

func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

func WithVersion(v string) Option {
	return func(a *API) {
		if v != "" {
			a.version = v
		}
	}
}

// WithBaseURL sets the public origin used for CORS and post-login redirects.
func WithBaseURL(u string) Option {
	return func(a *API) { a.baseURL = u }
}

// WithSecureCookies marks session cookies Secure; enable behind TLS.
func WithSecureCookies(secure bool) Option {
	return func(a *API) { a.secureCookies = secure }
}

// WithTrustedProxy takes the client address from X-Forwarded-For and
// X-Real-IP. Enable only behind a proxy that overwrites those headers.
func WithTrustedProxy(trust bool) Option {
	return func(a *API) { a.trustProxy = trust }
}

// WithRateLimit caps management API requests per client IP to limit per window.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(a *API) {
		if limit > 0 && window > 0 {
			a.rateLimit = limit
			a.rateWindow = window
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *API) { a.log = l }
}

// New wires the registry, identity and session components into a router.
func New(svc *registry.Service, resolver *auth.Resolver, tokens *auth.Tokens, opts ...Option) *API {
	a := &API{
		registry:   svc,
		resolver:   resolver,
		tokens:     tokens,
		ready:      atomic.NewBool(true),
		version:    "dev",
		rateLimit:  100,
		rateWindow: 15 * time.Minute,
		maxBody:    10 << 20,
		log:        obs.Logger().With().Str("component", "http").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	obs.SetReady(true)
	a.router = a.routes()
	a.admin = a.adminRoutes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(chimw.RequestID)
	if a.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(Logger(a.log))
	r.Use(chimw.Recoverer)
	r.Use(MaxBodyBytes(a.maxBody))
	r.Use(a.authenticate)

	a.healthRoutes(r)

	// public discovery, readable from any origin
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept"},
			MaxAge:         300,
		}))
		r.Get("/@{handle}", a.handlePublic)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/google", a.handleGoogleLogin)
		r.Get("/google/callback", a.handleGoogleCallback)
		r.Get("/user", a.handleCurrentUser)
		r.Get("/logout", a.handleLogout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.allowedOrigins(),
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(NewRateLimiter(a.rateLimit, a.rateWindow).Middleware)

		r.Get("/", a.handleIndex)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/agentfacts", a.handleListAgentFacts)
			r.Post("/agentfacts", a.handleCreateAgentFact)
			r.Get("/agentfacts/{id}", a.handleGetAgentFact)
			r.Put("/agentfacts/{id}", a.handleUpdateAgentFact)
			r.Delete("/agentfacts/{id}", a.handleDeleteAgentFact)
		})
	})

	fallbacks(r)
	return r
}

// adminRoutes serves health checks, metrics and the drain switch. It is mounted on
// the admin listener only.
func (a *API) adminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(Logger(a.log.With().Str("listener", "admin").Logger()))
	r.Use(chimw.Recoverer)

	a.healthRoutes(r)
	r.Post("/drain", a.Drain)
	r.Post("/undrain", a.Undrain)
	r.Handle("/metrics", obs.Handler())

	fallbacks(r)
	return r
}

func (a *API) healthRoutes(r chi.Router) {
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
}

func fallbacks(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func (a *API) allowedOrigins() []string {
	if a.baseURL == "" {
		return []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return []string{a.baseURL}
}

// Handler returns the public http.Handler.
func (a *API) Handler() http.Handler {
	return a.router
}

// AdminHandler returns the handler for the private admin listener.
func (a *API) AdminHandler() http.Handler {
	return a.admin
}

// Check reports readiness: the instance must not be drained and every
// backing service must answer.
func (a *API) Check(ctx context.Context) error {
	if !a.ready.Load() {
		return errDrained
	}
	return a.readyProbe.Check(ctx)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.Check(ctx); err != nil {
		a.log.Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// Drain takes the instance out of rotation without stopping it.
func (a *API) Drain(w http.ResponseWriter, r *http.Request) {
	a.ready.Store(false)
	obs.SetReady(false)
	a.log.Warn().Msg("instance drained")
	writeJSON(w, http.StatusOK, map[string]any{"status": "draining"})
}

func (a *API) Undrain(w http.ResponseWriter, r *http.Request) {
	a.ready.Store(true)
	obs.SetReady(true)
	a.log.Info().Msg("instance back in rotation")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writePrettyJSON writes v indented by two spaces.
func writePrettyJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := chimw.GetReqID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
