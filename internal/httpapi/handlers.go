package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"iepp.org/internal/apierr"
	"iepp.org/internal/auth"
	"iepp.org/internal/directory"
	"iepp.org/internal/identity"
	"iepp.org/internal/obs"
	"iepp.org/internal/provision"
)

const serviceName = "iepp-api"

// Pinger is anything ReadyProbe can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports readiness by pinging the directory store.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// KeySource publishes the public half of the token signing keys.
type KeySource interface {
	JWKS() ([]byte, bool, error)
}

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Provisioner   *provision.Service
	Resolver      *auth.Resolver
	Authenticator identity.Authenticator
	Keys          KeySource
	Directory     directory.Store
	Ready         readinessChecker
	Version       string
}

// API is the HTTP layer over provisioning and the directory.
type API struct {
	router   chi.Router
	deps     Deps
	profiles *directory.Profiles
	limiter  *RateLimiter

	maxBodyBytes int64
	ratePerSec   float64
	rateBurst    int
	corsOrigins  []string
}

type Option func(*API)

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithRateLimit sets the per-IP budget. A zero rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

func New(d Deps, opts ...Option) *API {
	a := &API{
		deps:         d,
		profiles:     directory.NewProfiles(d.Directory),
		maxBodyBytes: 1 << 20,
		ratePerSec:   20,
		rateBurst:    40,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.deps.Ready == nil {
		a.deps.Ready = ReadyProbe{Store: d.Directory}
	}
	a.limiter = NewRateLimiter(a.ratePerSec, a.rateBurst)
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		LoggingJSON,
		SecurityHeaders,
		CORS(a.corsOrigins),
		MaxBodyBytes(a.maxBodyBytes),
		a.limiter.Middleware,
		obs.Instrument,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, string(apierr.KindNotFound), "not found")
	})
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", a.Login)
		r.Get("/auth/jwks.json", a.JWKS)
		r.Get("/departments", a.Departments)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Post("/users", a.CreateUser)
			r.Get("/users", a.ListUsers)
			r.Get("/users/{uid}", a.GetUser)
			r.Delete("/users/{uid}", a.DeleteUser)
			r.Get("/me", a.Me)
		})
	})
	return r
}

// Handler returns the routed handler for an http.Server.
func (a *API) Handler() http.Handler {
	return a.router
}

// Close stops background work owned by the API.
func (a *API) Close() {
	a.limiter.Stop()
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		obs.Logger().WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

type departmentView struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

func (a *API) Departments(w http.ResponseWriter, r *http.Request) {
	out := make([]departmentView, 0, len(directory.Departments))
	for _, d := range directory.Departments {
		out = append(out, departmentView{Key: string(d), Name: d.DisplayName()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": out})
}

// --- helpers ---

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeAPIError is the single place errors become HTTP responses. Causes are
// logged, never returned.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierr.KindOf(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		obs.Logger().ErrorContext(r.Context(), "request failed",
			"kind", string(kind),
			"error", err,
			"request_id", RequestIDFromContext(r.Context()),
		)
	}
	if kind.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, r, status, string(kind), apierr.MessageOf(err))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}

const (
	codeRateLimited      = "RATE_LIMITED"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apierr.New(apierr.KindInvalidRequest, "request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apierr.New(apierr.KindInvalidRequest, "request body is required")
		case errors.As(err, &tooLarge):
			return apierr.New(apierr.KindInvalidRequest, "request body too large")
		default:
			return apierr.Wrap(err, apierr.KindInvalidRequest, "invalid JSON body")
		}
	}
	if dec.More() {
		return apierr.New(apierr.KindInvalidRequest, "unexpected data after JSON body")
	}
	return nil
}
