package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/tendant/simple-gate/pkg/simplegate"
)

// DefaultRequestTimeout bounds the JSON endpoints. Uploads and downloads
// stream and are bounded by the server's own timeouts.
const DefaultRequestTimeout = 30 * time.Second

// Handler serves the gateway and account endpoints
type Handler struct {
	gateway        *simplegate.Gateway
	accounts       *simplegate.Accounts
	sessions       *Sessions
	metrics        *Metrics
	metricsHandler http.Handler
	logger         *slog.Logger
	requestTimeout time.Duration
	now            func() time.Time
}

// Option configures a Handler
type Option func(*Handler)

// WithMetrics records request and gateway metrics in m and serves
// exposition on /metrics from handler when it is not nil.
func WithMetrics(m *Metrics, handler http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
		h.metricsHandler = handler
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// WithClock allows injection of a custom clock (primarily for testing)
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func New(gateway *simplegate.Gateway, accounts *simplegate.Accounts, sessions *Sessions, opts ...Option) *Handler {
	h := &Handler{
		gateway:        gateway,
		accounts:       accounts,
		sessions:       sessions,
		logger:         slog.Default(),
		requestTimeout: DefaultRequestTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for all endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(h.logger))
	r.Use(RecoveryMiddleware(h.logger))
	r.Use(h.metrics.Middleware)

	r.Get("/health", h.Health)
	if h.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.sessions.Verifier())

		r.Post("/upload", h.Upload)
		r.Get("/upload", h.Download)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(h.requestTimeout))
			r.Use(RequestSizeLimitMiddleware(1 << 20))

			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Get("/me", h.Me)
		})
	})

	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// writeError maps err to a response. Server-side failures are logged here
// unless the core already logged them.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)

	switch status {
	case http.StatusTooManyRequests:
		var rlErr *simplegate.RateLimitError
		if errors.As(err, &rlErr) {
			setRateLimitHeaders(w.Header(), rlErr.Limit, 0, rlErr.ResetAt)
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(rlErr.ResetAt, h.now()), 10))
			h.metrics.recordRateLimited(rlErr.Policy, rlErr.Strict)
		}
	case http.StatusInternalServerError:
		h.logger.Error("Request failed", "request_id", RequestIDFromContext(r.Context()), "err", err)
	default:
		h.logger.Debug("Request rejected", "request_id", RequestIDFromContext(r.Context()), "status", status, "err", err)
	}

	writeErrorBody(w, r, status, body)
}
