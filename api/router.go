package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/mycobrun/geofence-service/auth"
	"github.com/mycobrun/geofence-service/health"
	pkghttp "github.com/mycobrun/geofence-service/http"
	"github.com/mycobrun/geofence-service/logging"
	"github.com/mycobrun/geofence-service/telemetry"
)

// RouterConfig wires the router. Tracer, HTTPMetrics, RateLimiter, Health
// and Audit are optional.
type RouterConfig struct {
	Handlers       *Handlers
	Logger         *logging.Logger
	Audit          *logging.AuditLogger
	JWT            *auth.JWTManager
	APIKey         string
	BasePath       string
	CORSOrigins    []string
	RequestTimeout time.Duration
	RateLimiter    *pkghttp.RateLimiter
	Health         *health.Checker
	Tracer         trace.Tracer
	HTTPMetrics    *telemetry.HTTPMetrics
}

// NewRouter builds the HTTP handler. Health routes sit outside the base path
// and need no credentials.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	r := chi.NewRouter()
	r.Use(pkghttp.RequestID)
	r.Use(pkghttp.RealIP)
	if cfg.Tracer != nil {
		r.Use(telemetry.TracingMiddleware(cfg.Tracer))
	}
	if cfg.HTTPMetrics != nil {
		r.Use(telemetry.MetricsMiddleware(cfg.HTTPMetrics))
	}
	r.Use(pkghttp.Logger(logger))
	r.Use(pkghttp.Recoverer(logger))
	r.Use(pkghttp.SecurityHeaders)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(pkghttp.CORS(cfg.CORSOrigins))
	}

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.LivenessHandler())
		r.Get("/health/ready", cfg.Health.ReadinessHandler())
	}

	r.Route(cfg.BasePath+"/geofences", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(pkghttp.Timeout(cfg.RequestTimeout))
		}
		r.Use(auth.Middleware(cfg.APIKey, cfg.JWT, cfg.Audit))
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}

		h := cfg.Handlers
		r.Post("/", h.Create)
		r.Get("/list", h.List)
		r.Post("/status", h.Status)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})

	return r
}

// SubjectKeyFunc keys rate limits by the authenticated token subject, so
// callers sharing the authorization key still get separate budgets. It
// must run after the auth middleware.
func SubjectKeyFunc(r *http.Request) string {
	if sub := auth.SubjectFromContext(r.Context()); sub != "" {
		return "sub:" + sub
	}
	return pkghttp.APIKeyFunc(r)
}
