package httpx

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanterna/lanterna-api/internal/observability/metrics"
	"github.com/lanterna/lanterna-api/internal/ports"
	"github.com/lanterna/lanterna-api/internal/util"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Login    LoginService   // Required
	Sessions SessionService // Required
	Verifier Verifier       // Required
	Stats    AuditStats     // Required
	Cache    CacheAdmin     // Required
	Audit    ports.AuditLogger

	Routes       GateRoutes
	CookieDomain string
	Clock        util.Clock // Optional: defaults to system time

	// Gatherer backs GET /metrics; nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.AuthMetrics
	// Ready probes dependencies for GET /readyz.
	Ready map[string]Pinger

	Logger *slog.Logger
}

// NewRouter wires the auth, admin and page handlers behind the request gate.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	authHandlers := &AuthHandlers{
		Svc:          services.Login,
		Sessions:     services.Sessions,
		CookieDomain: services.CookieDomain,
		LoginPath:    services.Routes.LoginPath,
		Clock:        services.Clock,
		Logger:       logger,
	}
	adminHandlers := &AdminHandlers{Audit: services.Stats, Cache: services.Cache, Logger: logger}
	pageHandlers := &Pages{Logger: logger}

	registerAuthRoutes(mux, authHandlers)
	registerAdminRoutes(mux, adminHandlers, pageHandlers)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Ready, logger))

	gatherer := services.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	gate := Gate(GateOptions{
		Sessions: services.Sessions,
		Verifier: services.Verifier,
		Audit:    services.Audit,
		Routes:       services.Routes,
		CookieDomain: services.CookieDomain,
		Clock:        services.Clock,
		Logger:       logger,
		Metrics:      services.Metrics,
	})
	return gate(StripLocale(services.Routes.Locales)(mux))
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/status", h.Status)
	mux.HandleFunc("POST /auth/session/extend", h.Extend)
}

func registerAdminRoutes(mux *http.ServeMux, h *AdminHandlers, p *Pages) {
	mux.HandleFunc("GET /login", p.Login)
	mux.HandleFunc("GET /unauthorized", p.Unauthorized)
	mux.HandleFunc("GET /admin", p.Admin)

	mux.HandleFunc("GET /api/admin/me", h.Me)
	mux.HandleFunc("GET /api/admin/auth/stats", h.Stats)
	mux.HandleFunc("POST /api/admin/cache/clear", h.ClearCache)
}
