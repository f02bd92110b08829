package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/lanterna/lanterna-api/config"
	"github.com/lanterna/lanterna-api/internal/observability/metrics"
	"github.com/lanterna/lanterna-api/internal/observability/statsd"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Auth          *AuthComponents
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
	// Registry backs GET /metrics; nil when Prometheus is disabled.
	Registry *prometheus.Registry
	Auth     *metrics.AuthMetrics
}

// Gatherer returns the registry as a Gatherer, or an empty one when Prometheus is off.
//
//nolint:ireturn // promhttp consumes the interface.
func (o ObservabilityContainer) Gatherer() prometheus.Gatherer {
	if o.Registry == nil {
		return prometheus.NewRegistry()
	}
	return o.Registry
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the StatsD sink and Prometheus registry.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "lanterna",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	var registry *prometheus.Registry
	var reg prometheus.Registerer
	if cfg.Metrics.PrometheusEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg = registry
	}

	var sink statsd.Sink
	if metricsSink != nil {
		sink = metricsSink
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
		Registry:      registry,
		Auth:          metrics.NewAuthMetrics(reg, sink),
	}
}

// NewServices wires observability and the auth core.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs := buildObservability(logger, deps.Config.Observability)
	auth, err := BuildAuth(ctx, AuthConfig{
		Auth:          deps.Config.Auth,
		Reaper:        deps.Config.Reaper,
		DB:            deps.DB,
		RedisClient:   deps.RedisClient,
		SessionPrefix: deps.Config.Redis.SessionPrefix,
		Metrics:       obs.Auth,
		Logger:        logger,
	})
	if err != nil {
		if obs.MetricsSink != nil {
			_ = obs.MetricsSink.Close()
		}
		return ServiceContainer{}, err
	}
	return ServiceContainer{Auth: auth, Observability: obs}, nil
}

// Close releases resources held by the container.
func (c ServiceContainer) Close() {
	c.Auth.Close()
	if c.Observability.MetricsSink != nil {
		_ = c.Observability.MetricsSink.Close()
	}
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:      deps.cfg.Config,
		Services:    deps.cfg.Services,
		DB:          deps.cfg.DB,
		RedisClient: deps.cfg.RedisClient,
		Logger:      deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "auth reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Services.Auth == nil || deps.cfg.Services.Auth.Reaper == nil {
				return errors.New("auth reaper not configured")
			}
			return deps.cfg.Services.Auth.Reaper.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		cancel:          cancel,
		errCh:           errCh,
		httpServer:      result.HTTPServer,
		shutdownTimeout: cfg.Config.HTTP.ShutdownTimeout,
		services:        cfg.Services,
		logger:          logger,
		backgrounds:     result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel          context.CancelFunc
	errCh           <-chan error
	httpServer      *http.Server
	shutdownTimeout time.Duration
	services        ServiceContainer
	logger          *slog.Logger
	backgrounds     []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop drains HTTP, waits for background services, then flushes the audit queue.
func gracefulStop(cfg shutdownConfig) error {
	var stopErr error
	if cfg.httpServer != nil {
		timeout := cfg.shutdownTimeout
		if timeout <= 0 {
			timeout = shutdownWaitTimeout
		}
		// The service context is already cancelled; shutdown gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		stopErr = ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		})
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	cfg.services.Close()
	return stopErr
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
