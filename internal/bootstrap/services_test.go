package bootstrap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanterna/lanterna-api/config"
	mockauth "github.com/lanterna/lanterna-api/internal/mocks/auth"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{name: "no services enabled", want: 0},
		{name: "http only", modes: []config.ServiceMode{config.ServiceModeHTTP}, want: 1},
		{name: "all services enabled", modes: config.ValidServiceModes(), want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
			if got := errorChannelBufferSize(enabled); got != tt.want+1 {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want+1)
			}
		})
	}
}

func TestBuildObservability(t *testing.T) {
	obs := buildObservability(quietLogger(), config.ObservabilityConfig{
		Metrics: config.ObservabilityMetricsConfig{PrometheusEnabled: true},
	})
	require.NotNil(t, obs.Registry)
	assert.Nil(t, obs.MetricsSink)
	assert.NotNil(t, obs.Auth)

	families, err := obs.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	off := buildObservability(quietLogger(), config.ObservabilityConfig{})
	assert.Nil(t, off.Registry)
	assert.NotNil(t, off.Gatherer())
}

func newTestContainer(t *testing.T) ServiceContainer {
	t.Helper()
	comps, err := BuildAuth(context.Background(), AuthConfig{
		Auth:        testAuthConfig(),
		Reaper:      testReaperConfig(),
		DB:          lazyDB(t),
		RedisClient: testRedis(t),
		Provider:    mockauth.NewMockCredentialProvider(),
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	obs := buildObservability(quietLogger(), config.ObservabilityConfig{
		Metrics: config.ObservabilityMetricsConfig{PrometheusEnabled: true},
	})
	c := ServiceContainer{Auth: comps, Observability: obs}
	t.Cleanup(c.Close)
	return c
}

func TestBuildHTTPHandler(t *testing.T) {
	appCfg := &config.AppConfig{}
	appCfg.HTTP = config.HTTPConfig{
		ProtectedPagePrefixes: []string{"/admin"},
		ProtectedAPIPrefixes:  []string{"/api/admin"},
		Locales:               []string{"en", "fr"},
		LoginPath:             "/login",
		UnauthorizedPath:      "/unauthorized",
	}
	svc := newTestContainer(t)
	rdb := testRedis(t)

	h := buildHTTPHandler(httpHandlerConfig{
		Logger:   quietLogger(),
		Services: routerServices(appCfg, svc, readinessChecks(nil, rdb), quietLogger()),
	})

	tests := []struct {
		name   string
		method string
		path   string
		accept string
		want   int
		check  func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{name: "health", method: http.MethodGet, path: "/healthz", want: http.StatusOK},
		{name: "ready with redis", method: http.MethodGet, path: "/readyz", want: http.StatusOK},
		{name: "admin api without session", method: http.MethodGet, path: "/api/admin/me", want: http.StatusUnauthorized},
		{
			name: "admin page without session", method: http.MethodGet, path: "/fr/admin", accept: "text/html",
			want: http.StatusSeeOther,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/fr/login?redirect="))
			},
		},
		{
			name: "metrics", method: http.MethodGet, path: "/metrics", want: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				body, _ := io.ReadAll(rec.Body)
				assert.Contains(t, string(body), "go_goroutines")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestReadinessChecks(t *testing.T) {
	assert.Empty(t, readinessChecks(nil, nil))
	checks := readinessChecks(lazyDB(t), testRedis(t))
	assert.Len(t, checks, 2)
	require.NoError(t, checks["redis"](context.Background()))
}

func TestStartHTTPServer_RequiresAuth(t *testing.T) {
	assert.Nil(t, StartHTTPServer(nil))
	assert.Nil(t, StartHTTPServer(&HTTPServerConfig{}))
	require.NoError(t, ShutdownHTTPServer(ShutdownConfig{}))
}
