package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		method string
		body   string
	}{
		{http.MethodGet, healthResponse},
		{http.MethodHead, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			healthHandler(rec, httptest.NewRequest(tt.method, "/healthz", nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestReadyHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]Pinger
		status int
		want   map[string]string
	}{
		{"no dependencies", map[string]Pinger{}, http.StatusOK, map[string]string{}},
		{"all healthy", map[string]Pinger{"postgres": ok, "redis": ok}, http.StatusOK,
			map[string]string{"postgres": "ok", "redis": "ok"}},
		{"redis down", map[string]Pinger{"postgres": ok, "redis": down}, http.StatusServiceUnavailable,
			map[string]string{"postgres": "ok", "redis": "unavailable"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			readyHandler(tt.checks, logger)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			require.Equal(t, tt.status, rec.Code)
			var got map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}
