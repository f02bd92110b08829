package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
)

// AuditStats reads aggregated audit statistics.
type AuditStats interface {
	Statistics(ctx context.Context, days int) (domainauth.Statistics, error)
}

// CacheAdmin is the admin-cache surface exposed to operators.
type CacheAdmin interface {
	Clear(principalIDs ...string)
	Len() int
}

// AdminHandlers serves the gated admin API. Every handler expects the gate
// to have admitted the request.
type AdminHandlers struct {
	Audit  AuditStats
	Cache  CacheAdmin
	Logger *slog.Logger
}

func (h *AdminHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Stats returns audit statistics for the last N days.
// GET /api/admin/auth/stats?days=N.
func (h *AdminHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	days := defaultStatsDays
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatsDays {
			WriteError(w, ErrorParams{
				Status:  http.StatusBadRequest,
				Code:    CodeInvalidRequest,
				Message: "days must be between 1 and " + strconv.Itoa(maxStatsDays),
			})
			return
		}
		days = n
	}

	stats, err := h.Audit.Statistics(r.Context(), days)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "auth statistics failed", "days", days, "error", err)
		WriteError(w, ErrorParams{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "statistics unavailable"})
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

type cacheClearRequest struct {
	PrincipalIDs []string `json:"principal_ids"`
}

// ClearCache drops admin-cache entries; an empty body clears everything.
// POST /api/admin/cache/clear.
func (h *AdminHandlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	var req cacheClearRequest
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)
		if err := decodeOptionalJSON(r.Body, &req); err != nil {
			WriteError(w, ErrorParams{Status: http.StatusBadRequest, Code: CodeInvalidJSON, Message: "invalid JSON body"})
			return
		}
	}

	h.Cache.Clear(req.PrincipalIDs...)
	actor := ""
	if ac, ok := AdminFromContext(r.Context()); ok {
		actor = ac.Principal.ID
	}
	h.logger().InfoContext(r.Context(), "admin cache cleared", "by", actor, "principals", len(req.PrincipalIDs))

	WriteJSON(w, http.StatusOK, map[string]any{
		"cleared_all": len(req.PrincipalIDs) == 0,
		"cleared":     len(req.PrincipalIDs),
		"remaining":   h.Cache.Len(),
	})
}

// MeResponse describes the admitted admin.
type MeResponse struct {
	User         domainauth.Principal          `json:"user"`
	Method       domainauth.VerificationMethod `json:"method"`
	SessionStart time.Time                     `json:"session_start"`
	ExpiresAt    time.Time                     `json:"expires_at"`
}

// Me returns the admitted principal and how admin status was decided.
// GET /api/admin/me.
func (h *AdminHandlers) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := AdminFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{Status: http.StatusUnauthorized, Code: CodeNoSession, Message: "authentication required"})
		return
	}
	WriteJSON(w, http.StatusOK, MeResponse{
		User:         ac.Principal,
		Method:       ac.Verification.Method,
		SessionStart: ac.Session.SessionStart,
		ExpiresAt:    ac.Session.ExpiresAt,
	})
}

func decodeOptionalJSON(body io.Reader, dst any) error {
	err := jsonDecoder(body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
