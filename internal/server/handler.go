package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/minsukang/kimchibot/internal/domain"
)

// Handler serves the read-only API over the persistence layer and the live
// rate source.
type Handler struct {
	cycles    domain.CycleStore
	sessions  domain.SessionStore
	portfolio domain.PortfolioStore
	rates     domain.RateSource
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHandler creates a Handler. mode is the operating mode the process was
// started in.
func NewHandler(cycles domain.CycleStore, sessions domain.SessionStore, portfolio domain.PortfolioStore, rates domain.RateSource, mode string, logger *slog.Logger) *Handler {
	return &Handler{
		cycles:    cycles,
		sessions:  sessions,
		portfolio: portfolio,
		rates:     rates,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger.With(slog.String("component", "api")),
	}
}

// Health responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status reports the operating mode, uptime, current rate, capital, and
// active session count.
// GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"usdt_krw":       h.rates.USDTToKRW(),
	}

	if latest, err := h.portfolio.Latest(ctx); err == nil {
		resp["portfolio"] = map[string]any{
			"total_krw": latest.TotalKRW,
			"total_usd": latest.TotalUSD,
			"source":    latest.Source,
			"at":        latest.CreatedAt.UTC().Format(time.RFC3339),
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		h.logger.ErrorContext(ctx, "load latest snapshot", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load portfolio")
		return
	}

	active, err := h.sessions.ListActive(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "list active sessions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load sessions")
		return
	}
	resp["active_sessions"] = len(active)

	writeJSON(w, http.StatusOK, resp)
}

type cycleResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	HPSymbol      string     `json:"hp_symbol"`
	HPSpreadPct   float64    `json:"hp_spread_pct"`
	HPNetKRW      float64    `json:"hp_net_krw"`
	LPSymbol      string     `json:"lp_symbol,omitempty"`
	LPNetKRW      float64    `json:"lp_net_krw"`
	InvestmentKRW float64    `json:"investment_krw"`
	TotalNetKRW   float64    `json:"total_net_krw"`
	TotalNetPct   float64    `json:"total_net_pct"`
	ErrorDetails  string     `json:"error_details,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// RecentCycles lists the most recently created cycles, newest first.
// GET /api/cycles/recent?limit=N
func (h *Handler) RecentCycles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r, 20)

	cycles, err := h.cycles.ListRecent(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "list recent cycles", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load cycles")
		return
	}

	out := make([]cycleResponse, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, cycleResponse{
			ID:            c.ID,
			Status:        string(c.Status),
			HPSymbol:      c.HPSymbol,
			HPSpreadPct:   c.HPSpreadPct,
			HPNetKRW:      c.HPNetKRW,
			LPSymbol:      c.LPSymbol,
			LPNetKRW:      c.LPNetKRW,
			InvestmentKRW: c.InvestmentKRW,
			TotalNetKRW:   c.TotalNetKRW,
			TotalNetPct:   c.TotalNetPct,
			ErrorDetails:  c.ErrorDetails,
			CreatedAt:     c.CreatedAt,
			ClosedAt:      c.ClosedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": out})
}

type sessionResponse struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	CycleID          string    `json:"cycle_id,omitempty"`
	Symbol           string    `json:"symbol,omitempty"`
	HPNetKRW         float64   `json:"hp_net_krw"`
	RequiredLPNetKRW float64   `json:"required_lp_net_krw"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Sessions lists active sessions, plus recently closed ones when
// ?include=recent is set.
// GET /api/sessions
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		sessions []domain.Session
		err      error
	)
	if r.URL.Query().Get("include") == "recent" {
		sessions, err = h.sessions.ListRecent(ctx, parseLimit(r, 20))
	} else {
		sessions, err = h.sessions.ListActive(ctx)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "list sessions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load sessions")
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:               s.ID,
			Status:           string(s.Status),
			CycleID:          s.CycleID,
			Symbol:           s.Symbol,
			HPNetKRW:         s.HPNetKRW,
			RequiredLPNetKRW: s.RequiredLPNetKRW,
			CreatedAt:        s.CreatedAt,
			UpdatedAt:        s.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimit reads ?limit=N with a default, capped at 500.
func parseLimit(r *http.Request, def int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}
