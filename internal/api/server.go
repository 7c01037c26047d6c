// Package api serves a live market run over HTTP.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/talgya/edgeworth/internal/agents"
	"github.com/talgya/edgeworth/internal/engine"
	"github.com/talgya/edgeworth/internal/market"
	"github.com/talgya/edgeworth/internal/persistence"
)

// Server exposes one paced run: its live state, its persisted history, and a
// WebSocket feed of trades as they settle.
type Server struct {
	Runner   *engine.Runner
	DB       *persistence.DB // nil disables the persisted-history endpoints
	RunID    string
	Addr     string
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// StartRun launches the paced loop exactly once. Wired by the caller;
	// nil disables the start action.
	StartRun func() error

	RateLimitRPS   float64
	RateLimitBurst int

	initOnce sync.Once
	feed     *feedHub
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		s.feed = newFeedHub()
	})
}

// Handler assembles the full route table. Split out from Start so tests can
// drive the server through httptest.
func (s *Server) Handler() http.Handler {
	s.init()

	limiter := NewRateLimiter(s.RateLimitRPS, s.RateLimitBurst)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only; anyone can watch the market).
	mux.HandleFunc("/api/v1/status", RateLimitMiddleware(limiter, s.handleStatus))
	mux.HandleFunc("/api/v1/market", RateLimitMiddleware(limiter, s.handleMarket))
	mux.HandleFunc("/api/v1/trades", RateLimitMiddleware(limiter, s.handleTrades))
	mux.HandleFunc("/api/v1/runs", RateLimitMiddleware(limiter, s.handleRuns))

	// WebSocket feed (long-lived; capped by connection count, not tokens).
	mux.HandleFunc("/api/v1/feed", s.handleFeed)

	// Admin endpoint (POST, requires bearer token).
	mux.HandleFunc("/api/v1/run", s.adminOnly(s.handleRun))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	handler := s.Handler()
	slog.Info("HTTP API starting", "addr", s.Addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(s.Addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed dashboard origins.
// Set CORS_ORIGINS to a comma-separated list of extra allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (the control endpoint reports state on GET).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no admin key configured)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Runner.Snapshot()

	status := map[string]any{
		"run_id":        s.RunID,
		"state":         snap.State.String(),
		"rounds":        snap.Rounds,
		"agents":        len(snap.Balances),
		"speed":         s.Runner.Speed(),
		"running":       s.Runner.Running(),
		"total_utility": snap.TotalUtility,
	}
	if snap.State == market.StateSettled {
		status["report"] = s.Runner.Verify()
	}
	writeJSON(w, status)
}

// handleMarket returns the population with current balances plus the order
// book every agent would quote against them.
func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	type agentEntry struct {
		ID      agents.AgentID `json:"id"`
		Name    string         `json:"name"`
		CoeffA  float64        `json:"coeff_a"`
		CoeffB  float64        `json:"coeff_b"`
		Quote   float64        `json:"quote"`
		Balance agents.Balance `json:"balance"`
		Utility float64        `json:"utility"`
	}

	pop := s.Runner.Population()
	snap := s.Runner.Snapshot()
	bids, asks := s.Runner.Book()

	entries := make([]agentEntry, 0, len(pop))
	for i, a := range pop {
		bal := snap.Balances[i]
		entries = append(entries, agentEntry{
			ID:      a.ID,
			Name:    a.Name,
			CoeffA:  a.CoeffA,
			CoeffB:  a.CoeffB,
			Quote:   a.IndifferencePrice(),
			Balance: bal,
			Utility: a.Utility(bal.A, bal.B),
		})
	}
	if bids == nil {
		bids = []market.Order{}
	}
	if asks == nil {
		asks = []market.Order{}
	}

	writeJSON(w, map[string]any{
		"state":  snap.State.String(),
		"rounds": snap.Rounds,
		"agents": entries,
		"bids":   bids,
		"asks":   asks,
	})
}

// handleTrades pages through a run's persisted trades. Defaults to the live
// run; pass ?run= for a historical one.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	runID := r.URL.Query().Get("run")
	if runID == "" {
		runID = s.RunID
	}
	if runID == "" {
		http.Error(w, "missing run id", http.StatusBadRequest)
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	rows, err := s.DB.LoadTrades(runID)
	if err != nil {
		slog.Error("trade query failed", "error", err, "run_id", runID)
		http.Error(w, "trade query failed", http.StatusInternalServerError)
		return
	}

	total := len(rows)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := rows[offset:end]
	if page == nil {
		page = []persistence.TradeRow{}
	}

	writeJSON(w, map[string]any{
		"run":    runID,
		"total":  total,
		"offset": offset,
		"trades": page,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	runs, err := s.DB.ListRuns(limit)
	if err != nil {
		slog.Error("run query failed", "error", err)
		http.Error(w, "run query failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

// handleRun is the admin control plane for the paced loop. GET reports the
// control state; POST takes {"action": ...} with an optional speed.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, s.controlState())
		return
	}

	var req struct {
		Action string  `json:"action"`
		Speed  float64 `json:"speed,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "start":
		if s.StartRun == nil {
			http.Error(w, "run control not available", http.StatusServiceUnavailable)
			return
		}
		if s.Runner.Running() {
			http.Error(w, "run already in progress", http.StatusConflict)
			return
		}
		if s.Runner.Snapshot().State == market.StateSettled {
			http.Error(w, "market already settled", http.StatusConflict)
			return
		}
		if err := s.StartRun(); err != nil {
			slog.Error("run start failed", "error", err, "run_id", s.RunID)
			http.Error(w, "run start failed", http.StatusInternalServerError)
			return
		}
		slog.Info("run started", "run_id", s.RunID)

	case "pause":
		s.Runner.SetSpeed(0)
		slog.Info("run paused", "run_id", s.RunID)

	case "resume":
		speed := req.Speed
		if speed <= 0 {
			speed = 1
		}
		if speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Runner.SetSpeed(speed)
		slog.Info("run resumed", "run_id", s.RunID, "speed", speed)

	case "speed":
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Runner.SetSpeed(req.Speed)
		slog.Info("speed changed", "run_id", s.RunID, "speed", req.Speed)

	case "stop":
		s.Runner.Stop()
		slog.Info("run stop requested", "run_id", s.RunID)

	default:
		http.Error(w, "unknown action (use: start, pause, resume, speed, stop)", http.StatusBadRequest)
		return
	}

	writeJSON(w, s.controlState())
}

func (s *Server) controlState() map[string]any {
	snap := s.Runner.Snapshot()
	return map[string]any{
		"run_id":  s.RunID,
		"state":   snap.State.String(),
		"rounds":  snap.Rounds,
		"speed":   s.Runner.Speed(),
		"running": s.Runner.Running(),
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
