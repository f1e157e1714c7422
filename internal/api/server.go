// Package api provides the HTTP API for observing running simulations.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/engine"
	"github.com/talgya/housing-market/internal/market"
	"github.com/talgya/housing-market/internal/metrics"
	"github.com/talgya/housing-market/internal/persistence"
	"github.com/talgya/housing-market/internal/stats"
)

const maxSpeed = 1000

// Server serves simulation state over HTTP.
type Server struct {
	DB       *persistence.DB     // optional; enables history
	Gatherer prometheus.Gatherer // optional; enables /metrics
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	mu   sync.RWMutex
	runs map[string]*run
}

type run struct {
	sim *engine.Simulation
	eng *engine.Engine
}

// Register makes a run visible to the API. It has the signature of
// engine.Runner.Started.
func (s *Server) Register(sim *engine.Simulation, eng *engine.Engine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = make(map[string]*run)
	}
	s.runs[sim.RunID.String()] = &run{sim: sim, eng: eng}
	return nil
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	historyLimiter := NewRateLimiter(60, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/runs/{id}/indicators", s.handleIndicators)
	mux.HandleFunc("GET /api/v1/runs/{id}/markets/{kind}", s.handleMarket)
	mux.HandleFunc("GET /api/v1/runs/{id}/history", RateLimitMiddleware(historyLimiter, s.handleHistory))
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.Gatherer))
	}

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/stop", s.adminOnly(s.handleStop))

	return corsMiddleware(mux)
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	zap.S().Infow("HTTP API starting", "addr", srv.Addr, "admin_auth", s.AdminKey != "")

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set HOUSING_CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("HOUSING_CORS_ORIGINS"); env != "" {
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
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no output.admin_key set)", http.StatusForbidden)
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

// sortedRuns returns the registered runs by seed.
func (s *Server) sortedRuns() []*run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *run) int {
		return cmp.Or(
			cmp.Compare(a.sim.Seed, b.sim.Seed),
			strings.Compare(a.sim.RunID.String(), b.sim.RunID.String()),
		)
	})
	return out
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*run, bool) {
	s.mu.RLock()
	rn, ok := s.runs[r.PathValue("id")]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
	}
	return rn, ok
}

type runStatus struct {
	RunID      string  `json:"run_id"`
	Seed       int64   `json:"seed"`
	Month      int     `json:"month"`
	SimTime    string  `json:"sim_time"`
	Speed      float64 `json:"speed"`
	Running    bool    `json:"running"`
	Population int     `json:"population"`
	Births     int     `json:"births"`
	Deaths     int     `json:"deaths"`
	HPI        float64 `json:"hpi"`
	Rate       float64 `json:"interest_rate"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs := s.sortedRuns()
	out := make([]runStatus, 0, len(runs))
	for _, rn := range runs {
		st := rn.eng.Status()
		ind := rn.sim.Indicators()
		flows := rn.sim.Flows()
		out = append(out, runStatus{
			RunID:      rn.sim.RunID.String(),
			Seed:       rn.sim.Seed,
			Month:      st.Month,
			SimTime:    engine.SimTime(st.Month),
			Speed:      st.Speed,
			Running:    st.Running,
			Population: ind.Population,
			Births:     flows.Births,
			Deaths:     flows.Deaths,
			HPI:        ind.HPI,
			Rate:       ind.InterestRate,
		})
	}
	writeJSON(w, map[string]any{
		"name": "housing-market",
		"runs": out,
	})
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	rn, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, rn.sim.Indicators())
}

// handleMarket returns the order book of one market, best offers first.
// ?limit caps the number of entries per ordering (default 100).
func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	rn, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var kind market.Kind
	switch r.PathValue("kind") {
	case market.Sale.String():
		kind = market.Sale
	case market.Rental.String():
		kind = market.Rental
	default:
		http.Error(w, "market must be sale or rental", http.StatusBadRequest)
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
	}

	snap := rn.sim.MarketSnapshot(kind)
	total := len(snap.Quality)
	if len(snap.Quality) > limit {
		snap.Quality = snap.Quality[:limit]
	}
	if len(snap.Yield) > limit {
		snap.Yield = snap.Yield[:limit]
	}
	if snap.Quality == nil {
		snap.Quality = []market.Entry{}
	}
	writeJSON(w, map[string]any{
		"market":   kind.String(),
		"offers":   total,
		"by_price": snap.Quality,
		"by_yield": snap.Yield,
	})
}

// handleHistory returns stored indicators for months in [from, to].
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	from, to := 0, int(^uint(0)>>1)
	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.Atoi(f); err == nil {
			from = v
		}
	}
	if t := r.URL.Query().Get("to"); t != "" {
		if v, err := strconv.Atoi(t); err == nil {
			to = v
		}
	}

	rows, err := s.DB.Indicators(r.PathValue("id"))
	if err != nil {
		zap.S().Errorw("history query failed", "run", r.PathValue("id"), "error", err)
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	out := make([]stats.CoreIndicators, 0, len(rows))
	for _, row := range rows {
		if row.Month >= from && row.Month <= to {
			out = append(out, row)
		}
	}
	writeJSON(w, out)
}

// handleSpeed reports engine speeds; POST sets the speed of every run, or
// of one run when run_id is given.
func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
			RunID string  `json:"run_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > maxSpeed {
			http.Error(w, fmt.Sprintf("speed must be 0-%d", maxSpeed), http.StatusBadRequest)
			return
		}
		matched := 0
		for _, rn := range s.sortedRuns() {
			if req.RunID != "" && rn.sim.RunID.String() != req.RunID {
				continue
			}
			if err := rn.eng.SetSpeed(req.Speed); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			matched++
		}
		if req.RunID != "" && matched == 0 {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		zap.S().Infow("speed changed", "speed", req.Speed, "runs", matched)
	} else if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	speeds := make(map[string]float64)
	for _, rn := range s.sortedRuns() {
		speeds[rn.sim.RunID.String()] = rn.eng.Status().Speed
	}
	writeJSON(w, map[string]any{"speeds": speeds})
}

// handleStop stops every run after its current month.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	runs := s.sortedRuns()
	for _, rn := range runs {
		rn.eng.Stop()
	}
	zap.S().Infow("stop requested", "runs", len(runs))
	writeJSON(w, map[string]any{"stopped": len(runs)})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		zap.S().Debugw("write response", "error", err)
	}
}
