// Package operator implements the operator HTTP interface: read-only
// health/metrics/state/position/order/pending endpoints, plus the action
// endpoints (acknowledge manual review, kill-switch, pause/resume), which
// accept POST only. No endpoint returns recent ledger events.
//
// Built around an http.ServeMux with /healthz and /metrics routes,
// generalized from a two-route static mux into the full read/action
// surface, with prometheus/client_golang's promhttp.Handler kept for
// /metrics.
package operator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chidi150c/perpcore/internal/bus"
	"github.com/chidi150c/perpcore/internal/events"
	"github.com/chidi150c/perpcore/internal/pending"
	"github.com/chidi150c/perpcore/internal/state"
)

// Controls is the narrow set of mutating actions the operator surface can
// invoke. The orchestrator supplies an implementation that actually flips
// its pause/kill flags; operator itself holds no trading-loop state.
type Controls interface {
	Pause()
	Resume()
	KillSwitch(reason string)
	AcknowledgeReview(note string) error
}

// Server is the operator-facing HTTP surface.
type Server struct {
	mux        *http.ServeMux
	httpServer *http.Server
	snapshot   func() state.TradingState
	pending    *pending.Store
	bus        *bus.Bus
	controls   Controls
	log        *slog.Logger
}

// New builds a Server bound to addr, wiring /healthz, /metrics, the
// read-only state/position/order/pending endpoints, and the action
// endpoints over snapshot/pending/controls.
func New(addr string, reg *prometheus.Registry, snapshot func() state.TradingState, p *pending.Store, b *bus.Bus, c Controls, log *slog.Logger) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		snapshot: snapshot,
		pending:  p,
		bus:      b,
		controls: c,
		log:      log.With("component", "operator"),
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/state", s.handleState)
	s.mux.HandleFunc("/positions", s.handlePositions)
	s.mux.HandleFunc("/orders", s.handleOrders)
	s.mux.HandleFunc("/pending", s.handlePending)
	s.mux.HandleFunc("/actions/pause", s.handlePause)
	s.mux.HandleFunc("/actions/resume", s.handleResume)
	s.mux.HandleFunc("/actions/kill-switch", s.handleKillSwitch)
	s.mux.HandleFunc("/actions/acknowledge-review", s.handleAcknowledgeReview)

	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

// Start serves in a background goroutine, mirroring main.go's
// "go func() { ListenAndServe ... }" pattern.
func (s *Server) Start() {
	go func() {
		s.log.Info("serving operator interface", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("operator server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server, mirroring main.go's
// context.WithTimeout + srv.Shutdown shutdown sequence.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.snapshot())
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.snapshot().Positions)
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.snapshot().OpenOrders)
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	if s.pending == nil {
		writeJSON(w, map[string]any{})
		return
	}
	writeJSON(w, s.pending.All())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	s.controls.Pause()
	writeJSON(w, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	s.controls.Resume()
	writeJSON(w, map[string]string{"status": "resumed"})
}

type killSwitchReq struct {
	Reason string `json:"reason"`
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	var req killSwitchReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.controls.KillSwitch(req.Reason)
	if s.bus != nil {
		_, _ = s.bus.Publish(events.ShutdownInitiated, map[string]any{"reason": req.Reason}, events.WithSource("operator", nil))
	}
	writeJSON(w, map[string]string{"status": "kill_switch_engaged"})
}

type ackReviewReq struct {
	Note string `json:"note"`
}

func (s *Server) handleAcknowledgeReview(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	var req ackReviewReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.controls.AcknowledgeReview(req.Note); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if s.bus != nil {
		_, _ = s.bus.Publish(events.ManualReviewAcknowledged, map[string]any{
			"note": req.Note,
			"at":   time.Now().UTC(),
		}, events.WithSource("operator", nil))
	}
	writeJSON(w, map[string]string{"status": "acknowledged"})
}

func (s *Server) requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
