// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/internal/backtest"
	"github.com/stratos-labs/quant-backend/internal/report"
	"github.com/stratos-labs/quant-backend/internal/strategy"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Config holds the server settings.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// RunState tracks one submitted backtest.
type RunState struct {
	ID        string               `json:"id"`
	Config    types.BacktestConfig `json:"config"`
	Status    string               `json:"status"`
	Error     string               `json:"error,omitempty"`
	Started   time.Time            `json:"started"`
	Processed int                  `json:"processed"`
	Total     int                  `json:"total"`

	result *backtest.Result
}

// HistoryLoader supplies bar history for a run. The file store and the
// warehouse source both satisfy it through small adapters in cmd.
type HistoryLoader func(symbols []string, timeframe types.Timeframe, start, end time.Time) (map[string][]types.OHLCV, error)

// Server exposes run submission, results, market data, a progress
// WebSocket, and Prometheus metrics. Runs execute in the background;
// submission returns immediately with the run ID.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	cfg        Config
	router     *mux.Router
	httpServer *http.Server
	metrics    *serverMetrics
	hub        *wsHub

	strategies *strategy.Registry
	loadBars   HistoryLoader
	runs       map[string]*RunState
}

// NewServer wires the routes.
func NewServer(logger *zap.Logger, cfg Config, strategies *strategy.Registry, loadBars HistoryLoader) *Server {
	s := &Server{
		logger:     logger.Named("api"),
		cfg:        cfg,
		router:     mux.NewRouter(),
		metrics:    newServerMetrics(),
		strategies: strategies,
		loadBars:   loadBars,
		runs:       make(map[string]*RunState),
	}
	s.hub = newWSHub(s.logger, s.metrics)
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	api.HandleFunc("/backtests", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/backtests", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/backtests/{id}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/backtests/{id}/result", s.handleResult).Methods(http.MethodGet)
	api.HandleFunc("/backtests/{id}/report", s.handleReport).Methods(http.MethodGet)
	api.HandleFunc("/backtests/{id}/trades", s.handleTrades).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.hub.handleUpgrade)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
}

// Handler returns the full middleware-wrapped handler, also used by
// tests.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Info("starting api server", zap.String("addr", s.cfg.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server and closes all WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": s.strategies.List(),
	})
}

// submitRequest is the body of POST /backtests.
type submitRequest struct {
	types.BacktestConfig
	Timeframe types.Timeframe `json:"timeframe"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timeframe == "" {
		req.Timeframe = types.Timeframe1h
	}

	strat, err := s.strategies.Create(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	engine, err := backtest.NewEngine(s.logger, req.BacktestConfig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := s.loadBars(req.Symbols, req.Timeframe, req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	state := &RunState{
		ID:      req.ID,
		Config:  req.BacktestConfig,
		Status:  StatusRunning,
		Started: time.Now(),
	}

	s.mu.Lock()
	if _, exists := s.runs[req.ID]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "run id already exists")
		return
	}
	s.runs[req.ID] = state
	s.mu.Unlock()

	s.metrics.runsStarted.Inc()
	engine.SetProgress(func(processed, total int) {
		s.mu.Lock()
		state.Processed, state.Total = processed, total
		s.mu.Unlock()
		if processed == total || processed%1000 == 0 {
			s.hub.broadcast("backtest:progress", map[string]any{
				"id": state.ID, "processed": processed, "total": total,
			})
		}
	})

	go s.execute(state, engine, history, strat)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     state.ID,
		"status": state.Status,
	})
}

func (s *Server) execute(state *RunState, engine *backtest.Engine, history map[string][]types.OHLCV, strat strategy.Strategy) {
	result, err := engine.Run(history, strat)

	s.mu.Lock()
	if err != nil {
		state.Status = StatusFailed
		state.Error = err.Error()
	} else {
		state.Status = StatusCompleted
		state.result = result
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.runsFailed.Inc()
		s.logger.Error("backtest failed", zap.String("id", state.ID), zap.Error(err))
	} else {
		s.metrics.runsCompleted.Inc()
		s.metrics.runDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
	}

	s.hub.broadcast("backtest:complete", map[string]any{
		"id":     state.ID,
		"status": state.Status,
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	out := make([]RunState, 0, len(s.runs))
	for _, state := range s.runs {
		out = append(out, *state)
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// run returns a snapshot of the state so handlers never marshal a
// struct the background run is still mutating.
func (s *Server) run(r *http.Request) (RunState, bool) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.runs[id]
	if !ok {
		return RunState{}, false
	}
	return *state, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, ok := s.run(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	state, ok := s.run(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if state.result == nil {
		writeError(w, http.StatusConflict, "run not completed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := report.WriteJSON(w, state.result); err != nil {
		s.logger.Error("write result", zap.String("id", state.ID), zap.Error(err))
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	state, ok := s.run(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if state.result == nil {
		writeError(w, http.StatusConflict, "run not completed")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	if err := report.WriteMarkdown(w, state.result); err != nil {
		s.logger.Error("write report", zap.String("id", state.ID), zap.Error(err))
	}
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	state, ok := s.run(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if state.result == nil {
		writeError(w, http.StatusConflict, "run not completed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     state.ID,
		"trades": state.result.Trades,
		"count":  len(state.result.Trades),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
