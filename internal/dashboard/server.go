// Package dashboard serves backtest results over HTTP and streams live runs over a websocket.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_backtester/internal/backtest"
	"github.com/eddiefleurent/scranton_backtester/internal/strategy"
	"github.com/eddiefleurent/scranton_backtester/internal/sweep"
)

// RunFunc executes a backtest, reporting each processed day to onDay in calendar order.
type RunFunc func(ctx context.Context, onDay func(backtest.DayTrace, *backtest.DayResult)) (*backtest.Result, error)

// Config holds server settings
type Config struct {
	Port          int
	AuthToken     string
	StartingMoney float64
	SweepWorkers  int
}

// Server exposes the latest result and lets clients re-evaluate its traces.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	run      RunFunc
	logger   *logrus.Logger
	upgrader websocket.Upgrader
	cfg      Config

	mu     sync.RWMutex
	latest *backtest.Result

	running sync.Mutex
}

// StreamMessage is one websocket frame of a live run.
type StreamMessage struct {
	Type   string              `json:"type"` // "day", "done" or "error"
	Trace  *backtest.DayTrace  `json:"trace,omitempty"`
	Day    *backtest.DayResult `json:"day,omitempty"`
	Result *backtest.Result    `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// NewServer creates a server. run may be nil, in which case only stored results are served.
func NewServer(cfg Config, run RunFunc, logger *logrus.Logger) *Server {
	if cfg.SweepWorkers < 1 {
		cfg.SweepWorkers = 1
	}
	s := &Server{
		router: chi.NewRouter(),
		run:    run,
		logger: logger,
		cfg:    cfg,
	}
	s.setupRoutes()
	return s
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetResult replaces the result served by the API.
func (s *Server) SetResult(res *backtest.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = res
}

func (s *Server) result() *backtest.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.cfg.AuthToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ws/run", s.handleRunStream)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/api/result", s.handleGetResult)
		r.Get("/api/traces", s.handleGetTraces)
		r.Post("/api/evaluate", s.handleEvaluate)
		r.Post("/api/sweep", s.handleSweep)
	})
	s.router.Post("/api/run", s.handleRun)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.cfg.AuthToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting backtest server on port %d", s.cfg.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().Unix(),
		"has_result": s.result() != nil,
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	res := s.result()
	if res == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	// traces are served separately
	summary := *res
	summary.Traces = nil
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetTraces(w http.ResponseWriter, r *http.Request) {
	res := s.result()
	if res == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, res.Traces)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	res := s.result()
	if res == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	var cfg strategy.ClosingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid closing config: %w", err))
		return
	}
	closing, err := cfg.Build()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sweep.Evaluate(closing, cfg, res.Traces, s.cfg.StartingMoney))
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res := s.result()
	if res == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	var grid sweep.Grid
	if err := json.NewDecoder(r.Body).Decode(&grid); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sweep grid: %w", err))
		return
	}
	outcomes, err := sweep.Run(r.Context(), res.Traces, grid, s.cfg.StartingMoney, s.cfg.SweepWorkers)
	switch {
	case errors.Is(err, strategy.ErrInvalidConfig), errors.Is(err, sweep.ErrEmptyGrid):
		s.writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outcomes)
}

// startRun runs a backtest unless one is already in progress.
func (s *Server) startRun(
	ctx context.Context,
	onDay func(backtest.DayTrace, *backtest.DayResult),
) (*backtest.Result, bool, error) {
	if !s.running.TryLock() {
		return nil, false, nil
	}
	defer s.running.Unlock()

	res, err := s.run(ctx, onDay)
	if err != nil {
		s.logger.WithError(err).Error("Backtest run failed")
		return nil, true, err
	}
	s.SetResult(res)
	return res, true, nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		http.Error(w, "Not Implemented", http.StatusNotImplemented)
		return
	}
	res, started, err := s.startRun(r.Context(), nil)
	switch {
	case !started:
		s.writeError(w, http.StatusConflict, errors.New("a backtest is already running"))
	case err != nil:
		s.writeError(w, http.StatusBadGateway, err)
	default:
		summary := *res
		summary.Traces = nil
		s.writeJSON(w, http.StatusOK, summary)
	}
}

// handleRunStream upgrades to a websocket, runs a backtest and sends one "day" frame per
// processed day followed by a final "done" or "error" frame.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		http.Error(w, "Not Implemented", http.StatusNotImplemented)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the run stops once the client goes away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	send := func(msg StreamMessage) {
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.WithError(err).Debug("Websocket write failed")
			cancel()
		}
	}

	res, started, err := s.startRun(ctx, func(tr backtest.DayTrace, day *backtest.DayResult) {
		send(StreamMessage{Type: "day", Trace: &tr, Day: day})
	})
	switch {
	case !started:
		send(StreamMessage{Type: "error", Error: "a backtest is already running"})
	case err != nil:
		send(StreamMessage{Type: "error", Error: err.Error()})
	default:
		summary := *res
		summary.Traces = nil
		send(StreamMessage{Type: "done", Result: &summary})
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
