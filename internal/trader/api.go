package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// APIServer exposes the webhook and status endpoints for the trading engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(engine *Engine, logger *zap.Logger) *APIServer {
	addr := fmt.Sprintf(":%d", engine.cfg.Server.Port)
	server := &http.Server{
		Addr: addr,
	}

	return &APIServer{
		server: server,
		engine: engine,
		logger: logger.Named("api-server"),
	}
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	s.server.Handler = mux

	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// webhookHandler accepts a raw pipe-delimited alert payload, parses it into
// a signal and hands it to the engine. The response is always 200 once the
// payload parsed; execution outcomes are reported over the notifier instead,
// because the alert sender retries on non-200 and a replayed entry is worse
// than a swallowed error.
func (s *APIServer) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sig, err := ParseSignal(string(body))
	if err != nil {
		s.logger.Warn("Rejected webhook payload",
			zap.String("payload", string(body)), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.HandleSignal(sig); err != nil {
		s.logger.Warn("Signal handling failed",
			zap.String("symbol", sig.Symbol),
			zap.String("action", string(sig.Action)),
			zap.Error(err))
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	trades := s.engine.Registry().Snapshot()
	open := make([]tradeStatus, 0, len(trades))
	for _, t := range trades {
		if !t.IsLive() {
			continue
		}
		open = append(open, tradeStatus{
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			State:      string(t.State),
			EntryPrice: t.EntryPrice,
			StopPrice:  t.StopPrice,
			EntryTime:  t.EntryTime.Format(time.RFC3339),
		})
	}

	status := struct {
		StartTime string        `json:"start_time"`
		Uptime    string        `json:"uptime"`
		Open      []tradeStatus `json:"open_trades"`
	}{
		StartTime: s.engine.StartTime.Format(time.RFC3339),
		Uptime:    time.Since(s.engine.StartTime).String(),
		Open:      open,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

type tradeStatus struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	State      string  `json:"state"`
	EntryPrice float64 `json:"entry_price"`
	StopPrice  float64 `json:"stop_price,omitempty"`
	EntryTime  string  `json:"entry_time"`
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
