// Package api serves the monitoring dashboard for a running simulation:
// an HTTP snapshot endpoint plus a WebSocket stream of periodic account
// snapshots. The dashboard is read-only; it never mutates exchange state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/link-light/apexquant/internal/config"
	"github.com/link-light/apexquant/pkg/types"
)

// snapshotInterval is how often the hub pushes account state to clients.
const snapshotInterval = 2 * time.Second

// Provider is the read surface the dashboard needs. Satisfied by
// *exchange.Exchange.
type Provider interface {
	AccountSnapshot() types.AccountSnapshot
	PendingOrders(symbol string) []types.Order
	TradeHistory() []types.TradeRecord
}

// Event is the envelope pushed over the WebSocket stream.
type Event struct {
	Type      string    `json:"type"` // "snapshot"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Snapshot is the full dashboard payload.
type Snapshot struct {
	Account       types.AccountSnapshot `json:"account"`
	PendingOrders []types.Order         `json:"pending_orders"`
	RecentTrades  []types.TradeRecord   `json:"recent_trades"`
}

// Server runs the HTTP/WebSocket API for the dashboard.
type Server struct {
	cfg      config.DashboardConfig
	provider Provider
	hub      *Hub
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a dashboard server over the given provider.
func NewServer(cfg config.DashboardConfig, provider Provider, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
		hub:      NewHub(logger),
		logger:   logger.With("component", "api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the hub, the periodic broadcaster, and the HTTP listener.
// Blocks until the server stops.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.broadcastLoop()

	s.logger.Info("dashboard listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.hub.Broadcast(Event{
			Type:      "snapshot",
			Timestamp: time.Now(),
			Data:      s.buildSnapshot(),
		})
	}
}

func (s *Server) buildSnapshot() Snapshot {
	trades := s.provider.TradeHistory()
	if len(trades) > 50 {
		trades = trades[len(trades)-50:]
	}
	return Snapshot{
		Account:       s.provider.AccountSnapshot(),
		PendingOrders: s.provider.PendingOrders(""),
		RecentTrades:  trades,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.buildSnapshot()); err != nil {
		s.logger.Error("encode snapshot", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(s.hub, conn)
}
