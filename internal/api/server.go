// Package api provides the read-only HTTP and WebSocket observation server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/internal/arena"
	"github.com/meridianlabs/strategy-arena/internal/ledger"
	"github.com/meridianlabs/strategy-arena/pkg/types"
)

// Server exposes the arena's state over HTTP and streams trade and promotion
// events over WebSocket. All endpoints are read-only; the arena is driven by
// its own cycle ticker, never by API calls.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client
	arena      *arena.Arena
	ledger     *ledger.Ledger
}

// NewServer creates the observation server. It registers itself for the
// arena's trade and promotion callbacks.
func NewServer(logger *zap.Logger, config types.ServerConfig, a *arena.Arena, l *ledger.Ledger) *Server {
	server := &Server{
		logger:  logger.Named("api"),
		config:  config,
		router:  mux.NewRouter(),
		clients: make(map[string]*Client),
		arena:   a,
		ledger:  l,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	a.SetOnTrade(server.broadcastTrade)
	a.SetOnPromotion(server.broadcastPromotion)

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/state", s.handleState).Methods("GET")
	s.router.HandleFunc("/api/v1/promotions", s.handlePromotions).Methods("GET")
	s.router.HandleFunc("/api/v1/trades", s.handleTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/trades/open", s.handleOpenTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/allocations", s.handleAllocations).Methods("GET")

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting observation server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server and closes all WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured router, used directly in tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := s.arena.State()
	writeJSON(w, map[string]interface{}{
		"champion":       state.Champion,
		"challengerWins": state.ChallengerWins,
		"lastUpdate":     state.LastUpdate,
		"tradeCount":     s.ledger.TradeCount(),
	})
}

func (s *Server) handlePromotions(w http.ResponseWriter, r *http.Request) {
	history := s.arena.State().PromotionHistory
	if history == nil {
		history = []types.PromotionEvent{}
	}
	writeJSON(w, map[string]interface{}{
		"promotions": history,
		"count":      len(history),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	trades := s.ledger.RecentTrades(limit)
	writeJSON(w, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

func (s *Server) handleOpenTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.ledger.OpenTrades()
	writeJSON(w, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

func (s *Server) handleAllocations(w http.ResponseWriter, r *http.Request) {
	state := s.arena.AllocationState()
	writeJSON(w, map[string]interface{}{
		"mode":        state.Mode,
		"allocations": state.Allocations,
		"lastUpdate":  state.LastUpdate,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
