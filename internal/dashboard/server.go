// Package dashboard exposes the sync engine over HTTP: a JSON status API,
// manual sync and conflict-resolution endpoints, and a WebSocket stream of
// sync events for a frontend to render live.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shelfwise/shelfsync/internal/store"
	syncengine "github.com/shelfwise/shelfsync/internal/sync"
)

// MessageType defines the type of a dashboard broadcast.
type MessageType string

const (
	// MessageTypeSyncStarted announces the beginning of a sync cycle.
	MessageTypeSyncStarted MessageType = "sync_started"

	// MessageTypeTableState reports a table moving between sync phases.
	MessageTypeTableState MessageType = "table_state"

	// MessageTypeSyncComplete carries the per-table summaries of a
	// finished cycle.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStatus carries a full engine status snapshot.
	MessageTypeStatus MessageType = "status"
)

// Message is one dashboard broadcast frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8484).
	Port int

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// Server serves the HTTP API and fans sync events out to WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	engine  *syncengine.Engine
	store   *store.Store
	trigger func()

	clients   map[*websocket.Conn]bool
	clientsMu stdsync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server. trigger requests an out-of-band sync
// cycle from the daemon.
func NewServer(engine *syncengine.Engine, st *store.Store, trigger func(), cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8484
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", cfg.Port),
		engine:    engine,
		store:     st,
		trigger:   trigger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("dashboard listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, useful when Port was 0 in tests.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Printf("dashboard stopped")
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/sync", s.handleTriggerSync)
		r.Get("/conflicts", s.handleConflicts)
		r.Post("/conflicts/{id}/resolve", s.handleResolveConflict)
	})

	return r
}

// Broadcast queues a message for all connected clients. Full queues drop the
// message rather than stall the sync loop.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Writes happen outside the lock so a slow client cannot
			// block new connections.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("client connected (total: %d)", clientCount)

	// New clients get a status snapshot so the UI renders immediately.
	if st, err := s.engine.Status(r.Context()); err == nil {
		if data, err := json.Marshal(st); err == nil {
			msg, _ := json.Marshal(Message{
				Type: MessageTypeStatus, Timestamp: time.Now(), Data: data,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, msg)
			cancel()
		}
	}

	go s.readLoop(conn)
}

// readLoop drains client frames so pings are answered and disconnects are
// noticed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("client disconnected (total: %d)", clientCount)
		return
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": clientCount,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.trigger != nil {
		s.trigger()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync requested"})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	unresolvedOnly := r.URL.Query().Get("all") == ""
	conflicts, err := s.store.Conflicts(r.Context(), unresolvedOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if conflicts == nil {
		conflicts = []store.Conflict{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.Strategy != store.StrategyLocalWins && body.Strategy != store.StrategyRemoteWins {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown strategy %q", body.Strategy))
		return
	}

	if err := s.store.ResolveConflict(r.Context(), id, body.Strategy); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
