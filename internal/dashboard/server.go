// Package dashboard provides the live sync status server.
//
// The dashboard broadcasts sync runs, queue flushes, queued records and
// circuit breaker trips to connected WebSocket clients, and serves the
// current sync state over plain HTTP for the browser UI.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/cors"
	wsync "github.com/srikhai/wastetrack/internal/sync"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSyncComplete is sent after every sync run
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeFlushComplete is sent after a pending queue flush
	MessageTypeFlushComplete MessageType = "flush_complete"

	// MessageTypeStatus carries a full sync state snapshot
	MessageTypeStatus MessageType = "status"

	// MessageTypeRecordQueued is sent when a record is diverted to the pending queue
	MessageTypeRecordQueued MessageType = "record_queued"

	// MessageTypeCircuitOpened is sent when the breaker pauses syncing
	MessageTypeCircuitOpened MessageType = "circuit_opened"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncCompleteData summarizes a sync run
type SyncCompleteData struct {
	Records  int           `json:"records"`
	Pushed   int           `json:"pushed"`
	Queued   int           `json:"queued"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// FlushCompleteData summarizes a queue flush
type FlushCompleteData struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// RecordQueuedData identifies a queued record
type RecordQueuedData struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
	Error    string `json:"error,omitempty"`
}

// CircuitOpenedData describes a breaker trip
type CircuitOpenedData struct {
	Streak     int           `json:"streak"`
	RetryAfter time.Duration `json:"retry_after"`
}

// StatusSource provides the snapshot served on /status. *sync.State
// satisfies it.
type StatusSource interface {
	Snapshot(ctx context.Context) (*wsync.Snapshot, error)
}

// Config holds server configuration
type Config struct {
	// Port to listen on; 0 picks a free port
	Port int

	// Silent suppresses sync_complete and record_queued notifications
	Silent bool

	// AllowedOrigins for CORS and WebSocket upgrades; empty allows all
	AllowedOrigins []string

	// Status backs /status and the snapshot sent to new clients
	Status StatusSource

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: slog.Default(),
	}
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	status   StatusSource
	origins  []string

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	silentMu sync.RWMutex
	silent   bool

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// NewServer creates a new dashboard server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		status:    config.Status,
		origins:   config.AllowedOrigins,
		silent:    config.Silent,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With("component", "dashboard"),
	}
}

// Handler returns the HTTP routes wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/", s.handleRoot)

	opts := cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	}
	if len(s.origins) > 0 {
		opts.AllowedOrigins = s.origins
	} else {
		opts.AllowOriginFunc = func(string) bool { return true }
	}
	return cors.New(opts).Handler(mux)
}

// Start begins the HTTP server and the broadcast loop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.StartBroadcasting()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard server error", "error", err)
		}
	}()

	return nil
}

// StartBroadcasting runs the broadcast loop without a listener, for callers
// that mount Handler themselves.
func (s *Server) StartBroadcasting() {
	s.wg.Add(1)
	go s.broadcastLoop()
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Info("dashboard server stopped")
	return nil
}

// SetSilent toggles notification suppression.
func (s *Server) SetSilent(on bool) {
	s.silentMu.Lock()
	defer s.silentMu.Unlock()
	s.silent = on
}

func (s *Server) suppressed(t MessageType) bool {
	s.silentMu.RLock()
	defer s.silentMu.RUnlock()
	return s.silent && (t == MessageTypeSyncComplete || t == MessageTypeRecordQueued)
}

// Publish encodes data and broadcasts it as a message of type t.
func (s *Server) Publish(t MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to encode dashboard message", "type", t, "error", err)
		return
	}
	s.Broadcast(Message{Type: t, Data: raw})
}

// PublishStatus broadcasts the current snapshot.
func (s *Server) PublishStatus(ctx context.Context) {
	if s.status == nil {
		return
	}
	snap, err := s.status.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("failed to read sync state", "error", err)
		return
	}
	s.Publish(MessageTypeStatus, snap)
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	if s.suppressed(msg.Type) {
		return
	}
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
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
				s.logger.Error("failed to marshal message", "error", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Debug("failed to send to client", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	patterns := s.origins
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Debug("client connected", "clients", clientCount)

	// New clients get the current state first.
	welcome := Message{Type: MessageTypeStatus, Timestamp: time.Now()}
	if s.status != nil {
		if snap, err := s.status.Snapshot(r.Context()); err == nil {
			welcome.Data, _ = json.Marshal(snap)
		}
	}
	data, _ := json.Marshal(welcome)
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, data)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the connection open until the client goes away.
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
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Debug("client disconnected", "clients", clientCount)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no sync state"})
		return
	}
	snap, err := s.status.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Waste Tracking Sync</title>
</head>
<body>
    <h1>Waste Tracking Sync Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Sync state: <a href="/status">/status</a></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, html.EscapeString(r.Host))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
