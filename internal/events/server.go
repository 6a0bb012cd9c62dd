// Package events provides the WebSocket event server for the UXP panel.
//
// The panel renders progress bars and status badges without polling: the
// daemon and the CLI push download/upload progress, sync completions and
// status changes here, and the server fans them out to every connected
// WebSocket client.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Type discriminates event payloads.
type Type string

const (
	// TypeDownloadProgress reports per-item download batch progress.
	TypeDownloadProgress Type = "download_progress"

	// TypeUploadProgress reports per-item upload batch progress.
	TypeUploadProgress Type = "upload_progress"

	// TypeSyncComplete reports an incremental or full sync finishing.
	TypeSyncComplete Type = "sync_complete"

	// TypeStatusChange reports an image lifecycle transition.
	TypeStatusChange Type = "status_change"

	// TypeRepair reports an index repair pass that fixed records.
	TypeRepair Type = "repair"
)

// Event is one broadcast message.
type Event struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ProgressData is the payload for the two progress event types.
type ProgressData struct {
	ApplyCode string `json:"applyCode,omitempty"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Item      string `json:"item,omitempty"`
}

// SyncCompleteData is the payload for TypeSyncComplete.
type SyncCompleteData struct {
	Fetched    int           `json:"fetched"`
	NewImages  int           `json:"newImages"`
	Downloaded int           `json:"downloaded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// StatusChangeData is the payload for TypeStatusChange.
type StatusChangeData struct {
	ApplyCode string `json:"applyCode"`
	LocalPath string `json:"localPath"`
	Status    string `json:"status"`
}

// RepairData is the payload for TypeRepair.
type RepairData struct {
	Repaired int `json:"repaired"`
}

// Server owns the WebSocket connections and the broadcast fan-out.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8787).
	Port int

	// Logger for server activity (default: log.Default()).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8787,
		Logger: log.Default(),
	}
}

// NewServer creates an event server. It does not listen until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf("127.0.0.1:%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins listening and serving WebSocket upgrades on /ws.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Event server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Event server error: %v", err)
		}
	}()

	return nil
}

// Stop closes all connections and shuts the server down gracefully.
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
		return fmt.Errorf("event server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Publish queues an event for broadcast. Payloads that fail to marshal are
// logged and dropped; a full queue drops the event rather than blocking the
// batch that produced it.
func (s *Server) Publish(typ Type, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("Failed to marshal %s event: %v", typ, err)
		return
	}
	ev := Event{Type: typ, Timestamp: time.Now(), Data: data}

	select {
	case s.broadcast <- ev:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("Warning: event queue full, dropping %s", typ)
	}
}

// broadcastLoop fans queued events out to every connected client.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev := <-s.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
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
		// The UXP panel connects from the plugin origin.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Panel connected (total: %d)", count)

	go s.readLoop(conn)
}

// readLoop drains client messages to detect disconnects; the panel never
// sends anything meaningful.
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
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Panel disconnected (total: %d)", count)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.clientsMu.RLock()
	count := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": count,
	})
}

// Addr returns the bound address once Start has been called.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected panels.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
