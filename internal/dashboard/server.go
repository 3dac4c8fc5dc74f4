// Package dashboard provides a local WebSocket server that pushes sync
// status, task list and queue changes to connected UIs.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSyncStatus carries the aggregate sync status.
	MessageTypeSyncStatus MessageType = "sync_status"

	// MessageTypeTaskUpdate carries the current active task list.
	MessageTypeTaskUpdate MessageType = "task_update"

	// MessageTypeQueue carries the number of pending operations.
	MessageTypeQueue MessageType = "queue"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server manages WebSocket connections and broadcasts dashboard messages.
// The last message of each type is kept and replayed to new clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	lastMu sync.RWMutex
	last   map[MessageType]Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on; 0 picks a free port.
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   8765,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(host, fmt.Sprint(config.Port)),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		last:      make(map[MessageType]Message),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Handler returns the HTTP routes: /ws, /health and /.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start listens and begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.Run()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Run starts only the broadcast loop. Start calls it; tests serving
// Handler through httptest call it directly.
func (s *Server) Run() {
	s.wg.Add(1)
	go s.broadcastLoop()
}

// Stop closes all clients and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard")

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
	s.logger.Println("Dashboard stopped")
	return nil
}

// Broadcast queues msg for every connected client. It never blocks; when
// the queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.lastMu.Lock()
	s.last[msg.Type] = msg
	s.lastMu.Unlock()

	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// Last returns the most recent message of the given type.
func (s *Server) Last(typ MessageType) (Message, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	msg, ok := s.last[typ]
	return msg, ok
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Replay current state before joining the broadcast set.
	for _, typ := range []MessageType{MessageTypeSyncStatus, MessageTypeTaskUpdate, MessageTypeQueue} {
		msg, ok := s.Last(typ)
		if !ok {
			continue
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := s.write(conn, data); err != nil {
			_ = conn.Close(websocket.StatusInternalError, "")
			return
		}
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	s.readLoop(conn)
}

// readLoop keeps the connection open until the client goes away. Client
// messages are ignored.
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
	s.logger.Printf("Client disconnected (total: %d)", clientCount)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	}
	if msg, ok := s.Last(MessageTypeSyncStatus); ok {
		body["sync"] = msg.Data
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// statusPage renders the latest sync_status, tasks and queue messages as
// they arrive on /ws.
const statusPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>pomosync</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2em; max-width: 40em; }
.synced { color: #2a2; } .partial { color: #c80; } .error { color: #c22; }
li.pending::after { content: " \2022"; color: #c80; }
</style>
</head>
<body>
<h1>pomosync</h1>
<p>Sync: <strong id="state">connecting</strong> &middot; pending <span id="pending">0</span></p>
<ul id="tasks"></ul>
<script>
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const msg = JSON.parse(ev.data);
  if (msg.type === "sync_status") {
    const el = document.getElementById("state");
    el.textContent = msg.data.state;
    el.className = msg.data.state;
  } else if (msg.type === "queue") {
    document.getElementById("pending").textContent = msg.data.pending;
  } else if (msg.type === "task_update") {
    const list = document.getElementById("tasks");
    list.replaceChildren(...(msg.data.tasks || []).map((t) => {
      const li = document.createElement("li");
      li.textContent = t.text;
      if (t.syncStatus === "pending") li.className = "pending";
      return li;
    }));
  }
};
ws.onclose = () => { document.getElementById("state").textContent = "disconnected"; };
</script>
</body>
</html>
`

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, statusPage)
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
