// ABOUTME: HTTP and websocket endpoint publishing pass-through statistics
// ABOUTME: Serves /stats snapshots and pushes them to /ws subscribers on an interval
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/playthrough/internal/discovery"
	"github.com/Resonate-Protocol/playthrough/internal/version"
	"github.com/Resonate-Protocol/playthrough/pkg/playthrough"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Snapshot is the message pushed to watchers
type Snapshot struct {
	Type     string            `json:"type"`
	ServerID string            `json:"server_id"`
	Name     string            `json:"name"`
	Version  string            `json:"version"`
	Time     time.Time         `json:"time"`
	Stats    playthrough.Stats `json:"stats"`
}

// Config holds monitor configuration
type Config struct {
	// Name identifies this session to watchers and in mDNS
	Name string

	// Port is the TCP port for Run (default: 8929)
	Port int

	// Interval between pushed snapshots (default: 500ms)
	Interval time.Duration

	// Source returns the current statistics
	Source func() playthrough.Stats

	// EnableMDNS advertises the endpoint on the local network
	EnableMDNS bool
}

// Server publishes statistics over HTTP and websocket
type Server struct {
	config   Config
	serverID string
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	wg sync.WaitGroup
}

type client struct {
	conn     *websocket.Conn
	sendChan chan []byte
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.sendChan)
	})
}

// New creates a monitor server
func New(config Config) (*Server, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("stats source is required")
	}
	if config.Name == "" {
		config.Name = "playthrough"
	}
	if config.Port == 0 {
		config.Port = 8929
	}
	if config.Interval <= 0 {
		config.Interval = 500 * time.Millisecond
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// read-only stats on the local network
				return true
			},
		},
		clients: make(map[*client]struct{}),
	}

	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s, nil
}

// ServerID returns the id reported in every snapshot
func (s *Server) ServerID() string {
	return s.serverID
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens on the configured port and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}

	if s.config.EnableMDNS {
		mdnsManager := discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        "/ws",
		})
		if err := mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			defer mdnsManager.Stop()
		}
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{Handler: s.mux}

	log.Printf("Monitor listening on %s (ID: %s)", ln.Addr(), s.serverID)

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	broadcastCtx, stopBroadcast := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.broadcastLoop(broadcastCtx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errChan:
		log.Printf("Monitor server error: %v", serveErr)
	}
	stopBroadcast()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Monitor shutdown error: %v", err)
	}

	// hijacked websocket connections are not closed by Shutdown
	s.clientsMu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clientsMu.Unlock()

	s.wg.Wait()
	log.Printf("Monitor stopped")
	return serveErr
}

// Snapshot builds the current snapshot
func (s *Server) Snapshot() Snapshot {
	return Snapshot{
		Type:     "stats",
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  version.Version,
		Time:     time.Now(),
		Stats:    s.config.Source(),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		log.Printf("Error encoding stats: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:     conn,
		sendChan: make(chan []byte, 8),
	}

	// queue the first snapshot before broadcasts can reach the client
	if data, err := json.Marshal(s.Snapshot()); err == nil {
		c.sendChan <- data
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	log.Printf("Watcher connected: %s", conn.RemoteAddr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	// Watchers only listen; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}

	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	c.close()
	conn.Close()

	log.Printf("Watcher disconnected: %s", conn.RemoteAddr())
}

// clientWriter sends queued snapshots and keepalive pings
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case data, ok := <-c.sendChan:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

// broadcast queues the current snapshot for every watcher; slow watchers skip it
func (s *Server) broadcast() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	if len(s.clients) == 0 {
		return
	}

	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		log.Printf("Error encoding snapshot: %v", err)
		return
	}

	for c := range s.clients {
		select {
		case c.sendChan <- data:
		default:
		}
	}
}
