// ABOUTME: HTTP status API for the receiver
// ABOUTME: Serves state snapshots, cover art, remote commands, metrics and a WebSocket event stream
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/airstream-go/airstream/internal/artwork"
	"github.com/airstream-go/airstream/internal/metrics"
	"github.com/airstream-go/airstream/internal/version"
	"github.com/airstream-go/airstream/pkg/airstream"
	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/dacp"
	"github.com/airstream-go/airstream/pkg/dmap"
	"github.com/gorilla/websocket"
)

const (
	// DefaultAddr is the default status listen address
	DefaultAddr = ":8090"

	commandTimeout = 5 * time.Second
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	sendBuffer     = 64
)

// Receiver is the part of airstream.Receiver the status API reads
type Receiver interface {
	Config() airstream.ServerConfig
	Running() bool
	Sessions() []airstream.SessionInfo
	Playback() airstream.PlaybackState
	Stats() airstream.Stats
	SendRemoteCommand(ctx context.Context, cmd dacp.Command) error
}

// Config holds status server configuration
type Config struct {
	Addr  string
	Debug bool
}

// Server is the status HTTP server
type Server struct {
	config   Config
	receiver Receiver
	metrics  *metrics.Metrics

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server
	ln         net.Listener

	clientsMu sync.Mutex
	clients   map[*client]struct{}
	wg        sync.WaitGroup
}

type client struct {
	conn     *websocket.Conn
	sendChan chan Message
	done     chan struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// New creates a status server. m may be nil to disable /metrics.
func New(config Config, receiver Receiver, m *metrics.Metrics) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}

	s := &Server{
		config:   config,
		receiver: receiver,
		metrics:  m,
		mux:      http.NewServeMux(),
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			// The status API is for trusted local networks
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.handle("GET /status", s.handleStatus)
	s.handle("GET /artwork", s.handleArtwork)
	s.handle("POST /remote/{command}", s.handleRemote)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	if m != nil {
		s.mux.Handle("GET /metrics", m.Handler())
	}
	return s
}

// handle registers h wrapped with request metrics
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.withMetrics(pattern, h))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.status), time.Since(start).Seconds())
		}
		if s.config.Debug {
			log.Printf("[DEBUG] %s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, time.Since(start))
		}
	})
}

// Handler returns the HTTP handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.ln = ln
	s.httpServer = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Status server error: %v", err)
		}
	}()

	log.Printf("Status API listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes event stream clients and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.clientsMu.Lock()
	for c := range s.clients {
		c.close()
		c.conn.Close()
	}
	s.clientsMu.Unlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// Snapshot builds the current status
func (s *Server) Snapshot() Status {
	cfg := s.receiver.Config()
	stats := s.receiver.Stats()

	sessions := []Session{}
	for _, info := range s.receiver.Sessions() {
		sessions = append(sessions, sessionView(info))
	}

	return Status{
		Name:    cfg.Name,
		Port:    cfg.Port,
		Running: s.receiver.Running(),
		Device: DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
		Sessions: sessions,
		Playback: playbackView(s.receiver.Playback()),
		Stats: Stats{
			ActiveSessions:   stats.ActiveSessions,
			MaxSessions:      stats.MaxSessions,
			TotalSessions:    stats.TotalSessions,
			RejectedSessions: stats.RejectedSessions,
			Buffer:           bufferView(stats.Buffer),
		},
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleArtwork(w http.ResponseWriter, r *http.Request) {
	art := s.receiver.Playback().CoverArt
	if len(art) == 0 {
		http.Error(w, "no artwork", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", artwork.ContentType(art))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(art)
}

func (s *Server) handleRemote(w http.ResponseWriter, r *http.Request) {
	result := s.sendCommand(r.Context(), r.PathValue("command"))

	code := http.StatusOK
	switch {
	case result.err == nil:
	case errors.Is(result.err, dacp.ErrUnknownCommand):
		code = http.StatusBadRequest
	case errors.Is(result.err, dacp.ErrRemoteUnavailable):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, result.view)
}

type commandResult struct {
	view RemoteResult
	err  error
}

func (s *Server) sendCommand(ctx context.Context, name string) commandResult {
	cmd, err := dacp.ParseCommand(name)
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		err = s.receiver.SendRemoteCommand(ctx, cmd)
		cancel()
	}

	if s.metrics != nil {
		label := cmd
		if label == "" {
			label = "unknown"
		}
		s.metrics.RecordRemoteCommand(label, err)
	}

	result := commandResult{view: RemoteResult{Command: string(cmd), OK: err == nil}, err: err}
	if cmd == "" {
		result.view.Command = name
	}
	if err != nil {
		result.view.Error = err.Error()
		log.Printf("Remote command %q failed: %v", name, err)
	}
	return result
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, sendChan: make(chan Message, sendBuffer), done: make(chan struct{})}
	c.sendChan <- Message{Type: TypeSnapshot, Payload: s.Snapshot()}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	s.clientsMu.Unlock()

	if s.config.Debug {
		log.Printf("[DEBUG] Event stream client connected from %s", r.RemoteAddr)
	}

	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	s.clientReader(c)

	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	c.close()
	conn.Close()
}

// clientReader handles remote commands sent over the event stream
func (s *Server) clientReader(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		var msg struct {
			Type    string        `json:"type"`
			Payload RemoteCommand `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}
		if msg.Type != TypeRemoteCommand {
			log.Printf("Unknown event stream message type: %s", msg.Type)
			continue
		}

		result := s.sendCommand(context.Background(), msg.Payload.Command)
		s.send(c, Message{Type: TypeRemoteResult, Payload: result.view})
	}
}

// clientWriter sends messages to the client
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.sendChan:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Error marshaling message: %v", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Error writing event: %v", err)
				c.close()
				c.conn.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// send queues msg without blocking. Slow clients miss events.
func (s *Server) send(c *client, msg Message) {
	select {
	case c.sendChan <- msg:
	default:
		if s.config.Debug {
			log.Printf("[DEBUG] Event stream client buffer full, dropping %s", msg.Type)
		}
	}
}

func (s *Server) broadcast(msgType string, payload any) {
	msg := Message{Type: msgType, Payload: payload}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		s.send(c, msg)
	}
}

// ClientCount returns the number of connected event stream clients
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// Observer returns an observer that publishes receiver events to the
// event stream
func (s *Server) Observer() airstream.Observer {
	return airstream.ObserverFuncs{
		OnStreamWillStart: func(info airstream.SessionInfo, format audio.Format) error {
			view := sessionView(info)
			view.Format = formatView(format)
			s.broadcast(TypeStreamStart, view)
			return nil
		},
		OnStreamDidStop: func(info airstream.SessionInfo) {
			s.broadcast(TypeStreamStop, sessionView(info))
		},
		OnAudioFlush: func(info airstream.SessionInfo) {
			s.broadcast(TypeStreamFlush, sessionView(info))
		},
		OnRemoteAvailable: func(info airstream.SessionInfo, ep dacp.Endpoint) {
			s.broadcast(TypeRemoteAvailable, remoteView(info, ep))
		},
		OnVolume: func(v float32) {
			s.broadcast(TypeVolume, Volume{
				Volume:        v,
				VolumePercent: airstream.VolumePercent(v),
				Muted:         airstream.IsMuted(v),
			})
		},
		OnMetadata: func(md dmap.Metadata) {
			s.broadcast(TypeMetadata, md)
		},
		OnCoverArt: func(art []byte) {
			s.broadcast(TypeCoverArt, map[string]any{
				"size":         len(art),
				"content_type": artwork.ContentType(art),
			})
		},
		OnPosition: func(position, duration time.Duration) {
			s.broadcast(TypePosition, Position{
				PositionMs: position.Milliseconds(),
				DurationMs: duration.Milliseconds(),
			})
		},
	}
}
