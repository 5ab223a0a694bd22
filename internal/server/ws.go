package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/analysis"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/config"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/metrics"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/protocol"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/session"
)

// Connection timing for client WebSockets.
const (
	// writeWait bounds a single outbound frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a client may stay silent before the connection
	// is considered dead.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait so pings keep healthy
	// connections alive.
	pingPeriod = (pongWait * 9) / 10
)

// WSServer accepts WebSocket clients and routes their events to recording
// sessions. Each client gets its own read and write goroutine; all events
// from one client are dispatched in arrival order, which keeps audio chunks
// ordered without any further coordination.
type WSServer struct {
	config  config.ServerConfig
	logger  *slog.Logger
	manager *session.Manager
	metrics *metrics.Metrics

	upgrader websocket.Upgrader
	server   *http.Server

	clients map[*client]struct{}
	closed  bool
	mu      sync.RWMutex

	// Statistics
	clientsTotal     uint64
	messagesReceived uint64
	messagesSent     uint64
	sendQueueDrops   uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WSServerStats represents WebSocket server statistics
type WSServerStats struct {
	ConnectedClients int    `json:"connected_clients"`
	TotalClients     uint64 `json:"total_clients"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	SendQueueDrops   uint64 `json:"send_queue_drops"`
}

// NewWSServer creates a new WebSocket boundary server. Metrics may be nil.
func NewWSServer(cfg config.ServerConfig, manager *session.Manager, m *metrics.Metrics, logger *slog.Logger) *WSServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &WSServer{
		config:  cfg,
		logger:  logger,
		manager: manager,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Browser clients serve their UI from arbitrary origins; the
			// boundary carries no credentials, so origin checks add nothing.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins accepting WebSocket connections
func (s *WSServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.logger.Info("Starting WebSocket server",
		slog.String("address", addr),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)

	s.server = &http.Server{
		Handler: mux,
		// Connections are long-lived once upgraded; only the handshake
		// gets a deadline.
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebSocket server error", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("WebSocket server started successfully",
		slog.String("address", addr),
	)

	return nil
}

// Stop gracefully stops the server: no new connections, live connections
// closed, every session cleaned up by its own read loop on the way out.
func (s *WSServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket server...")
	s.cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("WebSocket listener shutdown failed", slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for clients to disconnect")
		return ctx.Err()
	}

	stats := s.GetStats()
	s.logger.Info("WebSocket server stopped",
		slog.Uint64("total_clients", stats.TotalClients),
		slog.Uint64("messages_received", stats.MessagesReceived),
		slog.Uint64("messages_sent", stats.MessagesSent),
		slog.Uint64("send_queue_drops", stats.SendQueueDrops),
	)

	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket client connection
func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	c := &client{
		server: s,
		conn:   conn,
		logger: s.logger.With(slog.String("remote_addr", conn.RemoteAddr().String())),
		send:   make(chan []byte, s.config.SendQueueSize),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.clientsTotal++
	connected := len(s.clients)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordClientConnected()
	}

	c.logger.Info("Client connected", slog.Int("connected_clients", connected))

	s.wg.Add(2)
	go c.writePump()
	go c.readPump()

	c.Emit(protocol.EventStatus, protocol.Status{
		Status:  protocol.StatusConnected,
		Message: "Connected to transcription service",
	})
}

// removeClient unregisters a client and releases everything it owns. Called
// exactly once per client, from its read loop's exit path. The session is
// closed before the send queue so no session goroutine can emit into a
// closed channel.
func (s *WSServer) removeClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c)
	connected := len(s.clients)
	s.mu.Unlock()

	if sess := c.session; sess != nil {
		s.manager.Remove(sess.ID)
	}

	close(c.send)
	c.conn.Close()

	if s.metrics != nil {
		s.metrics.RecordClientDisconnected()
	}

	c.logger.Info("Client disconnected", slog.Int("connected_clients", connected))
}

// ClientCount returns the number of connected clients
func (s *WSServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// GetStats returns current server statistics
func (s *WSServer) GetStats() WSServerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return WSServerStats{
		ConnectedClients: len(s.clients),
		TotalClients:     s.clientsTotal,
		MessagesReceived: s.messagesReceived,
		MessagesSent:     s.messagesSent,
		SendQueueDrops:   s.sendQueueDrops,
	}
}

func (s *WSServer) recordMessageReceived(event string) {
	s.mu.Lock()
	s.messagesReceived++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordMessageReceived(event)
	}
}

func (s *WSServer) recordMessageSent(event string) {
	s.mu.Lock()
	s.messagesSent++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordMessageSent(event)
	}
}

func (s *WSServer) recordSendQueueDrop() {
	s.mu.Lock()
	s.sendQueueDrops++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSendQueueDrop()
	}
}

// client is one connected WebSocket peer. The session field is owned by the
// read loop: every client event is dispatched from there, so it needs no
// lock. A session survives its recording so retry_analysis can reuse the
// assembled transcript; the next start replaces it.
type client struct {
	server *WSServer
	conn   *websocket.Conn
	logger *slog.Logger

	send chan []byte

	session *session.Session
}

// Emit implements session.Emitter. It never blocks: when the client cannot
// keep up the event is dropped and counted rather than stalling the
// transcript pipeline.
func (c *client) Emit(event string, payload any) {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		c.logger.Error("Failed to encode outbound event",
			slog.String("event", event),
			slog.String("error", err.Error()))
		return
	}
	data, err := msg.Encode()
	if err != nil {
		c.logger.Error("Failed to encode outbound event",
			slog.String("event", event),
			slog.String("error", err.Error()))
		return
	}

	select {
	case c.send <- data:
		c.server.recordMessageSent(event)
	default:
		c.server.recordSendQueueDrop()
		c.logger.Warn("Dropped outbound event on full send queue",
			slog.String("event", event))
	}
}

// readPump reads client events and dispatches them in arrival order
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.server.wg.Done()
	}()

	c.conn.SetReadLimit(c.server.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Client connection failed", slog.String("error", err.Error()))
			}
			return
		}
		c.dispatch(data)
	}
}

// writePump flushes the send queue to the connection and keeps it alive
// with pings
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.server.wg.Done()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) dispatch(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("Dropped malformed message", slog.String("error", err.Error()))
		c.sendError(protocol.ErrorKindProtocol, "Malformed message")
		return
	}
	if !protocol.IsClientEvent(msg.Event) {
		c.logger.Warn("Dropped unsupported event", slog.String("event", msg.Event))
		c.sendError(protocol.ErrorKindProtocol, fmt.Sprintf("Unsupported event %q", msg.Event))
		return
	}
	c.server.recordMessageReceived(msg.Event)

	switch msg.Event {
	case protocol.EventStartTranscription:
		c.handleStart()
	case protocol.EventAudioData:
		c.handleAudio(msg.Data)
	case protocol.EventStopTranscription:
		c.handleStop()
	case protocol.EventRetryAnalysis:
		c.handleRetry()
	case protocol.EventTestAnalysis:
		c.handleTest()
	}
}

// handleStart begins a new recording. A start while one is in progress is
// rejected, never queued; a finished session is replaced.
func (c *client) handleStart() {
	if cur := c.session; cur != nil {
		switch cur.State() {
		case session.StateRecording, session.StateStopping:
			c.logger.Warn("Rejected start while recording",
				slog.String("state", cur.State().String()))
			c.sendError(protocol.ErrorKindProtocol, "Recording already in progress")
			return
		}
		c.server.manager.Remove(cur.ID)
		c.session = nil
	}

	sess, err := c.server.manager.Create(c)
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			c.sendError(protocol.ErrorKindCapability, "Session limit reached, try again later")
		} else {
			c.sendError(protocol.ErrorKindCapability, "Could not create a recording session")
		}
		return
	}

	if err := sess.Start(c.server.ctx); err != nil {
		c.server.manager.Remove(sess.ID)
		c.logger.Error("Session start failed", slog.String("error", err.Error()))
		c.sendError(protocol.ErrorKindTransport, "Could not connect to the speech provider")
		return
	}

	c.session = sess
}

func (c *client) handleAudio(data json.RawMessage) {
	pcm, err := protocol.DecodeAudioData(data)
	if err != nil {
		c.logger.Warn("Dropped invalid audio chunk", slog.String("error", err.Error()))
		c.sendError(protocol.ErrorKindProtocol, "Invalid audio chunk")
		return
	}

	sess := c.session
	if sess == nil {
		c.logger.Debug("Dropped audio chunk without a session")
		return
	}

	if err := sess.AddAudio(pcm); err != nil {
		switch {
		case errors.Is(err, session.ErrNotRecording):
			// Chunks already in flight race the stop acknowledgement;
			// dropping them here is routine.
			c.logger.Debug("Dropped audio chunk outside recording")
		case errors.Is(err, session.ErrQueueFull):
			// Counted and logged by the session.
		default:
			c.logger.Warn("Failed to queue audio chunk", slog.String("error", err.Error()))
		}
	}
}

func (c *client) handleStop() {
	sess := c.session
	if sess == nil {
		c.sendError(protocol.ErrorKindProtocol, "No active recording to stop")
		return
	}
	if err := sess.Stop(); err != nil {
		c.logger.Warn("Rejected stop outside recording",
			slog.String("state", sess.State().String()))
		c.sendError(protocol.ErrorKindProtocol, "No active recording to stop")
	}
}

func (c *client) handleRetry() {
	sess := c.session
	if sess == nil {
		c.Emit(protocol.EventStatus, protocol.Status{
			Message: "No transcript available to analyze",
		})
		return
	}
	sess.RetryAnalysis()
}

func (c *client) handleTest() {
	if sess := c.session; sess != nil {
		sess.TestAnalysis()
		return
	}
	c.Emit(protocol.EventConversationAnalysis, analysis.TestResult())
	c.Emit(protocol.EventStatus, protocol.Status{
		Message: "Test analysis with source mapping complete!",
	})
}

func (c *client) sendError(kind, message string) {
	c.Emit(protocol.EventError, protocol.ErrorPayload{
		Kind:    kind,
		Message: message,
	})
}
