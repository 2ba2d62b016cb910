// Package ws is the WebSocket transport of the chat server. It authenticates
// and upgrades HTTP handshakes, tracks live connections, reads frames on a
// bounded worker pool driven by a readiness poller, and evicts dead
// connections with a heartbeat.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/metrics"
	"github.com/chatly/chat-app/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string          // address to listen on, e.g. ":8080"
	WorkerPoolSize int             // max concurrent read-worker goroutines
	MaxConnections int             // hard cap on total connections
	ReadTimeout    time.Duration   // timeout for WebSocket read operations
	WriteTimeout   time.Duration   // timeout for WebSocket write operations
	OutboundQueue  int             // frames queued per connection before it is evicted
	Heartbeat      HeartbeatConfig // ping cadence and eviction threshold
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		OutboundQueue:  256,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// SessionStore keeps per-connection bookkeeping outside the process.
type SessionStore interface {
	Create(ctx context.Context, connID, userID string) error
	Refresh(ctx context.Context, connID string) error
	Delete(ctx context.Context, connID string) error
}

// AuthFunc resolves the user a handshake request belongs to.
type AuthFunc func(r *http.Request) (userID string, err error)

// AdmitFunc decides whether a handshake from r may proceed.
type AdmitFunc func(r *http.Request) bool

// ErrUserMismatch is returned when the handshake's userId parameter does not
// match the authenticated user.
var ErrUserMismatch = errors.New("ws: userId does not match credentials")

// Server upgrades authenticated HTTP requests to WebSocket connections,
// watches them with a Poller and dispatches ready connections to a bounded
// worker pool for frame reading.
type Server struct {
	config       ServerConfig
	poller       *Poller
	conns        *ConnectionManager
	sessions     SessionStore // optional
	authenticate AuthFunc
	admit        AdmitFunc
	workerPool   chan struct{}
	onMessage    func(conn *Connection, data []byte)
	onConnect    func(conn *Connection)
	onDisconnect func(conn *Connection)
	onlineCount  func() int
	mux          *http.ServeMux
	httpServer   *http.Server
	log          *zap.Logger
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server. sessions may be nil. onMessage is called from a
// worker goroutine for every complete text frame received from a client.
func NewServer(config ServerConfig, sessions SessionStore, onMessage func(conn *Connection, data []byte), logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = DefaultHeartbeatConfig()
	}

	poller, err := NewPoller()
	if err != nil {
		return nil, fmt.Errorf("ws: failed to create poller: %w", err)
	}

	s := &Server{
		config:     config,
		poller:     poller,
		conns:      NewConnectionManager(),
		sessions:   sessions,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		mux:        http.NewServeMux(),
		log:        logger,
		done:       make(chan struct{}),
		startedAt:  time.Now(),
	}
	s.mux.HandleFunc("/ws", s.handleUpgrade)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.httpServer = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// SetAuthenticator installs the handshake authenticator. Without one, the
// user is taken from the userId query parameter as is.
func (s *Server) SetAuthenticator(fn AuthFunc) { s.authenticate = fn }

// SetAdmission installs a connect-rate check run before authentication.
func (s *Server) SetAdmission(fn AdmitFunc) { s.admit = fn }

// SetOnConnect registers a callback invoked once a connection is upgraded,
// greeted and about to be polled for reads.
func (s *Server) SetOnConnect(fn func(conn *Connection)) { s.onConnect = fn }

// SetOnDisconnect registers a callback invoked exactly once when a connection
// is removed (read error, close frame, heartbeat timeout). It runs before the
// session is deleted.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) { s.onDisconnect = fn }

// SetOnlineCounter lets /health report the number of online users.
func (s *Server) SetOnlineCounter(fn func() int) { s.onlineCount = fn }

// Handle mounts an additional HTTP handler (REST API, metrics) on the
// server's mux. It must be called before Start or Serve.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It starts the event loop and heartbeat in
// the background and blocks until the HTTP server stops.
func (s *Server) Serve(ln net.Listener) error {
	go s.eventLoop()
	startHeartbeat(s, s.config.Heartbeat)

	s.log.Info("ws: server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade admits, authenticates and upgrades a handshake, greets the
// client with session_created, then hands the connection to onConnect and
// the poller.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if s.admit != nil && !s.admit(r) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	userID, err := s.resolveUser(r)
	if err != nil {
		s.log.Info("ws: handshake rejected",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("ws: upgrade failed", zap.Error(err))
		return
	}

	c := newConnection(uuid.NewString(), userID, netConn, s.config.WriteTimeout, s.config.OutboundQueue)
	c.startWriter(s.evict)
	s.conns.Add(c)
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.sessions.Create(ctx, c.ID(), userID); err != nil {
			s.log.Warn("ws: failed to create session",
				zap.String("session", c.ID()),
				zap.Error(err))
		}
		cancel()
	}

	if err := c.Send(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: c.ID(),
		UserID:    userID,
	}); err != nil {
		s.log.Warn("ws: failed to send session_created",
			zap.String("session", c.ID()),
			zap.Error(err))
	}

	// Register before polling so that a connection which dies immediately is
	// unregistered by the same RemoveConnection that observes its failure.
	if s.onConnect != nil {
		s.onConnect(c)
	}

	if err := s.poller.Add(netConn); err != nil {
		s.log.Error("ws: poller add failed",
			zap.String("session", c.ID()),
			zap.Error(err))
		s.RemoveConnection(c)
		return
	}

	s.log.Info("ws: new connection",
		zap.String("session", c.ID()),
		zap.String("user", userID),
		zap.Int("fd", c.Fd),
		zap.Int("total", s.conns.Count()))
}

func (s *Server) resolveUser(r *http.Request) (string, error) {
	claimed := r.URL.Query().Get("userId")
	if s.authenticate == nil {
		if claimed == "" {
			return "", errors.New("ws: missing userId")
		}
		return claimed, nil
	}

	userID, err := s.authenticate(r)
	if err != nil {
		return "", err
	}
	if claimed != "" && claimed != userID {
		return "", ErrUserMismatch
	}
	return userID, nil
}

// handleHealth responds with the server's health status as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		OnlineUsers int    `json:"online_users"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.onlineCount != nil {
		resp.OnlineUsers = s.onlineCount()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// eventLoop waits for ready connections and hands each to a worker,
// bounded by the worker pool semaphore.
func (s *Server) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		ready, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Error("ws: poller wait error", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		for _, conn := range ready {
			select {
			case s.workerPool <- struct{}{}:
			case <-s.done:
				return
			}
			go func(conn net.Conn) {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}(conn)
		}
	}
}

// handleConn reads a single frame from a ready connection. Control frames
// are answered without blocking on a data frame; any read failure removes
// the connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Level-triggered polling may report the same connection twice.
	if !c.processing.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		c.processing.Store(false)
		s.poller.Rearm(netConn)
	}()

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means the readiness report was stale; the heartbeat
		// handles connections that are actually dead.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})

	c.Touch()

	if header.OpCode.IsControl() {
		payload, err := io.ReadAll(reader)
		if err != nil || header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
			return
		}
		if header.OpCode == ws.OpPing {
			c.writeMu.Lock()
			_ = ws.WriteFrame(netConn, ws.NewPongFrame(payload))
			c.writeMu.Unlock()
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 || s.onMessage == nil {
		return
	}
	s.onMessage(c, data)
}

// evict drops a connection whose writer gave up.
func (s *Server) evict(c *Connection, err error) {
	metrics.SlowConsumers.Inc()
	s.log.Info("ws: evicting connection",
		zap.String("session", c.ID()),
		zap.String("user", c.UserID),
		zap.Error(err))
	s.RemoveConnection(c)
}

// RemoveConnection stops polling c, drops and closes it, and runs the
// disconnect callback. Concurrent calls for the same connection (read error
// racing a heartbeat timeout) clean up only once.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.poller.Remove(c.Conn)

	if !s.conns.Remove(c.ID()) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	if s.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.sessions.Delete(ctx, c.ID()); err != nil {
			s.log.Warn("ws: failed to delete session",
				zap.String("session", c.ID()),
				zap.Error(err))
		}
		cancel()
	}

	s.log.Info("ws: connection closed",
		zap.String("session", c.ID()),
		zap.String("user", c.UserID),
		zap.Int("total", s.conns.Count()))
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener and the event loop, then removes every
// connection so that disconnect callbacks and session cleanup run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("ws: shutting down server")

	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.log.Warn("ws: http shutdown error", zap.Error(err))
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}
	_ = s.poller.Close()

	s.log.Info("ws: server stopped, all connections closed")
	return err
}
