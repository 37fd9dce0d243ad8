package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Handler processes IPC messages
type Handler interface {
	// HandleMessage processes a message and returns a response
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// Server accepts client connections on a unix socket and dispatches their
// requests to a Handler.
type Server struct {
	mu         sync.RWMutex
	listener   net.Listener
	socketPath string
	handler    Handler
	clients    map[string]*Client
	cfg        ServerConfig
	logger     *slog.Logger
	startedAt  time.Time

	// Shutdown coordination
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	requests atomic.Uint64
	limited  atomic.Uint64
}

// Client represents a connected client
type Client struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	limiter      *rate.Limiter
	ConnectedAt  time.Time
	LastActivity time.Time

	// Write serialization
	writeMu sync.Mutex
}

// ServerConfig configures the IPC server
type ServerConfig struct {
	SocketPath     string
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int

	// RequestsPerSecond and Burst bound the request rate of each client.
	// A zero rate disables limiting.
	RequestsPerSecond float64
	Burst             int

	// SameUserOnly refuses connections from processes of other users.
	SameUserOnly bool

	Logger *slog.Logger
}

// DefaultSocketName is the file name of the daemon socket.
const DefaultSocketName = "focusd.sock"

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig(runtimeDir string) ServerConfig {
	return ServerConfig{
		SocketPath:        filepath.Join(runtimeDir, DefaultSocketName),
		IdleTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Second,
		MaxConnections:    32,
		RequestsPerSecond: 50,
		Burst:             100,
		SameUserOnly:      true,
	}
}

// NewServer creates a new IPC server
func NewServer(cfg ServerConfig, handler Handler) *Server {
	def := DefaultServerConfig(filepath.Dir(cfg.SocketPath))
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.RequestsPerSecond > 0 && cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RequestsPerSecond))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ipc")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: cfg.SocketPath,
		handler:    handler,
		clients:    make(map[string]*Client),
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening for connections
func (s *Server) Start() error {
	if s.running.Load() {
		return errors.New("ipc: server already running")
	}

	socketDir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if IsSocketListening(s.socketPath) {
		return fmt.Errorf("%w: %s", ErrAddressInUse, s.socketPath)
	}
	if err := CleanupSocket(s.socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	// Owner only
	if err := SetSocketPermissions(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("ipc server listening", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("ipc server stop timed out waiting for connections")
	}

	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove socket: %w", err)
	}
	s.logger.Info("ipc server stopped", "requests", s.requests.Load(), "rate_limited", s.limited.Load())
	return nil
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.socketPath
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// acceptLoop accepts new connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		if s.cfg.SameUserOnly {
			ok, err := VerifyPeerIsCurrentUser(conn)
			if err != nil {
				s.logger.Debug("peer credentials unavailable", "error", err)
			} else if !ok {
				s.logger.Warn("rejected connection from another user")
				conn.Close()
				continue
			}
		}

		s.mu.RLock()
		count := len(s.clients)
		s.mu.RUnlock()
		if count >= s.cfg.MaxConnections {
			s.logger.Warn("connection limit reached", "max", s.cfg.MaxConnections)
			conn.Close()
			continue
		}

		now := time.Now()
		client := &Client{
			ID:           uuid.NewString(),
			conn:         conn,
			limiter:      s.newLimiter(),
			ConnectedAt:  now,
			LastActivity: now,
		}

		s.mu.Lock()
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
}

// handleConnection serves one client until it disconnects, goes idle or
// the server stops.
func (s *Server) handleConnection(client *Client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.conn.Close()
		s.logger.Debug("client disconnected", "client", client.ID)
	}()

	s.logger.Debug("client connected", "client", client.ID)

	for {
		if s.ctx.Err() != nil {
			return
		}

		client.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		msg, err := ReadMessage(client.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Debug("closing idle client", "client", client.ID)
				return
			}
			if errors.Is(err, ErrBadFrame) {
				s.logger.Warn("malformed message", "client", client.ID, "error", err)
				s.sendMessage(client, NewErrorMessage(0, ErrInvalidRequest, err.Error()))
			}
			return
		}

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		response := s.processMessage(client, msg)
		if response == nil {
			continue
		}
		if err := s.sendMessage(client, response); err != nil {
			s.logger.Debug("write response failed", "client", client.ID, "error", err)
			return
		}
	}
}

// processMessage processes a single message
func (s *Server) processMessage(client *Client, msg *Message) *Message {
	s.requests.Add(1)
	reqID := msg.Header.RequestID

	if !client.limiter.Allow() {
		s.limited.Add(1)
		return NewErrorMessage(reqID, ErrRateLimited, "too many requests")
	}

	if msg.Header.Type == MsgPing {
		return NewMessage(MsgPong, reqID, nil)
	}
	if s.handler == nil {
		return NewErrorMessage(reqID, ErrInvalidRequest, "no handler")
	}

	start := time.Now()
	resp, err := s.handler.HandleMessage(s.ctx, client, msg)
	if err != nil {
		s.logger.Error("request failed", "client", client.ID, "type", msg.Header.Type, "error", err)
		return NewErrorMessage(reqID, ErrInternalError, err.Error())
	}
	s.logger.Debug("request handled", "client", client.ID, "type", msg.Header.Type, "elapsed", time.Since(start))
	return resp
}

// sendMessage sends a message to a client
func (s *Server) sendMessage(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(client.conn)
}
