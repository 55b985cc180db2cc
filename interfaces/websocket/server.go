// Package websocket is the session transport of the realtime engine: token
// handshake, upgrade, and one Client per connection.
package websocket

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"thinknet-backend/internal/collab"
	"thinknet-backend/internal/config"
	"thinknet-backend/internal/errors"
	"thinknet-backend/internal/infrastructure/observability"
	"thinknet-backend/internal/infrastructure/persistence"
	"thinknet-backend/pkg/api"
	"thinknet-backend/pkg/auth"
)

// Limits bound a single session.
type Limits struct {
	SendBufferSize int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxDropped     int
}

// DefaultLimits returns the session limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		SendBufferSize: 256,
		MaxMessageSize: 512 * 1024,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxDropped:     32,
	}
}

// Relay is the engine side of a session.
type Relay interface {
	MessageHandler
	Leave(m collab.Member)
}

// Authenticator validates handshake tokens.
type Authenticator interface {
	Authenticate(r *http.Request) (*auth.Claims, error)
}

// Server upgrades authenticated requests and tracks live sessions.
type Server struct {
	relay    Relay
	auth     Authenticator
	users    persistence.UserDirectory
	upgrader websocket.Upgrader
	limits   Limits
	perUser  int

	mu       sync.Mutex
	clients  map[string]*Client
	userConn map[string]int
	closing  bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	logger  *zap.Logger
	metrics *observability.Collector
}

// NewServer creates a server. users may be nil, in which case usernames come
// from the token.
func NewServer(
	relay Relay,
	authenticator Authenticator,
	users persistence.UserDirectory,
	cfg config.WebSocket,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	limits := DefaultLimits()
	if cfg.SendBufferSize > 0 {
		limits.SendBufferSize = cfg.SendBufferSize
	}
	if cfg.MaxMessageSize > 0 {
		limits.MaxMessageSize = cfg.MaxMessageSize
	}
	if cfg.WriteWait > 0 {
		limits.WriteWait = cfg.WriteWait
	}
	if cfg.PongWait > 0 {
		limits.PongWait = cfg.PongWait
	}
	if cfg.PingPeriod > 0 {
		limits.PingPeriod = cfg.PingPeriod
	}
	if cfg.MaxDropped > 0 {
		limits.MaxDropped = cfg.MaxDropped
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		relay: relay,
		auth:  authenticator,
		users: users,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		limits:   limits,
		perUser:  cfg.MaxConnectionsPerUser,
		clients:  make(map[string]*Client),
		userConn: make(map[string]int),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		metrics:  metrics,
	}
}

// checkOrigin allows the listed origins, or any origin for "*". An empty
// list keeps gorilla's same-origin check.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// HandleWebSocket authenticates and upgrades a connection.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Info("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		api.WriteError(w, errors.Unauthorized(errors.CodeInvalidToken, "authentication required").Build(), "")
		return
	}

	if status := s.reserve(claims.UserID); status != http.StatusOK {
		s.logger.Warn("Connection refused",
			zap.String("userID", claims.UserID),
			zap.Int("status", status),
		)
		api.Error(w, status, http.StatusText(status))
		return
	}

	username := s.resolveUsername(r.Context(), claims)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release(claims.UserID)
		s.logger.Warn("Failed to upgrade connection", zap.Error(err), zap.String("remoteAddr", r.RemoteAddr))
		return
	}

	client := newClient(s.ctx, claims.UserID, username, conn, s.relay, s.disconnected, s.limits, s.logger, s.metrics)
	if !s.register(client) {
		conn.Close()
		s.release(claims.UserID)
		return
	}
	s.metrics.ConnectionOpened()
	client.Start()

	s.logger.Info("WebSocket connection established",
		zap.String("userID", claims.UserID),
		zap.String("connectionID", client.SessionID()),
		zap.String("remoteAddr", r.RemoteAddr),
	)
}

func (s *Server) resolveUsername(ctx context.Context, claims *auth.Claims) string {
	if s.users != nil {
		u, err := s.users.FetchUser(ctx, claims.UserID)
		if err == nil {
			return u.DisplayName()
		}
		if !errors.IsNotFound(err) {
			s.logger.Warn("Failed to resolve username", zap.String("userID", claims.UserID), zap.Error(err))
		}
	}
	if claims.Username != "" {
		return claims.Username
	}
	return claims.UserID
}

// reserve takes a connection slot for userID before the upgrade and returns
// the status to refuse with, or 200.
func (s *Server) reserve(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return http.StatusServiceUnavailable
	}
	if s.perUser > 0 && s.userConn[userID] >= s.perUser {
		return http.StatusTooManyRequests
	}
	s.userConn[userID]++
	return http.StatusOK
}

func (s *Server) release(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(userID)
}

func (s *Server) releaseLocked(userID string) {
	if s.userConn[userID] <= 1 {
		delete(s.userConn, userID)
		return
	}
	s.userConn[userID]--
}

func (s *Server) register(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.clients[c.SessionID()] = c
	s.wg.Add(1)
	return true
}

// disconnected runs once per client after its read pump stops.
func (s *Server) disconnected(c *Client) {
	s.relay.Leave(c)

	s.mu.Lock()
	if _, ok := s.clients[c.SessionID()]; ok {
		delete(s.clients, c.SessionID())
		s.releaseLocked(c.UserID())
		s.wg.Done()
	}
	s.mu.Unlock()

	s.metrics.ConnectionClosed()
	s.logger.Info("WebSocket connection closed",
		zap.String("userID", c.UserID()),
		zap.String("connectionID", c.SessionID()),
	)
}

// ConnectionCount returns the number of live sessions, or of userID's
// sessions when userID is set.
func (s *Server) ConnectionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID != "" {
		return s.userConn[userID]
	}
	return len(s.clients)
}

// Shutdown closes every session and waits for their cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.cancel()
	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("All WebSocket sessions closed", zap.Int("sessions", len(clients)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
