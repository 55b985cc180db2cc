package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"thinknet-backend/internal/collab"
	"thinknet-backend/internal/infrastructure/observability"
)

// MessageHandler receives decoded client events.
type MessageHandler interface {
	Handle(ctx context.Context, m collab.Member, event string, data json.RawMessage) error
}

// Client is one WebSocket session. It is a collab.Member: the registry
// delivers room traffic through Send, which never blocks.
type Client struct {
	id       string
	userID   string
	username string

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	handler MessageHandler
	onClose func(*Client)
	limits  Limits

	ctx    context.Context
	cancel context.CancelFunc

	dropped   atomic.Int32
	closeOnce sync.Once

	logger  *zap.Logger
	metrics *observability.Collector
}

func newClient(
	ctx context.Context,
	userID, username string,
	conn *websocket.Conn,
	handler MessageHandler,
	onClose func(*Client),
	limits Limits,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Client {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		id:       id,
		userID:   userID,
		username: username,
		conn:     conn,
		send:     make(chan []byte, limits.SendBufferSize),
		done:     make(chan struct{}),
		handler:  handler,
		onClose:  onClose,
		limits:   limits,
		ctx:      ctx,
		cancel:   cancel,
		logger: logger.With(
			zap.String("userID", userID),
			zap.String("connectionID", id),
		),
		metrics: metrics,
	}
}

func (c *Client) SessionID() string { return c.id }
func (c *Client) UserID() string    { return c.userID }
func (c *Client) Username() string  { return c.username }

// Send queues ev for delivery. A full buffer drops the message; after
// MaxDropped consecutive drops the session is closed.
func (c *Client) Send(ev collab.Event) bool {
	payload, err := encodeEvent(ev)
	if err != nil {
		c.logger.Error("Failed to encode event", zap.String("event", ev.Name), zap.Error(err))
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		c.dropped.Store(0)
		return true
	default:
	}

	c.metrics.MessageDropped()
	if n := c.dropped.Add(1); int(n) >= c.limits.MaxDropped {
		c.logger.Warn("Disconnecting slow consumer", zap.Int32("dropped", n))
		c.metrics.SlowConsumerDisconnected()
		c.Close()
	} else {
		c.logger.Debug("Dropped message for slow consumer", zap.String("event", ev.Name), zap.Int32("dropped", n))
	}
	return false
}

// Close ends the session. It only signals the pumps, so it is safe to call
// from any goroutine, including while a room lock is held.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// Start runs the pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		c.onClose(c)
		c.logger.Debug("Read pump stopped")
	}()

	c.conn.SetReadLimit(c.limits.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("Ignoring non-text frame", zap.Int("type", messageType))
			continue
		}
		c.dispatch(message)
	}
}

func (c *Client) dispatch(message []byte) {
	env, err := decodeEnvelope(message)
	if err != nil {
		c.Send(errorEvent(err))
		return
	}
	c.metrics.MessageReceived(collab.EventLabel(env.Event))

	if err := c.handler.Handle(c.ctx, c, env.Event, env.Data); err != nil {
		c.Send(errorEvent(err))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.limits.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("Write pump stopped")
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("Failed to write message", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Failed to send ping", zap.Error(err))
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.limits.WriteWait))
			return
		}
	}
}
