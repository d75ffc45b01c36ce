package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// Kind is the transport kind reported for every connection of this package.
	Kind = "websocket"

	writeWait  = 10 * time.Second
	flushWait  = time.Second
	readLimit  = 64 << 10
	defaultBuf = 256
)

var (
	ErrSendBufferFull    = errors.New("transport: send buffer full")
	ErrConnectionClosed  = errors.New("transport: connection closed")
	ErrHeartbeatTimeout  = errors.New("transport: heartbeat timeout")
	errConnectionStopped = errors.New("transport: connection stopped")
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	SendBuffer        int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Connection represents a single, thread-safe WebSocket connection.
//
// Outbound frames are queued on a buffered channel and written by a single
// goroutine, so frames sent through one Connection arrive in order.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	quit       chan struct{}
	done       chan struct{}
	wg         *sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	finishOnce sync.Once
	running    atomic.Bool
	closeErr   error

	logger *slog.Logger
}

// NewConnection wraps an accepted websocket. When wg is non-nil it is held
// until the connection has fully finished.
func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaultBuf
	}
	if wg != nil {
		wg.Add(1)
	}

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    logger.With(slog.String("connID", id.String())),
		config:    config,
		onMessage: onMessage,
		onClose:   onClose,
		send:      make(chan []byte, config.SendBuffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		wg:        wg,
	}
}

// Run starts the read, write and heartbeat goroutines.
func (c *Connection) Run() {
	if c.conn == nil || !c.running.CompareAndSwap(false, true) {
		return
	}
	c.conn.SetReadLimit(readLimit)
	go c.readPump()
	go c.writePump()
	if c.config.HeartbeatInterval > 0 {
		go c.heartbeat()
	}
	c.logger.Debug("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	for {
		typ, r, err := c.conn.Reader(c.ctx)
		if err != nil {
			c.Close(err)
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		message, err := io.ReadAll(r)
		if err != nil {
			c.logger.Warn("Failed to read frame", slog.Any("error", err))
			c.Close(err)
			return
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, message)
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
// On Close it flushes what is already queued before tearing the socket down.
func (c *Connection) writePump() {
	for {
		select {
		case message := <-c.send:
			if err := c.write(c.ctx, message, writeWait); err != nil {
				c.Close(err)
			}
		case <-c.quit:
			c.flush()
			c.finish()
			return
		case <-c.ctx.Done():
			c.Close(errConnectionStopped)
		}
	}
}

func (c *Connection) write(ctx context.Context, message []byte, wait time.Duration) error {
	writeCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, message)
}

func (c *Connection) flush() {
	if c.ctx.Err() != nil {
		return
	}
	deadline := time.Now().Add(flushWait)
	for {
		select {
		case message := <-c.send:
			wait := time.Until(deadline)
			if wait <= 0 {
				return
			}
			if err := c.write(c.ctx, message, wait); err != nil {
				return
			}
		default:
			return
		}
	}
}

// heartbeat pings the peer every interval. A peer that does not answer
// within the remaining timeout window is treated as gone.
func (c *Connection) heartbeat() {
	wait := c.config.HeartbeatTimeout - c.config.HeartbeatInterval
	if wait <= 0 {
		wait = c.config.HeartbeatInterval
	}
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, wait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Info("Heartbeat missed, dropping connection", slog.Any("error", err))
				c.Close(ErrHeartbeatTimeout)
				return
			}
		case <-c.quit:
			return
		}
	}
}

// Send queues a message for the client without blocking. It is safe for
// concurrent use.
func (c *Connection) Send(message []byte) error {
	select {
	case <-c.quit:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- message:
		return nil
	case <-c.quit:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close gracefully shuts down the connection and its resources. The close
// code is taken from err when it is a websocket.CloseError.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.quit)
		if !c.running.Load() {
			c.finish()
		}
	})
}

func (c *Connection) finish() {
	c.finishOnce.Do(func() {
		status, reason := closeStatus(c.closeErr)
		c.logger.Debug("Transport connection closing", slog.Any("reason", c.closeErr), slog.String("status", status.String()))

		if c.conn != nil {
			c.conn.Close(status, reason)
		}
		c.cancel()
		if c.onClose != nil {
			c.onClose(c.id, c.closeErr)
		}
		if c.wg != nil {
			c.wg.Done()
		}
		close(c.done)
	})
}

func closeStatus(err error) (websocket.StatusCode, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	if errors.Is(err, ErrHeartbeatTimeout) {
		return websocket.StatusPolicyViolation, "heartbeat timeout"
	}
	return websocket.StatusNormalClosure, ""
}

// Done returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) Kind() string {
	return Kind
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
