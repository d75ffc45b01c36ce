package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Napolesllll/sst-services-sub001/pkg/state"
	"github.com/Napolesllll/sst-services-sub001/pkg/transport"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var errInactive = errors.New("connection is not active")

// HandlerFunc handles one inbound event for an active connection.
type HandlerFunc func(ctx context.Context, conn *state.Connection, data gjson.Result) error

// EventRouter dispatches inbound client frames by event name.
type EventRouter struct {
	logger       *slog.Logger
	stateManager state.Manager
	handlers     map[string]HandlerFunc
	now          func() time.Time
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager) *EventRouter {
	r := &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		stateManager: stateManager,
		handlers:     make(map[string]HandlerFunc),
		now:          func() time.Time { return time.Now().UTC() },
	}
	r.Handle(transport.EventPing, r.handlePing)
	r.Handle(transport.EventRequestSync, r.handleSync)
	r.Handle(transport.EventGetNotifications, r.handleSync)
	return r
}

func (r *EventRouter) Handle(event string, fn HandlerFunc) {
	if _, exists := r.handlers[event]; exists {
		panic("event handler already registered: " + event)
	}
	r.handlers[event] = fn
}

// HandleMessage is a transport.MessageHandler. A misbehaving frame or handler
// is logged and never takes the connection down.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Event handler panicked", slog.String("connID", connID.String()), slog.Any("panic", rec))
		}
	}()

	if !gjson.ValidBytes(msg) {
		r.logger.Warn("Failed to parse client message", slog.String("connID", connID.String()))
		return
	}
	parsed := gjson.ParseBytes(msg)
	event := parsed.Get("event").String()

	handler, ok := r.handlers[event]
	if !ok {
		r.logger.Warn("Received unknown event", slog.String("event", event), slog.String("connID", connID.String()))
		return
	}

	conn, found := r.stateManager.GetConnection(connID)
	if !found || conn.Status() != state.StatusActive {
		r.logger.Debug("Ignoring event from inactive connection",
			slog.String("event", event), slog.String("connID", connID.String()))
		return
	}

	if err := handler(ctx, conn, parsed.Get("data")); err != nil {
		r.logger.Error("Event handler failed",
			slog.String("event", event),
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
	}
}

func (r *EventRouter) reply(conn *state.Connection, event string, data any) error {
	if conn.Status() != state.StatusActive {
		return errInactive
	}
	msg, err := transport.Encode(event, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return conn.Transport.Send(msg)
}

func (r *EventRouter) handlePing(_ context.Context, conn *state.Connection, _ gjson.Result) error {
	return r.reply(conn, transport.EventPong, pongPayload{
		Timestamp: r.now(),
		UserID:    conn.UserID,
		SocketID:  conn.ID.String(),
	})
}

// handleSync acknowledges a sync request. The notifications themselves are
// fetched by the client from the application API.
func (r *EventRouter) handleSync(_ context.Context, conn *state.Connection, data gjson.Result) error {
	r.logger.Debug("Sync requested", slog.String("userID", conn.UserID), slog.String("connID", conn.ID.String()))
	return r.reply(conn, transport.EventNotificationsSynced, syncAck{
		Message:   "Sync request received",
		Timestamp: r.now(),
		Since:     data.Get("since").String(),
	})
}
