// Package notify delivers notification events to live connections.
//
// Every operation is best effort: a target with no live connection simply
// receives nothing, and nothing is queued for later. Callers commit the
// notification record before calling in, so a client that refreshes can
// always fetch what it was nudged about.
package notify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Napolesllll/sst-services-sub001/internal/channels"
	"github.com/Napolesllll/sst-services-sub001/internal/metrics"
	"github.com/Napolesllll/sst-services-sub001/pkg/state"
	"github.com/Napolesllll/sst-services-sub001/pkg/transport"
)

// Notification is the persisted record forwarded to clients as-is.
type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Dispatcher is the handle the request-handling layer uses to push events.
// No method blocks on a client and none panics; false means the event could
// not be handed to every targeted connection.
type Dispatcher interface {
	EmitToUser(userID string, n Notification) bool
	EmitToRole(role string, n Notification) bool
	EmitToUsers(userIDs []string, n Notification) bool
	EmitReadReceipt(userID string, notificationIDs []string) bool
	EmitDeletion(userID, notificationID string) bool
}

// Hub fans events out over the channels kept by a state.Manager.
type Hub struct {
	state   state.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
	ready   atomic.Bool
}

var _ Dispatcher = (*Hub)(nil)

func NewHub(logger *slog.Logger, sm state.Manager, m *metrics.Metrics) *Hub {
	return &Hub{
		state:   sm,
		metrics: m,
		logger:  logger.With(slog.String("component", "notification_hub")),
	}
}

// Start marks the transport as initialized; emits before Start or after
// Stop are refused.
func (h *Hub) Start() { h.ready.Store(true) }

func (h *Hub) Stop() { h.ready.Store(false) }

func (h *Hub) Ready() bool {
	return h != nil && h.state != nil && h.ready.Load()
}

func (h *Hub) EmitToUser(userID string, n Notification) bool {
	return h.emit(channels.Personal(userID), transport.EventNewNotification, n,
		slog.String("userID", userID), slog.String("notificationID", n.ID), slog.String("type", n.Type))
}

func (h *Hub) EmitToRole(role string, n Notification) bool {
	ch, ok := channels.Lookup(role)
	if !ok {
		h.logger.Warn("Unknown role channel, notification not sent",
			slog.String("role", role), slog.String("notificationID", n.ID))
		return false
	}
	return h.emit(ch, transport.EventNewNotification, n,
		slog.String("role", role), slog.String("notificationID", n.ID), slog.String("type", n.Type))
}

// EmitToUsers sends n to each identity independently; one failed identity
// does not stop delivery to the others.
func (h *Hub) EmitToUsers(userIDs []string, n Notification) bool {
	ok := true
	for _, userID := range userIDs {
		if !h.EmitToUser(userID, n) {
			ok = false
		}
	}
	return ok
}

func (h *Hub) EmitReadReceipt(userID string, notificationIDs []string) bool {
	if notificationIDs == nil {
		notificationIDs = []string{}
	}
	return h.emit(channels.Personal(userID), transport.EventMarkedRead, notificationIDs,
		slog.String("userID", userID), slog.Int("count", len(notificationIDs)))
}

func (h *Hub) EmitDeletion(userID, notificationID string) bool {
	return h.emit(channels.Personal(userID), transport.EventDeleted, notificationID,
		slog.String("userID", userID), slog.String("notificationID", notificationID))
}

type shutdownNotice struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// BroadcastShutdown sends a server_shutdown notice to every live connection
// regardless of channel and returns how many accepted it.
func (h *Hub) BroadcastShutdown() int {
	if !h.Ready() {
		return 0
	}
	msg, err := transport.Encode(transport.EventServerShutdown, shutdownNotice{
		Message:   "Server is shutting down, you will be reconnected",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("Failed to encode shutdown notice", slog.Any("error", err))
		return 0
	}
	sent, _ := h.sendAll(transport.EventServerShutdown, h.state.AllConnections(), msg)
	return sent
}

func (h *Hub) emit(channel, event string, data any, attrs ...any) bool {
	if !h.Ready() {
		h.logger.Warn("Transport not initialized, event not sent",
			append([]any{slog.String("event", event), slog.String("channel", channel)}, attrs...)...)
		return false
	}
	msg, err := transport.Encode(event, data)
	if err != nil {
		h.logger.Error("Failed to encode event",
			append([]any{slog.String("event", event), slog.Any("error", err)}, attrs...)...)
		return false
	}

	targets := h.state.ChannelMembers(channel)
	if len(targets) == 0 {
		h.metrics.Delivery(event, metrics.DeliveryDropped, 1)
		h.logger.Debug("No live connections, event dropped",
			append([]any{slog.String("event", event), slog.String("channel", channel)}, attrs...)...)
		return true
	}

	sent, failed := h.sendAll(event, targets, msg)
	h.logger.Debug("Event dispatched",
		append([]any{slog.String("event", event), slog.String("channel", channel),
			slog.Int("sent", sent), slog.Int("failed", failed)}, attrs...)...)
	return failed == 0
}

// sendAll hands msg to each target on its own; a target that is not active,
// or disconnected since the snapshot, is skipped.
func (h *Hub) sendAll(event string, targets []*state.Connection, msg []byte) (sent, failed int) {
	for _, conn := range targets {
		if conn.Status() != state.StatusActive {
			continue
		}
		if err := conn.Transport.Send(msg); err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) {
				continue
			}
			failed++
			h.logger.Warn("Failed to send event to connection",
				slog.String("event", event),
				slog.String("connID", conn.ID.String()),
				slog.String("userID", conn.UserID),
				slog.Any("error", err),
			)
			continue
		}
		sent++
	}
	h.metrics.Delivery(event, metrics.DeliverySent, sent)
	h.metrics.Delivery(event, metrics.DeliveryFailed, failed)
	return sent, failed
}
