package transport

import "encoding/json"

// Outbound event names.
const (
	EventConnected           = "connected"
	EventError               = "error"
	EventNewNotification     = "new_notification"
	EventMarkedRead          = "notifications_marked_read"
	EventDeleted             = "notification_deleted"
	EventPong                = "pong"
	EventNotificationsSynced = "notifications_loaded"
	EventServerShutdown      = "server_shutdown"
)

// Inbound event names.
const (
	EventPing             = "ping"
	EventRequestSync      = "request_sync"
	EventGetNotifications = "get_notifications"
)

// Frame is the JSON envelope carried by every text message in both directions.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}
