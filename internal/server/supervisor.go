package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Napolesllll/sst-services-sub001/internal/auth"
	"github.com/Napolesllll/sst-services-sub001/internal/metrics"
	"github.com/Napolesllll/sst-services-sub001/internal/server/middleware"
	"github.com/Napolesllll/sst-services-sub001/pkg/state"
	"github.com/Napolesllll/sst-services-sub001/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var errConnectionGone = errors.New("connection closed during handshake")

type connectedPayload struct {
	SocketID  string    `json:"socketId"`
	UserID    string    `json:"userId"`
	UserRole  string    `json:"userRole"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

func (a *App) acceptOptions() *websocket.AcceptOptions {
	origins := a.config.Server.AllowedOrigins
	return &websocket.AcceptOptions{
		InsecureSkipVerify: len(origins) == 0,
		OriginPatterns:     origins,
	}
}

func (a *App) transportConfig() transport.ConnectionConfig {
	tc := a.config.Transport
	return transport.ConnectionConfig{
		SendBuffer:        tc.SendBuffer,
		HeartbeatInterval: tc.HeartbeatInterval,
		HeartbeatTimeout:  tc.HeartbeatTimeout,
	}
}

// upgradeHandler drives one connection through
// connecting -> authenticating -> active -> disconnected.
func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, a.acceptOptions())
	if err != nil {
		a.metrics.Handshake(metrics.HandshakeFailed)
		connLogger.Warn("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		a.connCtx,
		&a.wg,
		wsConn,
		a.transportConfig(),
		a.eventRouter.HandleMessage,
		nil,
		connLogger,
	)
	entry := state.NewConnection(conn, reqMeta.IP)
	connLogger = connLogger.With(slog.String("connID", conn.ID().String()))
	conn.SetOnCloseHandler(func(_ uuid.UUID, err error) {
		a.onDisconnect(entry, err, connLogger)
	})
	connLogger.Debug("Transport upgraded", slog.String("from", "http"), slog.String("to", conn.Kind()))

	entry.SetStatus(state.StatusAuthenticating)
	conn.Run()

	ident, err := a.gate.Authenticate(reqMeta.Handshake)
	if err != nil {
		a.metrics.Handshake(metrics.HandshakeRejected)
		a.gate.Reject(conn, err)
		<-conn.Done()
		return
	}

	a.cycleOldest(ident.UserID, connLogger)
	if err := a.activate(entry, ident, connLogger); err != nil {
		a.metrics.Handshake(metrics.HandshakeFailed)
		connLogger.Error("Failed to activate connection", slog.Any("error", err))
		conn.Close(websocket.CloseError{Code: websocket.StatusInternalError, Reason: "registration failed"})
	}
	<-conn.Done()
}

func (a *App) activate(entry *state.Connection, ident auth.Identity, logger *slog.Logger) error {
	entry.UserID = ident.UserID
	entry.Role = ident.Role

	if err := a.stateManager.Register(entry); err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	joined, err := a.resolver.Join(entry, ident.KnownRole)
	if err != nil {
		a.stateManager.Unregister(entry)
		return err
	}

	// queued while still authenticating so it precedes anything the hub sends
	ack, err := transport.Encode(transport.EventConnected, connectedPayload{
		SocketID:  entry.ID.String(),
		UserID:    entry.UserID,
		UserRole:  string(entry.Role),
		Timestamp: time.Now().UTC(),
		Message:   "Connected to notification server",
	})
	if err == nil {
		err = entry.Transport.Send(ack)
	}
	if err != nil {
		logger.Warn("Failed to send connected acknowledgement", slog.Any("error", err))
	}

	if !entry.AdvanceStatus(state.StatusAuthenticating, state.StatusActive) {
		a.stateManager.Unregister(entry)
		return errConnectionGone
	}

	a.metrics.Handshake(metrics.HandshakeAccepted)
	a.refreshGauges()

	logger.Info("User connection fully established",
		slog.String("role", string(entry.Role)),
		slog.Any("channels", joined),
	)
	return nil
}

// cycleOldest closes the identity's oldest connection when a verified
// handshake would push it past the per-identity cap in cycle mode.
func (a *App) cycleOldest(userID string, logger *slog.Logger) {
	limit := a.config.Server.ConnectionLimit
	if limit.Mode != middleware.LimitModeCycle || limit.MaxPerUser <= 0 {
		return
	}
	if a.stateManager.GetUserConnectionCount(userID) < limit.MaxPerUser {
		return
	}
	oldest, found := a.stateManager.FindOldestUserConnection(userID)
	if !found {
		return
	}
	logger.Info("Cycling connection: closing oldest", slog.String("oldConnID", oldest.ID.String()))
	oldest.Transport.Close(websocket.CloseError{Code: websocket.StatusNormalClosure, Reason: "connection cycled by new connection"})
}

// onDisconnect runs exactly once per transport when it finishes closing.
func (a *App) onDisconnect(entry *state.Connection, cause error, logger *slog.Logger) {
	prev := entry.SetStatus(state.StatusDisconnected)
	offline := a.stateManager.Unregister(entry)
	if prev != state.StatusActive {
		logger.Debug("Handshake connection closed", slog.Any("reason", cause))
		return
	}

	a.metrics.Disconnect()
	a.refreshGauges()
	logger.Info("Deregistering connection due to closure",
		slog.Any("reason", cause),
		slog.String("status", websocket.CloseStatus(cause).String()),
	)
	if offline {
		logger.Info("User has no remaining connections")
	}
}
