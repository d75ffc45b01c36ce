package statemanager

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Napolesllll/sst-services-sub001/pkg/state"
	"github.com/google/uuid"
)

var (
	ErrAlreadyRegistered = errors.New("connection is already registered")
	ErrMissingIdentity   = errors.New("connection has no identity")
	ErrUnknownConnection = errors.New("unknown connection")
)

// InMemoryManager keeps the identity and channel indexes in process memory.
// Lock order is mu then roomMu.
type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	users map[string]map[uuid.UUID]*state.Connection
	rooms map[string]map[uuid.UUID]*state.Connection

	mu     sync.RWMutex // conns, users
	roomMu sync.RWMutex // rooms, Connection.channels

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]map[uuid.UUID]*state.Connection),
		rooms:  make(map[string]map[uuid.UUID]*state.Connection),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) Register(conn *state.Connection) error {
	if conn.UserID == "" {
		return ErrMissingIdentity
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conns[conn.ID]; exists {
		return ErrAlreadyRegistered
	}
	m.conns[conn.ID] = conn

	set, ok := m.users[conn.UserID]
	if !ok {
		set = make(map[uuid.UUID]*state.Connection)
		m.users[conn.UserID] = set
	}
	set[conn.ID] = conn

	m.logger.Debug("Connection registered",
		slog.String("connID", conn.ID.String()),
		slog.String("userID", conn.UserID),
		slog.Int("userConnections", len(set)),
	)
	return nil
}

func (m *InMemoryManager) Unregister(conn *state.Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	registered, ok := m.conns[conn.ID]
	if !ok {
		// already deregistered
		return false
	}
	delete(m.conns, conn.ID)

	offline := false
	if set, ok := m.users[registered.UserID]; ok {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(m.users, registered.UserID)
			offline = true
		}
	}

	m.roomMu.Lock()
	for _, ch := range registered.RemoveChannels() {
		members, ok := m.rooms[ch]
		if !ok {
			continue
		}
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(m.rooms, ch)
		}
	}
	m.roomMu.Unlock()

	m.logger.Debug("Connection deregistered",
		slog.String("connID", conn.ID.String()),
		slog.String("userID", registered.UserID),
		slog.Bool("offline", offline),
	)
	return offline
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Connection
	for _, conn := range m.users[userID] {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	return oldest, oldest != nil
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// --- Identity queries ---

func (m *InMemoryManager) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID]) > 0
}

func (m *InMemoryManager) GetUserConnections(userID string) []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.users[userID]
	conns := make([]*state.Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

func (m *InMemoryManager) GetUserConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

func (m *InMemoryManager) CountConnections() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, set := range m.users {
		total += len(set)
	}
	return total, len(m.users)
}

// --- Channel Membership ---

func (m *InMemoryManager) Join(channel string, connID uuid.UUID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}

	members, exists := m.rooms[channel]
	if !exists {
		members = make(map[uuid.UUID]*state.Connection)
		m.rooms[channel] = members
	}
	members[connID] = conn
	conn.AddChannel(channel)

	m.logger.Debug("Connection joined channel", slog.String("connID", connID.String()), slog.String("channel", channel))
	return nil
}

func (m *InMemoryManager) ChannelMembers(channel string) []*state.Connection {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	members := m.rooms[channel]
	conns := make([]*state.Connection, 0, len(members))
	for _, c := range members {
		conns = append(conns, c)
	}
	return conns
}

func (m *InMemoryManager) ChannelSize(channel string) int {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	return len(m.rooms[channel])
}
