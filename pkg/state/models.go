package state

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Role is the authenticated role a connection was admitted with.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEmployee Role = "EMPLEADO"
	RoleClient   Role = "CLIENTE"
)

var roleAliases = map[string]Role{
	"ADMIN":          RoleAdmin,
	"ADMINISTRATOR":  RoleAdmin,
	"ADMINISTRADOR":  RoleAdmin,
	"EMPLEADO":       RoleEmployee,
	"EMPLOYEE":       RoleEmployee,
	"FIELD-EMPLOYEE": RoleEmployee,
	"CLIENTE":        RoleClient,
	"CLIENT":         RoleClient,
}

// ParseRole normalizes a claimed role. Unknown roles are returned verbatim
// with ok=false.
func ParseRole(s string) (Role, bool) {
	s = strings.TrimSpace(s)
	if r, ok := roleAliases[strings.ToUpper(s)]; ok {
		return r, true
	}
	return Role(s), false
}

// Status is the lifecycle state of a connection.
type Status int32

const (
	StatusConnecting Status = iota
	StatusAuthenticating
	StatusActive
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusAuthenticating:
		return "authenticating"
	case StatusActive:
		return "active"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Transport is the send side of a live connection.
type Transport interface {
	ID() uuid.UUID
	Kind() string
	Send(msg []byte) error
	Close(err error)
}

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	UserID    string
	Role      Role
	IPAddress string
	Transport Transport
	CreatedAt time.Time

	// channels joined at activation; guarded by the manager.
	channels []string
	status   atomic.Int32
}

func NewConnection(t Transport, ipAddr string) *Connection {
	return &Connection{
		ID:        t.ID(),
		IPAddress: ipAddr,
		Transport: t,
		CreatedAt: time.Now(),
	}
}

func (c *Connection) Status() Status {
	return Status(c.status.Load())
}

func (c *Connection) SetStatus(s Status) Status {
	return Status(c.status.Swap(int32(s)))
}

// AdvanceStatus moves from -> to only if the connection is still in from.
func (c *Connection) AdvanceStatus(from, to Status) bool {
	return c.status.CompareAndSwap(int32(from), int32(to))
}

// Channels returns the channels the connection belongs to. The manager owns
// the slice; callers get a copy.
func (c *Connection) Channels() []string {
	out := make([]string, len(c.channels))
	copy(out, c.channels)
	return out
}

func (c *Connection) AddChannel(name string) {
	for _, ch := range c.channels {
		if ch == name {
			return
		}
	}
	c.channels = append(c.channels, name)
}

func (c *Connection) RemoveChannels() []string {
	chs := c.channels
	c.channels = nil
	return chs
}
