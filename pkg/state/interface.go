package state

import "github.com/google/uuid"

// Manager holds every live connection, indexed by identity and by channel.
// Implementations must be safe for concurrent use.
type Manager interface {
	// --- Connection Lifecycle ---
	// Register adds conn to the set of its UserID, creating the set if absent.
	Register(conn *Connection) error
	// Unregister removes conn from its identity and from every channel it
	// joined. It reports whether that left the identity with no connections.
	// Unregistering an unknown connection is a no-op.
	Unregister(conn *Connection) (offline bool)
	GetConnection(connID uuid.UUID) (*Connection, bool)
	FindOldestUserConnection(userID string) (*Connection, bool)
	AllConnections() []*Connection

	// --- Identity queries ---
	IsOnline(userID string) bool
	GetUserConnections(userID string) []*Connection
	GetUserConnectionCount(userID string) int
	// CountConnections sums live set sizes on demand.
	CountConnections() (total, uniqueUsers int)

	// --- Channel Membership ---
	// Join adds a registered connection to a channel, creating it if needed.
	Join(channel string, connID uuid.UUID) error
	ChannelMembers(channel string) []*Connection
	ChannelSize(channel string) int
}
