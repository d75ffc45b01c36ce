// Package channels names the broadcast groups a connection joins and
// resolves the memberships of a freshly authenticated connection.
package channels

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Napolesllll/sst-services-sub001/pkg/state"
)

const (
	personalPrefix = "user:"

	Admins    = "admins"
	Employees = "employees"
	Clients   = "clients"
)

var roleChannels = map[state.Role]string{
	state.RoleAdmin:    Admins,
	state.RoleEmployee: Employees,
	state.RoleClient:   Clients,
}

// descriptive names callers use when addressing a role channel.
var channelAliases = map[string]string{
	Admins:            Admins,
	"administrators":  Admins,
	Employees:         Employees,
	"field-employees": Employees,
	Clients:           Clients,
}

// Personal returns the channel holding every connection of one identity.
func Personal(userID string) string {
	return personalPrefix + userID
}

// ForRole returns the role channel for role, if it has one.
func ForRole(role state.Role) (string, bool) {
	ch, ok := roleChannels[role]
	return ch, ok
}

// Lookup resolves a role, a role channel name or its descriptive name to a
// role channel.
func Lookup(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if ch, ok := channelAliases[key]; ok {
		return ch, true
	}
	if role, known := state.ParseRole(name); known {
		return ForRole(role)
	}
	return "", false
}

// RoleChannels lists every role channel in a stable order.
func RoleChannels() []string {
	return []string{Admins, Employees, Clients}
}

// Resolver joins authenticated connections to their channels.
type Resolver struct {
	state  state.Manager
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger, sm state.Manager) *Resolver {
	return &Resolver{
		state:  sm,
		logger: logger.With(slog.String("component", "channel_resolver")),
	}
}

// Join adds conn to its personal channel and, for known roles, its role
// channel. Only a failed personal join is an error.
func (r *Resolver) Join(conn *state.Connection, knownRole bool) ([]string, error) {
	personal := Personal(conn.UserID)
	if err := r.state.Join(personal, conn.ID); err != nil {
		return nil, fmt.Errorf("join personal channel %q: %w", personal, err)
	}
	joined := []string{personal}

	if !knownRole {
		r.logger.Debug("Unrecognized role, personal channel only",
			slog.String("userID", conn.UserID), slog.String("role", string(conn.Role)))
		return joined, nil
	}
	roleCh, ok := ForRole(conn.Role)
	if !ok {
		r.logger.Warn("No channel mapped for role",
			slog.String("userID", conn.UserID), slog.String("role", string(conn.Role)))
		return joined, nil
	}
	if err := r.state.Join(roleCh, conn.ID); err != nil {
		r.logger.Warn("Failed to join role channel",
			slog.String("channel", roleCh), slog.String("connID", conn.ID.String()), slog.Any("error", err))
		return joined, nil
	}
	return append(joined, roleCh), nil
}
