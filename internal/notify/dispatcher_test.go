package notify_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/Napolesllll/sst-services-sub001/internal/channels"
	"github.com/Napolesllll/sst-services-sub001/internal/metrics"
	"github.com/Napolesllll/sst-services-sub001/internal/notify"
	"github.com/Napolesllll/sst-services-sub001/pkg/state"
	"github.com/Napolesllll/sst-services-sub001/pkg/state/statemanager"
	"github.com/Napolesllll/sst-services-sub001/pkg/transport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeTransport struct {
	id      uuid.UUID
	mu      sync.Mutex
	frames  []transport.Frame
	sendErr error
}

func (f *fakeTransport) ID() uuid.UUID { return f.id }
func (f *fakeTransport) Kind() string  { return "test" }
func (f *fakeTransport) Close(error)   {}

func (f *fakeTransport) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return err
	}
	f.frames = append(f.frames, transport.Frame{Event: frame.Event, Data: frame.Data})
	return nil
}

func (f *fakeTransport) received() []transport.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

type fixture struct {
	state *statemanager.InMemoryManager
	hub   *notify.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := newTestLogger()
	sm := statemanager.NewInMemoryManager(logger)
	hub := notify.NewHub(logger, sm, metrics.New(prometheus.NewRegistry()))
	hub.Start()
	return &fixture{state: sm, hub: hub}
}

// connect registers a connection the way the supervisor does.
func (f *fixture) connect(t *testing.T, userID string, role state.Role) *fakeTransport {
	t.Helper()
	ft := &fakeTransport{id: uuid.New()}
	conn := state.NewConnection(ft, "127.0.0.1")
	conn.UserID = userID
	conn.Role = role
	require.NoError(t, f.state.Register(conn))
	_, err := channels.NewResolver(newTestLogger(), f.state).Join(conn, true)
	require.NoError(t, err)
	conn.SetStatus(state.StatusActive)
	return ft
}

func decodeNotification(t *testing.T, frame transport.Frame) notify.Notification {
	t.Helper()
	raw, ok := frame.Data.(json.RawMessage)
	require.True(t, ok)
	var n notify.Notification
	require.NoError(t, json.Unmarshal(raw, &n))
	return n
}

func TestEmitToUser(t *testing.T) {
	f := newFixture(t)
	tab := f.connect(t, "u1", state.RoleClient)
	other := f.connect(t, "u2", state.RoleClient)

	ok := f.hub.EmitToUser("u1", notify.Notification{ID: "n1", UserID: "u1", Title: "X"})
	require.True(t, ok)

	frames := tab.received()
	require.Len(t, frames, 1)
	assert.Equal(t, "new_notification", frames[0].Event)
	assert.Equal(t, "X", decodeNotification(t, frames[0]).Title)
	assert.Empty(t, other.received())
}

func TestEmitToUserOfflineIsDropped(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.hub.EmitToUser("nobody", notify.Notification{ID: "n1"}))
}

func TestEmitBeforeStartFails(t *testing.T) {
	logger := newTestLogger()
	hub := notify.NewHub(logger, statemanager.NewInMemoryManager(logger), nil)

	assert.False(t, hub.EmitToUser("u1", notify.Notification{}))
	assert.False(t, hub.EmitToRole("administrators", notify.Notification{}))
	assert.False(t, hub.EmitReadReceipt("u1", []string{"n1"}))
	assert.False(t, hub.EmitDeletion("u1", "n1"))
	assert.Zero(t, hub.BroadcastShutdown())

	hub.Start()
	assert.True(t, hub.EmitToUser("u1", notify.Notification{}))
	hub.Stop()
	assert.False(t, hub.EmitToUser("u1", notify.Notification{}))
}

func TestEmitPreservesOrderPerConnection(t *testing.T) {
	f := newFixture(t)
	tab := f.connect(t, "u1", state.RoleClient)

	titles := []string{"first", "second", "third", "fourth", "fifth"}
	for _, title := range titles {
		require.True(t, f.hub.EmitToUser("u1", notify.Notification{Title: title}))
	}

	frames := tab.received()
	require.Len(t, frames, len(titles))
	for i, frame := range frames {
		assert.Equal(t, titles[i], decodeNotification(t, frame).Title)
	}
}

func TestEmitToRoleIsGated(t *testing.T) {
	f := newFixture(t)
	admins := []*fakeTransport{
		f.connect(t, "a1", state.RoleAdmin),
		f.connect(t, "a2", state.RoleAdmin),
		f.connect(t, "a3", state.RoleAdmin),
	}
	client := f.connect(t, "c1", state.RoleClient)
	employee := f.connect(t, "e1", state.RoleEmployee)

	require.True(t, f.hub.EmitToRole("administrators", notify.Notification{Title: "Y"}))

	for _, a := range admins {
		frames := a.received()
		require.Len(t, frames, 1)
		assert.Equal(t, "Y", decodeNotification(t, frames[0]).Title)
	}
	assert.Empty(t, client.received())
	assert.Empty(t, employee.received())
}

func TestEmitToRoleUnknown(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.hub.EmitToRole("everyone", notify.Notification{}))
}

func TestEmitToUsersIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	broken := f.connect(t, "a", state.RoleClient)
	broken.sendErr = transport.ErrSendBufferFull
	b := f.connect(t, "b", state.RoleClient)

	ok := f.hub.EmitToUsers([]string{"a", "offline", "b"}, notify.Notification{Title: "Z"})
	assert.False(t, ok, "a failed send is reported")

	frames := b.received()
	require.Len(t, frames, 1)
	assert.Equal(t, "Z", decodeNotification(t, frames[0]).Title)
}

func TestEmitToUsersOfflineTargetStillDeliversOthers(t *testing.T) {
	f := newFixture(t)
	b := f.connect(t, "b", state.RoleClient)

	assert.True(t, f.hub.EmitToUsers([]string{"a", "b"}, notify.Notification{Title: "Z"}))
	assert.Len(t, b.received(), 1)
}

func TestReadReceiptReachesEveryTab(t *testing.T) {
	f := newFixture(t)
	tabA := f.connect(t, "u1", state.RoleClient)
	tabB := f.connect(t, "u1", state.RoleClient)

	require.True(t, f.hub.EmitReadReceipt("u1", []string{"n1"}))

	for _, tab := range []*fakeTransport{tabA, tabB} {
		frames := tab.received()
		require.Len(t, frames, 1)
		assert.Equal(t, "notifications_marked_read", frames[0].Event)
		assert.JSONEq(t, `["n1"]`, string(frames[0].Data.(json.RawMessage)))
	}
}

func TestDeletionReachesEveryTab(t *testing.T) {
	f := newFixture(t)
	tabA := f.connect(t, "u1", state.RoleEmployee)
	tabB := f.connect(t, "u1", state.RoleEmployee)

	require.True(t, f.hub.EmitDeletion("u1", "n7"))

	for _, tab := range []*fakeTransport{tabA, tabB} {
		frames := tab.received()
		require.Len(t, frames, 1)
		assert.Equal(t, "notification_deleted", frames[0].Event)
		assert.JSONEq(t, `"n7"`, string(frames[0].Data.(json.RawMessage)))
	}
}

func TestClosedConnectionIsSkipped(t *testing.T) {
	f := newFixture(t)
	closing := f.connect(t, "u1", state.RoleClient)
	closing.sendErr = transport.ErrConnectionClosed
	live := f.connect(t, "u1", state.RoleClient)

	assert.True(t, f.hub.EmitToUser("u1", notify.Notification{Title: "still"}))
	assert.Len(t, live.received(), 1)
}

func TestBroadcastShutdownReachesAll(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a1", state.RoleAdmin)
	c := f.connect(t, "c1", state.Role("AUDITOR"))
	failing := f.connect(t, "c2", state.RoleClient)
	failing.sendErr = errors.New("boom")

	assert.Equal(t, 2, f.hub.BroadcastShutdown())
	for _, tr := range []*fakeTransport{a, c} {
		frames := tr.received()
		require.Len(t, frames, 1)
		assert.Equal(t, "server_shutdown", frames[0].Event)
	}
}
