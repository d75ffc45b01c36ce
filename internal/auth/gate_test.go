package auth_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Napolesllll/sst-services-sub001/internal/auth"
	"github.com/Napolesllll/sst-services-sub001/pkg/state"
	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func signToken(t *testing.T, key, subject, role string) string {
	t.Helper()
	claims := auth.SessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestAuthenticateTrustedHandshake(t *testing.T) {
	gate := auth.NewGate(newTestLogger(), "")
	require.False(t, gate.VerifiesTokens())

	id, err := gate.Authenticate(auth.Handshake{UserID: " u1 ", UserRole: "cliente"})
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, state.RoleClient, id.Role)
	assert.True(t, id.KnownRole)
}

func TestAuthenticateMissingFields(t *testing.T) {
	gate := auth.NewGate(newTestLogger(), "")

	_, err := gate.Authenticate(auth.Handshake{UserRole: "ADMIN"})
	assert.ErrorIs(t, err, auth.ErrMissingIdentity)

	_, err = gate.Authenticate(auth.Handshake{UserID: "u1"})
	assert.ErrorIs(t, err, auth.ErrMissingRole)

	_, err = gate.Authenticate(auth.Handshake{UserID: "u1", UserRole: "   "})
	assert.ErrorIs(t, err, auth.ErrMissingRole)
}

func TestAuthenticateUnknownRoleIsAdmitted(t *testing.T) {
	gate := auth.NewGate(newTestLogger(), "")

	id, err := gate.Authenticate(auth.Handshake{UserID: "u9", UserRole: "AUDITOR"})
	require.NoError(t, err)
	assert.False(t, id.KnownRole)
	assert.Equal(t, state.Role("AUDITOR"), id.Role)
}

func TestAuthenticateWithTokenVerification(t *testing.T) {
	gate := auth.NewGate(newTestLogger(), secret)

	tests := []struct {
		name    string
		hs      auth.Handshake
		wantErr error
	}{
		{
			name: "valid token",
			hs:   auth.Handshake{UserID: "u1", UserRole: "ADMIN", Token: signToken(t, secret, "u1", "ADMIN")},
		},
		{
			name: "role claim alias",
			hs:   auth.Handshake{UserID: "u1", UserRole: "ADMIN", Token: signToken(t, secret, "u1", "administrator")},
		},
		{
			name:    "missing token",
			hs:      auth.Handshake{UserID: "u1", UserRole: "ADMIN"},
			wantErr: auth.ErrMissingToken,
		},
		{
			name:    "wrong key",
			hs:      auth.Handshake{UserID: "u1", UserRole: "ADMIN", Token: signToken(t, "other", "u1", "ADMIN")},
			wantErr: auth.ErrInvalidToken,
		},
		{
			name:    "subject mismatch",
			hs:      auth.Handshake{UserID: "u1", UserRole: "ADMIN", Token: signToken(t, secret, "u2", "ADMIN")},
			wantErr: auth.ErrClaimsMismatch,
		},
		{
			name:    "role escalation",
			hs:      auth.Handshake{UserID: "u1", UserRole: "ADMIN", Token: signToken(t, secret, "u1", "CLIENTE")},
			wantErr: auth.ErrClaimsMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gate.Authenticate(tt.hs)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestHandshakeFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?userId=u1&userRole=CLIENTE&token=q", nil)
	hs := auth.HandshakeFromRequest(r)
	assert.Equal(t, auth.Handshake{Token: "q", UserID: "u1", UserRole: "CLIENTE"}, hs)

	r = httptest.NewRequest(http.MethodGet, "/ws?userId=u1&userRole=ADMIN", nil)
	r.Header.Set("Authorization", "Bearer hdr")
	assert.Equal(t, "hdr", auth.HandshakeFromRequest(r).Token)

	r = httptest.NewRequest(http.MethodGet, "/ws?userId=u1&userRole=ADMIN", nil)
	r.AddCookie(&http.Cookie{Name: "session-token", Value: "cookie"})
	assert.Equal(t, "cookie", auth.HandshakeFromRequest(r).Token)
}

type recordingTransport struct {
	id     uuid.UUID
	sent   [][]byte
	closed error
}

func (r *recordingTransport) ID() uuid.UUID { return r.id }
func (r *recordingTransport) Kind() string  { return "test" }
func (r *recordingTransport) Send(msg []byte) error {
	r.sent = append(r.sent, msg)
	return nil
}
func (r *recordingTransport) Close(err error) { r.closed = err }

func TestRejectSendsErrorThenCloses(t *testing.T) {
	gate := auth.NewGate(newTestLogger(), "")
	rt := &recordingTransport{id: uuid.New()}

	gate.Reject(rt, auth.ErrMissingRole)

	require.Len(t, rt.sent, 1)
	var frame struct {
		Event string `json:"event"`
		Data  struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rt.sent[0], &frame))
	assert.Equal(t, "error", frame.Event)
	assert.NotEmpty(t, frame.Data.Message)

	var ce websocket.CloseError
	require.ErrorAs(t, rt.closed, &ce)
	assert.Equal(t, websocket.StatusPolicyViolation, ce.Code)
}
