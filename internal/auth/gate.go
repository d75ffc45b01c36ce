package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Napolesllll/sst-services-sub001/pkg/state"
	"github.com/Napolesllll/sst-services-sub001/pkg/transport"
	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingIdentity = errors.New("auth: handshake missing userId")
	ErrMissingRole     = errors.New("auth: handshake missing userRole")
	ErrMissingToken    = errors.New("auth: handshake missing token")
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrClaimsMismatch  = errors.New("auth: token claims do not match handshake")
)

const sessionCookie = "session-token"

// Handshake is what a client presents when it opens a connection.
type Handshake struct {
	Token    string
	UserID   string
	UserRole string
}

// HandshakeFromRequest reads userId and userRole from the query string and the
// token from the query, the Authorization header or the session cookie.
func HandshakeFromRequest(r *http.Request) Handshake {
	q := r.URL.Query()
	h := Handshake{
		Token:    q.Get("token"),
		UserID:   strings.TrimSpace(q.Get("userId")),
		UserRole: strings.TrimSpace(q.Get("userRole")),
	}
	if h.Token == "" {
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			h.Token = strings.TrimSpace(bearer)
		}
	}
	if h.Token == "" {
		if cookie, err := r.Cookie(sessionCookie); err == nil {
			h.Token = cookie.Value
		}
	}
	return h
}

// Identity is an approved (user, role) pair.
type Identity struct {
	UserID string
	Role   state.Role
	// KnownRole is false for roles outside the fixed role set.
	KnownRole bool
}

// SessionClaims are the claims expected when tokens are verified.
type SessionClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Gate approves or rejects handshakes. With no secret configured the
// handshake values are trusted as produced by the upstream session layer.
type Gate struct {
	secret []byte
	logger *slog.Logger
}

func NewGate(logger *slog.Logger, jwtSecret string) *Gate {
	g := &Gate{logger: logger.With(slog.String("component", "auth_gate"))}
	if jwtSecret != "" {
		g.secret = []byte(jwtSecret)
	}
	return g
}

func (g *Gate) VerifiesTokens() bool {
	return g.secret != nil
}

func (g *Gate) Authenticate(h Handshake) (Identity, error) {
	userID := strings.TrimSpace(h.UserID)
	rawRole := strings.TrimSpace(h.UserRole)
	if userID == "" {
		return Identity{}, ErrMissingIdentity
	}
	if rawRole == "" {
		return Identity{}, ErrMissingRole
	}

	if g.secret != nil {
		if err := g.verify(h.Token, userID, rawRole); err != nil {
			return Identity{}, err
		}
	}

	role, known := state.ParseRole(rawRole)
	return Identity{UserID: userID, Role: role, KnownRole: known}, nil
}

func (g *Gate) verify(tokenString, userID, rawRole string) error {
	if tokenString == "" {
		return ErrMissingToken
	}
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject != userID {
		return fmt.Errorf("%w: subject %q", ErrClaimsMismatch, claims.Subject)
	}
	if claims.Role != "" {
		claimed, _ := state.ParseRole(claims.Role)
		presented, _ := state.ParseRole(rawRole)
		if claimed != presented {
			return fmt.Errorf("%w: role %q", ErrClaimsMismatch, claims.Role)
		}
	}
	return nil
}

type errorPayload struct {
	Message string `json:"message"`
}

// Reject sends a single error event to the connection and closes it.
func (g *Gate) Reject(t state.Transport, cause error) {
	g.logger.Warn("Authentication failed, closing connection",
		slog.String("connID", t.ID().String()),
		slog.Any("error", cause),
	)
	msg, err := transport.Encode(transport.EventError, errorPayload{Message: "Authentication failed"})
	if err == nil {
		if sendErr := t.Send(msg); sendErr != nil {
			g.logger.Debug("Could not deliver authentication error", slog.Any("error", sendErr))
		}
	}
	t.Close(websocket.CloseError{Code: websocket.StatusPolicyViolation, Reason: "authentication failed"})
}
