package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Napolesllll/sst-services-sub001/pkg/config"
)

const (
	LimitModeReject = "reject"
	LimitModeCycle  = "cycle"
)

type UserConnectionCounter func(userID string) int

// NewConnectionLimiter refuses handshakes for identities already at their
// connection cap. Requests without an identity pass through so the auth gate
// can reject them. Cycle mode closes someone else's connection, so it also
// passes through here and is applied only after the identity is verified.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter UserConnectionCounter,
	config config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.MaxPerUser <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if reqMeta.UserID == "" {
				next.ServeHTTP(w, r)
				return
			}

			switch config.Mode {
			case LimitModeCycle:
				next.ServeHTTP(w, r)
			case LimitModeReject:
				count := counter(reqMeta.UserID)
				if count < config.MaxPerUser {
					next.ServeHTTP(w, r)
					return
				}
				logger.Warn("User connection limit reached", slog.String("userID", reqMeta.UserID), slog.Int("count", count))
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", config.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
