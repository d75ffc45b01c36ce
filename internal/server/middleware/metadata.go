package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/Napolesllll/sst-services-sub001/internal/auth"
)

type Middleware func(http.Handler) http.Handler

type contextKey string

const reqMetaKey = contextKey("r-metadata")

// RequestMetadata carries what the handshake claims before authentication.
type RequestMetadata struct {
	IP        string
	UserID    string
	Handshake auth.Handshake
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(reqMetaKey).(*RequestMetadata)
	return reqMeta, ok
}

// creates and injects the RequestMetadata struct into the request.
// **This should be the first middleware in the chain.**
func RequestMetadataMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr // Fallback
			}
			hs := auth.HandshakeFromRequest(r)
			reqMeta := &RequestMetadata{
				IP:        ip,
				UserID:    hs.UserID,
				Handshake: hs,
			}
			ctx := context.WithValue(r.Context(), reqMetaKey, reqMeta)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
