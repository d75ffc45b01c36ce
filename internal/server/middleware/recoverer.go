package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoverer turns a panicking handler into a 500 and logs the panic with
// its stack. http.ErrAbortHandler is re-raised for net/http to handle.
func NewRecoverer(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				logger.Error("Recovered from handler panic",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("uri", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				// upgraded connections are hijacked and cannot take a status
				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
