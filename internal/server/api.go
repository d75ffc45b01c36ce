package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/Napolesllll/sst-services-sub001/internal/notify"
	"github.com/go-chi/chi/v5"
)

const (
	internalTokenHeader = "X-Internal-Token"
	maxBodyBytes        = 1 << 20
)

type deliveryResponse struct {
	Delivered bool `json:"delivered"`
}

type batchRequest struct {
	UserIDs      []string            `json:"userIds"`
	Notification notify.Notification `json:"notification"`
}

type readReceiptRequest struct {
	IDs []string `json:"ids"`
}

// internalRoutes exposes the Dispatcher to a request-handling layer running
// in another process.
func (a *App) internalRoutes(r chi.Router) {
	r.Use(a.requireInternalToken)

	r.Post("/users/{userID}", func(w http.ResponseWriter, req *http.Request) {
		var n notify.Notification
		if !readJSON(w, req, &n) {
			return
		}
		a.respondDelivery(w, a.hub.EmitToUser(chi.URLParam(req, "userID"), n))
	})

	r.Post("/roles/{role}", func(w http.ResponseWriter, req *http.Request) {
		var n notify.Notification
		if !readJSON(w, req, &n) {
			return
		}
		a.respondDelivery(w, a.hub.EmitToRole(chi.URLParam(req, "role"), n))
	})

	r.Post("/batch", func(w http.ResponseWriter, req *http.Request) {
		var body batchRequest
		if !readJSON(w, req, &body) {
			return
		}
		a.respondDelivery(w, a.hub.EmitToUsers(body.UserIDs, body.Notification))
	})

	r.Post("/users/{userID}/read", func(w http.ResponseWriter, req *http.Request) {
		var body readReceiptRequest
		if !readJSON(w, req, &body) {
			return
		}
		a.respondDelivery(w, a.hub.EmitReadReceipt(chi.URLParam(req, "userID"), body.IDs))
	})

	r.Delete("/users/{userID}/{notificationID}", func(w http.ResponseWriter, req *http.Request) {
		a.respondDelivery(w, a.hub.EmitDeletion(chi.URLParam(req, "userID"), chi.URLParam(req, "notificationID")))
	})
}

func (a *App) requireInternalToken(next http.Handler) http.Handler {
	want := []byte(a.config.Server.InternalToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(internalTokenHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) respondDelivery(w http.ResponseWriter, delivered bool) {
	writeJSON(w, http.StatusAccepted, deliveryResponse{Delivered: delivered})
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return false
	}
	return true
}
