package router

import "time"

type pongPayload struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	SocketID  string    `json:"socketId"`
}

type syncAck struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	// Since echoes the client's cursor so it can match the ack to its request.
	Since string `json:"since,omitempty"`
}
