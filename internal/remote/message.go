// Package remote implements the local real-time control channel: a WebSocket
// server that lets a companion device pair with the running desktop process
// via a short-lived PIN, receive a live ordered broadcast of training log
// lines, and send back a small set of control commands that are re-injected
// into the host application's event bus.
package remote

import "encoding/json"

// Inbound frame actions. Clients send single-line JSON objects with an
// "action" field; anything unparseable or without a recognized action is
// silently ignored.
const (
	// ActionAuthenticate is the documented authentication action.
	ActionAuthenticate = "authenticate"

	// actionAuthAlias is the short form some client builds send.
	actionAuthAlias = "auth"

	// ActionStopTraining asks the host to stop the current training job.
	ActionStopTraining = "stop_training"
)

// Outbound status values. Auth acks are the only JSON frames the server
// sends; broadcasts are raw log-line text frames.
const (
	// StatusAuthenticated acknowledges a successful authentication.
	StatusAuthenticated = "authenticated"

	// StatusAuthFailed is sent before the connection is terminated when the
	// claimed secret does not match.
	StatusAuthFailed = "auth_failed"
)

// inboundMessage is the client-to-server frame shape.
// Token is only meaningful for the authenticate action.
type inboundMessage struct {
	Action string `json:"action"`
	Token  string `json:"token,omitempty"`
}

// statusMessage is the server-to-client acknowledgment frame shape.
type statusMessage struct {
	Status string `json:"status"`
}

// encodeStatus serializes a status ack. The shape is fixed, so a marshal
// failure here is impossible; the error branch keeps the compiler honest.
func encodeStatus(status string) []byte {
	data, err := json.Marshal(statusMessage{Status: status})
	if err != nil {
		return []byte(`{"status":"` + status + `"}`)
	}
	return data
}
