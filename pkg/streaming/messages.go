// Package streaming defines the JSON wire messages the websocket recorder
// sends to a live viewer.
package streaming

import (
	"encoding/json"

	"github.com/stagesim/pioneer/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartSession  = "start_session"
	TypeEndSession    = "end_session"
	TypeOdometryFrame = "odometry_frame"
	TypeCollision     = "collision"
	TypePoseEvent     = "pose_event"
	TypeStatus        = "status"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload carries the session description.
type StartSessionPayload struct {
	Session *core.Session `json:"session"`
}

// EndSessionPayload closes a session.
type EndSessionPayload struct {
	SessionID string `json:"sessionId"`
}
