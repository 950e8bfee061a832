package model

// WebSocket control message types. Progress events go over the wire as
// ProgressEvent JSON; control frames use this small envelope.
const (
	WSMessageTypePing = "ping"
	WSMessageTypePong = "pong"
)

// WSControlMessage is a client↔server control frame
type WSControlMessage struct {
	Type string `json:"type"`
}
