package client

import (
	"github.com/blukai/climbparty/internal/protocol"
)

// Disconnect describes why a connection ended.
type Disconnect struct {
	Reason protocol.DisconnectReason
	Text   string
	// Message is the user facing explanation. It is empty for a clean
	// disconnect without a structured reason.
	Message string
	// Clean is true when the disconnect was asked for by the user. Such a
	// disconnect is not reported as a failure.
	Clean bool
}

var reasonMessages = map[protocol.DisconnectReason]string{
	protocol.ReasonDuplicateHandshake: "Duplicate handshake sent to the server.",
	protocol.ReasonHandshakeTimeout:   "Failed to send handshake within the time limit.",
	protocol.ReasonInvalidMessage:     "The last sent message was invalid.",
	protocol.ReasonInvalidName:        "The name is either empty or it contains invalid characters.",
	protocol.ReasonNotAccepted:        "Tried to send a message before getting a successful handshake response.",
	protocol.ReasonVersionNewer:       "The server is running an older version.",
	protocol.ReasonVersionOlder:       "The server is running a newer version.",
	protocol.ReasonInvalidSession:     "Invalid platform session.",
}

// ClassifyDisconnect maps a transport disconnect onto the user facing
// taxonomy. Reasons outside of it fall back to the free-text reason.
//
// The free text alone decides whether the disconnect was clean, even when a
// structured reason comes with it.
// TODO(blukai): settle the precedence between a structured reason and "bye"
// with whoever owns the server side of the protocol.
func ClassifyDisconnect(reason protocol.DisconnectReason, text string) Disconnect {
	d := Disconnect{
		Reason: reason,
		Text:   text,
		Clean:  text == protocol.ByeReason,
	}
	if msg, ok := reasonMessages[reason]; ok {
		d.Message = msg
	} else if !d.Clean {
		d.Message = text
	}
	return d
}

// Notice is the line shown to the user.
func (d Disconnect) Notice() string {
	if d.Clean || d.Message == "" {
		return "Disconnected from the server."
	}
	return "Disconnected from the server. (" + d.Message + ")"
}
