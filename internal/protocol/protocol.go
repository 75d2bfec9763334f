package protocol

import (
	"fmt"
)

const (
	// Version is sent in the hail. A server rejects a mismatch with
	// ReasonVersionNewer or ReasonVersionOlder.
	Version int32 = 1

	// AppIdentifier scopes the transport: datagrams from peers that were
	// built with a different identifier are dropped before decoding.
	AppIdentifier = "climbparty"

	// UpdateRate is how many MoveData messages per second each side sends.
	UpdateRate = 30
)

const (
	ChannelCount = 4

	// ReliableChannel carries handshake, chat and spectator control.
	ReliableChannel uint8 = 0
	// MoveDataChannel is dedicated to movement so that a stale move never
	// waits behind (or supersedes) anything else.
	MoveDataChannel uint8 = 1
)

const (
	MaxNameLength   = 32
	MaxStringLength = 1024
	MaxTicketLength = 4 << 10
)

type MessageType uint8

const (
	_ MessageType = iota
	MessageTypeHandshakeHail
	MessageTypeHandshakeResponse
	MessageTypeCreatePlayer
	MessageTypeRemovePlayer
	MessageTypeMoveData
	MessageTypeChatMessage
	MessageTypeSpectateTarget
	MessageTypeClientStopSpectating

	messageTypeMax
)

func (t MessageType) Valid() bool {
	return t > 0 && t < messageTypeMax
}

// Sequenced reports whether messages of this type are sent
// unreliable-sequenced. Only movement is; everything else must arrive, and
// arrive in order.
func (t MessageType) Sequenced() bool {
	return t == MessageTypeMoveData
}

func (t MessageType) Channel() uint8 {
	if t.Sequenced() {
		return MoveDataChannel
	}
	return ReliableChannel
}

func (t MessageType) String() string {
	switch t {
	case MessageTypeHandshakeHail:
		return "HandshakeHail"
	case MessageTypeHandshakeResponse:
		return "HandshakeResponse"
	case MessageTypeCreatePlayer:
		return "CreatePlayer"
	case MessageTypeRemovePlayer:
		return "RemovePlayer"
	case MessageTypeMoveData:
		return "MoveData"
	case MessageTypeChatMessage:
		return "ChatMessage"
	case MessageTypeSpectateTarget:
		return "SpectateTarget"
	case MessageTypeClientStopSpectating:
		return "ClientStopSpectating"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// DisconnectReason is the structured part of a disconnect. ReasonNone means
// the free-text reason is all there is.
type DisconnectReason uint8

const (
	ReasonNone DisconnectReason = iota
	ReasonDuplicateHandshake
	ReasonHandshakeTimeout
	ReasonInvalidMessage
	ReasonInvalidName
	ReasonNotAccepted
	ReasonVersionNewer
	ReasonVersionOlder
	ReasonInvalidSession
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonDuplicateHandshake:
		return "DuplicateHandshake"
	case ReasonHandshakeTimeout:
		return "HandshakeTimeout"
	case ReasonInvalidMessage:
		return "InvalidMessage"
	case ReasonInvalidName:
		return "InvalidName"
	case ReasonNotAccepted:
		return "NotAccepted"
	case ReasonVersionNewer:
		return "VersionNewer"
	case ReasonVersionOlder:
		return "VersionOlder"
	case ReasonInvalidSession:
		return "InvalidSession"
	}
	return fmt.Sprintf("DisconnectReason(%d)", uint8(r))
}

// ByeReason is the free-text reason of a disconnect the user asked for.
const ByeReason = "bye"
