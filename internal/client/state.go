package client

import (
	"fmt"
)

// State is the lifecycle of the client's single connection. Every change goes
// through Client.transition, which only allows the edges below.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHandshake
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateAwaitingHandshake:
		return "AwaitingHandshake"
	case StateReady:
		return "Ready"
	case StateDisconnecting:
		return "Disconnecting"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// transport failures can end the connection from any live state, not just
// from Disconnecting
var transitions = map[State][]State{
	StateDisconnected:      {StateConnecting},
	StateConnecting:        {StateAwaitingHandshake, StateDisconnecting, StateDisconnected},
	StateAwaitingHandshake: {StateReady, StateDisconnecting, StateDisconnected},
	StateReady:             {StateDisconnecting, StateDisconnected},
	StateDisconnecting:     {StateDisconnected},
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// live reports whether a connection exists in this state.
func (s State) live() bool {
	return s != StateDisconnected
}
