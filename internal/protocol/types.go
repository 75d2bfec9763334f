package protocol

import (
	"sort"
)

type Vector2 struct {
	X float32
	Y float32
}

// PlayerMove is an opaque snapshot of a player's physical state. It is
// replaced wholesale on every update.
type PlayerMove struct {
	Position        Vector2
	Velocity        Vector2
	Rotation        float32
	AngularVelocity float32
}

// PlayerMoveSize is the encoded size of a PlayerMove.
const PlayerMoveSize = 6 * 4

type Color struct {
	R, G, B, A uint8
}

var (
	ColorWhite = Color{R: 255, G: 255, B: 255, A: 255}
	ColorRed   = Color{R: 231, G: 76, B: 60, A: 255}
	ColorGreen = Color{R: 46, G: 204, B: 113, A: 255}
)

// NameTable maps a player id to its display name.
type NameTable map[int32]string

type nameEntry struct {
	id   int32
	name string
}

func (t NameTable) sorted() []nameEntry {
	entries := make([]nameEntry, 0, len(t))
	for id, name := range t {
		entries = append(entries, nameEntry{id: id, name: name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return entries
}

type MoveEntry struct {
	ID   int32
	Move PlayerMove
}

// MoveTable is keyed by player id. It is a slice rather than a map because
// the order in which a handshake lists players is the order they get spawned
// in, and spectator cycling walks that order.
type MoveTable []MoveEntry

func (t MoveTable) Get(id int32) (PlayerMove, bool) {
	for _, entry := range t {
		if entry.ID == id {
			return entry.Move, true
		}
	}
	return PlayerMove{}, false
}

// ServerInfo is the server's discovery metadata as sent in the handshake
// response.
type ServerInfo struct {
	Name       string
	Players    int32
	MaxPlayers int32
	Version    int32
}
