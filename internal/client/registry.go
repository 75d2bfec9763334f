package client

import (
	"errors"
	"fmt"

	"github.com/blukai/climbparty/internal/protocol"
)

var (
	ErrLocalPlayer   = errors.New("id belongs to the local player")
	ErrInvalidID     = errors.New("invalid player id")
	ErrAlreadyExists = errors.New("player already exists")
)

// RemotePlayer is the client's view of another connected player.
type RemotePlayer struct {
	ID   int32
	Name string
	Move protocol.PlayerMove
	// MoveTick is the registry tick at which Move was applied.
	MoveTick uint64
}

type pendingSpawn struct {
	id   int32
	name string
	move protocol.PlayerMove
}

// spawnQueue holds spawns until the next tick boundary. Cancelling is keyed by
// player id so that a remove arriving in the same tick voids the spawn.
type spawnQueue struct {
	order []int32
	tasks map[int32]pendingSpawn
}

func (q *spawnQueue) push(s pendingSpawn) {
	if q.tasks == nil {
		q.tasks = make(map[int32]pendingSpawn)
	}
	if _, ok := q.tasks[s.id]; !ok {
		q.order = append(q.order, s.id)
	}
	q.tasks[s.id] = s
}

func (q *spawnQueue) cancel(id int32) bool {
	if _, ok := q.tasks[id]; !ok {
		return false
	}
	delete(q.tasks, id)
	return true
}

func (q *spawnQueue) has(id int32) bool {
	_, ok := q.tasks[id]
	return ok
}

func (q *spawnQueue) drain() []pendingSpawn {
	out := make([]pendingSpawn, 0, len(q.tasks))
	for _, id := range q.order {
		if s, ok := q.tasks[id]; ok {
			out = append(out, s)
			delete(q.tasks, id)
		}
	}
	q.order = q.order[:0]
	q.tasks = nil
	return out
}

// Registry maps remote player ids to their state. It never holds the local
// player, and it remembers insertion order for spectator cycling.
type Registry struct {
	localID int32
	tick    uint64

	players map[int32]*RemotePlayer
	order   []int32
	pending spawnQueue

	observer Observer
}

func NewRegistry(observer Observer) *Registry {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Registry{
		players:  make(map[int32]*RemotePlayer),
		observer: observer,
	}
}

// SetLocalID records the local player's id. A registry entry with that id
// can't exist: it could only have been spawned before the id was known, in
// which case it is dropped here.
func (r *Registry) SetLocalID(id int32) {
	r.localID = id
	if id == 0 {
		return
	}
	r.pending.cancel(id)
	r.Remove(id)
}

// Spawn schedules id to be added at the next Flush. The first move is applied
// right before the player becomes visible to Get, All and ApplyMove.
func (r *Registry) Spawn(id int32, move protocol.PlayerMove, name string) error {
	switch {
	case id == 0:
		return ErrInvalidID
	case id == r.localID:
		return fmt.Errorf("could not spawn %d: %w", id, ErrLocalPlayer)
	}
	if _, ok := r.players[id]; ok {
		return fmt.Errorf("could not spawn %d: %w", id, ErrAlreadyExists)
	}
	r.pending.push(pendingSpawn{id: id, name: name, move: move})
	return nil
}

// Pending reports whether a spawn for id is waiting for the next Flush.
func (r *Registry) Pending(id int32) bool {
	return r.pending.has(id)
}

// Flush advances the registry by one tick and completes the spawns that were
// requested during the previous one. It returns how many players were added.
func (r *Registry) Flush() int {
	r.tick++

	added := 0
	for _, s := range r.pending.drain() {
		if s.id == r.localID {
			continue
		}
		if _, ok := r.players[s.id]; ok {
			continue
		}
		p := &RemotePlayer{ID: s.id, Name: s.name}
		r.applyMove(p, s.move)
		r.players[s.id] = p
		r.order = append(r.order, s.id)
		added++
		r.observer.PlayerJoined(p)
	}
	return added
}

// Remove deletes id, or cancels its pending spawn. Unknown ids are ignored:
// a server remove racing a spawn that has not completed yet is expected.
func (r *Registry) Remove(id int32) bool {
	cancelled := r.pending.cancel(id)

	p, ok := r.players[id]
	if !ok {
		return cancelled
	}
	delete(r.players, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.observer.PlayerLeft(p)
	return true
}

// ApplyMove replaces the move of id. Moves for unknown ids (including ones
// still pending a spawn) are dropped, not buffered.
func (r *Registry) ApplyMove(id int32, move protocol.PlayerMove) bool {
	p, ok := r.players[id]
	if !ok {
		return false
	}
	r.applyMove(p, move)
	return true
}

func (r *Registry) applyMove(p *RemotePlayer, move protocol.PlayerMove) {
	p.Move = move
	p.MoveTick = r.tick
}

func (r *Registry) Get(id int32) (*RemotePlayer, bool) {
	p, ok := r.players[id]
	return p, ok
}

// All returns the players in insertion order.
func (r *Registry) All() []*RemotePlayer {
	out := make([]*RemotePlayer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.players) }

// Clear removes every player, firing a left notification for each, and drops
// pending spawns.
func (r *Registry) Clear() {
	r.pending.drain()
	for _, p := range r.All() {
		r.Remove(p.ID)
	}
}
