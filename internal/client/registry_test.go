package client_test

import (
	"errors"
	"testing"

	"github.com/blukai/climbparty/internal/client"
	"github.com/blukai/climbparty/internal/protocol"
	"github.com/matryer/is"
)

func TestRegistrySpawnIsDeferred(t *testing.T) {
	is := is.New(t)

	observer := &recordingObserver{}
	r := client.NewRegistry(observer)

	is.NoErr(r.Spawn(3, move0, "Bob"))
	is.NoErr(r.Spawn(5, move0, "Carol"))
	_, ok := r.Get(3)
	is.True(!ok)
	is.True(r.Pending(3))

	is.Equal(r.Flush(), 2)
	is.Equal(observer.joined, []int32{3, 5})

	bob, ok := r.Get(3)
	is.True(ok)
	is.Equal(bob.Move, move0)
	is.Equal(bob.MoveTick, uint64(1))

	is.Equal(r.Flush(), 0)
}

func TestRegistrySpawnErrors(t *testing.T) {
	is := is.New(t)

	r := client.NewRegistry(nil)
	r.SetLocalID(7)

	is.True(errors.Is(r.Spawn(0, move0, "nobody"), client.ErrInvalidID))
	is.True(errors.Is(r.Spawn(7, move0, "Alice"), client.ErrLocalPlayer))

	is.NoErr(r.Spawn(3, move0, "Bob"))
	r.Flush()
	is.True(errors.Is(r.Spawn(3, move0, "Bob"), client.ErrAlreadyExists))
}

func TestRegistryLocalIDIsNeverPresent(t *testing.T) {
	is := is.New(t)

	r := client.NewRegistry(nil)

	// spawned before the local id is known
	is.NoErr(r.Spawn(7, move0, "Alice"))
	is.NoErr(r.Spawn(8, move0, "Alice too"))
	r.Flush()
	is.Equal(r.Len(), 2)

	is.NoErr(r.Spawn(9, move0, "Bob"))
	r.SetLocalID(9)
	r.SetLocalID(7)
	r.Flush()

	_, ok := r.Get(7)
	is.True(!ok)
	_, ok = r.Get(9)
	is.True(!ok)
	is.Equal(r.Len(), 1)
}

func TestRegistryRemove(t *testing.T) {
	is := is.New(t)

	observer := &recordingObserver{}
	r := client.NewRegistry(observer)

	is.True(!r.Remove(3))

	is.NoErr(r.Spawn(3, move0, "Bob"))
	is.True(r.Remove(3))
	r.Flush()
	is.Equal(r.Len(), 0)
	is.Equal(len(observer.joined), 0)
	is.Equal(len(observer.left), 0)

	is.NoErr(r.Spawn(3, move0, "Bob"))
	is.NoErr(r.Spawn(5, move0, "Carol"))
	is.NoErr(r.Spawn(9, move0, "Dave"))
	r.Flush()

	is.True(r.Remove(5))
	is.Equal(observer.left, []int32{5})
	is.Equal(ids(r.All()), []int32{3, 9})
}

func TestRegistryApplyMove(t *testing.T) {
	is := is.New(t)

	r := client.NewRegistry(nil)
	moved := protocol.PlayerMove{Velocity: protocol.Vector2{X: 1}}

	is.NoErr(r.Spawn(3, move0, "Bob"))
	// pending spawns don't buffer moves
	is.True(!r.ApplyMove(3, moved))
	is.True(!r.ApplyMove(42, moved))

	r.Flush()
	r.Flush()
	is.True(r.ApplyMove(3, moved))

	bob, _ := r.Get(3)
	is.Equal(bob.Move, moved)
	is.Equal(bob.MoveTick, uint64(2))
}

func TestRegistryClear(t *testing.T) {
	is := is.New(t)

	observer := &recordingObserver{}
	r := client.NewRegistry(observer)

	is.NoErr(r.Spawn(3, move0, "Bob"))
	is.NoErr(r.Spawn(5, move0, "Carol"))
	r.Flush()
	is.NoErr(r.Spawn(9, move0, "Dave"))

	r.Clear()
	r.Flush()

	is.Equal(r.Len(), 0)
	is.Equal(len(r.All()), 0)
	is.Equal(observer.left, []int32{3, 5})
	is.True(!r.Pending(9))
}

func ids(players []*client.RemotePlayer) []int32 {
	out := make([]int32, 0, len(players))
	for _, p := range players {
		out = append(out, p.ID)
	}
	return out
}
