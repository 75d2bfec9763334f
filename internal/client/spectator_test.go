package client_test

import (
	"math"
	"testing"

	"github.com/blukai/climbparty/internal/client"
	"github.com/matryer/is"
)

func players(ids ...int32) []*client.RemotePlayer {
	out := make([]*client.RemotePlayer, 0, len(ids))
	for _, id := range ids {
		out = append(out, &client.RemotePlayer{ID: id})
	}
	return out
}

func TestSpectatorCycle(t *testing.T) {
	is := is.New(t)

	list := players(3, 5, 9)

	var s client.Spectator
	s.Spectate(3)

	next, ok := s.Cycle(list, 1)
	is.True(ok)
	is.Equal(next.ID, int32(5))
	is.Equal(s.Target(), int32(5))

	next, ok = s.Cycle(list, -2)
	is.True(ok)
	is.Equal(next.ID, int32(9))

	next, ok = s.Cycle(list, 1)
	is.True(ok)
	is.Equal(next.ID, int32(3))
}

func TestSpectatorNextStaysInBounds(t *testing.T) {
	is := is.New(t)

	deltas := []int{
		0, 1, -1, 2, -2, 3, -3, 7, -7, 1000, -1000,
		math.MaxInt, math.MinInt, math.MaxInt - 1, math.MinInt + 1,
	}
	for n := 1; n <= 5; n++ {
		list := make([]int32, 0, n)
		for i := 1; i <= n; i++ {
			list = append(list, int32(i))
		}
		for _, target := range append([]int32{42}, list...) {
			for _, delta := range deltas {
				var s client.Spectator
				s.Spectate(target)

				// panics on an out of range index
				next, ok := s.Next(players(list...), delta)
				if ok {
					is.True(next.ID != target)
				}
			}
		}
	}
}

func TestSpectatorNextNoop(t *testing.T) {
	is := is.New(t)

	var s client.Spectator

	_, ok := s.Next(players(3, 5), 1)
	is.True(!ok) // not spectating

	s.Spectate(3)
	_, ok = s.Next(nil, 1)
	is.True(!ok) // nobody to pick

	_, ok = s.Cycle(players(3), 1)
	is.True(!ok) // alone
	is.Equal(s.Target(), int32(3))

	_, ok = s.Next(players(3, 5), 2)
	is.True(!ok) // full circle
}

func TestSpectatorMissingTarget(t *testing.T) {
	is := is.New(t)

	var s client.Spectator
	s.Spectate(42)

	next, ok := s.Next(players(3, 5, 9), 1)
	is.True(ok)
	is.Equal(next.ID, int32(3))

	next, ok = s.Next(players(3, 5, 9), -1)
	is.True(ok)
	is.Equal(next.ID, int32(5))
}

func TestSpectatorStop(t *testing.T) {
	is := is.New(t)

	var s client.Spectator
	s.Spectate(3)
	s.Stop()

	is.True(!s.Spectating())
	is.Equal(s.Target(), int32(0))
}
