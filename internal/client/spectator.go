package client

// Spectator tracks whom the local player is spectating. The target is a
// registry key, not a reference: a target that left the registry is simply
// not found.
type Spectator struct {
	target     int32
	spectating bool
}

func (s *Spectator) Spectate(id int32) {
	s.target = id
	s.spectating = true
}

func (s *Spectator) Stop() {
	s.target = 0
	s.spectating = false
}

func (s *Spectator) Spectating() bool { return s.spectating }
func (s *Spectator) Target() int32    { return s.target }

// Next picks the player delta positions away from the current target in
// players, wrapping around in both directions. It reports false when not
// spectating, when there is nobody to pick, or when the pick is the current
// target. A target missing from players counts as sitting right before the
// first one.
func (s *Spectator) Next(players []*RemotePlayer, delta int) (*RemotePlayer, bool) {
	if !s.spectating || len(players) == 0 {
		return nil, false
	}

	current := -1
	for i, p := range players {
		if p.ID == s.target {
			current = i
			break
		}
	}

	n := len(players)
	// reduce both terms first so that huge deltas can't overflow
	index := (current%n + delta%n) % n
	if index < 0 {
		index += n
	}

	next := players[index]
	if next.ID == s.target {
		return nil, false
	}
	return next, true
}

// Cycle is Next followed by retargeting.
func (s *Spectator) Cycle(players []*RemotePlayer, delta int) (*RemotePlayer, bool) {
	next, ok := s.Next(players, delta)
	if ok {
		s.Spectate(next.ID)
	}
	return next, ok
}
