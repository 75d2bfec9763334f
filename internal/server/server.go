// Package server is the authoritative side of the protocol: it accepts hails,
// hands out ids, relays spawns, chat and spectator changes, and rebroadcasts
// movement at a fixed rate.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/blukai/climbparty/internal/protocol"
	"github.com/blukai/climbparty/internal/serverconfig"
	"github.com/blukai/climbparty/internal/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

const ShutdownReason = "server is shutting down"

type Config struct {
	Name       string
	MaxPlayers int
	// TickRate defaults to protocol.UpdateRate.
	TickRate int
	// FrameRate is how often the transport is pumped. Defaults to twice the
	// tick rate.
	FrameRate int
	// RequireAuth rejects hails without an auth ticket.
	RequireAuth bool
}

func (cfg Config) withDefaults() Config {
	if cfg.Name == "" {
		cfg.Name = "climbparty"
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = 16
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = protocol.UpdateRate
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 2 * cfg.TickRate
	}
	return cfg
}

type player struct {
	conn    *transport.Conn
	id      int32
	name    string
	steamID uint64
	move    protocol.PlayerMove
	// moved is set when move changed since the last broadcast
	moved bool
	// spectating is the id of the spectated player, 0 when playing
	spectating int32
}

func (p *player) String() string {
	return fmt.Sprintf("%s (%d, %s)", p.name, p.id, p.conn)
}

type Server struct {
	peer   *transport.Peer
	logger *log.Logger
	cfg    Config
	// bans may be nil
	bans *serverconfig.Config

	players map[*transport.Conn]*player
	byID    map[int32]*player
	lastID  int32

	tickInterval  time.Duration
	nextBroadcast time.Time
	now           time.Time
}

func New(network, address string, cfg Config, bans *serverconfig.Config, logger *log.Logger) (*Server, error) {
	cfg = cfg.withDefaults()

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	peer, err := transport.NewPeer(network, address, transport.Config{
		Accept:         true,
		MaxConnections: cfg.MaxPlayers,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("could not construct peer: %w", err)
	}

	s := &Server{
		peer:   peer,
		logger: logger,
		cfg:    cfg,
		bans:   bans,

		players: make(map[*transport.Conn]*player),
		byID:    make(map[int32]*player),

		tickInterval: time.Second / time.Duration(cfg.TickRate),
	}
	return s, nil
}

// Addr can be useful to retrieve server's address when Server was
// constructed with ":0".
func (s *Server) Addr() *net.UDPAddr {
	return s.peer.Addr()
}

func (s *Server) Info() protocol.ServerInfo {
	return protocol.ServerInfo{
		Name:       s.cfg.Name,
		Players:    int32(len(s.byID)),
		MaxPlayers: int32(s.cfg.MaxPlayers),
		Version:    protocol.Version,
	}
}

// Run pumps the transport until ctx is done. On the way out every player is
// disconnected with ShutdownReason.
func (s *Server) Run(ctx context.Context) error {
	wg := &sync.WaitGroup{}

	peerCtx, cancelPeer := context.WithCancel(context.Background())
	defer cancelPeer()

	wg.Add(1)
	var peerRunErr error
	go func() {
		defer wg.Done()
		peerRunErr = s.peer.Run(peerCtx)
	}()

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FrameRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			cancelPeer()
			wg.Wait()
			return peerRunErr
		case now := <-ticker.C:
			s.Update(now)
		}
	}
}

// Update processes everything received since the previous call and, when a
// tick is due, broadcasts movement.
func (s *Server) Update(now time.Time) {
	s.now = now
	s.peer.Update((*handler)(s))

	if s.nextBroadcast.IsZero() {
		s.nextBroadcast = now
	}
	if now.Before(s.nextBroadcast) {
		return
	}
	s.nextBroadcast = s.nextBroadcast.Add(s.tickInterval)
	if !s.nextBroadcast.After(now) {
		s.nextBroadcast = now.Add(s.tickInterval)
	}

	if err := s.broadcastMoves(); err != nil {
		s.logger.Error().
			Msgf("could not broadcast moves: %v", err)
	}
}

func (s *Server) shutdown() {
	players := s.sorted()
	// nobody is left to be told about the others leaving
	clear(s.players)
	clear(s.byID)
	for _, p := range players {
		p.conn.Disconnect(protocol.ReasonNone, ShutdownReason)
	}
	s.logger.Info().
		Int("players", len(players)).
		Msg("server shut down")
}

// sorted returns the players ordered by id.
func (s *Server) sorted() []*player {
	players := make([]*player, 0, len(s.byID))
	for _, p := range s.byID {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].id < players[j].id })
	return players
}

func (s *Server) nextID() int32 {
	for {
		s.lastID++
		if s.lastID <= 0 {
			s.lastID = 1
		}
		if _, ok := s.byID[s.lastID]; !ok {
			return s.lastID
		}
	}
}

// uniqueName appends a counter to name if somebody else already uses it.
func (s *Server) uniqueName(name string) string {
	taken := func(candidate string) bool {
		for _, p := range s.byID {
			if p.name == candidate {
				return true
			}
		}
		return false
	}
	if !taken(name) {
		return name
	}
	for n := 2; ; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		base := []rune(name)
		if len(base)+len([]rune(suffix)) > protocol.MaxNameLength {
			base = base[:protocol.MaxNameLength-len([]rune(suffix))]
		}
		candidate := string(base) + suffix
		if !taken(candidate) {
			return candidate
		}
	}
}

func (s *Server) send(p *player, m protocol.Message) error {
	if err := p.conn.SendMessage(m); err != nil {
		return fmt.Errorf("could not send %s to %s: %w", m.Type(), p, err)
	}
	return nil
}

// broadcast sends m to every player except the one with id except.
func (s *Server) broadcast(m protocol.Message, except int32) error {
	payload := protocol.Marshal(m)
	method := transport.MethodFor(m.Type())
	channel := m.Type().Channel()

	var errs error
	for _, p := range s.sorted() {
		// don't send to the sender
		if p.id == except {
			continue
		}

		if err := p.conn.Send(payload, method, channel); err != nil {
			s.logger.Error().
				Msgf("could not send %s to %s: %v", m.Type(), p, err)

			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// broadcastMoves sends every recipient the moves that changed since the
// previous tick, minus its own.
func (s *Server) broadcastMoves() error {
	var moves protocol.MoveTable
	for _, p := range s.sorted() {
		if p.moved && p.spectating == 0 {
			moves = append(moves, protocol.MoveEntry{ID: p.id, Move: p.move})
		}
		p.moved = false
	}
	if len(moves) == 0 {
		return nil
	}

	var errs error
	for _, p := range s.sorted() {
		table := make(protocol.MoveTable, 0, len(moves))
		for _, entry := range moves {
			if entry.ID != p.id {
				table = append(table, entry)
			}
		}
		if len(table) == 0 {
			continue
		}
		if err := s.send(p, &protocol.MoveData{Moves: table}); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}
