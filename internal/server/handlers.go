package server

import (
	"errors"
	"strings"

	"github.com/blukai/climbparty/internal/protocol"
	"github.com/blukai/climbparty/internal/serverconfig"
	"github.com/blukai/climbparty/internal/transport"
	"github.com/hashicorp/go-multierror"
)

type handler Server

var _ transport.Handler = (*handler)(nil)

// rejection is a hail refused with reason and text.
type rejection struct {
	reason protocol.DisconnectReason
	text   string
}

func (h *handler) Connected(c *transport.Conn, hail []byte) {
	s := (*Server)(h)

	p, rej := s.accept(c, hail)
	if rej != nil {
		s.logger.Info().
			Any("addr", c.RemoteAddr()).
			Stringer("reason", rej.reason).
			Str("text", rej.text).
			Msg("rejected hail")
		c.Disconnect(rej.reason, rej.text)
		return
	}

	s.logger.Info().
		Any("addr", c.RemoteAddr()).
		Int32("id", p.id).
		Str("name", p.name).
		Msg("player joined")
}

// accept validates a hail and, if it passes, registers the player and brings
// everyone up to date.
func (s *Server) accept(c *transport.Conn, data []byte) (*player, *rejection) {
	msg, err := protocol.Unmarshal(data)
	if err != nil {
		return nil, &rejection{protocol.ReasonInvalidMessage, err.Error()}
	}
	hail, ok := msg.(*protocol.HandshakeHail)
	if !ok {
		return nil, &rejection{protocol.ReasonInvalidMessage, "expected a hail, got " + msg.Type().String()}
	}

	switch {
	case hail.Version > protocol.Version:
		return nil, &rejection{protocol.ReasonVersionNewer, ""}
	case hail.Version < protocol.Version:
		return nil, &rejection{protocol.ReasonVersionOlder, ""}
	}

	name, err := protocol.ValidateName(hail.Name)
	if err != nil {
		return nil, &rejection{protocol.ReasonInvalidName, err.Error()}
	}

	var steamID uint64
	if hail.Auth != nil {
		if len(hail.Auth.Data) == 0 || hail.Auth.PlatformID == 0 {
			return nil, &rejection{protocol.ReasonInvalidSession, ""}
		}
		steamID = hail.Auth.PlatformID
	} else if s.cfg.RequireAuth {
		return nil, &rejection{protocol.ReasonInvalidSession, ""}
	}

	if ban := s.findBan(c, steamID); ban != nil {
		return nil, &rejection{protocol.ReasonNone, ban.ReasonWithExpiration()}
	}

	p := &player{
		conn:    c,
		id:      s.nextID(),
		name:    s.uniqueName(name),
		steamID: steamID,
		move:    hail.Move,
	}

	others := s.sorted()
	response := &protocol.HandshakeResponse{
		ID:    p.id,
		Name:  p.name,
		Names: make(protocol.NameTable, len(others)),
	}
	for _, other := range others {
		if other.spectating != 0 {
			continue
		}
		response.Names[other.id] = other.name
		response.Moves = append(response.Moves, protocol.MoveEntry{ID: other.id, Move: other.move})
	}

	s.players[c] = p
	s.byID[p.id] = p
	response.ServerInfo = s.Info()

	if err := s.send(p, response); err != nil {
		s.logger.Error().Msgf("could not send handshake response: %v", err)
	}
	if err := s.broadcast(&protocol.CreatePlayer{ID: p.id, Name: p.name, Move: p.move}, p.id); err != nil {
		s.logger.Error().Msgf("could not announce %s: %v", p, err)
	}
	return p, nil
}

// findBan returns the active ban covering the connection, dropping expired
// ones it comes across.
func (s *Server) findBan(c *transport.Conn, steamID uint64) *serverconfig.PlayerBan {
	if s.bans == nil {
		return nil
	}
	ip, _ := serverconfig.IPFromAddr(c.RemoteAddr().AddrPort().Addr())

	ban := s.bans.FindBan(ip, steamID)
	if ban == nil {
		return nil
	}
	if ban.Expired(s.now) {
		if n := s.bans.RemoveExpired(s.now); n > 0 {
			s.logger.Info().Msgf("removed %d expired ban(s)", n)
			s.bans.Save()
		}
		return s.bans.FindBan(ip, steamID)
	}
	return ban
}

func (h *handler) Disconnected(c *transport.Conn, reason protocol.DisconnectReason, text string) {
	s := (*Server)(h)

	p, ok := s.players[c]
	if !ok {
		return
	}
	delete(s.players, c)
	delete(s.byID, p.id)

	s.logger.Info().
		Int32("id", p.id).
		Stringer("reason", reason).
		Str("text", text).
		Msg("player left")

	if p.spectating == 0 {
		if err := s.broadcast(&protocol.RemovePlayer{ID: p.id}, p.id); err != nil {
			s.logger.Error().Msgf("could not announce %s leaving: %v", p, err)
		}
		s.releaseSpectators(p.id)
	}
}

func (h *handler) Received(c *transport.Conn, typ protocol.MessageType, r *protocol.Reader) {
	s := (*Server)(h)

	p, ok := s.players[c]
	if !ok {
		c.Disconnect(protocol.ReasonNotAccepted, "")
		return
	}

	msg, err := protocol.DecodeBody(typ, r)
	if err != nil {
		s.logger.Error().
			Msgf("could not decode message from %s: %v", p, err)
		c.Disconnect(protocol.ReasonInvalidMessage, err.Error())
		return
	}

	s.logger.Debug().
		Stringer("type", typ).
		Int32("id", p.id).
		Msg("recv")

	switch m := msg.(type) {
	case *protocol.HandshakeHail:
		c.Disconnect(protocol.ReasonDuplicateHandshake, "")
	case *protocol.MoveData:
		s.handleMoveData(p, m)
	case *protocol.ChatMessage:
		err = s.handleChatMessage(p, m)
	case *protocol.SpectateTarget:
		err = s.handleSpectateTarget(p, m)
	case *protocol.ClientStopSpectating:
		err = s.stopSpectating(p)
	default:
		c.Disconnect(protocol.ReasonInvalidMessage, "unexpected "+typ.String())
	}

	if err != nil {
		s.logger.Error().
			Msgf("error handling message (player: %s; type: %s): %v", p, typ, err)
	}
}

// handleMoveData takes the sender's own entry and ignores the rest.
func (s *Server) handleMoveData(p *player, m *protocol.MoveData) {
	if p.spectating != 0 {
		return
	}
	move, ok := m.Moves.Get(p.id)
	if !ok {
		return
	}
	p.move = move
	p.moved = true
}

// handleChatMessage relays text under the sender's name. Players with an
// access level speak in green.
func (s *Server) handleChatMessage(p *player, m *protocol.ChatMessage) error {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil
	}

	color := protocol.ColorWhite
	if s.bans != nil && s.bans.HasAccess(p.steamID) {
		color = protocol.ColorGreen
	}

	s.logger.Info().
		Str("name", p.name).
		Msg(text)

	return s.broadcast(&protocol.ChatMessage{Name: p.name, Color: color, Text: text}, 0)
}

var (
	errSpectateSelf      = errors.New("can't spectate yourself")
	errSpectateUnknown   = errors.New("no such player")
	errSpectateSpectator = errors.New("target is spectating")
)

func (s *Server) handleSpectateTarget(p *player, m *protocol.SpectateTarget) error {
	if m.ID == 0 {
		return s.stopSpectating(p)
	}

	target, ok := s.byID[m.ID]
	switch {
	case m.ID == p.id:
		return errSpectateSelf
	case !ok:
		return errSpectateUnknown
	case target.spectating != 0:
		return errSpectateSpectator
	}

	var errs error
	if p.spectating == 0 {
		// a spectator is invisible to everyone else
		errs = s.broadcast(&protocol.RemovePlayer{ID: p.id}, p.id)
		s.releaseSpectators(p.id)
	}
	p.spectating = target.id
	p.moved = false

	if err := s.send(p, &protocol.SpectateTarget{ID: target.id}); err != nil {
		return multierror.Append(errs, err)
	}
	return errs
}

func (s *Server) stopSpectating(p *player) error {
	if p.spectating == 0 {
		return nil
	}
	p.spectating = 0

	errs := s.broadcast(&protocol.CreatePlayer{ID: p.id, Name: p.name, Move: p.move}, p.id)
	if err := s.send(p, &protocol.SpectateTarget{ID: 0}); err != nil {
		return multierror.Append(errs, err)
	}
	return errs
}

// releaseSpectators stops everybody spectating id, which has just vanished.
func (s *Server) releaseSpectators(id int32) {
	for _, other := range s.sorted() {
		if other.spectating != id {
			continue
		}
		if err := s.stopSpectating(other); err != nil {
			s.logger.Error().
				Msgf("could not release spectator %s: %v", other, err)
		}
	}
}
