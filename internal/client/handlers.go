package client

import (
	"github.com/blukai/climbparty/internal/protocol"
	"github.com/blukai/climbparty/internal/transport"
)

// handler is the Client as seen by the transport. It keeps the notification
// methods off the Client's exported API.
type handler Client

var _ transport.Handler = (*handler)(nil)

func (h *handler) Connected(_ *transport.Conn, _ []byte) {
	c := (*Client)(h)
	if c.state != StateConnecting {
		c.logger.Error().
			Stringer("state", c.state).
			Msg("unexpected connected notification")
		return
	}
	c.transition(StateAwaitingHandshake)
	c.handshakeDeadline = c.now.Add(c.handshakeTimeout)
	c.logger.Debug().Msg("connected, awaiting handshake response")
}

func (h *handler) Disconnected(_ *transport.Conn, reason protocol.DisconnectReason, text string) {
	c := (*Client)(h)
	// queued events come out first, so the oldest belong to closed
	// connections
	if c.staleDisconnects > 0 {
		c.staleDisconnects--
		return
	}
	if c.state == StateDisconnected {
		return
	}

	d := ClassifyDisconnect(reason, text)
	c.logger.Info().
		Stringer("reason", reason).
		Str("text", text).
		Msg("disconnected")

	c.teardown(d)
}

func (h *handler) Received(_ *transport.Conn, typ protocol.MessageType, r *protocol.Reader) {
	c := (*Client)(h)

	msg, err := protocol.DecodeBody(typ, r)
	if err != nil {
		c.logger.Error().
			Msgf("could not decode message: %v", err)
		c.disconnect(protocol.ReasonInvalidMessage, "could not decode "+typ.String())
		return
	}

	c.logger.Debug().
		Stringer("type", typ).
		Msg("recv")

	switch m := msg.(type) {
	case *protocol.HandshakeResponse:
		c.handleHandshakeResponse(m)
	case *protocol.CreatePlayer:
		c.handleCreatePlayer(m)
	case *protocol.RemovePlayer:
		c.handleRemovePlayer(m)
	case *protocol.MoveData:
		c.handleMoveData(m)
	case *protocol.ChatMessage:
		c.handleChatMessage(m)
	case *protocol.SpectateTarget:
		c.handleSpectateTarget(m)
	default:
		c.logger.Error().
			Stringer("type", typ).
			Msg("ignoring client-bound message of a server-bound type")
	}
}

// handleHandshakeResponse is expected to run once, as the first message from
// the server. It carries the local id and everyone who is already there.
func (c *Client) handleHandshakeResponse(m *protocol.HandshakeResponse) {
	if c.state != StateAwaitingHandshake {
		c.logger.Error().
			Stringer("state", c.state).
			Msg("ignoring unexpected handshake response")
		return
	}
	if m.ID == 0 {
		c.logger.Error().Msg("handshake response without an id")
		c.disconnect(protocol.ReasonInvalidMessage, "handshake response without an id")
		return
	}

	c.id = m.ID
	c.name = m.Name
	c.serverInfo = m.ServerInfo
	c.registry.SetLocalID(m.ID)

	for _, entry := range m.Moves {
		if err := c.registry.Spawn(entry.ID, entry.Move, m.Names[entry.ID]); err != nil {
			c.logger.Error().
				Msgf("could not spawn player from handshake: %v", err)
		}
	}

	c.transition(StateReady)
	c.schedule.Reset()

	c.logger.Debug().
		Msgf("got id: %d and %d remote player(s)", m.ID, len(m.Moves))

	c.observer.SystemMessage("Connected to the server.", protocol.ColorGreen)
	c.observer.Connected(m.ServerInfo)
}

func (c *Client) handleCreatePlayer(m *protocol.CreatePlayer) {
	c.logger.Debug().
		Int32("id", m.ID).
		Msg("create player")

	if err := c.registry.Spawn(m.ID, m.Move, m.Name); err != nil {
		c.logger.Error().
			Msgf("CreatePlayer rejected: %v", err)
	}
}

func (c *Client) handleRemovePlayer(m *protocol.RemovePlayer) {
	if !c.registry.Remove(m.ID) {
		c.logger.Debug().
			Int32("id", m.ID).
			Msg("remove for unknown player")
	}
}

// handleMoveData applies moves in any state. The local player is never in the
// registry, so its entry is dropped along with unknown ids.
func (c *Client) handleMoveData(m *protocol.MoveData) {
	if !c.lastReceiveTime.IsZero() {
		c.lastReceiveDelta = c.now.Sub(c.lastReceiveTime)
	}
	c.lastReceiveTime = c.now

	for _, entry := range m.Moves {
		c.registry.ApplyMove(entry.ID, entry.Move)
	}
}

func (c *Client) handleChatMessage(m *protocol.ChatMessage) {
	c.observer.ChatMessage(ChatMessage{
		Name:  m.Name,
		Color: m.Color,
		Text:  m.Text,
	})
}

func (c *Client) handleSpectateTarget(m *protocol.SpectateTarget) {
	c.logger.Debug().
		Int32("id", m.ID).
		Msg("spectate")

	if m.ID == 0 {
		if c.spectator.Spectating() {
			c.spectator.Stop()
			c.observer.SpectateChanged(0)
		}
		return
	}

	if _, ok := c.registry.Get(m.ID); !ok {
		c.logger.Error().
			Msgf("could not find spectate target (%d)", m.ID)
		c.observer.SystemMessage(
			"Could not find spectate target. Disconnecting from server.",
			protocol.ColorRed,
		)
		c.disconnect(protocol.ReasonNone, "Disconnected because of unexpected client message handling error.")
		return
	}

	c.spectator.Spectate(m.ID)
	c.observer.SpectateChanged(m.ID)
}
