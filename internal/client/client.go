// Package client keeps a game client in sync with a server: it drives the
// connection lifecycle, dispatches server messages, maintains the registry of
// remote players and sends the local player's movement at a fixed rate.
//
// A Client is not safe for concurrent use. Everything happens inside the
// caller's calls to Update, once per frame.
package client

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/blukai/climbparty/internal/auth"
	"github.com/blukai/climbparty/internal/debug"
	"github.com/blukai/climbparty/internal/protocol"
	"github.com/blukai/climbparty/internal/transport"
	"github.com/phuslu/log"
)

var (
	ErrInvalidName     = errors.New("invalid player name")
	ErrNotDisconnected = errors.New("client is not disconnected")
	ErrNotReady        = errors.New("client has no accepted connection")
)

// Transport is the part of transport.Peer the client uses.
type Transport interface {
	Connect(address string, port int, hail []byte) error
	Send(payload []byte, method transport.DeliveryMethod, channel uint8) error
	Update(h transport.Handler)
	Disconnect(reason protocol.DisconnectReason, text string)
}

var _ Transport = (*transport.Peer)(nil)

// MoveSource produces the local player's current move.
type MoveSource interface {
	CreateMove() protocol.PlayerMove
}

type Options struct {
	Logger   *log.Logger
	Observer Observer
	// Auth is optional. Without it hails go out without a ticket.
	Auth auth.Provider
	// TickRate defaults to protocol.UpdateRate.
	TickRate int
	// HandshakeTimeout bounds the wait for the handshake response once the
	// transport is connected. Defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

const DefaultHandshakeTimeout = 5 * time.Second

type Client struct {
	transport Transport
	local     MoveSource

	logger   *log.Logger
	observer Observer
	auth     auth.Provider

	state  State
	id     int32
	name   string
	ticket auth.Ticket

	registry  *Registry
	spectator Spectator
	schedule  *Schedule

	handshakeTimeout  time.Duration
	handshakeDeadline time.Time
	// disconnected notifications still queued in the transport for
	// connections Close already tore down
	staleDisconnects int

	serverInfo           protocol.ServerInfo
	lastDisconnectReason string
	lastReceiveTime      time.Time
	lastReceiveDelta     time.Duration

	// time of the Update in progress
	now time.Time
}

func New(t Transport, local MoveSource, opts Options) *Client {
	debug.Assert(t != nil && local != nil)

	logger := opts.Logger
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	tickRate := opts.TickRate
	if tickRate <= 0 {
		tickRate = protocol.UpdateRate
	}
	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}

	return &Client{
		transport: t,
		local:     local,

		logger:   logger,
		observer: observer,
		auth:     opts.Auth,

		registry: NewRegistry(observer),
		schedule: NewSchedule(tickRate),

		handshakeTimeout: handshakeTimeout,
	}
}

func (c *Client) State() State                    { return c.state }
func (c *Client) ID() int32                       { return c.id }
func (c *Client) Name() string                    { return c.name }
func (c *Client) ServerInfo() protocol.ServerInfo { return c.serverInfo }
func (c *Client) Registry() *Registry             { return c.registry }
func (c *Client) Spectator() *Spectator           { return &c.spectator }

// LastDisconnectReason is the user facing reason of the most recent
// disconnect. It is empty after a clean one.
func (c *Client) LastDisconnectReason() string { return c.lastDisconnectReason }

// LastReceiveDelta is the time between the two most recent movement updates
// from the server.
func (c *Client) LastReceiveDelta() time.Duration { return c.lastReceiveDelta }

func (c *Client) transition(to State) {
	debug.Assert(c.state.canTransition(to), fmt.Sprintf("invalid transition %s -> %s", c.state, to))

	c.logger.Debug().
		Stringer("from", c.state).
		Stringer("to", to).
		Msg("state")
	c.state = to
}

// Connect starts connecting to address:port as name. Nothing is sent when the
// name is blank or breaks the name rules.
func (c *Client) Connect(address string, port int, name string) error {
	name, err := protocol.ValidateName(name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidName, err)
	}
	if c.state != StateDisconnected {
		return ErrNotDisconnected
	}

	hail := &protocol.HandshakeHail{
		Version: protocol.Version,
		Name:    name,
		Move:    c.local.CreateMove(),
	}

	if c.auth != nil {
		ticket, err := c.auth.Ticket()
		if err != nil {
			return fmt.Errorf("could not get auth ticket: %w", err)
		}
		c.ticket = ticket
		hail.Auth = &protocol.AuthTicket{
			Data:       ticket.Data(),
			PlatformID: c.auth.PlatformID(),
		}
	}

	if err := c.transport.Connect(address, port, protocol.Marshal(hail)); err != nil {
		c.cancelTicket()
		return fmt.Errorf("could not connect: %w", err)
	}

	c.name = name
	c.lastDisconnectReason = ""
	c.transition(StateConnecting)

	c.logger.Debug().
		Str("address", address).
		Int("port", port).
		Msg("connecting")

	return nil
}

// Disconnect closes the connection cleanly. The disconnected notification
// follows in a later Update.
func (c *Client) Disconnect() {
	c.disconnect(protocol.ReasonNone, protocol.ByeReason)
}

func (c *Client) disconnect(reason protocol.DisconnectReason, text string) {
	switch c.state {
	case StateConnecting, StateAwaitingHandshake, StateReady:
		c.transition(StateDisconnecting)
		c.transport.Disconnect(reason, text)
	}
}

// Close disconnects if needed and tears everything down right away, without
// waiting for the transport's notification.
func (c *Client) Close() {
	if c.state.live() {
		if c.state != StateDisconnecting {
			c.transition(StateDisconnecting)
			c.transport.Disconnect(protocol.ReasonNone, protocol.ByeReason)
		}
		// the transport reports this connection's end in a later Update,
		// possibly after a new Connect
		c.staleDisconnects++
		c.teardown(ClassifyDisconnect(protocol.ReasonNone, protocol.ByeReason))
	}
	c.cancelTicket()
	c.registry.Clear()
}

// Update completes spawns deferred by the previous Update, dispatches
// everything the transport has received and sends the local move if one is
// due.
func (c *Client) Update(now time.Time) {
	c.now = now

	c.registry.Flush()
	c.transport.Update((*handler)(c))
	c.checkHandshakeDeadline(now)
	c.sendMove(now)
}

func (c *Client) checkHandshakeDeadline(now time.Time) {
	if c.state != StateAwaitingHandshake || now.Before(c.handshakeDeadline) {
		return
	}
	c.logger.Error().
		Dur("timeout", c.handshakeTimeout).
		Msg("no handshake response")
	c.disconnect(protocol.ReasonHandshakeTimeout, "")
}

func (c *Client) sendMove(now time.Time) {
	if c.state != StateReady || c.id == 0 || c.spectator.Spectating() {
		return
	}
	if !c.schedule.Due(now) {
		return
	}

	msg := &protocol.MoveData{
		Moves: protocol.MoveTable{{ID: c.id, Move: c.local.CreateMove()}},
	}
	if err := c.send(msg); err != nil {
		c.logger.Error().
			Msgf("could not send move: %v", err)
	}
}

func (c *Client) send(m protocol.Message) error {
	return c.transport.Send(protocol.Marshal(m), transport.MethodFor(m.Type()), m.Type().Channel())
}

func (c *Client) requireReady() error {
	if c.state != StateReady {
		return ErrNotReady
	}
	return nil
}

// SendChatMessage sends text to everyone. The server fills in who said it.
func (c *Client) SendChatMessage(text string) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) > protocol.MaxStringLength {
		n := protocol.MaxStringLength
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}
	return c.send(&protocol.ChatMessage{Name: c.name, Color: protocol.ColorWhite, Text: text})
}

// SendSpectate asks the server to spectate id. The spectator follows once the
// server confirms with a SpectateTarget of its own.
func (c *Client) SendSpectate(id int32) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if _, ok := c.registry.Get(id); !ok {
		return fmt.Errorf("could not spectate %d: %w", id, ErrInvalidID)
	}
	return c.send(&protocol.SpectateTarget{ID: id})
}

func (c *Client) SendStopSpectating() error {
	if err := c.requireReady(); err != nil {
		return err
	}
	return c.send(&protocol.ClientStopSpectating{})
}

// SendSwitchSpectateTarget asks to spectate the player delta positions away
// from the current target. Nothing is sent when not spectating or when that
// player is the current target.
func (c *Client) SendSwitchSpectateTarget(delta int) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	next, ok := c.spectator.Next(c.registry.All(), delta)
	if !ok {
		return nil
	}
	return c.send(&protocol.SpectateTarget{ID: next.ID})
}

func (c *Client) cancelTicket() {
	if c.ticket == nil {
		return
	}
	c.ticket.Cancel()
	c.ticket = nil
}

// teardown runs on every way out of a connection.
func (c *Client) teardown(d Disconnect) {
	c.transition(StateDisconnected)

	c.cancelTicket()
	c.id = 0
	c.registry.SetLocalID(0)
	c.registry.Clear()
	if c.spectator.Spectating() {
		c.spectator.Stop()
		c.observer.SpectateChanged(0)
	}
	c.schedule.Reset()
	c.lastReceiveTime = time.Time{}

	c.lastDisconnectReason = d.Message

	c.observer.SystemMessage(d.Notice(), protocol.ColorRed)
	c.observer.Disconnected(d)
}
