package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/blukai/climbparty/internal/debug"
	"github.com/blukai/climbparty/internal/protocol"
	"github.com/phuslu/log"
)

var ErrAlreadyConnected = errors.New("already connected")

// Handler receives the notifications surfaced by Peer.Update. Every call
// happens synchronously inside Update.
type Handler interface {
	// Connected fires once per connection. hail is the payload the remote
	// end connected with; it is nil for outgoing connections.
	Connected(c *Conn, hail []byte)
	Disconnected(c *Conn, reason protocol.DisconnectReason, text string)
	// Received fires for every delivered message. The message type has
	// already been read from r.
	Received(c *Conn, typ protocol.MessageType, r *protocol.Reader)
}

type Config struct {
	// Accept makes the peer accept incoming connections.
	Accept         bool
	MaxConnections int

	ConnectTimeout       time.Duration
	ConnectRetryInterval time.Duration
	ResendInterval       time.Duration
	PingInterval         time.Duration
	IdleTimeout          time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ConnectRetryInterval <= 0 {
		cfg.ConnectRetryInterval = 500 * time.Millisecond
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = 100 * time.Millisecond
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

type datagram struct {
	addr *net.UDPAddr
	data []byte
}

type event struct {
	conn   *Conn
	reason protocol.DisconnectReason
	text   string
}

// Peer owns a UDP socket. Run reads datagrams on its own goroutine and buffers
// them; Update processes them, retransmits, checks timeouts and fires the
// Handler. Everything except Run belongs to the goroutine calling Update.
type Peer struct {
	conn    *net.UDPConn
	readBuf []byte

	logger *log.Logger
	cfg    Config

	inbox chan datagram
	// disconnects initiated locally, fired by the next Update
	events []event

	conns map[addrKey]*Conn
	// the outgoing connection when used as a client
	server *Conn
}

func NewPeer(network, address string, cfg Config, logger *log.Logger) (*Peer, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not resolve udp addr: %w", err)
	}

	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen udp: %w", err)
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	p := &Peer{
		conn:    conn,
		readBuf: make([]byte, MaxPacketSize),

		logger: logger,
		cfg:    cfg.withDefaults(),

		inbox: make(chan datagram, 1024),

		conns: make(map[addrKey]*Conn),
	}

	return p, nil
}

// Addr can be useful to retrieve the peer's address when it was constructed
// with ":0".
func (p *Peer) Addr() *net.UDPAddr {
	return p.conn.LocalAddr().(*net.UDPAddr)
}

func (p *Peer) now() time.Time { return p.cfg.Now() }

func (p *Peer) runRecv(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := p.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			debug.Assert(err == nil)

			n, addr, err := p.conn.ReadFromUDP(p.readBuf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}

				p.logger.Error().
					Msgf("could not read from udp: %v", err)
				continue
			}

			data := make([]byte, n)
			copy(data, p.readBuf[:n])

			select {
			case p.inbox <- datagram{addr: addr, data: data}:
			default:
				p.logger.Error().
					Any("addr", addr).
					Msg("inbox is full, dropping datagram")
			}
		}
	}
}

// Run reads from the socket until ctx is done, then closes it.
func (p *Peer) Run(ctx context.Context) error {
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runRecv(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return p.conn.Close()
}

// Connect starts connecting to the server at address:port. hail is delivered
// to the server's Connected notification.
func (p *Peer) Connect(address string, port int, hail []byte) error {
	if p.server != nil {
		return ErrAlreadyConnected
	}
	if len(hail) > MaxPayloadSize {
		return fmt.Errorf("%w: hail of %d bytes", ErrPayloadTooLarge, len(hail))
	}

	network := "udp4"
	if p.Addr().IP.To4() == nil {
		network = "udp"
	}
	addr, err := net.ResolveUDPAddr(network, net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("could not resolve udp addr: %w", err)
	}

	now := p.now()
	c := newConn(p, addr, StatusConnecting, now)
	c.hail = hail
	c.lastConnectSent = now
	if err := c.write(encodeConnect(hail), now); err != nil {
		return err
	}

	p.conns[c.key] = c
	p.server = c

	p.logger.Debug().
		Any("addr", addr).
		Msg("connecting")

	return nil
}

// Status of the outgoing connection.
func (p *Peer) Status() Status {
	if p.server == nil {
		return StatusDisconnected
	}
	return p.server.status
}

// Send sends to the server of the outgoing connection.
func (p *Peer) Send(payload []byte, method DeliveryMethod, channel uint8) error {
	if p.server == nil {
		return ErrNotConnected
	}
	return p.server.Send(payload, method, channel)
}

// Disconnect closes the outgoing connection.
func (p *Peer) Disconnect(reason protocol.DisconnectReason, text string) {
	if p.server == nil {
		return
	}
	p.server.Disconnect(reason, text)
}

func (p *Peer) writeTo(data []byte, addr *net.UDPAddr) error {
	_, err := p.conn.WriteToUDP(data, addr)
	return err
}

func (p *Peer) drop(c *Conn) {
	c.status = StatusDisconnected
	delete(p.conns, c.key)
	if p.server == c {
		p.server = nil
	}
}

func (p *Peer) queue(ev event) {
	p.events = append(p.events, ev)
}

// Update pumps everything that happened since the previous call and delivers
// the resulting notifications to h.
func (p *Peer) Update(h Handler) {
	events := p.events
	p.events = nil
	for _, ev := range events {
		h.Disconnected(ev.conn, ev.reason, ev.text)
	}

	now := p.now()

	for drained := false; !drained; {
		select {
		case dg := <-p.inbox:
			p.handleDatagram(dg, now, h)
		default:
			drained = true
		}
	}

	for _, c := range p.conns {
		p.tick(c, now, h)
	}
}

func (p *Peer) handleDatagram(dg datagram, now time.Time, h Handler) {
	kind, body, err := parseHeader(dg.data)
	if err != nil {
		p.logger.Debug().
			Any("addr", dg.addr).
			Msgf("dropping datagram: %v", err)
		return
	}

	c, ok := p.conns[makeAddrKey(dg.addr)]

	if kind == packetConnect {
		p.handleConnect(c, dg.addr, body, now, h)
		return
	}
	if !ok {
		p.logger.Debug().
			Any("addr", dg.addr).
			Msgf("dropping packet %d from unknown peer", kind)
		return
	}
	c.lastRecv = now

	switch kind {
	case packetConnectAck:
		p.markConnected(c, h)
	case packetData:
		p.handleData(c, body, now, h)
	case packetAck:
		channel, seq, err := parseAck(body)
		if err != nil {
			p.logger.Debug().Msgf("dropping ack: %v", err)
			return
		}
		c.relOut[channel].ack(seq)
	case packetPing:
		_ = c.write(encodeControl(packetPong), now)
	case packetPong:
	case packetDisconnect:
		reason, text, err := parseDisconnect(body)
		if err != nil {
			p.logger.Debug().Msgf("malformed disconnect: %v", err)
			reason, text = protocol.ReasonNone, ""
		}
		p.drop(c)
		h.Disconnected(c, reason, text)
	default:
		p.logger.Debug().
			Any("addr", dg.addr).
			Msgf("dropping unknown packet kind %d", kind)
	}
}

func (p *Peer) handleConnect(c *Conn, addr *net.UDPAddr, hail []byte, now time.Time, h Handler) {
	if !p.cfg.Accept {
		return
	}
	if c != nil {
		// our ack got lost and the client retried
		c.lastRecv = now
		_ = c.write(encodeControl(packetConnectAck), now)
		return
	}
	if len(p.conns) >= p.cfg.MaxConnections {
		_ = p.writeTo(encodeDisconnect(protocol.ReasonNone, "server is full"), addr)
		return
	}

	c = newConn(p, addr, StatusConnected, now)
	p.conns[c.key] = c
	_ = c.write(encodeControl(packetConnectAck), now)

	p.logger.Debug().
		Any("addr", addr).
		Msg("accepted connection")

	h.Connected(c, append([]byte(nil), hail...))
}

func (p *Peer) markConnected(c *Conn, h Handler) {
	if c.status != StatusConnecting {
		return
	}
	c.status = StatusConnected
	c.hail = nil
	h.Connected(c, nil)
}

func (p *Peer) handleData(c *Conn, body []byte, now time.Time, h Handler) {
	header, payload, err := parseData(body)
	if err != nil {
		p.logger.Debug().Msgf("dropping data: %v", err)
		return
	}
	// the connect ack may have been lost while data already flows
	p.markConnected(c, h)
	if c.status != StatusConnected {
		return
	}

	switch header.method {
	case UnreliableSequenced:
		if !c.seqIn[header.channel].accept(header.seq) {
			return
		}
		p.deliver(c, payload, h)
	case ReliableOrdered:
		delivered, ack := c.relIn[header.channel].receive(header.seq, payload)
		if ack {
			_ = c.write(encodeAck(header.channel, header.seq), now)
		}
		for _, payload := range delivered {
			if c.status != StatusConnected {
				return
			}
			p.deliver(c, payload, h)
		}
	}
}

func (p *Peer) deliver(c *Conn, payload []byte, h Handler) {
	r := protocol.NewReader(payload)
	typ, err := r.ReadMessageType()
	if err != nil {
		p.logger.Error().
			Any("addr", c.addr).
			Msgf("could not decode message type: %v", err)
		c.Disconnect(protocol.ReasonInvalidMessage, err.Error())
		return
	}
	h.Received(c, typ, r)
}

func (p *Peer) tick(c *Conn, now time.Time, h Handler) {
	switch c.status {
	case StatusConnecting:
		if now.Sub(c.startedAt) >= p.cfg.ConnectTimeout {
			p.drop(c)
			h.Disconnected(c, protocol.ReasonHandshakeTimeout, "")
			return
		}
		if now.Sub(c.lastConnectSent) >= p.cfg.ConnectRetryInterval {
			c.lastConnectSent = now
			_ = c.write(encodeConnect(c.hail), now)
		}
	case StatusConnected:
		if now.Sub(c.lastRecv) >= p.cfg.IdleTimeout {
			_ = c.write(encodeDisconnect(protocol.ReasonNone, "timed out"), now)
			p.drop(c)
			h.Disconnected(c, protocol.ReasonNone, "connection timed out")
			return
		}
		for _, sender := range c.relOut {
			for _, pkt := range sender.due(now, p.cfg.ResendInterval) {
				if err := c.write(pkt.data, now); err != nil {
					p.logger.Error().
						Msgf("could not resend: %v", err)
				}
			}
		}
		if now.Sub(c.lastSend) >= p.cfg.PingInterval {
			_ = c.write(encodeControl(packetPing), now)
		}
	}
}
