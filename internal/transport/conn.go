package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/blukai/climbparty/internal/protocol"
	"github.com/cespare/xxhash/v2"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInvalidChannel  = errors.New("invalid channel")
)

type DeliveryMethod uint8

const (
	_ DeliveryMethod = iota
	// UnreliableSequenced packets are never retransmitted, and a packet
	// older than the newest one received on its channel is dropped.
	UnreliableSequenced
	// ReliableOrdered packets are retransmitted until acknowledged and
	// released to the receiver in send order, exactly once, per channel.
	ReliableOrdered
)

func (m DeliveryMethod) valid() bool {
	return m == UnreliableSequenced || m == ReliableOrdered
}

func (m DeliveryMethod) String() string {
	switch m {
	case UnreliableSequenced:
		return "UnreliableSequenced"
	case ReliableOrdered:
		return "ReliableOrdered"
	}
	return fmt.Sprintf("DeliveryMethod(%d)", uint8(m))
}

// MethodFor picks the delivery method a message type travels with.
func MethodFor(t protocol.MessageType) DeliveryMethod {
	if t.Sequenced() {
		return UnreliableSequenced
	}
	return ReliableOrdered
}

type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

type addrKey uint64

func makeAddrKey(addr *net.UDPAddr) addrKey {
	return addrKey(xxhash.Sum64String(addr.String()))
}

// Conn is one end of a connection. All of its methods must be called from
// the goroutine that calls Peer.Update.
type Conn struct {
	peer *Peer
	addr *net.UDPAddr
	key  addrKey

	status Status

	// outgoing connection attempt
	hail            []byte
	startedAt       time.Time
	lastConnectSent time.Time

	lastRecv time.Time
	lastSend time.Time

	seqOut [protocol.ChannelCount]uint16
	seqIn  [protocol.ChannelCount]sequencedReceiver
	relOut [protocol.ChannelCount]*reliableSender
	relIn  [protocol.ChannelCount]*orderedReceiver
}

func newConn(p *Peer, addr *net.UDPAddr, status Status, now time.Time) *Conn {
	c := &Conn{
		peer:      p,
		addr:      addr,
		key:       makeAddrKey(addr),
		status:    status,
		startedAt: now,
		lastRecv:  now,
		lastSend:  now,
	}
	for i := range c.relOut {
		c.relOut[i] = newReliableSender()
		c.relIn[i] = newOrderedReceiver()
	}
	return c
}

func (c *Conn) RemoteAddr() *net.UDPAddr { return c.addr }
func (c *Conn) Status() Status           { return c.status }

func (c *Conn) String() string { return c.addr.String() }

// Send queues payload for delivery on channel. A payload is an encoded
// protocol message, type tag included.
func (c *Conn) Send(payload []byte, method DeliveryMethod, channel uint8) error {
	if c.status != StatusConnected {
		return ErrNotConnected
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if channel >= protocol.ChannelCount {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}

	now := c.peer.now()

	switch method {
	case UnreliableSequenced:
		seq := c.seqOut[channel]
		c.seqOut[channel]++
		return c.write(encodeData(method, channel, seq, payload), now)
	case ReliableOrdered:
		pkt, err := c.relOut[channel].push(now, func(seq uint16) []byte {
			return encodeData(method, channel, seq, payload)
		})
		if err != nil {
			return fmt.Errorf("could not queue reliable packet: %w", err)
		}
		return c.write(pkt.data, now)
	}
	return fmt.Errorf("unknown delivery method: %v", method)
}

// SendMessage encodes m and sends it with the delivery method and channel its
// type calls for.
func (c *Conn) SendMessage(m protocol.Message) error {
	return c.Send(protocol.Marshal(m), MethodFor(m.Type()), m.Type().Channel())
}

// Disconnect tells the remote end why the connection is going away and
// closes it locally. The disconnected notification is delivered by the next
// Peer.Update, carrying the same reason.
func (c *Conn) Disconnect(reason protocol.DisconnectReason, text string) {
	if c.status == StatusDisconnected {
		return
	}
	// best effort, there is nobody left to retransmit it
	_ = c.write(encodeDisconnect(reason, text), c.peer.now())
	c.peer.drop(c)
	c.peer.queue(event{conn: c, reason: reason, text: text})
}

func (c *Conn) write(data []byte, now time.Time) error {
	c.lastSend = now
	if err := c.peer.writeTo(data, c.addr); err != nil {
		return fmt.Errorf("could not write to %s: %w", c.addr, err)
	}
	return nil
}
