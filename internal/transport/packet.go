package transport

import (
	"errors"
	"fmt"

	"github.com/blukai/climbparty/internal/byteorder"
	"github.com/blukai/climbparty/internal/protocol"
	"github.com/cespare/xxhash/v2"
)

// every datagram starts with the application id followed by the packet kind:
//
//	appID   uint32
//	kind    uint8
//	...
//
// connect:    hail...
// data:       method uint8, channel uint8, seq uint16, payload...
// ack:        channel uint8, seq uint16
// disconnect: reason uint8, text length uint16, text...
const (
	packetHeaderSize = 4 + 1
	dataHeaderSize   = packetHeaderSize + 1 + 1 + 2
	ackSize          = packetHeaderSize + 1 + 2

	// MaxPacketSize is the largest datagram the transport sends or accepts.
	MaxPacketSize  = 8 << 10
	MaxPayloadSize = MaxPacketSize - dataHeaderSize
)

type packetKind uint8

const (
	_ packetKind = iota
	packetConnect
	packetConnectAck
	packetData
	packetAck
	packetPing
	packetPong
	packetDisconnect
)

var appID = uint32(xxhash.Sum64String(protocol.AppIdentifier))

var errBadPacket = errors.New("bad packet")

func appendHeader(dst []byte, kind packetKind) []byte {
	dst = byteorder.PutHtonl(dst, appID)
	return append(dst, byte(kind))
}

func encodeControl(kind packetKind) []byte {
	return appendHeader(make([]byte, 0, packetHeaderSize), kind)
}

func encodeConnect(hail []byte) []byte {
	buf := appendHeader(make([]byte, 0, packetHeaderSize+len(hail)), packetConnect)
	return append(buf, hail...)
}

func encodeData(method DeliveryMethod, channel uint8, seq uint16, payload []byte) []byte {
	buf := appendHeader(make([]byte, 0, dataHeaderSize+len(payload)), packetData)
	buf = append(buf, byte(method), channel)
	buf = byteorder.PutHtons(buf, seq)
	return append(buf, payload...)
}

func encodeAck(channel uint8, seq uint16) []byte {
	buf := appendHeader(make([]byte, 0, ackSize), packetAck)
	buf = append(buf, channel)
	return byteorder.PutHtons(buf, seq)
}

func encodeDisconnect(reason protocol.DisconnectReason, text string) []byte {
	if len(text) > protocol.MaxStringLength {
		text = text[:protocol.MaxStringLength]
	}
	buf := appendHeader(make([]byte, 0, packetHeaderSize+3+len(text)), packetDisconnect)
	buf = append(buf, byte(reason))
	buf = byteorder.PutHtons(buf, uint16(len(text)))
	return append(buf, text...)
}

// parseHeader validates the application id and returns the packet kind and
// the rest of the datagram.
func parseHeader(data []byte) (packetKind, []byte, error) {
	if len(data) < packetHeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", errBadPacket, len(data))
	}
	if id := byteorder.Ntohl(data[0:4]); id != appID {
		return 0, nil, fmt.Errorf("%w: foreign app id %08x", errBadPacket, id)
	}
	return packetKind(data[4]), data[packetHeaderSize:], nil
}

type dataHeader struct {
	method  DeliveryMethod
	channel uint8
	seq     uint16
}

func parseData(body []byte) (dataHeader, []byte, error) {
	if len(body) < dataHeaderSize-packetHeaderSize {
		return dataHeader{}, nil, fmt.Errorf("%w: short data packet", errBadPacket)
	}
	h := dataHeader{
		method:  DeliveryMethod(body[0]),
		channel: body[1],
		seq:     byteorder.Ntohs(body[2:4]),
	}
	if !h.method.valid() || h.channel >= protocol.ChannelCount {
		return dataHeader{}, nil, fmt.Errorf("%w: method %d channel %d", errBadPacket, h.method, h.channel)
	}
	return h, body[4:], nil
}

func parseAck(body []byte) (uint8, uint16, error) {
	if len(body) != ackSize-packetHeaderSize {
		return 0, 0, fmt.Errorf("%w: ack of %d bytes", errBadPacket, len(body))
	}
	if body[0] >= protocol.ChannelCount {
		return 0, 0, fmt.Errorf("%w: ack channel %d", errBadPacket, body[0])
	}
	return body[0], byteorder.Ntohs(body[1:3]), nil
}

func parseDisconnect(body []byte) (protocol.DisconnectReason, string, error) {
	if len(body) < 3 {
		return 0, "", fmt.Errorf("%w: short disconnect", errBadPacket)
	}
	n := int(byteorder.Ntohs(body[1:3]))
	if len(body)-3 < n {
		return 0, "", fmt.Errorf("%w: disconnect text cut off", errBadPacket)
	}
	return protocol.DisconnectReason(body[0]), string(body[3 : 3+n]), nil
}
