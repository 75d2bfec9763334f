package client_test

import (
	"bytes"

	"github.com/blukai/climbparty/internal/client"
	"github.com/blukai/climbparty/internal/protocol"
	"github.com/blukai/climbparty/internal/transport"
	"github.com/phuslu/log"
)

type sent struct {
	msg     protocol.Message
	method  transport.DeliveryMethod
	channel uint8
}

type disconnect struct {
	reason protocol.DisconnectReason
	text   string
}

// fakeTransport queues notifications and hands them out on Update, like the
// real peer does.
type fakeTransport struct {
	connects    int
	hail        []byte
	connectErr  error
	sent        []sent
	disconnects []disconnect
	queued      []func(h transport.Handler)
}

var _ client.Transport = (*fakeTransport)(nil)

func (f *fakeTransport) Connect(_ string, _ int, hail []byte) error {
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.hail = hail
	return nil
}

func (f *fakeTransport) Send(payload []byte, method transport.DeliveryMethod, channel uint8) error {
	m, err := protocol.Unmarshal(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sent{msg: m, method: method, channel: channel})
	return nil
}

func (f *fakeTransport) Update(h transport.Handler) {
	queued := f.queued
	f.queued = nil
	for _, fn := range queued {
		fn(h)
	}
}

func (f *fakeTransport) Disconnect(reason protocol.DisconnectReason, text string) {
	f.disconnects = append(f.disconnects, disconnect{reason: reason, text: text})
	f.drop(reason, text)
}

func (f *fakeTransport) accept() {
	f.queued = append(f.queued, func(h transport.Handler) { h.Connected(nil, nil) })
}

func (f *fakeTransport) drop(reason protocol.DisconnectReason, text string) {
	f.queued = append(f.queued, func(h transport.Handler) { h.Disconnected(nil, reason, text) })
}

func (f *fakeTransport) deliverBytes(data []byte) {
	f.queued = append(f.queued, func(h transport.Handler) {
		r := protocol.NewReader(data)
		typ, err := r.ReadMessageType()
		if err != nil {
			panic(err)
		}
		h.Received(nil, typ, r)
	})
}

func (f *fakeTransport) deliver(m protocol.Message) {
	f.deliverBytes(protocol.Marshal(m))
}

func (f *fakeTransport) moves() []protocol.MoveTable {
	var out []protocol.MoveTable
	for _, s := range f.sent {
		if m, ok := s.msg.(*protocol.MoveData); ok {
			out = append(out, m.Moves)
		}
	}
	return out
}

type staticMove protocol.PlayerMove

func (m staticMove) CreateMove() protocol.PlayerMove { return protocol.PlayerMove(m) }

type recordingObserver struct {
	client.NopObserver

	joined       []int32
	left         []int32
	chat         []client.ChatMessage
	system       []string
	spectate     []int32
	connected    []protocol.ServerInfo
	disconnected []client.Disconnect
}

func (o *recordingObserver) PlayerJoined(p *client.RemotePlayer) { o.joined = append(o.joined, p.ID) }
func (o *recordingObserver) PlayerLeft(p *client.RemotePlayer)   { o.left = append(o.left, p.ID) }
func (o *recordingObserver) ChatMessage(m client.ChatMessage)    { o.chat = append(o.chat, m) }
func (o *recordingObserver) SpectateChanged(id int32)            { o.spectate = append(o.spectate, id) }

func (o *recordingObserver) SystemMessage(text string, _ protocol.Color) {
	o.system = append(o.system, text)
}

func (o *recordingObserver) Connected(info protocol.ServerInfo) {
	o.connected = append(o.connected, info)
}

func (o *recordingObserver) Disconnected(d client.Disconnect) {
	o.disconnected = append(o.disconnected, d)
}

func bufferLogger(buf *bytes.Buffer) *log.Logger {
	logger := log.DefaultLogger
	logger.Level = log.DebugLevel
	logger.Writer = &log.IOWriter{Writer: buf}
	return &logger
}
