package protocol

import (
	"fmt"
)

// Message is one wire message variant. Encode writes the body only; the type
// tag is written by Marshal.
type Message interface {
	Type() MessageType
	Encode(w *Writer)
	Decode(r *Reader) error
}

var (
	_ Message = (*HandshakeHail)(nil)
	_ Message = (*HandshakeResponse)(nil)
	_ Message = (*CreatePlayer)(nil)
	_ Message = (*RemovePlayer)(nil)
	_ Message = (*MoveData)(nil)
	_ Message = (*ChatMessage)(nil)
	_ Message = (*SpectateTarget)(nil)
	_ Message = (*ClientStopSpectating)(nil)
)

// Marshal writes the type tag followed by the message body.
func Marshal(m Message) []byte {
	w := NewWriter()
	w.WriteMessageType(m.Type())
	m.Encode(w)
	return w.Bytes()
}

func newMessage(t MessageType) (Message, error) {
	switch t {
	case MessageTypeHandshakeHail:
		return &HandshakeHail{}, nil
	case MessageTypeHandshakeResponse:
		return &HandshakeResponse{}, nil
	case MessageTypeCreatePlayer:
		return &CreatePlayer{}, nil
	case MessageTypeRemovePlayer:
		return &RemovePlayer{}, nil
	case MessageTypeMoveData:
		return &MoveData{}, nil
	case MessageTypeChatMessage:
		return &ChatMessage{}, nil
	case MessageTypeSpectateTarget:
		return &SpectateTarget{}, nil
	case MessageTypeClientStopSpectating:
		return &ClientStopSpectating{}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, uint8(t))
}

// DecodeBody decodes the body of a message whose tag was already read.
func DecodeBody(t MessageType, r *Reader) (Message, error) {
	m, err := newMessage(t)
	if err != nil {
		return nil, err
	}
	if err := m.Decode(r); err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", t, err)
	}
	return m, nil
}

// Unmarshal decodes a tagged message.
func Unmarshal(data []byte) (Message, error) {
	r := NewReader(data)
	t, err := r.ReadMessageType()
	if err != nil {
		return nil, err
	}
	return DecodeBody(t, r)
}

// AuthTicket is the optional platform authentication blob of a hail.
type AuthTicket struct {
	Data       []byte
	PlatformID uint64
}

// HandshakeHail travels with the transport's connect request.
type HandshakeHail struct {
	Version int32
	Name    string
	Move    PlayerMove
	// Auth is nil when no authentication was requested. On the wire this is
	// an explicit flag, so a truncated hail can't pass for an anonymous one.
	Auth *AuthTicket
}

func (m *HandshakeHail) Type() MessageType { return MessageTypeHandshakeHail }

func (m *HandshakeHail) Encode(w *Writer) {
	w.WriteInt32(m.Version)
	w.WriteString(m.Name)
	w.WritePlayerMove(m.Move)
	w.WriteBool(m.Auth != nil)
	if m.Auth != nil {
		w.WriteBytes(m.Auth.Data)
		w.WriteUint64(m.Auth.PlatformID)
	}
}

func (m *HandshakeHail) Decode(r *Reader) error {
	var err error
	if m.Version, err = r.ReadInt32(); err != nil {
		return err
	}
	if m.Name, err = r.ReadString(); err != nil {
		return err
	}
	if m.Move, err = r.ReadPlayerMove(); err != nil {
		return err
	}
	hasAuth, err := r.ReadBool()
	if err != nil {
		return err
	}
	if !hasAuth {
		m.Auth = nil
		return nil
	}
	auth := &AuthTicket{}
	if auth.Data, err = r.ReadBytes(MaxTicketLength); err != nil {
		return err
	}
	if auth.PlatformID, err = r.ReadUint64(); err != nil {
		return err
	}
	m.Auth = auth
	return nil
}

// HandshakeResponse is the first message a server sends to a client.
type HandshakeResponse struct {
	ID         int32
	Name       string
	Names      NameTable
	Moves      MoveTable
	ServerInfo ServerInfo
}

func (m *HandshakeResponse) Type() MessageType { return MessageTypeHandshakeResponse }

func (m *HandshakeResponse) Encode(w *Writer) {
	w.WriteInt32(m.ID)
	w.WriteString(m.Name)
	w.WriteNames(m.Names)
	w.WriteMoves(m.Moves)
	w.WriteServerInfo(m.ServerInfo)
}

func (m *HandshakeResponse) Decode(r *Reader) error {
	var err error
	if m.ID, err = r.ReadInt32(); err != nil {
		return err
	}
	if m.Name, err = r.ReadString(); err != nil {
		return err
	}
	if m.Names, err = r.ReadNames(); err != nil {
		return err
	}
	if m.Moves, err = r.ReadMoves(); err != nil {
		return err
	}
	if m.ServerInfo, err = r.ReadServerInfo(); err != nil {
		return err
	}
	return nil
}

type CreatePlayer struct {
	ID   int32
	Name string
	Move PlayerMove
}

func (m *CreatePlayer) Type() MessageType { return MessageTypeCreatePlayer }

func (m *CreatePlayer) Encode(w *Writer) {
	w.WriteInt32(m.ID)
	w.WriteString(m.Name)
	w.WritePlayerMove(m.Move)
}

func (m *CreatePlayer) Decode(r *Reader) error {
	var err error
	if m.ID, err = r.ReadInt32(); err != nil {
		return err
	}
	if m.Name, err = r.ReadString(); err != nil {
		return err
	}
	if m.Move, err = r.ReadPlayerMove(); err != nil {
		return err
	}
	return nil
}

type RemovePlayer struct {
	ID int32
}

func (m *RemovePlayer) Type() MessageType { return MessageTypeRemovePlayer }

func (m *RemovePlayer) Encode(w *Writer) { w.WriteInt32(m.ID) }

func (m *RemovePlayer) Decode(r *Reader) (err error) {
	m.ID, err = r.ReadInt32()
	return err
}

// MoveData carries one move per player. Clients send a single entry keyed by
// their own id; servers send every active player, the receiver included.
type MoveData struct {
	Moves MoveTable
}

func (m *MoveData) Type() MessageType { return MessageTypeMoveData }

func (m *MoveData) Encode(w *Writer) { w.WriteMoves(m.Moves) }

func (m *MoveData) Decode(r *Reader) (err error) {
	m.Moves, err = r.ReadMoves()
	return err
}

// ChatMessage is relayed by the server, which overwrites Name and Color with
// its own view of the sender.
type ChatMessage struct {
	Name  string
	Color Color
	Text  string
}

func (m *ChatMessage) Type() MessageType { return MessageTypeChatMessage }

func (m *ChatMessage) Encode(w *Writer) {
	w.WriteString(m.Name)
	w.WriteColor(m.Color)
	w.WriteString(m.Text)
}

func (m *ChatMessage) Decode(r *Reader) error {
	var err error
	if m.Name, err = r.ReadString(); err != nil {
		return err
	}
	if m.Color, err = r.ReadColor(); err != nil {
		return err
	}
	if m.Text, err = r.ReadString(); err != nil {
		return err
	}
	return nil
}

// SpectateTarget asks the server to spectate a player (client to server) or
// tells the client whom it now spectates (server to client). ID 0 means
// nobody.
type SpectateTarget struct {
	ID int32
}

func (m *SpectateTarget) Type() MessageType { return MessageTypeSpectateTarget }

func (m *SpectateTarget) Encode(w *Writer) { w.WriteInt32(m.ID) }

func (m *SpectateTarget) Decode(r *Reader) (err error) {
	m.ID, err = r.ReadInt32()
	return err
}

type ClientStopSpectating struct{}

func (m *ClientStopSpectating) Type() MessageType { return MessageTypeClientStopSpectating }

func (m *ClientStopSpectating) Encode(*Writer) {}

func (m *ClientStopSpectating) Decode(*Reader) error { return nil }
