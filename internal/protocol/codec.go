package protocol

import (
	"errors"
	"fmt"
	"math"

	"github.com/blukai/climbparty/internal/byteorder"
	"github.com/blukai/climbparty/internal/debug"
	"github.com/blukai/climbparty/internal/zigzag"
)

var (
	ErrTruncated          = errors.New("truncated payload")
	ErrMalformed          = errors.New("malformed payload")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Writer appends fields to a growing buffer. Writes never fail; callers are
// expected to validate strings beforehand (see ValidateName), oversized input
// is a programmer error.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) WriteMessageType(t MessageType) {
	w.buf = append(w.buf, byte(t))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.buf = byteorder.PutHtonl(w.buf, zigzag.Encode32(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = byteorder.PutHtonl(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = byteorder.PutHtonll(w.buf, v)
}

func (w *Writer) WriteFloat32(v float32) {
	w.buf = byteorder.PutHtonl(w.buf, math.Float32bits(v))
}

func (w *Writer) WriteString(s string) {
	debug.Assert(len(s) <= MaxStringLength, "string too long")
	w.buf = byteorder.PutHtons(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes a length prefixed blob.
func (w *Writer) WriteBytes(b []byte) {
	debug.Assert(len(b) <= math.MaxInt32, "blob too long")
	w.WriteInt32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteColor(c Color) {
	w.buf = append(w.buf, c.R, c.G, c.B, c.A)
}

func (w *Writer) WriteVector2(v Vector2) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
}

func (w *Writer) WritePlayerMove(m PlayerMove) {
	w.WriteVector2(m.Position)
	w.WriteVector2(m.Velocity)
	w.WriteFloat32(m.Rotation)
	w.WriteFloat32(m.AngularVelocity)
}

func (w *Writer) WriteNames(names NameTable) {
	w.WriteInt32(int32(len(names)))
	for _, entry := range names.sorted() {
		w.WriteInt32(entry.id)
		w.WriteString(entry.name)
	}
}

func (w *Writer) WriteMoves(moves MoveTable) {
	w.WriteInt32(int32(len(moves)))
	for _, entry := range moves {
		w.WriteInt32(entry.ID)
		w.WritePlayerMove(entry.Move)
	}
}

func (w *Writer) WriteServerInfo(info ServerInfo) {
	w.WriteString(info.Name)
	w.WriteInt32(info.Players)
	w.WriteInt32(info.MaxPlayers)
	w.WriteInt32(info.Version)
}

// Reader is a decoding cursor over one message. Every read reports
// ErrTruncated when the buffer runs out, wrapped with the field it was
// reading.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int, what string) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("could not read %s (want %d bytes; have %d): %w",
			what, n, r.Remaining(), ErrTruncated)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadMessageType() (MessageType, error) {
	b, err := r.take(1, "message type")
	if err != nil {
		return 0, err
	}
	t := MessageType(b[0])
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMessageType, b[0])
	}
	return t, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.take(1, "bool")
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: bool byte %d", ErrMalformed, b[0])
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.take(4, "int32")
	if err != nil {
		return 0, err
	}
	return zigzag.Decode32(byteorder.Ntohl(b)), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return byteorder.Ntohl(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8, "uint64")
	if err != nil {
		return 0, err
	}
	return byteorder.Ntohll(b), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	b, err := r.take(4, "float32")
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(byteorder.Ntohl(b)), nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.take(2, "string length")
	if err != nil {
		return "", err
	}
	n := int(byteorder.Ntohs(b))
	if n > MaxStringLength {
		return "", fmt.Errorf("%w: string length %d exceeds %d", ErrMalformed, n, MaxStringLength)
	}
	b, err = r.take(n, "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadBytes(limit int) ([]byte, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > limit {
		return nil, fmt.Errorf("%w: blob length %d (limit %d)", ErrMalformed, n, limit)
	}
	b, err := r.take(int(n), "blob")
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *Reader) ReadColor() (Color, error) {
	b, err := r.take(4, "color")
	if err != nil {
		return Color{}, err
	}
	return Color{R: b[0], G: b[1], B: b[2], A: b[3]}, nil
}

func (r *Reader) ReadVector2() (Vector2, error) {
	x, err := r.ReadFloat32()
	if err != nil {
		return Vector2{}, err
	}
	y, err := r.ReadFloat32()
	if err != nil {
		return Vector2{}, err
	}
	return Vector2{X: x, Y: y}, nil
}

func (r *Reader) ReadPlayerMove() (PlayerMove, error) {
	var (
		m   PlayerMove
		err error
	)
	if m.Position, err = r.ReadVector2(); err != nil {
		return PlayerMove{}, err
	}
	if m.Velocity, err = r.ReadVector2(); err != nil {
		return PlayerMove{}, err
	}
	if m.Rotation, err = r.ReadFloat32(); err != nil {
		return PlayerMove{}, err
	}
	if m.AngularVelocity, err = r.ReadFloat32(); err != nil {
		return PlayerMove{}, err
	}
	return m, nil
}

// readCount reads a table length and rejects counts that could not possibly
// fit in what is left of the buffer, so a hostile count can't make us
// allocate.
func (r *Reader) readCount(minEntrySize int) (int, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 || int(n)*minEntrySize > r.Remaining() {
		return 0, fmt.Errorf("%w: table count %d with %d bytes left", ErrMalformed, n, r.Remaining())
	}
	return int(n), nil
}

func (r *Reader) ReadNames() (NameTable, error) {
	// id (4) + empty string (2)
	n, err := r.readCount(6)
	if err != nil {
		return nil, err
	}
	names := make(NameTable, n)
	for i := 0; i < n; i++ {
		id, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, nil
}

func (r *Reader) ReadMoves() (MoveTable, error) {
	n, err := r.readCount(4 + PlayerMoveSize)
	if err != nil {
		return nil, err
	}
	moves := make(MoveTable, 0, n)
	for i := 0; i < n; i++ {
		id, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		move, err := r.ReadPlayerMove()
		if err != nil {
			return nil, err
		}
		moves = append(moves, MoveEntry{ID: id, Move: move})
	}
	return moves, nil
}

func (r *Reader) ReadServerInfo() (ServerInfo, error) {
	var (
		info ServerInfo
		err  error
	)
	if info.Name, err = r.ReadString(); err != nil {
		return ServerInfo{}, err
	}
	if info.Players, err = r.ReadInt32(); err != nil {
		return ServerInfo{}, err
	}
	if info.MaxPlayers, err = r.ReadInt32(); err != nil {
		return ServerInfo{}, err
	}
	if info.Version, err = r.ReadInt32(); err != nil {
		return ServerInfo{}, err
	}
	return info, nil
}
