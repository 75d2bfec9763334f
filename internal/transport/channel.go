package transport

import (
	"errors"
	"sort"
	"time"
)

// ReliableWindow bounds how far ahead of the next expected sequence number a
// reliable packet may be. It also bounds how many unacknowledged reliable
// packets a channel may hold.
const ReliableWindow = 512

var ErrWindowFull = errors.New("reliable window is full")

// seqAfter reports whether a comes after b, taking wraparound into account.
func seqAfter(a, b uint16) bool {
	return int16(a-b) > 0
}

// sequencedReceiver implements the receiving end of unreliable-sequenced
// delivery: anything older than, or equal to, the newest packet seen so far
// is stale and gets dropped.
type sequencedReceiver struct {
	last uint16
	seen bool
}

func (r *sequencedReceiver) accept(seq uint16) bool {
	if r.seen && !seqAfter(seq, r.last) {
		return false
	}
	r.last = seq
	r.seen = true
	return true
}

type pendingPacket struct {
	seq      uint16
	data     []byte
	sentAt   time.Time
	attempts int
}

// reliableSender holds reliable packets until they are acknowledged.
type reliableSender struct {
	next    uint16
	pending map[uint16]*pendingPacket
}

func newReliableSender() *reliableSender {
	return &reliableSender{pending: make(map[uint16]*pendingPacket)}
}

// push reserves the next sequence number. build receives it and returns the
// full datagram, which is what gets resent.
func (s *reliableSender) push(now time.Time, build func(seq uint16) []byte) (*pendingPacket, error) {
	if len(s.pending) >= ReliableWindow {
		return nil, ErrWindowFull
	}
	seq := s.next
	s.next++
	pkt := &pendingPacket{
		seq:      seq,
		data:     build(seq),
		sentAt:   now,
		attempts: 1,
	}
	s.pending[seq] = pkt
	return pkt, nil
}

func (s *reliableSender) ack(seq uint16) {
	delete(s.pending, seq)
}

// due returns, oldest first, the packets that were last sent at least
// interval ago and marks them as sent at now.
func (s *reliableSender) due(now time.Time, interval time.Duration) []*pendingPacket {
	var out []*pendingPacket
	for _, pkt := range s.pending {
		if now.Sub(pkt.sentAt) >= interval {
			out = append(out, pkt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return seqAfter(out[j].seq, out[i].seq) })
	for _, pkt := range out {
		pkt.sentAt = now
		pkt.attempts++
	}
	return out
}

// orderedReceiver implements the receiving end of reliable-ordered delivery:
// packets are released strictly in sequence, each exactly once.
type orderedReceiver struct {
	expected uint16
	buffered map[uint16][]byte
}

func newOrderedReceiver() *orderedReceiver {
	return &orderedReceiver{buffered: make(map[uint16][]byte)}
}

// receive returns the payloads that became deliverable and whether the packet
// should be acknowledged. Packets too far ahead are not acknowledged so that
// the sender retries them once the window has moved.
func (r *orderedReceiver) receive(seq uint16, payload []byte) ([][]byte, bool) {
	diff := int16(seq - r.expected)
	switch {
	case diff < 0:
		// duplicate of something already delivered; the ack got lost
		return nil, true
	case diff >= ReliableWindow:
		return nil, false
	case diff > 0:
		if _, ok := r.buffered[seq]; !ok {
			r.buffered[seq] = payload
		}
		return nil, true
	}

	out := [][]byte{payload}
	r.expected++
	for {
		next, ok := r.buffered[r.expected]
		if !ok {
			break
		}
		delete(r.buffered, r.expected)
		out = append(out, next)
		r.expected++
	}
	return out, true
}
