// Package auth describes the platform authentication capability a client may
// be constructed with. The platform itself (ticket issuance, session
// validation) lives elsewhere; the client only needs a blob to put into its
// hail and a way to revoke it.
package auth

import (
	"errors"
	"sync"
)

var ErrNoTicket = errors.New("no ticket available")

// Ticket is an issued authentication session ticket. Cancel revokes it and
// must be safe to call more than once.
type Ticket interface {
	Data() []byte
	Cancel()
}

// Provider issues tickets for the local user.
type Provider interface {
	Ticket() (Ticket, error)
	PlatformID() uint64
}

// StaticProvider hands out tickets backed by fixed bytes. It is what the
// console client uses when it is given a ticket from the environment, and
// what tests use to observe cancellation.
type StaticProvider struct {
	ID   uint64
	Blob []byte

	mu      sync.Mutex
	issued  int
	revoked int
}

var _ Provider = (*StaticProvider)(nil)

func (p *StaticProvider) PlatformID() uint64 { return p.ID }

func (p *StaticProvider) Ticket() (Ticket, error) {
	if len(p.Blob) == 0 {
		return nil, ErrNoTicket
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued++

	return &staticTicket{provider: p, data: append([]byte(nil), p.Blob...)}, nil
}

// Outstanding reports how many issued tickets have not been cancelled yet.
func (p *StaticProvider) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issued - p.revoked
}

type staticTicket struct {
	provider *StaticProvider
	data     []byte
	once     sync.Once
}

func (t *staticTicket) Data() []byte { return t.data }

func (t *staticTicket) Cancel() {
	t.once.Do(func() {
		t.provider.mu.Lock()
		defer t.provider.mu.Unlock()
		t.provider.revoked++
	})
}
