package serverconfig

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/blukai/climbparty/internal/byteorder"
)

type IdentityType uint8

const (
	IdentityIP IdentityType = iota
	IdentitySteamID
)

func (t IdentityType) String() string {
	switch t {
	case IdentityIP:
		return "IP"
	case IdentitySteamID:
		return "SteamID64"
	}
	return fmt.Sprintf("IdentityType(%d)", uint8(t))
}

// Identity is what a ban is keyed by. IP holds an IPv4 address in network
// byte order read as a big-endian number, so 10.0.0.1 is 0x0a000001.
type Identity struct {
	Type    IdentityType `json:"type"`
	IP      uint32       `json:"ip"`
	SteamID uint64       `json:"steamId"`
}

// IPFromAddr converts an IPv4 (or IPv4-mapped IPv6) address. ok is false for
// anything else.
func IPFromAddr(addr netip.Addr) (ip uint32, ok bool) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return 0, false
	}
	b := addr.As4()
	return byteorder.Ntohl(b[:]), true
}

func AddrFromIP(ip uint32) netip.Addr {
	return netip.AddrFrom4([4]byte(byteorder.PutHtonl(nil, ip)))
}

type PlayerBan struct {
	Identity Identity `json:"identity"`
	// ExpirationDate is nil for permanent bans.
	ExpirationDate *time.Time `json:"expirationDate"`
	// Reason and ReferenceName are optional.
	Reason        string `json:"reason"`
	ReferenceName string `json:"referenceName"`
}

func NewSteamIDBan(steamID uint64, reason string, expiration *time.Time, referenceName string) *PlayerBan {
	return &PlayerBan{
		Identity:       Identity{Type: IdentitySteamID, SteamID: steamID},
		ExpirationDate: utc(expiration),
		Reason:         reason,
		ReferenceName:  referenceName,
	}
}

func NewIPBan(ip uint32, reason string, expiration *time.Time, referenceName string) *PlayerBan {
	return &PlayerBan{
		Identity:       Identity{Type: IdentityIP, IP: ip},
		ExpirationDate: utc(expiration),
		Reason:         reason,
		ReferenceName:  referenceName,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (b *PlayerBan) Expired(now time.Time) bool {
	if b.ExpirationDate == nil {
		return false
	}
	return !now.Before(*b.ExpirationDate)
}

// ReasonWithExpiration is the text a banned player is disconnected with.
func (b *PlayerBan) ReasonWithExpiration() string {
	reason := b.Reason
	if reason == "" {
		reason = "No reason given"
	}
	result := "You have been banned from this server: \"" + reason + "\"."
	if b.ExpirationDate != nil {
		result += " The ban will expire: " +
			b.ExpirationDate.UTC().Format("Monday, January 2, 2006 3:04 PM") + " UTC."
	}
	return result
}

// Identifier names the banned identity for humans, e.g. "IP: 10.0.0.1".
func (b *PlayerBan) Identifier() string {
	switch b.Identity.Type {
	case IdentityIP:
		return "IP: " + AddrFromIP(b.Identity.IP).String()
	case IdentitySteamID:
		return fmt.Sprintf("SteamID64: %d", b.Identity.SteamID)
	}
	return b.Identity.Type.String()
}

func (b *PlayerBan) matches(ip uint32, steamID uint64) bool {
	switch b.Identity.Type {
	case IdentityIP:
		return b.Identity.IP == ip
	case IdentitySteamID:
		return steamID != 0 && b.Identity.SteamID == steamID
	}
	return false
}
