package server_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/blukai/climbparty/internal/auth"
	"github.com/blukai/climbparty/internal/client"
	"github.com/blukai/climbparty/internal/lobbytest"
	"github.com/blukai/climbparty/internal/protocol"
	"github.com/blukai/climbparty/internal/server"
	"github.com/blukai/climbparty/internal/serverconfig"
	"github.com/blukai/climbparty/internal/transport"
	"github.com/matryer/is"
)

// rawHandler records what a bare transport peer sees.
type rawHandler struct {
	connected    bool
	disconnected bool
	reason       protocol.DisconnectReason
	text         string
	received     []protocol.MessageType
}

func (h *rawHandler) Connected(*transport.Conn, []byte) { h.connected = true }

func (h *rawHandler) Disconnected(_ *transport.Conn, reason protocol.DisconnectReason, text string) {
	h.disconnected = true
	h.reason = reason
	h.text = text
}

func (h *rawHandler) Received(_ *transport.Conn, typ protocol.MessageType, _ *protocol.Reader) {
	h.received = append(h.received, typ)
}

// hail connects to s with a hand-built hail and waits for the server to hang
// up.
func hail(t *testing.T, s *lobbytest.Server, m *protocol.HandshakeHail) *rawHandler {
	t.Helper()
	is := is.New(t)

	peer, err := transport.NewPeer("udp4", "127.0.0.1:0", transport.Config{}, nil)
	is.NoErr(err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go peer.Run(ctx)

	h := &rawHandler{}
	is.NoErr(peer.Connect("127.0.0.1", s.Port(), protocol.Marshal(m)))
	lobbytest.Until(t, func() bool { return h.disconnected }, func() { peer.Update(h) })
	return h
}

func TestRejectedHails(t *testing.T) {
	bans, ok := serverconfig.Load(t.TempDir(), nil)
	if !ok {
		t.Fatal("could not create config")
	}
	bans.AddBan(serverconfig.NewSteamIDBan(666, "cheating", nil, "Mallory"))

	s := lobbytest.StartServer(t, server.Config{}, bans)
	authed := lobbytest.StartServer(t, server.Config{RequireAuth: true}, nil)

	tests := []struct {
		name   string
		server *lobbytest.Server
		hail   protocol.HandshakeHail
		reason protocol.DisconnectReason
		text   string
	}{
		{
			name:   "newer client",
			server: s,
			hail:   protocol.HandshakeHail{Version: protocol.Version + 1, Name: "Alice"},
			reason: protocol.ReasonVersionNewer,
		},
		{
			name:   "older client",
			server: s,
			hail:   protocol.HandshakeHail{Version: protocol.Version - 1, Name: "Alice"},
			reason: protocol.ReasonVersionOlder,
		},
		{
			name:   "blank name",
			server: s,
			hail:   protocol.HandshakeHail{Version: protocol.Version, Name: "  "},
			reason: protocol.ReasonInvalidName,
		},
		{
			name:   "unprintable name",
			server: s,
			hail:   protocol.HandshakeHail{Version: protocol.Version, Name: "Al\x07ce"},
			reason: protocol.ReasonInvalidName,
		},
		{
			name:   "empty ticket",
			server: s,
			hail: protocol.HandshakeHail{
				Version: protocol.Version,
				Name:    "Alice",
				Auth:    &protocol.AuthTicket{PlatformID: 1},
			},
			reason: protocol.ReasonInvalidSession,
		},
		{
			name:   "missing ticket",
			server: authed,
			hail:   protocol.HandshakeHail{Version: protocol.Version, Name: "Alice"},
			reason: protocol.ReasonInvalidSession,
		},
		{
			name:   "banned",
			server: s,
			hail: protocol.HandshakeHail{
				Version: protocol.Version,
				Name:    "Mallory",
				Auth:    &protocol.AuthTicket{Data: []byte{1}, PlatformID: 666},
			},
			reason: protocol.ReasonNone,
			text:   `You have been banned from this server: "cheating".`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			h := hail(t, tt.server, &tt.hail)
			is.Equal(h.reason, tt.reason)
			if tt.text != "" {
				is.Equal(h.text, tt.text)
			}
			is.Equal(len(h.received), 0) // no handshake response
		})
	}
}

func TestHandshake(t *testing.T) {
	is := is.New(t)

	s := lobbytest.StartServer(t, server.Config{Name: "test server", MaxPlayers: 4}, nil)

	alice := lobbytest.NewPlayer(t, client.Options{})
	alice.Move.Move = protocol.PlayerMove{Position: protocol.Vector2{X: 1, Y: 2}}
	alice.Join(t, s, "Alice")
	is.Equal(alice.ServerInfo(), protocol.ServerInfo{
		Name:       "test server",
		Players:    1,
		MaxPlayers: 4,
		Version:    protocol.Version,
	})

	bob := lobbytest.NewPlayer(t, client.Options{})
	bob.Join(t, s, "Bob")
	is.Equal(bob.ServerInfo().Players, int32(2))
	is.True(bob.ID() != alice.ID())

	lobbytest.Until(t, func() bool {
		_, seen := alice.Registry().Get(bob.ID())
		return seen && bob.Registry().Len() == 1
	}, lobbytest.Updates(alice, bob)...)

	p, _ := bob.Registry().Get(alice.ID())
	is.Equal(p.Name, "Alice")
	is.Equal(p.Move, alice.Move.Move)
	is.Equal(alice.Observer.Joined, []int32{bob.ID()})
}

func TestDuplicateNames(t *testing.T) {
	is := is.New(t)

	s := lobbytest.StartServer(t, server.Config{}, nil)

	first := lobbytest.NewPlayer(t, client.Options{})
	first.Join(t, s, "Alice")
	second := lobbytest.NewPlayer(t, client.Options{})
	second.Join(t, s, "Alice")

	is.Equal(first.Name(), "Alice")
	is.Equal(second.Name(), "Alice (2)")
}

func TestRejoinAfterClose(t *testing.T) {
	is := is.New(t)

	s := lobbytest.StartServer(t, server.Config{}, nil)

	alice := lobbytest.NewPlayer(t, client.Options{})
	alice.Join(t, s, "Alice")
	first := alice.ID()

	alice.Close()
	is.Equal(alice.State(), client.StateDisconnected)

	alice.Join(t, s, "Alice")
	is.True(alice.ID() != first)

	// keep pumping so a leftover notification would have had its chance
	for i := 0; i < 10; i++ {
		alice.Update()
		time.Sleep(time.Millisecond)
	}
	is.Equal(alice.State(), client.StateReady)
	is.NoErr(alice.SendChatMessage("back"))
	lobbytest.Until(t, func() bool { return len(alice.Observer.Chat) == 1 }, alice.Update)
}

func TestServerFull(t *testing.T) {
	is := is.New(t)

	s := lobbytest.StartServer(t, server.Config{MaxPlayers: 1}, nil)

	alice := lobbytest.NewPlayer(t, client.Options{})
	alice.Join(t, s, "Alice")

	bob := lobbytest.NewPlayer(t, client.Options{})
	is.NoErr(bob.Connect("127.0.0.1", s.Port(), "Bob"))
	lobbytest.Until(t, func() bool { return bob.State() == client.StateDisconnected }, bob.Update)
	is.Equal(bob.LastDisconnectReason(), "server is full")
}

func TestAuthenticatedJoin(t *testing.T) {
	is := is.New(t)

	bans, ok := serverconfig.Load(t.TempDir(), nil)
	is.True(ok)
	bans.AccessLevels = append(bans.AccessLevels, 76561197960287930)

	s := lobbytest.StartServer(t, server.Config{RequireAuth: true}, bans)

	provider := &auth.StaticProvider{ID: 76561197960287930, Blob: []byte("ticket")}
	admin := lobbytest.NewPlayer(t, client.Options{Auth: provider})
	admin.Join(t, s, "Admin")

	is.NoErr(admin.SendChatMessage("hello"))
	lobbytest.Until(t, func() bool { return len(admin.Observer.Chat) == 1 }, admin.Update)
	is.Equal(admin.Observer.Chat[0].Color, protocol.ColorGreen)

	admin.Disconnect()
	lobbytest.Until(t, func() bool { return admin.State() == client.StateDisconnected }, admin.Update)
	is.Equal(provider.Outstanding(), 0)
}

func TestSpectating(t *testing.T) {
	s := lobbytest.StartServer(t, server.Config{}, nil)

	alice := lobbytest.NewPlayer(t, client.Options{})
	alice.Join(t, s, "Alice")
	bob := lobbytest.NewPlayer(t, client.Options{})
	bob.Join(t, s, "Bob")
	carol := lobbytest.NewPlayer(t, client.Options{})
	carol.Join(t, s, "Carol")
	everyone := lobbytest.Updates(alice, bob, carol)

	lobbytest.Until(t, func() bool {
		return alice.Registry().Len() == 2 && bob.Registry().Len() == 2 && carol.Registry().Len() == 2
	}, everyone...)

	t.Run("start", func(t *testing.T) {
		is := is.New(t)

		is.NoErr(carol.SendSpectate(alice.ID()))
		lobbytest.Until(t, func() bool {
			_, visible := bob.Registry().Get(carol.ID())
			return carol.Spectator().Spectating() && !visible
		}, everyone...)
		is.Equal(carol.Spectator().Target(), alice.ID())
	})

	t.Run("switch", func(t *testing.T) {
		is := is.New(t)

		is.NoErr(carol.SendSwitchSpectateTarget(1))
		lobbytest.Until(t, func() bool { return carol.Spectator().Target() == bob.ID() }, everyone...)
		is.True(carol.Spectator().Spectating())
	})

	t.Run("stop", func(t *testing.T) {
		is := is.New(t)

		is.NoErr(carol.SendStopSpectating())
		lobbytest.Until(t, func() bool {
			_, visible := alice.Registry().Get(carol.ID())
			return !carol.Spectator().Spectating() && visible
		}, everyone...)
	})

	t.Run("target leaves", func(t *testing.T) {
		is := is.New(t)

		is.NoErr(carol.SendSpectate(bob.ID()))
		lobbytest.Until(t, func() bool { return carol.Spectator().Spectating() }, everyone...)

		bob.Disconnect()
		lobbytest.Until(t, func() bool {
			_, visible := alice.Registry().Get(carol.ID())
			return !carol.Spectator().Spectating() && visible && bob.State() == client.StateDisconnected
		}, everyone...)

		_, ok := carol.Registry().Get(bob.ID())
		is.True(!ok)
		is.Equal(carol.State(), client.StateReady)
	})
}

func TestShutdown(t *testing.T) {
	is := is.New(t)

	s := lobbytest.StartServer(t, server.Config{}, nil)

	alice := lobbytest.NewPlayer(t, client.Options{})
	alice.Join(t, s, "Alice")

	is.NoErr(s.Stop())
	lobbytest.Until(t, func() bool { return alice.State() == client.StateDisconnected }, alice.Update)
	is.Equal(alice.LastDisconnectReason(), server.ShutdownReason)
	is.True(strings.HasSuffix(alice.Observer.System[len(alice.Observer.System)-1], "("+server.ShutdownReason+")"))
}

func TestIdleClientTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the idle timeout")
	}
	is := is.New(t)

	s := lobbytest.StartServer(t, server.Config{}, nil)

	alice := lobbytest.NewPlayer(t, client.Options{})
	alice.Join(t, s, "Alice")
	bob := lobbytest.NewPlayer(t, client.Options{})
	bob.Join(t, s, "Bob")

	// bob stops pumping, so he stops acking and pinging
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		alice.Update()
		if len(alice.Observer.Left) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	is.Equal(alice.Observer.Left, []int32{bob.ID()})
}
