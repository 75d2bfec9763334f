// Package lobbytest runs a real server and real clients against each other
// over loopback UDP.
package lobbytest

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/blukai/climbparty/internal/client"
	"github.com/blukai/climbparty/internal/protocol"
	"github.com/blukai/climbparty/internal/server"
	"github.com/blukai/climbparty/internal/serverconfig"
	"github.com/blukai/climbparty/internal/transport"
	"github.com/phuslu/log"
)

// Timeout bounds every Until.
const Timeout = 5 * time.Second

// Logger is silenced unless LOBBYTEST_LOG is set.
func Logger() *log.Logger {
	if os.Getenv("LOBBYTEST_LOG") == "" {
		return nil
	}

	logger := log.DefaultLogger
	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.Level = log.DebugLevel
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}
	return &logger
}

type Server struct {
	*server.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
	err    error
}

// StartServer runs a server on a random loopback port until the test ends or
// Stop is called.
func StartServer(t testing.TB, cfg server.Config, bans *serverconfig.Config) *Server {
	t.Helper()

	srv, err := server.New("udp4", "127.0.0.1:0", cfg, bans, Logger())
	if err != nil {
		t.Fatalf("could not construct server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{Server: srv, cancel: cancel}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.err = srv.Run(ctx)
	}()

	t.Cleanup(func() { s.Stop() })
	return s
}

// Stop shuts the server down and waits for it.
func (s *Server) Stop() error {
	s.cancel()
	s.wg.Wait()
	return s.err
}

func (s *Server) Port() int { return s.Addr().Port }

// MoveSource is a settable local move.
type MoveSource struct {
	Move protocol.PlayerMove
}

func (m *MoveSource) CreateMove() protocol.PlayerMove { return m.Move }

// Observer records client notifications. It is only touched from the
// goroutine calling Player.Update.
type Observer struct {
	client.NopObserver

	Joined      []int32
	Left        []int32
	Chat        []client.ChatMessage
	System      []string
	Spectate    []int32
	Disconnects []client.Disconnect
}

func (o *Observer) PlayerJoined(p *client.RemotePlayer) { o.Joined = append(o.Joined, p.ID) }
func (o *Observer) PlayerLeft(p *client.RemotePlayer)   { o.Left = append(o.Left, p.ID) }
func (o *Observer) ChatMessage(m client.ChatMessage)    { o.Chat = append(o.Chat, m) }
func (o *Observer) SpectateChanged(id int32)            { o.Spectate = append(o.Spectate, id) }

func (o *Observer) SystemMessage(text string, _ protocol.Color) {
	o.System = append(o.System, text)
}

func (o *Observer) Disconnected(d client.Disconnect) {
	o.Disconnects = append(o.Disconnects, d)
}

type Player struct {
	*client.Client

	Observer *Observer
	Move     *MoveSource
}

// NewPlayer builds a client on its own loopback peer. opts.Observer is
// replaced.
func NewPlayer(t testing.TB, opts client.Options) *Player {
	t.Helper()

	peer, err := transport.NewPeer("udp4", "127.0.0.1:0", transport.Config{}, Logger())
	if err != nil {
		t.Fatalf("could not construct peer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = peer.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	p := &Player{
		Observer: &Observer{},
		Move:     &MoveSource{},
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}
	opts.Observer = p.Observer
	p.Client = client.New(peer, p.Move, opts)
	return p
}

func (p *Player) Update() { p.Client.Update(time.Now()) }

// Join connects p to s as name and waits until the handshake is done.
func (p *Player) Join(t testing.TB, s *Server, name string) {
	t.Helper()

	if err := p.Connect("127.0.0.1", s.Port(), name); err != nil {
		t.Fatalf("could not connect %s: %v", name, err)
	}
	Until(t, func() bool { return p.State() == client.StateReady }, p.Update)
}

// Until runs steps until cond holds, failing the test after Timeout.
func Until(t testing.TB, cond func() bool, steps ...func()) {
	t.Helper()

	deadline := time.Now().Add(Timeout)
	for time.Now().Before(deadline) {
		for _, step := range steps {
			step()
		}
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", Timeout)
}

// Updates returns the Update of every player, for Until.
func Updates(players ...*Player) []func() {
	steps := make([]func(), 0, len(players))
	for _, p := range players {
		steps = append(steps, p.Update)
	}
	return steps
}
