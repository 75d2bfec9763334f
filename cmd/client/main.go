package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/blukai/climbparty/internal/auth"
	"github.com/blukai/climbparty/internal/client"
	"github.com/blukai/climbparty/internal/protocol"
	"github.com/blukai/climbparty/internal/transport"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
)

type Config struct {
	ServerHost string `envconfig:"SERVER_HOST" default:"127.0.0.1"`
	ServerPort int    `envconfig:"SERVER_PORT" default:"5000"`
	PlayerName string `envconfig:"PLAYER_NAME" required:"true"`
	FrameRate  int    `envconfig:"FRAME_RATE" default:"60"`

	// AuthTicket is hex encoded. Without it the hail carries no ticket.
	AuthTicket string `envconfig:"AUTH_TICKET"`
	PlatformID uint64 `envconfig:"PLATFORM_ID"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"warn"`
}

func loadConfig() (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not load .env: %w", err)
	}

	config := new(Config)
	if err := envconfig.Process("climbparty", config); err != nil {
		return nil, err
	}
	return config, nil
}

func configureLogger(config *Config) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.Level = log.ParseLevel(config.LogLevel)
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

func authProvider(config *Config) (auth.Provider, error) {
	if config.AuthTicket == "" {
		return nil, nil
	}
	blob, err := hex.DecodeString(config.AuthTicket)
	if err != nil {
		return nil, fmt.Errorf("could not decode auth ticket: %w", err)
	}
	return &auth.StaticProvider{ID: config.PlatformID, Blob: blob}, nil
}

// wanderer walks the local player around a circle.
type wanderer struct {
	start time.Time
}

func (w *wanderer) CreateMove() protocol.PlayerMove {
	const radius = 64
	t := time.Since(w.start).Seconds()
	sin, cos := math.Sincos(t)
	return protocol.PlayerMove{
		Position: protocol.Vector2{X: float32(radius * cos), Y: float32(radius * sin)},
		Velocity: protocol.Vector2{X: float32(-radius * sin), Y: float32(radius * cos)},
		Rotation: float32(math.Mod(t, 2*math.Pi)),
	}
}

var (
	nameStyle   = lipgloss.NewStyle().Bold(true)
	systemStyle = lipgloss.NewStyle().Italic(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func colorOf(c protocol.Color) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}

// console prints what happens on the server.
type console struct {
	client.NopObserver
}

func (console) PlayerJoined(p *client.RemotePlayer) {
	fmt.Println(systemStyle.Render(fmt.Sprintf("%s (%d) joined", p.Name, p.ID)))
}

func (console) PlayerLeft(p *client.RemotePlayer) {
	fmt.Println(systemStyle.Render(fmt.Sprintf("%s (%d) left", p.Name, p.ID)))
}

func (console) ChatMessage(m client.ChatMessage) {
	fmt.Println(nameStyle.Foreground(colorOf(m.Color)).Render(m.Name+":") + " " + m.Text)
}

func (console) SystemMessage(text string, color protocol.Color) {
	fmt.Println(systemStyle.Foreground(colorOf(color)).Render(text))
}

func (console) SpectateChanged(id int32) {
	if id == 0 {
		fmt.Println(systemStyle.Render("stopped spectating"))
		return
	}
	fmt.Println(systemStyle.Render(fmt.Sprintf("spectating %d", id)))
}

const help = "/players • /spectate <id> • /stop • /next • /prev • /quit • anything else is chat"

// command runs one line of input. It reports false when the client should
// quit.
func command(c *client.Client, line string) (bool, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true, nil
	}

	switch fields[0] {
	case "/quit":
		return false, nil
	case "/help":
		fmt.Println(helpStyle.Render(help))
		return true, nil
	case "/players":
		for _, p := range c.Registry().All() {
			fmt.Printf("%5d %s (%.0f, %.0f)\n", p.ID, p.Name, p.Move.Position.X, p.Move.Position.Y)
		}
		return true, nil
	case "/spectate":
		if len(fields) != 2 {
			return true, errors.New("usage: /spectate <id>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			return true, fmt.Errorf("could not parse id: %w", err)
		}
		return true, c.SendSpectate(int32(id))
	case "/stop":
		return true, c.SendStopSpectating()
	case "/next":
		return true, c.SendSwitchSpectateTarget(1)
	case "/prev":
		return true, c.SendSwitchSpectateTarget(-1)
	}
	return true, c.SendChatMessage(line)
}

func readLines(ctx context.Context, lines chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	close(lines)
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config)

	provider, err := authProvider(config)
	if err != nil {
		return err
	}

	peer, err := transport.NewPeer("udp4", ":0", transport.Config{}, logger)
	if err != nil {
		return fmt.Errorf("could not construct peer: %w", err)
	}

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = peer.Run(ctx)
	}()

	c := client.New(peer, &wanderer{start: time.Now()}, client.Options{
		Logger:   logger,
		Observer: console{},
		Auth:     provider,
	})
	defer c.Close()

	if err := c.Connect(config.ServerHost, config.ServerPort, config.PlayerName); err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}
	fmt.Println(helpStyle.Render(help))

	lines := make(chan string)
	go readLines(ctx, lines)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	ticker := time.NewTicker(time.Second / time.Duration(max(config.FrameRate, 1)))
	defer ticker.Stop()

	for {
		select {
		case sig := <-signalChan:
			logger.Info().Msgf("received %+v signal", sig)
			c.Disconnect()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				c.Disconnect()
				continue
			}
			keepGoing, err := command(c, line)
			if err != nil {
				fmt.Println(systemStyle.Foreground(colorOf(protocol.ColorRed)).Render(err.Error()))
			}
			if !keepGoing {
				c.Disconnect()
			}
		case now := <-ticker.C:
			c.Update(now)
			if c.State() == client.StateDisconnected {
				if reason := c.LastDisconnectReason(); reason != "" {
					return errors.New(reason)
				}
				return nil
			}
		}
	}
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
