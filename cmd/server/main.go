package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/blukai/climbparty/internal/server"
	"github.com/blukai/climbparty/internal/serverconfig"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	ServerAddr4 string `envconfig:"SERVER_ADDR4" required:"true" default:"0.0.0.0:5000"`
	ServerName  string `envconfig:"SERVER_NAME" default:"climbparty"`
	MaxPlayers  int    `envconfig:"MAX_PLAYERS" default:"16"`
	RequireAuth bool   `envconfig:"REQUIRE_AUTH" default:"false"`
	// ConfigDir holds the ban list and access levels.
	ConfigDir string `envconfig:"CONFIG_DIR" default:"config"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// LogFile additionally writes logs to a size-rotated file.
	LogFile string `envconfig:"LOG_FILE"`
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
	console := &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}
	logger.Writer = console

	if config.LogFile != "" {
		logger.Writer = &log.MultiEntryWriter{
			console,
			&log.IOWriter{Writer: &lumberjack.Logger{
				Filename:   config.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     7, // days
			}},
		}
	}

	return &logger
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config)

	bans, ok := serverconfig.Load(config.ConfigDir, logger)
	if bans == nil {
		return fmt.Errorf("could not load server config from %s", config.ConfigDir)
	}
	if !ok {
		logger.Warn().Msg("running with a config that could not be saved")
	}

	srv, err := server.New("udp4", config.ServerAddr4, server.Config{
		Name:        config.ServerName,
		MaxPlayers:  config.MaxPlayers,
		RequireAuth: config.RequireAuth,
	}, bans, logger)
	if err != nil {
		return fmt.Errorf("could not construct server: %w", err)
	}
	logger.Info().Msgf("started server %q on %s", config.ServerName, srv.Addr())

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	var serverRunErr error
	go func() {
		defer wg.Done()
		serverRunErr = srv.Run(ctx)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-signalChan
	logger.Info().Msgf("received %+v signal", sig)

	cancel()
	wg.Wait()
	if serverRunErr != nil {
		return fmt.Errorf("server run failed: %w", serverRunErr)
	}

	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
