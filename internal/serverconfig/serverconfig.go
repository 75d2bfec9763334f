// Package serverconfig persists the server's ban list and access levels as
// an indented JSON file. Failures are logged and reported as a bool, a server
// keeps running with what it has in memory.
package serverconfig

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/phuslu/log"
)

const FileName = "config.json"

type Config struct {
	Directory string `json:"-"`

	Bans []*PlayerBan `json:"bans"`
	// AccessLevels lists the platform ids with admin rights.
	AccessLevels []uint64 `json:"accessLevels"`

	logger *log.Logger
}

func silencedLogger() *log.Logger {
	tmp := log.DefaultLogger
	logger := &tmp
	logger.Writer = &log.IOWriter{Writer: io.Discard}
	return logger
}

// Load reads the config from directory, creating the directory and a default
// config if there is none yet. The returned config is nil only when an
// existing file could not be read or parsed.
func Load(directory string, logger *log.Logger) (*Config, bool) {
	if logger == nil {
		logger = silencedLogger()
	}

	path := filepath.Join(directory, FileName)
	logger.Info().Msgf("loading config from %s", path)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		config := &Config{
			Directory:    directory,
			Bans:         []*PlayerBan{},
			AccessLevels: []uint64{},
			logger:       logger,
		}
		ok := config.Save()
		if ok {
			logger.Info().Msgf("created new config at %s", path)
		} else {
			logger.Error().Msgf("could not create new config at %s", path)
		}
		return config, ok
	}
	if err != nil {
		logger.Error().Msgf("could not read config: %v", err)
		return nil, false
	}

	config := &Config{}
	if err := json.Unmarshal(data, config); err != nil {
		logger.Error().Msgf("could not parse config: %v", err)
		return nil, false
	}
	config.Directory = directory
	config.logger = logger
	return config, true
}

func (c *Config) Save() bool {
	return SaveConfig(c.Directory, c)
}

// SaveConfig writes config into directory, creating it if needed.
func SaveConfig(directory string, config *Config) bool {
	logger := config.logger
	if logger == nil {
		logger = silencedLogger()
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		logger.Error().Msgf("could not create config directory: %v", err)
		return false
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		logger.Error().Msgf("could not encode config: %v", err)
		return false
	}
	data = append(data, '\n')

	if err := os.WriteFile(filepath.Join(directory, FileName), data, 0o644); err != nil {
		logger.Error().Msgf("could not save config: %v", err)
		return false
	}
	return true
}

func (c *Config) AddBan(ban *PlayerBan) {
	c.Bans = append(c.Bans, ban)
}

// RemoveBan removes every ban of identity and reports whether there was any.
func (c *Config) RemoveBan(identity Identity) bool {
	n := len(c.Bans)
	c.Bans = slices.DeleteFunc(c.Bans, func(b *PlayerBan) bool {
		return b.Identity == identity
	})
	return len(c.Bans) != n
}

// FindBan returns the first ban, expired or not, that covers ip or steamID.
// A zero steamID never matches.
func (c *Config) FindBan(ip uint32, steamID uint64) *PlayerBan {
	for _, b := range c.Bans {
		if b.matches(ip, steamID) {
			return b
		}
	}
	return nil
}

// RemoveExpired drops the bans that have expired at now and returns how many
// there were.
func (c *Config) RemoveExpired(now time.Time) int {
	n := len(c.Bans)
	c.Bans = slices.DeleteFunc(c.Bans, func(b *PlayerBan) bool {
		return b.Expired(now)
	})
	return n - len(c.Bans)
}

func (c *Config) HasAccess(steamID uint64) bool {
	return steamID != 0 && slices.Contains(c.AccessLevels, steamID)
}
