package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/pixelsync/pkg/datastore"
	"github.com/NicolasHaas/pixelsync/pkg/model"
	"github.com/NicolasHaas/pixelsync/pkg/protocol"
)

// Config holds server configuration. The YAML file passed with -config
// overlays DefaultConfig; flags override both.
type Config struct {
	Addr            string        `yaml:"addr"`                 // websocket listen address
	Path            string        `yaml:"path"`                 // websocket upgrade path
	MetricsAddr     string        `yaml:"metrics_addr"`         // admin HTTP address (empty = disabled)
	MaxRoomCapacity int           `yaml:"max_players_per_room"` // upper bound for room capacity
	ChatDB          string        `yaml:"chat_db"`              // SQLite chat journal path (empty = in-memory)
	ChatRetention   int64         `yaml:"chat_retention"`       // journal lines kept by the status loop (0 = unbounded)
	IdleTimeout     time.Duration `yaml:"idle_timeout"`         // evict sessions silent this long (0 = never)
	StatusInterval  time.Duration `yaml:"status_interval"`      // periodic status log
	SendQueue       int           `yaml:"send_queue"`           // outbound frames buffered per connection
	RecvQueue       int           `yaml:"recv_queue"`           // inbound frames buffered per connection
	MaxFrameBytes   int64         `yaml:"max_frame_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins,omitempty"` // empty = any origin
	WorldBound      float64       `yaml:"world_bound"`               // positions clamped to ±WorldBound
	MaxHealth       float64       `yaml:"max_health"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Chat and will Close() it on shutdown.
type Dependencies struct {
	Chat datastore.DataStore
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8765",
		Path:            "/",
		MetricsAddr:     ":8766",
		MaxRoomCapacity: model.DefaultRoomCapacity,
		ChatRetention:   10000,
		IdleTimeout:     30 * time.Second,
		StatusInterval:  30 * time.Second,
		SendQueue:       256,
		RecvQueue:       64,
		MaxFrameBytes:   protocol.MaxFrameSize,
		WorldBound:      10000,
		MaxHealth:       model.DefaultHealth,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

var ErrInvalidConfig = errors.New("server: invalid config")

// Validate checks the values New relies on.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr is empty", ErrInvalidConfig)
	case c.MaxRoomCapacity < model.MinRoomCapacity:
		return fmt.Errorf("%w: max_players_per_room must be >= %d", ErrInvalidConfig, model.MinRoomCapacity)
	case c.SendQueue < 1 || c.RecvQueue < 1:
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalidConfig)
	case c.MaxFrameBytes < 1 || c.MaxFrameBytes > protocol.MaxFrameSize:
		return fmt.Errorf("%w: max_frame_bytes must be in [1, %d]", ErrInvalidConfig, protocol.MaxFrameSize)
	case c.WorldBound <= 0 || c.MaxHealth <= 0:
		return fmt.Errorf("%w: world_bound and max_health must be positive", ErrInvalidConfig)
	case c.IdleTimeout < 0 || c.StatusInterval < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFile overlays the YAML file at path onto cfg.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return fmt.Errorf("read server config: %w", err)
	}
	return ImportConfigYAML(data, cfg)
}

// ImportConfigYAML overlays YAML data onto cfg.
func ImportConfigYAML(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse server config: %w", err)
	}
	return nil
}

// ExportConfigYAML renders the effective config.
func ExportConfigYAML(cfg Config) ([]byte, error) {
	return yaml.Marshal(&cfg)
}

// RoomsExport is the top-level YAML for the room listing.
type RoomsExport struct {
	Rooms []model.RoomInfo `yaml:"rooms"`
}

// ExportRoomsYAML renders the current room list.
func ExportRoomsYAML(rooms []model.RoomInfo) ([]byte, error) {
	if rooms == nil {
		rooms = []model.RoomInfo{}
	}
	return yaml.Marshal(&RoomsExport{Rooms: rooms})
}

// ChatExport is the top-level YAML for a chat journal dump.
type ChatExport struct {
	Lines []model.ChatLine `yaml:"chat"`
}

// ExportChatYAML renders journal lines matching filters, newest first.
func ExportChatYAML(journal datastore.ChatReadProvider, filters model.ChatFilters) ([]byte, error) {
	lines, err := journal.ListChat(filters)
	if err != nil {
		return nil, fmt.Errorf("export chat: %w", err)
	}
	if lines == nil {
		lines = []model.ChatLine{}
	}
	return yaml.Marshal(&ChatExport{Lines: lines})
}
