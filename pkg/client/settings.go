package client

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings stores client preferences persisted as YAML.
type Settings struct {
	DisplayName        string        `yaml:"display_name"`
	Features           []string      `yaml:"features,omitempty"`
	InterpolationDelay time.Duration `yaml:"interpolation_delay"`
	SyncDistance       float64       `yaml:"sync_distance"`       // proximity radius for visible entities
	MaxPlayersVisible  int           `yaml:"max_players_visible"` // nearest-entity cap
	PingInterval       time.Duration `yaml:"ping_interval"`
	MaxPendingPings    int           `yaml:"max_pending_pings"`
	DialRetries        int           `yaml:"dial_retries"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		InterpolationDelay: DefaultInterpolationDelay,
		SyncDistance:       100,
		MaxPlayersVisible:  DefaultMaxVisible,
		PingInterval:       DefaultPingInterval,
		MaxPendingPings:    DefaultMaxPending,
		DialRetries:        3,
		DialTimeout:        5 * time.Second,
	}
}

// LoadSettings loads settings from the YAML file at path, overlaying the
// defaults. A missing file yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("client: read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", path, "err", err)
		return nil, fmt.Errorf("client: parse settings: %w", err)
	}
	return s, nil
}

// Save writes settings to path.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
