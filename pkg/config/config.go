// Package config loads and validates the hub configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PeerConfig identifies one peer node of the cluster.
type PeerConfig struct {
	ID   int32  `yaml:"id" validate:"required"`
	IP   string `yaml:"ip" validate:"required"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
}

// Config is the hub configuration.
type Config struct {
	// ServerID is this node's id within the cluster. Binlog records carry
	// the originating server id for loop prevention.
	ServerID int32 `yaml:"server_id" validate:"required"`

	// LocalIP/LocalPort are sent in the trysync handshake so peers can
	// stream their own binlog back to this hub.
	LocalIP   string `yaml:"local_ip" validate:"required"`
	LocalPort int    `yaml:"local_port" validate:"required,min=1,max=65535"`

	// DataDir holds the binlog segments.
	DataDir string `yaml:"data_dir" validate:"required"`

	// HTTPAddr serves /health, /replication/status, and /metrics.
	HTTPAddr string `yaml:"http_addr"`

	// CacheCapacity bounds the conflict cache entry count.
	CacheCapacity int `yaml:"cache_capacity" validate:"min=0"`

	// SegmentSize is the binlog rotation threshold in bytes.
	SegmentSize int64 `yaml:"segment_size" validate:"min=0"`

	// TrysyncInterval is the supervision loop period.
	TrysyncInterval time.Duration `yaml:"trysync_interval"`

	Peers []PeerConfig `yaml:"peers" validate:"dive"`
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		LocalIP:         "127.0.0.1",
		LocalPort:       6380,
		DataDir:         "./data",
		HTTPAddr:        ":8080",
		CacheCapacity:   1 << 20,
		SegmentSize:     64 << 20,
		TrysyncInterval: 2 * time.Second,
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[int32]bool, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == c.ServerID {
			return fmt.Errorf("invalid config: peer %d reuses the local server id", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("invalid config: duplicate peer id %d", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// ServerIDs returns every server id the config knows about: the local id
// plus all peer ids. This fixes the shape of the recover offset matrix.
func (c *Config) ServerIDs() []int32 {
	ids := make([]int32, 0, len(c.Peers)+1)
	ids = append(ids, c.ServerID)
	for _, p := range c.Peers {
		ids = append(ids, p.ID)
	}
	return ids
}
