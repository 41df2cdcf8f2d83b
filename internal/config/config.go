// Package config loads the locator's YAML configuration, grounded on
// autod-lite's LoadConfig: read the whole file, unmarshal onto a struct
// pre-seeded with defaults, then validate/fill anything still missing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// PortRange is the optional [Min, Max) local-service port pool, spec.md §6.
type PortRange struct {
	Min uint16 `yaml:"min"`
	Max uint16 `yaml:"max"`
}

// GatewayConfig selects and configures the gateway plugin, spec.md §6.
type GatewayConfig struct {
	Type string            `yaml:"type"`
	Args map[string]string `yaml:"args"`
}

// StorageConfig selects the persistent group storage backend.
type StorageConfig struct {
	Type          string   `yaml:"type"` // "etcd" or "file"
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	FilePath      string   `yaml:"file_path"`
}

// Config is the enumerated option set from spec.md §6, plus the ambient
// fields (storage backend selection, heartbeat TTL) a runnable daemon
// needs.
type Config struct {
	UUID           string         `yaml:"uuid"`
	Hostname       string         `yaml:"hostname"`
	MulticastGroup string         `yaml:"multicast_group"`
	LocatorPort    uint16         `yaml:"locator_port"`
	Endpoint       string         `yaml:"endpoint"`
	Ports          *PortRange     `yaml:"ports"`
	Gateway        *GatewayConfig `yaml:"gateway"`
	Storage        StorageConfig  `yaml:"storage"`

	// HeartbeatTTL is left configurable per SPEC_FULL.md's resolution of
	// spec.md's open question on whether the 60s heartbeat timeout should
	// be a constant; see DESIGN.md.
	HeartbeatTTL time.Duration `yaml:"heartbeat_ttl"`
}

// DefaultConfig returns the defaults applied to any field LoadConfig finds
// missing from the file.
func DefaultConfig() Config {
	return Config{
		LocatorPort:  10054,
		Endpoint:     "0.0.0.0",
		HeartbeatTTL: 60 * time.Second,
		Storage:      StorageConfig{Type: "file", FilePath: "groups.yaml"},
	}
}

// LoadConfig reads path and applies defaults for anything left unset. UUID
// is generated if blank, and Hostname falls back to os.Hostname().
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, fmt.Errorf("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if cfg.UUID == "" {
		cfg.UUID = uuid.NewString()
	}
	if cfg.Hostname == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "locator-node"
		}
		cfg.Hostname = host
	}
	if cfg.LocatorPort == 0 {
		cfg.LocatorPort = DefaultConfig().LocatorPort
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultConfig().Endpoint
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = DefaultConfig().HeartbeatTTL
	}
	if cfg.MulticastGroup == "" {
		return cfg, fmt.Errorf("multicast_group is required")
	}

	return cfg, nil
}
