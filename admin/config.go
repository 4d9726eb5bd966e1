// Package admin wires components C1-C11 into a single AdminService behind
// the shared exclusive lock spec §5 requires, and exposes the
// construction surface (Config, Builder) an entrypoint process uses to
// stand one up (spec §6, §9).
package admin

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the admin service's locally-known configuration (spec §6
// "Configuration"). Fields mirror the original daemon's recognised
// options one-to-one.
type Config struct {
	NodeID                      string        `yaml:"node_id"`
	PublicKeys                  [][]byte      `yaml:"public_keys"`
	CoordinatorTimeout          time.Duration `yaml:"coordinator_timeout"`
	AdminServiceProtocolMin     uint32        `yaml:"admin_service_protocol_min"`
	AdminServiceProtocolVersion uint32        `yaml:"admin_service_protocol_version"`
	CircuitProtocolVersion      uint32        `yaml:"circuit_protocol_version"`
	DefaultHoldPeerSecs         uint64        `yaml:"default_hold_peer_secs"`
}

// DefaultConfig returns the standard per-node defaults with no node_id
// set; callers must still supply one.
func DefaultConfig() Config {
	return Config{
		AdminServiceProtocolMin:     1,
		AdminServiceProtocolVersion: 2,
		CircuitProtocolVersion:      2,
		DefaultHoldPeerSecs:         10,
	}
}

// LoadConfigFile reads and parses a YAML config file, starting from
// DefaultConfig so an omitted field falls back to its spec default.
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("admin: read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("admin: parse config file: %w", err)
	}
	return cfg, nil
}

func (c Config) holdPeerDuration() time.Duration {
	return time.Duration(c.DefaultHoldPeerSecs) * time.Second
}
