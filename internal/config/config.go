// Package config loads the process-level bootstrap configuration: listen
// addresses, logging, and the initial set of peers and links. A live,
// YANG-driven config-apply tree owned by an external collaborator is modeled
// separately in internal/configapply; this package only gets the daemon far
// enough to start listening.
package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root of the bootstrap configuration tree.
type Config struct {
	Service ServiceConfig  `koanf:"service"`
	BGP     BGPConfig      `koanf:"bgp"`
	ISIS    ISISConfig     `koanf:"isis"`
	Peers   []PeerConfig   `koanf:"peers"`
	Links   []LinkConfig   `koanf:"links"`
}

// ServiceConfig carries the process-wide ambient settings.
type ServiceConfig struct {
	LogLevel      string `koanf:"log_level"`
	MetricsListen string `koanf:"metrics_listen"`
}

// BGPConfig carries the local speaker identity.
type BGPConfig struct {
	LocalAS         uint32 `koanf:"local_as"`
	RouterID        string `koanf:"router_id"`
	ListenPort      int    `koanf:"listen_port"`
}

// ISISConfig carries the local IS-IS process identity.
type ISISConfig struct {
	SystemID string `koanf:"system_id"`
	AreaID   string `koanf:"area_id"`
	Hostname string `koanf:"hostname"`
}

// PeerConfig describes one configured BGP neighbor.
type PeerConfig struct {
	Address         string `koanf:"address"`
	RemoteAS        uint32 `koanf:"remote_as"`
	Passive         bool   `koanf:"passive"`
	RouteReflector  bool   `koanf:"route_reflector_client"`
	HoldTimeSeconds int    `koanf:"hold_time_seconds"`
}

// LinkConfig describes the IS-IS overlay for one interface, keyed by name so
// it survives kernel index rediscovery.
type LinkConfig struct {
	Name          string `koanf:"name"`
	Level         string `koanf:"level"`
	Type          string `koanf:"type"` // "lan" or "point-to-point"
	Metric        uint32 `koanf:"metric"`
	HelloSeconds  int    `koanf:"hello_seconds"`
	HoldSeconds   int    `koanf:"hold_seconds"`
	CSNPSeconds   int    `koanf:"csnp_seconds"`
	Priority      uint8  `koanf:"priority"`
	PrefixSID     uint32 `koanf:"prefix_sid"`
	HasPrefixSID  bool   `koanf:"has_prefix_sid"`
}

// Default returns the configuration a bare daemon starts with before any
// file or environment overrides are applied.
func Default() Config {
	return Config{
		Service: ServiceConfig{LogLevel: "info", MetricsListen: ":9090"},
		BGP:     BGPConfig{ListenPort: 179},
	}
}

// Load reads path (if it exists) as YAML, then applies RIDGED_-prefixed
// environment variable overrides on top, file-then-env layering so
// environment overrides always win.
func Load(path string) (Config, error) {
	out := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return out, fmt.Errorf("config: load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("RIDGED_", ".", envTransform), nil); err != nil {
		return out, fmt.Errorf("config: load env: %w", err)
	}

	if err := k.Unmarshal("", &out); err != nil {
		return out, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}

func envTransform(s string) string {
	return s
}
