package config

import (
	"time"

	"github.com/anon0mesh/gossipcore/pkg/gossip"
)

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// NodeConfig is the configuration for a gossipd node: its identity,
// transport, discovery, and gossip-engine tuning.
type NodeConfig struct {
	Version   int             `yaml:"version,omitempty"`
	Identity  IdentityConfig  `yaml:"identity"`
	Network   NetworkConfig   `yaml:"network"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Security  SecurityConfig  `yaml:"security,omitempty"`
	Gossip    GossipConfig    `yaml:"gossip,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// IdentityConfig holds identity-related configuration.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// NetworkConfig holds transport-related configuration.
type NetworkConfig struct {
	ListenAddresses       []string `yaml:"listen_addresses"`
	ResourceLimitsEnabled bool     `yaml:"resource_limits_enabled,omitempty"`
}

// DiscoveryConfig holds peer-discovery configuration.
type DiscoveryConfig struct {
	Rendezvous       string        `yaml:"rendezvous"`
	BootstrapPeers   []string      `yaml:"bootstrap_peers,omitempty"`
	MDNSEnabled      *bool         `yaml:"mdns_enabled,omitempty"`      // LAN peer discovery (default: true)
	AnnounceInterval time.Duration `yaml:"announce_interval,omitempty"` // how often to re-broadcast an ANNOUNCE
}

// IsMDNSEnabled returns whether mDNS local discovery is enabled.
// Defaults to true when not explicitly set in config.
func (d *DiscoveryConfig) IsMDNSEnabled() bool {
	if d.MDNSEnabled == nil {
		return true
	}
	return *d.MDNSEnabled
}

// SecurityConfig holds connection-gating configuration.
type SecurityConfig struct {
	AuthorizedKeysFile     string           `yaml:"authorized_keys_file,omitempty"`
	EnableConnectionGating bool             `yaml:"enable_connection_gating,omitempty"`
	Enrollment             EnrollmentConfig `yaml:"enrollment,omitempty"`
}

// EnrollmentConfig controls first-contact pairing: while enabled, an
// unrecognized peer is admitted on probation instead of being dropped
// outright, giving an operator a window to promote it into
// authorized_keys (e.g. after confirming a shared passphrase exchanged
// out of band). Probation peers that aren't promoted within Timeout are
// disconnected.
type EnrollmentConfig struct {
	Enabled bool          `yaml:"enabled,omitempty"`
	Limit   int           `yaml:"limit,omitempty"`   // max concurrent probation peers
	Timeout time.Duration `yaml:"timeout,omitempty"` // eviction window
}

// GossipConfig holds the gossip engine's tuning parameters (§3 of the
// gossip core). Zero values are replaced with gossip.Config's own
// defaults at WithDefaults time, so every field here is optional.
type GossipConfig struct {
	SeenCapacity       int           `yaml:"seen_capacity,omitempty"`
	GCSMaxBytes        int           `yaml:"gcs_max_bytes,omitempty"`
	GCSTargetFPR       float64       `yaml:"gcs_target_fpr,omitempty"`
	PeriodicInterval   time.Duration `yaml:"periodic_interval,omitempty"`
	InitialSyncDelay   time.Duration `yaml:"initial_sync_delay,omitempty"`
	MaxTTL             uint8         `yaml:"max_ttl,omitempty"`
	DefaultTTL         uint8         `yaml:"default_ttl,omitempty"`
	MaxAge             time.Duration `yaml:"max_age,omitempty"`
	ClockSkewTolerance time.Duration `yaml:"clock_skew_tolerance,omitempty"`
}

// ToEngineConfig converts the YAML-facing GossipConfig into a
// gossip.Config, the type the engine actually consumes.
func (g GossipConfig) ToEngineConfig() gossip.Config {
	return gossip.Config{
		SeenCapacity:       g.SeenCapacity,
		GCSMaxBytes:        g.GCSMaxBytes,
		GCSTargetFPR:       g.GCSTargetFPR,
		PeriodicInterval:   g.PeriodicInterval,
		InitialSyncDelay:   g.InitialSyncDelay,
		MaxTTL:             g.MaxTTL,
		DefaultTTL:         g.DefaultTTL,
		MaxAge:             g.MaxAge,
		ClockSkewTolerance: g.ClockSkewTolerance,
	}
}

// TelemetryConfig holds observability settings. Disabled by default.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig controls Prometheus metrics exposure on a dedicated HTTP
// listener, separate from the daemon API socket.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"` // e.g. "127.0.0.1:9091"; no default is applied
}
