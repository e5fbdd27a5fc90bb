package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// checkConfigFilePermissions returns an error if a config file has overly
// permissive permissions (group/world readable). The identity key file path and
// bootstrap peer list are sensitive enough to warrant 0600.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// rawGossipConfig mirrors GossipConfig but keeps durations as strings, so
// yaml.v3 (which has no built-in time.Duration support) can unmarshal them
// before they're parsed.
type rawGossipConfig struct {
	SeenCapacity       int     `yaml:"seen_capacity,omitempty"`
	GCSMaxBytes        int     `yaml:"gcs_max_bytes,omitempty"`
	GCSTargetFPR       float64 `yaml:"gcs_target_fpr,omitempty"`
	PeriodicInterval   string  `yaml:"periodic_interval,omitempty"`
	InitialSyncDelay   string  `yaml:"initial_sync_delay,omitempty"`
	MaxTTL             uint8   `yaml:"max_ttl,omitempty"`
	DefaultTTL         uint8   `yaml:"default_ttl,omitempty"`
	MaxAge             string  `yaml:"max_age,omitempty"`
	ClockSkewTolerance string  `yaml:"clock_skew_tolerance,omitempty"`
}

func (r rawGossipConfig) resolve() (GossipConfig, error) {
	g := GossipConfig{
		SeenCapacity: r.SeenCapacity,
		GCSMaxBytes:  r.GCSMaxBytes,
		GCSTargetFPR: r.GCSTargetFPR,
		MaxTTL:       r.MaxTTL,
		DefaultTTL:   r.DefaultTTL,
	}
	var err error
	if g.PeriodicInterval, err = parseOptionalDuration(r.PeriodicInterval); err != nil {
		return GossipConfig{}, fmt.Errorf("gossip.periodic_interval: %w", err)
	}
	if g.InitialSyncDelay, err = parseOptionalDuration(r.InitialSyncDelay); err != nil {
		return GossipConfig{}, fmt.Errorf("gossip.initial_sync_delay: %w", err)
	}
	if g.MaxAge, err = parseOptionalDuration(r.MaxAge); err != nil {
		return GossipConfig{}, fmt.Errorf("gossip.max_age: %w", err)
	}
	if g.ClockSkewTolerance, err = parseOptionalDuration(r.ClockSkewTolerance); err != nil {
		return GossipConfig{}, fmt.Errorf("gossip.clock_skew_tolerance: %w", err)
	}
	return g, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// rawDiscoveryConfig mirrors DiscoveryConfig with AnnounceInterval as a
// string, for the same reason as rawGossipConfig.
type rawDiscoveryConfig struct {
	Rendezvous       string   `yaml:"rendezvous"`
	BootstrapPeers   []string `yaml:"bootstrap_peers,omitempty"`
	MDNSEnabled      *bool    `yaml:"mdns_enabled,omitempty"`
	AnnounceInterval string   `yaml:"announce_interval,omitempty"`
}

// rawEnrollmentConfig mirrors EnrollmentConfig with Timeout as a string,
// for the same reason as rawGossipConfig.
type rawEnrollmentConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Limit   int    `yaml:"limit,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

// rawSecurityConfig mirrors SecurityConfig with its nested Enrollment
// timeout as a string, for the same reason as rawGossipConfig.
type rawSecurityConfig struct {
	AuthorizedKeysFile     string              `yaml:"authorized_keys_file,omitempty"`
	EnableConnectionGating bool                `yaml:"enable_connection_gating,omitempty"`
	Enrollment             rawEnrollmentConfig `yaml:"enrollment,omitempty"`
}

func (r rawSecurityConfig) resolve() (SecurityConfig, error) {
	timeout, err := parseOptionalDuration(r.Enrollment.Timeout)
	if err != nil {
		return SecurityConfig{}, fmt.Errorf("security.enrollment.timeout: %w", err)
	}
	return SecurityConfig{
		AuthorizedKeysFile:     r.AuthorizedKeysFile,
		EnableConnectionGating: r.EnableConnectionGating,
		Enrollment: EnrollmentConfig{
			Enabled: r.Enrollment.Enabled,
			Limit:   r.Enrollment.Limit,
			Timeout: timeout,
		},
	}, nil
}

// LoadNodeConfig loads gossipd node configuration from a YAML file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var rawConfig struct {
		Version   int                `yaml:"version,omitempty"`
		Identity  IdentityConfig     `yaml:"identity"`
		Network   NetworkConfig      `yaml:"network"`
		Discovery rawDiscoveryConfig `yaml:"discovery"`
		Security  rawSecurityConfig  `yaml:"security,omitempty"`
		Gossip    rawGossipConfig    `yaml:"gossip,omitempty"`
		Telemetry TelemetryConfig    `yaml:"telemetry,omitempty"`
	}

	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	version := rawConfig.Version
	if version == 0 {
		version = 1
	}
	if version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade gossipd", ErrConfigVersionTooNew, version, CurrentConfigVersion)
	}

	announceInterval, err := parseOptionalDuration(rawConfig.Discovery.AnnounceInterval)
	if err != nil {
		return nil, fmt.Errorf("discovery.announce_interval: %w", err)
	}
	gossipCfg, err := rawConfig.Gossip.resolve()
	if err != nil {
		return nil, err
	}
	securityCfg, err := rawConfig.Security.resolve()
	if err != nil {
		return nil, err
	}

	cfg := &NodeConfig{
		Version:  version,
		Identity: rawConfig.Identity,
		Network:  rawConfig.Network,
		Discovery: DiscoveryConfig{
			Rendezvous:       rawConfig.Discovery.Rendezvous,
			BootstrapPeers:   rawConfig.Discovery.BootstrapPeers,
			MDNSEnabled:      rawConfig.Discovery.MDNSEnabled,
			AnnounceInterval: announceInterval,
		},
		Security:  securityCfg,
		Gossip:    gossipCfg,
		Telemetry: rawConfig.Telemetry,
	}

	return cfg, nil
}

// ValidateNodeConfig validates a loaded node configuration.
func ValidateNodeConfig(cfg *NodeConfig) error {
	if cfg.Identity.KeyFile == "" {
		return fmt.Errorf("identity.key_file is required")
	}
	if len(cfg.Network.ListenAddresses) == 0 {
		return fmt.Errorf("network.listen_addresses must contain at least one address")
	}
	if cfg.Discovery.Rendezvous == "" {
		return fmt.Errorf("discovery.rendezvous is required")
	}
	if cfg.Security.EnableConnectionGating && cfg.Security.AuthorizedKeysFile == "" {
		return fmt.Errorf("security.authorized_keys_file is required when connection gating is enabled")
	}
	if cfg.Gossip.GCSTargetFPR < 0 || cfg.Gossip.GCSTargetFPR >= 1 {
		return fmt.Errorf("gossip.gcs_target_fpr must be in [0, 1)")
	}
	if cfg.Security.Enrollment.Enabled && cfg.Security.Enrollment.Limit < 0 {
		return fmt.Errorf("security.enrollment.limit must not be negative")
	}
	return nil
}

// FindConfigFile searches for a gossipd config file in standard locations.
// Search order: explicitPath (if given), ./gossipd.yaml,
// ~/.config/gossipd/config.yaml, /etc/gossipd/config.yaml.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{"gossipd.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "gossipd", "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("/etc", "gossipd", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s\n\nCreate one, or use --config <path>", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// ResolveConfigPaths resolves relative file paths in the config to be
// relative to the config file's directory, so a config in
// ~/.config/gossipd/ can reference a key file by a relative path.
func ResolveConfigPaths(cfg *NodeConfig, configDir string) {
	if cfg.Identity.KeyFile != "" && !filepath.IsAbs(cfg.Identity.KeyFile) {
		cfg.Identity.KeyFile = filepath.Join(configDir, cfg.Identity.KeyFile)
	}
	if cfg.Security.AuthorizedKeysFile != "" && !filepath.IsAbs(cfg.Security.AuthorizedKeysFile) {
		cfg.Security.AuthorizedKeysFile = filepath.Join(configDir, cfg.Security.AuthorizedKeysFile)
	}
}

// DefaultConfigDir returns the default gossipd config directory
// (~/.config/gossipd).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "gossipd"), nil
}
