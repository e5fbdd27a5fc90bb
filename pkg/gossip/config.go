package gossip

import "time"

// Default configuration values (§3).
const (
	DefaultSeenCapacity      = 1000
	DefaultGCSMaxBytes       = 400
	DefaultGCSTargetFPR      = 0.01
	DefaultPeriodicInterval  = 30 * time.Second
	DefaultInitialSyncDelay  = 5 * time.Second
	DefaultMaxTTL       uint8 = 10
	DefaultDefaultTTL   uint8 = 5
	DefaultMaxAge            = 5 * time.Minute

	gcsMaxBytesFloor = 128
	gcsMaxBytesCeil  = 1024
)

// Config holds the engine's immutable construction-time parameters
// (§3). Once passed to New, a Config is never mutated.
type Config struct {
	SeenCapacity int

	// GCSMaxBytes bounds the encoded size of a filter this engine
	// builds. Must be in [128, 1024]; DefaultGCSMaxBytes is used when
	// zero.
	GCSMaxBytes int

	// GCSTargetFPR is the target GCS false-positive rate, in (0, 1).
	// DefaultGCSTargetFPR is used when zero.
	GCSTargetFPR float64

	PeriodicInterval  time.Duration
	InitialSyncDelay  time.Duration
	MaxTTL            uint8
	DefaultTTL        uint8

	// MaxAge bounds how far in the past a packet's timestamp may be
	// before a configured SignatureValidator rejects it (§3). Ignored
	// when no validator is set.
	MaxAge time.Duration

	// ClockSkewTolerance bounds how far in the future a packet's
	// timestamp may be. Ignored when no validator is set.
	ClockSkewTolerance time.Duration
}

// WithDefaults returns a copy of c with zero-valued fields replaced by
// the package defaults, and clamps GCSMaxBytes into its valid range.
func (c Config) WithDefaults() Config {
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = DefaultSeenCapacity
	}
	if c.GCSMaxBytes <= 0 {
		c.GCSMaxBytes = DefaultGCSMaxBytes
	}
	if c.GCSMaxBytes < gcsMaxBytesFloor {
		c.GCSMaxBytes = gcsMaxBytesFloor
	}
	if c.GCSMaxBytes > gcsMaxBytesCeil {
		c.GCSMaxBytes = gcsMaxBytesCeil
	}
	if c.GCSTargetFPR <= 0 || c.GCSTargetFPR >= 1 {
		c.GCSTargetFPR = DefaultGCSTargetFPR
	}
	if c.PeriodicInterval <= 0 {
		c.PeriodicInterval = DefaultPeriodicInterval
	}
	if c.InitialSyncDelay <= 0 {
		c.InitialSyncDelay = DefaultInitialSyncDelay
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = DefaultMaxTTL
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = DefaultDefaultTTL
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}
