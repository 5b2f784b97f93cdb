package config

import (
	"time"
)

// WALConfig controls the write-ahead log.
type WALConfig struct {
	// Dir is the segment directory, resolved under DataDir when relative.
	Dir string
	// MaxSegmentMB is the rotation threshold for the active segment.
	MaxSegmentMB int
	// Fsync syncs the active segment on every commit. Commit durability
	// requires it; tests turn it off for speed.
	Fsync bool
	// CompressRotated xz-compresses segments as they rotate out.
	CompressRotated bool
}

// CacheConfig controls the decoded-row cache.
type CacheConfig struct {
	// RowCacheMB is the cache budget in megabytes. 0 disables the cache.
	RowCacheMB int
}

// VacuumConfig controls background version-chain pruning.
type VacuumConfig struct {
	Enabled bool
	// Interval between vacuum sweeps.
	Interval time.Duration
	// BatchSize is the number of chains inspected per paced step.
	BatchSize int
	// RatePerSec limits paced steps per second.
	RatePerSec float64
	// Workers is the pool size for per-table sweeps.
	Workers int
}

// LogConfig controls the engine logger.
type LogConfig struct {
	Level string
}

// Config is the full engine configuration.
type Config struct {
	// DataDir is the root directory for all engine files.
	DataDir string
	WAL     WALConfig
	Cache   CacheConfig
	Vacuum  VacuumConfig
	Log     LogConfig
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./relic-data",
		WAL: WALConfig{
			Dir:             "wal",
			MaxSegmentMB:    16,
			Fsync:           true,
			CompressRotated: true,
		},
		Cache: CacheConfig{
			RowCacheMB: 64,
		},
		Vacuum: VacuumConfig{
			Enabled:    true,
			Interval:   30 * time.Second,
			BatchSize:  256,
			RatePerSec: 100,
			Workers:    2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
