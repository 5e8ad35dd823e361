// Package config resolves the option set described in spec.md §6.5, in the
// teacher's idiom: a struct populated from COREWAL_*-prefixed environment
// variables, then overridden by functional Opt* setters, then clamped to
// sane minimums — exactly the shape of valuelocmap.resolveConfig and
// ValuesStoreOpts.NewValuesStoreOpts.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds every tunable named in spec.md §6.5.
type Config struct {
	BlockByteBudget           int
	SnapshotRolloverThreshold int
	FragmentRolloverThreshold int
	ManifestCASMaxRetries     int
	GCCutoffAge               time.Duration
	GCMinVersionsToKeep       int
	CacheBytesBudget          int64
	WorkerConcurrency         int

	// ChecksumInterval mirrors the teacher's Config.ChecksumInterval
	// (valuesstore.go); it is resolved and clamped here, and no other
	// package reads it.
	ChecksumInterval int
}

// Opt mutates a Config during Resolve.
type Opt func(*Config)

func OptBlockByteBudget(n int) Opt           { return func(c *Config) { c.BlockByteBudget = n } }
func OptSnapshotRolloverThreshold(n int) Opt { return func(c *Config) { c.SnapshotRolloverThreshold = n } }
func OptFragmentRolloverThreshold(n int) Opt { return func(c *Config) { c.FragmentRolloverThreshold = n } }
func OptManifestCASMaxRetries(n int) Opt     { return func(c *Config) { c.ManifestCASMaxRetries = n } }
func OptGCCutoffAge(d time.Duration) Opt     { return func(c *Config) { c.GCCutoffAge = d } }
func OptGCMinVersionsToKeep(n int) Opt       { return func(c *Config) { c.GCMinVersionsToKeep = n } }
func OptCacheBytesBudget(n int64) Opt        { return func(c *Config) { c.CacheBytesBudget = n } }
func OptWorkerConcurrency(n int) Opt         { return func(c *Config) { c.WorkerConcurrency = n } }
func OptChecksumInterval(n int) Opt          { return func(c *Config) { c.ChecksumInterval = n } }

const envPrefix = "COREWAL_"

func envInt(name string, dflt int) int {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return dflt
}

func envInt64(name string, dflt int64) int64 {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return dflt
}

func envDuration(name string, dflt time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return dflt
}

// Resolve builds a Config from COREWAL_* environment variables, applies
// opts on top, then clamps every field to its minimum sane value the same
// way NewValuesStoreOpts clamps MemTOCPageSize/MemValuesPageSize/etc.
func Resolve(opts ...Opt) *Config {
	c := &Config{
		BlockByteBudget:           envInt("BLOCK_BYTE_BUDGET", 8<<20),
		SnapshotRolloverThreshold: envInt("SNAPSHOT_ROLLOVER_THRESHOLD", 16),
		FragmentRolloverThreshold: envInt("FRAGMENT_ROLLOVER_THRESHOLD", 64),
		ManifestCASMaxRetries:     envInt("MANIFEST_CAS_MAX_RETRIES", 8),
		GCCutoffAge:               envDuration("GC_CUTOFF_AGE", 72*time.Hour),
		GCMinVersionsToKeep:       envInt("GC_MIN_VERSIONS_TO_KEEP", 2),
		CacheBytesBudget:          envInt64("CACHE_BYTES_BUDGET", 1<<30),
		WorkerConcurrency:         envInt("WORKER_CONCURRENCY", runtime.GOMAXPROCS(0)),
		ChecksumInterval:          envInt("CHECKSUM_INTERVAL", 65532),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.BlockByteBudget < 4096 {
		c.BlockByteBudget = 4096
	}
	if c.SnapshotRolloverThreshold < 2 {
		c.SnapshotRolloverThreshold = 2
	}
	if c.FragmentRolloverThreshold < 2 {
		c.FragmentRolloverThreshold = 2
	}
	if c.ManifestCASMaxRetries < 1 {
		c.ManifestCASMaxRetries = 1
	}
	if c.GCMinVersionsToKeep < 1 {
		c.GCMinVersionsToKeep = 1
	}
	if c.CacheBytesBudget < 0 {
		c.CacheBytesBudget = 0
	}
	if c.WorkerConcurrency < 1 {
		c.WorkerConcurrency = 1
	}
	if c.ChecksumInterval < 1024 {
		c.ChecksumInterval = 1024
	}
	return c
}
