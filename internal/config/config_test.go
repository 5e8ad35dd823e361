package config

import (
	"os"
	"testing"
	"time"
)

func TestResolveDefaults(t *testing.T) {
	c := Resolve()
	if c.BlockByteBudget != 8<<20 {
		t.Fatalf("BlockByteBudget = %d, want %d", c.BlockByteBudget, 8<<20)
	}
	if c.WorkerConcurrency < 1 {
		t.Fatalf("WorkerConcurrency = %d, want >= 1", c.WorkerConcurrency)
	}
	if c.GCCutoffAge != 72*time.Hour {
		t.Fatalf("GCCutoffAge = %v, want 72h", c.GCCutoffAge)
	}
}

func TestResolveEnvOverride(t *testing.T) {
	os.Setenv("COREWAL_BLOCK_BYTE_BUDGET", "1048576")
	defer os.Unsetenv("COREWAL_BLOCK_BYTE_BUDGET")

	c := Resolve()
	if c.BlockByteBudget != 1048576 {
		t.Fatalf("BlockByteBudget = %d, want 1048576", c.BlockByteBudget)
	}
}

func TestResolveOptOverridesEnv(t *testing.T) {
	os.Setenv("COREWAL_BLOCK_BYTE_BUDGET", "1048576")
	defer os.Unsetenv("COREWAL_BLOCK_BYTE_BUDGET")

	c := Resolve(OptBlockByteBudget(2048))
	// below the clamp minimum of 4096, so the clamp should win
	if c.BlockByteBudget != 4096 {
		t.Fatalf("BlockByteBudget = %d, want clamped to 4096", c.BlockByteBudget)
	}
}

func TestResolveClampsMinimums(t *testing.T) {
	c := Resolve(
		OptSnapshotRolloverThreshold(0),
		OptFragmentRolloverThreshold(0),
		OptManifestCASMaxRetries(0),
		OptGCMinVersionsToKeep(0),
		OptCacheBytesBudget(-1),
		OptWorkerConcurrency(0),
		OptChecksumInterval(0),
	)
	if c.SnapshotRolloverThreshold < 2 {
		t.Fatalf("SnapshotRolloverThreshold = %d, want >= 2", c.SnapshotRolloverThreshold)
	}
	if c.FragmentRolloverThreshold < 2 {
		t.Fatalf("FragmentRolloverThreshold = %d, want >= 2", c.FragmentRolloverThreshold)
	}
	if c.ManifestCASMaxRetries < 1 {
		t.Fatalf("ManifestCASMaxRetries = %d, want >= 1", c.ManifestCASMaxRetries)
	}
	if c.GCMinVersionsToKeep < 1 {
		t.Fatalf("GCMinVersionsToKeep = %d, want >= 1", c.GCMinVersionsToKeep)
	}
	if c.CacheBytesBudget != 0 {
		t.Fatalf("CacheBytesBudget = %d, want clamped to 0", c.CacheBytesBudget)
	}
	if c.WorkerConcurrency < 1 {
		t.Fatalf("WorkerConcurrency = %d, want >= 1", c.WorkerConcurrency)
	}
	if c.ChecksumInterval < 1024 {
		t.Fatalf("ChecksumInterval = %d, want >= 1024", c.ChecksumInterval)
	}
}
