package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.GCThresholdBytes != 1<<20 {
		t.Errorf("GCThresholdBytes = %d, want %d", cfg.GCThresholdBytes, 1<<20)
	}
	if cfg.GCGrowthFactor != 2.0 {
		t.Errorf("GCGrowthFactor = %f, want 2.0", cfg.GCGrowthFactor)
	}
	if cfg.MaxCallDepth != 256 {
		t.Errorf("MaxCallDepth = %d, want 256", cfg.MaxCallDepth)
	}
	if cfg.SpillCapacity != 16 {
		t.Errorf("SpillCapacity = %d, want 16", cfg.SpillCapacity)
	}
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`
gc_threshold_bytes: 4096
gc_growth_factor: 1.5
max_call_depth: 32
trace_gc: true
`)
	cfg, err := Parse(data, "test.yaml")
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	if cfg.GCThresholdBytes != 4096 {
		t.Errorf("GCThresholdBytes = %d, want 4096", cfg.GCThresholdBytes)
	}
	if cfg.GCGrowthFactor != 1.5 {
		t.Errorf("GCGrowthFactor = %f, want 1.5", cfg.GCGrowthFactor)
	}
	if cfg.MaxCallDepth != 32 {
		t.Errorf("MaxCallDepth = %d, want 32", cfg.MaxCallDepth)
	}
	if !cfg.TraceGC {
		t.Errorf("TraceGC = false, want true")
	}
	// Omitted fields keep their defaults.
	if cfg.SpillCapacity != 16 {
		t.Errorf("SpillCapacity = %d, want default 16", cfg.SpillCapacity)
	}
	// Pool size follows the overridden call depth.
	if cfg.WindowPoolSize != 33 {
		t.Errorf("WindowPoolSize = %d, want 33", cfg.WindowPoolSize)
	}
}

func TestParseEmptyEqualsDefault(t *testing.T) {
	cfg, err := Parse(nil, "empty.yaml")
	if err != nil {
		t.Fatalf("Parse of empty input failed: %s", err)
	}
	if cfg != Default() {
		t.Errorf("empty config = %+v, want defaults %+v", cfg, Default())
	}
}

func TestParseRejectsBadGrowthFactor(t *testing.T) {
	_, err := Parse([]byte("gc_growth_factor: 0.5\n"), "bad.yaml")
	if err == nil {
		t.Fatalf("Parse accepted a growth factor below 1.0")
	}
	if !strings.Contains(err.Error(), "gc_growth_factor") {
		t.Errorf("error %q does not name the offending field", err)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("gc_threshold_bytes: [oops\n"), "bad.yaml"); err == nil {
		t.Errorf("Parse accepted malformed yaml")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regvm.yaml")
	if err := os.WriteFile(path, []byte("max_call_depth: 8\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %s", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %s", err)
	}
	if cfg.MaxCallDepth != 8 {
		t.Errorf("MaxCallDepth = %d, want 8", cfg.MaxCallDepth)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("Load succeeded on a missing file")
	}
}
