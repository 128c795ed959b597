// Package config loads and validates the VM runtime configuration.
//
// Configuration arrives from a YAML file (by convention regvm.yaml) or
// from Default() when no file is given. Every knob has a safe default,
// so an empty file and a missing file behave identically.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Runtime holds the tunables for one VM instance.
type Runtime struct {
	// GCThresholdBytes is the allocation volume that triggers the first
	// collection. Defaults to 1 MiB.
	GCThresholdBytes int `yaml:"gc_threshold_bytes,omitempty"`

	// GCGrowthFactor scales the threshold after each collection from the
	// surviving byte count. Defaults to 2.0.
	GCGrowthFactor float64 `yaml:"gc_growth_factor,omitempty"`

	// MaxCallDepth caps the call frame stack. Defaults to 256.
	MaxCallDepth int `yaml:"max_call_depth,omitempty"`

	// WindowPoolSize is the number of typed register windows preallocated
	// for call frames. Defaults to MaxCallDepth + 1 (one per possible
	// frame plus the root window).
	WindowPoolSize int `yaml:"window_pool_size,omitempty"`

	// SpillCapacity is the initial bucket count of the spill table.
	// Rounded up to a power of two. Defaults to 16.
	SpillCapacity int `yaml:"spill_capacity,omitempty"`

	// TraceGC logs each collection cycle to stderr.
	TraceGC bool `yaml:"trace_gc,omitempty"`

	// TraceFallback logs register accesses that miss every routed range
	// and fall back to the modulo-global slot.
	TraceFallback bool `yaml:"trace_fallback,omitempty"`
}

// Default returns the runtime configuration used when no file is given.
func Default() Runtime {
	return Runtime{
		GCThresholdBytes: 1 << 20,
		GCGrowthFactor:   2.0,
		MaxCallDepth:     256,
		WindowPoolSize:   257,
		SpillCapacity:    16,
	}
}

// Load reads and parses a runtime configuration file.
func Load(path string) (Runtime, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Runtime{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse parses runtime configuration from bytes. The path argument is
// used only for error messages.
func Parse(data []byte, path string) (Runtime, error) {
	var cfg Runtime
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Runtime{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return Runtime{}, err
	}
	cfg.setDefaults()
	return cfg, nil
}

// validate checks the configuration for semantic errors.
func (c *Runtime) validate(path string) error {
	if c.GCThresholdBytes < 0 {
		return fmt.Errorf("%s: gc_threshold_bytes must not be negative", path)
	}
	if c.GCGrowthFactor != 0 && c.GCGrowthFactor < 1.0 {
		return fmt.Errorf("%s: gc_growth_factor must be at least 1.0", path)
	}
	if c.MaxCallDepth < 0 {
		return fmt.Errorf("%s: max_call_depth must not be negative", path)
	}
	if c.SpillCapacity < 0 {
		return fmt.Errorf("%s: spill_capacity must not be negative", path)
	}
	if c.WindowPoolSize < 0 {
		return fmt.Errorf("%s: window_pool_size must not be negative", path)
	}
	return nil
}

// setDefaults fills in default values for omitted fields.
func (c *Runtime) setDefaults() {
	d := Default()
	if c.GCThresholdBytes == 0 {
		c.GCThresholdBytes = d.GCThresholdBytes
	}
	if c.GCGrowthFactor == 0 {
		c.GCGrowthFactor = d.GCGrowthFactor
	}
	if c.MaxCallDepth == 0 {
		c.MaxCallDepth = d.MaxCallDepth
	}
	if c.WindowPoolSize == 0 {
		c.WindowPoolSize = c.MaxCallDepth + 1
	}
	if c.SpillCapacity == 0 {
		c.SpillCapacity = d.SpillCapacity
	}
}
