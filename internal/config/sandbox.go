package config

import "fmt"

// SandboxConfig is the default limit set for out-of-process execution.
// Callers may override per run; these are the workspace defaults.
type SandboxConfig struct {
	MemoryLimitMB    int64    `yaml:"memory_limit_mb"`
	CPUSeconds       float64  `yaml:"cpu_seconds"`
	WallclockSeconds float64  `yaml:"wallclock_seconds"`
	DisableNetwork   bool     `yaml:"disable_network"`
	FSAllowed        []string `yaml:"fs_allowed,omitempty"`
	FSRoot           string   `yaml:"fs_root,omitempty"`
	StreamCapKB      int      `yaml:"stream_cap_kb"`
}

// DefaultSandboxConfig returns conservative defaults: closed network,
// no filesystem, modest budgets.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		MemoryLimitMB:    256,
		CPUSeconds:       10,
		WallclockSeconds: 30,
		DisableNetwork:   true,
		StreamCapKB:      64,
	}
}

func (c SandboxConfig) validate() error {
	if c.MemoryLimitMB < 0 || c.CPUSeconds < 0 || c.WallclockSeconds < 0 {
		return fmt.Errorf("sandbox limits must be non-negative")
	}
	if c.WallclockSeconds > 0 && c.CPUSeconds > c.WallclockSeconds*4 {
		return fmt.Errorf("cpu_seconds %v is implausible against wallclock_seconds %v", c.CPUSeconds, c.WallclockSeconds)
	}
	return nil
}
