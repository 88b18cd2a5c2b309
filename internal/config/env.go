package config

import (
	"os"
	"strconv"
)

// Environment knobs. Each overrides its config field when set.
const (
	EnvCacheDir         = "MLC_CACHE_DIR"
	EnvOptionsSalt      = "MLC_OPTIONS_SALT"
	EnvSandboxCPU       = "MLC_SANDBOX_CPU_SECONDS"
	EnvSandboxMemoryMB  = "MLC_SANDBOX_MEMORY_MB"
	EnvSandboxWallclock = "MLC_SANDBOX_WALLCLOCK_SECONDS"
)

// applyEnv layers environment overrides onto the loaded config.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.Compiler.CacheDir = v
	}
	if v := os.Getenv(EnvOptionsSalt); v != "" {
		c.Compiler.OptionsSalt = v
	}
	if v := os.Getenv(EnvSandboxCPU); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Sandbox.CPUSeconds = f
		}
	}
	if v := os.Getenv(EnvSandboxMemoryMB); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Sandbox.MemoryLimitMB = n
		}
	}
	if v := os.Getenv(EnvSandboxWallclock); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Sandbox.WallclockSeconds = f
		}
	}
}
