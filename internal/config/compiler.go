package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// CompilerVersion participates in artifact cache keys; bump it on any
// change to emitted output.
const CompilerVersion = "mlc-0.9.0"

// CompilerConfig holds compilation options. OptionsHash() feeds the
// artifact cache key, so every field that changes output must be
// folded in.
type CompilerConfig struct {
	// Optimize enables the rewrite passes (constant folding, dead
	// branches, check elision).
	Optimize bool `yaml:"optimize"`
	// CacheDir is where persistent artifacts live; empty disables the
	// disk cache.
	CacheDir string `yaml:"cache_dir"`
	// OptionsSalt perturbs the options hash, forcing cache misses
	// across incompatible embedding configurations.
	OptionsSalt string `yaml:"options_salt"`
	// PatternRulesPath points at a YAML rule table for the pattern
	// analyzer; empty uses the embedded defaults.
	PatternRulesPath string `yaml:"pattern_rules_path"`
	// WatchPatternRules reloads the rule table on file change.
	WatchPatternRules bool `yaml:"watch_pattern_rules"`
}

// DefaultCompilerConfig returns the shipped compiler options.
func DefaultCompilerConfig() CompilerConfig {
	return CompilerConfig{
		Optimize: true,
	}
}

func (c CompilerConfig) validate() error {
	if c.PatternRulesPath != "" && strings.TrimSpace(c.PatternRulesPath) == "" {
		return fmt.Errorf("pattern_rules_path must not be blank")
	}
	return nil
}

// OptionsHash returns the stable hash of every output-affecting
// option, combined with the salt.
func (c CompilerConfig) OptionsHash() string {
	parts := []string{
		fmt.Sprintf("optimize=%t", c.Optimize),
		"salt=" + c.OptionsSalt,
		"rules=" + c.PatternRulesPath,
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:8])
}
