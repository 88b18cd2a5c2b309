// Package patterns is the breadth half of security analysis: fast
// regex, substring, and unicode screens over raw source text, run in
// parallel with the deep analyzer. It is intentionally over-approximate;
// the merge step vetoes hits that token-level context proves harmless.
package patterns

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"mlc/internal/diag"
)

// RuleKind selects the matching engine for a rule.
type RuleKind string

const (
	KindRegex     RuleKind = "regex"
	KindSubstring RuleKind = "substring"
	KindUnicode   RuleKind = "unicode"
)

// Rule is one entry in the screen table. The table is policy: it ships
// with defaults and may be replaced wholesale from a YAML file.
type Rule struct {
	Code     string   `yaml:"code"`
	Kind     RuleKind `yaml:"kind"`
	Pattern  string   `yaml:"pattern"`
	Severity string   `yaml:"severity"`
	Message  string   `yaml:"message"`

	re *regexp.Regexp
}

func (r *Rule) severity() diag.Severity {
	switch r.Severity {
	case "info":
		return diag.Info
	case "warning":
		return diag.Warning
	case "critical":
		return diag.Critical
	default:
		return diag.Error
	}
}

// compile prepares regex rules; a malformed pattern disables its rule
// and is reported by LoadRules.
func (r *Rule) compile() error {
	if r.Kind != KindRegex {
		return nil
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %s: %w", r.Code, err)
	}
	r.re = re
	return nil
}

// DefaultRules is the embedded screen table: known exploit prefixes,
// zero-width characters, and homoglyph confusables inside identifiers.
func DefaultRules() []Rule {
	rules := []Rule{
		{
			Code:     "zero_width_character",
			Kind:     KindUnicode,
			Pattern:  "zero_width",
			Severity: "critical",
			Message:  "zero-width character in source text",
		},
		{
			Code:     "homoglyph_identifier",
			Kind:     KindUnicode,
			Pattern:  "mixed_script",
			Severity: "critical",
			Message:  "identifier mixes confusable unicode scripts",
		},
		{
			Code:     "dunder_literal",
			Kind:     KindSubstring,
			Pattern:  "__class__",
			Severity: "critical",
			Message:  "class-chain traversal sequence in source",
		},
		{
			Code:     "subclasses_probe",
			Kind:     KindSubstring,
			Pattern:  "__subclasses__",
			Severity: "critical",
			Message:  "subclass-table traversal sequence in source",
		},
		{
			Code:     "globals_probe",
			Kind:     KindSubstring,
			Pattern:  "__globals__",
			Severity: "critical",
			Message:  "globals-table traversal sequence in source",
		},
		{
			Code:     "shell_metachar_exec",
			Kind:     KindRegex,
			Pattern:  `(?i)\b(system|popen|spawn)\s*\(`,
			Severity: "warning",
			Message:  "shell-execution call pattern",
		},
		{
			Code:     "rm_rf_prefix",
			Kind:     KindSubstring,
			Pattern:  "rm -rf",
			Severity: "warning",
			Message:  "destructive shell command literal",
		},
	}
	for i := range rules {
		_ = rules[i].compile()
	}
	return rules
}

// LoadRules reads a rule table from a YAML file. The file replaces the
// default table entirely, which keeps the policy auditable.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	for i := range doc.Rules {
		if err := doc.Rules[i].compile(); err != nil {
			return nil, err
		}
	}
	return doc.Rules, nil
}
