// Package analyze is the context-aware security analyzer. It runs four
// ordered passes over the collected tree: import guard, reflection
// guard, injection guard, and capability gap. Findings become
// diagnostics whose severity comes from a rule-level policy table;
// critical findings halt emission upstream in the coordinator.
package analyze

import (
	"fmt"
	"sort"
	"strings"

	"mlc/internal/ast"
	"mlc/internal/capability"
	"mlc/internal/collect"
	"mlc/internal/diag"
)

// Rule codes, also the keys of the severity policy table.
const (
	CodeDangerousImport   = "dangerous_import"
	CodeReflectionAbuse   = "reflection_abuse"
	CodeCodeInjection     = "code_injection"
	CodeMissingCapability = "missing_capability_context"
)

// Config is the analyzer policy. Zero values fall back to the defaults.
type Config struct {
	// ImportBlacklist lists module names whose import is rejected.
	ImportBlacklist []string `yaml:"import_blacklist"`
	// DeniedAttrPatterns are attribute-name patterns (prefix match for
	// trailing '*', exact otherwise) that the reflection guard flags.
	DeniedAttrPatterns []string `yaml:"denied_attr_patterns"`
	// EvalSinks are callee names treated as dynamic-eval-like.
	EvalSinks []string `yaml:"eval_sinks"`
	// Severities overrides the per-rule severity policy ("info",
	// "warning", "error", "critical"); unknown values keep the default.
	// A finding whose resolved severity is critical blocks emission.
	Severities map[string]string `yaml:"severities"`
	// HostRequirements maps "module.function" to its declared
	// capability requirements, built from the host registry.
	HostRequirements map[string][]capability.Requirement `yaml:"-"`
}

// DefaultConfig returns the shipped policy table.
func DefaultConfig() Config {
	return Config{
		ImportBlacklist: []string{
			"os", "sys", "subprocess", "shutil", "socket", "ctypes",
			"importlib", "builtins", "marshal", "pickle", "signal",
		},
		DeniedAttrPatterns: []string{
			"__*", "getattr", "setattr", "delattr", "globals", "locals",
			"vars", "func_globals", "gi_frame", "cr_frame", "f_back",
			"f_locals", "func_code",
		},
		EvalSinks: []string{"eval", "exec", "compile", "dynamic_eval"},
	}
}

func (c Config) severity(code string, def diag.Severity) diag.Severity {
	if s, ok := c.Severities[code]; ok {
		switch s {
		case "info":
			return diag.Info
		case "warning":
			return diag.Warning
		case "error":
			return diag.Error
		case "critical":
			return diag.Critical
		}
	}
	return def
}

// Result is the analyzer output: diagnostics plus the aggregated
// required-capability manifest for the artifact.
type Result struct {
	Diags    diag.List
	Manifest []capability.Requirement
}

type analyzer struct {
	tree *ast.Tree
	info *collect.Result
	cfg  Config
	res  *Result
}

// Run executes the passes in order and returns the merged result. It
// never fails; a nil collect result only disables kind-aware
// suppression.
func Run(tree *ast.Tree, info *collect.Result, cfg Config) *Result {
	if len(cfg.ImportBlacklist) == 0 && len(cfg.DeniedAttrPatterns) == 0 && len(cfg.EvalSinks) == 0 {
		base := DefaultConfig()
		base.Severities = cfg.Severities
		base.HostRequirements = cfg.HostRequirements
		cfg = base
	}
	a := &analyzer{tree: tree, info: info, cfg: cfg, res: &Result{}}
	a.importGuard()
	a.reflectionGuard()
	a.injectionGuard()
	a.capabilityGap()
	a.finishManifest()
	return a.res
}

func (a *analyzer) report(id ast.NodeID, code string, sev diag.Severity, format string, args ...interface{}) {
	a.res.Diags = a.res.Diags.Add(diag.Diagnostic{
		Severity: a.cfg.severity(code, sev),
		Stage:    diag.StageAnalyze,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Location: a.tree.Loc(id),
	})
}

// importGuard rejects imports of blacklisted host modules.
func (a *analyzer) importGuard() {
	ast.Walk(a.tree.Arena, a.tree.Root, func(id ast.NodeID) bool {
		n := a.tree.Arena.Node(id)
		if n.Kind != ast.Import {
			return true
		}
		for _, banned := range a.cfg.ImportBlacklist {
			if n.Name == banned {
				a.report(id, CodeDangerousImport, diag.Critical,
					"import of %q is blocked by security policy", n.Name)
				break
			}
		}
		return true
	})
}

// matchDenied implements the pattern grammar of DeniedAttrPatterns:
// a trailing '*' makes the pattern a prefix, otherwise exact.
func (a *analyzer) matchDenied(name string) (string, bool) {
	for _, p := range a.cfg.DeniedAttrPatterns {
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(name, strings.TrimSuffix(p, "*")) {
				return p, true
			}
		} else if name == p {
			return p, true
		}
	}
	return "", false
}

// reflectionGuard flags member accesses whose attribute name matches a
// denied pattern: class-chain traversal, builtin-table traversal, code
// object introspection.
func (a *analyzer) reflectionGuard() {
	ast.Walk(a.tree.Arena, a.tree.Root, func(id ast.NodeID) bool {
		n := a.tree.Arena.Node(id)
		if n.Kind != ast.MemberAccess {
			return true
		}
		if pat, hit := a.matchDenied(n.Name); hit {
			a.report(id, CodeReflectionAbuse, diag.Critical,
				"attribute %q matches denied pattern %q", n.Name, pat)
		}
		return true
	})
}

// injectionGuard flags dynamically built strings flowing into
// eval-like sinks. Plain literal arguments are declared-safe context
// and suppressed; anything string-built or of unknown kind is flagged.
func (a *analyzer) injectionGuard() {
	sinks := make(map[string]struct{}, len(a.cfg.EvalSinks))
	for _, s := range a.cfg.EvalSinks {
		sinks[s] = struct{}{}
	}
	ast.Walk(a.tree.Arena, a.tree.Root, func(id ast.NodeID) bool {
		n := a.tree.Arena.Node(id)
		if n.Kind != ast.FunctionCall || len(n.Children) == 0 {
			return true
		}
		callee := a.tree.Arena.Node(n.Children[0])
		name := ""
		switch callee.Kind {
		case ast.Identifier:
			name = callee.Name
		case ast.MemberAccess:
			name = callee.Name
		}
		if _, isSink := sinks[name]; !isSink {
			return true
		}
		for _, arg := range n.Children[1:] {
			if a.isDynamicString(arg) {
				a.report(arg, CodeCodeInjection, diag.Critical,
					"dynamically built string flows into eval-like sink %q", name)
			}
		}
		return true
	})
}

// isDynamicString reports whether the expression builds a string at
// runtime. Literals are safe; concatenations and non-literal values of
// string or unknown kind are not.
func (a *analyzer) isDynamicString(id ast.NodeID) bool {
	n := a.tree.Arena.Node(id)
	switch n.Kind {
	case ast.Literal:
		return false
	case ast.Binary:
		if n.Op != "+" {
			return false
		}
		if a.info == nil {
			return true
		}
		k := a.info.KindOf(id)
		return k == collect.KindString || k == collect.KindUnknown
	case ast.Identifier, ast.FunctionCall, ast.MemberAccess, ast.ArrayAccess, ast.Ternary:
		if a.info == nil {
			return true
		}
		k := a.info.KindOf(id)
		return k == collect.KindString || k == collect.KindUnknown
	}
	return false
}

// capabilityGap aggregates the required-capability manifest and warns
// on call sites with no matching program-level declaration.
func (a *analyzer) capabilityGap() {
	declared := a.declaredCapabilities()
	ast.Walk(a.tree.Arena, a.tree.Root, func(id ast.NodeID) bool {
		n := a.tree.Arena.Node(id)
		if n.Kind != ast.FunctionCall || len(n.Children) == 0 {
			return true
		}
		callee := a.tree.Arena.Node(n.Children[0])
		if callee.Kind != ast.MemberAccess || len(callee.Children) == 0 {
			return true
		}
		obj := a.tree.Arena.Node(callee.Children[0])
		if obj.Kind != ast.Identifier {
			return true
		}
		target := obj.Name + "." + callee.Name
		reqs, ok := a.cfg.HostRequirements[target]
		if !ok {
			return true
		}
		a.res.Manifest = append(a.res.Manifest, reqs...)
		for _, req := range reqs {
			if ops, ok := declared[req.Type]; ok {
				if _, ok := ops[req.Op]; ok {
					continue
				}
			}
			a.report(id, CodeMissingCapability, diag.Warning,
				"call to %s requires capability (%s, %s) with no declaration in scope", target, req.Type, req.Op)
		}
		return true
	})
}

// declaredCapabilities collects program-scope capability declarations
// as type -> allowed operations.
func (a *analyzer) declaredCapabilities() map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	arena := a.tree.Arena
	if !arena.Valid(a.tree.Root) {
		return out
	}
	for _, ch := range arena.Node(a.tree.Root).Children {
		n := arena.Node(ch)
		if n.Kind != ast.CapabilityDecl {
			continue
		}
		ops := out[n.Name]
		if ops == nil {
			ops = make(map[string]struct{})
			out[n.Name] = ops
		}
		for _, cl := range n.Children {
			clause := arena.Node(cl)
			if clause.Kind == ast.PermissionGrant {
				if op, ok := clause.Value.(string); ok {
					ops[op] = struct{}{}
				}
			}
		}
	}
	return out
}

// finishManifest sorts and dedupes the manifest so artifacts are
// deterministic.
func (a *analyzer) finishManifest() {
	m := a.res.Manifest
	sort.Slice(m, func(i, j int) bool {
		if m[i].Type != m[j].Type {
			return m[i].Type < m[j].Type
		}
		return m[i].Op < m[j].Op
	})
	out := m[:0]
	var last capability.Requirement
	for i, r := range m {
		if i > 0 && r == last {
			continue
		}
		out = append(out, r)
		last = r
	}
	a.res.Manifest = out
}
