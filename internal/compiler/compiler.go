package compiler

import (
	"context"
	"fmt"
	goruntime "runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"mlc/internal/analyze"
	"mlc/internal/ast"
	"mlc/internal/capability"
	"mlc/internal/collect"
	"mlc/internal/config"
	"mlc/internal/diag"
	"mlc/internal/emit"
	"mlc/internal/logging"
	"mlc/internal/optimize"
	"mlc/internal/parser"
	"mlc/internal/patterns"
	"mlc/internal/runtime"
	"mlc/internal/safeattr"
	"mlc/internal/sandbox"
	"mlc/internal/source"
	"mlc/internal/sourcemap"
	"mlc/internal/transform"
	"mlc/internal/validate"
)

// Compiler coordinates the pipeline. Host modules and safe attributes
// must be registered before the first compile; the first compile
// freezes both registries.
type Compiler struct {
	cfg   *config.Config
	host  *runtime.HostRegistry
	attrs *safeattr.Registry
	rules *patterns.Table
	cache *Cache

	resolver *sourcemap.Resolver
}

// New builds a compiler with the default host surface installed:
// builtins, the file module, and the safe attribute defaults.
func New(cfg *config.Config) (*Compiler, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	attrs := safeattr.NewRegistry()
	if err := safeattr.RegisterDefaults(attrs); err != nil {
		return nil, err
	}
	host := runtime.NewHostRegistry()
	if err := runtime.RegisterBuiltins(host); err != nil {
		return nil, err
	}
	if err := runtime.RegisterFileModule(host); err != nil {
		return nil, err
	}

	var rules *patterns.Table
	if cfg.Compiler.PatternRulesPath != "" {
		t, err := patterns.NewTableFromFile(cfg.Compiler.PatternRulesPath, cfg.Compiler.WatchPatternRules)
		if err != nil {
			return nil, fmt.Errorf("pattern rule table: %w", err)
		}
		rules = t
	} else {
		rules = patterns.NewTable()
	}

	var store *Store
	if cfg.Compiler.CacheDir != "" {
		s, err := OpenStore(cfg.Compiler.CacheDir)
		if err != nil {
			return nil, err
		}
		store = s
	}

	return &Compiler{
		cfg:      cfg,
		host:     host,
		attrs:    attrs,
		rules:    rules,
		cache:    NewCache(store),
		resolver: sourcemap.NewResolver(),
	}, nil
}

// RegisterHostModule exposes host functions to compiled code. Must be
// called before the first compile.
func (c *Compiler) RegisterHostModule(name string, entries []runtime.HostEntry) error {
	return c.host.RegisterHostModule(name, entries)
}

// SetSafeAttribute whitelists a host attribute. Must be called before
// the first compile.
func (c *Compiler) SetSafeAttribute(hostType, attr string, kind safeattr.AccessKind, caps []capability.Requirement) error {
	return c.attrs.Register(hostType, attr, kind, caps, "")
}

// Host exposes the host registry (read paths only after freeze).
func (c *Compiler) Host() *runtime.HostRegistry { return c.host }

// Attrs exposes the safe attribute registry.
func (c *Compiler) Attrs() *safeattr.Registry { return c.attrs }

// Breakpoints exposes the breakpoint resolver.
func (c *Compiler) Breakpoints() *sourcemap.Resolver { return c.resolver }

// CacheStats reports artifact cache entry counts (memory, disk).
func (c *Compiler) CacheStats() (int, int) { return c.cache.Stats() }

// ClearCache empties the artifact cache.
func (c *Compiler) ClearCache() error { return c.cache.Clear() }

// Compile runs the full pipeline on one unit. Registrations freeze on
// first use; identical inputs return the cached artifact.
func (c *Compiler) Compile(ctx context.Context, path, src string) (*Artifact, error) {
	c.host.Freeze()
	c.attrs.Freeze()

	unit := source.NewUnit(path, src)
	key := Key(unit.Hash, config.CompilerVersion, c.cfg.Compiler.OptionsHash())

	artifact := c.cache.Do(key, func() *Artifact {
		return c.compileUnit(ctx, unit)
	})
	if artifact == nil {
		return nil, ctx.Err()
	}
	if artifact.SourceMap != nil {
		c.resolver.RegisterIndex(unit.Path, sourcemap.NewDebugIndex(artifact.SourceMap))
	}
	return artifact, nil
}

// compileUnit is the uncached pipeline. Stages keep running past
// non-critical failures so one invocation yields the richest possible
// diagnostic set; critical diagnostics gate emission.
func (c *Compiler) compileUnit(ctx context.Context, unit *source.Unit) *Artifact {
	timer := logging.StartTimer(logging.CategoryBoot, "compile "+unit.Path)
	defer timer.StopWithThreshold(2 * time.Second)

	a := &Artifact{UnitPath: unit.Path, UnitHash: unit.Hash, State: StageLoaded}
	if cancelled(ctx) {
		a.State = StageFailed
		return a
	}

	// C1: parse.
	tree, parseDiags := parser.Parse(unit)
	a.State = StageParsed

	// C2: validate.
	validateDiags := validate.Check(tree)
	a.State = StageValidated

	// C3: transform.
	rewriteLog := transform.Apply(tree)
	a.State = StageTransformed

	// C4: collect. Total; partial info is still useful downstream.
	info := collect.Run(tree)
	a.State = StageCollected
	if cancelled(ctx) {
		a.Diagnostics = diag.Merge(parseDiags, validateDiags, info.Diags)
		a.State = StageFailed
		return a
	}

	// C5 and C6 run concurrently and join before the optimizer. Their
	// merged output is deterministic regardless of finish order.
	hostReqs := c.host.Requirements()
	var analyzeRes *analyze.Result
	var patternDiags diag.List
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		analyzeRes = analyze.Run(tree, info, analyze.Config{
			ImportBlacklist:    c.cfg.Security.ImportBlacklist,
			DeniedAttrPatterns: c.cfg.Security.DeniedAttrPatterns,
			EvalSinks:          c.cfg.Security.EvalSinks,
			Severities:         c.cfg.Security.Severities,
			HostRequirements:   hostReqs,
		})
		return nil
	})
	g.Go(func() error {
		patternDiags = patterns.Veto(unit, patterns.Run(unit, c.rules.Rules()))
		return nil
	})
	_ = g.Wait()
	a.State = StageAnalyzed
	a.RequiredCapabilities = analyzeRes.Manifest

	merged := diag.Merge(parseDiags, validateDiags, info.Diags, analyzeRes.Diags, patternDiags)

	if merged.HasCritical() || cancelled(ctx) {
		a.Diagnostics = merged
		a.State = StageFailed
		logging.Analyze("emission blocked for %s: critical diagnostics", unit.Path)
		return a
	}

	// C7: optimize.
	if c.cfg.Compiler.Optimize {
		optLog := optimize.Apply(tree, optimize.Config{HostRequirements: hostReqs})
		for _, kind := range optLog.Kinds() {
			for i := 0; i < optLog.Count(kind); i++ {
				rewriteLog.Record(kind)
			}
		}
	}
	a.State = StageOptimized
	a.RewriteLog = rewriteLog
	if cancelled(ctx) {
		a.Diagnostics = merged
		a.State = StageFailed
		return a
	}

	// C8: emit.
	emitRes := emit.Emit(tree, info, emit.Config{
		RegisteredModules: c.host.Modules(),
		HostRequirements:  hostReqs,
		Registry:          c.attrs,
		Manifest:          analyzeRes.Manifest,
		CapResources:      declaredResources(tree),
	})
	merged = diag.Merge(merged, emitRes.Diags)
	a.Diagnostics = merged

	if merged.HasErrors() {
		a.State = StageFailed
		return a
	}

	a.TargetSource = emitRes.Target
	a.SourceMap = emitRes.Map
	a.Nodes = tree.Arena.Nodes()
	a.Root = tree.Root
	a.State = StageEmitted
	return a
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// declaredResources maps program capability declarations to their
// resource patterns for the source-map envelope.
func declaredResources(tree *ast.Tree) map[string][]string {
	out := make(map[string][]string)
	if !tree.Arena.Valid(tree.Root) {
		return out
	}
	for _, ch := range tree.Arena.Node(tree.Root).Children {
		n := tree.Arena.Node(ch)
		if n.Kind != ast.CapabilityDecl {
			continue
		}
		for _, cl := range n.Children {
			clause := tree.Arena.Node(cl)
			if clause.Kind == ast.ResourcePattern {
				if pat, ok := clause.Value.(string); ok {
					out[n.Name] = append(out[n.Name], pat)
				}
			}
		}
	}
	return out
}

// RunOptions selects where and with what authority an artifact runs.
type RunOptions struct {
	// Tokens are the capabilities granted to the execution.
	Tokens []*capability.Token
	// Sandbox selects out-of-process execution.
	Sandbox bool
	// Limits override the workspace sandbox defaults when set.
	Limits *sandbox.Limits
}

// CompileAndRun compiles and, when the artifact is clean, executes it.
// The result is nil when compilation failed; exit-code mapping is the
// caller's concern via ExitCode.
func (c *Compiler) CompileAndRun(ctx context.Context, path, src string, opts RunOptions) (*Artifact, *sandbox.Result, error) {
	artifact, err := c.Compile(ctx, path, src)
	if err != nil {
		return nil, nil, err
	}
	if !artifact.Success() {
		return artifact, nil, nil
	}

	limits := c.defaultLimits()
	if opts.Limits != nil {
		limits = *opts.Limits
	}
	job := &sandbox.Job{
		UnitPath: artifact.UnitPath,
		UnitHash: artifact.UnitHash,
		Nodes:    artifact.Nodes,
		Root:     artifact.Root,
		Manifest: artifact.RequiredCapabilities,
		Tokens:   opts.Tokens,
		Limits:   limits,
	}

	if opts.Sandbox {
		exec := &sandbox.Executor{}
		res, err := exec.Run(ctx, job)
		return artifact, res, err
	}
	return artifact, c.runTrusted(job), nil
}

// runTrusted executes in-process against the compiler's own
// registries, so embedding-host modules are available without a
// worker hook.
func (c *Compiler) runTrusted(job *sandbox.Job) *sandbox.Result {
	capCtx := capability.NewContext("trusted", nil)
	handle := capability.WithContext(capCtx, job.Tokens...)
	defer handle.Release()

	limits := job.Limits
	rt := runtime.New(c.host, c.attrs, capCtx, runtime.Limits{
		Deadline:    time.Now().Add(time.Duration(limits.WallclockSeconds * float64(time.Second))),
		MemoryLimit: limits.MemoryLimitBytes,
	})
	rt.FS = &runtime.FSPolicy{
		Root:           limits.FSRoot,
		Allowed:        limits.FSAllowedPatterns,
		DisableNetwork: limits.DisableNetwork,
	}

	tree := &ast.Tree{
		Arena: ast.FromNodes(job.Nodes),
		Root:  job.Root,
		Unit:  &source.Unit{Path: job.UnitPath, Hash: job.UnitHash},
	}

	start := time.Now()
	out, execErr := runtime.Execute(tree, rt)
	elapsed := time.Since(start)

	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)

	res := &sandbox.Result{
		Stdout:          rt.Stdout.String(),
		Stderr:          rt.Stderr.String(),
		WallclockMS:     elapsed.Milliseconds(),
		PeakMemoryBytes: int64(ms.HeapAlloc),
	}
	if execErr == nil {
		res.Success = true
		res.ExitReason = sandbox.ExitOK
		res.ReturnValue = sandbox.ToPlain(out)
		return res
	}
	res.Success = false
	res.ExitReason, res.Error = sandbox.Classify(execErr)
	return res
}

func (c *Compiler) defaultLimits() sandbox.Limits {
	sb := c.cfg.Sandbox
	return sandbox.Limits{
		MemoryLimitBytes:  sb.MemoryLimitMB << 20,
		CPUSeconds:        sb.CPUSeconds,
		WallclockSeconds:  sb.WallclockSeconds,
		DisableNetwork:    sb.DisableNetwork,
		FSAllowedPatterns: sb.FSAllowed,
		FSRoot:            sb.FSRoot,
		StdoutCapBytes:    sb.StreamCapKB * 1024,
		StderrCapBytes:    sb.StreamCapKB * 1024,
	}
}

// Exit codes of the coordinator surface.
const (
	ExitSuccess       = 0
	ExitDiagnostics   = 1
	ExitSecurityBlock = 2
	ExitRuntimeFail   = 3
	ExitUsage         = 4
)

// ExitCode maps a compile (and optional run) outcome to the stable
// CLI exit code.
func ExitCode(a *Artifact, res *sandbox.Result) int {
	if a == nil {
		return ExitUsage
	}
	if a.Critical() {
		return ExitSecurityBlock
	}
	if !a.Success() {
		return ExitDiagnostics
	}
	if res != nil && !res.Success {
		return ExitRuntimeFail
	}
	return ExitSuccess
}
