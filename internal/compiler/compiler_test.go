package compiler

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mlc/internal/capability"
	"mlc/internal/config"
	"mlc/internal/diag"
	"mlc/internal/optimize"
	"mlc/internal/sandbox"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	cfg := config.DefaultConfig()
	comp, err := New(cfg)
	require.NoError(t, err)
	return comp
}

func TestCompile_ArithmeticRoundTrip(t *testing.T) {
	comp := newTestCompiler(t)
	artifact, res, err := comp.CompileAndRun(context.Background(), "arith.ml",
		"x = 2 + 3 * 4; return x;", RunOptions{})
	require.NoError(t, err)
	require.True(t, artifact.Success())
	require.Equal(t, StageEmitted, artifact.State)
	require.GreaterOrEqual(t, artifact.RewriteLog.Count(optimize.RewriteConstantFold), 1,
		"transformation log must show at least one constant fold")
	require.True(t, res.Success)
	require.Equal(t, int64(14), res.ReturnValue)
	require.Equal(t, ExitSuccess, ExitCode(artifact, res))
}

func TestCompile_DangerousImportBlocked(t *testing.T) {
	comp := newTestCompiler(t)
	artifact, err := comp.Compile(context.Background(), "danger.ml",
		`import os; os.system("rm -rf /");`)
	require.NoError(t, err)
	require.True(t, artifact.Critical())
	require.Empty(t, artifact.TargetSource, "critical diagnostics must block emission")
	require.Equal(t, StageFailed, artifact.State)

	found := false
	for _, d := range artifact.Diagnostics {
		if d.Code == "dangerous_import" {
			found = true
			require.Equal(t, diag.Critical, d.Severity)
			require.Equal(t, 1, d.Location.Span.Start.Line)
		}
	}
	require.True(t, found, "diagnostics: %v", artifact.Diagnostics)
	require.Equal(t, ExitSecurityBlock, ExitCode(artifact, nil))
}

func TestCompileAndRun_CapabilityDenialAndGrant(t *testing.T) {
	comp := newTestCompiler(t)
	dir := t.TempDir()
	require.NoError(t, writeFile(t, dir+"/a.txt", "file body"))
	src := `import file; x = file.read("a.txt"); return x;`
	limits := sandbox.Limits{
		FSRoot:            dir,
		FSAllowedPatterns: []string{"*.txt"},
		WallclockSeconds:  5,
	}

	// no tokens: denied with the full triple
	artifact, res, err := comp.CompileAndRun(context.Background(), "cap.ml", src,
		RunOptions{Limits: &limits})
	require.NoError(t, err)
	require.True(t, artifact.Success())
	require.False(t, res.Success)
	require.Equal(t, sandbox.ExitCapabilityDenied, res.ExitReason)
	require.Equal(t, "file", res.Error.Type)
	require.Equal(t, "a.txt", res.Error.Resource)
	require.Equal(t, "read", res.Error.Op)
	require.Equal(t, ExitRuntimeFail, ExitCode(artifact, res))

	// matching token: success
	tok := capability.NewToken("file", []string{"*.txt"}, []string{"read"}, 0)
	_, res, err = comp.CompileAndRun(context.Background(), "cap.ml", src,
		RunOptions{Tokens: []*capability.Token{tok}, Limits: &limits})
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)
	require.Equal(t, "file body", res.ReturnValue)

	// the artifact manifest names the requirement
	require.Contains(t, artifact.RequiredCapabilities, capability.Requirement{Type: "file", Op: "read"})
}

func TestCompileAndRun_SafeAttributeEnforcement(t *testing.T) {
	comp := newTestCompiler(t)
	// 'reverse' is not whitelisted for strings; the analyzer has no
	// opinion about it, so enforcement happens at runtime.
	artifact, res, err := comp.CompileAndRun(context.Background(), "attr.ml",
		`s = "abc"; return s.reverse();`, RunOptions{})
	require.NoError(t, err)
	require.True(t, artifact.Success())
	require.False(t, res.Success)
	require.Equal(t, sandbox.ExitSafeAttributeError, res.ExitReason)
	require.NotContains(t, res.Error.Message, "exists")
	require.Contains(t, res.Error.Message, "not available")
}

func TestCompile_CriticalBlocksReflectionProbe(t *testing.T) {
	comp := newTestCompiler(t)
	artifact, err := comp.Compile(context.Background(), "probe.ml",
		`s = "abc"; return s.__class__;`)
	require.NoError(t, err)
	require.True(t, artifact.Critical(), "class-chain traversal must be blocked statically")
	require.Empty(t, artifact.TargetSource)
}

func TestCompile_SourceMapAndBreakpoint(t *testing.T) {
	comp := newTestCompiler(t)
	src := "x = 1;\nx = 2;\nx = 3;\nx = 4;\nx = 5;\nx = 6;\nthrow { message: \"boom\" };\n"

	// breakpoint set before compilation stays pending
	bp := comp.Breakpoints().Set("bp.ml", 7)
	require.Equal(t, "pending", string(bp.State))

	artifact, err := comp.Compile(context.Background(), "bp.ml", src)
	require.NoError(t, err)
	require.True(t, artifact.Success())

	// the breakpoint activated on compile and resolves to the raise site
	got, ok := comp.Breakpoints().Get(bp.ID)
	require.True(t, ok)
	require.Equal(t, "active", string(got.State))
	require.NotEmpty(t, got.GenLines)

	lines := strings.Split(artifact.TargetSource, "\n")
	raise := 0
	for i, l := range lines {
		if strings.Contains(l, "raise MLThrow") {
			raise = i + 1
		}
	}
	require.Contains(t, got.GenLines, raise, "breakpoint on line 7 must resolve to the generated raise site")
}

func TestCompile_Idempotent(t *testing.T) {
	comp := newTestCompiler(t)
	src := `function f(a) { return a * 2; } return f(21);`
	a1, err := comp.Compile(context.Background(), "idem.ml", src)
	require.NoError(t, err)
	a2, err := comp.Compile(context.Background(), "idem.ml", src)
	require.NoError(t, err)
	require.Equal(t, a1.UnitHash, a2.UnitHash)
	require.Equal(t, a1.TargetSource, a2.TargetSource, "byte-identical target required")
}

func TestCompile_DiagnosticsDeterministic(t *testing.T) {
	cfgA := config.DefaultConfig()
	cfgB := config.DefaultConfig()
	compA, err := New(cfgA)
	require.NoError(t, err)
	compB, err := New(cfgB)
	require.NoError(t, err)

	src := "import os;\nx = ;\ny = a.__class__;\n"
	a, err := compA.Compile(context.Background(), "d.ml", src)
	require.NoError(t, err)
	b, err := compB.Compile(context.Background(), "d.ml", src)
	require.NoError(t, err)
	require.Equal(t, a.Diagnostics, b.Diagnostics, "merged diagnostics must be reproducible")
	// sorted by location then stage then code
	for i := 1; i < len(a.Diagnostics); i++ {
		require.LessOrEqual(t,
			a.Diagnostics[i-1].Location.Compare(a.Diagnostics[i].Location), 0)
	}
}

func TestCompile_CacheHit(t *testing.T) {
	comp := newTestCompiler(t)
	src := "return 1;"
	a1, err := comp.Compile(context.Background(), "c.ml", src)
	require.NoError(t, err)
	a2, err := comp.Compile(context.Background(), "c.ml", src)
	require.NoError(t, err)
	require.Same(t, a1, a2, "second compile must hit the in-memory cache")
	mem, _ := comp.CacheStats()
	require.Equal(t, 1, mem)
}

func TestCompile_DiskCachePersists(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Compiler.CacheDir = dir

	comp1, err := New(cfg)
	require.NoError(t, err)
	a1, err := comp1.Compile(context.Background(), "p.ml", "return 5;")
	require.NoError(t, err)

	// a fresh compiler over the same cache dir finds the artifact
	comp2, err := New(cfg)
	require.NoError(t, err)
	a2, err := comp2.Compile(context.Background(), "p.ml", "return 5;")
	require.NoError(t, err)
	require.Equal(t, a1.TargetSource, a2.TargetSource)
	require.Equal(t, a1.UnitHash, a2.UnitHash)

	// and it still runs after the disk round-trip
	res := sandbox.RunJob(&sandbox.Job{
		UnitPath: a2.UnitPath, UnitHash: a2.UnitHash,
		Nodes: a2.Nodes, Root: a2.Root,
	}, nil)
	require.True(t, res.Success)
	require.Equal(t, int64(5), res.ReturnValue)
}

func TestCompile_OptionsHashChangesKey(t *testing.T) {
	cfg1 := config.DefaultCompilerConfig()
	cfg2 := cfg1
	cfg2.OptionsSalt = "other"
	require.NotEqual(t, cfg1.OptionsHash(), cfg2.OptionsHash())
}

func TestCompile_ParseErrorsStillReachAnalyzer(t *testing.T) {
	comp := newTestCompiler(t)
	// parse error on line 2 must not hide the critical import on line 1
	artifact, err := comp.Compile(context.Background(), "multi.ml", "import os;\nx = ;\n")
	require.NoError(t, err)
	var sawParse, sawImport bool
	for _, d := range artifact.Diagnostics {
		if d.Stage == diag.StageParse {
			sawParse = true
		}
		if d.Code == "dangerous_import" {
			sawImport = true
		}
	}
	require.True(t, sawParse, "parse error expected")
	require.True(t, sawImport, "later stages must still run: %v", artifact.Diagnostics)
}

func TestRegisterHostModule_FrozenAfterCompile(t *testing.T) {
	comp := newTestCompiler(t)
	_, err := comp.Compile(context.Background(), "x.ml", "return 1;")
	require.NoError(t, err)
	err = comp.RegisterHostModule("late", nil)
	require.Error(t, err, "registrations must happen before any compilation")
}

func TestCompile_Cancellation(t *testing.T) {
	comp := newTestCompiler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	artifact, err := comp.Compile(ctx, "c.ml", "return 1;")
	require.NoError(t, err)
	require.Equal(t, StageFailed, artifact.State)
}

func writeFile(t *testing.T, path, content string) error {
	t.Helper()
	return os.WriteFile(path, []byte(content), 0644)
}
