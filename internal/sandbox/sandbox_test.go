package sandbox

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mlc/internal/ast"
	"mlc/internal/capability"
	"mlc/internal/parser"
	"mlc/internal/source"
	"mlc/internal/transform"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func buildJob(t *testing.T, src string, limits Limits, tokens ...*capability.Token) *Job {
	t.Helper()
	unit := source.NewUnit("job.ml", src)
	tree, diags := parser.Parse(unit)
	require.False(t, diags.HasErrors(), "parse: %v", diags)
	transform.Apply(tree)
	return &Job{
		UnitPath: unit.Path,
		UnitHash: unit.Hash,
		Nodes:    tree.Arena.Nodes(),
		Root:     tree.Root,
		Tokens:   tokens,
		Limits:   limits,
	}
}

func TestFrames_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	job := &Job{UnitPath: "a.ml", UnitHash: "h", Root: 3}
	require.NoError(t, writeFrame(&buf, job))

	var got Job
	require.NoError(t, readFrame(&buf, &got))
	require.Equal(t, "a.ml", got.UnitPath)
	require.Equal(t, ast.NodeID(3), got.Root)
}

func TestFrames_NodePayloadsSurviveJSON(t *testing.T) {
	job := buildJob(t, `x = 2; y = 2.5; return x;`, Limits{})
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, job))
	var got Job
	require.NoError(t, readFrame(&buf, &got))

	res := RunJob(&got, nil)
	require.True(t, res.Success, "error: %v", res.Error)
	require.Equal(t, int64(2), res.ReturnValue, "integer literal must stay integral across the pipe")
}

func TestFrames_OversizeRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	var got Job
	require.Error(t, readFrame(&buf, &got))
}

func TestRunJob_ArithmeticSuccess(t *testing.T) {
	res := RunJob(buildJob(t, "x = 2 + 3 * 4; return x;", Limits{}), nil)
	require.True(t, res.Success)
	require.Equal(t, ExitOK, res.ExitReason)
	require.Equal(t, int64(14), res.ReturnValue)
	require.GreaterOrEqual(t, res.PeakMemoryBytes, int64(0))
}

func TestRunJob_CapabilityDenied(t *testing.T) {
	res := RunJob(buildJob(t, `import file; x = file.read("a.txt");`, Limits{}), nil)
	require.False(t, res.Success)
	require.Equal(t, ExitCapabilityDenied, res.ExitReason)
	require.NotNil(t, res.Error)
	require.Equal(t, "file", res.Error.Type)
	require.Equal(t, "a.txt", res.Error.Resource)
	require.Equal(t, "read", res.Error.Op)
}

func TestRunJob_CapabilityGranted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeTemp(dir+"/a.txt", "payload"))
	tok := capability.NewToken("file", []string{"*.txt"}, []string{"read"}, 0)
	job := buildJob(t, `import file; return file.read("a.txt");`, Limits{
		FSRoot:            dir,
		FSAllowedPatterns: []string{"*.txt"},
	}, tok)
	res := RunJob(job, nil)
	require.True(t, res.Success, "error: %v", res.Error)
	require.Equal(t, "payload", res.ReturnValue)
}

// Sandbox timeout: the infinite loop is terminated by the CPU budget
// and reports the timeout exit reason with captured output intact.
func TestRunJob_Timeout(t *testing.T) {
	job := buildJob(t, `print("started"); x = 0; while (true) { x = x + 1; }`, Limits{
		CPUSeconds:       0.001, // 5000 interpreter steps
		WallclockSeconds: 2,
	})
	res := RunJob(job, nil)
	require.False(t, res.Success)
	require.Equal(t, ExitTimeout, res.ExitReason)
	require.Equal(t, "started\n", res.Stdout, "captured prefix must survive the kill")
}

func TestRunJob_StdoutCapped(t *testing.T) {
	job := buildJob(t, `
i = 0;
while (i < 1000) { print("xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"); i = i + 1; }
`, Limits{StdoutCapBytes: 128})
	res := RunJob(job, nil)
	require.True(t, res.Success)
	require.LessOrEqual(t, len(res.Stdout), 128)
}

func TestRunJob_UncaughtThrow(t *testing.T) {
	res := RunJob(buildJob(t, `throw { message: "boom" };`, Limits{}), nil)
	require.False(t, res.Success)
	require.Equal(t, ExitUncaughtThrow, res.ExitReason)
	require.True(t, strings.Contains(res.Error.Message, "boom"))
}

func TestRunJob_SafeAttributeError(t *testing.T) {
	res := RunJob(buildJob(t, `s = "x"; return s.__class__;`, Limits{}), nil)
	require.False(t, res.Success)
	require.Equal(t, ExitSafeAttributeError, res.ExitReason)
	require.NotContains(t, res.Error.Message, "str", "no oracle about the host type")
}

func TestRunJob_FSPolicyBlocksOutsidePaths(t *testing.T) {
	dir := t.TempDir()
	tok := capability.NewToken("file", []string{"*"}, []string{"read"}, 0)
	job := buildJob(t, `
import file;
try {
  return file.read("secret.key");
} except (e) {
  return "blocked";
}
`, Limits{FSRoot: dir, FSAllowedPatterns: []string{"*.txt"}}, tok)
	res := RunJob(job, nil)
	require.True(t, res.Success)
	require.Equal(t, "blocked", res.ReturnValue)
}

func TestLimits_Defaults(t *testing.T) {
	l := Limits{}.withDefaults()
	require.Equal(t, int64(DefaultMemoryLimitBytes), l.MemoryLimitBytes)
	require.Equal(t, DefaultCPUSeconds, l.CPUSeconds)
	require.Equal(t, DefaultWallclockSeconds, l.WallclockSeconds)
	require.Equal(t, DefaultStreamCapBytes, l.StdoutCapBytes)
}

func writeTemp(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
