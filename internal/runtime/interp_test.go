package runtime

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"mlc/internal/capability"
	"mlc/internal/parser"
	"mlc/internal/safeattr"
	"mlc/internal/source"
	"mlc/internal/transform"
	"mlc/internal/value"
)

type fixture struct {
	rt  *Runtime
	ctx *capability.Context
}

func newFixture(t *testing.T, limits Limits) *fixture {
	t.Helper()
	attrs := safeattr.NewRegistry()
	require.NoError(t, safeattr.RegisterDefaults(attrs))
	host := NewHostRegistry()
	require.NoError(t, RegisterBuiltins(host))
	require.NoError(t, RegisterFileModule(host))
	ctx := capability.NewContext("test", nil)
	return &fixture{rt: New(host, attrs, ctx, limits), ctx: ctx}
}

func (f *fixture) run(t *testing.T, src string) (value.Value, error) {
	t.Helper()
	tree, diags := parser.Parse(source.NewUnit("run.ml", src))
	require.False(t, diags.HasErrors(), "parse: %v", diags)
	transform.Apply(tree)
	return Execute(tree, f.rt)
}

func (f *fixture) mustRun(t *testing.T, src string) value.Value {
	t.Helper()
	out, err := f.run(t, src)
	require.NoError(t, err)
	return out
}

func TestExecute_ArithmeticRoundTrip(t *testing.T) {
	f := newFixture(t, Limits{})
	out := f.mustRun(t, "x = 2 + 3 * 4; return x;")
	require.Equal(t, int64(14), out)
}

func TestExecute_ControlFlow(t *testing.T) {
	f := newFixture(t, Limits{})
	out := f.mustRun(t, `
total = 0;
for i in [1, 2, 3, 4, 5] {
  if (i % 2 == 1) { total = total + i; } else { continue; }
  if (total > 8) { break; }
}
return total;
`)
	require.Equal(t, int64(9), out)
}

func TestExecute_FunctionsAndClosures(t *testing.T) {
	f := newFixture(t, Limits{})
	out := f.mustRun(t, `
function make_counter() {
  n = 0;
  bump = fn() => { nonlocal n; n = n + 1; return n; };
  return bump;
}
c = make_counter();
c();
c();
return c();
`)
	require.Equal(t, int64(3), out)
}

func TestExecute_ThrowAndCatch(t *testing.T) {
	f := newFixture(t, Limits{})
	out := f.mustRun(t, `
try {
  throw { message: "boom" };
} except (e) {
  return e.message;
}
`)
	require.Equal(t, "boom", out)
}

func TestExecute_FinallyRunsOnBothPaths(t *testing.T) {
	f := newFixture(t, Limits{})
	out := f.mustRun(t, `
log = [];
try {
  log.push("body");
  throw { message: "x" };
} except (e) {
  log.push("handler");
} finally {
  log.push("finally");
}
return log.join(",");
`)
	require.Equal(t, "body,handler,finally", out)
}

func TestExecute_UncaughtThrow(t *testing.T) {
	f := newFixture(t, Limits{})
	_, err := f.run(t, `throw { message: "unhandled" };`)
	var throw *ThrowError
	require.ErrorAs(t, err, &throw)
}

func TestExecute_SafeAttrOnString(t *testing.T) {
	f := newFixture(t, Limits{})
	out := f.mustRun(t, `s = "Hello World"; return s.upper();`)
	require.Equal(t, "HELLO WORLD", out)

	out = f.mustRun(t, `s = "a,b,c"; return s.split(",");`)
	arr, ok := out.(*value.Array)
	require.True(t, ok)
	require.Len(t, arr.Elems, 3)
}

// Safe-attribute enforcement: a non-whitelisted attribute raises the
// uniform error with no information about the underlying attribute.
func TestExecute_SafeAttrEnforcement(t *testing.T) {
	f := newFixture(t, Limits{})
	_, err := f.run(t, `s = "abc"; return s.__class__;`)
	var notSafe *safeattr.NotSafeError
	require.ErrorAs(t, err, &notSafe)
	require.NotContains(t, err.Error(), "type")
	require.Contains(t, err.Error(), "not available")

	_, err = f.run(t, `s = "abc"; return s.definitely_missing;`)
	require.ErrorAs(t, err, &notSafe)
}

func TestSafeAttr_DunderRejectedWithoutRegistryConsult(t *testing.T) {
	f := newFixture(t, Limits{})
	_, err := f.rt.SafeAttr("s", "__class__")
	var notSafe *safeattr.NotSafeError
	require.ErrorAs(t, err, &notSafe)
	// object data entries never unlock dunders either
	obj := value.NewObject()
	obj.Entries["__class__"] = "smuggled"
	_, err = f.rt.SafeAttr(obj, "__class__")
	require.ErrorAs(t, err, &notSafe)
}

func TestExecute_ObjectDataBeforeRegistry(t *testing.T) {
	f := newFixture(t, Limits{})
	out := f.mustRun(t, `o = { keys: "data wins", other: 1 }; return o.keys;`)
	require.Equal(t, "data wins", out)

	// without a data entry the registry method applies
	out = f.mustRun(t, `o = { a: 1, b: 2 }; return o.keys();`)
	arr, ok := out.(*value.Array)
	require.True(t, ok)
	require.Equal(t, []value.Value{"a", "b"}, arr.Elems)
}

func TestExecute_CapabilityDenialCarriesTriple(t *testing.T) {
	f := newFixture(t, Limits{})
	_, err := f.run(t, `import file; x = file.read("a.txt"); return x;`)
	var denied *capability.DeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "file", denied.Type)
	require.Equal(t, "a.txt", denied.Resource)
	require.Equal(t, "read", denied.Op)
}

func TestExecute_CapabilityGrantedReachesPolicy(t *testing.T) {
	f := newFixture(t, Limits{})
	dir := t.TempDir()
	f.rt.FS = &FSPolicy{Root: dir, Allowed: []string{"*.txt"}}
	require.NoError(t, writeFileHelper(dir+"/a.txt", "contents"))

	h := capability.WithScopedCapability(f.ctx, "file", []string{"*.txt"}, []string{"read"})
	defer h.Release()

	out := f.mustRun(t, `import file; return file.read("a.txt");`)
	require.Equal(t, "contents", out)
}

func TestExecute_CapabilityDenialCatchable(t *testing.T) {
	f := newFixture(t, Limits{})
	out := f.mustRun(t, `
import file;
try {
  x = file.read("a.txt");
} except (e) {
  return e.kind;
}
`)
	require.Equal(t, "capability_denied", out)
}

func TestExecute_BuiltinPrintCaptured(t *testing.T) {
	f := newFixture(t, Limits{})
	f.mustRun(t, `print("hello", 42);`)
	require.Equal(t, "hello 42\n", f.rt.Stdout.String())
}

func TestExecute_Builtins(t *testing.T) {
	f := newFixture(t, Limits{})
	require.Equal(t, int64(3), f.mustRun(t, `return len("abc");`))
	require.Equal(t, "14", f.mustRun(t, `return str(14);`))
	require.Equal(t, int64(3), f.mustRun(t, `return int("3");`))
	require.Equal(t, "number", f.mustRun(t, `return typeof(1.5);`))
	out := f.mustRun(t, `total = 0; for i in range(5) { total = total + i; } return total;`)
	require.Equal(t, int64(10), out)
}

func TestExecute_StepLimitTimeout(t *testing.T) {
	f := newFixture(t, Limits{StepLimit: 10_000})
	_, err := f.run(t, `x = 0; while (true) { x = x + 1; }`)
	var limit *LimitError
	require.ErrorAs(t, err, &limit)
	require.Equal(t, "timeout", limit.Reason)
}

func TestExecute_LimitNotCatchable(t *testing.T) {
	f := newFixture(t, Limits{StepLimit: 10_000})
	_, err := f.run(t, `
try {
  x = 0;
  while (true) { x = x + 1; }
} except (e) {
  return "caught";
}
`)
	var limit *LimitError
	require.ErrorAs(t, err, &limit, "resource limits must not be catchable")
}

func TestExecute_SecurityCriticalNotCatchable(t *testing.T) {
	f := newFixture(t, Limits{})
	// An unregistered import raises SecurityCritical, which compiled
	// try/except must not swallow.
	_, err := f.run(t, `
try {
  import osmodule;
} except (e) {
  return "caught";
}
`)
	var critical *SecurityCriticalError
	require.ErrorAs(t, err, &critical)
}

func TestExecute_SlicesAndIndexing(t *testing.T) {
	f := newFixture(t, Limits{})
	require.Equal(t, "b", f.mustRun(t, `a = ["a", "b", "c"]; return a[1];`))
	require.Equal(t, "c", f.mustRun(t, `a = ["a", "b", "c"]; return a[-1];`))
	out := f.mustRun(t, `a = [1, 2, 3, 4]; return a[1:3];`)
	arr := out.(*value.Array)
	require.Equal(t, []value.Value{int64(2), int64(3)}, arr.Elems)
	require.Equal(t, "ell", f.mustRun(t, `s = "hello"; return s[1:4];`))
}

func TestExecute_Destructuring(t *testing.T) {
	f := newFixture(t, Limits{})
	require.Equal(t, int64(3), f.mustRun(t, `[a, b] = [1, 2]; return a + b;`))
	out := f.mustRun(t, `
pairs = [[1, "one"], [2, "two"]];
names = [];
for [n, s] in pairs { names.push(s); }
return names.join("-");
`)
	require.Equal(t, "one-two", out)
}

func TestExecute_Pipeline(t *testing.T) {
	f := newFixture(t, Limits{})
	out := f.mustRun(t, `
double = fn(x) => x * 2;
inc = fn(x) => x + 1;
return 5 |> double |> inc;
`)
	require.Equal(t, int64(11), out)
}

func TestSafeCall_UnknownTargetUniformError(t *testing.T) {
	f := newFixture(t, Limits{})
	_, err := f.rt.SafeCall("ghost.fn", nil, false)
	var notSafe *safeattr.NotSafeError
	require.True(t, errors.As(err, &notSafe))
}

func TestSafeAttrSet_OnlyObjectData(t *testing.T) {
	f := newFixture(t, Limits{})
	obj := value.NewObject()
	require.NoError(t, f.rt.SafeAttrSet(obj, "k", int64(1)))
	require.Equal(t, int64(1), obj.Entries["k"])

	err := f.rt.SafeAttrSet("str", "upper", int64(1))
	var notSafe *safeattr.NotSafeError
	require.ErrorAs(t, err, &notSafe)
}

func TestCappedBuffer_Truncation(t *testing.T) {
	b := NewCappedBuffer(8)
	_, _ = b.Write([]byte("0123456789"))
	require.Equal(t, "01234567", b.String())
	require.True(t, b.Truncated())
}

func writeFileHelper(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
