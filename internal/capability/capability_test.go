package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestToken_GrantsMatching(t *testing.T) {
	tok := NewToken("file", []string{"*.txt", "data/*.csv"}, []string{"read"}, 0)
	now := time.Now()
	require.True(t, tok.Grants("file", "a.txt", "read", now))
	require.True(t, tok.Grants("file", "data/x.csv", "read", now))
	require.False(t, tok.Grants("file", "a.txt", "write", now), "operation not granted")
	require.False(t, tok.Grants("net", "a.txt", "read", now), "type mismatch")
	require.False(t, tok.Grants("file", "a.bin", "read", now), "pattern mismatch")
	require.False(t, tok.Grants("file", "deep/a.txt", "read", now), "glob must not cross separators")
	require.NotEmpty(t, tok.TokenID)
}

func TestToken_TTLValidity(t *testing.T) {
	tok := NewToken("file", []string{"*"}, []string{"read"}, time.Minute)
	require.True(t, tok.ValidAt(time.Now()))
	require.False(t, tok.ValidAt(time.Now().Add(2*time.Minute)), "expired token")
	require.False(t, tok.ValidAt(tok.IssuedAt.Add(-time.Second)), "not yet issued")

	forever := NewToken("file", []string{"*"}, []string{"read"}, 0)
	require.True(t, forever.ValidAt(time.Now().Add(24*365*time.Hour)))
}

func TestContext_ParentChainLookup(t *testing.T) {
	root := NewContext("root", nil)
	root.Grant(NewToken("file", []string{"*"}, []string{"read"}, 0))
	child := NewContext("child", root)

	require.True(t, child.Check("file", "a.txt", "read"), "child sees ancestor tokens")
	require.False(t, root.Check("file", "a.txt", "write"))
}

// Capability monotonicity: a child context with no new denials passes
// every check its parent passes.
func TestContext_Monotonicity(t *testing.T) {
	parent := NewContext("parent", nil)
	parent.Grant(NewToken("file", []string{"*.txt"}, []string{"read", "write"}, 0))
	parent.Grant(NewToken("net", []string{"api.*"}, []string{"fetch"}, 0))
	child := NewContext("child", parent)
	child.Grant(NewToken("db", []string{"*"}, []string{"query"}, 0))

	checks := [][3]string{
		{"file", "a.txt", "read"},
		{"file", "b.txt", "write"},
		{"net", "api.example", "fetch"},
	}
	for _, c := range checks {
		if parent.Check(c[0], c[1], c[2]) {
			require.True(t, child.Check(c[0], c[1], c[2]), "child lost %v", c)
		}
	}
}

func TestRequire_DeniedErrorCarriesTriple(t *testing.T) {
	ctx := NewContext("empty", nil)
	err := ctx.Require("file", "a.txt", "read")
	require.Error(t, err)
	denied, ok := err.(*DeniedError)
	require.True(t, ok)
	require.Equal(t, "file", denied.Type)
	require.Equal(t, "a.txt", denied.Resource)
	require.Equal(t, "read", denied.Op)
}

// Scoped release: one release per acquisition on every exit path, and
// post-release checks fail for the granted triple.
func TestHandle_ScopedRelease(t *testing.T) {
	ctx := NewContext("scope", nil)
	h := WithScopedCapability(ctx, "file", []string{"*"}, []string{"read"})
	require.True(t, ctx.Check("file", "x", "read"))

	h.Release()
	require.False(t, ctx.Check("file", "x", "read"), "post-release check must fail")
	require.True(t, h.Released())

	// second release is a no-op
	h.Release()
	require.True(t, h.Released())
}

func TestHandle_ReleaseOnPanicPath(t *testing.T) {
	ctx := NewContext("scope", nil)
	func() {
		h := WithScopedCapability(ctx, "file", []string{"*"}, []string{"read"})
		defer h.Release()
		defer func() { recover() }()
		panic("exceptional exit")
	}()
	require.False(t, ctx.Check("file", "x", "read"), "release must happen on exception exits")
}

// LIFO layering: releasing the top layer restores exactly the state
// before its acquisition.
func TestHandle_LIFOLayering(t *testing.T) {
	ctx := NewContext("stack", nil)
	h1 := WithScopedCapability(ctx, "file", []string{"*"}, []string{"read"})
	h2 := WithScopedCapability(ctx, "file", []string{"*"}, []string{"write"})

	require.True(t, ctx.Check("file", "x", "read"))
	require.True(t, ctx.Check("file", "x", "write"))

	h2.Release()
	require.True(t, ctx.Check("file", "x", "read"))
	require.False(t, ctx.Check("file", "x", "write"))

	h1.Release()
	require.False(t, ctx.Check("file", "x", "read"))
}

func TestContext_PerTaskIsolation(t *testing.T) {
	parent := NewContext("parent", nil)
	parent.Grant(NewToken("file", []string{"*"}, []string{"read"}, 0))

	done := make(chan bool)
	go func() {
		// each task layers its own context over the shared parent
		task := NewContext("task", parent)
		h := WithScopedCapability(task, "net", []string{"*"}, []string{"fetch"})
		defer h.Release()
		done <- task.Check("net", "x", "fetch") && task.Check("file", "x", "read")
	}()
	require.True(t, <-done)
	require.False(t, parent.Check("net", "x", "fetch"), "task-local grants must not leak upward")
}

func TestToken_InvalidPatternNeverMatches(t *testing.T) {
	tok := NewToken("file", []string{"[bad"}, []string{"read"}, 0)
	require.False(t, tok.Grants("file", "[bad", "read", time.Now()))
}
