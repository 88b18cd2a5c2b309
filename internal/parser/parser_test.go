package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mlc/internal/ast"
	"mlc/internal/diag"
	"mlc/internal/source"
)

func parse(t *testing.T, src string) (*ast.Tree, diag.List) {
	t.Helper()
	return Parse(source.NewUnit("test.ml", src))
}

func mustParse(t *testing.T, src string) *ast.Tree {
	t.Helper()
	tree, diags := parse(t, src)
	require.False(t, diags.HasErrors(), "unexpected diagnostics: %v", diags)
	return tree
}

func kids(tree *ast.Tree, id ast.NodeID) []ast.NodeID {
	return tree.Arena.Node(id).Children
}

func TestParse_AssignmentAndArithmetic(t *testing.T) {
	tree := mustParse(t, "x = 2 + 3 * 4; return x;")
	stmts := kids(tree, tree.Root)
	require.Len(t, stmts, 2)

	assign := tree.Arena.Node(stmts[0])
	require.Equal(t, ast.Assignment, assign.Kind)
	target := tree.Arena.Node(assign.Children[0])
	require.Equal(t, ast.Identifier, target.Kind)
	require.Equal(t, "x", target.Name)

	// precedence: 2 + (3 * 4)
	add := tree.Arena.Node(assign.Children[1])
	require.Equal(t, ast.Binary, add.Kind)
	require.Equal(t, "+", add.Op)
	mul := tree.Arena.Node(add.Children[1])
	require.Equal(t, "*", mul.Op)

	ret := tree.Arena.Node(stmts[1])
	require.Equal(t, ast.Return, ret.Kind)
}

func TestParse_LiteralPayloads(t *testing.T) {
	tree := mustParse(t, `a = 42; b = 3.5; c = "hi"; d = true; e = null;`)
	stmts := kids(tree, tree.Root)
	wants := []interface{}{int64(42), 3.5, "hi", true, nil}
	for i, want := range wants {
		lit := tree.Arena.Node(kids(tree, stmts[i])[1])
		require.Equal(t, ast.Literal, lit.Kind)
		require.Equal(t, want, lit.Value)
	}
}

func TestParse_ControlFlow(t *testing.T) {
	tree := mustParse(t, `
if (x > 1) { y = 1; } elif (x > 0) { y = 2; } else { y = 3; }
while (true) { break; }
for item in items { continue; }
`)
	stmts := kids(tree, tree.Root)
	require.Len(t, stmts, 3)

	ifNode := tree.Arena.Node(stmts[0])
	require.Equal(t, ast.If, ifNode.Kind)
	// cond, then, elif, else
	require.Len(t, ifNode.Children, 4)
	require.Equal(t, ast.Elif, tree.Arena.Node(ifNode.Children[2]).Kind)

	require.Equal(t, ast.While, tree.Arena.Node(stmts[1]).Kind)
	forNode := tree.Arena.Node(stmts[2])
	require.Equal(t, ast.For, forNode.Kind)
	require.Equal(t, "item", tree.Arena.Node(forNode.Children[0]).Name)
}

func TestParse_TryExceptFinally(t *testing.T) {
	tree := mustParse(t, `try { x = 1; } except (e) { y = 1; } finally { z = 1; }`)
	try := tree.Arena.Node(kids(tree, tree.Root)[0])
	require.Equal(t, ast.Try, try.Kind)
	require.Len(t, try.Children, 3)
	except := tree.Arena.Node(try.Children[1])
	require.Equal(t, ast.Except, except.Kind)
	require.Equal(t, "e", except.Name)
	fin := tree.Arena.Node(try.Children[2])
	require.NotZero(t, fin.Flags&ast.FlagFinally)
}

func TestParse_ImportForms(t *testing.T) {
	tree := mustParse(t, "import file; import math as m;")
	stmts := kids(tree, tree.Root)
	plain := tree.Arena.Node(stmts[0])
	require.Equal(t, ast.Import, plain.Kind)
	require.Equal(t, "file", plain.Name)
	require.Equal(t, "", plain.Value)

	aliased := tree.Arena.Node(stmts[1])
	require.Equal(t, "math", aliased.Name)
	require.Equal(t, "m", aliased.Value)
}

func TestParse_CapabilityDecl(t *testing.T) {
	tree := mustParse(t, `capability FileAccess { resource "*.txt"; allow read; allow write; }`)
	decl := tree.Arena.Node(kids(tree, tree.Root)[0])
	require.Equal(t, ast.CapabilityDecl, decl.Kind)
	require.Equal(t, "FileAccess", decl.Name)
	require.Len(t, decl.Children, 3)
	require.Equal(t, ast.ResourcePattern, tree.Arena.Node(decl.Children[0]).Kind)
	require.Equal(t, "*.txt", tree.Arena.Node(decl.Children[0]).Value)
	require.Equal(t, "write", tree.Arena.Node(decl.Children[2]).Value)
}

func TestParse_FunctionsAndArrows(t *testing.T) {
	tree := mustParse(t, `
function add(a, b) { return a + b; }
f = fn(x) => x * 2;
g = fn(x) => { y = x; return y; };
`)
	stmts := kids(tree, tree.Root)
	def := tree.Arena.Node(stmts[0])
	require.Equal(t, ast.FunctionDef, def.Kind)
	require.Equal(t, "add", def.Name)
	require.Len(t, def.Children, 3) // 2 params + body

	arrow := tree.Arena.Node(kids(tree, stmts[1])[1])
	require.Equal(t, ast.ArrowFn, arrow.Kind)
	blockArrow := tree.Arena.Node(kids(tree, stmts[2])[1])
	require.Equal(t, ast.ArrowFn, blockArrow.Kind)
	body := tree.Arena.Node(blockArrow.Children[len(blockArrow.Children)-1])
	require.Equal(t, ast.Block, body.Kind)
}

func TestParse_CollectionsAndAccess(t *testing.T) {
	tree := mustParse(t, `x = [1, 2, *rest]; o = { a: 1, "b": 2 }; v = o.a; w = x[0]; s = x[1:2];`)
	stmts := kids(tree, tree.Root)

	arr := tree.Arena.Node(kids(tree, stmts[0])[1])
	require.Equal(t, ast.ArrayLiteral, arr.Kind)
	require.Equal(t, ast.Spread, tree.Arena.Node(arr.Children[2]).Kind)

	obj := tree.Arena.Node(kids(tree, stmts[1])[1])
	require.Equal(t, ast.ObjectLiteral, obj.Kind)
	require.Len(t, obj.Children, 4)

	member := tree.Arena.Node(kids(tree, stmts[2])[1])
	require.Equal(t, ast.MemberAccess, member.Kind)
	require.Equal(t, "a", member.Name)

	idx := tree.Arena.Node(kids(tree, stmts[3])[1])
	require.Equal(t, ast.ArrayAccess, idx.Kind)

	slice := tree.Arena.Node(kids(tree, stmts[4])[1])
	require.Equal(t, ast.Slice, slice.Kind)
}

func TestParse_Destructuring(t *testing.T) {
	tree := mustParse(t, `[a, b] = pair; [c, d]; for [k, v] in entries { x = k; }`)
	stmts := kids(tree, tree.Root)
	assign := tree.Arena.Node(stmts[0])
	require.Equal(t, ast.Assignment, assign.Kind)
	require.Equal(t, ast.Destructuring, tree.Arena.Node(assign.Children[0]).Kind)

	// bare bracket list without '=' is an array literal expression
	exprStmt := tree.Arena.Node(stmts[1])
	require.Equal(t, ast.ExprStmt, exprStmt.Kind)
	require.Equal(t, ast.ArrayLiteral, tree.Arena.Node(exprStmt.Children[0]).Kind)

	forNode := tree.Arena.Node(stmts[2])
	require.Equal(t, ast.Destructuring, tree.Arena.Node(forNode.Children[0]).Kind)
}

func TestParse_TernaryAndPipeline(t *testing.T) {
	tree := mustParse(t, `x = a ? b : c; y = v |> f |> g;`)
	stmts := kids(tree, tree.Root)
	tern := tree.Arena.Node(kids(tree, stmts[0])[1])
	require.Equal(t, ast.Ternary, tern.Kind)
	require.Len(t, tern.Children, 3)

	pipe := tree.Arena.Node(kids(tree, stmts[1])[1])
	require.Equal(t, ast.Pipeline, pipe.Kind)
	require.Len(t, pipe.Children, 3) // v, f, g flattened
}

func TestParse_Match(t *testing.T) {
	tree := mustParse(t, `match x { case 1 { y = 1; } case 2 { y = 2; } }`)
	m := tree.Arena.Node(kids(tree, tree.Root)[0])
	require.Equal(t, ast.Match, m.Kind)
	require.Len(t, m.Children, 3) // subject + 2 cases
	require.Equal(t, ast.Case, tree.Arena.Node(m.Children[1]).Kind)
}

func TestParse_ErrorRecoveryMultipleErrors(t *testing.T) {
	_, diags := parse(t, "x = ;\ny = 1;\nz = @;\nw = 2;")
	errs := 0
	for _, d := range diags {
		if d.Severity >= diag.Error {
			errs++
		}
	}
	require.GreaterOrEqual(t, errs, 2, "parser should surface multiple errors per compile")
	require.False(t, diags.HasCritical(), "recoverable errors must not be critical")
}

func TestParse_ErrorLocations(t *testing.T) {
	_, diags := parse(t, "x = 1;\ny = ;")
	require.True(t, diags.HasErrors())
	found := false
	for _, d := range diags {
		if d.Location.Span.Start.Line == 2 {
			found = true
		}
	}
	require.True(t, found, "error should be located on line 2: %v", diags)
}

func TestParse_EmptyInput(t *testing.T) {
	tree, diags := parse(t, "")
	require.Empty(t, diags)
	require.Equal(t, ast.Program, tree.Arena.Node(tree.Root).Kind)
	require.Empty(t, kids(tree, tree.Root))
}
