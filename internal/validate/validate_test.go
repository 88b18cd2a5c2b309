package validate

import (
	"testing"

	"mlc/internal/ast"
	"mlc/internal/diag"
	"mlc/internal/parser"
	"mlc/internal/source"
)

func check(t *testing.T, src string) diag.List {
	t.Helper()
	tree, parseDiags := parser.Parse(source.NewUnit("test.ml", src))
	if parseDiags.HasErrors() {
		t.Fatalf("parse failed: %v", parseDiags)
	}
	return Check(tree)
}

func hasCode(diags diag.List, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}

func TestCheck_CleanProgram(t *testing.T) {
	diags := check(t, `
function f(a) { return a; }
x = f(1);
while (x < 10) { x = x + 1; if (x == 5) { break; } }
`)
	if diags.HasErrors() {
		t.Fatalf("unexpected violations: %v", diags)
	}
}

func TestCheck_BreakOutsideLoop(t *testing.T) {
	diags := check(t, "break;")
	if !hasCode(diags, "break_outside_loop") {
		t.Errorf("expected break_outside_loop, got %v", diags)
	}
}

func TestCheck_ContinueOutsideLoop(t *testing.T) {
	diags := check(t, "if (x) { continue; }")
	if !hasCode(diags, "continue_outside_loop") {
		t.Errorf("expected continue_outside_loop, got %v", diags)
	}
}

func TestCheck_BreakInsideFunctionInsideLoop(t *testing.T) {
	// break must not cross the function boundary even inside a loop
	diags := check(t, "while (true) { f = fn() => { break; }; }")
	if !hasCode(diags, "break_outside_loop") {
		t.Errorf("expected break_outside_loop through closure, got %v", diags)
	}
}

func TestCheck_TopLevelReturnAllowed(t *testing.T) {
	diags := check(t, "return 1;")
	if diags.HasErrors() {
		t.Errorf("top-level return is the unit result, got %v", diags)
	}
}

func TestCheck_NonlocalOutsideFunction(t *testing.T) {
	diags := check(t, "nonlocal x;")
	if !hasCode(diags, "nonlocal_outside_function") {
		t.Errorf("expected nonlocal_outside_function, got %v", diags)
	}
}

func TestCheck_CapabilityOnlyTopLevel(t *testing.T) {
	diags := check(t, `function f() { capability C { allow read; } }`)
	if !hasCode(diags, "capability_not_top_level") {
		t.Errorf("expected capability_not_top_level, got %v", diags)
	}
	clean := check(t, `capability C { resource "*"; allow read; }`)
	if clean.HasErrors() {
		t.Errorf("top-level capability should be clean: %v", clean)
	}
}

func TestCheck_ThrowStringLiteralDiagnostic(t *testing.T) {
	diags := check(t, `throw "boom";`)
	found := false
	for _, d := range diags {
		if d.Code == "throw_string_literal" {
			found = true
			if d.Severity != diag.Warning {
				t.Errorf("bare-string throw should be a warning, got %s", d.Severity)
			}
			if d.SuggestedFix == "" {
				t.Error("expected a suggested fix pointing at object-literal syntax")
			}
		}
	}
	if !found {
		t.Errorf("expected throw_string_literal, got %v", diags)
	}
	clean := check(t, `throw { message: "boom" };`)
	if hasCode(clean, "throw_string_literal") {
		t.Error("object-literal throw must not warn")
	}
}

func TestCheck_SpanNesting(t *testing.T) {
	tree, _ := parser.Parse(source.NewUnit("test.ml", "x = 1;"))
	// Corrupt a child span so it escapes its parent.
	root := tree.Arena.Node(tree.Root)
	assign := tree.Arena.Node(root.Children[0])
	tree.Arena.Node(assign.Children[0]).Span = source.Span{
		Start: source.Pos{Line: 99, Column: 1},
		End:   source.Pos{Line: 99, Column: 2},
	}
	diags := Check(tree)
	if !hasCode(diags, "span_nesting") {
		t.Errorf("expected span_nesting, got %v", diags)
	}
}

func TestCheck_InvalidKindRejected(t *testing.T) {
	arena := ast.NewArena()
	bad := arena.New(ast.Node{Kind: ast.Invalid})
	root := arena.New(ast.Node{Kind: ast.Program, Children: []ast.NodeID{bad}})
	tree := &ast.Tree{Arena: arena, Root: root, Unit: source.NewUnit("t.ml", "")}
	diags := Check(tree)
	if !hasCode(diags, "invalid_node") {
		t.Errorf("expected invalid_node, got %v", diags)
	}
}
