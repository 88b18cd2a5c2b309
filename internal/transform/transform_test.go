package transform

import (
	"testing"

	"mlc/internal/ast"
	"mlc/internal/parser"
	"mlc/internal/source"
)

func parse(t *testing.T, src string) *ast.Tree {
	t.Helper()
	tree, diags := parser.Parse(source.NewUnit("test.ml", src))
	if diags.HasErrors() {
		t.Fatalf("parse failed: %v", diags)
	}
	return tree
}

func TestApply_ElifChainCanonicalized(t *testing.T) {
	tree := parse(t, `if (a) { x = 1; } elif (b) { x = 2; } elif (c) { x = 3; } else { x = 4; }`)
	log := Apply(tree)

	if log.Count(RewriteElifChain) != 2 {
		t.Fatalf("expected 2 elif rewrites, got %d", log.Count(RewriteElifChain))
	}
	ifNode := tree.Arena.Node(tree.Arena.Node(tree.Root).Children[0])
	if len(ifNode.Children) != 3 {
		t.Fatalf("canonical if must have 3 children, got %d", len(ifNode.Children))
	}
	// else branch holds a synthetic block wrapping the next if
	els := tree.Arena.Node(ifNode.Children[2])
	if els.Kind != ast.Block || els.Flags&ast.FlagSynthetic == 0 {
		t.Fatalf("else branch should be a synthetic block, got %s", els.Kind)
	}
	inner := tree.Arena.Node(els.Children[0])
	if inner.Kind != ast.If || inner.Flags&ast.FlagSynthetic == 0 {
		t.Fatalf("nested if expected, got %s", inner.Kind)
	}
	// no elif nodes survive under any if
	ast.Walk(tree.Arena, tree.Root, func(id ast.NodeID) bool {
		if tree.Arena.Node(id).Kind == ast.Elif {
			t.Error("elif node survived canonicalization")
		}
		return true
	})
}

func TestApply_PlainIfUntouched(t *testing.T) {
	tree := parse(t, `if (a) { x = 1; } else { x = 2; }`)
	log := Apply(tree)
	if log.Total() != 0 {
		t.Fatalf("no rewrites expected, got %d", log.Total())
	}
}

func TestApply_ArrowImplicitReturn(t *testing.T) {
	tree := parse(t, `f = fn(x) => x + 1;`)
	log := Apply(tree)
	if log.Count(RewriteImplicitReturn) != 1 {
		t.Fatalf("expected 1 implicit return, got %d", log.Count(RewriteImplicitReturn))
	}
	assign := tree.Arena.Node(tree.Arena.Node(tree.Root).Children[0])
	arrow := tree.Arena.Node(assign.Children[1])
	body := tree.Arena.Node(arrow.Children[len(arrow.Children)-1])
	if body.Kind != ast.Block || body.Flags&ast.FlagSynthetic == 0 {
		t.Fatalf("arrow body should be a synthetic block, got %s", body.Kind)
	}
	ret := tree.Arena.Node(body.Children[0])
	if ret.Kind != ast.Return || ret.Flags&ast.FlagSynthetic == 0 {
		t.Fatalf("expected synthetic return, got %s", ret.Kind)
	}
}

func TestApply_BlockArrowUntouched(t *testing.T) {
	tree := parse(t, `f = fn(x) => { return x; };`)
	log := Apply(tree)
	if log.Count(RewriteImplicitReturn) != 0 {
		t.Fatal("block-bodied arrow must not be rewritten")
	}
}

func TestLog_Kinds(t *testing.T) {
	l := NewLog()
	l.Record("b")
	l.Record("a")
	l.Record("a")
	kinds := l.Kinds()
	if len(kinds) != 2 || kinds[0] != "a" || kinds[1] != "b" {
		t.Errorf("kinds = %v", kinds)
	}
	if l.Total() != 3 || l.Count("a") != 2 {
		t.Errorf("counts wrong: total=%d a=%d", l.Total(), l.Count("a"))
	}
}
