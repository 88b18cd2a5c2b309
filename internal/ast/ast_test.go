package ast

import (
	"encoding/json"
	"testing"

	"mlc/internal/source"
)

func TestArena_NewAndWalk(t *testing.T) {
	a := NewArena()
	lit := a.New(Node{Kind: Literal, Value: int64(1)})
	ident := a.New(Node{Kind: Identifier, Name: "x"})
	bin := a.New(Node{Kind: Binary, Op: "+", Children: []NodeID{lit, ident}})
	root := a.New(Node{Kind: Program, Children: []NodeID{bin}})

	if a.Len() != 4 {
		t.Fatalf("arena len = %d", a.Len())
	}
	if a.Node(lit).Binding != NoNode {
		t.Error("fresh nodes default to NoNode binding")
	}
	var order []Kind
	Walk(a, root, func(id NodeID) bool {
		order = append(order, a.Node(id).Kind)
		return true
	})
	want := []Kind{Program, Binary, Literal, Identifier}
	for i, k := range want {
		if order[i] != k {
			t.Fatalf("pre-order walk = %v", order)
		}
	}
	if Count(a, root) != 4 {
		t.Errorf("count = %d", Count(a, root))
	}
}

func TestWalk_SkipChildren(t *testing.T) {
	a := NewArena()
	inner := a.New(Node{Kind: Literal, Value: int64(1)})
	block := a.New(Node{Kind: Block, Children: []NodeID{inner}})
	root := a.New(Node{Kind: Program, Children: []NodeID{block}})
	visited := 0
	Walk(a, root, func(id NodeID) bool {
		visited++
		return a.Node(id).Kind != Block
	})
	if visited != 2 {
		t.Errorf("expected root+block only, visited %d", visited)
	}
}

// Literal payload types must survive the JSON round-trip exactly; the
// sandbox worker rebuilds trees from serialized arenas.
func TestNode_JSONRoundTrip(t *testing.T) {
	span := source.Span{Start: source.Pos{Line: 2, Column: 3}, End: source.Pos{Line: 2, Column: 9}}
	nodes := []Node{
		{Kind: Literal, Span: span, Value: int64(42), Binding: NoNode},
		{Kind: Literal, Span: span, Value: 2.5, Binding: NoNode},
		{Kind: Literal, Span: span, Value: "text", Binding: NoNode},
		{Kind: Literal, Span: span, Value: true, Binding: NoNode},
		{Kind: Literal, Span: span, Value: nil, Binding: NoNode},
		{Kind: Identifier, Span: span, Name: "x", Binding: 0},
		{Kind: Binary, Span: span, Op: "+", Children: []NodeID{0, 5}, Binding: NoNode},
		{Kind: FunctionCall, Span: span, Flags: FlagCheckElided, Children: []NodeID{5}, Binding: NoNode},
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		t.Fatal(err)
	}
	var got []Node
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(nodes) {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Value != int64(42) {
		t.Errorf("int payload widened: %T %v", got[0].Value, got[0].Value)
	}
	if got[1].Value != 2.5 {
		t.Errorf("float payload = %v", got[1].Value)
	}
	if got[2].Value != "text" || got[3].Value != true || got[4].Value != nil {
		t.Error("payloads corrupted")
	}
	if got[5].Name != "x" || got[5].Binding != 0 {
		t.Error("name/binding lost")
	}
	if got[6].Op != "+" || len(got[6].Children) != 2 {
		t.Error("operator/children lost")
	}
	if got[7].Flags&FlagCheckElided == 0 {
		t.Error("flags lost")
	}
	if got[0].Span != nodes[0].Span {
		t.Errorf("span lost: %v", got[0].Span)
	}
}

func TestKindString(t *testing.T) {
	if Program.String() != "program" || CapabilityDecl.String() != "capability_decl" {
		t.Error("kind names wrong")
	}
	if Kind(200).String() != "invalid" {
		t.Error("out-of-range kind should read invalid")
	}
}
