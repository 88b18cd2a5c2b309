package source

import "testing"

func TestNewUnit_HashStable(t *testing.T) {
	a := NewUnit("x.ml", "return 1;")
	b := NewUnit("y.ml", "return 1;")
	if a.Hash != b.Hash {
		t.Error("hash depends only on content")
	}
	c := NewUnit("x.ml", "return 2;")
	if a.Hash == c.Hash {
		t.Error("different content must hash differently")
	}
	if len(a.Hash) != 64 {
		t.Errorf("hex sha256 expected, got %d chars", len(a.Hash))
	}
}

func TestUnit_Lines(t *testing.T) {
	u := NewUnit("x.ml", "one\ntwo\nthree")
	if u.Line(2) != "two" {
		t.Errorf("line 2 = %q", u.Line(2))
	}
	if u.Line(0) != "" || u.Line(4) != "" {
		t.Error("out-of-range lines are empty")
	}
}

func TestSpan_Contains(t *testing.T) {
	outer := Span{Start: Pos{1, 1}, End: Pos{5, 10}}
	inner := Span{Start: Pos{2, 3}, End: Pos{4, 1}}
	if !outer.Contains(inner) {
		t.Error("outer should contain inner")
	}
	if inner.Contains(outer) {
		t.Error("inner must not contain outer")
	}
	if !outer.Contains(outer) {
		t.Error("containment is reflexive")
	}
}

func TestSpan_Join(t *testing.T) {
	a := Span{Start: Pos{2, 5}, End: Pos{2, 9}}
	b := Span{Start: Pos{1, 1}, End: Pos{3, 4}}
	j := a.Join(b)
	if j != b {
		t.Errorf("join = %v", j)
	}
}

func TestLocation_Compare(t *testing.T) {
	l1 := Location{Unit: "a.ml", Span: Span{Start: Pos{1, 1}}}
	l2 := Location{Unit: "a.ml", Span: Span{Start: Pos{2, 1}}}
	l3 := Location{Unit: "b.ml", Span: Span{Start: Pos{1, 1}}}
	if l1.Compare(l2) >= 0 || l2.Compare(l1) <= 0 {
		t.Error("position ordering wrong")
	}
	if l1.Compare(l3) >= 0 {
		t.Error("unit ordering wrong")
	}
	if l1.Compare(l1) != 0 {
		t.Error("self-compare should be 0")
	}
}
