package value

import "testing"

func TestBinaryOp_IntegerArithmetic(t *testing.T) {
	cases := []struct {
		op   string
		l, r int64
		want interface{}
	}{
		{"+", 2, 3, int64(5)},
		{"-", 2, 3, int64(-1)},
		{"*", 3, 4, int64(12)},
		{"%", 7, 3, int64(1)},
		{"%", -7, 3, int64(2)}, // sign follows divisor
		{"%", 7, -3, int64(-2)},
		{"<", 2, 3, true},
		{">=", 3, 3, true},
	}
	for _, c := range cases {
		got, err := BinaryOp(c.op, c.l, c.r)
		if err != nil {
			t.Fatalf("%d %s %d: %v", c.l, c.op, c.r, err)
		}
		if got != c.want {
			t.Errorf("%d %s %d = %v, want %v", c.l, c.op, c.r, got, c.want)
		}
	}
}

func TestBinaryOp_DivisionAlwaysFloat(t *testing.T) {
	got, err := BinaryOp("/", int64(7), int64(2))
	if err != nil {
		t.Fatal(err)
	}
	if got != 3.5 {
		t.Errorf("7 / 2 = %v, want 3.5", got)
	}
	got, err = BinaryOp("/", int64(6), int64(3))
	if err != nil {
		t.Fatal(err)
	}
	if got != 2.0 {
		t.Errorf("6 / 3 = %v (%T), want float 2", got, got)
	}
	if _, err := BinaryOp("/", int64(1), int64(0)); err == nil {
		t.Error("division by zero should fail")
	}
}

func TestBinaryOp_Strings(t *testing.T) {
	got, err := BinaryOp("+", "foo", "bar")
	if err != nil || got != "foobar" {
		t.Errorf("string concat = %v, %v", got, err)
	}
	got, _ = BinaryOp("==", "a", "a")
	if got != true {
		t.Errorf("string eq = %v", got)
	}
	// string + number coerces the number
	got, err = BinaryOp("+", "n=", int64(3))
	if err != nil || got != "n=3" {
		t.Errorf("mixed concat = %v, %v", got, err)
	}
}

func TestTruthy(t *testing.T) {
	truthy := []Value{true, int64(1), -1.5, "x", &Array{Elems: []Value{int64(0)}}}
	falsy := []Value{nil, false, int64(0), 0.0, "", &Array{}, NewObject()}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Errorf("expected truthy: %v", v)
		}
	}
	for _, v := range falsy {
		if Truthy(v) {
			t.Errorf("expected falsy: %v", v)
		}
	}
}

func TestEqual_CrossNumeric(t *testing.T) {
	if !Equal(int64(3), 3.0) {
		t.Error("3 == 3.0 should hold")
	}
	if Equal(int64(3), "3") {
		t.Error("3 == \"3\" should not hold")
	}
	a := &Array{Elems: []Value{int64(1), "x"}}
	b := &Array{Elems: []Value{int64(1), "x"}}
	if !Equal(a, b) {
		t.Error("deep array equality should hold")
	}
}

func TestToString(t *testing.T) {
	obj := NewObject()
	obj.Entries["b"] = int64(2)
	obj.Entries["a"] = int64(1)
	if got := ToString(obj); got != `{"a": 1, "b": 2}` {
		t.Errorf("object rendering = %q", got)
	}
	if got := ToString(&Array{Elems: []Value{int64(1), "s"}}); got != `[1, "s"]` {
		t.Errorf("array rendering = %q", got)
	}
	if ToString(nil) != "null" || ToString(true) != "true" {
		t.Error("scalar rendering wrong")
	}
}
