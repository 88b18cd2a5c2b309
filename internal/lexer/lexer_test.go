package lexer

import "testing"

func collect(src string) []Token {
	l := New(src)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == EOF {
			return toks
		}
	}
}

func TestNextToken_Operators(t *testing.T) {
	src := `x = 2 + 3 * 4; y == z != a <= b >= c && d || !e ? f : g => h |> i`
	expected := []Type{
		IDENT, ASSIGN, NUMBER, PLUS, NUMBER, STAR, NUMBER, SEMICOLON,
		IDENT, EQ, IDENT, NEQ, IDENT, LTE, IDENT, GTE, IDENT, AND, IDENT,
		OR, NOT, IDENT, QUESTION, IDENT, COLON, IDENT, ARROW, IDENT, PIPE, IDENT,
		EOF,
	}
	toks := collect(src)
	if len(toks) != len(expected) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(expected))
	}
	for i, want := range expected {
		if toks[i].Type != want {
			t.Errorf("token %d: got %s(%q), want %s", i, toks[i].Type, toks[i].Literal, want)
		}
	}
}

func TestNextToken_KeywordsAndLiterals(t *testing.T) {
	src := `function fn if elif else while for in try except finally throw break continue return nonlocal import as capability resource allow match case true false null`
	toks := collect(src)
	want := []Type{
		FUNCTION, FN, IF, ELIF, ELSE, WHILE, FOR, IN, TRY, EXCEPT, FINALLY,
		THROW, BREAK, CONTINUE, RETURN, NONLOCAL, IMPORT, AS, CAPABILITY,
		RESOURCE, ALLOW, MATCH, CASE, TRUE, FALSE, NULL, EOF,
	}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d: got %s, want %s", i, toks[i].Type, w)
		}
	}
}

func TestNextToken_Numbers(t *testing.T) {
	cases := map[string]string{
		"42":     "42",
		"3.14":   "3.14",
		"1e9":    "1e9",
		"2.5e-3": "2.5e-3",
	}
	for src, lit := range cases {
		toks := collect(src)
		if toks[0].Type != NUMBER || toks[0].Literal != lit {
			t.Errorf("%s: got %s(%q)", src, toks[0].Type, toks[0].Literal)
		}
	}
	// trailing dot belongs to member access
	toks := collect("3.foo")
	if toks[0].Literal != "3" || toks[1].Type != DOT || toks[2].Literal != "foo" {
		t.Errorf("member access after int: %v", toks)
	}
}

func TestNextToken_Strings(t *testing.T) {
	toks := collect(`"hello\nworld" 'it\'s'`)
	if toks[0].Type != STRING || toks[0].Literal != "hello\nworld" {
		t.Errorf("double-quoted: %s(%q)", toks[0].Type, toks[0].Literal)
	}
	if toks[1].Type != STRING || toks[1].Literal != "it's" {
		t.Errorf("single-quoted: %s(%q)", toks[1].Type, toks[1].Literal)
	}
	// unterminated string is ILLEGAL, not a hang
	toks = collect(`"oops`)
	if toks[0].Type != ILLEGAL {
		t.Errorf("unterminated string: %s", toks[0].Type)
	}
}

func TestNextToken_CommentsAndPositions(t *testing.T) {
	src := "// header\nx = 1; // trailing\ny = 2;"
	toks := collect(src)
	if toks[0].Type != IDENT || toks[0].Literal != "x" {
		t.Fatalf("first token: %v", toks[0])
	}
	if toks[0].Line != 2 || toks[0].Column != 1 {
		t.Errorf("x at %d:%d, want 2:1", toks[0].Line, toks[0].Column)
	}
	var y Token
	for _, tok := range toks {
		if tok.Literal == "y" {
			y = tok
		}
	}
	if y.Line != 3 || y.Column != 1 {
		t.Errorf("y at %d:%d, want 3:1", y.Line, y.Column)
	}
}

func TestNextToken_IllegalBytes(t *testing.T) {
	toks := collect("a @ b")
	if toks[1].Type != ILLEGAL || toks[1].Literal != "@" {
		t.Errorf("expected ILLEGAL @, got %s(%q)", toks[1].Type, toks[1].Literal)
	}
	// scan continues past it
	if toks[2].Type != IDENT || toks[2].Literal != "b" {
		t.Errorf("expected recovery, got %v", toks[2])
	}
}
