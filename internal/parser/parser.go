// Package parser builds the ML AST from a token stream. Parse errors are
// recoverable: the parser records a diagnostic, resynchronizes at the next
// statement boundary, and keeps going so one compile surfaces as many
// errors as possible. A parse that records more than maxParseErrors
// errors, or that cannot make progress at all, degrades to a single
// critical diagnostic and an empty tree.
package parser

import (
	"fmt"

	"mlc/internal/ast"
	"mlc/internal/diag"
	"mlc/internal/lexer"
	"mlc/internal/source"
)

// Parser consumes tokens with one token of lookahead.
type Parser struct {
	l    *lexer.Lexer
	unit *source.Unit

	curToken  lexer.Token
	peekToken lexer.Token

	arena *ast.Arena
	diags diag.List

	// fatal is set once the parser gives up; the diagnostic list is
	// collapsed to a single critical entry at that point.
	fatal bool
}

// Parse lexes and parses the unit, returning the tree and diagnostics.
// The tree is always non-nil; on fatal failure its root is an empty
// program node.
func Parse(unit *source.Unit) (*ast.Tree, diag.List) {
	p := &Parser{
		l:     lexer.New(unit.Text),
		unit:  unit,
		arena: ast.NewArena(),
	}
	p.nextToken()
	p.nextToken()

	root := p.parseProgram()
	tree := &ast.Tree{Arena: p.arena, Root: root, Unit: unit}
	return tree, p.diags
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curIs(t lexer.Type) bool  { return p.curToken.Type == t }
func (p *Parser) peekIs(t lexer.Type) bool { return p.peekToken.Type == t }

// expect advances over the expected token type, or records an error and
// returns false leaving the stream untouched for resynchronization.
func (p *Parser) expect(t lexer.Type) bool {
	if p.curIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %q, got %q", string(t), p.curToken.Literal)
	return false
}

func (p *Parser) tokenPos(tok lexer.Token) source.Pos {
	return source.Pos{Line: tok.Line, Column: tok.Column}
}

func (p *Parser) tokenSpan(tok lexer.Token) source.Span {
	start := p.tokenPos(tok)
	end := start
	end.Column += len(tok.Literal)
	return source.Span{Start: start, End: end}
}

func (p *Parser) loc(tok lexer.Token) source.Location {
	return source.Location{Unit: p.unit.Path, Span: p.tokenSpan(tok)}
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.diags = p.diags.Add(diag.Diagnostic{
		Severity: diag.Error,
		Stage:    diag.StageParse,
		Code:     "parse_error",
		Message:  fmt.Sprintf(format, args...),
		Location: p.loc(p.curToken),
	})
}

// spanFrom joins a start position with the end of the last consumed
// region, approximated by the current token start.
func (p *Parser) spanFrom(start source.Pos) source.Span {
	end := p.tokenPos(p.curToken)
	if end.Before(start) {
		end = start
	}
	return source.Span{Start: start, End: end}
}

// synchronize skips tokens until a statement boundary. Returns true when
// it stops at a boundary token, which may be the current token, and false
// when it reaches EOF without having moved.
func (p *Parser) synchronize() bool {
	startLine, startCol := p.curToken.Line, p.curToken.Column
	for !p.curIs(lexer.EOF) {
		if p.curIs(lexer.SEMICOLON) {
			p.nextToken()
			return true
		}
		if p.curIs(lexer.RBRACE) {
			return true
		}
		switch p.curToken.Type {
		case lexer.FUNCTION, lexer.IF, lexer.WHILE, lexer.FOR, lexer.TRY,
			lexer.RETURN, lexer.IMPORT, lexer.CAPABILITY, lexer.THROW:
			return true
		}
		p.nextToken()
	}
	return p.curToken.Line != startLine || p.curToken.Column != startCol
}

func (p *Parser) parseProgram() ast.NodeID {
	start := p.tokenPos(p.curToken)
	var stmts []ast.NodeID
	for !p.curIs(lexer.EOF) {
		before := p.curToken
		stmt := p.parseStatement()
		if stmt != ast.NoNode {
			stmts = append(stmts, stmt)
		}
		if p.curToken == before && stmt == ast.NoNode {
			// No progress: resynchronize or give up.
			if !p.synchronize() && p.curToken == before {
				p.fatalDiag()
				return p.emptyProgram(start)
			}
		}
		if len(p.diags) > maxParseErrors {
			p.fatalDiag()
			return p.emptyProgram(start)
		}
	}
	return p.arena.New(ast.Node{
		Kind:     ast.Program,
		Span:     p.spanFrom(start),
		Children: stmts,
	})
}

const maxParseErrors = 100

func (p *Parser) fatalDiag() {
	if p.fatal {
		return
	}
	p.fatal = true
	p.diags = diag.List{{
		Severity: diag.Critical,
		Stage:    diag.StageParse,
		Code:     "parse_fatal",
		Message:  "unable to recover from parse errors",
		Location: p.loc(p.curToken),
	}}
}

func (p *Parser) emptyProgram(start source.Pos) ast.NodeID {
	return p.arena.New(ast.Node{Kind: ast.Program, Span: source.Span{Start: start, End: start}})
}

// parseStatement dispatches on the leading token. A nil result (NoNode)
// means the statement failed to parse; the caller resynchronizes.
func (p *Parser) parseStatement() ast.NodeID {
	switch p.curToken.Type {
	case lexer.SEMICOLON:
		p.nextToken() // empty statement
		return ast.NoNode
	case lexer.IMPORT:
		return p.parseImport()
	case lexer.CAPABILITY:
		return p.parseCapabilityDecl()
	case lexer.FUNCTION:
		return p.parseFunctionDef()
	case lexer.IF:
		return p.parseIf()
	case lexer.WHILE:
		return p.parseWhile()
	case lexer.FOR:
		return p.parseFor()
	case lexer.TRY:
		return p.parseTry()
	case lexer.THROW:
		return p.parseThrow()
	case lexer.BREAK:
		return p.parseSimpleKeyword(ast.Break)
	case lexer.CONTINUE:
		return p.parseSimpleKeyword(ast.Continue)
	case lexer.RETURN:
		return p.parseReturn()
	case lexer.NONLOCAL:
		return p.parseNonlocal()
	case lexer.MATCH:
		return p.parseMatch()
	case lexer.LBRACE:
		return p.parseBlock()
	case lexer.ILLEGAL:
		p.errorf("unexpected character %q", p.curToken.Literal)
		p.nextToken()
		return ast.NoNode
	default:
		return p.parseExprOrAssignment()
	}
}

func (p *Parser) parseImport() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // import
	if !p.curIs(lexer.IDENT) {
		p.errorf("expected module name after import, got %q", p.curToken.Literal)
		return ast.NoNode
	}
	name := p.curToken.Literal
	p.nextToken()
	alias := ""
	if p.curIs(lexer.AS) {
		p.nextToken()
		if !p.curIs(lexer.IDENT) {
			p.errorf("expected alias after 'as', got %q", p.curToken.Literal)
			return ast.NoNode
		}
		alias = p.curToken.Literal
		p.nextToken()
	}
	if !p.expect(lexer.SEMICOLON) {
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind:  ast.Import,
		Span:  p.spanFrom(start),
		Name:  name,
		Value: alias,
	})
}

// parseCapabilityDecl parses:
//
//	capability Name { resource "<glob>"; allow op; ... }
func (p *Parser) parseCapabilityDecl() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // capability
	if !p.curIs(lexer.IDENT) {
		p.errorf("expected capability name, got %q", p.curToken.Literal)
		return ast.NoNode
	}
	name := p.curToken.Literal
	p.nextToken()
	if !p.expect(lexer.LBRACE) {
		return ast.NoNode
	}
	var clauses []ast.NodeID
	for !p.curIs(lexer.RBRACE) && !p.curIs(lexer.EOF) {
		clauseStart := p.tokenPos(p.curToken)
		switch p.curToken.Type {
		case lexer.RESOURCE:
			p.nextToken()
			if !p.curIs(lexer.STRING) {
				p.errorf("expected resource pattern string, got %q", p.curToken.Literal)
				p.synchronize()
				continue
			}
			pat := p.curToken.Literal
			p.nextToken()
			if !p.expect(lexer.SEMICOLON) {
				continue
			}
			clauses = append(clauses, p.arena.New(ast.Node{
				Kind:  ast.ResourcePattern,
				Span:  p.spanFrom(clauseStart),
				Value: pat,
			}))
		case lexer.ALLOW:
			p.nextToken()
			if !p.curIs(lexer.IDENT) {
				p.errorf("expected operation name after allow, got %q", p.curToken.Literal)
				p.synchronize()
				continue
			}
			op := p.curToken.Literal
			p.nextToken()
			if !p.expect(lexer.SEMICOLON) {
				continue
			}
			clauses = append(clauses, p.arena.New(ast.Node{
				Kind:  ast.PermissionGrant,
				Span:  p.spanFrom(clauseStart),
				Value: op,
			}))
		default:
			p.errorf("expected 'resource' or 'allow' in capability block, got %q", p.curToken.Literal)
			if !p.synchronize() {
				return ast.NoNode
			}
		}
	}
	p.expect(lexer.RBRACE)
	return p.arena.New(ast.Node{
		Kind:     ast.CapabilityDecl,
		Span:     p.spanFrom(start),
		Name:     name,
		Children: clauses,
	})
}

func (p *Parser) parseFunctionDef() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // function
	if !p.curIs(lexer.IDENT) {
		p.errorf("expected function name, got %q", p.curToken.Literal)
		return ast.NoNode
	}
	name := p.curToken.Literal
	p.nextToken()
	params, ok := p.parseParams()
	if !ok {
		return ast.NoNode
	}
	body := p.parseBlock()
	if body == ast.NoNode {
		return ast.NoNode
	}
	children := append(params, body)
	return p.arena.New(ast.Node{
		Kind:     ast.FunctionDef,
		Span:     p.spanFrom(start),
		Name:     name,
		Children: children,
	})
}

func (p *Parser) parseParams() ([]ast.NodeID, bool) {
	if !p.expect(lexer.LPAREN) {
		return nil, false
	}
	var params []ast.NodeID
	for !p.curIs(lexer.RPAREN) {
		if !p.curIs(lexer.IDENT) {
			p.errorf("expected parameter name, got %q", p.curToken.Literal)
			return nil, false
		}
		params = append(params, p.arena.New(ast.Node{
			Kind: ast.Parameter,
			Span: p.tokenSpan(p.curToken),
			Name: p.curToken.Literal,
		}))
		p.nextToken()
		if p.curIs(lexer.COMMA) {
			p.nextToken()
		} else if !p.curIs(lexer.RPAREN) {
			p.errorf("expected ',' or ')' in parameter list, got %q", p.curToken.Literal)
			return nil, false
		}
	}
	p.nextToken() // )
	return params, true
}

func (p *Parser) parseBlock() ast.NodeID {
	start := p.tokenPos(p.curToken)
	if !p.expect(lexer.LBRACE) {
		return ast.NoNode
	}
	var stmts []ast.NodeID
	for !p.curIs(lexer.RBRACE) && !p.curIs(lexer.EOF) {
		before := p.curToken
		stmt := p.parseStatement()
		if stmt != ast.NoNode {
			stmts = append(stmts, stmt)
		} else if p.curToken == before {
			if !p.synchronize() {
				break
			}
		}
	}
	p.expect(lexer.RBRACE)
	return p.arena.New(ast.Node{
		Kind:     ast.Block,
		Span:     p.spanFrom(start),
		Children: stmts,
	})
}

// parseCondition accepts both `if (x) { }` and `if x { }` forms.
func (p *Parser) parseCondition() ast.NodeID {
	if p.curIs(lexer.LPAREN) {
		p.nextToken()
		cond := p.parseExpression(lowest)
		if cond == ast.NoNode {
			return ast.NoNode
		}
		if !p.expect(lexer.RPAREN) {
			return ast.NoNode
		}
		return cond
	}
	return p.parseExpression(lowest)
}

func (p *Parser) parseIf() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // if
	cond := p.parseCondition()
	if cond == ast.NoNode {
		return ast.NoNode
	}
	then := p.parseBlock()
	if then == ast.NoNode {
		return ast.NoNode
	}
	children := []ast.NodeID{cond, then}
	for p.curIs(lexer.ELIF) {
		elifStart := p.tokenPos(p.curToken)
		p.nextToken()
		econd := p.parseCondition()
		if econd == ast.NoNode {
			return ast.NoNode
		}
		ebody := p.parseBlock()
		if ebody == ast.NoNode {
			return ast.NoNode
		}
		children = append(children, p.arena.New(ast.Node{
			Kind:     ast.Elif,
			Span:     p.spanFrom(elifStart),
			Children: []ast.NodeID{econd, ebody},
		}))
	}
	if p.curIs(lexer.ELSE) {
		p.nextToken()
		els := p.parseBlock()
		if els == ast.NoNode {
			return ast.NoNode
		}
		children = append(children, els)
	}
	return p.arena.New(ast.Node{
		Kind:     ast.If,
		Span:     p.spanFrom(start),
		Children: children,
	})
}

func (p *Parser) parseWhile() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // while
	cond := p.parseCondition()
	if cond == ast.NoNode {
		return ast.NoNode
	}
	body := p.parseBlock()
	if body == ast.NoNode {
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind:     ast.While,
		Span:     p.spanFrom(start),
		Children: []ast.NodeID{cond, body},
	})
}

func (p *Parser) parseFor() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // for
	paren := false
	if p.curIs(lexer.LPAREN) {
		paren = true
		p.nextToken()
	}
	target := p.parseForTarget()
	if target == ast.NoNode {
		return ast.NoNode
	}
	if !p.expect(lexer.IN) {
		return ast.NoNode
	}
	iter := p.parseExpression(lowest)
	if iter == ast.NoNode {
		return ast.NoNode
	}
	if paren && !p.expect(lexer.RPAREN) {
		return ast.NoNode
	}
	body := p.parseBlock()
	if body == ast.NoNode {
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind:     ast.For,
		Span:     p.spanFrom(start),
		Children: []ast.NodeID{target, iter, body},
	})
}

// parseForTarget parses a loop binding: an identifier or a destructuring
// pattern `[a, b]`.
func (p *Parser) parseForTarget() ast.NodeID {
	if p.curIs(lexer.IDENT) {
		id := p.arena.New(ast.Node{
			Kind: ast.Identifier,
			Span: p.tokenSpan(p.curToken),
			Name: p.curToken.Literal,
		})
		p.nextToken()
		return id
	}
	if p.curIs(lexer.LBRACKET) {
		return p.parseDestructuring()
	}
	p.errorf("expected loop variable, got %q", p.curToken.Literal)
	return ast.NoNode
}

func (p *Parser) parseDestructuring() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // [
	var targets []ast.NodeID
	for !p.curIs(lexer.RBRACKET) {
		if !p.curIs(lexer.IDENT) {
			p.errorf("expected identifier in destructuring pattern, got %q", p.curToken.Literal)
			return ast.NoNode
		}
		targets = append(targets, p.arena.New(ast.Node{
			Kind: ast.Identifier,
			Span: p.tokenSpan(p.curToken),
			Name: p.curToken.Literal,
		}))
		p.nextToken()
		if p.curIs(lexer.COMMA) {
			p.nextToken()
		} else if !p.curIs(lexer.RBRACKET) {
			p.errorf("expected ',' or ']' in destructuring pattern, got %q", p.curToken.Literal)
			return ast.NoNode
		}
	}
	p.nextToken() // ]
	return p.arena.New(ast.Node{
		Kind:     ast.Destructuring,
		Span:     p.spanFrom(start),
		Children: targets,
	})
}

func (p *Parser) parseTry() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // try
	body := p.parseBlock()
	if body == ast.NoNode {
		return ast.NoNode
	}
	children := []ast.NodeID{body}
	for p.curIs(lexer.EXCEPT) {
		exStart := p.tokenPos(p.curToken)
		p.nextToken()
		name := ""
		if p.curIs(lexer.LPAREN) {
			p.nextToken()
			if !p.curIs(lexer.IDENT) {
				p.errorf("expected exception variable, got %q", p.curToken.Literal)
				return ast.NoNode
			}
			name = p.curToken.Literal
			p.nextToken()
			if !p.expect(lexer.RPAREN) {
				return ast.NoNode
			}
		}
		handler := p.parseBlock()
		if handler == ast.NoNode {
			return ast.NoNode
		}
		children = append(children, p.arena.New(ast.Node{
			Kind:     ast.Except,
			Span:     p.spanFrom(exStart),
			Name:     name,
			Children: []ast.NodeID{handler},
		}))
	}
	if p.curIs(lexer.FINALLY) {
		p.nextToken()
		fin := p.parseBlock()
		if fin == ast.NoNode {
			return ast.NoNode
		}
		p.arena.Node(fin).Flags |= ast.FlagFinally
		children = append(children, fin)
	}
	if len(children) == 1 {
		p.errorf("try requires at least one except or finally clause")
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind:     ast.Try,
		Span:     p.spanFrom(start),
		Children: children,
	})
}

func (p *Parser) parseThrow() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // throw
	val := p.parseExpression(lowest)
	if val == ast.NoNode {
		return ast.NoNode
	}
	if !p.expect(lexer.SEMICOLON) {
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind:     ast.Throw,
		Span:     p.spanFrom(start),
		Children: []ast.NodeID{val},
	})
}

func (p *Parser) parseSimpleKeyword(kind ast.Kind) ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken()
	if !p.expect(lexer.SEMICOLON) {
		return ast.NoNode
	}
	return p.arena.New(ast.Node{Kind: kind, Span: p.spanFrom(start)})
}

func (p *Parser) parseReturn() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // return
	var children []ast.NodeID
	if !p.curIs(lexer.SEMICOLON) {
		val := p.parseExpression(lowest)
		if val == ast.NoNode {
			return ast.NoNode
		}
		children = append(children, val)
	}
	if !p.expect(lexer.SEMICOLON) {
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind:     ast.Return,
		Span:     p.spanFrom(start),
		Children: children,
	})
}

func (p *Parser) parseNonlocal() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // nonlocal
	if !p.curIs(lexer.IDENT) {
		p.errorf("expected name after nonlocal, got %q", p.curToken.Literal)
		return ast.NoNode
	}
	name := p.curToken.Literal
	p.nextToken()
	if !p.expect(lexer.SEMICOLON) {
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind: ast.Nonlocal,
		Span: p.spanFrom(start),
		Name: name,
	})
}

// parseMatch parses the reserved match form:
//
//	match expr { case pattern { block } ... }
//
// Downstream stages may treat match as future surface; the parser still
// produces the nodes.
func (p *Parser) parseMatch() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // match
	subject := p.parseCondition()
	if subject == ast.NoNode {
		return ast.NoNode
	}
	if !p.expect(lexer.LBRACE) {
		return ast.NoNode
	}
	children := []ast.NodeID{subject}
	for p.curIs(lexer.CASE) {
		caseStart := p.tokenPos(p.curToken)
		p.nextToken()
		pat := p.parseExpression(lowest)
		if pat == ast.NoNode {
			return ast.NoNode
		}
		body := p.parseBlock()
		if body == ast.NoNode {
			return ast.NoNode
		}
		children = append(children, p.arena.New(ast.Node{
			Kind:     ast.Case,
			Span:     p.spanFrom(caseStart),
			Children: []ast.NodeID{pat, body},
		}))
	}
	if !p.expect(lexer.RBRACE) {
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind:     ast.Match,
		Span:     p.spanFrom(start),
		Children: children,
	})
}

// parseExprOrAssignment parses either an expression statement or an
// assignment. Assignment targets are identifiers, member accesses, index
// accesses, or destructuring patterns; anything else is an error.
func (p *Parser) parseExprOrAssignment() ast.NodeID {
	start := p.tokenPos(p.curToken)
	target := p.parseExpression(lowest)
	if target == ast.NoNode {
		return ast.NoNode
	}
	if tn := p.arena.Node(target); tn.Kind == ast.ArrayLiteral && len(tn.Children) > 0 && p.curIs(lexer.ASSIGN) {
		// `[a, b] = e;`: a bracketed list of plain identifiers before `=`
		// is a destructuring target; any other array literal stays one.
		plain := true
		for _, ch := range tn.Children {
			if p.arena.Node(ch).Kind != ast.Identifier {
				plain = false
			}
		}
		if plain {
			tn.Kind = ast.Destructuring
		}
	}
	if p.curIs(lexer.ASSIGN) {
		p.nextToken()
		if !p.isAssignable(target) {
			p.errorf("invalid assignment target")
			return ast.NoNode
		}
		value := p.parseExpression(lowest)
		if value == ast.NoNode {
			return ast.NoNode
		}
		if !p.expect(lexer.SEMICOLON) {
			return ast.NoNode
		}
		return p.arena.New(ast.Node{
			Kind:     ast.Assignment,
			Span:     p.spanFrom(start),
			Children: []ast.NodeID{target, value},
		})
	}
	if !p.expect(lexer.SEMICOLON) {
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind:     ast.ExprStmt,
		Span:     p.spanFrom(start),
		Children: []ast.NodeID{target},
	})
}

func (p *Parser) isAssignable(id ast.NodeID) bool {
	switch p.arena.Node(id).Kind {
	case ast.Identifier, ast.MemberAccess, ast.ArrayAccess, ast.Destructuring:
		return true
	}
	return false
}

// looksLikeDestructuring reports whether the token after the current
// `[` is an identifier. It looks at that one token only.
func (p *Parser) looksLikeDestructuring() bool {
	return p.peekIs(lexer.IDENT)
}
