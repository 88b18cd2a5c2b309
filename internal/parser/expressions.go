package parser

import (
	"strconv"
	"strings"

	"mlc/internal/ast"
	"mlc/internal/lexer"
)

// Operator precedence, lowest binds loosest.
const (
	lowest = iota
	pipePrec
	ternaryPrec
	orPrec
	andPrec
	equalityPrec
	comparePrec
	sumPrec
	productPrec
	prefixPrec
	callPrec
)

var precedences = map[lexer.Type]int{
	lexer.PIPE:     pipePrec,
	lexer.QUESTION: ternaryPrec,
	lexer.OR:       orPrec,
	lexer.AND:      andPrec,
	lexer.EQ:       equalityPrec,
	lexer.NEQ:      equalityPrec,
	lexer.LT:       comparePrec,
	lexer.LTE:      comparePrec,
	lexer.GT:       comparePrec,
	lexer.GTE:      comparePrec,
	lexer.PLUS:     sumPrec,
	lexer.MINUS:    sumPrec,
	lexer.STAR:     productPrec,
	lexer.SLASH:    productPrec,
	lexer.PERCENT:  productPrec,
	lexer.LPAREN:   callPrec,
	lexer.LBRACKET: callPrec,
	lexer.DOT:      callPrec,
}

func (p *Parser) curPrecedence() int {
	return precedences[p.curToken.Type]
}

// parseExpression is a Pratt parser: a prefix parse for the current
// token followed by infix parses while the next operator binds tighter.
func (p *Parser) parseExpression(minPrec int) ast.NodeID {
	left := p.parsePrefix()
	if left == ast.NoNode {
		return ast.NoNode
	}
	for {
		prec := p.curPrecedence()
		if prec == 0 || prec <= minPrec {
			return left
		}
		left = p.parseInfix(left, prec)
		if left == ast.NoNode {
			return ast.NoNode
		}
	}
}

func (p *Parser) parsePrefix() ast.NodeID {
	tok := p.curToken
	switch tok.Type {
	case lexer.IDENT:
		p.nextToken()
		return p.arena.New(ast.Node{
			Kind: ast.Identifier,
			Span: p.tokenSpan(tok),
			Name: tok.Literal,
		})
	case lexer.NUMBER:
		return p.parseNumber()
	case lexer.STRING:
		p.nextToken()
		return p.arena.New(ast.Node{
			Kind:  ast.Literal,
			Span:  p.tokenSpan(tok),
			Value: tok.Literal,
		})
	case lexer.TRUE, lexer.FALSE:
		p.nextToken()
		return p.arena.New(ast.Node{
			Kind:  ast.Literal,
			Span:  p.tokenSpan(tok),
			Value: tok.Type == lexer.TRUE,
		})
	case lexer.NULL:
		p.nextToken()
		return p.arena.New(ast.Node{
			Kind:  ast.Literal,
			Span:  p.tokenSpan(tok),
			Value: nil,
		})
	case lexer.NOT, lexer.MINUS:
		p.nextToken()
		operand := p.parseExpression(prefixPrec)
		if operand == ast.NoNode {
			return ast.NoNode
		}
		return p.arena.New(ast.Node{
			Kind:     ast.Unary,
			Span:     p.spanFrom(p.tokenPos(tok)),
			Op:       tok.Literal,
			Children: []ast.NodeID{operand},
		})
	case lexer.LPAREN:
		p.nextToken()
		inner := p.parseExpression(lowest)
		if inner == ast.NoNode {
			return ast.NoNode
		}
		if !p.expect(lexer.RPAREN) {
			return ast.NoNode
		}
		return inner
	case lexer.LBRACKET:
		return p.parseArrayLiteral()
	case lexer.LBRACE:
		return p.parseObjectLiteral()
	case lexer.FN:
		return p.parseArrowFn()
	default:
		p.errorf("unexpected token %q in expression", tok.Literal)
		return ast.NoNode
	}
}

// parseNumber keeps integers and floats distinct: integer literals carry
// int64 payloads, float and scientific forms carry float64.
func (p *Parser) parseNumber() ast.NodeID {
	tok := p.curToken
	p.nextToken()
	if !strings.ContainsAny(tok.Literal, ".eE") {
		if i, err := strconv.ParseInt(tok.Literal, 10, 64); err == nil {
			return p.arena.New(ast.Node{
				Kind:  ast.Literal,
				Span:  p.tokenSpan(tok),
				Value: i,
			})
		}
	}
	f, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		p.errorf("malformed number literal %q", tok.Literal)
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind:  ast.Literal,
		Span:  p.tokenSpan(tok),
		Value: f,
	})
}

func (p *Parser) parseArrayLiteral() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // [
	var elems []ast.NodeID
	for !p.curIs(lexer.RBRACKET) {
		var el ast.NodeID
		if p.curIs(lexer.STAR) {
			// spread element: *expr
			spreadStart := p.tokenPos(p.curToken)
			p.nextToken()
			inner := p.parseExpression(lowest)
			if inner == ast.NoNode {
				return ast.NoNode
			}
			el = p.arena.New(ast.Node{
				Kind:     ast.Spread,
				Span:     p.spanFrom(spreadStart),
				Children: []ast.NodeID{inner},
			})
		} else {
			el = p.parseExpression(lowest)
			if el == ast.NoNode {
				return ast.NoNode
			}
		}
		elems = append(elems, el)
		if p.curIs(lexer.COMMA) {
			p.nextToken()
		} else if !p.curIs(lexer.RBRACKET) {
			p.errorf("expected ',' or ']' in array literal, got %q", p.curToken.Literal)
			return ast.NoNode
		}
	}
	p.nextToken() // ]
	return p.arena.New(ast.Node{
		Kind:     ast.ArrayLiteral,
		Span:     p.spanFrom(start),
		Children: elems,
	})
}

// parseObjectLiteral parses `{ key: value, "key": value }`. Children
// alternate key, value; keys are identifier or string-literal nodes.
func (p *Parser) parseObjectLiteral() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // {
	var children []ast.NodeID
	for !p.curIs(lexer.RBRACE) {
		keyTok := p.curToken
		var key ast.NodeID
		switch keyTok.Type {
		case lexer.IDENT:
			key = p.arena.New(ast.Node{
				Kind:  ast.Literal,
				Span:  p.tokenSpan(keyTok),
				Value: keyTok.Literal,
			})
			p.nextToken()
		case lexer.STRING:
			key = p.arena.New(ast.Node{
				Kind:  ast.Literal,
				Span:  p.tokenSpan(keyTok),
				Value: keyTok.Literal,
			})
			p.nextToken()
		default:
			p.errorf("expected object key, got %q", keyTok.Literal)
			return ast.NoNode
		}
		if !p.expect(lexer.COLON) {
			return ast.NoNode
		}
		val := p.parseExpression(lowest)
		if val == ast.NoNode {
			return ast.NoNode
		}
		children = append(children, key, val)
		if p.curIs(lexer.COMMA) {
			p.nextToken()
		} else if !p.curIs(lexer.RBRACE) {
			p.errorf("expected ',' or '}' in object literal, got %q", p.curToken.Literal)
			return ast.NoNode
		}
	}
	p.nextToken() // }
	return p.arena.New(ast.Node{
		Kind:     ast.ObjectLiteral,
		Span:     p.spanFrom(start),
		Children: children,
	})
}

// parseArrowFn parses `fn(params) => expr` and the block-bodied form
// `fn(params) => { ... }`. Parameters precede the body child.
func (p *Parser) parseArrowFn() ast.NodeID {
	start := p.tokenPos(p.curToken)
	p.nextToken() // fn
	params, ok := p.parseParams()
	if !ok {
		return ast.NoNode
	}
	if !p.expect(lexer.ARROW) {
		return ast.NoNode
	}
	var body ast.NodeID
	if p.curIs(lexer.LBRACE) {
		body = p.parseBlock()
	} else {
		body = p.parseExpression(lowest)
	}
	if body == ast.NoNode {
		return ast.NoNode
	}
	children := append(params, body)
	return p.arena.New(ast.Node{
		Kind:     ast.ArrowFn,
		Span:     p.spanFrom(start),
		Children: children,
	})
}

func (p *Parser) parseInfix(left ast.NodeID, prec int) ast.NodeID {
	tok := p.curToken
	startSpan := p.arena.Node(left).Span
	switch tok.Type {
	case lexer.LPAREN:
		return p.parseCall(left)
	case lexer.LBRACKET:
		return p.parseIndexOrSlice(left)
	case lexer.DOT:
		p.nextToken()
		if !p.curIs(lexer.IDENT) {
			p.errorf("expected attribute name after '.', got %q", p.curToken.Literal)
			return ast.NoNode
		}
		attr := p.curToken
		p.nextToken()
		return p.arena.New(ast.Node{
			Kind:     ast.MemberAccess,
			Span:     startSpan.Join(p.tokenSpan(attr)),
			Name:     attr.Literal,
			Children: []ast.NodeID{left},
		})
	case lexer.QUESTION:
		p.nextToken()
		thenExpr := p.parseExpression(lowest)
		if thenExpr == ast.NoNode {
			return ast.NoNode
		}
		if !p.expect(lexer.COLON) {
			return ast.NoNode
		}
		// right-associative: a ? b : c ? d : e
		elseExpr := p.parseExpression(ternaryPrec - 1)
		if elseExpr == ast.NoNode {
			return ast.NoNode
		}
		return p.arena.New(ast.Node{
			Kind:     ast.Ternary,
			Span:     startSpan.Join(p.arena.Node(elseExpr).Span),
			Children: []ast.NodeID{left, thenExpr, elseExpr},
		})
	case lexer.PIPE:
		p.nextToken()
		right := p.parseExpression(pipePrec)
		if right == ast.NoNode {
			return ast.NoNode
		}
		// flatten chains into one pipeline node
		if p.arena.Node(left).Kind == ast.Pipeline {
			n := p.arena.Node(left)
			n.Children = append(n.Children, right)
			n.Span = n.Span.Join(p.arena.Node(right).Span)
			return left
		}
		return p.arena.New(ast.Node{
			Kind:     ast.Pipeline,
			Span:     startSpan.Join(p.arena.Node(right).Span),
			Children: []ast.NodeID{left, right},
		})
	default:
		// binary operator
		p.nextToken()
		right := p.parseExpression(prec)
		if right == ast.NoNode {
			return ast.NoNode
		}
		return p.arena.New(ast.Node{
			Kind:     ast.Binary,
			Span:     startSpan.Join(p.arena.Node(right).Span),
			Op:       tok.Literal,
			Children: []ast.NodeID{left, right},
		})
	}
}

func (p *Parser) parseCall(callee ast.NodeID) ast.NodeID {
	startSpan := p.arena.Node(callee).Span
	p.nextToken() // (
	args := []ast.NodeID{callee}
	for !p.curIs(lexer.RPAREN) {
		arg := p.parseExpression(lowest)
		if arg == ast.NoNode {
			return ast.NoNode
		}
		args = append(args, arg)
		if p.curIs(lexer.COMMA) {
			p.nextToken()
		} else if !p.curIs(lexer.RPAREN) {
			p.errorf("expected ',' or ')' in call, got %q", p.curToken.Literal)
			return ast.NoNode
		}
	}
	endTok := p.curToken
	p.nextToken() // )
	return p.arena.New(ast.Node{
		Kind:     ast.FunctionCall,
		Span:     startSpan.Join(p.tokenSpan(endTok)),
		Children: args,
	})
}

// parseIndexOrSlice parses `a[i]`, `a[lo:hi]`, `a[:hi]`, `a[lo:]`.
// Slice children are {obj, lo, hi} with NoNode for omitted bounds.
func (p *Parser) parseIndexOrSlice(obj ast.NodeID) ast.NodeID {
	startSpan := p.arena.Node(obj).Span
	p.nextToken() // [
	lo := ast.NoNode
	if !p.curIs(lexer.COLON) {
		lo = p.parseExpression(lowest)
		if lo == ast.NoNode {
			return ast.NoNode
		}
	}
	if p.curIs(lexer.COLON) {
		p.nextToken()
		hi := ast.NoNode
		if !p.curIs(lexer.RBRACKET) {
			hi = p.parseExpression(lowest)
			if hi == ast.NoNode {
				return ast.NoNode
			}
		}
		endTok := p.curToken
		if !p.expect(lexer.RBRACKET) {
			return ast.NoNode
		}
		return p.arena.New(ast.Node{
			Kind:     ast.Slice,
			Span:     startSpan.Join(p.tokenSpan(endTok)),
			Children: []ast.NodeID{obj, lo, hi},
		})
	}
	endTok := p.curToken
	if !p.expect(lexer.RBRACKET) {
		return ast.NoNode
	}
	return p.arena.New(ast.Node{
		Kind:     ast.ArrayAccess,
		Span:     startSpan.Join(p.tokenSpan(endTok)),
		Children: []ast.NodeID{obj, lo},
	})
}
