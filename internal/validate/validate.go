// Package validate checks the structural invariants of a parsed tree:
// span nesting, required child slots, and keyword-position rules. It
// never rewrites nodes; every violation becomes an error diagnostic, and
// a bare-string throw gets a warning with a suggested fix.
package validate

import (
	"fmt"

	"mlc/internal/ast"
	"mlc/internal/diag"
)

type checker struct {
	tree  *ast.Tree
	diags diag.List

	funcDepth int
	loopDepth int
}

// Check walks the tree and returns the violations found. An empty list
// means the tree satisfies every structural invariant.
func Check(tree *ast.Tree) diag.List {
	c := &checker{tree: tree}
	if tree.Arena.Valid(tree.Root) {
		c.node(tree.Root, ast.NoNode, true)
	}
	return c.diags
}

func (c *checker) errorf(id ast.NodeID, code, format string, args ...interface{}) {
	c.diags = c.diags.Add(diag.Diagnostic{
		Severity: diag.Error,
		Stage:    diag.StageValidate,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Location: c.tree.Loc(id),
	})
}

// node validates one node and recurses. topLevel is true only for
// direct children of the program node; capability declarations must not
// appear anywhere else.
func (c *checker) node(id ast.NodeID, parent ast.NodeID, topLevel bool) {
	a := c.tree.Arena
	n := a.Node(id)

	if parent != ast.NoNode {
		pspan := a.Node(parent).Span
		if !pspan.Contains(n.Span) {
			c.errorf(id, "span_nesting", "%s span %s escapes parent %s span %s",
				n.Kind, n.Span, a.Node(parent).Kind, pspan)
		}
	}

	for _, ch := range n.Children {
		if ch != ast.NoNode && !a.Valid(ch) {
			c.errorf(id, "dangling_child", "%s references missing child node", n.Kind)
		}
	}

	switch n.Kind {
	case ast.Invalid:
		c.errorf(id, "invalid_node", "node with invalid kind")
	case ast.Break:
		if c.loopDepth == 0 {
			c.errorf(id, "break_outside_loop", "break is only allowed inside a loop")
		}
	case ast.Continue:
		if c.loopDepth == 0 {
			c.errorf(id, "continue_outside_loop", "continue is only allowed inside a loop")
		}
	case ast.Return:
		// The program body is an implicit entry function: a top-level
		// return yields the unit's result, so return is valid at any
		// statement position.
	case ast.Nonlocal:
		if c.funcDepth == 0 {
			c.errorf(id, "nonlocal_outside_function", "nonlocal is only allowed inside a function")
		}
		if n.Name == "" {
			c.errorf(id, "missing_name", "nonlocal requires a name")
		}
	case ast.CapabilityDecl:
		if !topLevel {
			c.errorf(id, "capability_not_top_level", "capability declarations are only allowed at program scope")
		}
		for _, ch := range n.Children {
			if ch == ast.NoNode {
				continue
			}
			k := a.Node(ch).Kind
			if k != ast.ResourcePattern && k != ast.PermissionGrant {
				c.errorf(ch, "bad_capability_clause", "capability blocks contain only resource and allow clauses")
			}
		}
	case ast.Identifier:
		if n.Name == "" {
			c.errorf(id, "missing_name", "identifier without a name")
		}
	case ast.FunctionDef:
		if n.Name == "" {
			c.errorf(id, "missing_name", "function definition without a name")
		}
		c.requireChildren(id, 1, "function body")
	case ast.Assignment:
		c.requireChildren(id, 2, "assignment target and value")
	case ast.If:
		c.requireChildren(id, 2, "if condition and branch")
	case ast.While:
		c.requireChildren(id, 2, "while condition and body")
	case ast.For:
		c.requireChildren(id, 3, "for target, iterable, and body")
	case ast.Try:
		c.requireChildren(id, 2, "try body and handler")
	case ast.Throw:
		c.requireChildren(id, 1, "throw value")
		if len(n.Children) > 0 && a.Valid(n.Children[0]) {
			v := a.Node(n.Children[0])
			if v.Kind == ast.Literal {
				if _, isStr := v.Value.(string); isStr {
					c.diags = c.diags.Add(diag.Diagnostic{
						Severity:     diag.Warning,
						Stage:        diag.StageValidate,
						Code:         "throw_string_literal",
						Message:      "throw expects an object literal, not a bare string",
						Location:     c.tree.Loc(n.Children[0]),
						SuggestedFix: `throw { message: "..." };`,
					})
				}
			}
		}
	case ast.Binary:
		c.requireChildren(id, 2, "binary operands")
		if n.Op == "" {
			c.errorf(id, "missing_operator", "binary expression without an operator")
		}
	case ast.Unary:
		c.requireChildren(id, 1, "unary operand")
	case ast.Ternary:
		c.requireChildren(id, 3, "ternary condition and arms")
	case ast.FunctionCall:
		c.requireChildren(id, 1, "call target")
	case ast.MemberAccess:
		c.requireChildren(id, 1, "member access object")
		if n.Name == "" {
			c.errorf(id, "missing_name", "member access without an attribute name")
		}
	case ast.ObjectLiteral:
		if len(n.Children)%2 != 0 {
			c.errorf(id, "object_arity", "object literal has a key without a value")
		}
	}

	enterLoop := n.Kind == ast.While || n.Kind == ast.For
	enterFunc := n.Kind == ast.FunctionDef || n.Kind == ast.ArrowFn
	if enterLoop {
		c.loopDepth++
	}
	if enterFunc {
		c.funcDepth++
		// break/continue do not cross function boundaries
		savedLoop := c.loopDepth
		c.loopDepth = 0
		defer func() { c.loopDepth = savedLoop }()
	}

	for _, ch := range n.Children {
		if ch == ast.NoNode {
			continue
		}
		c.node(ch, id, n.Kind == ast.Program)
	}

	if enterLoop {
		c.loopDepth--
	}
	if enterFunc {
		c.funcDepth--
	}
}

func (c *checker) requireChildren(id ast.NodeID, min int, what string) {
	if len(c.tree.Arena.Node(id).Children) < min {
		c.errorf(id, "missing_child", "%s requires %s", c.tree.Arena.Node(id).Kind, what)
	}
}
