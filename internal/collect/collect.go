package collect

import (
	"mlc/internal/ast"
	"mlc/internal/diag"
)

// Result is the symbol information for one unit. Unresolved identifier
// references stay in Unresolved; the emitter decides whether they are
// registry calls or errors.
type Result struct {
	Tree       *ast.Tree
	Program    *Scope
	ScopeOf    map[ast.NodeID]*Scope   // scope introduced by a node
	BindingOf  map[ast.NodeID]*Binding // identifier reference -> binding
	Unresolved []ast.NodeID
	Diags      diag.List
}

// KindOf returns the inferred kind for an expression node, consulting
// bindings for identifiers. Unknown when nothing better is known.
func (r *Result) KindOf(id ast.NodeID) ValueKind {
	a := r.Tree.Arena
	if id == ast.NoNode || !a.Valid(id) {
		return KindUnknown
	}
	n := a.Node(id)
	switch n.Kind {
	case ast.Literal:
		return literalKind(n.Value)
	case ast.ArrayLiteral:
		return KindArray
	case ast.ObjectLiteral:
		return KindObject
	case ast.ArrowFn:
		return KindFunction
	case ast.Identifier:
		if b, ok := r.BindingOf[id]; ok && b != nil {
			if b.ValueKind == "" {
				return KindUnknown
			}
			return b.ValueKind
		}
	case ast.Binary:
		switch n.Op {
		case "==", "!=", "<", "<=", ">", ">=", "&&", "||":
			return KindBoolean
		case "+":
			l := r.KindOf(n.Children[0])
			rk := r.KindOf(n.Children[1])
			if l == KindString || rk == KindString {
				return KindString
			}
			if l == KindNumber && rk == KindNumber {
				return KindNumber
			}
			return KindUnknown
		default:
			return KindNumber
		}
	case ast.Unary:
		if n.Op == "!" {
			return KindBoolean
		}
		return KindNumber
	}
	return KindUnknown
}

func literalKind(v interface{}) ValueKind {
	switch v.(type) {
	case int64, float64:
		return KindNumber
	case string:
		return KindString
	case bool:
		return KindBoolean
	case nil:
		return KindUnknown
	}
	return KindUnknown
}

type collector struct {
	tree   *ast.Tree
	res    *Result
	nextID int
}

// Run collects scopes, bindings, and reference resolutions for the
// tree. It never fails; diagnostics carry only warnings.
func Run(tree *ast.Tree) *Result {
	res := &Result{
		Tree:      tree,
		ScopeOf:   make(map[ast.NodeID]*Scope),
		BindingOf: make(map[ast.NodeID]*Binding),
	}
	c := &collector{tree: tree, res: res, nextID: 1}

	program := &Scope{
		ID:       0,
		Kind:     ScopeProgram,
		Node:     tree.Root,
		Bindings: make(map[string]*Binding),
	}
	res.Program = program
	res.ScopeOf[tree.Root] = program

	if tree.Arena.Valid(tree.Root) {
		// Pass 1: hoist program-level function and import bindings so
		// forward references resolve.
		c.hoist(tree.Root, program)
		// Pass 2: walk, bind, and resolve.
		for _, ch := range tree.Arena.Node(tree.Root).Children {
			c.stmt(ch, program)
		}
	}
	return res
}

// hoist pre-binds function definitions, imports, and capability
// declarations of a block so that statement order does not matter for
// call resolution, matching the one-pass-compile-then-run model.
func (c *collector) hoist(block ast.NodeID, scope *Scope) {
	a := c.tree.Arena
	for _, ch := range a.Node(block).Children {
		if ch == ast.NoNode || !a.Valid(ch) {
			continue
		}
		n := a.Node(ch)
		switch n.Kind {
		case ast.FunctionDef:
			c.bind(scope, n.Name, ch, BindFunction, false, KindFunction)
		case ast.Import:
			name := n.Name
			if alias, _ := n.Value.(string); alias != "" {
				name = alias
			}
			c.bind(scope, name, ch, BindImport, false, KindObject)
		case ast.CapabilityDecl:
			c.bind(scope, n.Name, ch, BindCapability, false, KindObject)
		}
	}
}

// bind records a binding unless the name is already bound in this
// scope; rebinding in the same scope mutates (assignment), it does not
// shadow.
func (c *collector) bind(scope *Scope, name string, node ast.NodeID, kind BindKind, mutable bool, vk ValueKind) *Binding {
	if name == "" {
		return nil
	}
	if existing, ok := scope.Bindings[name]; ok {
		existing.ValueKind = joinKinds(existing.ValueKind, vk)
		if mutable {
			existing.Mutable = true
		}
		return existing
	}
	b := &Binding{
		Name:      name,
		Node:      node,
		Kind:      kind,
		Mutable:   mutable,
		ValueKind: vk,
	}
	scope.Bindings[name] = b
	return b
}

func (c *collector) stmt(id ast.NodeID, scope *Scope) {
	a := c.tree.Arena
	if id == ast.NoNode || !a.Valid(id) {
		return
	}
	n := a.Node(id)
	switch n.Kind {
	case ast.FunctionDef:
		// Name was hoisted (program scope) or binds here (nested).
		if _, ok := scope.Bindings[n.Name]; !ok {
			c.bind(scope, n.Name, id, BindFunction, false, KindFunction)
		}
		c.function(id, scope, n.Name)
	case ast.ArrowFn:
		c.function(id, scope, "")
	case ast.Import:
		if _, ok := scope.Bindings[importName(n)]; !ok {
			c.bind(scope, importName(n), id, BindImport, false, KindObject)
		}
	case ast.CapabilityDecl:
		if _, ok := scope.Bindings[n.Name]; !ok {
			c.bind(scope, n.Name, id, BindCapability, false, KindObject)
		}
	case ast.Assignment:
		c.expr(n.Children[1], scope)
		c.assignTarget(n.Children[0], n.Children[1], scope)
	case ast.For:
		c.expr(n.Children[1], scope)
		body := n.Children[2]
		loopScope := scope.newChild(ScopeBlock, "", id, &c.nextID)
		c.res.ScopeOf[id] = loopScope
		c.bindLoopTarget(n.Children[0], loopScope)
		c.block(body, loopScope)
	case ast.Block:
		blockScope := scope.newChild(ScopeBlock, "", id, &c.nextID)
		c.res.ScopeOf[id] = blockScope
		c.block(id, blockScope)
	case ast.Nonlocal:
		c.resolveNonlocal(id, scope)
	case ast.If, ast.While, ast.Try, ast.Match, ast.Case, ast.Elif:
		for _, ch := range n.Children {
			c.stmtOrExpr(ch, scope)
		}
	case ast.Except:
		handlerScope := scope.newChild(ScopeBlock, "", id, &c.nextID)
		c.res.ScopeOf[id] = handlerScope
		if n.Name != "" {
			c.bind(handlerScope, n.Name, id, BindLocal, true, KindUnknown)
		}
		for _, ch := range n.Children {
			c.stmtOrExpr(ch, handlerScope)
		}
	case ast.Return, ast.Throw, ast.ExprStmt:
		for _, ch := range n.Children {
			c.expr(ch, scope)
		}
	case ast.Break, ast.Continue, ast.ResourcePattern, ast.PermissionGrant:
		// no names
	default:
		c.expr(id, scope)
	}
}

func importName(n *ast.Node) string {
	if alias, _ := n.Value.(string); alias != "" {
		return alias
	}
	return n.Name
}

// stmtOrExpr routes a child that may be a statement or expression; block
// children introduce scopes, everything else flows through stmt.
func (c *collector) stmtOrExpr(id ast.NodeID, scope *Scope) {
	if id == ast.NoNode {
		return
	}
	c.stmt(id, scope)
}

func (c *collector) block(id ast.NodeID, scope *Scope) {
	a := c.tree.Arena
	c.hoist(id, scope)
	for _, ch := range a.Node(id).Children {
		c.stmt(ch, scope)
	}
}

// function collects a function or arrow body in a fresh function scope.
func (c *collector) function(id ast.NodeID, parent *Scope, name string) {
	a := c.tree.Arena
	n := a.Node(id)
	fnScope := parent.newChild(ScopeFunction, name, id, &c.nextID)
	c.res.ScopeOf[id] = fnScope

	for _, ch := range n.Children[:len(n.Children)-1] {
		p := a.Node(ch)
		if p.Kind == ast.Parameter {
			c.bind(fnScope, p.Name, ch, BindParam, true, KindUnknown)
		}
	}
	body := n.Children[len(n.Children)-1]
	c.block(body, fnScope)
}

func (c *collector) assignTarget(target, value ast.NodeID, scope *Scope) {
	a := c.tree.Arena
	n := a.Node(target)
	switch n.Kind {
	case ast.Identifier:
		vk := c.res.KindOf(value)
		if b, _ := scope.Lookup(n.Name); b != nil {
			b.ValueKind = joinKinds(b.ValueKind, vk)
			b.Mutable = true
			c.reference(target, scope)
			return
		}
		b := c.bind(scope, n.Name, target, BindLocal, true, vk)
		c.res.BindingOf[target] = b
		a.Node(target).Binding = target
	case ast.Destructuring:
		for _, ch := range n.Children {
			c.assignTarget(ch, ast.NoNode, scope)
		}
	case ast.MemberAccess, ast.ArrayAccess:
		c.expr(target, scope)
	}
}

func (c *collector) bindLoopTarget(target ast.NodeID, scope *Scope) {
	a := c.tree.Arena
	n := a.Node(target)
	switch n.Kind {
	case ast.Identifier:
		b := c.bind(scope, n.Name, target, BindLocal, true, KindUnknown)
		c.res.BindingOf[target] = b
		a.Node(target).Binding = target
	case ast.Destructuring:
		for _, ch := range n.Children {
			c.bindLoopTarget(ch, scope)
		}
	}
}

// resolveNonlocal marks the name as resolving in the nearest enclosing
// function scope, per the language's nonlocal rule.
func (c *collector) resolveNonlocal(id ast.NodeID, scope *Scope) {
	a := c.tree.Arena
	n := a.Node(id)
	enclosing := scope.enclosingFunction()
	if enclosing == nil || enclosing.Parent == nil {
		return // validator already flagged nonlocal at program scope
	}
	if b, _ := enclosing.Parent.Lookup(n.Name); b != nil {
		c.res.BindingOf[id] = b
		a.Node(id).Binding = b.Node
		// Subsequent uses in this scope resolve to the outer binding.
		scope.Bindings[n.Name] = b
		return
	}
	c.res.Unresolved = append(c.res.Unresolved, id)
	c.res.Diags = c.res.Diags.Add(diag.Diagnostic{
		Severity: diag.Warning,
		Stage:    diag.StageCollect,
		Code:     "unresolved_nonlocal",
		Message:  "nonlocal name '" + n.Name + "' has no enclosing binding",
		Location: c.tree.Loc(id),
	})
}

// expr resolves identifier references inside an expression and recurses
// into nested functions.
func (c *collector) expr(id ast.NodeID, scope *Scope) {
	a := c.tree.Arena
	if id == ast.NoNode || !a.Valid(id) {
		return
	}
	n := a.Node(id)
	switch n.Kind {
	case ast.Identifier:
		c.reference(id, scope)
	case ast.ArrowFn:
		c.function(id, scope, "")
	case ast.ObjectLiteral:
		// keys are literals; only values are expressions
		for i := 1; i < len(n.Children); i += 2 {
			c.expr(n.Children[i], scope)
		}
	default:
		for _, ch := range n.Children {
			c.expr(ch, scope)
		}
	}
}

// reference resolves one identifier use. A resolution that crosses a
// function boundary records the capture on the binding.
func (c *collector) reference(id ast.NodeID, scope *Scope) {
	a := c.tree.Arena
	n := a.Node(id)
	b, defScope := scope.Lookup(n.Name)
	if b == nil {
		c.res.Unresolved = append(c.res.Unresolved, id)
		return
	}
	c.res.BindingOf[id] = b
	a.Node(id).Binding = b.Node

	// Capture detection: the use site's enclosing function differs from
	// the binding's enclosing function.
	useFn := scope.enclosingFunction()
	defFn := defScope.enclosingFunction()
	if useFn != nil && defFn != nil && useFn != defFn && useFn.Kind == ScopeFunction {
		for _, existing := range b.CapturedBy {
			if existing == useFn.Node {
				return
			}
		}
		b.CapturedBy = append(b.CapturedBy, useFn.Node)
	}
}
