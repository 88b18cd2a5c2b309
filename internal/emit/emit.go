// Package emit lowers the optimized AST to Python source text with an
// incrementally written source map. Calls are classified by the
// three-way policy (in-unit direct, host via safe_call, unknown is an
// error); member accesses on values not inferred as objects route
// through the safe_attr mediator.
package emit

import (
	"fmt"
	"sort"
	"strings"

	"mlc/internal/ast"
	"mlc/internal/capability"
	"mlc/internal/collect"
	"mlc/internal/diag"
	"mlc/internal/safeattr"
	"mlc/internal/source"
	"mlc/internal/sourcemap"
)

// Config is everything the emitter needs beyond the tree itself.
type Config struct {
	// RegisteredModules are host modules importable by compiled code.
	RegisteredModules map[string]bool
	// HostRequirements maps "module.fn" to its registration; presence
	// drives the safe_call lowering and elision flags.
	HostRequirements map[string][]capability.Requirement
	// Registry supplies suggestions for unknown-call diagnostics.
	Registry *safeattr.Registry
	// Manifest is the aggregated required-capability list for the map
	// envelope.
	Manifest []capability.Requirement
	// CapResources maps capability type to declared resource patterns,
	// folded into the map envelope.
	CapResources map[string][]string
}

// Result is the emitter output.
type Result struct {
	Target string
	Map    *sourcemap.Map
	Diags  diag.List
}

type emitter struct {
	tree *ast.Tree
	info *collect.Result
	cfg  Config

	lines  []string
	indent int
	smap   *sourcemap.Map
	diags  diag.List

	lambdaSeq int
}

// Emit produces target source for the tree. Emission errors surface as
// diagnostics; a non-empty error list means the target text must be
// discarded by the caller.
func Emit(tree *ast.Tree, info *collect.Result, cfg Config) *Result {
	e := &emitter{
		tree: tree,
		info: info,
		cfg:  cfg,
		smap: sourcemap.New(tree.Unit.Path),
	}
	e.smap.File = strings.TrimSuffix(tree.Unit.Path, ".ml") + ".py"

	e.raw("# Generated by mlc from " + tree.Unit.Path)
	e.raw("from _mlc_runtime import safe_call, safe_attr, safe_attr_set, declare_capability, _mlc_import, MLThrow")
	e.raw("")

	// The program body compiles as an implicit entry function so that
	// a top-level return yields the unit's result.
	e.raw("def _mlc_main():")
	e.indent++
	emitted := false
	if tree.Arena.Valid(tree.Root) {
		for _, stmt := range tree.Arena.Node(tree.Root).Children {
			e.stmt(stmt)
			emitted = true
		}
	}
	if !emitted {
		e.raw("    pass")
	}
	e.indent--
	e.raw("")
	e.raw("_mlc_result = _mlc_main()")

	e.populateScopes()
	e.populateCapabilities()

	return &Result{
		Target: strings.Join(e.lines, "\n") + "\n",
		Map:    e.smap,
		Diags:  e.diags,
	}
}

// raw appends an unmapped line (preamble only).
func (e *emitter) raw(text string) {
	e.lines = append(e.lines, text)
}

// line appends an indented line mapped back to the span that produced
// it. Every emitted statement carries this back-reference.
func (e *emitter) line(text string, span source.Span, name string) {
	e.lines = append(e.lines, strings.Repeat("    ", e.indent)+text)
	genLine := len(e.lines)
	e.smap.Add(genLine, e.indent*4+1, span.Start.Line, span.Start.Column, name)
}

func (e *emitter) errorf(id ast.NodeID, code, format string, args ...interface{}) {
	e.diags = e.diags.Add(diag.Diagnostic{
		Severity: diag.Error,
		Stage:    diag.StageEmit,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Location: e.tree.Loc(id),
	})
}

func (e *emitter) node(id ast.NodeID) *ast.Node {
	return e.tree.Arena.Node(id)
}

func (e *emitter) stmt(id ast.NodeID) {
	if id == ast.NoNode || !e.tree.Arena.Valid(id) {
		return
	}
	n := e.node(id)
	switch n.Kind {
	case ast.Import:
		e.importStmt(id)
	case ast.CapabilityDecl:
		e.capabilityDecl(id)
	case ast.FunctionDef:
		e.functionDef(id)
	case ast.Assignment:
		e.assignment(id)
	case ast.If:
		e.ifStmt(id, "if")
	case ast.While:
		cond := e.expr(n.Children[0])
		e.line("while "+cond+":", n.Span, "")
		e.emitBody(n.Children[1])
	case ast.For:
		target := e.forTarget(n.Children[0])
		iter := e.expr(n.Children[1])
		e.line("for "+target+" in "+iter+":", n.Span, "")
		e.emitBody(n.Children[2])
	case ast.Try:
		e.tryStmt(id)
	case ast.Throw:
		val := e.expr(n.Children[0])
		e.line("raise MLThrow("+val+")", n.Span, "")
	case ast.Break:
		e.line("break", n.Span, "")
	case ast.Continue:
		e.line("continue", n.Span, "")
	case ast.Return:
		if len(n.Children) == 0 {
			e.line("return", n.Span, "")
		} else {
			e.line("return "+e.expr(n.Children[0]), n.Span, "")
		}
	case ast.Nonlocal:
		e.line("nonlocal "+n.Name, n.Span, n.Name)
	case ast.ExprStmt:
		e.line(e.expr(n.Children[0]), n.Span, "")
	case ast.Block:
		// Synthetic block from dead-branch elimination: inline its
		// statements at the current level.
		if len(n.Children) == 0 {
			e.line("pass", n.Span, "")
			return
		}
		for _, ch := range n.Children {
			e.stmt(ch)
		}
	case ast.Match:
		e.errorf(id, "unsupported_construct", "match statements are reserved surface and cannot be emitted yet")
	default:
		e.errorf(id, "unsupported_construct", "cannot emit %s as a statement", n.Kind)
	}
}

// emitBody emits a block's children one indent level deeper, with a
// pass placeholder for empty bodies.
func (e *emitter) emitBody(block ast.NodeID) {
	e.indent++
	defer func() { e.indent-- }()
	n := e.node(block)
	if n.Kind != ast.Block || len(n.Children) == 0 {
		if n.Kind != ast.Block {
			e.stmt(block)
		} else {
			e.line("pass", n.Span, "")
		}
		return
	}
	for _, ch := range n.Children {
		e.stmt(ch)
	}
}

func (e *emitter) importStmt(id ast.NodeID) {
	n := e.node(id)
	if !e.cfg.RegisteredModules[n.Name] {
		e.errorf(id, "unknown_import", "module %q is not a registered host module", n.Name)
		return
	}
	bound := n.Name
	if alias, _ := n.Value.(string); alias != "" {
		bound = alias
	}
	e.line(fmt.Sprintf("%s = _mlc_import(%s)", bound, pyString(n.Name)), n.Span, bound)
}

func (e *emitter) capabilityDecl(id ast.NodeID) {
	n := e.node(id)
	var resources, ops []string
	for _, ch := range n.Children {
		cl := e.node(ch)
		val, _ := cl.Value.(string)
		switch cl.Kind {
		case ast.ResourcePattern:
			resources = append(resources, pyString(val))
		case ast.PermissionGrant:
			ops = append(ops, pyString(val))
		}
	}
	e.line(fmt.Sprintf("declare_capability(%s, [%s], [%s])",
		pyString(n.Name), strings.Join(resources, ", "), strings.Join(ops, ", ")), n.Span, n.Name)
}

func (e *emitter) functionDef(id ast.NodeID) {
	n := e.node(id)
	params := e.paramList(n.Children[:len(n.Children)-1])
	e.line("def "+n.Name+"("+params+"):", n.Span, n.Name)
	e.emitBody(n.Children[len(n.Children)-1])
}

func (e *emitter) paramList(params []ast.NodeID) string {
	names := make([]string, 0, len(params))
	for _, p := range params {
		names = append(names, e.node(p).Name)
	}
	return strings.Join(names, ", ")
}

func (e *emitter) assignment(id ast.NodeID) {
	n := e.node(id)
	target, value := n.Children[0], n.Children[1]
	valueText := e.expr(value)
	t := e.node(target)
	switch t.Kind {
	case ast.Identifier:
		e.line(t.Name+" = "+valueText, n.Span, t.Name)
	case ast.Destructuring:
		names := make([]string, 0, len(t.Children))
		for _, ch := range t.Children {
			names = append(names, e.node(ch).Name)
		}
		e.line(strings.Join(names, ", ")+" = "+valueText, n.Span, "")
	case ast.ArrayAccess:
		obj := e.expr(t.Children[0])
		idx := e.expr(t.Children[1])
		e.line(obj+"["+idx+"] = "+valueText, n.Span, "")
	case ast.MemberAccess:
		obj := e.expr(t.Children[0])
		if e.kindOf(t.Children[0]) == collect.KindObject {
			e.line(obj+"["+pyString(t.Name)+"] = "+valueText, n.Span, t.Name)
		} else {
			e.line("safe_attr_set("+obj+", "+pyString(t.Name)+", "+valueText+")", n.Span, t.Name)
		}
	default:
		e.errorf(target, "unsupported_construct", "cannot assign to %s", t.Kind)
	}
}

// ifStmt emits canonical conditionals. The transformer nests elif
// chains as synthetic else-blocks holding a single synthetic if; those
// are flattened back into sequential elif clauses here.
func (e *emitter) ifStmt(id ast.NodeID, keyword string) {
	n := e.node(id)
	cond := e.expr(n.Children[0])
	e.line(keyword+" "+cond+":", n.Span, "")
	e.emitBody(n.Children[1])
	if len(n.Children) < 3 || n.Children[2] == ast.NoNode {
		return
	}
	els := n.Children[2]
	elsNode := e.node(els)
	if elsNode.Flags&ast.FlagSynthetic != 0 && len(elsNode.Children) == 1 {
		inner := e.node(elsNode.Children[0])
		if inner.Kind == ast.If && inner.Flags&ast.FlagSynthetic != 0 {
			e.ifStmt(elsNode.Children[0], "elif")
			return
		}
	}
	e.line("else:", elsNode.Span, "")
	e.emitBody(els)
}

func (e *emitter) tryStmt(id ast.NodeID) {
	n := e.node(id)
	e.line("try:", n.Span, "")
	e.emitBody(n.Children[0])
	for _, ch := range n.Children[1:] {
		c := e.node(ch)
		if c.Kind == ast.Except {
			if c.Name != "" {
				e.line("except MLThrow as _mlc_exc:", c.Span, "")
				e.indent++
				e.line(c.Name+" = _mlc_exc.value", c.Span, c.Name)
				e.indent--
				e.emitBody(c.Children[0])
			} else {
				e.line("except MLThrow:", c.Span, "")
				e.emitBody(c.Children[0])
			}
		} else if c.Flags&ast.FlagFinally != 0 {
			e.line("finally:", c.Span, "")
			e.emitBody(ch)
		}
	}
}

func (e *emitter) forTarget(id ast.NodeID) string {
	n := e.node(id)
	if n.Kind == ast.Destructuring {
		names := make([]string, 0, len(n.Children))
		for _, ch := range n.Children {
			names = append(names, e.node(ch).Name)
		}
		return strings.Join(names, ", ")
	}
	return n.Name
}

func (e *emitter) kindOf(id ast.NodeID) collect.ValueKind {
	if e.info == nil {
		return collect.KindUnknown
	}
	return e.info.KindOf(id)
}

// populateScopes copies the collector's scope tree and symbol table
// into the map envelope for debugger display.
func (e *emitter) populateScopes() {
	if e.info == nil || e.info.Program == nil {
		return
	}
	var walk func(s *collect.Scope, parent int)
	walk = func(s *collect.Scope, parent int) {
		name := s.Name
		if name == "" && s.Kind == collect.ScopeProgram {
			name = "<program>"
		}
		span := e.tree.Arena.Node(s.Node).Span
		idx := e.smap.AddScope(name, span.Start.Line, span.End.Line, parent)
		for bindName := range s.Bindings {
			e.smap.BindSymbol(bindName, idx)
		}
		for _, ch := range s.Children {
			walk(ch, idx)
		}
	}
	walk(e.info.Program, -1)
}

// populateCapabilities folds the analyzer manifest into the map
// envelope, grouping ops under their type with declared resources.
func (e *emitter) populateCapabilities() {
	byType := make(map[string][]string)
	for _, req := range e.cfg.Manifest {
		byType[req.Type] = append(byType[req.Type], req.Op)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		ops := byType[t]
		sort.Strings(ops)
		resources := e.cfg.CapResources[t]
		if resources == nil {
			resources = []string{"*"}
		}
		e.smap.RequiredCapabilities = append(e.smap.RequiredCapabilities, sourcemap.CapEntry{
			Type:      t,
			Ops:       ops,
			Resources: resources,
		})
	}
}
