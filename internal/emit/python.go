package emit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mlc/internal/ast"
	"mlc/internal/collect"
)

// expr lowers an expression to Python text. Complex arrow functions
// hoist a named def at the current indent before the enclosing
// statement line is appended; the returned text references the mangled
// name.
func (e *emitter) expr(id ast.NodeID) string {
	if id == ast.NoNode || !e.tree.Arena.Valid(id) {
		return "None"
	}
	n := e.node(id)
	switch n.Kind {
	case ast.Literal:
		return pyLiteral(n.Value)
	case ast.Identifier:
		return n.Name
	case ast.Binary:
		return e.binary(id)
	case ast.Unary:
		operand := e.expr(n.Children[0])
		if n.Op == "!" {
			return "(not " + operand + ")"
		}
		return "(" + n.Op + operand + ")"
	case ast.Ternary:
		cond := e.expr(n.Children[0])
		a := e.expr(n.Children[1])
		b := e.expr(n.Children[2])
		return "(" + a + " if " + cond + " else " + b + ")"
	case ast.ArrayAccess:
		return e.expr(n.Children[0]) + "[" + e.expr(n.Children[1]) + "]"
	case ast.Slice:
		obj := e.expr(n.Children[0])
		lo, hi := "", ""
		if n.Children[1] != ast.NoNode {
			lo = e.expr(n.Children[1])
		}
		if n.Children[2] != ast.NoNode {
			hi = e.expr(n.Children[2])
		}
		return obj + "[" + lo + ":" + hi + "]"
	case ast.MemberAccess:
		return e.memberAccess(id)
	case ast.FunctionCall:
		return e.call(id)
	case ast.ArrayLiteral:
		parts := make([]string, 0, len(n.Children))
		for _, ch := range n.Children {
			c := e.node(ch)
			if c.Kind == ast.Spread {
				parts = append(parts, "*"+e.expr(c.Children[0]))
			} else {
				parts = append(parts, e.expr(ch))
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ast.ObjectLiteral:
		parts := make([]string, 0, len(n.Children)/2)
		for i := 0; i+1 < len(n.Children); i += 2 {
			key := e.node(n.Children[i])
			k, _ := key.Value.(string)
			parts = append(parts, pyString(k)+": "+e.expr(n.Children[i+1]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case ast.ArrowFn:
		return e.arrowFn(id)
	case ast.Pipeline:
		// a |> f |> g lowers to g(f(a))
		text := e.expr(n.Children[0])
		for _, stage := range n.Children[1:] {
			text = e.expr(stage) + "(" + text + ")"
		}
		return text
	default:
		e.errorf(id, "unsupported_construct", "cannot emit %s as an expression", n.Kind)
		return "None"
	}
}

var pyBinaryOps = map[string]string{
	"&&": "and",
	"||": "or",
	"+":  "+", "-": "-", "*": "*", "/": "/", "%": "%",
	"==": "==", "!=": "!=", "<": "<", "<=": "<=", ">": ">", ">=": ">=",
}

func (e *emitter) binary(id ast.NodeID) string {
	n := e.node(id)
	op, ok := pyBinaryOps[n.Op]
	if !ok {
		e.errorf(id, "unsupported_construct", "unknown binary operator %q", n.Op)
		op = n.Op
	}
	return "(" + e.expr(n.Children[0]) + " " + op + " " + e.expr(n.Children[1]) + ")"
}

// memberAccess applies the kind policy: object-literal values use
// direct key lookup, everything else goes through the runtime mediator
// so the safe-attribute registry stays authoritative.
func (e *emitter) memberAccess(id ast.NodeID) string {
	n := e.node(id)
	obj := n.Children[0]
	objText := e.expr(obj)
	if e.kindOf(obj) == collect.KindObject && !e.isImportBinding(obj) {
		return objText + "[" + pyString(n.Name) + "]"
	}
	return "safe_attr(" + objText + ", " + pyString(n.Name) + ")"
}

// isImportBinding reports whether an expression is a reference to an
// imported host module.
func (e *emitter) isImportBinding(id ast.NodeID) bool {
	if e.info == nil {
		return false
	}
	b, ok := e.info.BindingOf[id]
	return ok && b != nil && b.Kind == collect.BindImport
}

// call implements the three-way call policy.
func (e *emitter) call(id ast.NodeID) string {
	n := e.node(id)
	callee := n.Children[0]
	args := make([]string, 0, len(n.Children)-1)
	for _, ch := range n.Children[1:] {
		args = append(args, e.expr(ch))
	}
	argList := strings.Join(args, ", ")
	c := e.node(callee)

	switch c.Kind {
	case ast.Identifier:
		if b, ok := e.bindingOf(callee); ok && b != nil {
			// (a) user-defined in-unit function, parameter, or local
			// holding a function value: direct call.
			return c.Name + "(" + argList + ")"
		}
		// (b) registered host builtin: wrapped call.
		target := "builtin." + c.Name
		if _, ok := e.cfg.HostRequirements[target]; ok {
			return e.safeCall(id, target, args)
		}
		// (c) unknown identifier in call position: emission error with
		// registry suggestions.
		e.errorf(callee, "unknown_function", "unknown function %q%s", c.Name, e.suggestions(c.Name))
		return "None"
	case ast.MemberAccess:
		obj := c.Children[0]
		if e.isImportBinding(obj) {
			module := e.moduleNameOf(obj)
			return e.safeCall(id, module+"."+c.Name, args)
		}
		if e.kindOf(obj) == collect.KindObject {
			return e.expr(obj) + "[" + pyString(c.Name) + "](" + argList + ")"
		}
		return "safe_attr(" + e.expr(obj) + ", " + pyString(c.Name) + ")(" + argList + ")"
	default:
		return e.expr(callee) + "(" + argList + ")"
	}
}

func (e *emitter) bindingOf(id ast.NodeID) (*collect.Binding, bool) {
	if e.info == nil {
		return nil, false
	}
	b, ok := e.info.BindingOf[id]
	return b, ok
}

// moduleNameOf returns the host module name behind an import binding
// reference (the original module, not the alias).
func (e *emitter) moduleNameOf(id ast.NodeID) string {
	b, _ := e.bindingOf(id)
	if b == nil {
		return e.node(id).Name
	}
	imp := e.tree.Arena.Node(b.Node)
	if imp.Kind == ast.Import {
		return imp.Name
	}
	return e.node(id).Name
}

func (e *emitter) safeCall(callID ast.NodeID, target string, args []string) string {
	extra := ""
	if e.node(callID).Flags&ast.FlagCheckElided != 0 {
		extra = ", prechecked=True"
	}
	return "safe_call(" + pyString(target) + ", [" + strings.Join(args, ", ") + "]" + extra + ")"
}

// suggestions proposes near-miss registered names for an unknown call.
func (e *emitter) suggestions(name string) string {
	var cands []string
	for target := range e.cfg.HostRequirements {
		fn := target[strings.LastIndex(target, ".")+1:]
		if strings.HasPrefix(fn, name) || strings.HasPrefix(name, fn) || levenshteinClose(fn, name) {
			cands = append(cands, target)
		}
	}
	if len(cands) == 0 {
		return ""
	}
	sort.Strings(cands)
	if len(cands) > 3 {
		cands = cands[:3]
	}
	return "; did you mean " + strings.Join(cands, ", ") + "?"
}

// levenshteinClose is a cheap edit-distance-1 test: equal length with
// one substitution, or length difference of one with a shared prefix.
func levenshteinClose(a, b string) bool {
	if a == b {
		return true
	}
	la, lb := len(a), len(b)
	if la == lb {
		diff := 0
		for i := 0; i < la; i++ {
			if a[i] != b[i] {
				diff++
			}
		}
		return diff == 1
	}
	if la > lb {
		a, b = b, a
		la, lb = lb, la
	}
	if lb-la != 1 {
		return false
	}
	for i := 0; i < la; i++ {
		if a[i] != b[i] {
			return a[i:] == b[i+1:]
		}
	}
	return true
}

// arrowFn emits single-expression lambdas inline; anything larger
// hoists a named nested def keyed by unit hash and source span so the
// mangled name is stable across compiles.
func (e *emitter) arrowFn(id ast.NodeID) string {
	n := e.node(id)
	params := e.paramList(n.Children[:len(n.Children)-1])
	body := n.Children[len(n.Children)-1]
	b := e.node(body)

	// The transformer wraps expression bodies in a synthetic block
	// holding a single synthetic return; that shape emits as a lambda.
	if b.Kind == ast.Block && b.Flags&ast.FlagSynthetic != 0 && len(b.Children) == 1 {
		ret := e.node(b.Children[0])
		if ret.Kind == ast.Return && ret.Flags&ast.FlagSynthetic != 0 && len(ret.Children) == 1 {
			return "lambda " + params + ": " + e.expr(ret.Children[0])
		}
	}

	name := e.mangledName(n.Span.Start.Line, n.Span.Start.Column)
	e.line("def "+name+"("+params+"):", n.Span, name)
	e.emitBody(body)
	return name
}

// mangledName builds the stable nested-function name from the unit
// hash and source position.
func (e *emitter) mangledName(line, col int) string {
	e.lambdaSeq++
	hash := e.tree.Unit.Hash
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return fmt.Sprintf("_mlc_fn_%s_%d_%d", hash, line, col)
}

// pyLiteral renders a literal payload as Python source.
func pyLiteral(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case string:
		return pyString(x)
	}
	return "None"
}

// pyString quotes a string for Python. Go's quoting rules are a
// compatible subset for the escapes the lexer admits.
func pyString(s string) string {
	return strconv.Quote(s)
}
