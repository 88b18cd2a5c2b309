package runtime

import (
	"errors"

	"mlc/internal/ast"
	"mlc/internal/capability"
	"mlc/internal/safeattr"
	"mlc/internal/value"
)

// Env is one activation's variable store. Blocks share their
// function's environment, matching the target language's scoping; the
// nonlocals set routes writes through to enclosing activations.
type Env struct {
	cells     map[string]*Cell
	parent    *Env
	nonlocals map[string]bool
}

// Cell boxes a variable so closures over the same binding share it.
type Cell struct {
	V value.Value
}

// NewEnv returns an environment chained to parent (nil for program).
func NewEnv(parent *Env) *Env {
	return &Env{cells: make(map[string]*Cell), parent: parent}
}

func (e *Env) lookup(name string) (*Cell, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if c, ok := cur.cells[name]; ok {
			return c, true
		}
	}
	return nil, false
}

// set assigns a name: nonlocal-declared names write through to the
// enclosing binding, everything else binds in this activation.
func (e *Env) set(name string, v value.Value) {
	if e.nonlocals[name] && e.parent != nil {
		if c, ok := e.parent.lookup(name); ok {
			c.V = v
			return
		}
	}
	if c, ok := e.cells[name]; ok {
		c.V = v
		return
	}
	e.cells[name] = &Cell{V: v}
}

// Closure is an ML function value: its definition node plus the
// captured environment.
type Closure struct {
	node ast.NodeID
	env  *Env
	name string
	tree *ast.Tree
}

// Interp executes trees against one runtime. The same interpreter
// backs trusted in-process runs, sandbox workers, and the optimizer
// soundness tests.
type Interp struct {
	rt   *Runtime
	tree *ast.Tree
}

// Execute runs a program tree and returns the value of its top-level
// return (null when the program falls off the end).
func Execute(tree *ast.Tree, rt *Runtime) (value.Value, error) {
	in := &Interp{rt: rt, tree: tree}
	env := NewEnv(nil)
	if !tree.Arena.Valid(tree.Root) {
		return nil, nil
	}
	for _, stmt := range tree.Arena.Node(tree.Root).Children {
		if err := in.stmt(stmt, env); err != nil {
			var ret returnSignal
			if errors.As(err, &ret) {
				return ret.v, nil
			}
			return nil, err
		}
	}
	return nil, nil
}

func (in *Interp) node(id ast.NodeID) *ast.Node {
	return in.tree.Arena.Node(id)
}

func (in *Interp) stmt(id ast.NodeID, env *Env) error {
	if id == ast.NoNode || !in.tree.Arena.Valid(id) {
		return nil
	}
	if err := in.rt.step(); err != nil {
		return err
	}
	n := in.node(id)
	switch n.Kind {
	case ast.Import:
		mod, err := in.rt.Import(n.Name)
		if err != nil {
			return err
		}
		name := n.Name
		if alias, _ := n.Value.(string); alias != "" {
			name = alias
		}
		env.set(name, mod)
		return nil
	case ast.CapabilityDecl:
		var resources, ops []string
		for _, ch := range n.Children {
			cl := in.node(ch)
			if s, ok := cl.Value.(string); ok {
				if cl.Kind == ast.ResourcePattern {
					resources = append(resources, s)
				} else {
					ops = append(ops, s)
				}
			}
		}
		in.rt.DeclareCapability(n.Name, resources, ops)
		return nil
	case ast.FunctionDef:
		env.set(n.Name, &Closure{node: id, env: env, name: n.Name, tree: in.tree})
		return nil
	case ast.Assignment:
		return in.assign(n.Children[0], n.Children[1], env)
	case ast.If:
		cond, err := in.expr(n.Children[0], env)
		if err != nil {
			return err
		}
		if value.Truthy(cond) {
			return in.block(n.Children[1], env)
		}
		if len(n.Children) >= 3 {
			return in.block(n.Children[2], env)
		}
		return nil
	case ast.While:
		for {
			cond, err := in.expr(n.Children[0], env)
			if err != nil {
				return err
			}
			if !value.Truthy(cond) {
				return nil
			}
			if err := in.block(n.Children[1], env); err != nil {
				if errors.As(err, &breakSignal{}) {
					return nil
				}
				if errors.As(err, &continueSignal{}) {
					continue
				}
				return err
			}
		}
	case ast.For:
		iter, err := in.expr(n.Children[1], env)
		if err != nil {
			return err
		}
		elems, err := iterate(iter)
		if err != nil {
			return in.throwMessage(err.Error())
		}
		for _, el := range elems {
			if err := in.rt.step(); err != nil {
				return err
			}
			if err := in.bindTarget(n.Children[0], el, env); err != nil {
				return err
			}
			if err := in.block(n.Children[2], env); err != nil {
				if errors.As(err, &breakSignal{}) {
					return nil
				}
				if errors.As(err, &continueSignal{}) {
					continue
				}
				return err
			}
		}
		return nil
	case ast.Try:
		return in.try(id, env)
	case ast.Throw:
		v, err := in.expr(n.Children[0], env)
		if err != nil {
			return err
		}
		return &ThrowError{Value: v}
	case ast.Break:
		return breakSignal{}
	case ast.Continue:
		return continueSignal{}
	case ast.Return:
		if len(n.Children) == 0 {
			return returnSignal{v: nil}
		}
		v, err := in.expr(n.Children[0], env)
		if err != nil {
			return err
		}
		return returnSignal{v: v}
	case ast.Nonlocal:
		if env.nonlocals == nil {
			env.nonlocals = make(map[string]bool)
		}
		env.nonlocals[n.Name] = true
		return nil
	case ast.ExprStmt:
		_, err := in.expr(n.Children[0], env)
		return err
	case ast.Block:
		return in.block(id, env)
	case ast.Match:
		return in.throwMessage("match statements are not supported yet")
	default:
		_, err := in.expr(id, env)
		return err
	}
}

// block executes a block's statements in the current environment;
// blocks do not introduce activations.
func (in *Interp) block(id ast.NodeID, env *Env) error {
	n := in.node(id)
	if n.Kind != ast.Block {
		return in.stmt(id, env)
	}
	for _, ch := range n.Children {
		if err := in.stmt(ch, env); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interp) try(id ast.NodeID, env *Env) error {
	n := in.node(id)
	body := n.Children[0]
	var handlers []ast.NodeID
	finally := ast.NoNode
	for _, ch := range n.Children[1:] {
		c := in.node(ch)
		if c.Kind == ast.Except {
			handlers = append(handlers, ch)
		} else if c.Flags&ast.FlagFinally != 0 {
			finally = ch
		}
	}

	err := in.block(body, env)
	if err != nil && len(handlers) > 0 {
		if caught, handlerErr := in.handle(err, handlers, env); caught {
			err = handlerErr
		}
	}
	if finally != ast.NoNode {
		if ferr := in.block(finally, env); ferr != nil {
			return ferr
		}
	}
	return err
}

// handle runs the first except clause against a catchable error.
// SecurityCritical, resource limits, and control-flow signals are never
// catchable.
func (in *Interp) handle(err error, handlers []ast.NodeID, env *Env) (bool, error) {
	bound, catchable := catchableValue(err)
	if !catchable {
		return false, err
	}
	h := in.node(handlers[0])
	if h.Name != "" {
		env.set(h.Name, bound)
	}
	return true, in.block(h.Children[0], env)
}

// catchableValue maps a runtime error to the value bound in an except
// clause, or reports it uncatchable.
func catchableValue(err error) (value.Value, bool) {
	var throw *ThrowError
	if errors.As(err, &throw) {
		return throw.Value, true
	}
	var denied *capability.DeniedError
	if errors.As(err, &denied) {
		obj := value.NewObject()
		obj.Entries["kind"] = "capability_denied"
		obj.Entries["message"] = denied.Error()
		obj.Entries["type"] = denied.Type
		obj.Entries["resource"] = denied.Resource
		obj.Entries["op"] = denied.Op
		return obj, true
	}
	var notSafe *safeattr.NotSafeError
	if errors.As(err, &notSafe) {
		obj := value.NewObject()
		obj.Entries["kind"] = "safe_attribute_error"
		obj.Entries["message"] = notSafe.Error()
		return obj, true
	}
	return nil, false
}

// throwMessage raises a catchable object-valued throw, the shape plain
// runtime faults take.
func (in *Interp) throwMessage(msg string) error {
	obj := value.NewObject()
	obj.Entries["message"] = msg
	return &ThrowError{Value: obj}
}

func (in *Interp) assign(target, valueNode ast.NodeID, env *Env) error {
	v, err := in.expr(valueNode, env)
	if err != nil {
		return err
	}
	return in.bindTarget(target, v, env)
}

func (in *Interp) bindTarget(target ast.NodeID, v value.Value, env *Env) error {
	n := in.node(target)
	switch n.Kind {
	case ast.Identifier:
		env.set(n.Name, v)
		return nil
	case ast.Destructuring:
		arr, ok := v.(*value.Array)
		if !ok {
			return in.throwMessage("cannot destructure " + value.TypeName(v))
		}
		if len(arr.Elems) != len(n.Children) {
			return in.throwMessage("destructuring arity mismatch")
		}
		for i, ch := range n.Children {
			if err := in.bindTarget(ch, arr.Elems[i], env); err != nil {
				return err
			}
		}
		return nil
	case ast.ArrayAccess:
		obj, err := in.expr(n.Children[0], env)
		if err != nil {
			return err
		}
		idx, err := in.expr(n.Children[1], env)
		if err != nil {
			return err
		}
		return in.setIndex(obj, idx, v)
	case ast.MemberAccess:
		obj, err := in.expr(n.Children[0], env)
		if err != nil {
			return err
		}
		return in.rt.SafeAttrSet(obj, n.Name, v)
	}
	return in.throwMessage("invalid assignment target")
}

func (in *Interp) setIndex(obj, idx, v value.Value) error {
	switch x := obj.(type) {
	case *value.Array:
		i, ok := idx.(int64)
		if !ok {
			return in.throwMessage("array index must be an integer")
		}
		if i < 0 {
			i += int64(len(x.Elems))
		}
		if i < 0 || i >= int64(len(x.Elems)) {
			return in.throwMessage("array index out of range")
		}
		x.Elems[i] = v
		return nil
	case *value.Object:
		k, ok := idx.(string)
		if !ok {
			return in.throwMessage("object key must be a string")
		}
		x.Entries[k] = v
		return nil
	}
	return in.throwMessage("cannot index " + value.TypeName(obj))
}

func iterate(v value.Value) ([]value.Value, error) {
	switch x := v.(type) {
	case *value.Array:
		return x.Elems, nil
	case string:
		runes := []rune(x)
		out := make([]value.Value, len(runes))
		for i, r := range runes {
			out[i] = string(r)
		}
		return out, nil
	case *value.Object:
		keys := x.Keys()
		out := make([]value.Value, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	}
	return nil, errors.New("cannot iterate " + value.TypeName(v))
}
