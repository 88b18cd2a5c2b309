package runtime

import (
	"strconv"

	"mlc/internal/ast"
	"mlc/internal/value"
)

func (in *Interp) expr(id ast.NodeID, env *Env) (value.Value, error) {
	if id == ast.NoNode || !in.tree.Arena.Valid(id) {
		return nil, nil
	}
	if err := in.rt.step(); err != nil {
		return nil, err
	}
	n := in.node(id)
	switch n.Kind {
	case ast.Literal:
		return n.Value, nil
	case ast.Identifier:
		if c, ok := env.lookup(n.Name); ok {
			return c.V, nil
		}
		return nil, in.throwMessage("undefined name '" + n.Name + "'")
	case ast.Binary:
		return in.binary(n, env)
	case ast.Unary:
		operand, err := in.expr(n.Children[0], env)
		if err != nil {
			return nil, err
		}
		v, err := value.UnaryOp(n.Op, operand)
		if err != nil {
			return nil, in.throwMessage(err.Error())
		}
		return v, nil
	case ast.Ternary:
		cond, err := in.expr(n.Children[0], env)
		if err != nil {
			return nil, err
		}
		if value.Truthy(cond) {
			return in.expr(n.Children[1], env)
		}
		return in.expr(n.Children[2], env)
	case ast.ArrayAccess:
		obj, err := in.expr(n.Children[0], env)
		if err != nil {
			return nil, err
		}
		idx, err := in.expr(n.Children[1], env)
		if err != nil {
			return nil, err
		}
		return in.index(obj, idx)
	case ast.Slice:
		return in.slice(n, env)
	case ast.MemberAccess:
		obj, err := in.expr(n.Children[0], env)
		if err != nil {
			return nil, err
		}
		return in.rt.SafeAttr(obj, n.Name)
	case ast.FunctionCall:
		return in.call(id, env)
	case ast.ArrayLiteral:
		var elems []value.Value
		for _, ch := range n.Children {
			c := in.node(ch)
			if c.Kind == ast.Spread {
				inner, err := in.expr(c.Children[0], env)
				if err != nil {
					return nil, err
				}
				spread, err := iterate(inner)
				if err != nil {
					return nil, in.throwMessage(err.Error())
				}
				elems = append(elems, spread...)
				continue
			}
			v, err := in.expr(ch, env)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		return &value.Array{Elems: elems}, nil
	case ast.ObjectLiteral:
		obj := value.NewObject()
		for i := 0; i+1 < len(n.Children); i += 2 {
			key, _ := in.node(n.Children[i]).Value.(string)
			v, err := in.expr(n.Children[i+1], env)
			if err != nil {
				return nil, err
			}
			obj.Entries[key] = v
		}
		return obj, nil
	case ast.ArrowFn:
		return &Closure{node: id, env: env, tree: in.tree}, nil
	case ast.Pipeline:
		v, err := in.expr(n.Children[0], env)
		if err != nil {
			return nil, err
		}
		for _, stage := range n.Children[1:] {
			fn, err := in.expr(stage, env)
			if err != nil {
				return nil, err
			}
			v, err = in.callValue(fn, []value.Value{v})
			if err != nil {
				return nil, err
			}
		}
		return v, nil
	}
	return nil, in.throwMessage("cannot evaluate " + n.Kind.String())
}

// binary evaluates with short-circuit logical operators; everything
// else flows through the shared value semantics.
func (in *Interp) binary(n *ast.Node, env *Env) (value.Value, error) {
	l, err := in.expr(n.Children[0], env)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "&&":
		if !value.Truthy(l) {
			return l, nil
		}
		return in.expr(n.Children[1], env)
	case "||":
		if value.Truthy(l) {
			return l, nil
		}
		return in.expr(n.Children[1], env)
	}
	r, err := in.expr(n.Children[1], env)
	if err != nil {
		return nil, err
	}
	v, err := value.BinaryOp(n.Op, l, r)
	if err != nil {
		return nil, in.throwMessage(err.Error())
	}
	return v, nil
}

func (in *Interp) index(obj, idx value.Value) (value.Value, error) {
	switch x := obj.(type) {
	case *value.Array:
		i, ok := idx.(int64)
		if !ok {
			return nil, in.throwMessage("array index must be an integer")
		}
		if i < 0 {
			i += int64(len(x.Elems))
		}
		if i < 0 || i >= int64(len(x.Elems)) {
			return nil, in.throwMessage("array index out of range")
		}
		return x.Elems[i], nil
	case *value.Object:
		k, ok := idx.(string)
		if !ok {
			return nil, in.throwMessage("object key must be a string")
		}
		if v, present := x.Entries[k]; present {
			return v, nil
		}
		return nil, nil
	case string:
		i, ok := idx.(int64)
		if !ok {
			return nil, in.throwMessage("string index must be an integer")
		}
		runes := []rune(x)
		if i < 0 {
			i += int64(len(runes))
		}
		if i < 0 || i >= int64(len(runes)) {
			return nil, in.throwMessage("string index out of range")
		}
		return string(runes[i]), nil
	}
	return nil, in.throwMessage("cannot index " + value.TypeName(obj))
}

func (in *Interp) slice(n *ast.Node, env *Env) (value.Value, error) {
	obj, err := in.expr(n.Children[0], env)
	if err != nil {
		return nil, err
	}
	bound := func(id ast.NodeID, def int64) (int64, error) {
		if id == ast.NoNode {
			return def, nil
		}
		v, err := in.expr(id, env)
		if err != nil {
			return 0, err
		}
		i, ok := v.(int64)
		if !ok {
			return 0, in.throwMessage("slice bound must be an integer")
		}
		return i, nil
	}
	clamp := func(i, n int64) int64 {
		if i < 0 {
			i += n
		}
		if i < 0 {
			i = 0
		}
		if i > n {
			i = n
		}
		return i
	}
	switch x := obj.(type) {
	case *value.Array:
		n_ := int64(len(x.Elems))
		lo, err := bound(n.Children[1], 0)
		if err != nil {
			return nil, err
		}
		hi, err := bound(n.Children[2], n_)
		if err != nil {
			return nil, err
		}
		lo, hi = clamp(lo, n_), clamp(hi, n_)
		if lo > hi {
			lo = hi
		}
		return &value.Array{Elems: append([]value.Value(nil), x.Elems[lo:hi]...)}, nil
	case string:
		runes := []rune(x)
		n_ := int64(len(runes))
		lo, err := bound(n.Children[1], 0)
		if err != nil {
			return nil, err
		}
		hi, err := bound(n.Children[2], n_)
		if err != nil {
			return nil, err
		}
		lo, hi = clamp(lo, n_), clamp(hi, n_)
		if lo > hi {
			lo = hi
		}
		return string(runes[lo:hi]), nil
	}
	return nil, in.throwMessage("cannot slice " + value.TypeName(obj))
}

// call evaluates a call site, honoring the check-elision flag for host
// calls the optimizer proved dominated.
func (in *Interp) call(id ast.NodeID, env *Env) (value.Value, error) {
	n := in.node(id)
	callee := n.Children[0]
	args := make([]value.Value, 0, len(n.Children)-1)
	for _, ch := range n.Children[1:] {
		v, err := in.expr(ch, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	prechecked := n.Flags&ast.FlagCheckElided != 0

	c := in.node(callee)
	if c.Kind == ast.Identifier {
		if cell, ok := env.lookup(c.Name); ok {
			return in.callValue(cell.V, args)
		}
		// Unresolved identifier in call position: the builtin module.
		if _, found := in.rt.Host.Lookup("builtin", c.Name); found {
			return in.rt.SafeCall("builtin."+c.Name, args, prechecked)
		}
		return nil, in.throwMessage("unknown function '" + c.Name + "'")
	}
	if c.Kind == ast.MemberAccess {
		obj, err := in.expr(c.Children[0], env)
		if err != nil {
			return nil, err
		}
		if mod, ok := obj.(*ModuleRef); ok {
			return in.rt.SafeCall(mod.Name+"."+c.Name, args, prechecked)
		}
		fn, err := in.rt.SafeAttr(obj, c.Name)
		if err != nil {
			return nil, err
		}
		return in.callValue(fn, args)
	}

	fn, err := in.expr(callee, env)
	if err != nil {
		return nil, err
	}
	return in.callValue(fn, args)
}

// callValue applies a callable value: an ML closure, a host-bound
// method, or a host function reference.
func (in *Interp) callValue(fn value.Value, args []value.Value) (value.Value, error) {
	switch f := fn.(type) {
	case *Closure:
		return in.callClosure(f, args)
	case *Bound:
		v, err := f.Call(args)
		if err != nil {
			if _, catchable := catchableValue(err); catchable {
				return nil, err
			}
			return nil, in.throwMessage(err.Error())
		}
		return v, nil
	case *HostRef:
		return in.rt.SafeCall(f.Target, args, false)
	}
	return nil, in.throwMessage("value of type " + value.TypeName(fn) + " is not callable")
}

func (in *Interp) callClosure(f *Closure, args []value.Value) (value.Value, error) {
	n := f.tree.Arena.Node(f.node)
	params := n.Children[:len(n.Children)-1]
	if len(args) != len(params) {
		return nil, in.throwMessage("function expects " + itoa(len(params)) + " arguments, got " + itoa(len(args)))
	}
	callEnv := NewEnv(f.env)
	for i, p := range params {
		callEnv.set(f.tree.Arena.Node(p).Name, args[i])
	}
	body := n.Children[len(n.Children)-1]

	prevTree := in.tree
	in.tree = f.tree
	err := in.block(body, callEnv)
	in.tree = prevTree

	if err != nil {
		var ret returnSignal
		if asReturn(err, &ret) {
			return ret.v, nil
		}
		return nil, err
	}
	return nil, nil
}

func asReturn(err error, ret *returnSignal) bool {
	r, ok := err.(returnSignal)
	if ok {
		*ret = r
	}
	return ok
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
