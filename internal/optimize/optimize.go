// Package optimize is the pure-AST rewriter: constant folding,
// dead-branch elimination, peephole simplification, and elision of
// capability checks proven redundant by a dominating check in the same
// scope. Every rewrite preserves observable behavior, including the
// order and identity of capability checks that are not proven redundant.
package optimize

import (
	"mlc/internal/ast"
	"mlc/internal/capability"
	"mlc/internal/transform"
	"mlc/internal/value"
)

// Rewrite kinds recorded in the shared rewrite log.
const (
	RewriteConstantFold   = "constant_fold"
	RewriteDeadBranch     = "dead_branch"
	RewritePeephole       = "peephole"
	RewriteRedundantCheck = "redundant_check"
)

// Config carries the host-requirement table used to recognize
// capability-guarded calls.
type Config struct {
	HostRequirements map[string][]capability.Requirement
}

// Apply optimizes the tree in place and returns the rewrite log.
func Apply(tree *ast.Tree, cfg Config) *transform.Log {
	o := &optimizer{tree: tree, cfg: cfg, log: transform.NewLog()}
	o.walk(tree.Root)
	o.elideChecks(tree.Root, nil)
	return o.log
}

type optimizer struct {
	tree *ast.Tree
	cfg  Config
	log  *transform.Log
}

// walk optimizes bottom-up so folded children feed parent folds.
func (o *optimizer) walk(id ast.NodeID) {
	if id == ast.NoNode || !o.tree.Arena.Valid(id) {
		return
	}
	for _, ch := range o.tree.Arena.Node(id).Children {
		o.walk(ch)
	}
	n := o.tree.Arena.Node(id)
	switch n.Kind {
	case ast.Binary:
		o.foldBinary(id)
	case ast.Unary:
		o.foldUnary(id)
	case ast.Ternary:
		o.foldTernary(id)
	case ast.If:
		o.deadBranch(id)
	}
}

// replaceWith overwrites the node at id with the node at src, keeping
// id's span so source maps still point at the original text.
func (o *optimizer) replaceWith(id, src ast.NodeID) {
	a := o.tree.Arena
	span := a.Node(id).Span
	*a.Node(id) = *a.Node(src)
	a.Node(id).Span = span
}

func (o *optimizer) foldBinary(id ast.NodeID) {
	a := o.tree.Arena
	n := a.Node(id)
	if len(n.Children) != 2 {
		return
	}
	l, r := a.Node(n.Children[0]), a.Node(n.Children[1])
	if l.Kind != ast.Literal || r.Kind != ast.Literal {
		return
	}
	v, ok := foldBinaryValues(n.Op, l.Value, r.Value)
	if !ok {
		return
	}
	*n = ast.Node{Kind: ast.Literal, Span: n.Span, Value: v, Binding: ast.NoNode}
	o.log.Record(RewriteConstantFold)
}

// foldBinaryValues evaluates a binary operator over literal payloads
// through the shared value semantics, so folding can never disagree
// with the interpreter. Operations that would fail at runtime
// (division by zero, type mismatch) are left unfolded to fail there.
func foldBinaryValues(op string, lv, rv interface{}) (interface{}, bool) {
	if !value.IsScalar(lv) || !value.IsScalar(rv) {
		return nil, false
	}
	switch op {
	case "&&":
		lb, lok := lv.(bool)
		rb, rok := rv.(bool)
		if lok && rok {
			return lb && rb, true
		}
		return nil, false
	case "||":
		lb, lok := lv.(bool)
		rb, rok := rv.(bool)
		if lok && rok {
			return lb || rb, true
		}
		return nil, false
	}
	v, err := value.BinaryOp(op, lv, rv)
	if err != nil || !value.IsScalar(v) {
		return nil, false
	}
	return v, true
}

func (o *optimizer) foldUnary(id ast.NodeID) {
	a := o.tree.Arena
	n := a.Node(id)
	if len(n.Children) != 1 {
		return
	}
	operand := a.Node(n.Children[0])

	// Peephole: !!x -> x for any operand.
	if n.Op == "!" && operand.Kind == ast.Unary && operand.Op == "!" {
		o.replaceWith(id, operand.Children[0])
		o.log.Record(RewritePeephole)
		return
	}

	if operand.Kind != ast.Literal {
		return
	}
	switch n.Op {
	case "!":
		if b, ok := operand.Value.(bool); ok {
			*n = ast.Node{Kind: ast.Literal, Span: n.Span, Value: !b, Binding: ast.NoNode}
			o.log.Record(RewriteConstantFold)
		}
	case "-":
		switch v := operand.Value.(type) {
		case int64:
			*n = ast.Node{Kind: ast.Literal, Span: n.Span, Value: -v, Binding: ast.NoNode}
			o.log.Record(RewriteConstantFold)
		case float64:
			*n = ast.Node{Kind: ast.Literal, Span: n.Span, Value: -v, Binding: ast.NoNode}
			o.log.Record(RewriteConstantFold)
		}
	}
}

func (o *optimizer) foldTernary(id ast.NodeID) {
	a := o.tree.Arena
	n := a.Node(id)
	if len(n.Children) != 3 {
		return
	}
	// Constant condition selects an arm.
	cond := a.Node(n.Children[0])
	if cond.Kind == ast.Literal {
		if b, ok := cond.Value.(bool); ok {
			arm := n.Children[2]
			if b {
				arm = n.Children[1]
			}
			o.replaceWith(id, arm)
			o.log.Record(RewriteDeadBranch)
			return
		}
	}
	// Peephole: identical arms collapse to either one.
	if o.structEqual(n.Children[1], n.Children[2]) {
		o.replaceWith(id, n.Children[1])
		o.log.Record(RewritePeephole)
	}
}

// deadBranch eliminates if statements with constant conditions. The
// node becomes the surviving block, or an empty block when the branch
// is gone entirely.
func (o *optimizer) deadBranch(id ast.NodeID) {
	a := o.tree.Arena
	n := a.Node(id)
	if len(n.Children) < 2 {
		return
	}
	cond := a.Node(n.Children[0])
	if cond.Kind != ast.Literal {
		return
	}
	b, ok := cond.Value.(bool)
	if !ok {
		return
	}
	if b {
		o.replaceWith(id, n.Children[1])
	} else if len(n.Children) >= 3 {
		o.replaceWith(id, n.Children[2])
	} else {
		*n = ast.Node{Kind: ast.Block, Span: n.Span, Binding: ast.NoNode}
	}
	o.log.Record(RewriteDeadBranch)
}

// structEqual compares two subtrees structurally: kind, payload, and
// children, ignoring spans.
func (o *optimizer) structEqual(x, y ast.NodeID) bool {
	a := o.tree.Arena
	if x == ast.NoNode || y == ast.NoNode {
		return x == y
	}
	nx, ny := a.Node(x), a.Node(y)
	if nx.Kind != ny.Kind || nx.Name != ny.Name || nx.Op != ny.Op {
		return false
	}
	if nx.Value != ny.Value {
		return false
	}
	if len(nx.Children) != len(ny.Children) {
		return false
	}
	for i := range nx.Children {
		if !o.structEqual(nx.Children[i], ny.Children[i]) {
			return false
		}
	}
	return true
}

// elideChecks marks host calls to a target that an earlier statement of
// the same block already called unconditionally. The mark compares
// targets only; at run time SafeCall skips a marked call's check only
// for a (type, resource, op) triple that has already passed. The marking is
// strictly sequential within one block: nested blocks start fresh,
// because entry into them is conditional.
func (o *optimizer) elideChecks(id ast.NodeID, _ map[string]bool) {
	if len(o.cfg.HostRequirements) == 0 {
		return
	}
	a := o.tree.Arena
	var visitBlock func(block ast.NodeID)
	visitBlock = func(block ast.NodeID) {
		seen := make(map[string]bool)
		for _, stmt := range a.Node(block).Children {
			if stmt == ast.NoNode {
				continue
			}
			// Mark direct, unconditional host calls in this statement.
			o.markStatementCalls(stmt, seen)
			// Recurse into nested blocks with a fresh set.
			ast.Walk(a, stmt, func(ch ast.NodeID) bool {
				if ch != stmt && a.Node(ch).Kind == ast.Block {
					visitBlock(ch)
					return false
				}
				return true
			})
		}
	}
	if a.Valid(id) && a.Node(id).Kind == ast.Program {
		seen := make(map[string]bool)
		for _, stmt := range a.Node(id).Children {
			o.markStatementCalls(stmt, seen)
			ast.Walk(a, stmt, func(ch ast.NodeID) bool {
				if ch != stmt && a.Node(ch).Kind == ast.Block {
					visitBlock(ch)
					return false
				}
				return true
			})
		}
	}
}

// markStatementCalls handles host calls that execute unconditionally
// when the statement executes: expression statements, assignments, and
// returns whose value is a direct call.
func (o *optimizer) markStatementCalls(stmt ast.NodeID, seen map[string]bool) {
	a := o.tree.Arena
	if stmt == ast.NoNode || !a.Valid(stmt) {
		return
	}
	n := a.Node(stmt)
	var expr ast.NodeID = ast.NoNode
	switch n.Kind {
	case ast.ExprStmt:
		expr = n.Children[0]
	case ast.Assignment:
		if len(n.Children) == 2 {
			expr = n.Children[1]
		}
	case ast.Return:
		if len(n.Children) == 1 {
			expr = n.Children[0]
		}
	default:
		return
	}
	if expr == ast.NoNode || !a.Valid(expr) {
		return
	}
	call := a.Node(expr)
	if call.Kind != ast.FunctionCall || len(call.Children) == 0 {
		return
	}
	target := o.hostTarget(call.Children[0])
	if target == "" {
		return
	}
	if _, guarded := o.cfg.HostRequirements[target]; !guarded {
		return
	}
	if seen[target] {
		call.Flags |= ast.FlagCheckElided
		o.log.Record(RewriteRedundantCheck)
		return
	}
	seen[target] = true
}

func (o *optimizer) hostTarget(callee ast.NodeID) string {
	a := o.tree.Arena
	n := a.Node(callee)
	if n.Kind != ast.MemberAccess || len(n.Children) == 0 {
		return ""
	}
	obj := a.Node(n.Children[0])
	if obj.Kind != ast.Identifier {
		return ""
	}
	return obj.Name + "." + n.Name
}
