// Package transform applies meaning-preserving normalizations to a
// validated tree: elif chains become nested canonical conditionals and
// arrow-function expression bodies gain explicit returns. Destructuring
// targets are not rewritten; they reach later stages as Destructuring
// nodes. Every rewrite is counted in a transformation log for
// observability.
package transform

import (
	"sort"

	"mlc/internal/ast"
)

// Log records how many rewrites of each kind were applied.
type Log struct {
	counts map[string]int
}

// Count returns the number of rewrites of the given kind.
func (l *Log) Count(kind string) int {
	if l == nil || l.counts == nil {
		return 0
	}
	return l.counts[kind]
}

// Total returns the total rewrite count.
func (l *Log) Total() int {
	n := 0
	for _, c := range l.counts {
		n += c
	}
	return n
}

// Kinds returns the rewrite kinds applied, sorted.
func (l *Log) Kinds() []string {
	kinds := make([]string, 0, len(l.counts))
	for k := range l.counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (l *Log) bump(kind string) {
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[kind]++
}

// Record counts a rewrite. Exposed so the optimizer can share the same
// log shape for its own rewrites.
func (l *Log) Record(kind string) {
	l.bump(kind)
}

// NewLog returns an empty rewrite log.
func NewLog() *Log {
	return &Log{}
}

// Rewrite kinds recorded in the log.
const (
	RewriteElifChain      = "elif_chain"
	RewriteImplicitReturn = "implicit_return"
	RewriteArrowBlock     = "arrow_block_return"
)

// Apply normalizes the tree in place and returns the transformation log.
// The tree stays valid under the same structural invariants.
func Apply(tree *ast.Tree) *Log {
	t := &transformer{tree: tree, log: &Log{}}
	t.walk(tree.Root)
	return t.log
}

type transformer struct {
	tree *ast.Tree
	log  *Log
}

func (t *transformer) walk(id ast.NodeID) {
	if id == ast.NoNode || !t.tree.Arena.Valid(id) {
		return
	}
	n := t.tree.Arena.Node(id)
	switch n.Kind {
	case ast.If:
		t.canonicalizeIf(id)
	case ast.ArrowFn:
		t.materializeArrowReturn(id)
	}
	// Children may have been rewritten; re-read the node.
	for _, ch := range t.tree.Arena.Node(id).Children {
		t.walk(ch)
	}
}

// canonicalizeIf rewrites `if c1 {} elif c2 {} else {}` into the
// canonical nested form `if c1 {} else { if c2 {} else {} }`. After the
// rewrite an if node has exactly two or three children: condition, then
// branch, optional else branch.
func (t *transformer) canonicalizeIf(id ast.NodeID) {
	a := t.tree.Arena
	n := a.Node(id)
	if len(n.Children) < 2 {
		return
	}

	var elifs []ast.NodeID
	elseBranch := ast.NoNode
	for _, ch := range n.Children[2:] {
		if a.Node(ch).Kind == ast.Elif {
			elifs = append(elifs, ch)
		} else {
			elseBranch = ch
		}
	}
	if len(elifs) == 0 {
		return
	}

	// Build from the innermost elif outward.
	for i := len(elifs) - 1; i >= 0; i-- {
		elif := a.Node(elifs[i])
		children := []ast.NodeID{elif.Children[0], elif.Children[1]}
		if elseBranch != ast.NoNode {
			children = append(children, elseBranch)
		}
		inner := a.New(ast.Node{
			Kind:     ast.If,
			Span:     elif.Span,
			Children: children,
			Flags:    ast.FlagSynthetic,
		})
		// Wrap in a synthetic block so the nested if stays a statement.
		elseBranch = a.New(ast.Node{
			Kind:     ast.Block,
			Span:     a.Node(inner).Span,
			Children: []ast.NodeID{inner},
			Flags:    ast.FlagSynthetic,
		})
		t.log.bump(RewriteElifChain)
	}

	n = a.Node(id) // re-read after arena growth
	n.Children = []ast.NodeID{n.Children[0], n.Children[1], elseBranch}
}

// materializeArrowReturn gives expression-bodied arrow functions an
// explicit return inside a block, so later stages see a single body
// shape. Block-bodied arrows are left as written.
func (t *transformer) materializeArrowReturn(id ast.NodeID) {
	a := t.tree.Arena
	n := a.Node(id)
	if len(n.Children) == 0 {
		return
	}
	body := n.Children[len(n.Children)-1]
	if a.Node(body).Kind == ast.Block {
		return
	}
	span := a.Node(body).Span
	ret := a.New(ast.Node{
		Kind:     ast.Return,
		Span:     span,
		Children: []ast.NodeID{body},
		Flags:    ast.FlagSynthetic,
	})
	block := a.New(ast.Node{
		Kind:     ast.Block,
		Span:     span,
		Children: []ast.NodeID{ret},
		Flags:    ast.FlagSynthetic,
	})
	n = a.Node(id)
	n.Children[len(n.Children)-1] = block
	t.log.bump(RewriteImplicitReturn)
}
