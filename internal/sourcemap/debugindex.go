package sourcemap

import (
	"sort"
	"strings"
)

// DebugIndex is the queryable form of a source map: the forward index
// answers breakpoint resolution (source line -> generated lines), the
// reverse index answers frame symbolication (generated line -> source
// position).
type DebugIndex struct {
	m                 *Map
	sourceToGenerated map[int][]int
	generatedToSource map[int]Mapping
}

// NewDebugIndex builds both indices from a map.
func NewDebugIndex(m *Map) *DebugIndex {
	idx := &DebugIndex{
		m:                 m,
		sourceToGenerated: make(map[int][]int),
		generatedToSource: make(map[int]Mapping),
	}
	for _, mp := range m.Mappings {
		idx.sourceToGenerated[mp.SrcLine] = append(idx.sourceToGenerated[mp.SrcLine], mp.GenLine)
		// First mapping on a generated line wins: it is the statement
		// that produced the line.
		if _, ok := idx.generatedToSource[mp.GenLine]; !ok {
			idx.generatedToSource[mp.GenLine] = mp
		}
	}
	for line := range idx.sourceToGenerated {
		gens := idx.sourceToGenerated[line]
		sort.Ints(gens)
		idx.sourceToGenerated[line] = dedupeInts(gens)
	}
	return idx
}

func dedupeInts(xs []int) []int {
	out := xs[:0]
	for i, x := range xs {
		if i > 0 && x == xs[i-1] {
			continue
		}
		out = append(out, x)
	}
	return out
}

// SourceToGenerated returns the generated lines produced by a source
// line, empty when the line emitted nothing (comments, blank lines).
func (idx *DebugIndex) SourceToGenerated(srcLine int) []int {
	return idx.sourceToGenerated[srcLine]
}

// GeneratedToSource returns the source position for a generated line.
func (idx *DebugIndex) GeneratedToSource(genLine int) (srcLine, srcCol int, ok bool) {
	mp, found := idx.generatedToSource[genLine]
	if !found {
		return 0, 0, false
	}
	return mp.SrcLine, mp.SrcCol, true
}

// internalPrefix marks emitter-synthesized names hidden from debugger
// variable views.
const internalPrefix = "_mlc_"

// VisibleVariables lists the symbols in scope at a source line,
// filtered of emitter-internal names.
func (idx *DebugIndex) VisibleVariables(srcLine int) []string {
	var visible []string
	for name, scopeIdx := range idx.m.Symbols {
		if strings.HasPrefix(name, internalPrefix) {
			continue
		}
		if scopeIdx < 0 || scopeIdx >= len(idx.m.Scopes) {
			continue
		}
		// A symbol is visible at the line when its scope, or any
		// ancestor of a scope containing the line, declares it.
		if scopeContainsLine(idx.m.Scopes, scopeIdx, srcLine) {
			visible = append(visible, name)
		}
	}
	sort.Strings(visible)
	return visible
}

func scopeContainsLine(scopes []ScopeEntry, i, line int) bool {
	s := scopes[i]
	return line >= s.Start && line <= s.End
}
