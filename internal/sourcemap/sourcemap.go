// Package sourcemap carries the bidirectional position mapping between
// ML source and generated target text, the auxiliary scope and symbol
// tables for debugger display, and the breakpoint resolver.
package sourcemap

import (
	"encoding/json"
	"sort"
)

// Mapping links one generated position to the source position that
// produced it. Columns are 1-based on both sides.
type Mapping struct {
	GenLine int    `json:"gen_line"`
	GenCol  int    `json:"gen_col"`
	SrcLine int    `json:"src_line"`
	SrcCol  int    `json:"src_col"`
	Name    string `json:"name,omitempty"`
}

// ScopeEntry describes one lexical scope for debugger display. Start
// and End are source lines; ParentIndex is -1 at the root.
type ScopeEntry struct {
	Name        string `json:"name"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	ParentIndex int    `json:"parent_index"`
}

// CapEntry is one required-capability record in the map envelope.
type CapEntry struct {
	Type      string   `json:"type"`
	Ops       []string `json:"ops"`
	Resources []string `json:"resources"`
}

// Map is the Source-Map-v3-compatible envelope with the additional
// scopes, symbols, and required_capabilities fields.
type Map struct {
	Version              int            `json:"version"`
	File                 string         `json:"file"`
	Sources              []string       `json:"sources"`
	Names                []string       `json:"names"`
	Mappings             []Mapping      `json:"mappings"`
	Scopes               []ScopeEntry   `json:"scopes"`
	Symbols              map[string]int `json:"symbols"`
	RequiredCapabilities []CapEntry     `json:"required_capabilities"`
}

// New returns an empty map for one source unit.
func New(sourcePath string) *Map {
	return &Map{
		Version: 3,
		Sources: []string{sourcePath},
		Symbols: make(map[string]int),
	}
}

// Add appends a mapping. The emitter calls this incrementally as it
// produces each line, so mappings arrive ordered by generated line.
func (m *Map) Add(genLine, genCol, srcLine, srcCol int, name string) {
	m.Mappings = append(m.Mappings, Mapping{
		GenLine: genLine, GenCol: genCol,
		SrcLine: srcLine, SrcCol: srcCol,
		Name: name,
	})
	if name != "" {
		found := false
		for _, n := range m.Names {
			if n == name {
				found = true
				break
			}
		}
		if !found {
			m.Names = append(m.Names, name)
		}
	}
}

// AddScope records a scope and returns its index.
func (m *Map) AddScope(name string, start, end, parent int) int {
	m.Scopes = append(m.Scopes, ScopeEntry{Name: name, Start: start, End: end, ParentIndex: parent})
	return len(m.Scopes) - 1
}

// BindSymbol associates a symbol name with a scope index.
func (m *Map) BindSymbol(name string, scopeIndex int) {
	m.Symbols[name] = scopeIndex
}

// MarshalJSON output is deterministic: mappings sorted by generated
// position, capabilities by type.
func (m *Map) MarshalJSON() ([]byte, error) {
	type alias Map
	sort.SliceStable(m.Mappings, func(i, j int) bool {
		if m.Mappings[i].GenLine != m.Mappings[j].GenLine {
			return m.Mappings[i].GenLine < m.Mappings[j].GenLine
		}
		return m.Mappings[i].GenCol < m.Mappings[j].GenCol
	})
	sort.SliceStable(m.RequiredCapabilities, func(i, j int) bool {
		return m.RequiredCapabilities[i].Type < m.RequiredCapabilities[j].Type
	})
	return json.Marshal((*alias)(m))
}

// Decode parses a serialized map.
func Decode(data []byte) (*Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Symbols == nil {
		m.Symbols = make(map[string]int)
	}
	return &m, nil
}
