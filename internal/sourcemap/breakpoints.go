package sourcemap

import (
	"sync"

	"mlc/internal/logging"
)

// BreakpointState follows the lifecycle
// created -> pending -> active -> (hit -> active)* -> removed.
type BreakpointState string

const (
	BreakpointCreated BreakpointState = "created"
	BreakpointPending BreakpointState = "pending"
	BreakpointActive  BreakpointState = "active"
	BreakpointHit     BreakpointState = "hit"
	BreakpointRemoved BreakpointState = "removed"
)

// Breakpoint is one requested stop on an ML source line.
type Breakpoint struct {
	ID       int
	Unit     string
	SrcLine  int
	State    BreakpointState
	GenLines []int // resolved generated lines once active
}

// Resolver owns breakpoints across units. Breakpoints set before their
// unit is compiled stay pending and activate when the unit's debug
// index is registered.
type Resolver struct {
	mu      sync.Mutex
	nextID  int
	points  map[int]*Breakpoint
	indices map[string]*DebugIndex
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		nextID:  1,
		points:  make(map[int]*Breakpoint),
		indices: make(map[string]*DebugIndex),
	}
}

// Set creates a breakpoint on unit:line. It activates immediately when
// the unit's index is already registered, otherwise it stays pending.
func (r *Resolver) Set(unit string, srcLine int) *Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp := &Breakpoint{
		ID:      r.nextID,
		Unit:    unit,
		SrcLine: srcLine,
		State:   BreakpointCreated,
	}
	r.nextID++
	r.points[bp.ID] = bp

	if idx, ok := r.indices[unit]; ok {
		r.activate(bp, idx)
	} else {
		bp.State = BreakpointPending
	}
	return bp
}

func (r *Resolver) activate(bp *Breakpoint, idx *DebugIndex) {
	gens := idx.SourceToGenerated(bp.SrcLine)
	if len(gens) == 0 {
		bp.State = BreakpointPending
		return
	}
	bp.GenLines = gens
	bp.State = BreakpointActive
	logging.DebugIdx("breakpoint %d activated: %s:%d -> gen %v", bp.ID, bp.Unit, bp.SrcLine, gens)
}

// RegisterIndex installs a compiled unit's debug index and activates
// its pending breakpoints.
func (r *Resolver) RegisterIndex(unit string, idx *DebugIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indices[unit] = idx
	for _, bp := range r.points {
		if bp.Unit == unit && bp.State == BreakpointPending {
			r.activate(bp, idx)
		}
	}
}

// Hit marks a breakpoint hit and returns it to active.
func (r *Resolver) Hit(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.points[id]
	if !ok || bp.State != BreakpointActive {
		return false
	}
	bp.State = BreakpointHit
	bp.State = BreakpointActive
	return true
}

// Remove transitions a breakpoint to its terminal state.
func (r *Resolver) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bp, ok := r.points[id]; ok {
		bp.State = BreakpointRemoved
		delete(r.points, id)
	}
}

// Get returns a breakpoint by ID.
func (r *Resolver) Get(id int) (*Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.points[id]
	return bp, ok
}

// ActiveOnGenLine lists breakpoints covering a generated line in a
// unit; the sandbox-side stepper consults this before each statement.
func (r *Resolver) ActiveOnGenLine(unit string, genLine int) []*Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Breakpoint
	for _, bp := range r.points {
		if bp.Unit != unit || bp.State != BreakpointActive {
			continue
		}
		for _, g := range bp.GenLines {
			if g == genLine {
				out = append(out, bp)
				break
			}
		}
	}
	return out
}
