// Package diag defines the diagnostic model shared by all compiler stages.
// Stages accumulate diagnostics instead of raising; the coordinator merges
// per-stage lists deterministically so repeated compiles of the same unit
// produce byte-identical reports.
package diag

import (
	"sort"

	"mlc/internal/source"
)

// Severity of a diagnostic. Critical unconditionally blocks emission; it
// marks security findings and fatal parse failures.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
	Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Critical:
		return "critical"
	}
	return "unknown"
}

// Stage identifies which pipeline stage produced a diagnostic.
type Stage string

const (
	StageParse     Stage = "parse"
	StageValidate  Stage = "validate"
	StageTransform Stage = "transform"
	StageCollect   Stage = "collect"
	StageAnalyze   Stage = "analyze"
	StagePatterns  Stage = "patterns"
	StageOptimize  Stage = "optimize"
	StageEmit      Stage = "emit"
	StageRuntime   Stage = "runtime"
)

// stageOrder fixes the tie-break ordering between stages for the
// deterministic merge. Unknown stages sort last.
var stageOrder = map[Stage]int{
	StageParse:     0,
	StageValidate:  1,
	StageTransform: 2,
	StageCollect:   3,
	StageAnalyze:   4,
	StagePatterns:  5,
	StageOptimize:  6,
	StageEmit:      7,
	StageRuntime:   8,
}

// Diagnostic is one finding from one stage.
type Diagnostic struct {
	Severity     Severity          `json:"severity"`
	Stage        Stage             `json:"stage"`
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	Location     source.Location   `json:"location"`
	Related      []source.Location `json:"related,omitempty"`
	SuggestedFix string            `json:"suggested_fix,omitempty"`
}

// List is an ordered collection of diagnostics.
type List []Diagnostic

// Add appends a diagnostic and returns the extended list.
func (l List) Add(d Diagnostic) List {
	return append(l, d)
}

// HasErrors reports whether any diagnostic is error severity or worse.
// A compile succeeds iff this is false.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity >= Error {
			return true
		}
	}
	return false
}

// HasCritical reports whether any diagnostic blocks emission.
func (l List) HasCritical() bool {
	for _, d := range l {
		if d.Severity == Critical {
			return true
		}
	}
	return false
}

// CountSeverity returns the number of diagnostics at exactly sev.
func (l List) CountSeverity(sev Severity) int {
	n := 0
	for _, d := range l {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// Sort orders the list by location, then stage, then code. This is the
// merge order required for reproducible diagnostics across the parallel
// analyzer join.
func (l List) Sort() {
	sort.SliceStable(l, func(i, j int) bool {
		if c := l[i].Location.Compare(l[j].Location); c != 0 {
			return c < 0
		}
		si, sj := stageOrder[l[i].Stage], stageOrder[l[j].Stage]
		if si != sj {
			return si < sj
		}
		return l[i].Code < l[j].Code
	})
}

// Dedupe removes duplicates sharing (location, code), keeping the first
// occurrence in sorted order. The receiver must already be sorted.
func (l List) Dedupe() List {
	if len(l) == 0 {
		return l
	}
	out := l[:1]
	for _, d := range l[1:] {
		last := out[len(out)-1]
		if d.Code == last.Code && d.Location.Compare(last.Location) == 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Merge combines several stage lists into one deterministic list.
func Merge(lists ...List) List {
	var out List
	for _, l := range lists {
		out = append(out, l...)
	}
	out.Sort()
	return out.Dedupe()
}
