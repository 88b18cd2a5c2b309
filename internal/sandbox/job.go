package sandbox

import (
	"mlc/internal/ast"
	"mlc/internal/capability"
)

// Limits configures one sandboxed execution. Zero values fall back to
// the defaults below.
type Limits struct {
	MemoryLimitBytes  int64    `json:"memory_limit_bytes"`
	CPUSeconds        float64  `json:"cpu_seconds"`
	WallclockSeconds  float64  `json:"wallclock_seconds"`
	StdoutCapBytes    int      `json:"stdout_cap_bytes"`
	StderrCapBytes    int      `json:"stderr_cap_bytes"`
	DisableNetwork    bool     `json:"disable_network"`
	FSAllowedPatterns []string `json:"fs_allowed_patterns"`
	FSRoot            string   `json:"fs_root"`
}

// Default limit values.
const (
	DefaultMemoryLimitBytes = 256 << 20
	DefaultCPUSeconds       = 10.0
	DefaultWallclockSeconds = 30.0
	DefaultStreamCapBytes   = 64 * 1024

	// stepsPerCPUSecond converts the CPU budget into interpreter
	// steps, the in-worker CPU proxy.
	stepsPerCPUSecond = 5_000_000
)

// withDefaults fills unset limits.
func (l Limits) withDefaults() Limits {
	if l.MemoryLimitBytes <= 0 {
		l.MemoryLimitBytes = DefaultMemoryLimitBytes
	}
	if l.CPUSeconds <= 0 {
		l.CPUSeconds = DefaultCPUSeconds
	}
	if l.WallclockSeconds <= 0 {
		l.WallclockSeconds = DefaultWallclockSeconds
	}
	if l.StdoutCapBytes <= 0 {
		l.StdoutCapBytes = DefaultStreamCapBytes
	}
	if l.StderrCapBytes <= 0 {
		l.StderrCapBytes = DefaultStreamCapBytes
	}
	return l
}

// Job is the frame the host sends to the worker: the program (arena
// form), the granted tokens, and the limits.
type Job struct {
	UnitPath string     `json:"unit_path"`
	UnitHash string     `json:"unit_hash"`
	Nodes    []ast.Node `json:"nodes"`
	Root     ast.NodeID `json:"root"`

	Manifest []capability.Requirement `json:"manifest"`
	Tokens   []*capability.Token      `json:"tokens"`

	Limits Limits `json:"limits"`
}

// ErrorInfo carries a structured failure across the pipe.
type ErrorInfo struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Type     string `json:"type,omitempty"`
	Resource string `json:"resource,omitempty"`
	Op       string `json:"op,omitempty"`
}

// Exit reasons reported in results.
const (
	ExitOK                 = "ok"
	ExitTimeout            = "timeout"
	ExitMemory             = "memory"
	ExitCapabilityDenied   = "capability_denied"
	ExitSafeAttributeError = "safe_attribute_error"
	ExitUncaughtThrow      = "uncaught_throw"
	ExitSecurityCritical   = "security_critical"
	ExitWorkerCrash        = "worker_crash"
)

// Result is the worker's reply frame.
type Result struct {
	Success         bool        `json:"success"`
	ReturnValue     interface{} `json:"return_value,omitempty"`
	Stdout          string      `json:"stdout"`
	Stderr          string      `json:"stderr"`
	WallclockMS     int64       `json:"wallclock_ms"`
	CPUMS           int64       `json:"cpu_ms"`
	PeakMemoryBytes int64       `json:"peak_memory_bytes"`
	ExitReason      string      `json:"exit_reason"`
	Error           *ErrorInfo  `json:"error,omitempty"`
}
