package runtime

import (
	"errors"
	"fmt"
	"sync"

	"mlc/internal/capability"
	"mlc/internal/logging"
	"mlc/internal/value"
)

// HostFunc is a host function callable from compiled code. It receives
// the live runtime so it can write to the captured streams.
type HostFunc func(rt *Runtime, args []value.Value) (value.Value, error)

// HostEntry registers one host function under its ML name. The
// capability requirements are checked by safe_call before the function
// body ever runs. ResourceArg names the argument whose string value is
// the checked resource; -1 checks the wildcard resource.
type HostEntry struct {
	MLName       string
	Fn           HostFunc
	RequiredCaps []capability.Requirement
	ResourceArg  int
	ParamKinds   []string
	ReturnKind   string
}

// ErrHostFrozen is returned by registrations after the first compile.
var ErrHostFrozen = errors.New("host registry is frozen; register modules before first compile")

// HostRegistry holds the registered host modules. Like the safe
// attribute registry it is configure-then-read-only.
type HostRegistry struct {
	mu      sync.RWMutex
	modules map[string]map[string]*HostEntry
	frozen  bool
}

// NewHostRegistry returns an empty host registry.
func NewHostRegistry() *HostRegistry {
	return &HostRegistry{modules: make(map[string]map[string]*HostEntry)}
}

// RegisterHostModule installs a module's entries. Entries replace any
// previous registration of the same name within the module.
func (h *HostRegistry) RegisterHostModule(name string, entries []HostEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frozen {
		return ErrHostFrozen
	}
	mod := h.modules[name]
	if mod == nil {
		mod = make(map[string]*HostEntry)
		h.modules[name] = mod
	}
	for i := range entries {
		e := entries[i]
		if e.MLName == "" || e.Fn == nil {
			return fmt.Errorf("module %s: entry %d missing name or callable", name, i)
		}
		if len(e.RequiredCaps) == 0 {
			e.ResourceArg = -1
		}
		mod[e.MLName] = &e
	}
	logging.Boot("host module %q registered with %d entries", name, len(entries))
	return nil
}

// Freeze makes the registry read-only. Idempotent.
func (h *HostRegistry) Freeze() {
	h.mu.Lock()
	h.frozen = true
	h.mu.Unlock()
}

// Reset clears all modules and unfreezes; for embedding hosts that
// reconfigure between runs.
func (h *HostRegistry) Reset() {
	h.mu.Lock()
	h.modules = make(map[string]map[string]*HostEntry)
	h.frozen = false
	h.mu.Unlock()
}

// Lookup resolves "module.fn".
func (h *HostRegistry) Lookup(module, fn string) (*HostEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	mod, ok := h.modules[module]
	if !ok {
		return nil, false
	}
	e, ok := mod[fn]
	return e, ok
}

// HasModule reports whether a module name is registered.
func (h *HostRegistry) HasModule(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.modules[name]
	return ok
}

// Modules returns the registered module names as a set, for the
// emitter's import policy.
func (h *HostRegistry) Modules() map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]bool, len(h.modules))
	for name := range h.modules {
		out[name] = true
	}
	return out
}

// Requirements maps "module.fn" to declared capability requirements,
// the table consumed by the analyzer, optimizer, and emitter.
func (h *HostRegistry) Requirements() map[string][]capability.Requirement {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]capability.Requirement)
	for modName, mod := range h.modules {
		for fnName, e := range mod {
			if len(e.RequiredCaps) > 0 {
				out[modName+"."+fnName] = append([]capability.Requirement(nil), e.RequiredCaps...)
			} else {
				out[modName+"."+fnName] = nil
			}
		}
	}
	return out
}

// ModuleRef is the runtime value bound by an import statement.
type ModuleRef struct {
	Name string
}

// HostRef is a reference to a host function pulled off a module.
type HostRef struct {
	Target string // "module.fn"
}

// Bound is a host method bound to a receiver by safe_attr.
type Bound struct {
	Name string
	Call func(args []value.Value) (value.Value, error)
}
