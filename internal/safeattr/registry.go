// Package safeattr is the whitelist of host members reachable from
// compiled code. The registry is the sole authority: any attribute it
// does not list is unsafe, and the uniform error never reveals whether
// the underlying attribute exists.
package safeattr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mlc/internal/capability"
)

// AccessKind classifies what a registered attribute is.
type AccessKind string

const (
	Method   AccessKind = "method"
	Property AccessKind = "property"
	Constant AccessKind = "constant"
)

// Entry describes one whitelisted (host type, attribute) pair.
type Entry struct {
	HostType     string
	Attr         string
	Kind         AccessKind
	RequiredCaps []capability.Requirement
	Doc          string
}

// NotSafeError is the uniform "attribute not safe" failure. Its message
// deliberately does not distinguish unknown attributes from denied
// ones, to avoid oracle effects.
type NotSafeError struct {
	Attr string
}

func (e *NotSafeError) Error() string {
	return fmt.Sprintf("attribute %q is not available", e.Attr)
}

// ErrFrozen is returned by Register once compilation has started.
var ErrFrozen = errors.New("safe attribute registry is frozen; register before first compile")

type key struct {
	hostType string
	attr     string
}

// Registry is a process-wide, read-mostly whitelist. Registrations must
// complete before the first compile; Freeze makes the registry
// read-only and is enforced, not advisory.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]*Entry
	frozen  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[key]*Entry)}
}

// Register whitelists (hostType, attr). Dunder-style names are rejected
// outright; nothing may whitelist them.
func (r *Registry) Register(hostType, attr string, kind AccessKind, caps []capability.Requirement, doc string) error {
	if IsDunder(attr) {
		return fmt.Errorf("refusing to register dunder attribute %q", attr)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.entries[key{hostType, attr}] = &Entry{
		HostType:     hostType,
		Attr:         attr,
		Kind:         kind,
		RequiredCaps: append([]capability.Requirement(nil), caps...),
		Doc:          doc,
	}
	return nil
}

// Freeze transitions the registry to read-only. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Reset clears all entries and unfreezes. Intended for embedding hosts
// that reconfigure between runs; must not race a compilation.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.entries = make(map[key]*Entry)
	r.frozen = false
	r.mu.Unlock()
}

// Lookup returns the entry for (hostType, attr), or nil with a
// NotSafeError. Dunder names fail unconditionally without consulting
// the table.
func (r *Registry) Lookup(hostType, attr string) (*Entry, error) {
	if IsDunder(attr) {
		return nil, &NotSafeError{Attr: attr}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[key{hostType, attr}]; ok {
		return e, nil
	}
	return nil, &NotSafeError{Attr: attr}
}

// ListSafeAttrs returns the sorted attribute names registered for a
// host type. Used for emitter suggestions and the debugger.
func (r *Registry) ListSafeAttrs(hostType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var attrs []string
	for k := range r.entries {
		if k.hostType == hostType {
			attrs = append(attrs, k.attr)
		}
	}
	sort.Strings(attrs)
	return attrs
}

// HostTypes returns the sorted set of host types with registrations.
func (r *Registry) HostTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range r.entries {
		seen[k.hostType] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IsDunder reports whether the name uses the double-underscore
// convention that is rejected unconditionally.
func IsDunder(name string) bool {
	return strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") && len(name) > 4
}
