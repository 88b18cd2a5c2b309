package runtime

import (
	"bytes"
	"fmt"
	goruntime "runtime"
	"sync"
	"time"

	"mlc/internal/capability"
	"mlc/internal/logging"
	"mlc/internal/safeattr"
	"mlc/internal/value"
)

// Limits bounds one execution. Zero values disable the corresponding
// limit.
type Limits struct {
	StepLimit   int64
	Deadline    time.Time
	MemoryLimit int64 // bytes of heap allocation
}

// CappedBuffer captures program output up to a byte cap; overflow is
// dropped and flagged rather than growing without bound.
type CappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	cap       int
	truncated bool
}

// NewCappedBuffer returns a buffer that keeps at most cap bytes.
func NewCappedBuffer(capBytes int) *CappedBuffer {
	return &CappedBuffer{cap: capBytes}
}

func (b *CappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.cap - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

// String returns the captured bytes.
func (b *CappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Truncated reports whether output was dropped at the cap.
func (b *CappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Runtime is the per-execution enforcement state: registries, the
// active capability context, captured streams, and resource budgets.
type Runtime struct {
	Host  *HostRegistry
	Attrs *safeattr.Registry
	Ctx   *capability.Context

	Stdout *CappedBuffer
	Stderr *CappedBuffer

	// FS is the filesystem policy consulted by the file host module.
	// Nil denies all filesystem access.
	FS *FSPolicy

	limits Limits
	steps  int64

	// checked remembers triples already verified in this context
	// scope, consulted only for calls the optimizer proved dominated.
	checked map[capability.Requirement]map[string]bool

	// declared capability blocks from the executed program, kept for
	// diagnostics; declarations grant nothing.
	declared map[string][]string
}

// New builds a runtime over the given registries and context.
func New(host *HostRegistry, attrs *safeattr.Registry, ctx *capability.Context, limits Limits) *Runtime {
	return &Runtime{
		Host:     host,
		Attrs:    attrs,
		Ctx:      ctx,
		Stdout:   NewCappedBuffer(64 * 1024),
		Stderr:   NewCappedBuffer(64 * 1024),
		limits:   limits,
		checked:  make(map[capability.Requirement]map[string]bool),
		declared: make(map[string][]string),
	}
}

// Steps returns the interpreter step count, the CPU proxy reported in
// sandbox results.
func (rt *Runtime) Steps() int64 { return rt.steps }

// step charges one unit of work and enforces limits. Deadline and
// memory are polled on coarse step boundaries to keep the common path
// cheap.
func (rt *Runtime) step() error {
	rt.steps++
	if rt.limits.StepLimit > 0 && rt.steps > rt.limits.StepLimit {
		return &LimitError{Reason: "timeout"}
	}
	if rt.steps%1024 == 0 && !rt.limits.Deadline.IsZero() && time.Now().After(rt.limits.Deadline) {
		return &LimitError{Reason: "timeout"}
	}
	if rt.steps%65536 == 0 && rt.limits.MemoryLimit > 0 {
		var ms goruntime.MemStats
		goruntime.ReadMemStats(&ms)
		if int64(ms.HeapAlloc) > rt.limits.MemoryLimit {
			return &LimitError{Reason: "memory"}
		}
	}
	return nil
}

// SafeCall is the single entry point for every host-function call from
// compiled code. The capability check runs before the host function,
// and the decision is never cached across distinct triples; the
// prechecked path only skips a check the optimizer proved dominated by
// an identical earlier check in the same scope.
func (rt *Runtime) SafeCall(target string, args []value.Value, prechecked bool) (value.Value, error) {
	module, fn, ok := splitTarget(target)
	if !ok {
		return nil, &safeattr.NotSafeError{Attr: target}
	}
	entry, found := rt.Host.Lookup(module, fn)
	if !found {
		return nil, &safeattr.NotSafeError{Attr: target}
	}
	for _, req := range entry.RequiredCaps {
		resource := "*"
		if entry.ResourceArg >= 0 && entry.ResourceArg < len(args) {
			if s, ok := args[entry.ResourceArg].(string); ok {
				resource = s
			}
		}
		if prechecked && rt.wasChecked(req, resource) {
			continue
		}
		if err := rt.Ctx.Require(req.Type, resource, req.Op); err != nil {
			logging.CapabilityDebug("denied (%s, %s, %s) for %s", req.Type, resource, req.Op, target)
			return nil, err
		}
		rt.markChecked(req, resource)
	}
	out, err := entry.Fn(rt, args)
	if err != nil {
		return nil, hostError(err)
	}
	return out, nil
}

// hostError normalizes a host-function failure: the distinguished
// error kinds pass through, anything else becomes a catchable throw
// carrying a message object.
func hostError(err error) error {
	switch err.(type) {
	case *capability.DeniedError, *safeattr.NotSafeError, *SecurityCriticalError, *LimitError, *ThrowError:
		return err
	}
	obj := value.NewObject()
	obj.Entries["message"] = err.Error()
	return &ThrowError{Value: obj}
}

func (rt *Runtime) wasChecked(req capability.Requirement, resource string) bool {
	m, ok := rt.checked[req]
	return ok && m[resource]
}

func (rt *Runtime) markChecked(req capability.Requirement, resource string) {
	m := rt.checked[req]
	if m == nil {
		m = make(map[string]bool)
		rt.checked[req] = m
	}
	m[resource] = true
}

// SafeAttr mediates every attribute access that could reach a host
// member. Object entries are ML-owned data and resolve first; anything
// else must be whitelisted. The error path is uniform: it never leaks
// whether the underlying attribute exists.
func (rt *Runtime) SafeAttr(v value.Value, attr string) (value.Value, error) {
	if obj, ok := v.(*value.Object); ok && !safeattr.IsDunder(attr) {
		if entry, present := obj.Entries[attr]; present {
			return entry, nil
		}
	}
	if mod, ok := v.(*ModuleRef); ok && !safeattr.IsDunder(attr) {
		if _, found := rt.Host.Lookup(mod.Name, attr); found {
			return &HostRef{Target: mod.Name + "." + attr}, nil
		}
		return nil, &safeattr.NotSafeError{Attr: attr}
	}

	hostType := value.TypeName(v)
	entry, err := rt.Attrs.Lookup(hostType, attr)
	if err != nil {
		logging.Runtime("safe_attr rejected %s.%s", hostType, attr)
		return nil, err
	}
	for _, req := range entry.RequiredCaps {
		if err := rt.Ctx.Require(req.Type, "*", req.Op); err != nil {
			return nil, err
		}
	}
	return builtinAttr(rt, v, entry)
}

// SafeAttrSet mediates attribute assignment. Only ML object data may
// be written; host attributes are never assignable.
func (rt *Runtime) SafeAttrSet(v value.Value, attr string, val value.Value) error {
	if safeattr.IsDunder(attr) {
		return &safeattr.NotSafeError{Attr: attr}
	}
	if obj, ok := v.(*value.Object); ok {
		obj.Entries[attr] = val
		return nil
	}
	return &safeattr.NotSafeError{Attr: attr}
}

// Import resolves a registered module to its runtime binding.
func (rt *Runtime) Import(module string) (value.Value, error) {
	if !rt.Host.HasModule(module) {
		return nil, &SecurityCriticalError{
			Code:    "unknown_import",
			Message: fmt.Sprintf("module %q is not registered", module),
		}
	}
	return &ModuleRef{Name: module}, nil
}

// DeclareCapability records a program-scope capability declaration.
// Declarations state intent for the gap analysis; they grant nothing.
func (rt *Runtime) DeclareCapability(name string, resources, ops []string) {
	rt.declared[name] = append(rt.declared[name], ops...)
	logging.CapabilityDebug("program declares capability %q resources=%v ops=%v", name, resources, ops)
}

func splitTarget(target string) (module, fn string, ok bool) {
	for i := len(target) - 1; i >= 0; i-- {
		if target[i] == '.' {
			return target[:i], target[i+1:], true
		}
	}
	return "", "", false
}
