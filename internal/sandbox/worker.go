package sandbox

import (
	"errors"
	"io"
	goruntime "runtime"
	"time"

	"mlc/internal/ast"
	"mlc/internal/capability"
	"mlc/internal/runtime"
	"mlc/internal/safeattr"
	"mlc/internal/source"
	"mlc/internal/value"
)

// ModuleHook lets the embedding binary install extra host modules in
// worker processes. It runs after the builtin and file modules.
type ModuleHook func(*runtime.HostRegistry, *safeattr.Registry) error

// WorkerMain is the worker-process entry point: read one job frame,
// execute it under the granted context and limits, write one result
// frame. The exit code is always 0; failures travel in the frame.
func WorkerMain(stdin io.Reader, stdout io.Writer, hook ModuleHook) int {
	var job Job
	if err := readFrame(stdin, &job); err != nil {
		_ = writeFrame(stdout, &Result{
			Success:    false,
			ExitReason: ExitWorkerCrash,
			Error:      &ErrorInfo{Kind: ExitWorkerCrash, Message: "bad job frame: " + err.Error()},
		})
		return 0
	}
	res := RunJob(&job, hook)
	_ = writeFrame(stdout, res)
	return 0
}

// RunJob executes a job in-process. The sandbox executor calls this in
// the spawned worker; tests call it directly for the limit semantics.
func RunJob(job *Job, hook ModuleHook) *Result {
	limits := job.Limits.withDefaults()

	attrs := safeattr.NewRegistry()
	if err := safeattr.RegisterDefaults(attrs); err != nil {
		return crashResult(err)
	}
	host := runtime.NewHostRegistry()
	if err := runtime.RegisterBuiltins(host); err != nil {
		return crashResult(err)
	}
	if err := runtime.RegisterFileModule(host); err != nil {
		return crashResult(err)
	}
	if hook != nil {
		if err := hook(host, attrs); err != nil {
			return crashResult(err)
		}
	}
	attrs.Freeze()
	host.Freeze()

	ctx := capability.NewContext("sandbox", nil)
	handle := capability.WithContext(ctx, job.Tokens...)
	defer handle.Release()

	rt := runtime.New(host, attrs, ctx, runtime.Limits{
		StepLimit:   int64(limits.CPUSeconds * stepsPerCPUSecond),
		Deadline:    time.Now().Add(time.Duration(limits.WallclockSeconds * float64(time.Second))),
		MemoryLimit: limits.MemoryLimitBytes,
	})
	rt.Stdout = runtime.NewCappedBuffer(limits.StdoutCapBytes)
	rt.Stderr = runtime.NewCappedBuffer(limits.StderrCapBytes)
	rt.FS = &runtime.FSPolicy{
		Root:           limits.FSRoot,
		Allowed:        limits.FSAllowedPatterns,
		DisableNetwork: limits.DisableNetwork,
	}

	tree := &ast.Tree{
		Arena: ast.FromNodes(job.Nodes),
		Root:  job.Root,
		Unit:  &source.Unit{Path: job.UnitPath, Hash: job.UnitHash},
	}

	start := time.Now()
	out, execErr := runtime.Execute(tree, rt)
	elapsed := time.Since(start)

	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)

	res := &Result{
		Stdout:          rt.Stdout.String(),
		Stderr:          rt.Stderr.String(),
		WallclockMS:     elapsed.Milliseconds(),
		CPUMS:           int64(float64(rt.Steps()) / stepsPerCPUSecond * 1000),
		PeakMemoryBytes: int64(ms.HeapAlloc),
	}
	if execErr == nil {
		res.Success = true
		res.ExitReason = ExitOK
		res.ReturnValue = ToPlain(out)
		return res
	}
	res.Success = false
	res.ExitReason, res.Error = Classify(execErr)
	return res
}

func crashResult(err error) *Result {
	return &Result{
		Success:    false,
		ExitReason: ExitWorkerCrash,
		Error:      &ErrorInfo{Kind: ExitWorkerCrash, Message: err.Error()},
	}
}

// Classify maps an execution error to its exit reason and structured
// info.
func Classify(err error) (string, *ErrorInfo) {
	var limit *runtime.LimitError
	if errors.As(err, &limit) {
		return limit.Reason, &ErrorInfo{Kind: limit.Reason, Message: err.Error()}
	}
	var denied *capability.DeniedError
	if errors.As(err, &denied) {
		return ExitCapabilityDenied, &ErrorInfo{
			Kind:     ExitCapabilityDenied,
			Message:  denied.Error(),
			Type:     denied.Type,
			Resource: denied.Resource,
			Op:       denied.Op,
		}
	}
	var notSafe *safeattr.NotSafeError
	if errors.As(err, &notSafe) {
		return ExitSafeAttributeError, &ErrorInfo{Kind: ExitSafeAttributeError, Message: notSafe.Error()}
	}
	var critical *runtime.SecurityCriticalError
	if errors.As(err, &critical) {
		return ExitSecurityCritical, &ErrorInfo{Kind: ExitSecurityCritical, Message: critical.Message}
	}
	var throw *runtime.ThrowError
	if errors.As(err, &throw) {
		return ExitUncaughtThrow, &ErrorInfo{Kind: ExitUncaughtThrow, Message: throw.Error()}
	}
	return ExitWorkerCrash, &ErrorInfo{Kind: ExitWorkerCrash, Message: err.Error()}
}

// ToPlain converts a runtime value into a JSON-encodable shape.
func ToPlain(v value.Value) interface{} {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x
	case *value.Array:
		out := make([]interface{}, len(x.Elems))
		for i, el := range x.Elems {
			out[i] = ToPlain(el)
		}
		return out
	case *value.Object:
		out := make(map[string]interface{}, len(x.Entries))
		for k, el := range x.Entries {
			out[k] = ToPlain(el)
		}
		return out
	}
	return value.ToString(v)
}
