package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"mlc/internal/logging"
)

// WorkerFlag is the hidden subcommand that switches this binary into
// worker mode.
const WorkerFlag = "__mlc-worker"

// Executor spawns workers. The zero value re-executes the current
// binary; tests may point Binary elsewhere.
type Executor struct {
	Binary string
}

// Run executes a job in a fresh worker and returns its result. The
// wallclock limit is enforced here with a hard kill; every in-worker
// limit is advisory by comparison. The host never inherits the
// worker's streams: stdout carries only frames, stderr is discarded.
func (e *Executor) Run(ctx context.Context, job *Job) (*Result, error) {
	job.Limits = job.Limits.withDefaults()

	bin := e.Binary
	if bin == "" {
		var err error
		bin, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker binary: %w", err)
		}
	}

	wallclock := time.Duration(job.Limits.WallclockSeconds * float64(time.Second))
	runCtx, cancel := context.WithTimeout(ctx, wallclock)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, WorkerFlag)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = nil // never inherit; worker stderr is dropped

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	logging.Sandbox("worker %d started for unit %s", cmd.Process.Pid, job.UnitPath)

	type reply struct {
		res *Result
		err error
	}
	done := make(chan reply, 1)
	go func() {
		if err := writeFrame(stdin, job); err != nil {
			done <- reply{err: err}
			return
		}
		stdin.Close()
		var res Result
		if err := readFrameUseNumber(stdout, &res); err != nil {
			done <- reply{err: err}
			return
		}
		done <- reply{res: &res}
	}()

	var res *Result
	select {
	case r := <-done:
		if r.err != nil {
			// Distinguish the hard-timeout kill from a genuine crash.
			if runCtx.Err() != nil {
				res = &Result{Success: false, ExitReason: ExitTimeout,
					Error: &ErrorInfo{Kind: ExitTimeout, Message: "wallclock limit exceeded"}}
			} else {
				res = &Result{Success: false, ExitReason: ExitWorkerCrash,
					Error: &ErrorInfo{Kind: ExitWorkerCrash, Message: r.err.Error()}}
			}
		} else {
			res = r.res
		}
	case <-runCtx.Done():
		_ = cmd.Process.Kill()
		res = &Result{Success: false, ExitReason: ExitTimeout,
			Error: &ErrorInfo{Kind: ExitTimeout, Message: "wallclock limit exceeded"}}
	}

	waitErr := cmd.Wait()
	if waitErr != nil && res.ExitReason == "" {
		res = &Result{Success: false, ExitReason: ExitWorkerCrash,
			Error: &ErrorInfo{Kind: ExitWorkerCrash, Message: waitErr.Error()}}
	}
	if res.WallclockMS == 0 {
		res.WallclockMS = time.Since(start).Milliseconds()
	}
	res.ReturnValue = normalizeJSON(res.ReturnValue)
	logging.Sandbox("worker finished: reason=%s wallclock=%dms", res.ExitReason, res.WallclockMS)
	return res, nil
}

// readFrameUseNumber reads a frame preserving integer return values.
func readFrameUseNumber(r io.Reader, res *Result) error {
	var raw json.RawMessage
	if err := readFrame(r, &raw); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(res)
}

// normalizeJSON converts decoded json.Number values into int64 when
// integral, float64 otherwise, recursively through containers.
func normalizeJSON(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []interface{}:
		for i := range x {
			x[i] = normalizeJSON(x[i])
		}
		return x
	case map[string]interface{}:
		for k := range x {
			x[k] = normalizeJSON(x[k])
		}
		return x
	}
	return v
}
