package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mlc/internal/capability"
	"mlc/internal/compiler"
	"mlc/internal/diag"
	"mlc/internal/sandbox"
	"mlc/internal/source"
	"mlc/internal/value"
)

var (
	runSandboxed bool
	runGrants    []string
	runCPU       float64
	runWallclock float64
	runMemoryMB  int64
)

func init() {
	runCmd.Flags().BoolVar(&runSandboxed, "sandbox", false, "execute in an out-of-process sandbox worker")
	runCmd.Flags().StringArrayVar(&runGrants, "grant", nil, "grant capability type:op:pattern (repeatable)")
	runCmd.Flags().Float64Var(&runCPU, "cpu-seconds", 0, "CPU budget override")
	runCmd.Flags().Float64Var(&runWallclock, "wallclock-seconds", 0, "wallclock budget override")
	runCmd.Flags().Int64Var(&runMemoryMB, "memory-mb", 0, "memory limit override")
}

var runCmd = &cobra.Command{
	Use:   "run <file.ml>",
	Short: "Compile and execute an ML unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comp, cfg, err := newCompiler()
		if err != nil {
			os.Exit(compiler.ExitUsage)
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(compiler.ExitUsage)
		}
		unit := source.NewUnit(args[0], string(data))

		tokens, err := parseGrants(runGrants)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(compiler.ExitUsage)
		}

		var limits *sandbox.Limits
		if runCPU > 0 || runWallclock > 0 || runMemoryMB > 0 {
			l := sandbox.Limits{
				CPUSeconds:        runCPU,
				WallclockSeconds:  runWallclock,
				MemoryLimitBytes:  runMemoryMB << 20,
				DisableNetwork:    cfg.Sandbox.DisableNetwork,
				FSAllowedPatterns: cfg.Sandbox.FSAllowed,
				FSRoot:            cfg.Sandbox.FSRoot,
			}
			limits = &l
		}

		artifact, res, err := comp.CompileAndRun(context.Background(), args[0], string(data), compiler.RunOptions{
			Tokens:  tokens,
			Sandbox: runSandboxed,
			Limits:  limits,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(compiler.ExitUsage)
		}
		diag.Render(os.Stderr, unit, artifact.Diagnostics)
		if res != nil {
			if res.Stdout != "" {
				fmt.Print(res.Stdout)
			}
			if res.Success {
				if res.ReturnValue != nil {
					fmt.Println(formatReturn(res.ReturnValue))
				}
			} else {
				fmt.Fprintf(os.Stderr, "execution failed: %s", res.ExitReason)
				if res.Error != nil {
					fmt.Fprintf(os.Stderr, " (%s)", res.Error.Message)
				}
				fmt.Fprintln(os.Stderr)
			}
		}
		os.Exit(compiler.ExitCode(artifact, res))
		return nil
	},
}

// formatReturn renders a run result value: scalars as ML text,
// containers as JSON.
func formatReturn(v interface{}) string {
	switch v.(type) {
	case bool, int64, float64, string:
		return value.ToString(v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// parseGrants turns --grant type:op:pattern flags into tokens.
func parseGrants(grants []string) ([]*capability.Token, error) {
	var tokens []*capability.Token
	for _, g := range grants {
		parts := strings.SplitN(g, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("grant %q must be type:op[:pattern]", g)
		}
		pattern := "*"
		if len(parts) == 3 && parts[2] != "" {
			pattern = parts[2]
		}
		tokens = append(tokens, capability.NewToken(parts[0], []string{pattern}, []string{parts[1]}, 0))
	}
	return tokens, nil
}
