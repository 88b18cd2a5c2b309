// Package main implements the mlc CLI: compile, check, run, and cache
// maintenance over the compiler core, plus the hidden sandbox worker
// mode this binary re-enters when spawned by the executor.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mlc/internal/compiler"
	"mlc/internal/config"
	"mlc/internal/logging"
	"mlc/internal/sandbox"
)

var (
	verbose   bool
	workspace string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mlc",
	Short: "mlc - ML compiler and capability-sandboxed runner",
	Long: `mlc compiles ML source into Python target text under a
capability-based security model and runs artifacts either in-process
or in an out-of-process sandbox with CPU/memory/wallclock limits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		if err := logging.Initialize(ws); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory (default: cwd)")
	rootCmd.AddCommand(compileCmd, checkCmd, runCmd, cacheCmd)
}

// newCompiler builds the coordinator from the workspace config.
func newCompiler() (*compiler.Compiler, *config.Config, error) {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	cfg := config.LoadOrDefault(ws)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	comp, err := compiler.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return comp, cfg, nil
}

func main() {
	// Worker mode bypasses the CLI entirely: the sandbox executor
	// spawns `mlc __mlc-worker` and speaks frames over the pipes.
	if len(os.Args) > 1 && os.Args[1] == sandbox.WorkerFlag {
		os.Exit(sandbox.WorkerMain(os.Stdin, os.Stdout, nil))
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(compiler.ExitUsage)
	}
}
