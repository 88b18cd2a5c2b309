package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mlc/internal/compiler"
	"mlc/internal/diag"
	"mlc/internal/source"
)

var (
	emitOut string
	mapOut  string
)

func init() {
	compileCmd.Flags().StringVarP(&emitOut, "output", "o", "", "write target source to file (default: <input>.py)")
	compileCmd.Flags().StringVar(&mapOut, "source-map", "", "write source map JSON to file")
}

var compileCmd = &cobra.Command{
	Use:   "compile <file.ml>",
	Short: "Compile an ML unit to target source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comp, _, err := newCompiler()
		if err != nil {
			os.Exit(compiler.ExitUsage)
		}
		artifact, unit, code := compileFile(comp, args[0])
		if artifact != nil {
			diag.Render(os.Stderr, unit, artifact.Diagnostics)
		}
		if code == compiler.ExitSuccess {
			out := emitOut
			if out == "" {
				out = strings.TrimSuffix(args[0], ".ml") + ".py"
			}
			if err := os.WriteFile(out, []byte(artifact.TargetSource), 0644); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(compiler.ExitUsage)
			}
			if mapOut != "" {
				data, err := json.Marshal(artifact.SourceMap)
				if err == nil {
					err = os.WriteFile(mapOut, data, 0644)
				}
				if err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
					os.Exit(compiler.ExitUsage)
				}
			}
		}
		os.Exit(code)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <file.ml>",
	Short: "Compile without writing output; report diagnostics only",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comp, _, err := newCompiler()
		if err != nil {
			os.Exit(compiler.ExitUsage)
		}
		artifact, unit, code := compileFile(comp, args[0])
		if artifact != nil {
			diag.Render(os.Stderr, unit, artifact.Diagnostics)
			if code == compiler.ExitSuccess {
				fmt.Printf("%s: ok (%d nodes, hash %.12s)\n", args[0], len(artifact.Nodes), artifact.UnitHash)
			}
		}
		os.Exit(code)
		return nil
	},
}

// compileFile loads, compiles, and maps the outcome to an exit code.
func compileFile(comp *compiler.Compiler, path string) (*compiler.Artifact, *source.Unit, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return nil, nil, compiler.ExitUsage
	}
	unit := source.NewUnit(path, string(data))
	artifact, err := comp.Compile(context.Background(), path, string(data))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return nil, unit, compiler.ExitUsage
	}
	return artifact, unit, compiler.ExitCode(artifact, nil)
}
