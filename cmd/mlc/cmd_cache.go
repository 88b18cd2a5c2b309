package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mlc/internal/compiler"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Artifact cache maintenance",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show artifact cache entry counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		comp, cfg, err := newCompiler()
		if err != nil {
			os.Exit(compiler.ExitUsage)
		}
		mem, disk := comp.CacheStats()
		fmt.Printf("memory entries: %d\n", mem)
		if cfg.Compiler.CacheDir != "" {
			fmt.Printf("disk entries:   %d (%s)\n", disk, cfg.Compiler.CacheDir)
		} else {
			fmt.Println("disk cache:     disabled")
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the artifact cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		comp, _, err := newCompiler()
		if err != nil {
			os.Exit(compiler.ExitUsage)
		}
		if err := comp.ClearCache(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(compiler.ExitUsage)
		}
		fmt.Println("cache cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}
