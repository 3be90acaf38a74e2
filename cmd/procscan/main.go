// Package main provides the procscan binary: the module-discovery side of
// the profiler, packaged as a standalone scanner for inspection and
// offline debugging of symbolization issues.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracefold/procscan/internal/cli/scan"
	"github.com/tracefold/procscan/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "procscan",
		Short:         "procscan - discover the binary images loaded into a process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(scan.NewScanCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("procscan version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}
