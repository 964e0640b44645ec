package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build metadata, overridden via ldflags at release time.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "emuforge",
		Short: "Emulator build pipeline for expensive scientific models",
		Long: `emuforge builds fast surrogate emulators for expensive simulation codes.

It samples the parameter domain, runs the underlying solver to assemble
a training set, fits the declared surrogate model, certifies its
accuracy against held-out solver runs, and packages the result as a
portable, content-addressed artifact.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("dir", ".", "Workspace directory")

	// Add subcommands
	rootCmd.AddCommand(
		newVersionCmd(),
		newValidateCmd(),
		newBuildCmd(),
		newListCmd(),
		newInspectCmd(),
		newEvalCmd(),
		newExportCmd(),
		newPushCmd(),
		newPullCmd(),
		newHubCmd(),
		newCacheCmd(),
		newMCPServerCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
