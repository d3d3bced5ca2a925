package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	// Entity types register themselves on import.
	_ "github.com/provisor/provisor/pkg/providers/database"
	_ "github.com/provisor/provisor/pkg/providers/dns"
	_ "github.com/provisor/provisor/pkg/providers/function"
	_ "github.com/provisor/provisor/pkg/providers/objectstorage"
	_ "github.com/provisor/provisor/pkg/providers/queue"
	_ "github.com/provisor/provisor/pkg/providers/webhook"
)

var (
	// Global flags
	stateDB     string
	secretsSpec string
	verbose     bool
	jsonOutput  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provisor",
		Short: "Provisor - Entity Lifecycle & Reconciliation Framework",
		Long: `Provisor reconciles declarative cloud resource manifests against
remote provider APIs through a uniform entity lifecycle.

Features:
  - YAML manifests with CUE-validated definitions
  - Starlark-computed definition fields
  - Probe-then-adopt creation and protected deletion
  - Readiness polling with per-type policies
  - OPA/Rego admission policies
  - SQLite state store with invocation audit log`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&stateDB, "state-db", "provisor.db", "sqlite state database path")
	rootCmd.PersistentFlags().StringVar(&secretsSpec, "secrets", "env", "secret backend: env, aws, or file:<path>")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInvokeCommand())
	rootCmd.AddCommand(newReadyCommand())
	rootCmd.AddCommand(newActionsCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDevCommand())
	rootCmd.AddCommand(newStateCommand())

	return rootCmd
}
