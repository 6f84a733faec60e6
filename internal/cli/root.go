package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/dxscan/internal/config"
)

var version = "dev"

// ErrAuthRequired is returned when the scan needed a credential that could
// not be obtained.
var ErrAuthRequired = errors.New("authentication required: rerun with --authorization or set DX_GIT_SERVICE_TOKEN")

// ExitError asks main to exit with Code without printing anything.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute builds the root command tree and runs the CLI. Cancelling ctx
// stops a running scan, which then reports an incomplete result.
func Execute(ctx context.Context) error {
	return newRootCmd(defaultEnv()).ExecuteContext(ctx)
}

func newRootCmd(env scanEnv) *cobra.Command {
	loader := &config.Loader{ConfigPath: config.DefaultConfigPath}
	rootOpts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "dxscan",
		Short:         "Scan a project for developer experience practices",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	rootCmd.SetVersionTemplate("dxscan version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&rootOpts.ConfigPath, "config", config.DefaultConfigPath, "Path to dxscan.config.yml (optional)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if rootOpts.ConfigPath != "" {
			loader.ConfigPath = rootOpts.ConfigPath
		}
	}

	rootCmd.AddCommand(
		newInitCmd(loader, env),
		newScanCmd(loader, env),
		newDoctorCmd(loader, env),
		newReportCmd(),
		newPracticesCmd(),
	)

	return rootCmd
}

type rootOptions struct {
	ConfigPath string
}
