package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/dxscan/internal/config"
)

// runtimeFlagSet tracks shared scan/doctor flags before they are converted into config overrides.
type runtimeFlagSet struct {
	authorization string
	json          bool
	recursive     bool
	ci            bool
	fail          string
	concurrency   int
	timeout       time.Duration
	practices     string
	summaryFile   string
}

func bindRuntimeFlags(cmd *cobra.Command, flags *runtimeFlagSet) {
	cmd.Flags().StringVarP(&flags.authorization, "authorization", "a", "", "Credential for the hosting service (token or user:app-password)")
	cmd.Flags().BoolVarP(&flags.json, "json", "j", false, "Print the scan result as JSON")
	cmd.Flags().BoolVarP(&flags.recursive, "recursive", "r", false, "Discover components at any depth")
	cmd.Flags().BoolVar(&flags.ci, "ci", false, "Unattended mode: never prompt for a credential")
	cmd.Flags().StringVar(&flags.fail, "fail", "", "Fail threshold: off, all, high, medium, or small")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, fmt.Sprintf("Parallel practice evaluations (1-%d)", config.MaxConcurrency))
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Scan-wide timeout, e.g. 2m (0 disables)")
	cmd.Flags().StringVar(&flags.practices, "practices", "", "Comma-separated practice ids to run (default all)")
	cmd.Flags().StringVar(&flags.summaryFile, "summary-file", "", "Optional summary JSON output path")
}

func (f runtimeFlagSet) toOverrides(cmd *cobra.Command) config.Overrides {
	ov := config.Overrides{}
	if cmd.Flags().Changed("authorization") {
		ov.Auth = f.authorization
	}

	if cmd.Flags().Changed("json") {
		ov.JSON = &f.json
	}

	if cmd.Flags().Changed("recursive") {
		ov.Recursive = &f.recursive
	}

	if cmd.Flags().Changed("ci") {
		ov.CI = &f.ci
	}

	if cmd.Flags().Changed("fail") {
		ov.Fail = f.fail
	}

	if cmd.Flags().Changed("concurrency") {
		ov.Concurrency = f.concurrency
		ov.ConcurrencySet = true
	}

	if cmd.Flags().Changed("timeout") {
		ov.Timeout = f.timeout
		ov.TimeoutSet = true
	}

	if cmd.Flags().Changed("practices") {
		ov.Practices = config.ParsePractices(f.practices)
	}

	if cmd.Flags().Changed("summary-file") {
		ov.SummaryFile = f.summaryFile
	}

	return ov
}
