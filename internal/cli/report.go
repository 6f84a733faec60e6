package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/dxscan/internal/engine"
	"github.com/example/dxscan/internal/practice"
)

func newReportCmd() *cobra.Command {
	var inputPath string
	var summaryPath string
	var fail string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a saved JSON scan result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" {
				return errors.New("--input is required")
			}

			data, err := os.ReadFile(inputPath)
			if err != nil {
				return err
			}

			var res engine.ScanResult
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("%s is not a scan result: %w", inputPath, err)
			}

			rethreshold := cmd.Flags().Changed("fail")
			if rethreshold {
				level, err := engine.ParseFailLevel(fail)
				if err != nil {
					return err
				}
				res.FailLevel = level
				res.ShouldExitOnEnd = engine.ShouldFail(res.Outcomes, level)
			}

			renderText(cmd.OutOrStdout(), res)

			if summaryPath != "" {
				if err := writeSummary(summaryPath, res); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Summary written to %s\n", summaryPath)
			}

			if rethreshold && res.ShouldExitOnEnd {
				return ExitError{Code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "Path to a JSON scan result (dxscan scan --json)")
	cmd.Flags().StringVar(&summaryPath, "summary-file", "", "Optional path to store summary JSON")
	cmd.Flags().StringVar(&fail, "fail", "", "Re-evaluate the result against this fail threshold and exit 1 when it fails")
	if err := cmd.MarkFlagRequired("input"); err != nil {
		panic(err)
	}

	return cmd
}

func resultSymbol(r practice.Result) string {
	switch r {
	case practice.Practicing:
		return "✓"
	case practice.NotPracticing:
		return "✗"
	case practice.NotApplicable:
		return "⊘"
	default:
		return "?"
	}
}

func componentLabel(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}

// renderText writes the human readable report.
func renderText(w io.Writer, res engine.ScanResult) {
	fmt.Fprintf(w, "Target: %s\n", res.Target)
	fmt.Fprintf(w, "Scan:   %s (%s, fail level %s)\n", res.ID, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond), res.FailLevel)

	current := "\x00"
	for _, o := range res.Outcomes {
		if o.Component != current {
			current = o.Component
			fmt.Fprintf(w, "\n%s\n", componentLabel(current))
		}
		fmt.Fprintf(w, "  %s %-42s %-7s %s\n", resultSymbol(o.Result), o.Practice.ID, o.Practice.Impact, o.Result)
		for _, d := range o.Details {
			writeDetail(w, d)
		}
		if o.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", o.Error)
		}
	}

	var suggestions []string
	for _, o := range res.Failures() {
		if o.Practice.Suggestion == "" {
			continue
		}
		suggestions = append(suggestions, fmt.Sprintf("  - [%s] %s (%s): %s", o.Practice.Impact, o.Practice.Name, componentLabel(o.Component), o.Practice.Suggestion))
	}
	if len(suggestions) > 0 {
		fmt.Fprintf(w, "\nSuggestions:\n%s\n", strings.Join(suggestions, "\n"))
	}

	s := res.Summary
	fmt.Fprintf(w, "\nSummary: %d practicing, %d not practicing, %d unknown, %d not applicable\n",
		s.Practicing, s.NotPracticing, s.Unknown, s.NotApplicable)

	if res.Incomplete {
		fmt.Fprintln(w, "Warning: the scan was cancelled before every practice was evaluated.")
	}
	if res.NeedsAuth {
		fmt.Fprintln(w, "Warning: the hosting service refused access; results marked unknown may change with a credential.")
	}
	if len(res.ServiceErrors) > 0 {
		fmt.Fprintln(w, "Service errors:")
		for _, e := range res.ServiceErrors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
	if res.ShouldExitOnEnd {
		fmt.Fprintf(w, "Result: failing (a not practicing result reached the %s threshold)\n", res.FailLevel)
	}
}

func writeDetail(w io.Writer, d practice.Detail) {
	switch d.Type {
	case practice.DetailTable:
		if len(d.Headers) > 0 {
			fmt.Fprintf(w, "      %s\n", strings.Join(d.Headers, " | "))
		}
		for _, row := range d.Rows {
			fmt.Fprintf(w, "      %s\n", strings.Join(row, " | "))
		}
	default:
		fmt.Fprintf(w, "      %s\n", d.Text)
	}
}
