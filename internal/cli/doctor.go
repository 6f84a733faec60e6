package cli

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/dxscan/internal/config"
	"github.com/example/dxscan/internal/detector"
	"github.com/example/dxscan/internal/gitcli"
	"github.com/example/dxscan/internal/hosting"
	"github.com/example/dxscan/internal/scanner"
)

type doctorCheck struct {
	Name   string
	Status string // "✓", "✗" or "⊘"
	Detail string
	Error  error
}

// serviceAPIs maps each hosting service to the API origin doctor pings.
var serviceAPIs = map[detector.ServiceType]string{
	detector.ServiceGitHub:    hosting.DefaultGitHubAPI,
	detector.ServiceBitbucket: hosting.DefaultBitbucketAPI,
}

func newDoctorCmd(loader *config.Loader, env scanEnv) *cobra.Command {
	flags := &runtimeFlagSet{}
	var timeout int

	cmd := &cobra.Command{
		Use:   "doctor [PATH|URL]",
		Short: "Validate git, configuration, target resolution and service reachability",
		Long: `The doctor subcommand checks everything a scan depends on:
- Go runtime version
- git binary presence
- Configuration validity
- How the target resolves and whether it needs a credential
- Reachability of the hosting service API
- Archive and history settings`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := flags.toOverrides(cmd)
			if len(args) > 0 {
				overrides.Target = args[0]
			}
			cfg, err := loader.Load(overrides)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeout)*time.Second)
			defer cancel()

			checks := runDoctorChecks(ctx, &cfg, env.deps)
			printDoctorReport(cmd, checks)

			for _, check := range checks {
				if check.Error != nil {
					return fmt.Errorf("doctor checks failed")
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "\n✓ All checks passed. Ready to scan.")
			return nil
		},
	}

	bindRuntimeFlags(cmd, flags)
	cmd.Flags().IntVar(&timeout, "check-timeout", 30, "Timeout in seconds for network checks")

	return cmd
}

func runDoctorChecks(ctx context.Context, cfg *config.RuntimeConfig, deps scanner.Deps) []doctorCheck {
	git := deps.Git
	if git == nil {
		git = gitcli.NewRunner()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = detector.New(git, deps.HTTP)
	}

	checks := []doctorCheck{checkGoVersion(), checkGitBinary(git)}

	configCheck := checkConfiguration(cfg)
	checks = append(checks, configCheck)
	if configCheck.Error != nil {
		return checks
	}

	target := resolver.Detect(ctx, cfg.Target)
	target = resolver.Probe(ctx, target, cfg.Auth != "")
	checks = append(checks, checkTarget(target), checkCredential(target, cfg.Auth))

	if base, ok := serviceAPIs[target.Service]; ok {
		checks = append(checks, checkNetworkReachability(ctx, deps.HTTP, string(target.Service), base))
	}

	checks = append(checks, checkPersistence(cfg))
	return checks
}

func checkGoVersion() doctorCheck {
	return doctorCheck{
		Name:   "Go Runtime",
		Status: "✓",
		Detail: fmt.Sprintf("Version %s", runtime.Version()),
	}
}

func checkGitBinary(git gitcli.Runner) doctorCheck {
	if err := git.EnsureBinary(); err != nil {
		return doctorCheck{
			Name:   "git Binary",
			Status: "✗",
			Detail: "Not found in PATH",
			Error:  err,
		}
	}
	return doctorCheck{
		Name:   "git Binary",
		Status: "✓",
		Detail: "Available",
	}
}

func checkConfiguration(cfg *config.RuntimeConfig) doctorCheck {
	if err := cfg.Validate(); err != nil {
		return doctorCheck{
			Name:   "Configuration",
			Status: "✗",
			Detail: "Invalid configuration",
			Error:  err,
		}
	}

	practices := "all practices"
	if len(cfg.Practices) > 0 {
		practices = fmt.Sprintf("%d practices", len(cfg.Practices))
	}
	return doctorCheck{
		Name:   "Configuration",
		Status: "✓",
		Detail: fmt.Sprintf("fail=%s, concurrency=%d, %s", cfg.Fail, cfg.Concurrency, practices),
	}
}

func checkTarget(target detector.ScanTarget) doctorCheck {
	check := doctorCheck{Name: "Target"}
	switch {
	case target.Local:
		check.Status = "✓"
		check.Detail = fmt.Sprintf("local %s (service %s)", target.Path, target.Service)
	case target.Service == detector.ServiceNone:
		check.Status = "✗"
		check.Detail = fmt.Sprintf("%q is neither a directory nor a repository URL", target.Raw)
		check.Error = fmt.Errorf("unrecognized target %q", target.Raw)
	default:
		check.Status = "✓"
		check.Detail = fmt.Sprintf("%s %s", target.Service, target)
	}
	return check
}

func checkCredential(target detector.ScanTarget, auth string) doctorCheck {
	check := doctorCheck{Name: "Credential"}
	switch {
	case auth != "":
		check.Status = "✓"
		check.Detail = "Provided"
	case target.AuthRequired:
		check.Status = "✗"
		check.Detail = "The repository is not public"
		check.Error = ErrAuthRequired
	default:
		check.Status = "⊘"
		check.Detail = "None (public access only)"
	}
	return check
}

func checkNetworkReachability(ctx context.Context, client *http.Client, service, base string) doctorCheck {
	if client == nil {
		client = &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	check := doctorCheck{Name: fmt.Sprintf("Network: %s API", service)}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, base, nil)
	if err != nil {
		check.Status = "✗"
		check.Detail = "Invalid URL"
		check.Error = err
		return check
	}

	resp, err := client.Do(req)
	if err != nil {
		check.Status = "✗"
		check.Detail = "Unreachable"
		check.Error = err
		return check
	}
	resp.Body.Close()

	check.Status = "✓"
	check.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	return check
}

func checkPersistence(cfg *config.RuntimeConfig) doctorCheck {
	check := doctorCheck{Name: "Persistence", Status: "⊘", Detail: "Archive and history disabled"}
	switch {
	case cfg.Archive.Enabled() && cfg.History.DatabaseURL != "":
		check.Status = "✓"
		check.Detail = fmt.Sprintf("archive bucket %s, history database", cfg.Archive.Bucket)
	case cfg.Archive.Enabled():
		check.Status = "✓"
		check.Detail = fmt.Sprintf("archive bucket %s", cfg.Archive.Bucket)
	case cfg.History.DatabaseURL != "":
		check.Status = "✓"
		check.Detail = "history database"
	}
	return check
}

func printDoctorReport(cmd *cobra.Command, checks []doctorCheck) {
	fmt.Fprintln(cmd.OutOrStdout(), "Running environment diagnostics...")

	for _, check := range checks {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %-30s %s\n", check.Status, check.Name+":", check.Detail)
		if check.Error != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "   Error: %v\n", check.Error)
		}
	}
}
