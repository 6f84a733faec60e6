package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/dxscan/internal/archive"
	"github.com/example/dxscan/internal/config"
	"github.com/example/dxscan/internal/engine"
	"github.com/example/dxscan/internal/events"
	"github.com/example/dxscan/internal/history"
	"github.com/example/dxscan/internal/scanner"
)

type resultArchiver interface {
	Upload(ctx context.Context, res engine.ScanResult) (string, error)
}

type resultRecorder interface {
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	Record(ctx context.Context, res engine.ScanResult) error
	Close()
}

// scanEnv carries the collaborators of the scan command so tests can swap them.
type scanEnv struct {
	deps        scanner.Deps
	openArchive func(cfg config.ArchiveConfig) (resultArchiver, error)
	openHistory func(ctx context.Context, url string) (resultRecorder, error)
}

func defaultEnv() scanEnv {
	return scanEnv{
		openArchive: func(cfg config.ArchiveConfig) (resultArchiver, error) {
			return archive.New(archive.Config{
				Endpoint:  cfg.Endpoint,
				AccessKey: cfg.AccessKey,
				SecretKey: cfg.SecretKey,
				Bucket:    cfg.Bucket,
				UseSSL:    cfg.UseSSL,
			})
		},
		openHistory: func(ctx context.Context, url string) (resultRecorder, error) {
			return history.Open(ctx, url)
		},
	}
}

func newScanCmd(loader *config.Loader, env scanEnv) *cobra.Command {
	flags := &runtimeFlagSet{}

	cmd := &cobra.Command{
		Use:   "scan [PATH|URL]",
		Short: "Scan a local directory or a remote repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := flags.toOverrides(cmd)
			if len(args) > 0 {
				overrides.Target = args[0]
			}
			cfg, err := loader.Load(overrides)
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			emitter := events.NewEmitter(cmd.ErrOrStderr())

			res, err := runScan(ctx, cfg, env.deps, emitter)
			if err != nil {
				return err
			}

			if res.PromptForAuth(cfg.CI) {
				token, err := promptCredential(cmd.InOrStdin(), cmd.ErrOrStderr(), res.Target.String())
				if err != nil {
					return err
				}
				if token != "" {
					emitter.Log(events.AuthRetry, "rescanning with the supplied credential", map[string]any{"target": res.Target.String()})
					cfg.Auth = token
					if res, err = runScan(ctx, cfg, env.deps, emitter); err != nil {
						return err
					}
				}
			}

			if err := writeResult(cmd.OutOrStdout(), res, cfg.JSON); err != nil {
				return err
			}

			if cfg.SummaryFile != "" {
				if err := writeSummary(cfg.SummaryFile, res); err != nil {
					return err
				}
			}

			if err := env.persist(ctx, cfg, res, emitter); err != nil {
				return err
			}

			if res.NeedsAuth {
				return ErrAuthRequired
			}
			if res.ShouldExitOnEnd {
				return ExitError{Code: 1}
			}
			return nil
		},
	}

	bindRuntimeFlags(cmd, flags)

	return cmd
}

// runScan builds a fresh scanner for cfg. A rescan after an auth prompt goes
// through here again so no inspector state from the first attempt survives.
func runScan(ctx context.Context, cfg config.RuntimeConfig, deps scanner.Deps, emitter *events.Emitter) (engine.ScanResult, error) {
	deps.Emitter = emitter
	s, err := scanner.New(scanner.Config{
		Target:      cfg.Target,
		Credential:  cfg.Auth,
		Recursive:   cfg.Recursive,
		CI:          cfg.CI,
		FailLevel:   cfg.FailLevel(),
		Concurrency: cfg.Concurrency,
		Timeout:     cfg.Timeout,
		Practices:   cfg.Practices,
	}, deps)
	if err != nil {
		return engine.ScanResult{}, err
	}
	return s.Run(ctx)
}

func writeResult(w io.Writer, res engine.ScanResult, asJSON bool) error {
	if !asJSON {
		renderText(w, res)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// persist archives and records res when the corresponding settings exist.
func (env scanEnv) persist(ctx context.Context, cfg config.RuntimeConfig, res engine.ScanResult, emitter *events.Emitter) error {
	if cfg.Archive.Enabled() {
		store, err := env.openArchive(cfg.Archive)
		if err != nil {
			return err
		}
		key, err := store.Upload(ctx, res)
		if err != nil {
			return err
		}
		emitter.Log(events.ArtifactArchived, "scan result archived", map[string]any{"bucket": cfg.Archive.Bucket, "key": key})
	}

	if cfg.History.DatabaseURL != "" {
		rec, err := env.openHistory(ctx, cfg.History.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer rec.Close()
		if err := rec.Ping(ctx); err != nil {
			return fmt.Errorf("history database unreachable: %w", err)
		}
		if err := rec.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("history schema: %w", err)
		}
		if err := rec.Record(ctx, res); err != nil {
			return err
		}
		emitter.Log(events.HistoryRecorded, "scan recorded", map[string]any{"id": res.ID, "outcomes": len(res.Outcomes)})
	}
	return nil
}

type failureSummary struct {
	Component string `json:"component"`
	Practice  string `json:"practice"`
	Impact    string `json:"impact"`
}

func writeSummary(path string, res engine.ScanResult) error {
	failures := []failureSummary{}
	for _, o := range res.Failures() {
		failures = append(failures, failureSummary{
			Component: o.Component,
			Practice:  o.Practice.ID,
			Impact:    string(o.Practice.Impact),
		})
	}
	summary := map[string]any{
		"generatedAt":     time.Now().UTC().Format(time.RFC3339),
		"id":              res.ID,
		"target":          res.Target.String(),
		"failLevel":       res.FailLevel,
		"summary":         res.Summary,
		"failures":        failures,
		"needsAuth":       res.NeedsAuth,
		"shouldExitOnEnd": res.ShouldExitOnEnd,
		"incomplete":      res.Incomplete,
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}

	if err := ensureOutputDir(filepath.Dir(path)); err != nil {
		return err
	}

	return writeFile(path, append(data, '\n'))
}
