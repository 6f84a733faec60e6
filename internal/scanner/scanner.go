package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/example/dxscan/internal/detector"
	"github.com/example/dxscan/internal/engine"
	"github.com/example/dxscan/internal/events"
	"github.com/example/dxscan/internal/gitcli"
	"github.com/example/dxscan/internal/hosting"
	"github.com/example/dxscan/internal/inspector"
	"github.com/example/dxscan/internal/practice"
	"github.com/example/dxscan/internal/scanctx"
)

// cloneDepth keeps generic git clones small while leaving enough history
// for the commit based practices.
const cloneDepth = 50

// ErrCloneFailed is returned when a generic git target cannot be fetched.
// There is no other way to read such a target, so the scan cannot proceed.
var ErrCloneFailed = errors.New("clone failed")

// Config is the per-scan input.
type Config struct {
	Target      string
	Credential  string
	Recursive   bool
	CI          bool
	FailLevel   engine.FailLevel
	Concurrency int
	// Timeout bounds the whole scan; zero means no limit.
	Timeout   time.Duration
	Practices []string
}

// Resolver turns the target string into a ScanTarget.
type Resolver interface {
	Detect(ctx context.Context, input string) detector.ScanTarget
	Probe(ctx context.Context, target detector.ScanTarget, hasCredential bool) detector.ScanTarget
}

// ClientFactory builds the hosting API client for a remote target. It returns
// nil when the service has no API client.
type ClientFactory func(target detector.ScanTarget, cred hosting.Credential) inspector.RemoteClient

// Deps are the collaborators a Scanner talks to. Zero values are replaced
// with production defaults by New.
type Deps struct {
	Git       gitcli.Runner
	HTTP      *http.Client
	Resolver  Resolver
	NewClient ClientFactory
	Registry  practice.Registry
	Retry     *inspector.RetryPolicy
	Emitter   *events.Emitter
}

// Scanner runs one scan. A Scanner is meant to be used once; to scan again
// with a different credential build a new one.
type Scanner struct {
	cfg     Config
	deps    Deps
	catalog []practice.Practice
}

// New validates cfg and resolves the practice catalog.
func New(cfg Config, deps Deps) (*Scanner, error) {
	if cfg.FailLevel == "" {
		cfg.FailLevel = engine.FailHigh
	}
	if _, err := engine.ParseFailLevel(string(cfg.FailLevel)); err != nil {
		return nil, err
	}
	if deps.Git == nil {
		deps.Git = gitcli.NewRunner()
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if deps.Resolver == nil {
		deps.Resolver = detector.New(deps.Git, nil)
	}
	if deps.NewClient == nil {
		client := deps.HTTP
		deps.NewClient = func(target detector.ScanTarget, cred hosting.Credential) inspector.RemoteClient {
			return DefaultClient(target, cred, client)
		}
	}
	if deps.Registry == nil {
		deps.Registry = practice.DefaultRegistry
	}
	if deps.Retry == nil {
		policy := inspector.DefaultRetryPolicy
		deps.Retry = &policy
	}

	catalog, err := deps.Registry.Catalog(cfg.Practices)
	if err != nil {
		return nil, err
	}
	return &Scanner{cfg: cfg, deps: deps, catalog: catalog}, nil
}

// DefaultClient returns the public API client for GitHub and Bitbucket targets.
func DefaultClient(target detector.ScanTarget, cred hosting.Credential, client *http.Client) inspector.RemoteClient {
	switch target.Service {
	case detector.ServiceGitHub:
		return hosting.NewGitHub(hosting.DefaultGitHubAPI, target.Owner, target.Repo, cred, client)
	case detector.ServiceBitbucket:
		return hosting.NewBitbucket(hosting.DefaultBitbucketAPI, target.Owner, target.Repo, cred, client)
	default:
		return nil
	}
}

// Run resolves the target, builds the component tree, evaluates the catalog
// and aggregates the result. Practice and inspector failures never make Run
// fail; the returned error is reserved for targets that cannot be read at all.
func (s *Scanner) Run(ctx context.Context) (engine.ScanResult, error) {
	started := time.Now().UTC()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	emitter := s.deps.Emitter
	emitter.Log(events.ScanStart, "starting scan", map[string]any{
		"target":    s.cfg.Target,
		"recursive": s.cfg.Recursive,
		"ci":        s.cfg.CI,
		"practices": len(s.catalog),
	})

	hasCredential := s.cfg.Credential != ""
	target := s.deps.Resolver.Detect(ctx, s.cfg.Target)
	target = s.deps.Resolver.Probe(ctx, target, hasCredential)
	emitter.Log(events.TargetResolved, target.String(), map[string]any{
		"service":      target.Service,
		"local":        target.Local,
		"authRequired": target.AuthRequired,
	})

	health := inspector.NewHealth()
	if target.AuthRequired && !hasCredential {
		// The repository is not publicly visible; every remote call would be refused.
		health.Record(fmt.Errorf("%s: %w", target, inspector.ErrUnauthorized))
	}

	backend, cleanup, err := s.backend(ctx, target, health)
	if err != nil {
		return engine.ScanResult{}, err
	}
	defer cleanup()

	contexts := s.contexts(ctx, target, backend)
	outcomes, incomplete := engine.Evaluate(ctx, contexts, s.catalog, engine.Options{
		Concurrency: s.cfg.Concurrency,
		Emitter:     emitter,
	})

	res := engine.Aggregate(engine.AggregateInput{
		Target:        target,
		StartedAt:     started,
		Contexts:      contexts,
		Outcomes:      outcomes,
		FailLevel:     s.cfg.FailLevel,
		Incomplete:    incomplete || ctx.Err() != nil,
		AuthFailed:    health.AuthFailed(),
		ServiceErrors: health.ServiceErrors(),
	})
	emitter.Log(events.ScanFinished, "scan complete", map[string]any{
		"id":              res.ID,
		"components":      len(res.Components),
		"notPracticing":   res.Summary.NotPracticing,
		"unknown":         res.Summary.Unknown,
		"needsAuth":       res.NeedsAuth,
		"shouldExitOnEnd": res.ShouldExitOnEnd,
		"incomplete":      res.Incomplete,
	})
	return res, nil
}

// backend picks the inspectors for target. A nil backend means nothing can
// be read; the scan still runs and every practice that needs files reports unknown.
func (s *Scanner) backend(ctx context.Context, target detector.ScanTarget, health *inspector.Health) (scanctx.Backend, func(), error) {
	noop := func() {}
	cred := hosting.Credential(s.cfg.Credential)

	switch {
	case target.Local:
		local := scanctx.LocalBackend{Root: target.Path}
		if s.deps.Git.EnsureBinary() == nil {
			local.Git = s.deps.Git
		}
		// With a credential the hosting service can answer pull request
		// questions git log cannot.
		if cred != "" {
			if client := s.deps.NewClient(target, cred); client != nil {
				local.Remote = &scanctx.RemoteBackend{Client: client, Health: health, Policy: *s.deps.Retry}
			}
		}
		return local, noop, nil

	case target.Service == detector.ServiceGitHub || target.Service == detector.ServiceBitbucket:
		client := s.deps.NewClient(target, cred)
		if client == nil {
			return nil, noop, nil
		}
		return scanctx.RemoteBackend{Client: client, Health: health, Policy: *s.deps.Retry}, noop, nil

	case target.Service == detector.ServiceGit:
		return s.clone(ctx, target, health)

	default:
		return nil, noop, nil
	}
}

// clone fetches a generic git remote into a temporary directory. A refused
// credential is recorded on health and yields a nil backend so the caller can
// offer a rescan with credentials.
func (s *Scanner) clone(ctx context.Context, target detector.ScanTarget, health *inspector.Health) (scanctx.Backend, func(), error) {
	if err := s.deps.Git.EnsureBinary(); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrCloneFailed, target.RemoteURL, err)
	}
	dir, err := os.MkdirTemp("", "dxscan-clone-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	err = s.deps.Git.Clone(ctx, gitcli.CloneInput{
		URL:   target.RemoteURL,
		Dir:   dir,
		Depth: cloneDepth,
		Token: s.cfg.Credential,
	})
	if errors.Is(err, gitcli.ErrAuthentication) {
		cleanup()
		health.Record(fmt.Errorf("clone %s: %w: %w", target.RemoteURL, inspector.ErrUnauthorized, err))
		return nil, func() {}, nil
	}
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrCloneFailed, target.RemoteURL, err)
	}
	return scanctx.LocalBackend{Root: dir, Git: s.deps.Git}, cleanup, nil
}

// contexts builds the root context and discovers components below it. A
// failed discovery leaves only the root.
func (s *Scanner) contexts(ctx context.Context, target detector.ScanTarget, backend scanctx.Backend) []*scanctx.Context {
	if backend == nil {
		name := target.Repo
		if name == "" {
			name = target.Raw
		}
		return []*scanctx.Context{{Component: scanctx.Component{Name: name}, Target: target}}
	}

	builder := scanctx.NewBuilder(backend, s.deps.Emitter)
	root := builder.Build(ctx, target)
	children, err := builder.DiscoverComponents(ctx, root, s.cfg.Recursive)
	if err != nil {
		s.deps.Emitter.Log(events.InspectorError, err.Error(), map[string]any{"component": ""})
	}
	return append([]*scanctx.Context{root}, children...)
}
