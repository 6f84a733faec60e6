package practice

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"

	"github.com/example/dxscan/internal/hosting"
	"github.com/example/dxscan/internal/inspector"
	"github.com/example/dxscan/internal/scanctx"
)

// JSDependenciesMajorID names the npm dependency freshness practice.
const JSDependenciesMajorID = "JavaScript.DependenciesVersionMajorLevel"

// registryLookups bounds concurrent registry requests per component.
const registryLookups = 8

// declaredMajor matches ranges that float with or pin a major version:
// "^18.2.0", "~5.4", ">=3", "=1.0.0", "v2", "4.x". Ranges capped from
// above, tags and URLs do not match.
var declaredMajor = regexp.MustCompile(`^\s*(?:\^|~|>=|=)?\s*v?(\d+)(?:[.\s]|$)`)

// VersionSource resolves the latest published version of a package.
type VersionSource interface {
	Latest(ctx context.Context, name string) (string, error)
}

// JSDependenciesVersionMajorLevel fails when a dependency in package.json is
// declared a whole major version behind the registry's latest release.
type JSDependenciesVersionMajorLevel struct {
	Versions VersionSource
}

// NewJSDependenciesVersionMajorLevel checks against the public npm registry.
func NewJSDependenciesVersionMajorLevel() JSDependenciesVersionMajorLevel {
	return JSDependenciesVersionMajorLevel{Versions: hosting.NewNPMRegistry("", nil)}
}

func (JSDependenciesVersionMajorLevel) Metadata() Metadata {
	return Metadata{
		ID:         JSDependenciesMajorID,
		Name:       "Update Dependencies of Major Version",
		Impact:     ImpactMedium,
		Suggestion: "Keep dependencies on their latest major version to pick up security fixes and avoid compatibility drift. Tools such as npm-check-updates list what is behind.",
		URL:        "https://docs.npmjs.com/cli/commands/npm-outdated",
	}
}

func (JSDependenciesVersionMajorLevel) IsApplicable(c *scanctx.Context) bool {
	return c.Component.HasMarker("package.json")
}

type outdated struct {
	name, declared, latest string
}

func (p JSDependenciesVersionMajorLevel) Evaluate(ctx context.Context, c *scanctx.Context) (Evaluation, error) {
	if c.Packages == nil || p.Versions == nil {
		return Evaluation{Result: Unknown}, nil
	}
	pkgs, err := c.Packages.Packages(ctx)
	if err != nil {
		return unavailable(err)
	}

	var deps []inspector.Package
	for _, pkg := range pkgs {
		if pkg.Ecosystem == inspector.EcosystemNPM && pkg.Manifest == "package.json" {
			deps = append(deps, pkg)
		}
	}

	found := make([]*outdated, len(deps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(registryLookups)
	for i, dep := range deps {
		major, ok := majorOf(dep.Version)
		if !ok {
			continue
		}
		g.Go(func() error {
			latest, err := p.Versions.Latest(gctx, dep.Name)
			if errors.Is(err, inspector.ErrNotFound) {
				// private or unpublished package
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", dep.Name, err)
			}
			if !semver.IsValid("v" + latest) {
				return nil
			}
			if latestMajor, _ := strconv.Atoi(semver.Major("v" + latest)[1:]); latestMajor > major {
				found[i] = &outdated{name: dep.Name, declared: dep.Version, latest: latest}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return unavailable(err)
	}

	var rows [][]string
	for _, o := range found {
		if o != nil {
			rows = append(rows, []string{o.name, o.declared, o.latest})
		}
	}
	if len(rows) == 0 {
		return Evaluation{Result: Practicing}, nil
	}
	slices.SortFunc(rows, func(a, b []string) int { return cmp.Compare(a[0], b[0]) })
	return Evaluation{Result: NotPracticing, Details: []Detail{
		TextDetail("%d of %d dependencies are behind the latest major version", len(rows), len(deps)),
		TableDetail([]string{"package", "declared", "latest"}, rows),
	}}, nil
}

// majorOf extracts the major version a declared npm range is tied to.
func majorOf(declared string) (int, bool) {
	m := declaredMajor.FindStringSubmatch(declared)
	if m == nil {
		return 0, false
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return major, true
}
