package practice

import (
	"context"
	"errors"
	"iter"
	"regexp"
	"strconv"
	"time"

	"github.com/example/dxscan/internal/inspector"
	"github.com/example/dxscan/internal/scanctx"
)

const (
	ReadmeID              = "LanguageIndependent.ReadmeIsPresent"
	LicenseID             = "LanguageIndependent.LicenseIsPresent"
	ThinPullRequestsID    = "LanguageIndependent.ThinPullRequests"
	RecentCommitsID       = "LanguageIndependent.RecentCommits"
	JSPackageManagementID = "JavaScript.PackageManagementUsed"
	JSLockfileID          = "JavaScript.LockfileIsPresent"
	GoModulesID           = "Go.ModulesUsed"
)

var (
	readmePattern      = regexp.MustCompile(`(?i)readme`)
	licensePattern     = regexp.MustCompile(`(?i)^(licen[cs]e|copying)([.-]\w+)?$`)
	packageJSONPattern = regexp.MustCompile(`(?i)^package\.json$`)
)

var shallow = inspector.ScanOptions{Shallow: true}

// unavailable turns "this backend cannot answer" into Unknown without an error.
func unavailable(err error) (Evaluation, error) {
	if errors.Is(err, inspector.ErrNotSupported) {
		return Evaluation{Result: Unknown, Details: []Detail{TextDetail("%v", err)}}, nil
	}
	return Evaluation{Result: Unknown}, err
}

func anyMatch(ctx context.Context, files inspector.FileInspector, pattern *regexp.Regexp) (bool, error) {
	seq, err := files.ScanFor(ctx, pattern, "", shallow)
	if err != nil {
		return false, err
	}
	return first(seq), nil
}

func first(seq iter.Seq[inspector.FileMeta]) bool {
	for range seq {
		return true
	}
	return false
}

// presentInComponentOrRoot is shared by the file presence practices.
func presentInComponentOrRoot(ctx context.Context, c *scanctx.Context, pattern *regexp.Regexp) (Evaluation, error) {
	root := c.Root()
	if c.Files == nil || root.Files == nil {
		return Evaluation{Result: Unknown}, nil
	}
	for _, files := range []inspector.FileInspector{c.Files, root.Files} {
		ok, err := anyMatch(ctx, files, pattern)
		if err != nil {
			return unavailable(err)
		}
		if ok {
			return Evaluation{Result: Practicing}, nil
		}
	}
	return Evaluation{Result: NotPracticing}, nil
}

// ReadmeIsPresent checks for a readme at the top of the component or project.
type ReadmeIsPresent struct{}

func (ReadmeIsPresent) Metadata() Metadata {
	return Metadata{
		ID:             ReadmeID,
		Name:           "Create a Readme File",
		Impact:         ImpactHigh,
		Suggestion:     "Add a Readme file to tell other people why your project is useful, what they can do with it, and how they can use it.",
		ReportOnlyOnce: true,
		URL:            "https://dxkb.io/p/readme",
	}
}

func (ReadmeIsPresent) IsApplicable(*scanctx.Context) bool { return true }

func (ReadmeIsPresent) Evaluate(ctx context.Context, c *scanctx.Context) (Evaluation, error) {
	return presentInComponentOrRoot(ctx, c, readmePattern)
}

// LicenseIsPresent checks for a license file.
type LicenseIsPresent struct{}

func (LicenseIsPresent) Metadata() Metadata {
	return Metadata{
		ID:             LicenseID,
		Name:           "Add a License",
		Impact:         ImpactMedium,
		Suggestion:     "Add a LICENSE file so others know how they may use, change and distribute the project.",
		ReportOnlyOnce: true,
		URL:            "https://choosealicense.com/",
	}
}

func (LicenseIsPresent) IsApplicable(*scanctx.Context) bool { return true }

func (LicenseIsPresent) Evaluate(ctx context.Context, c *scanctx.Context) (Evaluation, error) {
	return presentInComponentOrRoot(ctx, c, licensePattern)
}

const (
	fatPullRequestLines  = 1000
	thinPullRequestRange = 30 * 24 * time.Hour
)

// ThinPullRequests fails when a pull request updated within 30 days of the
// newest one changes more than 1000 lines.
type ThinPullRequests struct{}

// NewThinPullRequests returns the practice.
func NewThinPullRequests() ThinPullRequests { return ThinPullRequests{} }

func (ThinPullRequests) Metadata() Metadata {
	return Metadata{
		ID:             ThinPullRequestsID,
		Name:           "Break Down Large Pull Requests",
		Impact:         ImpactMedium,
		Suggestion:     "Keep pull requests small so they are easy to review and quick to merge.",
		ReportOnlyOnce: true,
		URL:            "https://dxkb.io/p/thin-pull-requests",
	}
}

func (ThinPullRequests) IsApplicable(*scanctx.Context) bool { return true }

func (ThinPullRequests) Evaluate(ctx context.Context, c *scanctx.Context) (Evaluation, error) {
	collab := c.Root().Collaboration
	if collab == nil {
		return Evaluation{Result: Unknown}, nil
	}
	all, err := collab.PullRequests(ctx, inspector.PullRequestFilter{State: inspector.PullRequestAll})
	if err != nil {
		return unavailable(err)
	}
	if len(all) == 0 {
		return Evaluation{Result: Practicing, Details: []Detail{TextDetail("no pull requests found")}}, nil
	}
	newest := all[0].UpdatedAt
	for _, pr := range all[1:] {
		if pr.UpdatedAt.After(newest) {
			newest = pr.UpdatedAt
		}
	}

	recent, err := collab.PullRequests(ctx, inspector.PullRequestFilter{
		State:        inspector.PullRequestAll,
		UpdatedAfter: newest.Add(-thinPullRequestRange),
		WithDiffStat: true,
	})
	if err != nil {
		return unavailable(err)
	}
	var rows [][]string
	for _, pr := range recent {
		if pr.ChangedLines() > fatPullRequestLines {
			rows = append(rows, []string{strconv.Itoa(pr.ID), pr.Title, strconv.Itoa(pr.ChangedLines()), pr.URL})
		}
	}
	if len(rows) > 0 {
		return Evaluation{
			Result:  NotPracticing,
			Details: []Detail{TableDetail([]string{"ID", "Title", "Changed lines", "URL"}, rows)},
		}, nil
	}
	return Evaluation{Result: Practicing}, nil
}

const recentCommitWindow = 90 * 24 * time.Hour

// RecentCommits checks that the project saw a commit in the last 90 days.
type RecentCommits struct {
	Now func() time.Time
}

// NewRecentCommits returns the practice using the wall clock.
func NewRecentCommits() RecentCommits { return RecentCommits{Now: time.Now} }

func (RecentCommits) Metadata() Metadata {
	return Metadata{
		ID:             RecentCommitsID,
		Name:           "Keep the Project Active",
		Impact:         ImpactSmall,
		Suggestion:     "Commit regularly; a project without recent commits looks abandoned.",
		ReportOnlyOnce: true,
	}
}

func (RecentCommits) IsApplicable(*scanctx.Context) bool { return true }

func (p RecentCommits) Evaluate(ctx context.Context, c *scanctx.Context) (Evaluation, error) {
	collab := c.Root().Collaboration
	if collab == nil {
		return Evaluation{Result: Unknown}, nil
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	since := now().Add(-recentCommitWindow).Truncate(time.Hour)
	commits, err := collab.Commits(ctx, inspector.CommitFilter{Since: since, Limit: 1})
	if err != nil {
		return unavailable(err)
	}
	if len(commits) == 0 {
		return Evaluation{Result: NotPracticing, Details: []Detail{TextDetail("no commits since %s", since.Format(time.DateOnly))}}, nil
	}
	return Evaluation{Result: Practicing}, nil
}

// JSPackageManagementUsed checks that JavaScript components declare their
// dependencies in package.json.
type JSPackageManagementUsed struct{}

func (JSPackageManagementUsed) Metadata() Metadata {
	return Metadata{
		ID:         JSPackageManagementID,
		Name:       "Use JS Package Management",
		Impact:     ImpactHigh,
		Suggestion: "Use package.json to keep track of the packages your application uses.",
		URL:        "https://docs.npmjs.com/files/package.json",
	}
}

func (JSPackageManagementUsed) IsApplicable(c *scanctx.Context) bool {
	return c.Component.HasLanguage(scanctx.LangJavaScript)
}

func (JSPackageManagementUsed) Evaluate(ctx context.Context, c *scanctx.Context) (Evaluation, error) {
	if c.Files == nil {
		return Evaluation{Result: Unknown}, nil
	}
	ok, err := anyMatch(ctx, c.Files, packageJSONPattern)
	if err != nil {
		return unavailable(err)
	}
	if ok {
		return Evaluation{Result: Practicing}, nil
	}
	return Evaluation{Result: NotPracticing}, nil
}

// JSLockfileIsPresent checks that installs are reproducible.
type JSLockfileIsPresent struct{}

func (JSLockfileIsPresent) Metadata() Metadata {
	return Metadata{
		ID:         JSLockfileID,
		Name:       "Lock Dependency Versions",
		Impact:     ImpactMedium,
		Suggestion: "Commit package-lock.json, yarn.lock or pnpm-lock.yaml so every install resolves the same versions.",
		URL:        "https://docs.npmjs.com/cli/configuring-npm/package-lock-json",
	}
}

func (JSLockfileIsPresent) IsApplicable(c *scanctx.Context) bool {
	return c.Component.HasMarker("package.json")
}

func (JSLockfileIsPresent) Evaluate(ctx context.Context, c *scanctx.Context) (Evaluation, error) {
	if c.Packages == nil {
		return Evaluation{Result: Unknown}, nil
	}
	ok, err := c.Packages.HasLockfile(ctx)
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return Evaluation{Result: NotPracticing, Details: []Detail{TextDetail("no lockfile next to package.json")}}, nil
	}
	return Evaluation{Result: Practicing}, nil
}

// GoModulesUsed checks that Go components are built as modules.
type GoModulesUsed struct{}

func (GoModulesUsed) Metadata() Metadata {
	return Metadata{
		ID:         GoModulesID,
		Name:       "Use Go Modules",
		Impact:     ImpactHigh,
		Suggestion: "Run `go mod init` so builds are reproducible and dependencies are versioned.",
		URL:        "https://go.dev/ref/mod",
	}
}

func (GoModulesUsed) IsApplicable(c *scanctx.Context) bool {
	return c.Component.HasLanguage(scanctx.LangGo)
}

func (GoModulesUsed) Evaluate(ctx context.Context, c *scanctx.Context) (Evaluation, error) {
	if c.Files == nil {
		return Evaluation{Result: Unknown}, nil
	}
	ok, err := c.Files.Exists(ctx, "go.mod")
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return Evaluation{Result: NotPracticing}, nil
	}

	eval := Evaluation{Result: Practicing}
	if c.Packages == nil {
		return eval, nil
	}
	pkgs, err := c.Packages.Packages(ctx)
	if err != nil {
		// the module exists; an unparsable go.mod only loses the detail table
		eval.Details = append(eval.Details, TextDetail("go.mod could not be parsed: %v", err))
		return eval, nil
	}
	var rows [][]string
	for _, p := range pkgs {
		if p.Ecosystem == inspector.EcosystemGo && p.Manifest == "go.mod" {
			rows = append(rows, []string{p.Name, p.Version})
		}
	}
	if len(rows) > 0 {
		eval.Details = append(eval.Details, TableDetail([]string{"Module", "Version"}, rows))
	}
	return eval, nil
}
