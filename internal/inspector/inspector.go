package inspector

import (
	"context"
	"errors"
	"iter"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a file or resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the hosting service rejects the credential (or its absence).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransient marks failures that are worth retrying (rate limits, 5xx).
	ErrTransient = errors.New("transient service error")
	// ErrUnavailable is returned once retries are exhausted or the service cannot be reached.
	ErrUnavailable = errors.New("service unavailable")
	// ErrNotSupported is returned by backends that cannot answer a query at all.
	ErrNotSupported = errors.New("not supported by backend")
)

// FileMeta describes one entry of a file listing.
type FileMeta struct {
	// Slash separated path relative to the inspector root (e.g. "docs/README.md").
	Path  string `json:"path"`
	Name  string `json:"name"`
	Ext   string `json:"ext,omitempty"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"isDir,omitempty"`
}

// ScanOptions tunes directory listings.
type ScanOptions struct {
	// Shallow limits the listing to the direct children of the start directory.
	Shallow bool
}

// FileInspector gives read access to the files of one component.
type FileInspector interface {
	// Root is the slash separated location of this inspector inside the scanned project ("" for the project root).
	Root() string
	List(ctx context.Context, from string, opts ScanOptions) ([]FileMeta, error)
	// ScanFor returns the entries below from whose name matches pattern. The
	// sequence is lazily filtered and may be ranged over repeatedly.
	ScanFor(ctx context.Context, pattern *regexp.Regexp, from string, opts ScanOptions) (iter.Seq[FileMeta], error)
	ReadContent(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	PurgeCache()
}

// Package is one declared dependency.
type Package struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Ecosystem string `json:"ecosystem"`
	Manifest  string `json:"manifest"`
	Dev       bool   `json:"dev,omitempty"`
}

// PackageInspector exposes the dependency manifests of one component.
type PackageInspector interface {
	Packages(ctx context.Context) ([]Package, error)
	HasLockfile(ctx context.Context) (bool, error)
	PurgeCache()
}

// PullRequestState filters pull requests by lifecycle state.
type PullRequestState string

const (
	PullRequestOpen   PullRequestState = "open"
	PullRequestClosed PullRequestState = "closed"
	PullRequestMerged PullRequestState = "merged"
	PullRequestAll    PullRequestState = "all"
)

// PullRequestFilter narrows PullRequests queries.
type PullRequestFilter struct {
	State        PullRequestState
	UpdatedAfter time.Time
	WithDiffStat bool
}

// PullRequest is a hosting-service independent pull request summary.
type PullRequest struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Additions int       `json:"additions"`
	Deletions int       `json:"deletions"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	URL       string    `json:"url,omitempty"`
}

// ChangedLines is additions plus deletions.
func (p PullRequest) ChangedLines() int {
	return p.Additions + p.Deletions
}

// CommitFilter narrows Commits queries.
type CommitFilter struct {
	Since time.Time
	Limit int
}

// Commit is a hosting-service independent commit summary.
type Commit struct {
	SHA     string    `json:"sha"`
	Author  string    `json:"author"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
}

// CollaborationInspector exposes project-wide collaboration history.
type CollaborationInspector interface {
	PullRequests(ctx context.Context, filter PullRequestFilter) ([]PullRequest, error)
	Commits(ctx context.Context, filter CommitFilter) ([]Commit, error)
	PurgeCache()
}

// Remote reports whether an inspector is backed by a hosting API.
type Remote interface {
	IsRemote() bool
}

// cleanPath normalizes user supplied paths ("/", "./docs/", "docs") to a
// slash separated relative form where "" means the root.
func cleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

func joinPath(elem ...string) string {
	return cleanPath(path.Join(elem...))
}

// filterSeq lazily yields the entries whose base name matches pattern.
func filterSeq(entries []FileMeta, pattern *regexp.Regexp) iter.Seq[FileMeta] {
	return func(yield func(FileMeta) bool) {
		for _, e := range entries {
			if pattern != nil && !pattern.MatchString(e.Name) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

func newFileMeta(rel string, size int64, isDir bool) FileMeta {
	name := path.Base(rel)
	ext := ""
	if !isDir {
		ext = strings.ToLower(path.Ext(name))
	}
	return FileMeta{Path: rel, Name: name, Ext: ext, Size: size, IsDir: isDir}
}

// skipDirs are never descended into by any backend.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	".next":        true,
	"target":       true,
}

// IsSkippedDir reports whether a directory name is excluded from listings.
func IsSkippedDir(name string) bool {
	return skipDirs[name]
}
