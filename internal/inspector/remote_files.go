package inspector

import (
	"context"
	"errors"
	"iter"
	"regexp"
	"slices"
	"sort"
	"strings"
)

// RemoteClient is the narrow contract a hosting API client must satisfy.
// Paths are slash separated and relative to the repository root.
type RemoteClient interface {
	ListFiles(ctx context.Context, dir string, recursive bool) ([]FileMeta, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	PullRequests(ctx context.Context, filter PullRequestFilter) ([]PullRequest, error)
	Commits(ctx context.Context, filter CommitFilter) ([]Commit, error)
}

// remoteCall wraps a hosting API call with the auth short-circuit, retry
// policy and health bookkeeping shared by all remote inspectors.
func remoteCall[V any](ctx context.Context, health *Health, policy RetryPolicy, fn func(context.Context) (V, error)) (V, error) {
	var zero V
	if health.AuthFailed() {
		return zero, ErrUnauthorized
	}
	v, err := retry(ctx, policy, fn)
	if err != nil {
		if ctx.Err() == nil {
			health.Record(err)
		}
		return zero, err
	}
	return v, nil
}

// RemoteFiles reads a component through a hosting API.
type RemoteFiles struct {
	client RemoteClient
	dir    string
	health *Health
	policy RetryPolicy
	memo   *memo
}

// NewRemoteFiles scopes a remote file inspector to dir.
func NewRemoteFiles(client RemoteClient, dir string, health *Health, policy RetryPolicy) *RemoteFiles {
	return &RemoteFiles{
		client: client,
		dir:    cleanPath(dir),
		health: health,
		policy: policy,
		memo:   newMemo(defaultMemoEntries),
	}
}

// Root implements FileInspector.
func (r *RemoteFiles) Root() string { return r.dir }

// IsRemote implements Remote.
func (r *RemoteFiles) IsRemote() bool { return true }

// List implements FileInspector.
func (r *RemoteFiles) List(ctx context.Context, from string, opts ScanOptions) ([]FileMeta, error) {
	entries, err := r.list(ctx, cleanPath(from), opts)
	if err != nil {
		return nil, err
	}
	return slices.Clone(entries), nil
}

// ScanFor implements FileInspector.
func (r *RemoteFiles) ScanFor(ctx context.Context, pattern *regexp.Regexp, from string, opts ScanOptions) (iter.Seq[FileMeta], error) {
	entries, err := r.list(ctx, cleanPath(from), opts)
	if err != nil {
		return nil, err
	}
	return filterSeq(entries, pattern), nil
}

// ReadContent implements FileInspector.
func (r *RemoteFiles) ReadContent(ctx context.Context, path string) ([]byte, error) {
	full := joinPath(r.dir, path)
	data, err := memoize(ctx, r.memo, "read|"+full, func(ctx context.Context) ([]byte, error) {
		return remoteCall(ctx, r.health, r.policy, func(ctx context.Context) ([]byte, error) {
			return r.client.ReadFile(ctx, full)
		})
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(data), nil
}

// Exists implements FileInspector. It answers from the parent directory listing.
func (r *RemoteFiles) Exists(ctx context.Context, path string) (bool, error) {
	path = cleanPath(path)
	if path == "" {
		return true, nil
	}
	parent := ""
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		parent = path[:idx]
	}
	entries, err := r.list(ctx, parent, ScanOptions{Shallow: true})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if e.Path == path {
			return true, nil
		}
	}
	return false, nil
}

// PurgeCache implements FileInspector.
func (r *RemoteFiles) PurgeCache() { r.memo.purge() }

func (r *RemoteFiles) list(ctx context.Context, from string, opts ScanOptions) ([]FileMeta, error) {
	full := joinPath(r.dir, from)
	return memoize(ctx, r.memo, listKey("list", full, opts), func(ctx context.Context) ([]FileMeta, error) {
		raw, err := remoteCall(ctx, r.health, r.policy, func(ctx context.Context) ([]FileMeta, error) {
			return r.client.ListFiles(ctx, full, !opts.Shallow)
		})
		if err != nil {
			return nil, err
		}
		return r.relativize(raw), nil
	})
}

// relativize rewrites repository paths relative to the inspector root and
// drops entries inside skipped directories.
func (r *RemoteFiles) relativize(raw []FileMeta) []FileMeta {
	prefix := ""
	if r.dir != "" {
		prefix = r.dir + "/"
	}
	out := make([]FileMeta, 0, len(raw))
	for _, e := range raw {
		p := cleanPath(e.Path)
		if prefix != "" {
			if !strings.HasPrefix(p, prefix) {
				continue
			}
			p = strings.TrimPrefix(p, prefix)
		}
		if p == "" || inSkippedDir(p, e.IsDir) {
			continue
		}
		out = append(out, newFileMeta(p, e.Size, e.IsDir))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func inSkippedDir(p string, isDir bool) bool {
	parts := strings.Split(p, "/")
	if !isDir {
		parts = parts[:len(parts)-1]
	}
	for _, part := range parts {
		if IsSkippedDir(part) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
