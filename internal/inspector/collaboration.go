package inspector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/example/dxscan/internal/gitcli"
)

func pullRequestKey(f PullRequestFilter) string {
	state := f.State
	if state == "" {
		state = PullRequestAll
	}
	return fmt.Sprintf("prs|state=%s|after=%d|diff=%t", state, unixOrZero(f.UpdatedAfter), f.WithDiffStat)
}

func commitKey(f CommitFilter) string {
	return fmt.Sprintf("commits|since=%d|limit=%d", unixOrZero(f.Since), f.Limit)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// RemoteCollaboration answers collaboration queries from a hosting API.
type RemoteCollaboration struct {
	client RemoteClient
	health *Health
	policy RetryPolicy
	memo   *memo
}

// NewRemoteCollaboration builds a cached, retrying collaboration inspector.
func NewRemoteCollaboration(client RemoteClient, health *Health, policy RetryPolicy) *RemoteCollaboration {
	return &RemoteCollaboration{client: client, health: health, policy: policy, memo: newMemo(defaultMemoEntries)}
}

// IsRemote implements Remote.
func (r *RemoteCollaboration) IsRemote() bool { return true }

// PullRequests implements CollaborationInspector.
func (r *RemoteCollaboration) PullRequests(ctx context.Context, filter PullRequestFilter) ([]PullRequest, error) {
	prs, err := memoize(ctx, r.memo, pullRequestKey(filter), func(ctx context.Context) ([]PullRequest, error) {
		return remoteCall(ctx, r.health, r.policy, func(ctx context.Context) ([]PullRequest, error) {
			return r.client.PullRequests(ctx, filter)
		})
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(prs), nil
}

// Commits implements CollaborationInspector.
func (r *RemoteCollaboration) Commits(ctx context.Context, filter CommitFilter) ([]Commit, error) {
	commits, err := memoize(ctx, r.memo, commitKey(filter), func(ctx context.Context) ([]Commit, error) {
		return remoteCall(ctx, r.health, r.policy, func(ctx context.Context) ([]Commit, error) {
			return r.client.Commits(ctx, filter)
		})
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(commits), nil
}

// PurgeCache implements CollaborationInspector.
func (r *RemoteCollaboration) PurgeCache() { r.memo.purge() }

// LocalCollaboration reads history from the local git repository. Pull
// requests only exist on hosting services, so they are not supported.
type LocalCollaboration struct {
	git  gitcli.Runner
	dir  string
	memo *memo
}

// NewLocalCollaboration builds a collaboration inspector over git log.
func NewLocalCollaboration(git gitcli.Runner, dir string) *LocalCollaboration {
	return &LocalCollaboration{git: git, dir: dir, memo: newMemo(64)}
}

// IsRemote implements Remote.
func (l *LocalCollaboration) IsRemote() bool { return false }

// PullRequests implements CollaborationInspector.
func (l *LocalCollaboration) PullRequests(context.Context, PullRequestFilter) ([]PullRequest, error) {
	return nil, fmt.Errorf("pull requests: %w", ErrNotSupported)
}

// Commits implements CollaborationInspector.
func (l *LocalCollaboration) Commits(ctx context.Context, filter CommitFilter) ([]Commit, error) {
	commits, err := memoize(ctx, l.memo, commitKey(filter), func(ctx context.Context) ([]Commit, error) {
		raw, err := l.git.Log(ctx, l.dir, gitcli.LogInput{Since: filter.Since, Limit: filter.Limit})
		if errors.Is(err, gitcli.ErrNoRepository) {
			return nil, fmt.Errorf("commits: %w", ErrNotSupported)
		}
		if err != nil {
			return nil, err
		}
		out := make([]Commit, 0, len(raw))
		for _, c := range raw {
			out = append(out, Commit{SHA: c.SHA, Author: c.Author, Message: c.Subject, Date: c.Date})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(commits), nil
}

// PurgeCache implements CollaborationInspector.
func (l *LocalCollaboration) PurgeCache() { l.memo.purge() }
