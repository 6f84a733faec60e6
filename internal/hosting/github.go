package hosting

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/dxscan/internal/inspector"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// GitHub implements inspector.RemoteClient on top of the GitHub REST API.
type GitHub struct {
	baseURL string
	owner   string
	repo    string
	t       transport

	treeMu sync.Mutex
	tree   []inspector.FileMeta
}

// NewGitHub returns a client for owner/repo. An empty baseURL selects the public API.
func NewGitHub(baseURL, owner, repo string, cred Credential, client *http.Client) *GitHub {
	if baseURL == "" {
		baseURL = DefaultGitHubAPI
	}
	return &GitHub{
		baseURL: strings.TrimRight(baseURL, "/"),
		owner:   owner,
		repo:    repo,
		t:       newTransport(client, cred),
	}
}

func (g *GitHub) repoURL(format string, args ...any) string {
	return fmt.Sprintf("%s/repos/%s/%s", g.baseURL, url.PathEscape(g.owner), url.PathEscape(g.repo)) + fmt.Sprintf(format, args...)
}

type githubTree struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
		Size int64  `json:"size"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// ListFiles implements inspector.RemoteClient. The full tree of HEAD is
// fetched once per client and filtered locally.
func (g *GitHub) ListFiles(ctx context.Context, dir string, recursive bool) ([]inspector.FileMeta, error) {
	tree, err := g.loadTree(ctx)
	if err != nil {
		return nil, err
	}
	dir = strings.Trim(dir, "/")
	var out []inspector.FileMeta
	dirExists := dir == ""
	for _, e := range tree {
		if e.Path == dir && e.IsDir {
			dirExists = true
			continue
		}
		if childOf(dir, e.Path, recursive) {
			out = append(out, e)
		}
	}
	if !dirExists {
		return nil, fmt.Errorf("%s: %w", dir, inspector.ErrNotFound)
	}
	return out, nil
}

func (g *GitHub) loadTree(ctx context.Context) ([]inspector.FileMeta, error) {
	g.treeMu.Lock()
	defer g.treeMu.Unlock()
	if g.tree != nil {
		return g.tree, nil
	}
	var raw githubTree
	if err := g.t.getJSON(ctx, g.repoURL("/git/trees/HEAD?recursive=1"), repoScope, &raw); err != nil {
		return nil, err
	}
	if raw.Truncated {
		// The recursive response has an entry limit; walk the tree one
		// directory at a time instead.
		tree, err := g.walkTree(ctx)
		if err != nil {
			return nil, err
		}
		g.tree = tree
		return tree, nil
	}
	tree := make([]inspector.FileMeta, 0, len(raw.Tree))
	for _, e := range raw.Tree {
		tree = append(tree, inspector.FileMeta{Path: e.Path, Size: e.Size, IsDir: e.Type == "tree"})
	}
	g.tree = tree
	return tree, nil
}

// walkTree lists HEAD with one non-recursive tree call per directory.
func (g *GitHub) walkTree(ctx context.Context) ([]inspector.FileMeta, error) {
	type pending struct{ sha, prefix string }
	queue := []pending{{sha: "HEAD"}}
	tree := []inspector.FileMeta{}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		var raw githubTree
		sc := repoScope
		if next.prefix != "" {
			sc = fileScope
		}
		if err := g.t.getJSON(ctx, g.repoURL("/git/trees/%s", url.PathEscape(next.sha)), sc, &raw); err != nil {
			return nil, err
		}
		if raw.Truncated {
			dir := next.prefix
			if dir == "" {
				dir = "/"
			}
			return nil, fmt.Errorf("tree %s: listing truncated by the service: %w", dir, inspector.ErrUnavailable)
		}
		for _, e := range raw.Tree {
			p := e.Path
			if next.prefix != "" {
				p = next.prefix + "/" + e.Path
			}
			isDir := e.Type == "tree"
			tree = append(tree, inspector.FileMeta{Path: p, Size: e.Size, IsDir: isDir})
			if isDir {
				queue = append(queue, pending{sha: e.SHA, prefix: p})
			}
		}
	}
	return tree, nil
}

// ReadFile implements inspector.RemoteClient.
func (g *GitHub) ReadFile(ctx context.Context, path string) ([]byte, error) {
	escaped := escapePath(path)
	body, _, err := g.t.get(ctx, g.repoURL("/contents/%s", escaped), "application/vnd.github.raw", fileScope)
	return body, err
}

type githubPull struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	MergedAt  *time.Time `json:"merged_at"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
}

// PullRequests implements inspector.RemoteClient. Pull requests are read
// most recently updated first, so paging stops at the first one older than
// filter.UpdatedAfter.
func (g *GitHub) PullRequests(ctx context.Context, filter inspector.PullRequestFilter) ([]inspector.PullRequest, error) {
	state := "all"
	switch filter.State {
	case inspector.PullRequestOpen:
		state = "open"
	case inspector.PullRequestClosed, inspector.PullRequestMerged:
		state = "closed"
	}

	var out []inspector.PullRequest
	for page := 1; page <= maxPages; page++ {
		var pulls []githubPull
		u := g.repoURL("/pulls?state=%s&sort=updated&direction=desc&per_page=100&page=%d", state, page)
		if err := g.t.getJSON(ctx, u, repoScope, &pulls); err != nil {
			return nil, err
		}
		done := len(pulls) < 100
		for _, p := range pulls {
			if !filter.UpdatedAfter.IsZero() && p.UpdatedAt.Before(filter.UpdatedAfter) {
				done = true
				break
			}
			if filter.State == inspector.PullRequestMerged && p.MergedAt == nil {
				continue
			}
			if filter.WithDiffStat {
				var detail githubPull
				if err := g.t.getJSON(ctx, g.repoURL("/pulls/%d", p.Number), repoScope, &detail); err != nil {
					return nil, err
				}
				p.Additions, p.Deletions = detail.Additions, detail.Deletions
			}
			out = append(out, inspector.PullRequest{
				ID:        p.Number,
				Title:     p.Title,
				State:     githubState(p),
				Additions: p.Additions,
				Deletions: p.Deletions,
				CreatedAt: p.CreatedAt,
				UpdatedAt: p.UpdatedAt,
				URL:       p.HTMLURL,
			})
		}
		if done {
			break
		}
	}
	return out, nil
}

func githubState(p githubPull) string {
	if p.MergedAt != nil {
		return string(inspector.PullRequestMerged)
	}
	return p.State
}

type githubCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// Commits implements inspector.RemoteClient.
func (g *GitHub) Commits(ctx context.Context, filter inspector.CommitFilter) ([]inspector.Commit, error) {
	perPage := 100
	if filter.Limit > 0 && filter.Limit < perPage {
		perPage = filter.Limit
	}
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	if !filter.Since.IsZero() {
		q.Set("since", filter.Since.UTC().Format(time.RFC3339))
	}

	var out []inspector.Commit
	for page := 1; page <= maxPages; page++ {
		q.Set("page", strconv.Itoa(page))
		var commits []githubCommit
		if err := g.t.getJSON(ctx, g.repoURL("/commits?%s", q.Encode()), repoScope, &commits); err != nil {
			return nil, err
		}
		for _, c := range commits {
			out = append(out, inspector.Commit{
				SHA:     c.SHA,
				Author:  c.Commit.Author.Name,
				Message: firstLine(c.Commit.Message),
				Date:    c.Commit.Author.Date,
			})
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return out, nil
			}
		}
		if len(commits) < perPage {
			break
		}
	}
	return out, nil
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
