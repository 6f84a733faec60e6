package hosting

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/dxscan/internal/inspector"
)

// DefaultBitbucketAPI is the public Bitbucket Cloud REST endpoint.
const DefaultBitbucketAPI = "https://api.bitbucket.org/2.0"

// recursiveDepth is the max_depth sent for recursive src listings.
const recursiveDepth = 32

// Bitbucket implements inspector.RemoteClient on top of the Bitbucket Cloud API.
type Bitbucket struct {
	baseURL   string
	workspace string
	repo      string
	t         transport
}

// NewBitbucket returns a client for workspace/repo. An empty baseURL selects the public API.
func NewBitbucket(baseURL, workspace, repo string, cred Credential, client *http.Client) *Bitbucket {
	if baseURL == "" {
		baseURL = DefaultBitbucketAPI
	}
	return &Bitbucket{
		baseURL:   strings.TrimRight(baseURL, "/"),
		workspace: workspace,
		repo:      repo,
		t:         newTransport(client, cred),
	}
}

func (b *Bitbucket) repoURL(suffix string) string {
	return fmt.Sprintf("%s/repositories/%s/%s%s", b.baseURL, url.PathEscape(b.workspace), url.PathEscape(b.repo), suffix)
}

// page is the Bitbucket pagination envelope.
type page[T any] struct {
	Values []T    `json:"values"`
	Next   string `json:"next"`
}

// paginate follows "next" links from first, up to limit pages. A limit of
// zero follows every page. visit returns false to stop early.
func paginate[T any](ctx context.Context, t transport, first string, sc scope, limit int, visit func(T) bool) error {
	next := first
	for i := 0; next != "" && (limit <= 0 || i < limit); i++ {
		var p page[T]
		if err := t.getJSON(ctx, next, sc, &p); err != nil {
			return err
		}
		for _, v := range p.Values {
			if !visit(v) {
				return nil
			}
		}
		if p.Next == next {
			return fmt.Errorf("GET %s: pagination does not advance: %w", next, inspector.ErrUnavailable)
		}
		next = p.Next
	}
	return nil
}

type bitbucketEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// ListFiles implements inspector.RemoteClient.
func (b *Bitbucket) ListFiles(ctx context.Context, dir string, recursive bool) ([]inspector.FileMeta, error) {
	dir = strings.Trim(dir, "/")
	q := url.Values{}
	q.Set("pagelen", "100")
	if recursive {
		q.Set("max_depth", fmt.Sprint(recursiveDepth))
	}
	suffix := "/src/HEAD/"
	if dir != "" {
		suffix += escapePath(dir) + "/"
	}
	sc := repoScope
	if dir != "" {
		sc = fileScope
	}

	var out []inspector.FileMeta
	// Listings follow every page; a missing page would hide files and components.
	err := paginate(ctx, b.t, b.repoURL(suffix+"?"+q.Encode()), sc, 0, func(e bitbucketEntry) bool {
		if childOf(dir, e.Path, recursive) {
			out = append(out, inspector.FileMeta{Path: e.Path, Size: e.Size, IsDir: e.Type == "commit_directory"})
		}
		return true
	})
	return out, err
}

// ReadFile implements inspector.RemoteClient.
func (b *Bitbucket) ReadFile(ctx context.Context, path string) ([]byte, error) {
	body, _, err := b.t.get(ctx, b.repoURL("/src/HEAD/"+escapePath(path)), "", fileScope)
	return body, err
}

type bitbucketPull struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
	Links     struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

type bitbucketDiffStat struct {
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// PullRequests implements inspector.RemoteClient.
func (b *Bitbucket) PullRequests(ctx context.Context, filter inspector.PullRequestFilter) ([]inspector.PullRequest, error) {
	q := url.Values{}
	q.Set("pagelen", "50")
	q.Set("sort", "-updated_on")
	switch filter.State {
	case inspector.PullRequestOpen:
		q.Add("state", "OPEN")
	case inspector.PullRequestMerged:
		q.Add("state", "MERGED")
	case inspector.PullRequestClosed:
		q.Add("state", "MERGED")
		q.Add("state", "DECLINED")
	default:
		for _, s := range []string{"OPEN", "MERGED", "DECLINED", "SUPERSEDED"} {
			q.Add("state", s)
		}
	}

	var pulls []bitbucketPull
	err := paginate(ctx, b.t, b.repoURL("/pullrequests?"+q.Encode()), repoScope, maxPages, func(p bitbucketPull) bool {
		if !filter.UpdatedAfter.IsZero() && p.UpdatedOn.Before(filter.UpdatedAfter) {
			return false
		}
		pulls = append(pulls, p)
		return true
	})
	if err != nil {
		return nil, err
	}

	out := make([]inspector.PullRequest, 0, len(pulls))
	for _, p := range pulls {
		pr := inspector.PullRequest{
			ID:        p.ID,
			Title:     p.Title,
			State:     strings.ToLower(p.State),
			CreatedAt: p.CreatedOn,
			UpdatedAt: p.UpdatedOn,
			URL:       p.Links.HTML.Href,
		}
		if filter.WithDiffStat {
			err := paginate(ctx, b.t, b.repoURL(fmt.Sprintf("/pullrequests/%d/diffstat?pagelen=100", p.ID)), repoScope, 0, func(d bitbucketDiffStat) bool {
				pr.Additions += d.LinesAdded
				pr.Deletions += d.LinesRemoved
				return true
			})
			if err != nil {
				return nil, err
			}
		}
		out = append(out, pr)
	}
	return out, nil
}

type bitbucketCommit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
	Author  struct {
		Raw  string `json:"raw"`
		User struct {
			DisplayName string `json:"display_name"`
		} `json:"user"`
	} `json:"author"`
}

// Commits implements inspector.RemoteClient. Bitbucket has no since filter,
// so paging stops at the first commit older than filter.Since.
func (b *Bitbucket) Commits(ctx context.Context, filter inspector.CommitFilter) ([]inspector.Commit, error) {
	var out []inspector.Commit
	err := paginate(ctx, b.t, b.repoURL("/commits?pagelen=100"), repoScope, maxPages, func(c bitbucketCommit) bool {
		if !filter.Since.IsZero() && c.Date.Before(filter.Since) {
			return false
		}
		author := c.Author.User.DisplayName
		if author == "" {
			author = c.Author.Raw
		}
		out = append(out, inspector.Commit{SHA: c.Hash, Author: author, Message: firstLine(c.Message), Date: c.Date})
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	return out, err
}
