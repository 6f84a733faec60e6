package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/example/dxscan/internal/inspector"
)

func TestGitHubListFilesScopesTree(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/app/git/trees/HEAD" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"tree":[
			{"path":"README.md","type":"blob","size":10},
			{"path":"api","type":"tree"},
			{"path":"api/go.mod","type":"blob","size":20},
			{"path":"api/internal/x.go","type":"blob","size":30}
		]}`))
	}))
	defer ts.Close()

	gh := NewGitHub(ts.URL, "acme", "app", "", ts.Client())
	root, err := gh.ListFiles(context.Background(), "", false)
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	if len(root) != 2 || root[0].Path != "README.md" || !root[1].IsDir {
		t.Fatalf("unexpected root listing: %#v", root)
	}

	deep, err := gh.ListFiles(context.Background(), "api", true)
	if err != nil {
		t.Fatalf("list api: %v", err)
	}
	if len(deep) != 2 {
		t.Fatalf("expected 2 entries under api, got %#v", deep)
	}

	if _, err := gh.ListFiles(context.Background(), "missing", false); !errors.Is(err, inspector.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGitHubListFilesWalksTruncatedTree(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/app/git/trees/HEAD" && r.URL.Query().Get("recursive") == "1":
			_, _ = w.Write([]byte(`{"tree":[{"path":"README.md","type":"blob","size":10}],"truncated":true}`))
		case r.URL.Path == "/repos/acme/app/git/trees/HEAD":
			_, _ = w.Write([]byte(`{"tree":[
				{"path":"README.md","type":"blob","size":10},
				{"path":"api","type":"tree","sha":"t-api"}
			]}`))
		case r.URL.Path == "/repos/acme/app/git/trees/t-api":
			_, _ = w.Write([]byte(`{"tree":[
				{"path":"go.mod","type":"blob","size":20},
				{"path":"internal","type":"tree","sha":"t-internal"}
			]}`))
		case r.URL.Path == "/repos/acme/app/git/trees/t-internal":
			_, _ = w.Write([]byte(`{"tree":[{"path":"x.go","type":"blob","size":30}]}`))
		default:
			t.Errorf("unexpected request %s", r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	gh := NewGitHub(ts.URL, "acme", "app", "", ts.Client())
	files, err := gh.ListFiles(context.Background(), "", true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := map[string]bool{}
	for _, f := range files {
		got[f.Path] = f.IsDir
	}
	want := map[string]bool{"README.md": false, "api": true, "api/go.mod": false, "api/internal": true, "api/internal/x.go": false}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %#v", len(want), files)
	}
	for path, isDir := range want {
		if dir, ok := got[path]; !ok || dir != isDir {
			t.Fatalf("missing or wrong entry %s in %#v", path, files)
		}
	}
}

func TestGitHubListFilesReportsUnrecoverableTruncation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tree":[{"path":"README.md","type":"blob","size":10}],"truncated":true}`))
	}))
	defer ts.Close()

	gh := NewGitHub(ts.URL, "acme", "app", "", ts.Client())
	if _, err := gh.ListFiles(context.Background(), "", true); !errors.Is(err, inspector.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for a truncated listing, got %v", err)
	}
}

func TestGitHubReadFileSendsToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization %q", got)
		}
		if r.URL.Path == "/repos/acme/app/contents/docs/README.md" {
			_, _ = w.Write([]byte("# docs"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	gh := NewGitHub(ts.URL, "acme", "app", "secret", ts.Client())
	body, err := gh.ReadFile(context.Background(), "docs/README.md")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "# docs" {
		t.Fatalf("unexpected body %q", body)
	}

	if _, err := gh.ReadFile(context.Background(), "LICENSE"); !errors.Is(err, inspector.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGitHubPullRequestsWithDiffStat(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/app/pulls":
			fmt.Fprintf(w, `[
				{"number":2,"title":"big","state":"closed","updated_at":%q,"merged_at":%q},
				{"number":1,"title":"old","state":"closed","updated_at":%q}
			]`, now.Format(time.RFC3339), now.Format(time.RFC3339), now.AddDate(0, -3, 0).Format(time.RFC3339))
		case "/repos/acme/app/pulls/2":
			_, _ = w.Write([]byte(`{"number":2,"additions":900,"deletions":200}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	gh := NewGitHub(ts.URL, "acme", "app", "t", ts.Client())
	prs, err := gh.PullRequests(context.Background(), inspector.PullRequestFilter{
		UpdatedAfter: now.AddDate(0, 0, -30),
		WithDiffStat: true,
	})
	if err != nil {
		t.Fatalf("pull requests: %v", err)
	}
	if len(prs) != 1 {
		t.Fatalf("expected 1 pull request, got %#v", prs)
	}
	if prs[0].ChangedLines() != 1100 || prs[0].State != "merged" {
		t.Fatalf("unexpected pull request %#v", prs[0])
	}
}

func TestGitHubStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		token  Credential
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: inspector.ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, token: "t", want: inspector.ErrUnauthorized},
		{name: "rate limited", status: http.StatusForbidden, header: map[string]string{"X-RateLimit-Remaining": "0"}, want: inspector.ErrTransient},
		{name: "private without token", status: http.StatusNotFound, want: inspector.ErrUnauthorized},
		{name: "missing with token", status: http.StatusNotFound, token: "t", want: inspector.ErrNotFound},
		{name: "too many requests", status: http.StatusTooManyRequests, want: inspector.ErrTransient},
		{name: "server error", status: http.StatusBadGateway, want: inspector.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			gh := NewGitHub(ts.URL, "acme", "app", tt.token, ts.Client())
			_, err := gh.Commits(context.Background(), inspector.CommitFilter{Limit: 1})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBitbucketPaginatesListing(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repositories/team/app/src/HEAD/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"values":[{"path":"web/package.json","type":"commit_file","size":5}]}`))
			return
		}
		fmt.Fprintf(w, `{"values":[{"path":"README.md","type":"commit_file","size":3},{"path":"web","type":"commit_directory"}],"next":%q}`,
			ts.URL+"/repositories/team/app/src/HEAD/?page=2")
	}))
	defer ts.Close()

	bb := NewBitbucket(ts.URL, "team", "app", "user:pass", ts.Client())
	files, err := bb.ListFiles(context.Background(), "", true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 3 || !files[1].IsDir || files[2].Path != "web/package.json" {
		t.Fatalf("unexpected listing %#v", files)
	}
}

func TestBitbucketListingFollowsEveryPage(t *testing.T) {
	const pages = maxPages + 2
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if n == 0 {
			n = 1
		}
		if n == pages {
			_, _ = w.Write([]byte(`{"values":[{"path":"zz/package.json","type":"commit_file","size":2}]}`))
			return
		}
		fmt.Fprintf(w, `{"values":[{"path":"src/f%d.js","type":"commit_file","size":1}],"next":%q}`,
			n, fmt.Sprintf("%s/repositories/team/app/src/HEAD/?page=%d", ts.URL, n+1))
	}))
	defer ts.Close()

	bb := NewBitbucket(ts.URL, "team", "app", "", ts.Client())
	files, err := bb.ListFiles(context.Background(), "", true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != pages {
		t.Fatalf("expected %d entries, got %d", pages, len(files))
	}
	if last := files[len(files)-1]; last.Path != "zz/package.json" {
		t.Fatalf("last page was not read: %#v", last)
	}
}

func TestBitbucketListingRejectsStuckPagination(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"values":[],"next":%q}`, ts.URL+r.URL.RequestURI())
	}))
	defer ts.Close()

	bb := NewBitbucket(ts.URL, "team", "app", "", ts.Client())
	if _, err := bb.ListFiles(context.Background(), "", false); !errors.Is(err, inspector.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBitbucketPullRequestsSumDiffStat(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			t.Errorf("expected basic auth, got %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/repositories/team/app/pullrequests":
			fmt.Fprintf(w, `{"values":[{"id":4,"title":"feat","state":"MERGED","updated_on":%q}]}`, now.Format(time.RFC3339))
		case "/repositories/team/app/pullrequests/4/diffstat":
			_, _ = w.Write([]byte(`{"values":[{"lines_added":10,"lines_removed":2},{"lines_added":5,"lines_removed":1}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	bb := NewBitbucket(ts.URL, "team", "app", "user:pass", ts.Client())
	prs, err := bb.PullRequests(context.Background(), inspector.PullRequestFilter{WithDiffStat: true})
	if err != nil {
		t.Fatalf("pull requests: %v", err)
	}
	if len(prs) != 1 || prs[0].Additions != 15 || prs[0].Deletions != 3 || prs[0].State != "merged" {
		t.Fatalf("unexpected pull requests %#v", prs)
	}
}

func TestBitbucketCommitsStopAtSince(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"values":[
			{"hash":"a1","message":"recent\n\nbody","date":%q,"author":{"raw":"Ada <ada@example.com>"}},
			{"hash":"b2","message":"old","date":%q,"author":{"user":{"display_name":"Bob"}}}
		]}`, now.Format(time.RFC3339), now.AddDate(-1, 0, 0).Format(time.RFC3339))
	}))
	defer ts.Close()

	bb := NewBitbucket(ts.URL, "team", "app", "", ts.Client())
	commits, err := bb.Commits(context.Background(), inspector.CommitFilter{Since: now.AddDate(0, -1, 0)})
	if err != nil {
		t.Fatalf("commits: %v", err)
	}
	if len(commits) != 1 || commits[0].Message != "recent" || commits[0].Author != "Ada <ada@example.com>" {
		t.Fatalf("unexpected commits %#v", commits)
	}
}

func TestCredentialApply(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	Credential("").apply(req)
	if req.Header.Get("Authorization") != "" {
		t.Fatalf("empty credential must not set a header")
	}
	Credential("tok").apply(req)
	if req.Header.Get("Authorization") != "Bearer tok" {
		t.Fatalf("unexpected header %q", req.Header.Get("Authorization"))
	}
}

func TestNPMRegistryLatest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("registry lookups are anonymous, got %q", r.Header.Get("Authorization"))
		}
		switch r.URL.EscapedPath() {
		case "/@types%2Fnode":
			_, _ = w.Write([]byte(`{"dist-tags":{"latest":"22.7.4","next":"23.0.0-rc.1"}}`))
		case "/untagged":
			_, _ = w.Write([]byte(`{"dist-tags":{}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	reg := NewNPMRegistry(ts.URL, ts.Client())
	latest, err := reg.Latest(context.Background(), "@types/node")
	if err != nil || latest != "22.7.4" {
		t.Fatalf("expected 22.7.4, got %q (%v)", latest, err)
	}
	if _, err := reg.Latest(context.Background(), "internal-ui"); !errors.Is(err, inspector.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := reg.Latest(context.Background(), "untagged"); err == nil {
		t.Fatal("expected an error without a latest dist-tag")
	}
}
