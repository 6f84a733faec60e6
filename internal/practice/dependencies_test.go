package practice

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dxscan/internal/hosting"
)

// npmRegistry serves dist-tags for the given packages; anything else is 404.
func npmRegistry(t *testing.T, latest map[string]string) (*hosting.NPMRegistry, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var requested []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		mu.Lock()
		requested = append(requested, name)
		mu.Unlock()
		if name == "flaky" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		version, ok := latest[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"name":%q,"dist-tags":{"latest":%q}}`, name, version)
	}))
	t.Cleanup(ts.Close)
	return hosting.NewNPMRegistry(ts.URL, ts.Client()), func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), requested...)
	}
}

func TestJSDependenciesVersionMajorLevel(t *testing.T) {
	registry, requested := npmRegistry(t, map[string]string{
		"react":       "18.3.1",
		"left-pad":    "1.3.0",
		"typescript":  "5.6.2",
		"@types/node": "22.7.4",
	})
	ctxs := localContexts(t, map[string]string{
		"web/package.json": `{
			"dependencies": {"react": "^17.0.2", "left-pad": "1.3.0", "internal-ui": "^1.0.0"},
			"devDependencies": {"typescript": "~5.4.0", "@types/node": "^20.11.0", "eslint": "latest"}
		}`,
	}, nil)
	require.Len(t, ctxs, 2)
	root, web := ctxs[0], ctxs[1]

	p := JSDependenciesVersionMajorLevel{Versions: registry}
	assert.False(t, p.IsApplicable(root))
	require.True(t, p.IsApplicable(web))

	eval, err := p.Evaluate(context.Background(), web)
	require.NoError(t, err)
	assert.Equal(t, NotPracticing, eval.Result)
	require.Len(t, eval.Details, 2)
	assert.Contains(t, eval.Details[0].Text, "2 of 6")
	table := eval.Details[1]
	assert.Equal(t, DetailTable, table.Type)
	assert.Equal(t, []string{"package", "declared", "latest"}, table.Headers)
	assert.Equal(t, [][]string{
		{"@types/node", "^20.11.0", "22.7.4"},
		{"react", "^17.0.2", "18.3.1"},
	}, table.Rows)

	assert.NotContains(t, requested(), "eslint", "dist-tag ranges are not looked up")
	assert.Contains(t, requested(), "internal-ui", "unpublished packages are skipped after lookup")
}

func TestJSDependenciesVersionMajorLevelUpToDate(t *testing.T) {
	registry, _ := npmRegistry(t, map[string]string{"react": "18.3.1"})
	ctxs := localContexts(t, map[string]string{
		"web/package.json": `{"dependencies":{"react":"^18.2.0"}}`,
	}, nil)

	p := JSDependenciesVersionMajorLevel{Versions: registry}
	assert.Equal(t, Practicing, evaluate(t, p, ctxs[1]))

	empty := localContexts(t, map[string]string{"web/package.json": "{}"}, nil)
	assert.Equal(t, Practicing, evaluate(t, p, empty[1]))
}

func TestJSDependenciesVersionMajorLevelRegistryFailure(t *testing.T) {
	registry, _ := npmRegistry(t, map[string]string{"react": "18.3.1"})
	ctxs := localContexts(t, map[string]string{
		"web/package.json": `{"dependencies":{"react":"^17.0.0","flaky":"^1.0.0"}}`,
	}, nil)

	eval, err := JSDependenciesVersionMajorLevel{Versions: registry}.Evaluate(context.Background(), ctxs[1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flaky")
	assert.Equal(t, Unknown, eval.Result)
}

func TestMajorOf(t *testing.T) {
	tests := []struct {
		declared string
		major    int
		ok       bool
	}{
		{declared: "^18.2.0", major: 18, ok: true},
		{declared: "~5.4", major: 5, ok: true},
		{declared: ">=3.0.0", major: 3, ok: true},
		{declared: "4.x", major: 4, ok: true},
		{declared: "v2", major: 2, ok: true},
		{declared: "1.0.0 - 2.0.0", major: 1, ok: true},
		{declared: "latest"},
		{declared: "<2.0.0"},
		{declared: "*"},
		{declared: "github:acme/lib"},
		{declared: "file:../lib"},
	}
	for _, tt := range tests {
		major, ok := majorOf(tt.declared)
		assert.Equal(t, tt.ok, ok, tt.declared)
		assert.Equal(t, tt.major, major, tt.declared)
	}
}
