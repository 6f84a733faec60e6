package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dxscan/internal/events"
	"github.com/example/dxscan/internal/practice"
	"github.com/example/dxscan/internal/scanctx"
)

// stubPractice is a configurable Practice for engine tests.
type stubPractice struct {
	md         practice.Metadata
	applicable func(*scanctx.Context) bool
	evaluate   func(context.Context, *scanctx.Context) (practice.Evaluation, error)
	calls      *atomic.Int32
}

func (s stubPractice) Metadata() practice.Metadata { return s.md }

func (s stubPractice) IsApplicable(c *scanctx.Context) bool {
	if s.applicable == nil {
		return true
	}
	return s.applicable(c)
}

func (s stubPractice) Evaluate(ctx context.Context, c *scanctx.Context) (practice.Evaluation, error) {
	if s.calls != nil {
		s.calls.Add(1)
	}
	return s.evaluate(ctx, c)
}

func fixed(id string, impact practice.Impact, result practice.Result) stubPractice {
	return stubPractice{
		md: practice.Metadata{ID: id, Impact: impact},
		evaluate: func(context.Context, *scanctx.Context) (practice.Evaluation, error) {
			return practice.Evaluation{Result: result}, nil
		},
	}
}

func childOf(parent *scanctx.Context, dir string) *scanctx.Context {
	return scanctx.NewChild(parent, scanctx.Component{Path: dir, Name: dir}, nil)
}

// tree returns a root context and two children, deliberately out of order.
func tree() []*scanctx.Context {
	root := &scanctx.Context{Component: scanctx.Component{Name: "root"}}
	return []*scanctx.Context{
		childOf(root, "web"),
		root,
		childOf(root, "api"),
	}
}

func keys(outcomes []Outcome) []string {
	var out []string
	for _, o := range outcomes {
		out = append(out, o.Component+"|"+o.Practice.ID+"|"+string(o.Result))
	}
	return out
}

func TestEvaluateOrdersByComponentThenCatalog(t *testing.T) {
	catalog := []practice.Practice{
		fixed("B", practice.ImpactHigh, practice.Practicing),
		fixed("A", practice.ImpactSmall, practice.NotPracticing),
	}
	outcomes, incomplete := Evaluate(context.Background(), tree(), catalog, Options{Concurrency: 8})
	assert.False(t, incomplete)
	assert.Equal(t, []string{
		"|B|practicing",
		"|A|notPracticing",
		"api|B|practicing",
		"api|A|notPracticing",
		"web|B|practicing",
		"web|A|notPracticing",
	}, keys(outcomes))
}

func TestEvaluateReportOnlyOnce(t *testing.T) {
	calls := &atomic.Int32{}
	once := fixed("Once", practice.ImpactHigh, practice.Practicing)
	once.md.ReportOnlyOnce = true
	once.calls = calls

	outcomes, _ := Evaluate(context.Background(), tree(), []practice.Practice{once}, Options{})
	require.Len(t, outcomes, 1)
	assert.Equal(t, "", outcomes[0].Component)
	assert.EqualValues(t, 1, calls.Load())
}

func TestEvaluateNotApplicable(t *testing.T) {
	calls := &atomic.Int32{}
	p := fixed("OnlyAPI", practice.ImpactHigh, practice.NotPracticing)
	p.calls = calls
	p.applicable = func(c *scanctx.Context) bool { return c.Component.Path == "api" }

	outcomes, _ := Evaluate(context.Background(), tree(), []practice.Practice{p}, Options{})
	assert.Equal(t, []string{
		"|OnlyAPI|notApplicable",
		"api|OnlyAPI|notPracticing",
		"web|OnlyAPI|notApplicable",
	}, keys(outcomes))
	assert.EqualValues(t, 1, calls.Load(), "Evaluate is never called for inapplicable components")
}

func TestEvaluateIsolatesFailures(t *testing.T) {
	var logs bytes.Buffer
	failing := stubPractice{
		md: practice.Metadata{ID: "Err", Impact: practice.ImpactHigh},
		evaluate: func(context.Context, *scanctx.Context) (practice.Evaluation, error) {
			return practice.Evaluation{}, errors.New("boom")
		},
	}
	panicking := stubPractice{
		md: practice.Metadata{ID: "Panic", Impact: practice.ImpactHigh},
		evaluate: func(context.Context, *scanctx.Context) (practice.Evaluation, error) {
			panic("kaboom")
		},
	}
	bogus := fixed("Bogus", practice.ImpactHigh, practice.Result("maybe"))
	ok := fixed("OK", practice.ImpactHigh, practice.Practicing)

	root := &scanctx.Context{}
	outcomes, incomplete := Evaluate(context.Background(), []*scanctx.Context{root},
		[]practice.Practice{failing, panicking, bogus, ok}, Options{Emitter: events.NewEmitter(&logs)})
	assert.False(t, incomplete)
	assert.Equal(t, []string{"|Err|unknown", "|Panic|unknown", "|Bogus|unknown", "|OK|practicing"}, keys(outcomes))
	assert.Equal(t, "boom", outcomes[0].Error)
	assert.Contains(t, outcomes[1].Error, "kaboom")
	assert.Equal(t, 2, strings.Count(logs.String(), events.PracticeError))
	assert.False(t, ShouldFail(outcomes, FailAll), "unknown never fails a scan")
}

func TestEvaluateRespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := stubPractice{
		md: practice.Metadata{ID: "Slow", Impact: practice.ImpactSmall},
		evaluate: func(context.Context, *scanctx.Context) (practice.Evaluation, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return practice.Evaluation{Result: practice.Practicing}, nil
		},
	}
	var contexts []*scanctx.Context
	root := &scanctx.Context{}
	contexts = append(contexts, root)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		contexts = append(contexts, childOf(root, name))
	}

	outcomes, _ := Evaluate(context.Background(), contexts, []practice.Practice{slow}, Options{Concurrency: 2})
	assert.Len(t, outcomes, 9)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEvaluateCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	blocking := stubPractice{
		md: practice.Metadata{ID: "Block", Impact: practice.ImpactHigh},
		evaluate: func(ctx context.Context, c *scanctx.Context) (practice.Evaluation, error) {
			if c.Component.Path == "api" {
				close(started)
				<-ctx.Done()
				return practice.Evaluation{}, ctx.Err()
			}
			return practice.Evaluation{Result: practice.Practicing}, nil
		},
	}
	go func() {
		<-started
		cancel()
	}()

	outcomes, incomplete := Evaluate(ctx, tree(), []practice.Practice{blocking}, Options{Concurrency: 1})
	assert.True(t, incomplete)
	assert.Equal(t, []string{"|Block|practicing"}, keys(outcomes), "completed results survive, in-flight ones are discarded")
}

func TestEvaluateAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes, incomplete := Evaluate(ctx, tree(), []practice.Practice{fixed("A", practice.ImpactHigh, practice.Practicing)}, Options{})
	assert.True(t, incomplete)
	assert.Empty(t, outcomes)
}
