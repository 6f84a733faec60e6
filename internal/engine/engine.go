package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/example/dxscan/internal/events"
	"github.com/example/dxscan/internal/practice"
	"github.com/example/dxscan/internal/scanctx"
)

// DefaultConcurrency bounds parallel practice evaluations when Options leaves it unset.
const DefaultConcurrency = 4

// Options tunes Evaluate.
type Options struct {
	// Concurrency is the maximum number of evaluations in flight.
	Concurrency int
	Emitter     *events.Emitter
}

// Outcome is the result of one practice for one component.
type Outcome struct {
	// Component is the component path; "" is the project root.
	Component string            `json:"component"`
	Practice  practice.Metadata `json:"practice"`
	Result    practice.Result   `json:"result"`
	Details   []practice.Detail `json:"details,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type job struct {
	ctx      *scanctx.Context
	practice practice.Practice
}

// Evaluate runs catalog against every context and returns the outcomes ordered
// by component path, then catalog order, whatever order they completed in.
// Practices marked ReportOnlyOnce only run against the root context.
// A practice that returns an error or panics is recorded as Unknown.
// When ctx is cancelled no new evaluations start, results still in flight
// are discarded and incomplete is true.
func Evaluate(ctx context.Context, contexts []*scanctx.Context, catalog []practice.Practice, opts Options) (outcomes []Outcome, incomplete bool) {
	ordered := slices.Clone(contexts)
	slices.SortStableFunc(ordered, func(a, b *scanctx.Context) int {
		return strings.Compare(a.Component.Path, b.Component.Path)
	})

	var jobs []job
	for _, c := range ordered {
		for _, p := range catalog {
			if p.Metadata().ReportOnlyOnce && !c.IsRoot() {
				continue
			}
			jobs = append(jobs, job{ctx: c, practice: p})
		}
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	results := make([]Outcome, len(jobs))
	done := make([]bool, len(jobs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, j := range jobs {
		if ctx.Err() != nil {
			incomplete = true
			break
		}
		g.Go(func() error {
			out := runOne(ctx, j, opts.Emitter)
			if ctx.Err() != nil {
				return nil
			}
			results[i] = out
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	outcomes = make([]Outcome, 0, len(jobs))
	for i := range results {
		if done[i] {
			outcomes = append(outcomes, results[i])
		} else {
			incomplete = true
		}
	}
	if incomplete {
		opts.Emitter.Log(events.ScanIncomplete, "scan cancelled before all practices were evaluated", map[string]any{
			"evaluated": len(outcomes),
			"planned":   len(jobs),
		})
	}
	return outcomes, incomplete
}

func runOne(ctx context.Context, j job, emitter *events.Emitter) (out Outcome) {
	md := j.practice.Metadata()
	out = Outcome{Component: j.ctx.Component.Path, Practice: md}

	defer func() {
		if r := recover(); r != nil {
			out.Result = practice.Unknown
			out.Details = nil
			out.Error = fmt.Sprintf("panic: %v", r)
			emitter.Log(events.PracticeError, out.Error, map[string]any{"practice": md.ID, "component": out.Component})
		}
	}()

	if !j.practice.IsApplicable(j.ctx) {
		out.Result = practice.NotApplicable
		return out
	}

	eval, err := j.practice.Evaluate(ctx, j.ctx)
	if err != nil {
		out.Result = practice.Unknown
		out.Error = err.Error()
		emitter.Log(events.PracticeError, err.Error(), map[string]any{"practice": md.ID, "component": out.Component})
		return out
	}
	switch eval.Result {
	case practice.Practicing, practice.NotPracticing, practice.Unknown, practice.NotApplicable:
		out.Result = eval.Result
	default:
		out.Result = practice.Unknown
		out.Error = fmt.Sprintf("invalid result %q", eval.Result)
	}
	out.Details = eval.Details
	return out
}
