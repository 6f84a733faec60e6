package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dxscan/internal/detector"
	"github.com/example/dxscan/internal/practice"
	"github.com/example/dxscan/internal/scanctx"
)

func outcome(id string, impact practice.Impact, result practice.Result) Outcome {
	return Outcome{Practice: practice.Metadata{ID: id, Impact: impact}, Result: result}
}

func TestShouldFailThresholds(t *testing.T) {
	highFailure := []Outcome{
		outcome("Readme", practice.ImpactHigh, practice.NotPracticing),
		outcome("License", practice.ImpactMedium, practice.Practicing),
	}
	smallFailure := []Outcome{outcome("Commits", practice.ImpactSmall, practice.NotPracticing)}
	onlyUnknown := []Outcome{
		outcome("Readme", practice.ImpactHigh, practice.Unknown),
		outcome("Go", practice.ImpactHigh, practice.NotApplicable),
	}

	tests := []struct {
		name     string
		outcomes []Outcome
		level    FailLevel
		want     bool
	}{
		{"high failure at medium threshold", highFailure, FailMedium, true},
		{"high failure with off", highFailure, FailOff, false},
		{"high failure at high threshold", highFailure, FailHigh, true},
		{"small failure at high threshold", smallFailure, FailHigh, false},
		{"small failure at small threshold", smallFailure, FailSmall, true},
		{"small failure at all", smallFailure, FailAll, true},
		{"unknown and not applicable never fail", onlyUnknown, FailAll, false},
		{"no outcomes", nil, FailAll, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldFail(tt.outcomes, tt.level))
		})
	}
}

func TestShouldFailMonotonic(t *testing.T) {
	impacts := []practice.Impact{practice.ImpactHigh, practice.ImpactMedium, practice.ImpactSmall}
	results := []practice.Result{practice.Practicing, practice.NotPracticing, practice.Unknown, practice.NotApplicable}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 500; round++ {
		var outcomes []Outcome
		for i := rng.Intn(6); i > 0; i-- {
			outcomes = append(outcomes, outcome("P", impacts[rng.Intn(len(impacts))], results[rng.Intn(len(results))]))
		}
		failed := false
		for _, level := range FailLevels {
			got := ShouldFail(outcomes, level)
			if failed {
				require.True(t, got, "relaxing %v to %s turned a failing scan into a passing one", outcomes, level)
			}
			failed = got
		}
	}
}

func TestParseFailLevel(t *testing.T) {
	for _, s := range []string{"off", "all", "high", "medium", "small", " HIGH "} {
		_, err := ParseFailLevel(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseFailLevel("critical")
	assert.Error(t, err)
}

func TestAggregate(t *testing.T) {
	root := &scanctx.Context{Component: scanctx.Component{Name: "app"}}
	web := scanctx.NewChild(root, scanctx.Component{Path: "web", Name: "web"}, nil)
	started := time.Now().UTC().Add(-time.Second)

	res := Aggregate(AggregateInput{
		Target:    detector.ScanTarget{Raw: "github.com/acme/app", Service: detector.ServiceGitHub},
		StartedAt: started,
		Contexts:  []*scanctx.Context{web, root},
		Outcomes: []Outcome{
			outcome("Commits", practice.ImpactSmall, practice.NotPracticing),
			outcome("Readme", practice.ImpactHigh, practice.NotPracticing),
			outcome("License", practice.ImpactMedium, practice.Practicing),
			outcome("PRs", practice.ImpactMedium, practice.Unknown),
		},
		FailLevel:     FailMedium,
		AuthFailed:    true,
		ServiceErrors: []string{"unauthorized"},
	})

	_, err := uuid.Parse(res.ID)
	require.NoError(t, err)
	assert.True(t, res.ShouldExitOnEnd)
	assert.True(t, res.NeedsAuth)
	assert.True(t, res.PromptForAuth(false))
	assert.False(t, res.PromptForAuth(true), "unattended runs never prompt")
	assert.Equal(t, Summary{Practicing: 1, NotPracticing: 2, Unknown: 1}, res.Summary)
	assert.Equal(t, []string{"", "web"}, []string{res.Components[0].Path, res.Components[1].Path})
	assert.False(t, res.FinishedAt.Before(started))

	failures := res.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "Readme", failures[0].Practice.ID)
	assert.Equal(t, "Commits", failures[1].Practice.ID)
}

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate(AggregateInput{FailLevel: FailOff})
	assert.NotNil(t, res.Outcomes)
	assert.False(t, res.ShouldExitOnEnd)
	assert.False(t, res.NeedsAuth)
}
