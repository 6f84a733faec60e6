package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/dxscan/internal/detector"
	"github.com/example/dxscan/internal/practice"
	"github.com/example/dxscan/internal/scanctx"
)

// FailLevel is the severity threshold at which a scan signals failure.
type FailLevel string

const (
	FailOff    FailLevel = "off"
	FailAll    FailLevel = "all"
	FailHigh   FailLevel = "high"
	FailMedium FailLevel = "medium"
	FailSmall  FailLevel = "small"
)

// FailLevels lists the accepted levels from least to most strict.
var FailLevels = []FailLevel{FailOff, FailHigh, FailMedium, FailSmall, FailAll}

// ParseFailLevel validates s.
func ParseFailLevel(s string) (FailLevel, error) {
	level := FailLevel(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(FailLevels, level) {
		return level, nil
	}
	return "", fmt.Errorf("invalid fail level %q (want one of off, all, high, medium, small)", s)
}

// minSeverity is the lowest practice severity that fails the scan.
func (l FailLevel) minSeverity() (int, bool) {
	switch l {
	case FailHigh:
		return practice.ImpactHigh.Severity(), true
	case FailMedium:
		return practice.ImpactMedium.Severity(), true
	case FailSmall:
		return practice.ImpactSmall.Severity(), true
	case FailAll:
		return 0, true
	default:
		return 0, false
	}
}

// ShouldFail reports whether any NotPracticing outcome reaches level.
// Unknown and NotApplicable outcomes never count.
func ShouldFail(outcomes []Outcome, level FailLevel) bool {
	minSeverity, enabled := level.minSeverity()
	if !enabled {
		return false
	}
	for _, o := range outcomes {
		if o.Result == practice.NotPracticing && o.Practice.Impact.Severity() >= minSeverity {
			return true
		}
	}
	return false
}

// Summary counts outcomes per result.
type Summary struct {
	Practicing    int `json:"practicing"`
	NotPracticing int `json:"notPracticing"`
	Unknown       int `json:"unknown"`
	NotApplicable int `json:"notApplicable"`
}

// ScanResult is the aggregated report of one scan.
type ScanResult struct {
	ID         string              `json:"id"`
	Target     detector.ScanTarget `json:"target"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
	FailLevel  FailLevel           `json:"failLevel"`
	Components []scanctx.Component `json:"components"`
	Outcomes   []Outcome           `json:"outcomes"`
	Summary    Summary             `json:"summary"`
	// NeedsAuth is set whenever a remote inspector was refused access,
	// including unattended runs; see PromptForAuth.
	NeedsAuth       bool     `json:"needsAuth"`
	ShouldExitOnEnd bool     `json:"shouldExitOnEnd"`
	Incomplete      bool     `json:"incomplete"`
	ServiceErrors   []string `json:"serviceErrors,omitempty"`
}

// PromptForAuth reports whether the caller should ask for a credential and
// scan again. Unattended runs never prompt.
func (r ScanResult) PromptForAuth(ci bool) bool {
	return r.NeedsAuth && !ci
}

// Failures returns the NotPracticing outcomes, most severe first.
func (r ScanResult) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Result == practice.NotPracticing {
			out = append(out, o)
		}
	}
	slices.SortStableFunc(out, func(a, b Outcome) int {
		return b.Practice.Impact.Severity() - a.Practice.Impact.Severity()
	})
	return out
}

// AggregateInput carries everything Aggregate combines.
type AggregateInput struct {
	Target        detector.ScanTarget
	StartedAt     time.Time
	Contexts      []*scanctx.Context
	Outcomes      []Outcome
	FailLevel     FailLevel
	Incomplete    bool
	AuthFailed    bool
	ServiceErrors []string
}

// Aggregate builds the final ScanResult.
func Aggregate(in AggregateInput) ScanResult {
	res := ScanResult{
		ID:              uuid.NewString(),
		Target:          in.Target,
		StartedAt:       in.StartedAt,
		FinishedAt:      time.Now().UTC(),
		FailLevel:       in.FailLevel,
		Outcomes:        in.Outcomes,
		NeedsAuth:       in.AuthFailed,
		ShouldExitOnEnd: ShouldFail(in.Outcomes, in.FailLevel),
		Incomplete:      in.Incomplete,
		ServiceErrors:   in.ServiceErrors,
	}
	if res.Outcomes == nil {
		res.Outcomes = []Outcome{}
	}
	for _, c := range in.Contexts {
		res.Components = append(res.Components, c.Component)
	}
	slices.SortStableFunc(res.Components, func(a, b scanctx.Component) int {
		return strings.Compare(a.Path, b.Path)
	})
	for _, o := range res.Outcomes {
		switch o.Result {
		case practice.Practicing:
			res.Summary.Practicing++
		case practice.NotPracticing:
			res.Summary.NotPracticing++
		case practice.Unknown:
			res.Summary.Unknown++
		case practice.NotApplicable:
			res.Summary.NotApplicable++
		}
	}
	return res
}
