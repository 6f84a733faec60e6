package practice

import (
	"context"
	"fmt"
	"slices"

	"github.com/example/dxscan/internal/scanctx"
)

// Impact is how much a practice matters when it is not followed.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactSmall  Impact = "small"
)

// Severity orders impacts: small < medium < high. Unknown impacts rank 0.
func (i Impact) Severity() int {
	switch i {
	case ImpactHigh:
		return 3
	case ImpactMedium:
		return 2
	case ImpactSmall:
		return 1
	default:
		return 0
	}
}

// Result is the outcome of evaluating one practice against one component.
type Result string

const (
	Practicing    Result = "practicing"
	NotPracticing Result = "notPracticing"
	Unknown       Result = "unknown"
	NotApplicable Result = "notApplicable"
)

// Metadata is the static description of a practice.
type Metadata struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Impact     Impact `json:"impact" yaml:"impact"`
	Suggestion string `json:"suggestion" yaml:"suggestion"`
	// ReportOnlyOnce practices are evaluated against the project root only.
	ReportOnlyOnce bool   `json:"reportOnlyOnce" yaml:"reportOnlyOnce"`
	URL            string `json:"url,omitempty" yaml:"url,omitempty"`
}

// DetailType distinguishes the shapes of Detail.
type DetailType string

const (
	DetailText  DetailType = "text"
	DetailTable DetailType = "table"
)

// Detail is optional structured output attached to an evaluation.
type Detail struct {
	Type    DetailType `json:"type"`
	Text    string     `json:"text,omitempty"`
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows,omitempty"`
}

// TextDetail builds a text detail.
func TextDetail(format string, args ...any) Detail {
	return Detail{Type: DetailText, Text: fmt.Sprintf(format, args...)}
}

// TableDetail builds a table detail.
func TableDetail(headers []string, rows [][]string) Detail {
	return Detail{Type: DetailTable, Headers: headers, Rows: rows}
}

// Evaluation is what Evaluate returns.
type Evaluation struct {
	Result  Result   `json:"result"`
	Details []Detail `json:"details,omitempty"`
}

// Practice is one rule of the catalog. IsApplicable must not perform I/O:
// it only looks at what the context builder already knows about the component.
// Evaluate returns Unknown (or an error, treated the same way) when the data it
// needs is unavailable.
type Practice interface {
	Metadata() Metadata
	IsApplicable(c *scanctx.Context) bool
	Evaluate(ctx context.Context, c *scanctx.Context) (Evaluation, error)
}

// Factory builds a practice instance.
type Factory func() Practice

// Registry maps practice IDs to constructors.
type Registry map[string]Factory

// DefaultRegistry contains the built-in practices.
var DefaultRegistry = Registry{
	ReadmeID:              func() Practice { return ReadmeIsPresent{} },
	LicenseID:             func() Practice { return LicenseIsPresent{} },
	ThinPullRequestsID:    func() Practice { return NewThinPullRequests() },
	RecentCommitsID:       func() Practice { return NewRecentCommits() },
	JSPackageManagementID: func() Practice { return JSPackageManagementUsed{} },
	JSLockfileID:          func() Practice { return JSLockfileIsPresent{} },
	GoModulesID:           func() Practice { return GoModulesUsed{} },
	JSDependenciesMajorID: func() Practice { return NewJSDependenciesVersionMajorLevel() },
}

// IDs returns the registered practice IDs in sorted order.
func (r Registry) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Catalog instantiates the practices named by ids, in the given order.
// An empty list selects every registered practice in ID order.
func (r Registry) Catalog(ids []string) ([]Practice, error) {
	if len(ids) == 0 {
		ids = r.IDs()
	}

	var practices []Practice
	seen := map[string]struct{}{}
	for _, id := range ids {
		factory, ok := r[id]
		if !ok {
			return nil, fmt.Errorf("unknown practice: %s", id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		practices = append(practices, factory())
	}
	return practices, nil
}
