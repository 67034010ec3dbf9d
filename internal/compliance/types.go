package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/mcpcheck/internal/faults"
)

// Status is the outcome of one test case.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// Category groups test cases. Categories run in the order of Categories.
type Category string

const (
	CategoryInitialization Category = "initialization"
	CategoryTools          Category = "tools"
	CategoryResources      Category = "resources"
	CategoryPrompts        Category = "prompts"
	CategoryErrorHandling  Category = "error_handling"
	CategoryJSONRPC        Category = "jsonrpc"
)

// Categories lists every category in execution order.
var Categories = []Category{
	CategoryInitialization,
	CategoryTools,
	CategoryResources,
	CategoryPrompts,
	CategoryErrorHandling,
	CategoryJSONRPC,
}

// ParseCategories resolves category names, keeping execution order
// regardless of the order given. Empty input selects every category.
func ParseCategories(names []string) ([]Category, error) {
	if len(names) == 0 {
		return Categories, nil
	}
	want := make(map[Category]bool, len(names))
	for _, n := range names {
		c := Category(strings.TrimSpace(strings.ToLower(n)))
		if !c.Valid() {
			return nil, fmt.Errorf("unknown category %q (valid: %s)", n, categoryList())
		}
		want[c] = true
	}
	var out []Category
	for _, c := range Categories {
		if want[c] {
			out = append(out, c)
		}
	}
	return out, nil
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func categoryList() string {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// State is the suite lifecycle position.
type State string

const (
	StateNotStarted     State = "NOT_STARTED"
	StateServerStarting State = "SERVER_STARTING"
	StateRunning        State = "RUNNING"
	StateStopping       State = "STOPPING"
	StateDone           State = "DONE"
)

// TestCase is one recorded check.
type TestCase struct {
	Name       string      `json:"name"`
	Category   Category    `json:"category"`
	Status     Status      `json:"status"`
	DurationMs int64       `json:"durationMs"`
	Error      string      `json:"error,omitempty"`
	Kind       faults.Kind `json:"kind,omitempty"`

	// Detail carries the full error chain or panic stack, only in debug mode.
	Detail string `json:"detail,omitempty"`
}

// SuiteResult is the report of one suite run.
//
// Invariant: Passed+Failed+Skipped == len(Tests).
type SuiteResult struct {
	Name       string     `json:"name"`
	RunID      string     `json:"runId"`
	Server     string     `json:"server"`
	Tests      []TestCase `json:"tests"`
	Passed     int        `json:"passed"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	DurationMs int64      `json:"durationMs"`
	StartedAt  time.Time  `json:"startedAt"`
}

// SuiteName is the name every compliance SuiteResult carries.
const SuiteName = "MCP Protocol Compliance"

func (r *SuiteResult) add(tc TestCase) {
	r.Tests = append(r.Tests, tc)
	switch tc.Status {
	case StatusPassed:
		r.Passed++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	}
}

// OK reports whether no case failed.
func (r *SuiteResult) OK() bool {
	return r.Failed == 0
}

// Case returns the named case, if recorded.
func (r *SuiteResult) Case(category Category, name string) (TestCase, bool) {
	for _, tc := range r.Tests {
		if tc.Category == category && tc.Name == name {
			return tc, true
		}
	}
	return TestCase{}, false
}

// ByCategory groups cases by category, in execution order.
func (r *SuiteResult) ByCategory() map[Category][]TestCase {
	out := make(map[Category][]TestCase)
	for _, tc := range r.Tests {
		out[tc.Category] = append(out[tc.Category], tc)
	}
	return out
}
