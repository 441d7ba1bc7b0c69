// Package judge defines the contract with the external code executor. The
// executor owns sandboxing and per-run timeouts; this package only shapes
// requests and classifies failures.
package judge

import (
	"context"

	"github.com/dom/code-arena/internal/domain"
)

// CaseResult is the outcome of running a submission against one test case.
type CaseResult struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
}

// Judge executes source code against a set of test cases. An error return
// means the executor itself was unavailable or misbehaved, not that the
// submission failed: wrong answers come back as unpassed CaseResults.
type Judge interface {
	Execute(ctx context.Context, source string, language domain.Language, cases []domain.TestCase) ([]CaseResult, error)
}

// PassedCount returns how many cases in results passed.
func PassedCount(results []CaseResult) int {
	n := 0
	for _, r := range results {
		if r.Passed {
			n++
		}
	}
	return n
}

// AllPassed reports whether every case passed. An empty result set never
// counts as a pass.
func AllPassed(results []CaseResult) bool {
	return len(results) > 0 && PassedCount(results) == len(results)
}

// Progress converts results into the 0-100 progress value the coordinator
// relays between opponents.
func Progress(results []CaseResult) int {
	if len(results) == 0 {
		return 0
	}
	return PassedCount(results) * 100 / len(results)
}
