package problems

import (
	"context"

	"github.com/dom/code-arena/internal/domain"
)

// StaticProvider always returns the same snapshot. It backs FallbackProblem
// and the test fixtures.
type StaticProvider struct {
	Problem *domain.Problem
}

func (p *StaticProvider) Fetch(_ context.Context) (*domain.Problem, error) {
	return p.Problem, nil
}

// FallbackProblem is served when the upstream provider stays unavailable
// past the retry budget. It is deliberately trivial: the match must start
// on time even when the problem is not glamorous.
func FallbackProblem() *domain.Problem {
	cases := []domain.TestCase{
		{Input: "1 2", Expected: "3"},
		{Input: "10 5", Expected: "15"},
		{Input: "0 0", Expected: "0"},
		{Input: "-4 9", Expected: "5"},
	}

	return &domain.Problem{
		ID:    "FALLBACK_SUM",
		Title: "Sum of Two Integers",
		Description: "<p>Read two integers <code>a</code> and <code>b</code> " +
			"separated by a single space and print their sum.</p>" +
			"<h2>Input</h2><p>One line containing <code>a</code> and <code>b</code> " +
			"(&minus;10<sup>9</sup> &le; a, b &le; 10<sup>9</sup>).</p>" +
			"<h2>Output</h2><p>Print <code>a + b</code> on one line.</p>",
		Samples:     cases[:SampleVisibleCount],
		Hidden:      cases,
		StarterCode: starterCode("Sum of Two Integers"),
	}
}
