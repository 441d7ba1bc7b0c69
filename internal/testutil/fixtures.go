package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dom/code-arena/internal/domain"
	"github.com/dom/code-arena/internal/judge"
)

// FakeJudge is a scriptable in-process judge. The default script passes
// every case; tests override Script per scenario.
type FakeJudge struct {
	mu     sync.Mutex
	script func(source string, language domain.Language, cases []domain.TestCase) ([]judge.CaseResult, error)
	calls  int
}

func NewFakeJudge() *FakeJudge {
	j := &FakeJudge{}
	j.PassAll()
	return j
}

func (j *FakeJudge) Execute(ctx context.Context, source string, language domain.Language, cases []domain.TestCase) ([]judge.CaseResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	return j.script(source, language, cases)
}

// Calls returns how many executions the judge has served.
func (j *FakeJudge) Calls() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

// PassAll scripts a full pass on every case.
func (j *FakeJudge) PassAll() {
	j.SetScript(func(_ string, _ domain.Language, cases []domain.TestCase) ([]judge.CaseResult, error) {
		return passResults(cases, len(cases)), nil
	})
}

// PassN scripts exactly n passing cases out of however many arrive.
func (j *FakeJudge) PassN(n int) {
	j.SetScript(func(_ string, _ domain.Language, cases []domain.TestCase) ([]judge.CaseResult, error) {
		return passResults(cases, n), nil
	})
}

// Fail scripts an execution error, as if the judge were unreachable.
func (j *FakeJudge) Fail(err error) {
	j.SetScript(func(_ string, _ domain.Language, _ []domain.TestCase) ([]judge.CaseResult, error) {
		return nil, err
	})
}

// SetScript installs an arbitrary script.
func (j *FakeJudge) SetScript(script func(source string, language domain.Language, cases []domain.TestCase) ([]judge.CaseResult, error)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.script = script
}

func passResults(cases []domain.TestCase, passing int) []judge.CaseResult {
	results := make([]judge.CaseResult, len(cases))
	for i, tc := range cases {
		passed := i < passing
		actual := tc.Expected
		if !passed {
			actual = "wrong answer"
		}
		results[i] = judge.CaseResult{
			Input:    tc.Input,
			Expected: tc.Expected,
			Actual:   actual,
			Passed:   passed,
		}
	}
	return results
}

// SignToken mints a token the Identity middleware accepts, using the
// test server's configured secret.
func (ts *TestServer) SignToken(t *testing.T, userID, displayName string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":  userID,
		"name": displayName,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(ts.Config.JWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// UniqueRoomID returns a room identifier unlikely to collide across
// parallel tests.
func UniqueRoomID() string {
	return fmt.Sprintf("room_%s", uuid.New().String()[:8])
}

// TestProblem returns a small problem snapshot for unit tests that do
// not go through a provider.
func TestProblem() *domain.Problem {
	return &domain.Problem{
		ID:          "TEST_1",
		Title:       "Echo the Input",
		Description: "<p>Print the input line unchanged.</p>",
		Samples: []domain.TestCase{
			{Input: "hello", Expected: "hello"},
		},
		Hidden: []domain.TestCase{
			{Input: "hello", Expected: "hello"},
			{Input: "world", Expected: "world"},
			{Input: "42", Expected: "42"},
		},
		StarterCode: map[domain.Language]string{
			domain.LanguageJavaScript: "// Write your solution here\n",
			domain.LanguagePython:     "# Write your solution here\n",
		},
	}
}
