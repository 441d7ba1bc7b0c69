package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dom/code-arena/internal/domain"
)

func testProblem() *domain.Problem {
	return &domain.Problem{
		ID:    "P1",
		Title: "Echo",
		StarterCode: map[domain.Language]string{
			domain.LanguageJavaScript: "// js starter",
			domain.LanguagePython:     "# py starter",
		},
	}
}

func TestMachine_HappyPathTransitions(t *testing.T) {
	m := NewMachine("u1")
	assert.Equal(t, StateConnecting, m.State())

	m.Apply(Event{Type: EventJoined})
	assert.Equal(t, StateWaiting, m.State())

	m.Apply(Event{Type: EventMatchFound, CountdownMs: 5000})
	assert.Equal(t, StateStarting, m.State())
	assert.Equal(t, int64(5000), m.CountdownRemainingMs())

	m.Apply(Event{Type: EventGameStart, Problem: testProblem(), DurationMs: 60000})
	assert.Equal(t, StatePlaying, m.State())
	assert.Equal(t, int64(60000), m.MatchRemainingMs())
	assert.Equal(t, "// js starter", m.Buffer())

	m.Apply(Event{Type: EventGameOver, WinnerID: "u2", Reason: domain.ReasonSubmission})
	assert.Equal(t, StateFinished, m.State())
	require.NotNil(t, m.Result())
	assert.Equal(t, "u2", m.Result().WinnerUserID)
}

func TestMachine_FinishedIsAbsorbing(t *testing.T) {
	m := NewMachine("u1")
	m.Apply(Event{Type: EventJoined})
	m.Apply(Event{Type: EventMatchFound})
	m.Apply(Event{Type: EventGameStart, Problem: testProblem()})
	m.Apply(Event{Type: EventGameOver, WinnerID: "u1", Reason: domain.ReasonSubmission})

	// Redundant and contradictory events after the terminal state must not
	// change the recorded outcome.
	m.Apply(Event{Type: EventGameOver, WinnerID: "u2", Reason: domain.ReasonTimeout})
	m.Apply(Event{Type: EventOpponentProgress, Progress: 90})
	m.Apply(Event{Type: EventGameStart, Problem: testProblem()})

	assert.Equal(t, StateFinished, m.State())
	assert.Equal(t, "u1", m.Result().WinnerUserID)
	assert.Equal(t, domain.ReasonSubmission, m.Result().Reason)
	assert.Equal(t, 0, m.OpponentProgress())
}

func TestMachine_OpponentProgressOnlyWhilePlaying(t *testing.T) {
	m := NewMachine("u1")
	m.Apply(Event{Type: EventJoined})
	m.Apply(Event{Type: EventOpponentProgress, Progress: 50})
	assert.Equal(t, 0, m.OpponentProgress())

	m.Apply(Event{Type: EventMatchFound})
	m.Apply(Event{Type: EventGameStart, Problem: testProblem()})
	m.Apply(Event{Type: EventOpponentProgress, Progress: 50})
	assert.Equal(t, 50, m.OpponentProgress())
}

func TestMachine_ActionLatch(t *testing.T) {
	m := NewMachine("u1")

	// Not playing yet: no runs or submits.
	assert.ErrorIs(t, m.BeginAction(), domain.ErrNotPlaying)

	m.Apply(Event{Type: EventJoined})
	m.Apply(Event{Type: EventMatchFound})
	m.Apply(Event{Type: EventGameStart, Problem: testProblem()})

	require.NoError(t, m.BeginAction())
	assert.ErrorIs(t, m.BeginAction(), ErrActionInFlight)

	m.Apply(Event{Type: EventSubmitResolved, Progress: 75})
	assert.Equal(t, 75, m.Progress())
	assert.NoError(t, m.BeginAction())
}

func TestMachine_EndActionReleasesWithoutProgress(t *testing.T) {
	m := NewMachine("u1")
	m.Apply(Event{Type: EventJoined})
	m.Apply(Event{Type: EventMatchFound})
	m.Apply(Event{Type: EventGameStart, Problem: testProblem()})

	require.NoError(t, m.BeginAction())
	m.EndAction()
	assert.Equal(t, 0, m.Progress())
	assert.NoError(t, m.BeginAction())
}

func TestMachine_SelectLanguageReplacesBuffer(t *testing.T) {
	m := NewMachine("u1")
	m.Apply(Event{Type: EventJoined})
	m.Apply(Event{Type: EventMatchFound})
	m.Apply(Event{Type: EventGameStart, Problem: testProblem()})

	m.SetBuffer("my edits")
	require.NoError(t, m.SelectLanguage(domain.LanguagePython))
	assert.Equal(t, "# py starter", m.Buffer())

	// No starter for the language: buffer goes empty rather than keeping
	// the other language's code.
	require.NoError(t, m.SelectLanguage(domain.LanguageCpp))
	assert.Equal(t, "", m.Buffer())

	assert.ErrorIs(t, m.SelectLanguage(domain.Language("cobol")), domain.ErrInvalidLanguage)
}

func TestMachine_TickIsDisplayOnly(t *testing.T) {
	m := NewMachine("u1")
	m.Apply(Event{Type: EventJoined})
	m.Apply(Event{Type: EventMatchFound, CountdownMs: 1000})

	m.Tick(600)
	assert.Equal(t, int64(400), m.CountdownRemainingMs())

	// Hitting zero locally never transitions: only the server does that.
	m.Tick(600)
	assert.Equal(t, int64(0), m.CountdownRemainingMs())
	assert.Equal(t, StateStarting, m.State())

	m.Apply(Event{Type: EventGameStart, Problem: testProblem(), DurationMs: 1000})
	m.Tick(5000)
	assert.Equal(t, int64(0), m.MatchRemainingMs())
	assert.Equal(t, StatePlaying, m.State())
}

func TestMachine_StateSyncCorrectsDrift(t *testing.T) {
	m := NewMachine("u1")
	m.Apply(Event{Type: EventJoined})

	// A reconnect lands straight in Playing with catch-up data.
	m.Apply(Event{
		Type:       EventStateSync,
		State:      StatePlaying,
		DurationMs: 120000,
		Problem:    testProblem(),
		Progress:   60,
	})

	assert.Equal(t, StatePlaying, m.State())
	assert.Equal(t, 60, m.Progress())
	assert.Equal(t, int64(120000), m.MatchRemainingMs())
	require.NotNil(t, m.Problem())
	assert.Equal(t, "// js starter", m.Buffer())
}

func TestMachine_StateSyncFinishedCarriesResult(t *testing.T) {
	m := NewMachine("u1")
	m.Apply(Event{Type: EventJoined})

	m.Apply(Event{
		Type:     EventStateSync,
		State:    StateFinished,
		WinnerID: "u2",
		Reason:   domain.ReasonDisqualification,
	})

	assert.Equal(t, StateFinished, m.State())
	require.NotNil(t, m.Result())
	assert.Equal(t, domain.ReasonDisqualification, m.Result().Reason)
}

func TestMachine_LocalDisqualificationFinishesImmediately(t *testing.T) {
	m := NewMachine("u1")
	m.Apply(Event{Type: EventJoined})
	m.Apply(Event{Type: EventMatchFound})
	m.Apply(Event{Type: EventGameStart, Problem: testProblem()})

	m.Apply(Event{Type: EventDisqualified})
	assert.Equal(t, StateFinished, m.State())
	require.NotNil(t, m.Result())
	assert.Equal(t, domain.ReasonDisqualification, m.Result().Reason)
}

func TestMachine_GameOverFillsInWinnerAfterLocalDisqualification(t *testing.T) {
	m := NewMachine("u1")
	m.Apply(Event{Type: EventJoined})
	m.Apply(Event{Type: EventMatchFound})
	m.Apply(Event{Type: EventGameStart, Problem: testProblem()})

	// The third strike finishes locally without knowing the winner.
	m.Apply(Event{Type: EventDisqualified})
	require.NotNil(t, m.Result())
	assert.Equal(t, "", m.Result().WinnerUserID)

	// The coordinator's broadcast arrives afterwards and completes the
	// record.
	m.Apply(Event{Type: EventGameOver, WinnerID: "u2", Reason: domain.ReasonDisqualification})
	assert.Equal(t, StateFinished, m.State())
	assert.Equal(t, "u2", m.Result().WinnerUserID)
	assert.Equal(t, domain.ReasonDisqualification, m.Result().Reason)
}

func TestMachine_StateSyncFillsInWinnerAfterLocalDisqualification(t *testing.T) {
	m := NewMachine("u1")
	m.Apply(Event{Type: EventJoined})
	m.Apply(Event{Type: EventMatchFound})
	m.Apply(Event{Type: EventGameStart, Problem: testProblem()})
	m.Apply(Event{Type: EventDisqualified})

	m.Apply(Event{
		Type:     EventStateSync,
		State:    StateFinished,
		WinnerID: "u2",
		Reason:   domain.ReasonDisqualification,
	})

	assert.Equal(t, "u2", m.Result().WinnerUserID)
}
