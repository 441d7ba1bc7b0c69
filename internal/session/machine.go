// Package session implements the participant side of a match: a pure
// state machine mirroring the coordinator's broadcast states, the
// anti-cheat monitor, and a transport client that drives both.
package session

import (
	"errors"

	"github.com/dom/code-arena/internal/domain"
)

// ErrActionInFlight is returned when a run or submit is attempted while a
// previous one has not resolved yet.
var ErrActionInFlight = errors.New("a run or submit is already in flight")

// State mirrors the coordinator's broadcast room states, plus the local
// pre-join Connecting state.
type State string

const (
	StateConnecting State = "connecting"
	StateWaiting    State = "waiting"
	StateStarting   State = "starting"
	StatePlaying    State = "playing"
	StateFinished   State = "finished"
)

// EventType tags the typed events a machine consumes. Server events and
// local action resolutions go through the same queue, which keeps ordering
// per participant.
type EventType string

const (
	EventJoined           EventType = "joined"
	EventMatchFound       EventType = "match_found"
	EventGameStart        EventType = "game_start"
	EventOpponentProgress EventType = "opponent_progress"
	EventGameOver         EventType = "game_over"
	EventStateSync        EventType = "state_sync"
	EventSubmitResolved   EventType = "submit_resolved"
	EventDisqualified     EventType = "disqualified"
)

// Event is one unit of input to the machine. Only the fields relevant to
// its type are set.
type Event struct {
	Type EventType

	// match_found / game_start / state_sync
	CountdownMs int64
	DurationMs  int64
	Problem     *domain.Problem

	// opponent_progress / submit_resolved / state_sync
	Progress int
	IsWin    bool

	// game_over / disqualified / state_sync
	WinnerID string
	Reason   domain.Reason
	State    State
	Strikes  int
}

// Machine is the client-local view of the match. It never decides
// outcomes: a local timer hitting zero or a local submit passing is only a
// display change until the coordinator confirms it. The one exception is
// the anti-cheat third strike, which finishes locally by design and tells
// the coordinator after the fact.
type Machine struct {
	state State

	userID      string
	problem     *domain.Problem
	language    domain.Language
	buffer      string
	myProgress  int
	oppProgress int

	// Display-only timer mirrors, resynced by authoritative events.
	countdownMs int64
	matchMs     int64

	busy   bool // a run or submit is in flight
	result *domain.MatchResult
}

func NewMachine(userID string) *Machine {
	return &Machine{
		state:    StateConnecting,
		userID:   userID,
		language: domain.LanguageJavaScript,
	}
}

func (m *Machine) State() State                { return m.state }
func (m *Machine) Problem() *domain.Problem    { return m.problem }
func (m *Machine) Language() domain.Language   { return m.language }
func (m *Machine) Buffer() string              { return m.buffer }
func (m *Machine) Progress() int               { return m.myProgress }
func (m *Machine) OpponentProgress() int       { return m.oppProgress }
func (m *Machine) Result() *domain.MatchResult { return m.result }
func (m *Machine) CountdownRemainingMs() int64 { return m.countdownMs }
func (m *Machine) MatchRemainingMs() int64     { return m.matchMs }
func (m *Machine) Busy() bool                  { return m.busy }

// Apply advances the machine by one event. Finished is absorbing for
// state, but terminal events from the coordinator still land: a third
// strike finishes locally before the winner is known, and the game_over
// broadcast that follows fills the record in.
func (m *Machine) Apply(ev Event) {
	if m.state == StateFinished {
		switch ev.Type {
		case EventGameOver:
			m.adoptResult(ev.WinnerID, ev.Reason)
		case EventStateSync:
			if ev.State == StateFinished {
				m.adoptResult(ev.WinnerID, ev.Reason)
			}
		}
		return
	}

	switch ev.Type {
	case EventJoined:
		if m.state == StateConnecting {
			m.state = StateWaiting
		}

	case EventMatchFound:
		if m.state == StateWaiting {
			m.state = StateStarting
			m.countdownMs = ev.CountdownMs
		}

	case EventGameStart:
		if m.state == StateStarting || m.state == StateWaiting {
			m.state = StatePlaying
			m.problem = ev.Problem
			m.matchMs = ev.DurationMs
			m.resetBuffer()
		}

	case EventOpponentProgress:
		if m.state == StatePlaying {
			m.oppProgress = ev.Progress
		}

	case EventSubmitResolved:
		m.busy = false
		if m.state == StatePlaying {
			m.myProgress = ev.Progress
		}

	case EventGameOver:
		m.state = StateFinished
		m.busy = false
		m.result = &domain.MatchResult{
			WinnerUserID: ev.WinnerID,
			Reason:       ev.Reason,
		}

	case EventDisqualified:
		// Third strike: local transition is immediate; the coordinator
		// broadcast confirms it for the opponent.
		m.state = StateFinished
		m.busy = false
		m.result = &domain.MatchResult{
			WinnerUserID: ev.WinnerID,
			Reason:       domain.ReasonDisqualification,
		}

	case EventStateSync:
		m.applySync(ev)
	}
}

// applySync silently corrects any local drift from the authoritative view.
func (m *Machine) applySync(ev Event) {
	switch ev.State {
	case StateWaiting:
		m.state = StateWaiting
	case StateStarting:
		m.state = StateStarting
		m.countdownMs = ev.CountdownMs
	case StatePlaying:
		wasPlaying := m.state == StatePlaying
		m.state = StatePlaying
		m.matchMs = ev.DurationMs
		if ev.Problem != nil {
			m.problem = ev.Problem
		}
		if !wasPlaying && m.buffer == "" {
			m.resetBuffer()
		}
		m.myProgress = ev.Progress
	case StateFinished:
		m.state = StateFinished
		m.busy = false
		m.adoptResult(ev.WinnerID, ev.Reason)
	}
}

// adoptResult records the coordinator's outcome when the local record is
// missing or lacks a winner. A third strike finishes locally before the
// winner is known; a complete record is never rewritten.
func (m *Machine) adoptResult(winnerID string, reason domain.Reason) {
	if winnerID == "" && reason == "" {
		return
	}
	if m.result != nil && m.result.WinnerUserID != "" {
		return
	}
	m.result = &domain.MatchResult{WinnerUserID: winnerID, Reason: reason}
}

// Tick reduces the display timers. Purely cosmetic: expiry here never
// finishes a match, only the coordinator's authoritative timer does.
func (m *Machine) Tick(elapsedMs int64) {
	switch m.state {
	case StateStarting:
		m.countdownMs -= elapsedMs
		if m.countdownMs < 0 {
			m.countdownMs = 0
		}
	case StatePlaying:
		m.matchMs -= elapsedMs
		if m.matchMs < 0 {
			m.matchMs = 0
		}
	}
}

// SelectLanguage switches the editing language and replaces the buffer
// with that language's starter code. Unsaved edits are discarded; that
// data loss is explicit and accepted.
func (m *Machine) SelectLanguage(lang domain.Language) error {
	if !lang.Valid() {
		return domain.ErrInvalidLanguage
	}
	m.language = lang
	m.resetBuffer()
	return nil
}

func (m *Machine) SetBuffer(source string) {
	m.buffer = source
}

// BeginAction latches the run/submit surface. While a submit or run is in
// flight both actions stay disabled, so two submits can never race on the
// same progress value.
func (m *Machine) BeginAction() error {
	if m.state != StatePlaying {
		return domain.ErrNotPlaying
	}
	if m.busy {
		return ErrActionInFlight
	}
	m.busy = true
	return nil
}

// EndAction releases the latch without a progress change. Used when a run
// resolves or a submit fails with a runtime error.
func (m *Machine) EndAction() {
	m.busy = false
}

func (m *Machine) resetBuffer() {
	if m.problem != nil {
		if starter, ok := m.problem.StarterCode[m.language]; ok {
			m.buffer = starter
			return
		}
	}
	m.buffer = ""
}
