package session

// MonitorOptions tunes the anti-cheat monitor. The zero value is the
// standard ruleset.
type MonitorOptions struct {
	// ResetStrikesOnRun clears accumulated focus strikes whenever the
	// participant runs their code against the samples. Off by default:
	// strikes accumulate for the whole match.
	ResetStrikesOnRun bool
}

// Verdict is the monitor's response to a focus loss.
type Verdict int

const (
	// VerdictWarn means the strike was recorded and the participant
	// should be warned.
	VerdictWarn Verdict = iota
	// VerdictDisqualify means the strike limit was reached and the match
	// is over for this participant.
	VerdictDisqualify
)

// Monitor tracks focus-loss strikes for one participant in one match. It
// is the local half of anti-cheat: it counts and decides, and the caller
// reports the disqualification to the coordinator. Paste events are hard
// blocked at the input layer and deliberately never reach the strike
// count, so blocking a paste can never end a match.
//
// Monitor is not safe for concurrent use. Drive it from the same
// goroutine that owns the session machine.
type Monitor struct {
	maxStrikes int
	strikes    int
	opts       MonitorOptions
}

func NewMonitor(maxStrikes int, opts MonitorOptions) *Monitor {
	return &Monitor{maxStrikes: maxStrikes, opts: opts}
}

func (a *Monitor) Strikes() int { return a.strikes }

// FocusLost records one strike and returns the verdict. Once the limit is
// reached further calls keep returning VerdictDisqualify without counting
// past it, so a burst of blur events produces exactly one disqualification
// decision worth acting on.
func (a *Monitor) FocusLost() (strikes int, verdict Verdict) {
	if a.strikes >= a.maxStrikes {
		return a.strikes, VerdictDisqualify
	}
	a.strikes++
	if a.strikes >= a.maxStrikes {
		return a.strikes, VerdictDisqualify
	}
	return a.strikes, VerdictWarn
}

// PasteBlocked is called when the input layer rejects a paste. It exists
// so callers surface a warning to the participant; the strike count is
// untouched.
func (a *Monitor) PasteBlocked() (message string) {
	return "Pasting is not allowed during a match"
}

// NoteRun is called on every sample run. Under the standard ruleset it is
// a no-op.
func (a *Monitor) NoteRun() {
	if a.opts.ResetStrikesOnRun && a.strikes < a.maxStrikes {
		a.strikes = 0
	}
}
