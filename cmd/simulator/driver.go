package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dom/code-arena/internal/domain"
	"github.com/dom/code-arena/internal/session"
)

// winningPython solves the built-in fallback problem. When the server is
// pointed at the real problem API the submission will simply fail, which
// still exercises the full run/submit path.
const winningPython = "a, b = map(int, input().split())\nprint(a + b)\n"

const wrongPython = "print(42)\n"

type driver struct {
	serverURL string
	wsURL     string
	log       zerolog.Logger
}

func newDriver(serverURL string, log zerolog.Logger) *driver {
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/v1/ws"
	return &driver{serverURL: serverURL, wsURL: wsURL, log: log}
}

func (d *driver) newPlayer(name string) *session.Client {
	return session.NewClient(session.Config{
		BaseURL:  d.serverURL,
		WSURL:    d.wsURL,
		UserID:   fmt.Sprintf("sim_%s_%s", strings.ToLower(name), uuid.New().String()[:8]),
		Username: name,
		Logger:   d.log.With().Str("player", name).Logger(),
	})
}

// connectPair joins both players into roomID and waits until the match
// reaches Playing.
func (d *driver) connectPair(ctx context.Context, roomID string) (*session.Client, *session.Client, error) {
	p1 := d.newPlayer("Alice")
	p2 := d.newPlayer("Bob")

	for i, p := range []*session.Client{p1, p2} {
		if err := p.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("connecting player %d: %w", i+1, err)
		}
		if err := p.Join(roomID); err != nil {
			return nil, nil, fmt.Errorf("joining player %d: %w", i+1, err)
		}
	}

	fmt.Printf("Both players joined room %s, waiting for the countdown...\n", roomID)

	for _, p := range []*session.Client{p1, p2} {
		if err := waitForState(ctx, p, session.StatePlaying); err != nil {
			return nil, nil, err
		}
	}

	p1.View(func(m *session.Machine, _ int) {
		fmt.Printf("Match started: %q\n", m.Problem().Title)
	})
	return p1, p2, nil
}

func (d *driver) runMatch(roomID string) error {
	roomID = orRandomRoom(roomID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	p1, p2, err := d.connectPair(ctx, roomID)
	if err != nil {
		return err
	}
	defer p1.Leave()
	defer p2.Leave()

	if err := p2.SelectLanguage(domain.LanguagePython); err != nil {
		return err
	}
	p2.SetBuffer(wrongPython)
	outcome, err := p2.Submit(ctx)
	if err != nil {
		fmt.Printf("Bob's submission errored (judge offline?): %v\n", err)
	} else {
		fmt.Printf("Bob submitted: %d/%d cases, progress %d%%\n",
			outcome.Passed, outcome.Total, outcome.Progress)
	}

	if err := p1.SelectLanguage(domain.LanguagePython); err != nil {
		return err
	}
	p1.SetBuffer(winningPython)
	outcome, err = p1.Submit(ctx)
	if err != nil {
		return fmt.Errorf("alice's submission: %w", err)
	}
	fmt.Printf("Alice submitted: %d/%d cases, isWin=%v\n",
		outcome.Passed, outcome.Total, outcome.IsWin)

	return reportGameOver(ctx, p2)
}

func (d *driver) runDisqualification(roomID string) error {
	roomID = orRandomRoom(roomID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	p1, p2, err := d.connectPair(ctx, roomID)
	if err != nil {
		return err
	}
	defer p1.Leave()
	defer p2.Leave()

	for i := 1; i <= domain.MaxStrikes; i++ {
		strikes, disqualified := p2.FocusLost()
		fmt.Printf("Bob lost focus: strike %d, disqualified=%v\n", strikes, disqualified)
	}

	return reportGameOver(ctx, p1)
}

func (d *driver) runTimeout(roomID string) error {
	roomID = orRandomRoom(roomID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	p1, p2, err := d.connectPair(ctx, roomID)
	if err != nil {
		return err
	}
	defer p1.Leave()
	defer p2.Leave()

	// Partial progress on both sides, then idle until the server's match
	// timer arbitrates. With the default 30 minute match this runs long;
	// start the server with MATCH_DURATION_SECONDS=30 for a quick demo.
	if err := p1.SelectLanguage(domain.LanguagePython); err != nil {
		return err
	}
	p1.SetBuffer(wrongPython)
	if _, err := p1.Submit(ctx); err != nil {
		fmt.Printf("Alice's submission errored: %v\n", err)
	}

	fmt.Println("Both players idling, waiting for the match timer...")
	return reportGameOver(ctx, p1)
}

func orRandomRoom(roomID string) string {
	if roomID != "" {
		return roomID
	}
	return "SIM" + strings.ToUpper(uuid.New().String()[:5])
}

func waitForState(ctx context.Context, p *session.Client, want session.State) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		var got session.State
		p.View(func(m *session.Machine, _ int) { got = m.State() })
		if got == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for state %s: %w (currently %s)", want, ctx.Err(), got)
		case <-p.Done():
			return fmt.Errorf("connection closed while waiting for state %s", want)
		case <-ticker.C:
		}
	}
}

func reportGameOver(ctx context.Context, p *session.Client) error {
	if err := waitForState(ctx, p, session.StateFinished); err != nil {
		return err
	}
	p.View(func(m *session.Machine, _ int) {
		r := m.Result()
		fmt.Printf("Game over: winner=%s reason=%s\n", r.WinnerUserID, r.Reason)
	})
	return nil
}
