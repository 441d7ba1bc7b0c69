// Package testutil wires a full in-process arena for integration tests:
// an httptest server over the real router, a fake clock, a scriptable
// judge and an in-memory result store.
package testutil

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dom/code-arena/internal/api"
	"github.com/dom/code-arena/internal/arena"
	"github.com/dom/code-arena/internal/config"
	"github.com/dom/code-arena/internal/problems"
	"github.com/dom/code-arena/internal/repository"
	"github.com/dom/code-arena/internal/repository/memory"
)

// TestConfig returns fast timings suitable for tests. The fake clock
// makes the absolute values irrelevant; they only need to be distinct.
func TestConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Environment:       "test",
		JWTSecret:         "test-jwt-secret-key-for-testing-only",
		CountdownDuration: 5 * time.Second,
		MatchDuration:     30 * time.Minute,
		ReconnectGrace:    15 * time.Second,
		RetentionWindow:   60 * time.Second,
		ProblemFetchTries: 1,
	}
}

// TestServer holds all components for integration testing.
type TestServer struct {
	Server *httptest.Server
	Hub    *arena.Hub
	Clock  *clockwork.FakeClock
	Judge  *FakeJudge
	Repos  *repository.Repositories
	Config *config.Config
}

// Option mutates the config before the server is built.
type Option func(*config.Config)

// NewTestServer builds a complete in-process arena. The problem provider
// is static, so Starting never blocks on the fetch: advancing the clock
// past the countdown is all a test needs to reach Playing.
func NewTestServer(t *testing.T, opts ...Option) *TestServer {
	t.Helper()

	cfg := TestConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	clock := clockwork.NewFakeClock()
	repos := memory.NewRepositories()
	fakeJudge := NewFakeJudge()
	log := zerolog.Nop()

	provider := &problems.StaticProvider{Problem: problems.FallbackProblem()}
	hub := arena.NewHub(clock, provider, repos.MatchRecord, arena.Settings{
		Countdown:      cfg.CountdownDuration,
		MatchDuration:  cfg.MatchDuration,
		ReconnectGrace: cfg.ReconnectGrace,
		Retention:      cfg.RetentionWindow,
		FetchAttempts:  cfg.ProblemFetchTries,
	}, log)

	router := api.NewRouter(hub, fakeJudge, cfg, log)
	server := httptest.NewServer(router)

	ts := &TestServer{
		Server: server,
		Hub:    hub,
		Clock:  clock,
		Judge:  fakeJudge,
		Repos:  repos,
		Config: cfg,
	}

	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})

	return ts
}

// BaseURL returns the test server's base URL.
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// APIURL returns the full API URL for a given path.
func (ts *TestServer) APIURL(path string) string {
	return fmt.Sprintf("%s/api/v1%s", ts.Server.URL, path)
}

// WebSocketURL returns the WebSocket URL, with a token when given one.
func (ts *TestServer) WebSocketURL(token string) string {
	wsURL := "ws" + ts.Server.URL[4:]
	if token == "" {
		return fmt.Sprintf("%s/api/v1/ws", wsURL)
	}
	return fmt.Sprintf("%s/api/v1/ws?token=%s", wsURL, token)
}

// AdvanceClock waits for n timers to be armed, then advances the fake
// clock by d. Waiting first removes the race between the room goroutine
// arming a timer and the test firing it.
func (ts *TestServer) AdvanceClock(n int, d time.Duration) {
	ts.Clock.BlockUntil(n)
	ts.Clock.Advance(d)
}
