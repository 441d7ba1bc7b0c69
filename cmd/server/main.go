package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dom/code-arena/internal/api"
	"github.com/dom/code-arena/internal/arena"
	"github.com/dom/code-arena/internal/config"
	"github.com/dom/code-arena/internal/judge"
	"github.com/dom/code-arena/internal/problems"
	"github.com/dom/code-arena/internal/repository"
	"github.com/dom/code-arena/internal/repository/memory"
	"github.com/dom/code-arena/internal/repository/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg)

	// Match records are optional persistence: without a database, results
	// live only as long as the room retention window.
	var repos *repository.Repositories
	if cfg.DatabaseURL != "" {
		db, err := postgres.NewConnection(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		repos = postgres.NewRepositories(db)
		log.Info().Msg("using postgres match record store")
	} else {
		repos = memory.NewRepositories()
		log.Info().Msg("no DATABASE_URL set, using in-memory match record store")
	}

	provider := problems.NewAizuProvider(cfg.ProblemAPIBaseURL, cfg.UpstreamTimeout)
	executor := judge.NewHTTPClient(cfg.JudgeURL, cfg.UpstreamTimeout)

	hub := arena.NewHub(clockwork.NewRealClock(), provider, repos.MatchRecord, arena.Settings{
		Countdown:      cfg.CountdownDuration,
		MatchDuration:  cfg.MatchDuration,
		ReconnectGrace: cfg.ReconnectGrace,
		Retention:      cfg.RetentionWindow,
		FetchAttempts:  cfg.ProblemFetchTries,
	}, log)

	router := api.NewRouter(hub, executor, cfg, log)

	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	hub.Stop()

	log.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.Environment == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
