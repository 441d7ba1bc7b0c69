package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/dom/code-arena/internal/api/handlers"
	"github.com/dom/code-arena/internal/api/middleware"
	"github.com/dom/code-arena/internal/arena"
	"github.com/dom/code-arena/internal/config"
	"github.com/dom/code-arena/internal/judge"
)

func NewRouter(hub *arena.Hub, j judge.Judge, cfg *config.Config, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Identity(cfg.JWTSecret))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	gameHandler := handlers.NewGameHandler(hub, j, log)
	wsHandler := handlers.NewWebSocketHandler(hub, log)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/game", func(r chi.Router) {
			r.Post("/run", gameHandler.Run)
			r.Post("/submit", gameHandler.Submit)
			r.Get("/{roomId}/result", gameHandler.Result)
		})

		r.Get("/ws", wsHandler.Handle)
	})

	return r
}
