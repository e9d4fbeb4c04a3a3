package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kdimtricp/slugsei/internal/logger"
)

func NewRouter(app *App) http.Handler {
	if app.Logger == nil {
		app.Logger = logger.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", app.SessionHandler)
		r.Get("/events", app.EventsHandler)
		r.Get("/video", app.VideoHandler)
		r.Post("/upload", app.UploadHandler)
		r.Post("/analyze", app.AnalyzeHandler)
		r.Post("/chat", app.ChatHandler)
		r.Post("/reset", app.ResetHandler)
	})

	return r
}
