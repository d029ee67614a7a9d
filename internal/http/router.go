package http

import (
	"net/http"

	"logbook/internal/auth"
	"logbook/internal/config"
	"logbook/internal/event"
	"logbook/internal/http/handler"
	mw "logbook/internal/http/middleware"
	"logbook/internal/storage"
	"logbook/internal/tag"
	"logbook/internal/user"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg config.Config, jwtSvc *auth.JWT, users *user.Service, tags *tag.Service, events *event.Service, files storage.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ah := &handler.AuthHandler{Users: users, JWT: jwtSvc}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	uh := &handler.UserHandler{Users: users}
	th := &handler.TagHandler{Tags: tags}
	eh := &handler.EventHandler{Events: events, Files: files}
	sh := &handler.SearchHandler{Events: events}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Get("/me", uh.Me)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", uh.List)
			r.Get("/{id}", uh.Get)
			r.Put("/{id}", uh.Update)
			r.Delete("/{id}", uh.Delete)
		})

		r.Route("/tags", func(r chi.Router) {
			r.Post("/", th.Create)
			r.Post("/batch", th.Batch)
			r.Get("/", th.List)
			r.Get("/popular", th.Popular)
			r.Get("/{id}", th.Get)
			r.Put("/{id}", th.Update)
			r.Delete("/{id}", th.Delete)
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", eh.Create)
			r.Get("/", eh.List)
			r.Get("/stats", eh.Stats)
			r.Get("/{id}", eh.Get)
			r.Put("/{id}", eh.Update)
			r.Delete("/{id}", eh.Delete)
			r.Get("/{id}/history", eh.History)
			r.Post("/{id}/attachments", eh.UploadAttachment)
			r.Get("/{id}/attachments/{attachmentID}", eh.DownloadAttachment)
			r.Delete("/{id}/attachments/{attachmentID}", eh.DeleteAttachment)
		})

		r.Get("/search", sh.Search)
	})

	return r
}
