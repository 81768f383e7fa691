package handler

import (
	"crypto/ed25519"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"intakebot/internal/mw"
	"intakebot/internal/service"
	"intakebot/internal/session"
)

type RouterDeps struct {
	PublicKey ed25519.PublicKey
	Intake    Intake
	Responder Responder
	// Deferred tracks interaction replies still being completed.
	Deferred *sync.WaitGroup

	// Operator API; mounted only when Auth is set.
	Auth       *service.AuthService
	JWTSecret  string
	Sessions   session.Store
	Reconciler Reconciler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/discord/interactions", InteractionsHandler(d.PublicKey, d.Intake, d.Responder, d.Deferred))

	if d.Auth == nil {
		return r
	}

	r.Route("/api/operator", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Authorization"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		r.Post("/login", LoginHandler(d.Auth))

		r.Group(func(r chi.Router) {
			r.Use(mw.AuthMiddleware(d.JWTSecret))

			r.Post("/reconcile", ReconcileHandler(d.Reconciler))
			r.Get("/sessions/{userID}", GetSessionHandler(d.Sessions))
			r.Delete("/sessions/{userID}", DeleteSessionHandler(d.Sessions))
		})
	})
	return r
}
