package router

import (
	"net/http"

	"wex-mcp-api/internal/handler"
	"wex-mcp-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler        *handler.Handler
	ProfileHandler *handler.ProfileHandler
	FriendsHandler *handler.FriendsHandler
	AdminHandler   *handler.AdminHandler
	AuthMiddleware func(http.Handler) http.Handler
	// AdminMiddleware guards /api/v1/admin on top of AuthMiddleware.
	AdminMiddleware func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key", "X-Admin-Key",
			"X-EpicGames-ProfileRevisions", "X-Epic-Correlation-ID",
		},
		ExposedHeaders:   []string{"X-Request-ID", "X-Epic-Correlation-ID", "X-Epic-Error-Code"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
		r.Get("/api/v1/health", cfg.Handler.Health)
		r.Get("/api/v1/ready", cfg.Handler.Ready)
	}

	// AUTHENTICATED routes
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		if cfg.ProfileHandler != nil {
			r.Route("/wex/api/game/v2/profile/{accountId}", func(r chi.Router) {
				r.Post("/{command}", cfg.ProfileHandler.Execute)
				r.Get("/{command}", cfg.ProfileHandler.Execute)
			})
		}

		if cfg.FriendsHandler != nil {
			fh := cfg.FriendsHandler
			r.Route("/friends/api", func(r chi.Router) {
				r.Route("/v1/{accountId}", func(r chi.Router) {
					r.Get("/summary", fh.Summary)
					r.Get("/friends", fh.List("friends"))
					r.Delete("/friends", fh.RemoveAll)
					r.Post("/friends/{friendId}", fh.SendRequest)
					r.Delete("/friends/{friendId}", fh.RemoveFriend)
					r.Get("/incoming", fh.List("incoming"))
					r.Post("/incoming/accept", fh.AcceptBulk)
					r.Get("/outgoing", fh.List("outgoing"))
					r.Get("/suggested", fh.List("suggested"))
					r.Get("/blocklist", fh.List("blocklist"))
					r.Post("/blocklist/{friendId}", fh.Block)
					r.Delete("/blocklist/{friendId}", fh.Unblock)
					r.Get("/settings", fh.GetSettings)
					r.Put("/settings", fh.UpdateSettings)
					r.Patch("/settings", fh.UpdateSettings)
				})

				// Routes used by old clients
				r.Route("/public", func(r chi.Router) {
					r.Get("/friends/{accountId}", fh.LegacySummary)
					r.Post("/friends/{accountId}/{friendId}", fh.SendRequest)
					r.Delete("/friends/{accountId}/{friendId}", fh.RemoveFriend)
					r.Get("/blocklist/{accountId}", fh.LegacyBlocklist)
					r.Delete("/blocklist/{accountId}", fh.ClearBlocklist)
					r.Get("/settings/{accountId}", fh.GetSettings)
					r.Put("/settings/{accountId}", fh.UpdateSettings)
					r.Patch("/settings/{accountId}", fh.UpdateSettings)
				})
			})
		}

		if cfg.AdminHandler != nil {
			r.Route("/api/v1/admin", func(r chi.Router) {
				if cfg.AdminMiddleware != nil {
					r.Use(cfg.AdminMiddleware)
				}
				r.Get("/stats", cfg.AdminHandler.GetStats)
				r.Post("/registry/sweep", cfg.AdminHandler.Sweep)
				r.Post("/buffer/flush", cfg.AdminHandler.FlushBuffer)
				r.Get("/accounts", cfg.AdminHandler.SearchAccounts)
				r.Post("/accounts", cfg.AdminHandler.CreateAccount)
			})
		}
	})

	return r
}
