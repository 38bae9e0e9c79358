/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/users/*    Registration, login, current user
  /api/issues/*   Circulation workflow (auth required)
  /api/books/*    Catalog (auth required, mutations staff-only)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Auth and role middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.With(h.RequireAuth).Get("/get-current-user", h.GetCurrentUser)
		})

		// Issue routes. All require a valid token; record mutations
		// beyond issue/return are staff-only.
		r.Route("/issues", func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Post("/issue-new-book", h.IssueBook)
			r.Post("/get-issues", h.GetIssues)
			r.Post("/return-book", h.ReturnBook)
			r.With(h.RequireStaff).Post("/delete-issue", h.DeleteIssue)
			r.With(h.RequireStaff).Post("/edit-issue", h.EditIssue)
		})

		// Book routes
		r.Route("/books", func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Get("/", h.ListBooks)
			r.Get("/{id}", h.GetBook)
			r.With(h.RequireStaff).Post("/", h.CreateBook)
			r.With(h.RequireStaff).Put("/{id}", h.UpdateBook)
			r.With(h.RequireStaff).Delete("/{id}", h.DeleteBook)
		})
	})

	return r
}
