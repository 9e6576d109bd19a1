package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/openhelpdesk/ai-helpdesk/internal/api/http/handlers"
	"github.com/openhelpdesk/ai-helpdesk/internal/auth"
	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes. The API is served at the root and again
// under /api for the browser client.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	registerAPI(app, cfg)
	registerAPI(app.Group("/api"), cfg)
}

func registerAPI(r fiber.Router, cfg RouteConfig) {
	authenticate := cfg.AuthMiddleware.Handle
	adminOnly := auth.RequireRole(domain.RoleAdmin)

	authGroup := r.Group("/auth")
	authGroup.Post("/signup", cfg.Users.Signup)
	authGroup.Post("/login", cfg.Users.Login)
	authGroup.Post("/logout", authenticate, cfg.Users.Logout)
	authGroup.Post("/update-user", authenticate, adminOnly, cfg.Users.UpdateUser)
	authGroup.Get("/users", authenticate, adminOnly, cfg.Users.ListUsers)

	tickets := r.Group("/tickets", authenticate)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Delete("/:id", cfg.Tickets.DeleteTicket)
}
