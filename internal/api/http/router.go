package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/ShapArt/outlook-exporter/internal/api/http/handlers"
	"github.com/ShapArt/outlook-exporter/internal/auth"
	"github.com/ShapArt/outlook-exporter/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Passes         *handlers.PassesHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle)

	tickets := api.Group("/tickets", auth.RequireRole(auth.RoleViewer))
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/events", cfg.Tickets.ListEvents)

	passes := api.Group("/passes", auth.RequireRole(auth.RoleOperator))
	passes.Post("/ingest", cfg.Passes.Ingest)
	passes.Post("/recalc", cfg.Passes.Recalc)
	passes.Post("/reminders", cfg.Passes.Reminders)
	passes.Post("/responses", cfg.Passes.Responses)
	passes.Post("/reconcile", cfg.Passes.Reconcile)
	passes.Post("/export", cfg.Passes.Export)
	passes.Post("/cycle", cfg.Passes.Cycle)
}
