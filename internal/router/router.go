package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/linguahub/lingua-api/internal/config"
	"github.com/linguahub/lingua-api/internal/handler"
	"github.com/linguahub/lingua-api/internal/middleware"
	"github.com/linguahub/lingua-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AuthHandler   *handler.AuthHandler
	ChatHandler   *handler.ChatHandler
	GroupHandler  *handler.GroupHandler
	UserHandler   *handler.UserHandler
	UploadHandler *handler.UploadHandler
	JWTMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.AuthHandler != nil {
		auth := api.Group("/auth")
		auth.Post("/login", middleware.RateLimit("auth_login", 10, time.Minute), deps.AuthHandler.Login)
		auth.Post("/refresh", middleware.RateLimit("auth_refresh", 30, time.Minute), deps.AuthHandler.Refresh)
		auth.Get("/me", jwtMiddleware, deps.AuthHandler.Profile)
	}

	if deps.ChatHandler != nil {
		chat := api.Group("/chat", jwtMiddleware)
		deps.ChatHandler.Register(chat)
	}

	if deps.GroupHandler != nil {
		groups := api.Group("/admin", jwtMiddleware, middleware.RequireRole("ADMIN", "TEACHER"))
		deps.GroupHandler.Register(groups)
	}

	if deps.UserHandler != nil {
		users := api.Group("/admin", jwtMiddleware, middleware.RequireRole("ADMIN"))
		deps.UserHandler.Register(users)
	}

	if deps.UploadHandler != nil {
		uploads := api.Group("/chat", jwtMiddleware, middleware.RateLimit("chat_uploads", 20, time.Minute))
		deps.UploadHandler.Register(uploads)
	}
}
