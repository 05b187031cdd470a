package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// Routes bundles the handlers and optional middleware mounted by Register
type Routes struct {
	Jobs      *JobHandler
	Assets    *AssetHandler
	Workflows *WorkflowHandler
	Config    *ConfigHandler
	Health    *HealthHandler
	Uploads   *UploadHandler

	// Auth guards everything under /api except health; nil leaves the API open
	Auth fiber.Handler
	// JobsLimit rate limits job submission; nil disables it
	JobsLimit fiber.Handler
	// Observer serves the event websocket; nil skips the route
	Observer func(*websocket.Conn)
}

// Register mounts all HTTP and websocket routes on app
func Register(app *fiber.App, r Routes) {
	app.Get("/health", r.Health.Check)
	app.Get("/api/health", r.Health.Check)

	// Stored outputs
	app.Get("/assets/:filename", r.Assets.File)

	var guards []fiber.Handler
	if r.Auth != nil {
		guards = append(guards, r.Auth)
	}
	api := app.Group("/api", guards...)

	if r.Observer != nil {
		api.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		api.Get("/ws", websocket.New(r.Observer))
	}

	// Job routes
	jobs := api.Group("/jobs")
	if r.JobsLimit != nil {
		jobs.Post("/", r.JobsLimit, r.Jobs.Create)
	} else {
		jobs.Post("/", r.Jobs.Create)
	}
	jobs.Get("/", r.Jobs.List)
	jobs.Get("/:jobId", r.Jobs.Get)

	// Asset routes
	assets := api.Group("/assets")
	assets.Get("/", r.Assets.List)
	assets.Get("/:assetId", r.Assets.Get)
	assets.Post("/:assetId/favorite", r.Assets.ToggleFavorite)

	// Workflow routes
	workflows := api.Group("/workflows")
	workflows.Get("/", r.Workflows.List)
	workflows.Post("/reload", r.Workflows.Reload)
	workflows.Get("/:workflowId", r.Workflows.Get)

	// Input images for image params
	api.Post("/uploads/image", r.Uploads.Image)

	// Engine configuration
	api.Get("/config", r.Config.Get)
	api.Post("/config/refresh", r.Config.Refresh)
}
