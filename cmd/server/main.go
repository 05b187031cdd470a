package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/auth"
	"github.com/gencockpit/api/internal/client"
	"github.com/gencockpit/api/internal/config"
	"github.com/gencockpit/api/internal/handler"
	"github.com/gencockpit/api/internal/logger"
	"github.com/gencockpit/api/internal/middleware"
	"github.com/gencockpit/api/internal/service"
	"github.com/gencockpit/api/internal/store"
	"github.com/gencockpit/api/internal/worker"
	"github.com/gencockpit/api/internal/workflow"
	ws "github.com/gencockpit/api/internal/websocket"
	"github.com/gencockpit/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)

	if cfg.Engine.ClientID == "" {
		cfg.Engine.ClientID = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis client (optional - required only by the redis store and rate limiting)
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not available")
		}
	}

	// Initialize store
	st, err := store.Open(ctx, cfg.Store, redisClient)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}
	defer st.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(cfg.WebSocket.WriteTimeout, logger.Component(log, "hub"))

	// Initialize external clients
	comfy := client.NewComfyClient(&cfg.Engine, logger.Component(log, "engine"))

	storage, err := client.NewStorageClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to initialize asset storage")
	}

	registry, err := workflow.NewRegistry(cfg.Workflows.Dir, logger.Component(log, "workflows"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize workflow registry")
	}

	// Engine choices are best-effort at startup; the engine may come up later
	options := service.NewEngineOptions(comfy, cfg.Engine.Checkpoint, logger.Component(log, "options"))
	refreshCtx, refreshCancel := context.WithTimeout(ctx, 10*time.Second)
	options.Refresh(refreshCtx)
	refreshCancel()

	// Initialize services
	harvester := service.NewHarvester(st, comfy, storage, cfg.Engine.DownloadTimeout, logger.Component(log, "harvester"))
	uploadService := service.NewUploadService(comfy, logger.Component(log, "uploads"))
	jobService := service.NewJobService(st, hub, comfy, registry, options, &cfg.Engine, cfg.Workflows.Default, logger.Component(log, "jobs"))

	// Initialize the engine event consumer
	consumer := worker.NewEventConsumer(comfy, st, hub, harvester, cfg.Engine.ClientID, cfg.Engine.ReconnectBackoff, logger.Component(log, "consumer"))
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(ctx)
	}()

	observers := ws.NewHandler(hub, st, cfg.WebSocket.SnapshotLimit, cfg.WebSocket.PingInterval, logger.Component(log, "observers"))

	// Initialize middleware (auth is optional for a local cockpit)
	var authHandler fiber.Handler
	if cfg.Auth.Enabled() {
		var verifiers []auth.TokenVerifier
		if cfg.Auth.OIDCIssuer != "" {
			jwksVerifier, err := auth.NewJWKSVerifier(ctx, &cfg.Auth)
			if err != nil {
				log.Warn().Err(err).Str("issuer", cfg.Auth.OIDCIssuer).Msg("JWKS verifier not initialized")
			} else {
				defer jwksVerifier.Close()
				verifiers = append(verifiers, jwksVerifier)
			}
		}
		if cfg.Auth.JWTSecret != "" {
			verifiers = append(verifiers, auth.NewHMACVerifier(cfg.Auth.JWTSecret))
		}
		authHandler = middleware.NewAuthMiddleware(verifiers...).Authenticate()
	} else {
		log.Info().Msg("auth not configured, API is open")
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, logger.Component(log, "ratelimit"))

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             25 * 1024 * 1024,
		DisableStartupMessage: cfg.Server.Env != "development",
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	handler.Register(app, handler.Routes{
		Jobs:      handler.NewJobHandler(jobService, validate),
		Assets:    handler.NewAssetHandler(jobService, storage, validate),
		Workflows: handler.NewWorkflowHandler(registry, options),
		Config:    handler.NewConfigHandler(options, cfg.Engine.URL, cfg.Engine.ClientID, cfg.Workflows.Default),
		Health:    handler.NewHealthHandler(comfy, cfg.Engine.URL),
		Uploads:   handler.NewUploadHandler(uploadService),
		Auth:      authHandler,
		JobsLimit: rateLimiter.JobsLimit(cfg.RateLimit.JobsPerMin),
		Observer: func(c *websocket.Conn) {
			observers.Serve(c)
		},
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Str("engine", cfg.Engine.URL).Str("client_id", cfg.Engine.ClientID).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	// Stop consuming, then let in-flight submissions settle before the store closes
	cancel()
	<-consumerDone
	jobService.Wait()
	log.Info().Msg("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errorCode := response.CodeServiceError
	if code == fiber.StatusNotFound {
		errorCode = response.CodeNotFound
	}

	return response.Error(c, code, errorCode, message, nil)
}
