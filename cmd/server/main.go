package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/reelforge/api/internal/bus"
	"github.com/reelforge/api/internal/client"
	"github.com/reelforge/api/internal/config"
	"github.com/reelforge/api/internal/handler"
	"github.com/reelforge/api/internal/middleware"
	"github.com/reelforge/api/internal/orchestrator"
	"github.com/reelforge/api/internal/pool"
	"github.com/reelforge/api/internal/registry"
	"github.com/reelforge/api/internal/retry"
	"github.com/reelforge/api/internal/service"
	ws "github.com/reelforge/api/internal/websocket"
	"github.com/reelforge/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Job registry and progress bus
	reg := registry.New(registry.NewRedisRepository(redisClient))
	progressBus := bus.New(cfg.Pipeline.EventRingSize, time.Duration(cfg.Pipeline.GraceSec)*time.Second)

	// Collaborator clients, falling back to mocks when unconfigured so
	// the pipeline works end to end in local development.
	storyboardClient := client.NewStoryboardClient(&cfg.Storyboard)
	videogenClient := client.NewVideoGenClient(&cfg.VideoGen)
	compositorClient := client.NewCompositorClient(&cfg.Compositor)

	var planner client.Planner = storyboardClient
	if !storyboardClient.IsConfigured() {
		log.Println("Warning: storyboard API not configured, using mock planner")
		planner = &client.MockPlanner{}
	}

	var clipGen client.ClipGenerator = videogenClient
	if !videogenClient.IsConfigured() {
		log.Println("Warning: video generation API not configured, using mock generator")
		clipGen = &client.MockClipGenerator{}
	}

	var composer client.Composer = compositorClient
	if !compositorClient.IsConfigured() {
		log.Println("Warning: compositor service not configured, using mock composer")
		composer = &client.MockComposer{}
	}

	var storage client.StorageClient
	r2Client, err := client.NewR2Client(&cfg.R2)
	if err != nil {
		log.Printf("Warning: R2 client init failed: %v", err)
	} else if r2Client.IsConfigured() {
		storage = r2Client
	} else {
		log.Println("Warning: R2 not configured, serving compositor URLs directly")
	}

	// Clip worker pool
	clipPool := pool.New(pool.Config{
		Workers:       cfg.Pipeline.Workers,
		QueueSize:     cfg.Pipeline.QueueSize,
		SubmitTimeout: time.Duration(cfg.Pipeline.SubmitTimeoutMs) * time.Millisecond,
	}, clipGen, retry.FromSettings(cfg.Retry.Clip))
	clipPool.Start()

	// Orchestrator
	orch := orchestrator.New(orchestrator.Config{
		PlanPolicy:    retry.FromSettings(cfg.Retry.Planning),
		ComposePolicy: retry.FromSettings(cfg.Retry.Compose),
		SubmitPolicy: retry.Policy{
			MaxAttempts: 10,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Jitter:      0.2,
		},
		AllowPartial: cfg.Pipeline.AllowPartial,
	}, reg, progressBus, clipPool, planner, composer, storage)

	// Services and handlers
	jobService := service.NewJobService(reg, progressBus, asynqClient)
	jobHandler := handler.NewJobHandler(jobService, validate)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// WebSocket hub
	hub := ws.NewHub(progressBus)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check. The compositor is the one collaborator we can probe
	// cheaply, so its entry reflects reachability, not just config.
	app.Get("/health", func(c *fiber.Ctx) error {
		compositorOK := compositorClient.IsConfigured()
		if compositorOK {
			compositorOK = compositorClient.HealthCheck(c.Context()) == nil
		}
		return c.JSON(fiber.Map{
			"status": "ok",
			"collaborators": fiber.Map{
				"storyboard": storyboardClient.IsConfigured(),
				"videogen":   videogenClient.IsConfigured(),
				"compositor": compositorOK,
				"storage":    storage != nil,
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour), jobHandler.Submit)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)
	jobs.Get("/:jobId/events", jobHandler.Events)
	jobs.Post("/:jobId/cancel", rateLimiter.CancelLimit(cfg.RateLimit.CancelPerMin), jobHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		if token := c.Query("token"); token != "" {
			if _, err := authMiddleware.ValidateToken(token); err != nil {
				c.WriteMessage(websocket.CloseMessage, []byte{})
				c.Close()
				return
			}
		}
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, orch)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		clipPool.Shutdown()
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, orch *orchestrator.Orchestrator) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			// One asynq worker per in-flight job; clip concurrency is
			// bounded separately by the clip pool.
			Concurrency: cfg.Pipeline.Workers,
			Queues: map[string]int{
				service.QueueJobs: 10,
			},
		},
	)

	jobWorker := worker.NewJobWorker(orch)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeOrchestrate, jobWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
