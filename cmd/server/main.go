package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/marketing-dispatch/configs"
	"github.com/maheshrc27/marketing-dispatch/internal/api/handlers"
	"github.com/maheshrc27/marketing-dispatch/internal/api/middleware"
	job "github.com/maheshrc27/marketing-dispatch/internal/jobs"
	"github.com/maheshrc27/marketing-dispatch/internal/metrics"
	"github.com/maheshrc27/marketing-dispatch/internal/queue"
	"github.com/maheshrc27/marketing-dispatch/internal/repository"
	"github.com/maheshrc27/marketing-dispatch/internal/service"
	"github.com/maheshrc27/marketing-dispatch/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file", slog.Any("error", err))
	}

	cfg := config.LoadConfig()
	metrics.Init()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	defer rdb.Close()

	client := asynq.NewClientFromRedisClient(rdb)
	defer client.Close()

	cipher, err := utils.NewCipher(cfg.SecretKey)
	if err != nil {
		log.Fatalf("Invalid SECRET_KEY: %v", err)
	}

	presigner, err := service.NewR2Presigner(context.Background(), *cfg)
	if err != nil {
		log.Fatalf("Failed to configure media storage: %v", err)
	}

	httpClient := &http.Client{Timeout: cfg.ChannelCallTimeout}

	entryRepo := repository.NewMarketingQueueRepository(db)
	tokenRepo := repository.NewChannelTokenRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	productRepo := repository.NewProductRepository(db)
	deliveryLogRepo := repository.NewDeliveryLogRepository(db)

	inspector := asynq.NewInspectorFromRedisClient(rdb)
	defer inspector.Close()

	enqueuer := queue.NewEnqueuer(client, inspector, cfg.Worker.MaxRetry)

	refresher := service.NewGraphTokenRefresher(*cfg, httpClient)
	tokenService := service.NewTokenService(*cfg, tokenRepo, refresher, service.NewRedisLocker(rdb), cipher)
	whatsAppService := service.NewWhatsAppService(*cfg, tokenService, httpClient)
	instagramService := service.NewInstagramService(*cfg, tokenService, httpClient)
	mediaService := service.NewMediaService(*cfg, presigner)
	marketingService := service.NewMarketingService(entryRepo, deliveryLogRepo, enqueuer)

	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("unhandled request error", slog.Any("error", err))
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"success": false, "error": fiber.Map{"code": "INTERNAL_ERROR", "message": err.Error()}})
		},
	})

	app.Use(logger.New())
	app.Use(middleware.Metrics())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "database unreachable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authMiddleware := middleware.NewAuthMiddleware(*cfg)
	api := app.Group("/api", authMiddleware.AuthMiddleware())
	handlers.RegisterRoutes(api,
		handlers.NewMarketingHandler(marketingService),
		handlers.NewTokenHandler(tokenService))

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(tokenRepo, tokenService, cfg.TokenRefreshMargin)
	sweepJob := job.NewDispatchSweepJob(entryRepo, enqueuer, cfg.Worker.StaleProcessingAfter)

	c := cron.New()
	c.AddFunc(cfg.Worker.TokenSweepEvery, refreshTokenJob.RefreshTokens)
	c.AddFunc(cfg.Worker.DueSweepEvery, sweepJob.EnqueueDueEntries)
	c.AddFunc(cfg.Worker.StaleSweepEvery, sweepJob.ReclaimStaleEntries)
	c.Start()
	defer c.Stop()

	// queue
	worker := queue.NewQueue(*cfg, entryRepo, customerRepo, productRepo, deliveryLogRepo,
		whatsAppService, instagramService, mediaService)

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisURI}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      map[string]int{queue.QueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Error("dispatch task failed",
				slog.String("task_type", task.Type()),
				slog.String("payload", string(task.Payload())),
				slog.Any("error", err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeDispatchEntry, worker.HandleDispatchEntryTask)

	slog.Info("starting the asynq server")
	if err := server.Start(mux); err != nil {
		log.Fatalf("Could not start Asynq server: %v", err)
	}

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	slog.Info("server is running", slog.String("addr", cfg.HTTPAddr))

	gracefulShutdown(app, server)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, server *asynq.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	slog.Info("shutting down server")

	if err := app.Shutdown(); err != nil {
		slog.Error("failed to shut down http server", slog.Any("error", err))
	}
	server.Shutdown()

	slog.Info("server shutdown complete")
}
