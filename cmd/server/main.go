package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/redis/go-redis/v9"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/attachments"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/config"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/database"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/dto"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/logging"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/realtime"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/routes"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/services"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/store"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	cfg := config.Load()

	// Structured logging (JSON to stdout)
	logging.Setup(cfg.LogLevel)

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(database.DB); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// Database log handler (LOG_PERSIST_LEVEL and above, async batch)
	dbLogHandler := logging.NewDBHandler(database.DB, cfg.LogPersistLevel)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		logging.NewStdoutHandler(cfg.LogLevel),
		dbLogHandler,
	)))

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	logging.StartCleanup(rootCtx, database.DB, cfg.LogRetentionDays)

	// Realtime: Redis fan-out across instances when configured, in-process otherwise.
	var (
		hub         realtime.Notifier
		redisHealth handlers.Pinger
		closeHub    func()
	)
	if cfg.RedisEnabled() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		broker := realtime.NewRedisBroker(client, realtime.BrokerConfig{
			Prefix:     cfg.RedisPrefix,
			BufferSize: cfg.RealtimeBuffer,
			QueueSize:  cfg.RealtimeQueueSize,
		})
		hub, redisHealth = broker, broker
		closeHub = func() {
			if err := broker.Close(); err != nil {
				slog.Error("redis broker close error", "error", err)
			}
			_ = client.Close()
		}
		slog.Info("realtime fan-out via redis", "prefix", cfg.RedisPrefix)
	} else {
		local := realtime.NewHub(realtime.WithBufferSize(cfg.RealtimeBuffer))
		hub, closeHub = local, local.Close
		slog.Info("realtime fan-out in process")
	}

	// Attachments
	var uploader attachments.Uploader
	if cfg.AttachmentsEnabled() {
		minioUploader, err := attachments.NewMinioUploader(attachments.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			slog.Error("attachment storage setup failed", "error", err)
			os.Exit(1)
		}
		bucketCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		err = minioUploader.EnsureBucket(bucketCtx)
		cancel()
		if err != nil {
			slog.Error("attachment bucket unavailable", "bucket", cfg.MinioBucket, "error", err)
			os.Exit(1)
		}
		uploader = minioUploader
	} else {
		slog.Warn("MINIO_ENDPOINT not set, file uploads disabled")
	}

	// Services
	st := store.NewGormStore(database.DB)
	reportService := services.NewReportService(st)
	threadService := services.NewThreadService(st, hub)
	logService := services.NewLogService(database.DB)

	// Handlers
	validate := dto.NewValidator()
	healthHandler := handlers.NewHealthHandler(database.DB, redisHealth)
	reportHandler := handlers.NewReportHandler(reportService, validate)
	threadHandler := handlers.NewThreadHandler(threadService, hub, uploader, validate, cfg.StreamKeepAlive)
	logHandler := handlers.NewLogHandler(logService, validate)

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    cfg.BodyLimitMB * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(middleware.SecurityHeaders())

	// Routes
	routes.Setup(app, cfg, healthHandler, reportHandler, threadHandler, logHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	// Ends open streams first so Shutdown is not held up by them.
	closeHub()
	stop()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	dbLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := database.Close(database.DB); err != nil {
		slog.Error("database close error", "error", err)
	}

	slog.Info("server stopped")
}
