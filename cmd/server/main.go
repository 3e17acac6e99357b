package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"easypay.backend/internal/config"
	"easypay.backend/internal/infrastructure/models"
	"easypay.backend/internal/infrastructure/processor"
	"easypay.backend/internal/infrastructure/queue"
	"easypay.backend/internal/infrastructure/repositories"
	"easypay.backend/internal/infrastructure/tasks"
	"easypay.backend/internal/interfaces/http/handlers"
	"easypay.backend/internal/interfaces/http/middleware"
	"easypay.backend/internal/usecases"
	"easypay.backend/pkg/logger"
	"easypay.backend/pkg/metrics"
	"easypay.backend/pkg/ratelimit"
	"easypay.backend/pkg/redis"
	"easypay.backend/pkg/resilience"
)

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openDB     = func(dsn string) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt: false,
		})
	}
	getStdDB = func(db *gorm.DB) (*sql.DB, error) { return db.DB() }
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	// Load .env file
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := loadCfg()

	// Initialize Logger
	initLog(cfg.Server.Env)
	logger.Info(context.Background(), "Logger initialized", zap.String("env", cfg.Server.Env))

	// Initialize Redis
	if err := initRedis(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.PoolSize); err != nil {
		logger.Error(context.Background(), "Failed to initialize Redis", zap.Error(err))
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	logger.Info(context.Background(), "Redis initialized")

	// Set Gin mode
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database using GORM
	db, err := openDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := getStdDB(db)
	if err != nil {
		return fmt.Errorf("failed to get generic database object: %w", err)
	}
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns())
	sqlDB.SetMaxIdleConns(cfg.Database.PoolSize)

	if err := sqlDB.Ping(); err != nil {
		log.Printf("Database not available: %v (endpoints will return errors)", err)
	} else {
		log.Println("Connected to PostgreSQL via GORM")
	}

	if err := db.AutoMigrate(&models.Payment{}, &models.Webhook{}, &models.AuditLog{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize task enqueuer (webhook nudges, cache invalidation, reconciliation)
	enqueuer := tasks.NewEnqueuer(cfg.Redis.Addr(), cfg.Redis.Password)
	defer enqueuer.Close()

	// Initialize repositories
	paymentRepo := repositories.NewCachedPaymentRepository(repositories.NewPaymentRepository(db), enqueuer)
	webhookRepo := repositories.NewWebhookRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)
	uow := repositories.NewUnitOfWork(db)

	// Initialize resilience primitives
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(), nil)
	limiter := ratelimit.NewSlidingWindowLimiter(ratelimit.Config{
		PerMinute: cfg.RateLimit.PerMinute,
		PerHour:   cfg.RateLimit.PerHour,
	}, nil)
	defer limiter.Shutdown()

	requestQueue := queue.New(queue.Config{
		MaxQueueSize:   cfg.Queue.MaxSize,
		MaxWorkers:     cfg.Queue.Workers,
		RequestTimeout: cfg.Queue.RequestTimeout,
	})

	// Initialize processor client
	gateway := processor.NewClient(processor.Config{
		APILoginID:     cfg.AuthorizeNet.APILoginID,
		TransactionKey: cfg.AuthorizeNet.TransactionKey,
		APIURL:         cfg.AuthorizeNet.APIURL,
		Sandbox:        cfg.AuthorizeNet.Sandbox,
	})

	// Initialize usecases
	auditRecorder := usecases.NewAuditRecorder(auditRepo)
	dispatcher := usecases.NewWebhookDispatcher(webhookRepo, uow, auditRecorder, usecases.DispatcherConfig{
		TargetURL:  cfg.Webhook.TargetURL,
		Secret:     cfg.Webhook.Secret,
		MaxRetries: cfg.Webhook.MaxRetries,
		Timeout:    cfg.Webhook.Timeout,
	})
	paymentUsecase := usecases.NewPaymentUseCase(
		paymentRepo, uow, auditRecorder, dispatcher, gateway, breaker, enqueuer,
		usecases.PaymentConfig{
			SupportedCurrencies: cfg.Payments.SupportedCurrencies,
			DefaultCurrency:     cfg.Payments.DefaultCurrency,
		},
	)
	inboundUsecase := usecases.NewInboundWebhookUseCase(paymentUsecase, auditRecorder, cfg.AuthorizeNet.WebhookSecret)

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(paymentUsecase)
	webhookHandler := handlers.NewWebhookHandler(inboundUsecase, webhookRepo)
	auditHandler := handlers.NewAuditHandler(auditRepo)
	healthHandler := handlers.NewHealthHandler(db)
	subscriptionHandler := handlers.NewSubscriptionHandler()

	admission := middleware.NewAdmission(requestQueue, breaker, limiter)

	// Initialize router
	r := gin.New()
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(metrics.Middleware())
	r.Use(admission.Middleware())

	applyCORSMiddleware(r, cfg.Server.CORSOrigins)
	registerHealthRoutes(r, healthHandler)
	registerAPIV1Routes(r, routeDeps{
		paymentHandler:      paymentHandler,
		webhookHandler:      webhookHandler,
		auditHandler:        auditHandler,
		subscriptionHandler: subscriptionHandler,
		authMiddleware:      middleware.APIKeyAuthMiddleware(cfg.Auth.Keys),
	})

	// Print all registered routes for debugging
	log.Println("Registered Routes:")
	for _, route := range r.Routes() {
		log.Printf("   %s %s", route.Method, route.Path)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	// Graceful shutdown: stop admitting, drain in-flight work, then close
	// the listener. Bounded by the configured shutdown timeout.
	done := make(chan struct{})
	go func() {
		defer close(done)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := requestQueue.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "request queue drain incomplete", zap.Error(err))
		}
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error(ctx, "server shutdown failed", zap.Error(err))
		}
	}()

	log.Printf("EasyPay gateway starting on port %s", cfg.Server.Port)
	log.Printf("API: http://localhost:%s/api/v1", cfg.Server.Port)
	log.Printf("Health: http://localhost:%s/health", cfg.Server.Port)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	<-done
	return nil
}
