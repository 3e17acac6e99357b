package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"easypay.backend/internal/config"
	"easypay.backend/internal/infrastructure/repositories"
	"easypay.backend/internal/infrastructure/tasks"
	"easypay.backend/internal/usecases"
	"easypay.backend/pkg/logger"
	"easypay.backend/pkg/redis"
)

func main() {
	if err := runWorkerProcess(); err != nil {
		log.Fatal(err)
	}
}

func runWorkerProcess() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	logger.Init(cfg.Server.Env)
	logger.Info(context.Background(), "Worker logger initialized", zap.String("env", cfg.Server.Env))

	if err := redis.Init(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.PoolSize); err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.Database.URL,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		PrepareStmt: false,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get generic database object: %w", err)
	}
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns())

	// Worker-side dispatcher: same outbox, delivered from here
	webhookRepo := repositories.NewWebhookRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)
	uow := repositories.NewUnitOfWork(db)
	auditRecorder := usecases.NewAuditRecorder(auditRepo)
	dispatcher := usecases.NewWebhookDispatcher(webhookRepo, uow, auditRecorder, usecases.DispatcherConfig{
		TargetURL:  cfg.Webhook.TargetURL,
		Secret:     cfg.Webhook.Secret,
		MaxRetries: cfg.Webhook.MaxRetries,
		Timeout:    cfg.Webhook.Timeout,
	})

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password}

	mux := asynq.NewServeMux()
	tasks.NewHandlers(dispatcher, auditRepo).Register(mux)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			tasks.QueueCritical: 6,
			tasks.QueueDefault:  3,
			tasks.QueueLow:      1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error(ctx, "task failed",
				zap.String("type", task.Type()),
				zap.Error(err),
			)
		}),
	})

	scheduler, err := newScheduler(redisOpt, cfg.Worker)
	if err != nil {
		return fmt.Errorf("failed to configure scheduler: %w", err)
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			log.Fatalf("scheduler failed: %v", err)
		}
	}()

	go func() {
		log.Printf("Worker starting (concurrency=%d)", cfg.Worker.Concurrency)
		if err := srv.Run(mux); err != nil {
			log.Fatalf("worker failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	scheduler.Shutdown()
	srv.Shutdown()
	log.Println("Worker stopped")
	return nil
}

// newScheduler registers the recurring entries: the delivery sweep that
// drains due webhook rows, and the daily audit retention sweep.
func newScheduler(redisOpt asynq.RedisClientOpt, cfg config.WorkerConfig) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt, nil)

	sweep, err := tasks.NewWebhookDeliverTask(tasks.WebhookDeliverPayload{})
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register("@every "+cfg.WebhookSweepEvery.String(), sweep); err != nil {
		return nil, err
	}

	cleanup, err := tasks.NewAuditCleanupTask(cfg.AuditRetentionDays)
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register("0 3 * * *", cleanup); err != nil {
		return nil, err
	}

	return scheduler, nil
}
