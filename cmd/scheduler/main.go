package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	apptrepo "leadflow_backend/internal/appointments/repository"
	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/followup"
	leadsrepo "leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/recovery"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/internal/whatsapp"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if opt, err := redis.ParseURL(cfg.RedisURL); err != nil {
			log.Error("invalid REDIS_URL; daily send cap is tracked per process", "error", err)
		} else {
			rdb = redis.NewClient(opt)
			defer func() { _ = rdb.Close() }()
		}
	}

	// The scheduler runs its own dispatch queue. The daily cap stays shared
	// with the API process through the Redis counter.
	whatsappClient := whatsapp.NewClient(cfg, log)
	queue := dispatch.NewQueue(cfg, whatsappClient, rdb, log)
	go queue.Run(ctx)

	leadsRepo := leadsrepo.New(pool)
	apptRepo := apptrepo.New(pool)

	followupSvc := followup.NewService(leadsRepo, queue, cfg, log)
	recoverySvc := recovery.NewService(leadsRepo, queue, eventBus, cfg, log)
	slaJob := scheduler.NewSLAJob(leadsRepo, eventBus, log)

	// Admin alerts subscribe to domain events raised by the jobs below.
	notificationSvc := notification.NewService(queue, notification.NewMailer(cfg), cfg, log)
	notificationSvc.Subscribe(eventBus)

	coordinator := scheduler.NewCoordinator(log)
	coordinator.Register("followup", time.Minute, func(ctx context.Context) error {
		report, err := followupSvc.Run(ctx)
		if err != nil {
			return err
		}
		if report.Sent > 0 {
			log.Info("follow-ups dispatched", "sent", report.Sent, "candidates", report.Total)
		}
		return nil
	})
	coordinator.Register("retry", time.Minute, recoverySvc.CheckRetries)
	coordinator.Register("sweep", time.Minute, func(ctx context.Context) error {
		report, err := recoverySvc.RunSweep(ctx)
		if err != nil {
			return err
		}
		if report.Processed > 0 {
			log.Info("sweep complete", "processed", report.Processed, "moved", report.Moved, "reminded", report.Reminded)
		}
		return nil
	})
	coordinator.Register("sla", time.Hour, slaJob.Run)

	// Appointment reminders need asynq, which needs Redis. Without it the
	// scheduler still runs the database-driven jobs above.
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; appointment reminders disabled")
	} else {
		reminderClient, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize reminder scheduler client", "error", err)
			panic("failed to initialize reminder scheduler client: " + err.Error())
		}
		defer func() { _ = reminderClient.Close() }()

		reminderScan := scheduler.NewReminderScanJob(apptRepo, reminderClient, log)
		coordinator.Register("reminder-scan", 30*time.Minute, reminderScan.Run)

		worker, err := scheduler.NewWorker(cfg, pool, queue, log)
		if err != nil {
			log.Error("failed to initialize scheduler worker", "error", err)
			panic("failed to initialize scheduler worker: " + err.Error())
		}
		go worker.Run(ctx)
	}

	coordinator.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
