package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vexaro/backend-vpn/internal/config"
	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/events"
	"github.com/vexaro/backend-vpn/internal/lock"
	"github.com/vexaro/backend-vpn/internal/notify"
	"github.com/vexaro/backend-vpn/internal/obs"
	"github.com/vexaro/backend-vpn/internal/queue"
	"github.com/vexaro/backend-vpn/internal/resilience"
	"github.com/vexaro/backend-vpn/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, queries := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	notifyStore := notify.NewStore(queries)
	taskQueue := queue.Enqueuer{R: redisClient, DedupTTL: cfg.IdempotencyTTL, MaxAttempts: cfg.WebhookMaxAttempts}
	dispatcher := &notify.Dispatcher{
		Store:              notifyStore,
		Client:             notify.HttpClient(envInt("WEBHOOK_REQUEST_TIMEOUT_MS", 5000), envBool("WEBHOOK_ALLOW_INSECURE_TLS", false)),
		Breaker:            resilience.NewBreaker(envInt("WEBHOOK_BREAKER_MIN_REQUESTS", 10), envFloat("WEBHOOK_BREAKER_FAILURE_RATIO", 0.5), envDurationMillis("WEBHOOK_BREAKER_OPEN_MS", 30000)).WithTarget("webhook").WithLogger(logger),
		Queue:              taskQueue,
		BackoffBaseSec:     cfg.WebhookBackoffBaseSec,
		DefaultMaxAttempts: cfg.WebhookMaxAttempts,
		Enabled:            cfg.WebhookDispatchEnabled,
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          cfg.WebhookReplayTTL,
	}
	telegram := notify.TelegramNotifier{
		Client:   notify.HttpClient(envInt("TELEGRAM_REQUEST_TIMEOUT_MS", 5000), false),
		Breaker:  resilience.NewBreaker(envInt("TELEGRAM_BREAKER_MIN_REQUESTS", 10), envFloat("TELEGRAM_BREAKER_FAILURE_RATIO", 0.5), envDurationMillis("TELEGRAM_BREAKER_OPEN_MS", 30000)).WithTarget("telegram").WithLogger(logger),
		BotToken: cfg.TelegramBotToken,
		Enabled:  cfg.TelegramEnabled,
		Users:    queries,
	}
	bus := &events.Bus{
		Store:     queries,
		Scheduler: dispatcher,
		Notifiers: []events.Notifier{telegram},
	}

	locker := lock.Locker{R: redisClient, RetryBackoff: envDurationMillis("LOCK_RETRY_BACKOFF_MS", 50)}
	deliveryWorker := notify.DeliveryWorker{
		Dispatcher: dispatcher,
		Locker:     locker,
		LockTTL:    envDurationMillis("LOCK_TTL_MS", 30000),
	}

	webhookQueueWorker := queue.Worker{
		R:                 redisClient,
		Kind:              notify.WebhookDeliveryTask(),
		Concurrency:       envInt("QUEUE_CONCURRENCY_WEBHOOK", 4),
		VisibilityTimeout: envDurationMillis("QUEUE_VISIBILITY_TIMEOUT_MS", 30000),
		SoftDeadline:      envDurationMillis("WORKER_JOB_SOFT_DEADLINE_MS", 25000),
		RetryBase:         envDurationMillis("QUEUE_BACKOFF_BASE_MS", 2000),
		RetryJitter:       0.2,
		Store:             queue.NewStore(pool),
		Logger:            &logger,
		Handler: func(jobCtx context.Context, task queue.Task) error {
			return deliveryWorker.Handle(jobCtx, task.Payload)
		},
	}

	subscriptionSvc := &subscription.Service{Q: queries, Events: bus}
	go runExpireSweep(ctx, cfg, logger, locker, subscriptionSvc)

	logger.Info().Msg("worker starting")
	if err := webhookQueueWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

// runExpireSweep periodically marks subscriptions whose period has lapsed.
// The lock keeps concurrent worker replicas from double-sweeping.
func runExpireSweep(ctx context.Context, cfg *config.Config, logger zerolog.Logger, locker lock.Locker, subs *subscription.Service) {
	interval := cfg.ExpireSweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	batch := int32(envInt("EXPIRE_SWEEP_BATCH", 100))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Bound acquisition so a replica holding the lock makes the
			// others skip this tick instead of piling up behind it.
			sweepCtx, cancel := context.WithTimeout(ctx, interval/2)
			err := locker.WithLock(sweepCtx, "lock:expire-sweep", interval, func(lockCtx context.Context) error {
				expired, err := subs.ExpireDue(lockCtx, batch)
				if err != nil {
					return err
				}
				if expired > 0 {
					logger.Info().Int("expired", expired).Msg("subscription expiry sweep")
				}
				return nil
			})
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				logger.Error().Err(err).Msg("expire sweep")
			}
		}
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, *db.Queries) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "vpn-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool, db.New(pool)
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}
