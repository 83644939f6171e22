/**
 * @description
 * Entry point for the payout-service. It wires the Postgres store, the billing and
 * document clients, RabbitMQ, the Redis job lock and the payout engine, then serves
 * HTTP, runs the cron jobs and consumes payment gateway events until shutdown.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/tenure/payout-service/internal/api"
	"github.com/tenure/payout-service/internal/app"
	"github.com/tenure/payout-service/internal/config"
	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
	"github.com/tenure/payout-service/pkg/billingclient"
	"github.com/tenure/payout-service/pkg/documentclient"
	"github.com/tenure/payout-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting payout-service", "port", cfg.ServerPort)

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		publisher = &rabbitmq.EventProducerFallback{}
	} else {
		publisher = producer
		logger.Info("rabbitmq producer connected")
	}
	defer publisher.Close()

	var jobLock app.JobLock
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("redis url missing; scheduled jobs run without a distributed lock", "env", "REDIS_URL")
	} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
		logger.Warn("redis url parse failed; scheduled jobs run without a distributed lock", "error", parseErr)
	} else {
		redisClient := redis.NewClient(redisOptions)
		pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		cancelPing()
		if pingErr != nil {
			// The lock reports the error per run and jobs fall back to running locally.
			logger.Warn("redis ping failed; job lock may be unavailable", "error", pingErr)
		} else {
			logger.Info("redis connected")
		}
		defer redisClient.Close()
		jobLock = app.NewRedisJobLock(redisClient, cfg.RedisLockPrefix)
	}

	cipher, err := app.NewBankDetailsCipher(cfg.BankDetailsEncryptionKey)
	if err != nil {
		logger.Error("failed to initialise bank details cipher", "error", err)
		os.Exit(1)
	}

	billing := billingclient.NewClient(cfg.BillingServiceURL, cfg.BillingServiceInternalAPIKey)
	documents := documentclient.NewClient(cfg.DocumentServiceURL, cfg.DocumentServiceAPIKey)
	repository := store.NewPostgresRepository(dbpool)

	engine := app.NewEngine(app.EngineDeps{
		Repo:      repository,
		Revenue:   billing,
		Billing:   billing,
		Documents: documents,
		Publisher: publisher,
		Cipher:    cipher,
		JobLock:   jobLock,
		Exchange:  cfg.EventExchange,
		Policy: app.PayoutPolicy{
			Eligibility: domain.EligibilityPolicy{
				LaunchDate:         cfg.ProgramLaunchDate,
				RevenueThreshold:   cfg.RevenueThreshold,
				AgeThresholdMonths: cfg.AgeThresholdMonths,
				PayoutAmount:       cfg.PayoutAmount,
			},
			PayoutAmount:      cfg.PayoutAmount,
			RetentionFee:      cfg.RetentionFee,
			ApprovalThreshold: cfg.ApprovalThreshold,
			Currency:          cfg.PayoutCurrency,
			AutoSelectWinners: cfg.AutoSelectWinners,
		},
		Logger: logger,
	})

	scheduler := app.NewScheduler(engine.Jobs, logger, cfg.EligibilityJobSchedule, cfg.RemovalJobSchedule)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq consumer unavailable; payment events will not be processed", "error", err)
	} else {
		defer consumer.Close()
		if err := consumer.ConsumeWithBindings(cfg.EventExchange, cfg.PaymentEventQueue, engine.Consumer.Bindings()); err != nil {
			logger.Error("payment event consumer start failed", "error", err)
			os.Exit(1)
		}
		logger.Info("payment event consumer started", "queue", cfg.PaymentEventQueue)
	}

	handler := api.NewHandler(engine, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		JWKSURL:                       cfg.ClerkJWKSURL,
		InternalAPIKey:                cfg.InternalAPIKey,
		EligibilityCheckRatePerMinute: cfg.EligibilityCheckRatePerMinute,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("scheduler stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before shutdown deadline")
	}

	logger.Info("shutdown complete")
}
