package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/anonzap/anonzap-backend/cmd/mainconfig"
	"github.com/anonzap/anonzap-backend/internal/api/router"
	"github.com/anonzap/anonzap-backend/internal/channel"
	"github.com/anonzap/anonzap-backend/internal/channel/bridge"
	appconfig "github.com/anonzap/anonzap-backend/internal/config"
	"github.com/anonzap/anonzap-backend/internal/correlation"
	"github.com/anonzap/anonzap-backend/internal/dispatch"
	"github.com/anonzap/anonzap-backend/internal/http/handlers"
	"github.com/anonzap/anonzap-backend/internal/identity"
	"github.com/anonzap/anonzap-backend/internal/notify"
	"github.com/anonzap/anonzap-backend/internal/observability/metrics"
	"github.com/anonzap/anonzap-backend/internal/queue"
	"github.com/anonzap/anonzap-backend/internal/worker"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

type appMetrics struct {
	correlation *metrics.CorrelationMetrics
	session     *metrics.SessionMetrics
	dispatch    *metrics.DispatchMetrics
}

func setupMetrics() (http.Handler, *appMetrics) {
	reg := prometheus.NewRegistry()
	m := &appMetrics{
		correlation: metrics.NewCorrelationMetrics(reg),
		session:     metrics.NewSessionMetrics(reg),
		dispatch:    metrics.NewDispatchMetrics(reg),
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		logger.Warn("DATABASE_URL not set")
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres unreachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func newRedisClient(cfg *appconfig.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

func buildQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) queue.Client {
	if cfg.UseMemoryQueue || cfg.InboundQueueURL == "" {
		logger.Info("using in-memory inbound queue")
		return queue.NewMemoryQueue(256)
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config; falling back to memory queue", "error", err)
		return queue.NewMemoryQueue(256)
	}
	return queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.InboundQueueURL)
}

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting anonzap API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, m := setupMetrics()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("postgres is required; set DATABASE_URL")
		os.Exit(1)
	}
	defer pool.Close()
	store := correlation.NewStore(pool)

	// Identity mappings: authoritative in memory, durable in Redis.
	var durable identity.DurableStore
	redisClient := newRedisClient(cfg)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		durable = identity.NewRedisStore(redisClient)
	} else {
		logger.Warn("REDIS_ADDR not set; identity mappings will not survive restarts")
	}
	idCache := identity.NewCache(durable, cfg.IdentityFlushDebounce, logger)
	idCache.Hydrate(ctx)
	defer idCache.Close()

	// Channel session.
	transport, err := bridge.New(bridge.Config{
		BaseURL: cfg.BridgeBaseURL,
		APIKey:  cfg.BridgeAPIKey,
		Timeout: cfg.BridgeTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("bridge client init failed", "error", err)
		os.Exit(1)
	}

	emailSender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	var alerter channel.OperatorNotifier
	if emailSender != nil && cfg.OperatorAlertEmail != "" {
		alerter = notify.NewOperatorAlerter(emailSender, cfg.OperatorAlertEmail, logger)
	}

	controller := channel.NewController(transport, channel.Options{
		ChannelName:            cfg.ChannelName,
		InitTimeout:            cfg.InitTimeout,
		ReconnectBaseDelay:     cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:      cfg.ReconnectMaxDelay,
		ReconnectMaxAttempts:   cfg.ReconnectMaxAttempts,
		HealthCheckInterval:    cfg.HealthCheckInterval,
		HealthCheckTimeout:     cfg.HealthCheckTimeout,
		HealthCheckMaxFailures: cfg.HealthCheckMaxFailures,
		LogLines:               cfg.SessionLogLines,
		BroadcastDebounce:      cfg.BroadcastDebounce,
	}, m.session, alerter, logger)
	defer controller.Close()
	if err := controller.Initialize(ctx); err != nil {
		// The controller schedules its own retries; startup continues.
		logger.Warn("initial channel connect failed", "error", err)
	}

	// Correlation pipeline.
	inboundQueue := buildQueue(ctx, cfg, logger)
	resolver := correlation.NewResolver(store, idCache, m.correlation, logger)
	replyHub := notify.NewReplyHub(logger)
	correlationWorker := worker.New(inboundQueue, resolver, replyHub, worker.Options{Logger: logger})
	go correlationWorker.RunPool(ctx, cfg.WorkerCount)

	// Outbound dispatch.
	dispatcher := dispatch.NewDispatcher(controller, transport, store, dispatch.Options{
		ChannelName:        cfg.ChannelName,
		DefaultCountryCode: cfg.DefaultCountryCode,
		Logger:             logger,
		Metrics:            m.dispatch,
	})

	routerCfg := &router.Config{
		Logger:             logger,
		Webhook:            handlers.NewWebhookHandler(inboundQueue, cfg.ChannelName, logger),
		Messages:           handlers.NewMessagesHandler(dispatcher, logger),
		Session:            handlers.NewSessionHandler(controller, logger),
		Health:             handlers.NewHealthHandler(pool),
		ReplyHub:           replyHub,
		MetricsHandler:     metricsHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	cancel() // stop the worker pool and session goroutines
	logger.Info("server stopped")
}
