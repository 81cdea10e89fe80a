package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/alerts"
	"github.com/lalithlochan/stationnotify/internal/api"
	"github.com/lalithlochan/stationnotify/internal/circuitbreaker"
	"github.com/lalithlochan/stationnotify/internal/config"
	"github.com/lalithlochan/stationnotify/internal/db"
	"github.com/lalithlochan/stationnotify/internal/dispatch"
	"github.com/lalithlochan/stationnotify/internal/history"
	"github.com/lalithlochan/stationnotify/internal/observ"
	"github.com/lalithlochan/stationnotify/internal/redis"
	"github.com/lalithlochan/stationnotify/internal/sms"
	"github.com/lalithlochan/stationnotify/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(observ.Options{Env: cfg.Env, Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting station notify gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("sms_transport", cfg.SMS.Transport),
	)

	ctx := context.Background()
	loc := cfg.SMS.Location()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs the API rate limiter and cross-replica alert coordination.
	// Without it each replica works alone.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting and scan locks disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var (
		rateLimiter *redis.RateLimiter
		alertOpts   = alerts.Options{Location: loc}
	)
	if redisClient != nil {
		defer redisClient.Close()
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.APIRateLimit,
			Window: time.Minute,
		})
		alertOpts.Locker = redis.NewLocker(redisClient, logger)
		alertOpts.Marks = redis.NewAlertMarks(redisClient, logger)
	}

	// SQS carries delivery events out and send requests in. Both are optional.
	var (
		events   history.EventPublisher
		consumer *sqs.Consumer
	)
	if cfg.SQSEventsQueueURL != "" || cfg.SQSInboundQueueURL != "" {
		sqsClient, err := sqs.NewClient(ctx, cfg.SQSRegion)
		if err != nil {
			logger.Warn("sqs unavailable, delivery events and inbound queue disabled", zap.Error(err))
		} else {
			if cfg.SQSEventsQueueURL != "" {
				events = sqs.NewProducer(sqsClient, sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSEventsQueueURL}, logger)
			}
			if cfg.SQSInboundQueueURL != "" {
				consumer = sqs.NewConsumer(sqsClient, sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSInboundQueueURL}, logger)
			}
		}
	}

	recorder := history.NewRecorder(repo, events, loc, logger)

	transport, breaker, err := newTransport(ctx, cfg.SMS, logger)
	if err != nil {
		return err
	}
	var breakers []*circuitbreaker.CircuitBreaker
	if breaker != nil {
		breakers = append(breakers, breaker)
	}

	gateway := sms.NewClient(transport, recorder, repo, sms.Config{
		DailyLimit:     cfg.SMS.DailyLimit,
		RestrictedMode: cfg.SMS.RestrictedMode,
		AllowedNumbers: cfg.SMS.AllowedNumbers,
		Location:       loc,
	}, logger)
	if !gateway.Configured() {
		logger.Warn("sms transport not configured, every send will be rejected")
	}

	coordinator := dispatch.New(gateway, dispatch.Config{
		BulkSendDelay:    cfg.Dispatch.BulkSendDelay,
		RetryBackoffBase: cfg.Dispatch.RetryBackoffBase,
		MaxRetryAttempts: cfg.Dispatch.MaxRetryAttempts,
	}, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go coordinator.RunSweeper(bgCtx, cfg.Dispatch.RetrySweepInterval)

	listenerDone := make(chan struct{})
	if consumer != nil {
		go func() {
			defer close(listenerDone)
			dispatch.NewListener(consumer, coordinator, logger).Run(bgCtx)
		}()
	} else {
		close(listenerDone)
	}

	scheduler := alerts.NewScheduler(repo, recorder, gateway, alertOpts, logger)

	var runner *alerts.Runner
	if cfg.Alerts.Enabled {
		runner, err = alerts.NewRunner(scheduler, cfg.Alerts.CronSpec, loc, logger)
		if err != nil {
			return err
		}
		runner.Start()
	}

	checks := map[string]api.HealthCheck{"database": database.Health}
	if redisClient != nil {
		checks["redis"] = redisClient.Ping
	}

	handler := api.NewHandler(logger, api.Deps{
		Gateway:    gateway,
		Dispatcher: coordinator,
		Analytics:  recorder,
		Alerts:     scheduler,
		Breakers:   breakers,
		Checks:     checks,
		Location:   loc,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, rateLimiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		logger.Error("graceful http shutdown failed", zap.Error(err))
	}

	if runner != nil {
		if err := runner.Stop(ctx); err != nil {
			logger.Warn("alert scheduler did not stop in time", zap.Error(err))
		}
	}

	bgCancel()
	<-listenerDone

	if err := coordinator.Shutdown(ctx); err != nil {
		logger.Warn("dispatcher did not drain in time", zap.Error(err))
	}

	logger.Info("server stopped gracefully")
	return nil
}

// newTransport builds the configured SMS transport behind a circuit
// breaker. An empty transport name returns nil, leaving the gateway
// unconfigured.
func newTransport(ctx context.Context, cfg config.SMSConfig, logger *zap.Logger) (sms.Transport, *circuitbreaker.CircuitBreaker, error) {
	var (
		inner sms.Transport
		name  string
	)

	switch cfg.Transport {
	case "":
		return nil, nil, nil
	case "http":
		inner = sms.NewHTTPTransport(sms.HTTPConfig{
			URL:     cfg.APIURL,
			Key:     cfg.APIKey,
			Secret:  cfg.APISecret,
			Source:  cfg.Source,
			Timeout: cfg.Timeout,
		}, logger)
		name = "sms-http"
	case "sns":
		t, err := sms.NewSNSTransport(ctx, sms.SNSConfig{
			Region:   cfg.SNSRegion,
			SenderID: cfg.Source,
			Price:    cfg.SNSPrice,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create SNS transport: %w", err)
		}
		inner = t
		name = "sms-sns"
	default:
		return nil, nil, fmt.Errorf("unknown SMS transport %q", cfg.Transport)
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(name), logger)
	return circuitbreaker.NewProtectedTransport(inner, breaker, logger), breaker, nil
}
