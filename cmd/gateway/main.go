package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/api"
	"github.com/lalithlochan/herdwatch/internal/circuitbreaker"
	"github.com/lalithlochan/herdwatch/internal/collector"
	"github.com/lalithlochan/herdwatch/internal/config"
	"github.com/lalithlochan/herdwatch/internal/db"
	"github.com/lalithlochan/herdwatch/internal/digest"
	"github.com/lalithlochan/herdwatch/internal/engine"
	"github.com/lalithlochan/herdwatch/internal/events"
	"github.com/lalithlochan/herdwatch/internal/metrics"
	"github.com/lalithlochan/herdwatch/internal/observ"
	"github.com/lalithlochan/herdwatch/internal/pipeline"
	"github.com/lalithlochan/herdwatch/internal/preference"
	"github.com/lalithlochan/herdwatch/internal/redis"
	"github.com/lalithlochan/herdwatch/internal/scheduler"
	"github.com/lalithlochan/herdwatch/internal/sns"
	"github.com/lalithlochan/herdwatch/internal/sqs"
	"github.com/lalithlochan/herdwatch/internal/worker"
)

// store is everything the gateway needs from persistence. Both the postgres
// repository and the memory store satisfy it.
type store interface {
	api.NotificationStore
	engine.Store
	pipeline.Store
	digest.Store
	preference.Store
	collector.ExpirySource
	collector.WeighingSource
	collector.VaccinationSource
	scheduler.RunStore
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, observ.FileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting herdwatch gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.StoreDriver),
	)

	ctx := context.Background()

	// Persistence
	var st store
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		st = db.NewMemoryStore()
	default:
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

		statsCtx, stopStats := context.WithCancel(ctx)
		defer stopStats()
		go reportPoolStats(statsCtx, database)

		st = db.NewRepository(database, logger)
	}

	// Redis for delivery rate limits, API rate limits and job locks
	var (
		rateLimiter *redis.RateLimiter
		locker      scheduler.Locker
		redisClient *redis.Client
	)
	if cfg.RedisAddr() != "" {
		client, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, rate limits and job locks disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer client.Close()
			redisClient = client
			rateLimiter = redis.NewRateLimiter(client, logger)
			locker = redis.NewLocker(client, logger, "herdwatch:job")
		}
	}

	// Kafka domain events
	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			ClientID: "herdwatch",
		}, logger)
		if err != nil {
			logger.Warn("kafka unavailable, events disabled", zap.Error(err))
		} else {
			defer kafka.Close()
			publisher = kafka
		}
	}

	// Delivery providers
	providers := newProviders(ctx, cfg, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var dispatcher *worker.Dispatcher
	var consumer *worker.Consumer
	if cfg.SQSQueueURL != "" {
		client, err := sqs.NewClient(ctx, sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSQueueURL})
		if err != nil {
			return fmt.Errorf("failed to create SQS client: %w", err)
		}
		producer := sqs.NewProducer(client, cfg.SQSQueueURL, logger)
		queue := sqs.NewConsumer(client, cfg.SQSQueueURL, logger)

		// External channels are handed to the queue; the consumer transmits.
		dispatcher = worker.NewDispatcher(logger, worker.NewAppSender(logger), worker.NewQueueSender(producer, logger))
		consumer = worker.NewConsumer(queue, producer, worker.NewDispatcher(logger, providers...), worker.ConsumerConfig{}, logger)
	} else {
		senders := append([]worker.Sender{worker.NewAppSender(logger)}, providers...)
		dispatcher = worker.NewDispatcher(logger, senders...)
	}

	// Domain services
	localizer := alert.NewLocalizer(cfg.DefaultLocale)
	prefs := preference.NewService(st, logger)
	generator := digest.NewGenerator(st, prefs, dispatcher, publisher, localizer, digest.Config{
		MaxAttempts: cfg.DigestMaxAttempts,
	}, logger)

	opts := pipeline.Options{
		Store: st,
		Collector: collector.NewRunner(logger,
			collector.NewExpiry(st),
			collector.NewWeight(st),
			collector.NewDose(st),
		),
		Engine:     engine.New(st, localizer, logger),
		Dispatcher: dispatcher,
		Digests:    generator,
		Events:     publisher,
		Localizer:  localizer,
	}
	if rateLimiter != nil {
		opts.Limiter = rateLimiter
	}
	pipe := pipeline.New(opts, pipeline.Config{
		NotificationRetention: time.Duration(cfg.NotificationRetentionDays) * 24 * time.Hour,
		DigestRetention:       time.Duration(cfg.DigestRetentionDays) * 24 * time.Hour,
	}, logger)

	if consumer != nil {
		consumer.OnOutcome(pipe.RecordOutcome)
		go consumer.Start(workerCtx)
		logger.Info("delivery consumer started", zap.String("queue_url", cfg.SQSQueueURL))
	}

	// Scheduler
	sched := scheduler.New(scheduler.Config{Location: time.UTC}, locker, logger).WithRunStore(st)
	for _, job := range pipe.Jobs(pipeline.Schedules{
		Check:   cfg.CheckSchedule,
		Digest:  cfg.DigestSchedule,
		Cleanup: cfg.CleanupSchedule,
	}) {
		if err := sched.Register(job); err != nil {
			return fmt.Errorf("failed to register job: %w", err)
		}
	}
	if cfg.SchedulerEnabled {
		sched.Start()
		logger.Info("scheduler started")
	} else {
		logger.Info("scheduler disabled, jobs run on demand only")
	}

	// HTTP
	handler := api.NewHandler(logger, st, generator, prefs, sched)
	if redisClient != nil {
		handler.AddHealthCheck("redis", redisClient.Health)
	}
	router := api.NewRouter(handler, rateLimiter, api.RouterConfig{
		RequestTimeout: 30 * time.Second,
		RateLimit: api.RateLimit{
			Limit:  cfg.APIRateLimit,
			Window: cfg.APIRateWindow,
		},
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		workerCancel()
		sched.Stop(ctx)

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// newProviders builds the external channel senders, each behind its own
// circuit breaker. A channel whose provider cannot be configured falls back
// to logging the message.
func newProviders(ctx context.Context, cfg *config.Config, logger *zap.Logger) []worker.Sender {
	var (
		providers []worker.Sender
		fallback  []alert.Channel
	)

	protect := func(name string, s worker.Sender) worker.Sender {
		bc := circuitbreaker.DefaultConfig(name)
		bc.OnStateChange = func(name string, from, to circuitbreaker.State) {
			metrics.SetBreakerState(name, int(to))
		}
		return worker.NewProtectedSender(s, circuitbreaker.New(bc, logger), logger)
	}

	ses, err := worker.NewSESSender(ctx, worker.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES sender unavailable, email is logged only", zap.Error(err))
		fallback = append(fallback, alert.ChannelEmail)
	} else {
		providers = append(providers, protect("ses", ses))
	}

	publisher, err := sns.NewPublisher(ctx, sns.Config{Region: cfg.SNSRegion, SenderID: "Herdwatch"})
	if err != nil {
		logger.Warn("SNS publisher unavailable, SMS is logged only and push is webhook only", zap.Error(err))
		fallback = append(fallback, alert.ChannelSMS)
		providers = append(providers, protect("push", worker.NewPushSender(nil, worker.PushConfig{
			WebhookTimeout: time.Duration(cfg.WebhookTimeout) * time.Second,
		}, logger)))
	} else {
		providers = append(providers,
			protect("sns", worker.NewSMSSender(publisher, logger)),
			protect("push", worker.NewPushSender(publisher, worker.PushConfig{
				WebhookTimeout: time.Duration(cfg.WebhookTimeout) * time.Second,
			}, logger)),
		)
	}

	if len(fallback) > 0 {
		providers = append(providers, worker.NewLogSender(logger, fallback...))
	}

	logger.Info("initialized delivery channels",
		zap.Int("providers", len(providers)),
		zap.Int("logged_only", len(fallback)),
	)
	return providers
}

func reportPoolStats(ctx context.Context, database *db.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(int(database.Pool().Stat().AcquiredConns()))
		}
	}
}
