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

	"sjsage522/autoadworker/config"
	"sjsage522/autoadworker/helpers"
	"sjsage522/autoadworker/internal/catalog"
	"sjsage522/autoadworker/internal/crawler"
	"sjsage522/autoadworker/internal/ingest"
	"sjsage522/autoadworker/internal/store"
	"sjsage522/autoadworker/logger"
	"sjsage522/autoadworker/services/cache"
	"sjsage522/autoadworker/services/consumer"
	"sjsage522/autoadworker/services/emitter"
	"sjsage522/autoadworker/services/metrics"
	"sjsage522/autoadworker/services/publisher"
	"sjsage522/autoadworker/services/worker"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if len(os.Args) > 1 {
		cfg.Mode = os.Args[1]
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("mode", cfg.Mode).
		Str("environment", cfg.Environment).
		Dur("crawl_interval", cfg.CrawlInterval).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize services
	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	metricsServer := startMetricsServer(cfg.MetricsAddr, services.Metrics)

	run, err := newRunner(ctx, cfg, services)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create runner")
	}

	// Start worker in a goroutine
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- run()
	}()

	// Wait for shutdown signal or worker error
	var runErr error
	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
		<-workerDone
	case runErr = <-workerDone:
		if runErr != nil {
			log.Error().Err(runErr).Msg("Worker exited with error")
		} else {
			log.Info().Msg("Worker exited normally")
		}
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		metricsServer.Shutdown(shutdownCtx)
	}

	if runErr != nil {
		services.Cleanup()
		os.Exit(1)
	}
}

// Services holds all the initialized services
type Services struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Redis     *redis.Client
	Store     *store.Store
	Metrics   *metrics.Metrics
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			logger.LogError("main", err, "Failed to close publisher")
		}
	} else if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.LogError("main", err, "Failed to close redis client")
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			logger.LogError("main", err, "Failed to close database")
		}
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{Metrics: metrics.New()}

	db, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return nil, err
	}
	services.Store = db
	logger.Info("Connected to Postgres (max open conns: %d)", cfg.DBMaxOpenConns)

	services.Redis = redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	if cfg.Mode == config.ModeCrawler {
		services.Cache = cache.NewMemcacheService(cfg.MemcacheAddr)
		logger.Info("Using Memcache at %s", cfg.MemcacheAddr)

		services.Publisher = publisher.NewRedisPublisherWithClient(
			ctx,
			services.Redis,
			[]string{cfg.TopicListings, cfg.TopicActiveIDs},
			cfg.RedisStreamCount,
			cfg.RedisStreamMaxLength,
		)
	}

	logger.Info("Connected to Redis at %s (DB: %d, streams per topic: %d)",
		cfg.RedisAddr, cfg.RedisDB, cfg.RedisStreamCount)

	return services, nil
}

// newRunner returns the blocking loop for the configured mode
func newRunner(ctx context.Context, cfg *config.Config, services *Services) (func() error, error) {
	switch cfg.Mode {
	case config.ModeCrawler:
		return newCrawlerRunner(ctx, cfg, services), nil

	case config.ModeIngest:
		proc := ingest.NewProcessor(services.Store, services.Metrics)
		c := consumer.NewRedisConsumer(services.Redis, consumerOptions(cfg, cfg.TopicListings, cfg.IngestConsumerGroup))
		return func() error {
			return c.Run(ctx, func(ctx context.Context, msg consumer.Message) error {
				_, err := proc.ProcessListing(ctx, msg.Payload)
				return err
			})
		}, nil

	case config.ModeStatus:
		proc := ingest.NewStatusProcessor(services.Store, services.Metrics)
		c := consumer.NewRedisConsumer(services.Redis, consumerOptions(cfg, cfg.TopicActiveIDs, cfg.StatusConsumerGroup))
		return func() error {
			return c.Run(ctx, func(ctx context.Context, msg consumer.Message) error {
				_, err := proc.ProcessActiveIDs(ctx, msg.Payload)
				return err
			})
		}, nil
	}

	return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
}

func newCrawlerRunner(ctx context.Context, cfg *config.Config, services *Services) func() error {
	loader := catalog.NewLoader(services.Store, services.Cache, cfg.MakeCacheTTL, cfg.MaxMakes)
	fetcher := helpers.NewHTTPFetcher(cfg.SourceName, cfg.RequestTimeout, cfg.RetryHTTPCodes, cfg.RetryTimes)
	queries := crawler.NewQueryBuilder(cfg.GraphQLEndpoint, cfg.PageSize)
	bus := emitter.NewBusEmitter(services.Publisher, cfg.TopicListings, cfg.TopicActiveIDs)

	machineCfg := crawler.MachineConfig{
		SourceName:          cfg.SourceName,
		CountryCode:         cfg.CountryCode,
		Consecutive403Limit: cfg.Consecutive403Limit,
		PauseDuration:       cfg.PauseDuration,
		GraphQLRetryDelay:   cfg.GraphQLRetryDelay,
		GraphQLMaxRetries:   cfg.GraphQLMaxRetries,
	}
	engineCfg := crawler.EngineConfig{
		Concurrency:       cfg.ConcurrentRequests,
		RequestsPerSecond: cfg.RequestRPS,
	}

	crawl := func(ctx context.Context, makes []string) error {
		m := crawler.NewMachine(machineCfg, makes, queries, services.Metrics)
		return crawler.NewEngine(m, fetcher, bus, engineCfg).Run(ctx)
	}

	w := worker.NewWorker(ctx, loader, crawl, services.Publisher, cfg.CrawlInterval)
	return w.Start
}

func consumerOptions(cfg *config.Config, topic, group string) consumer.Options {
	return consumer.Options{
		Topic:         topic,
		StreamCount:   cfg.RedisStreamCount,
		Group:         group,
		Name:          cfg.ConsumerName,
		BatchSize:     cfg.ConsumerBatchSize,
		Block:         cfg.ConsumerBlock,
		RetryInterval: cfg.ConsumerRetry,
		ClaimIdle:     cfg.ConsumerClaimIdle,
	}
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Default.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	logger.Info("Serving metrics on %s/metrics", addr)
	return srv
}
