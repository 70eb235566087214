package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"ai_gateway/internal/clock"
	"ai_gateway/internal/config"
	"ai_gateway/internal/credentials"
	"ai_gateway/internal/gateway"
	"ai_gateway/internal/logging"
	"ai_gateway/internal/metrics"
	"ai_gateway/internal/models"
	"ai_gateway/internal/nodes"
	"ai_gateway/internal/providers"
	"ai_gateway/internal/queue"
	"ai_gateway/internal/router"
	"ai_gateway/internal/storage"
	"ai_gateway/internal/usage"
)

// Services owns every long-lived component behind the HTTP API.
type Services struct {
	Handler http.Handler
	Deps    *Dependencies

	Config   *config.Config
	DB       *storage.DB   // nil when running on in-memory stores
	Redis    *redis.Client // nil when Redis is not configured
	Factory  *providers.Factory
	Registry *nodes.Registry
	Router   *router.Router
	Gateway  *gateway.Gateway
	Metrics  *metrics.Metrics

	monitor     *nodes.Monitor
	worker      *usage.Worker
	recorder    *usage.Recorder
	usageQueue  queue.Queue[models.UsageRecord]
	usageDLQ    queue.DeadLetters[models.UsageRecord]
	stopWatcher context.CancelFunc
	logger      *logging.Logger
}

// NewServices builds the gateway from cfg. Postgres and Redis are used when
// configured; otherwise nodes, credentials and usage live in memory.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{
		Config:  cfg,
		Metrics: metrics.New(),
		logger:  logging.NewLogger("services"),
	}

	enc, err := storage.NewEncryptionFromSecret(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// Storage backends
	var (
		nodeStore   nodes.Store
		credRepo    credentials.Repository
		usageWriter interface {
			usage.Writer
			UsageReader
		}
	)
	if cfg.Database.URL != "" {
		db, err := storage.NewDB(storage.DBConfig{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		s.DB = db
		nodeStore = db.NewNodeRepository()
		credRepo = db.NewCredentialRepository()
		usageWriter = db.NewUsageRepository()
	} else {
		s.logger.Warn("DATABASE_URL not set, using in-memory stores")
		nodeStore = nodes.NewMemoryStore()
		credRepo = credentials.NewMemoryRepository()
		usageWriter = usage.NewMemoryWriter()
	}

	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			s.closeStores()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.Redis = client
	}

	// Providers and credentials
	factory, err := providers.NewFactory(cfg.Provider.Cloud, cfg.Provider.RequestTimeout)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	s.Factory = factory

	creds := credentials.NewStore(credRepo, enc, cfg.Cache.CredentialTTL, cfg.Cache.CleanupInterval)
	for _, c := range cfg.Provider.Cloud {
		if err := creds.SetSystemKey(c.Name, c.SystemAPIKey()); err != nil {
			s.closeStores()
			return nil, err
		}
	}

	// Node registry and health monitor
	registryOpts := []nodes.Option{
		nodes.WithHealthTimeout(cfg.Health.Timeout),
		nodes.WithListener(s.Metrics),
	}
	if s.Redis != nil {
		registryOpts = append(registryOpts, nodes.WithListener(nodes.NewRedisHealthPublisher(s.Redis, cfg.Redis.HealthTopic)))
	}
	s.Registry = nodes.NewRegistry(nodeStore, factory.Prober(), registryOpts...)
	if err := s.Registry.Load(ctx); err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	s.monitor = nodes.NewMonitor(s.Registry, clock.Real(), cfg.Health.Interval)

	// Router
	s.Router, err = router.New(s.Registry, factory, creds, cfg.Routing)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	// Usage pipeline
	if s.Redis != nil {
		if s.usageQueue, err = queue.NewRedis[models.UsageRecord](s.Redis, cfg.Usage.QueueName); err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to create usage queue: %w", err)
		}
		if s.usageDLQ, err = queue.NewRedisDeadLetters[models.UsageRecord](s.Redis, cfg.Usage.QueueName); err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to create usage DLQ: %w", err)
		}
	} else {
		s.usageQueue = queue.NewMemory[models.UsageRecord](cfg.Usage.BatchSize * 10)
		s.usageDLQ = queue.NewMemoryDeadLetters[models.UsageRecord]()
	}

	s.worker = usage.NewWorker(s.usageQueue, s.usageDLQ, usageWriter, usage.WorkerConfig{
		BatchSize:     cfg.Usage.BatchSize,
		FlushInterval: cfg.Usage.FlushInterval,
		MaxRetries:    cfg.Usage.MaxRetries,
		Backoff:       cfg.Usage.RetryBackoff,
	})
	if cfg.Archive.Enabled {
		archiver, err := usage.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to initialize usage archive: %w", err)
		}
		s.worker.SetArchiver(archiver)
	}

	s.Metrics.RegisterGauge("usage_queue_length", "Usage records waiting to be persisted", func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := s.usageQueue.Len(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	})
	if s.DB != nil {
		db := s.DB
		s.Metrics.RegisterGauge("db_open_connections", "Open database connections", func() float64 {
			return float64(db.Stats().OpenConnections)
		})
		s.Metrics.RegisterGauge("db_in_use_connections", "Database connections currently in use", func() float64 {
			return float64(db.Stats().InUse)
		})
	}

	// Gateway
	s.recorder = usage.NewRecorder(s.usageQueue, cfg.Usage.EnqueueTimeout)
	s.Gateway = gateway.New(s.Router,
		gateway.WithObserver(s.recorder),
		gateway.WithObserver(usage.NewLogObserver()),
		gateway.WithObserver(s.Metrics),
	)

	s.Deps = &Dependencies{
		Gateway:     s.Gateway,
		Models:      s.Router,
		Clouds:      factory,
		Credentials: creds,
		Nodes:       s.Registry,
		Usage:       usageWriter,
		DeadLetters: s.worker,
		Metrics:     s.Metrics,
		JWTSecret:   cfg.JWTSecret,
		Ready:       s.ready,
	}
	s.Handler = NewRouter(s.Deps)
	return s, nil
}

// Start launches the background loops: health monitor, usage worker and,
// when a config file is set, the routing hot reload.
func (s *Services) Start(ctx context.Context) {
	s.monitor.Start(ctx)
	s.worker.Start(ctx)

	if s.Config.ConfigFile != "" {
		watchCtx, cancel := context.WithCancel(ctx)
		s.stopWatcher = cancel
		go func() {
			err := config.Watch(watchCtx, s.Config.ConfigFile, s.Config.Routing, func(rc config.RoutingConfig) {
				if err := s.Router.SetConfig(rc); err != nil {
					s.logger.Warn("Rejected routing reload", "error", err)
				}
			})
			if err != nil {
				s.logger.Error("Config watcher stopped", "error", err)
			}
		}()
	}
}

// Shutdown stops the background loops, flushes queued usage and releases
// connections. Call after the HTTP server has stopped accepting requests.
func (s *Services) Shutdown(ctx context.Context) error {
	if s.stopWatcher != nil {
		s.stopWatcher()
	}
	s.monitor.Stop()

	done := make(chan struct{})
	go func() {
		s.recorder.Wait()
		_ = s.worker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Usage worker did not drain before shutdown deadline")
	}

	_ = s.usageQueue.Close()
	_ = s.usageDLQ.Close()
	s.Factory.Close()
	s.closeStores()
	return nil
}

func (s *Services) closeStores() {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			s.logger.Warn("Failed to close database", "error", err)
		}
	}
}

func (s *Services) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if s.DB != nil {
		if err := s.DB.Health(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
