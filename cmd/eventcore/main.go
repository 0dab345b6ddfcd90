package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aevon-lab/eventcore/internal/admin"
	"github.com/aevon-lab/eventcore/internal/contract"
	corecfg "github.com/aevon-lab/eventcore/internal/core/config"
	"github.com/aevon-lab/eventcore/internal/core/storage"
	"github.com/aevon-lab/eventcore/internal/core/storage/memory"
	"github.com/aevon-lab/eventcore/internal/core/storage/postgres"
	"github.com/aevon-lab/eventcore/internal/core/storage/redisstore"
	"github.com/aevon-lab/eventcore/internal/eventbus"
	"github.com/aevon-lab/eventcore/internal/eventstore"
	"github.com/aevon-lab/eventcore/internal/ingestion"
	"github.com/aevon-lab/eventcore/internal/migrations"
	"github.com/aevon-lab/eventcore/internal/monitoring"
	"github.com/aevon-lab/eventcore/internal/replay"
	"github.com/aevon-lab/eventcore/internal/saga"
	"github.com/aevon-lab/eventcore/internal/server"
	"github.com/aevon-lab/eventcore/internal/snapshot"
	"github.com/aevon-lab/eventcore/internal/workflow/scoring"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type repositories struct {
	events      storage.EventRepository
	sagas       storage.SagaRepository
	deadLetters storage.DeadLetterRepository
	db          *sql.DB
	close       func()
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configPath); err != nil {
		slog.Error("Startup failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(configPath string) error {
	// 1. Load Configuration
	cfg, err := corecfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	durations, err := cfg.ParseDurations()
	if err != nil {
		return err
	}
	slog.Info("Loaded config",
		"database", cfg.Database.Type,
		"saga_store", cfg.Saga.Store,
		"contracts", cfg.Contracts.Enabled,
		"monitoring", cfg.Monitoring.Enabled)

	// 2. Initialize Storage
	repos, err := openRepositories(cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	healthChecks := []server.Option{}
	if repos.db != nil {
		healthChecks = append(healthChecks, server.WithHealthCheck("postgres", server.PingFunc(repos.db.PingContext)))
	}

	// 2.1. Saga persistence (optional Redis backend)
	sagaRepo := repos.sagas
	if cfg.Saga.Store == "redis" {
		client := redisstore.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer client.Close()
		sagaRepo = redisstore.NewSagaStore(client, cfg.Redis.KeyPrefix, durations.RedisTerminalTTL)
		healthChecks = append(healthChecks, server.WithHealthCheck("redis", server.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})))
		slog.Info("Saga state stored in Redis", "addr", cfg.Redis.Addr)
	}

	// 3. Monitoring
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter := monitoring.NewPrometheusExporter(registry)
	monitor := monitoring.NewMonitor(monitoring.Thresholds{
		MinSuccessRate:    cfg.Monitoring.MinSuccessRate,
		MinRateSamples:    cfg.Monitoring.MinRateSamples,
		MaxAvgLatency:     durations.MaxAvgLatency,
		MinLatencySamples: cfg.Monitoring.MinLatencySamples,
		MaxDeadLetters:    cfg.Monitoring.MaxDeadLetters,
	})

	// 4. Event store and bus
	store := eventstore.New(repos.events)

	busOpts := []eventbus.Option{
		eventbus.WithDeadLetterRepository(repos.deadLetters),
		eventbus.WithRecorder(monitoring.Recorders{monitor, exporter}),
	}
	var contracts *contract.Registry
	if cfg.Contracts.Enabled {
		contracts = contract.NewRegistry(contract.NewFileSource(cfg.Contracts.Path),
			contract.WithStrictProto(cfg.Contracts.StrictProto))
		busOpts = append(busOpts, eventbus.WithValidator(contracts))
		slog.Info("Payload contracts enabled", "path", cfg.Contracts.Path)
	}

	bus := eventbus.New(store, eventbus.Options{
		MaxRetries:                cfg.Bus.MaxRetries,
		RetryDelay:                durations.RetryDelay,
		HandlerTimeout:            durations.HandlerTimeout,
		MaxConcurrentHandlers:     cfg.Bus.MaxConcurrentHandlers,
		DeadLetterPublishFailures: cfg.Bus.DeadLetterPublishFailures,
	}, busOpts...)

	startupCtx := context.Background()
	if err := bus.LoadDeadLetters(startupCtx); err != nil {
		return fmt.Errorf("failed to load dead letters: %w", err)
	}

	// 5. Sagas
	manager := saga.NewManager(sagaRepo, saga.WithStepTimeout(durations.StepTimeout))

	var workflow *scoring.Workflow
	if cfg.Scoring.Enabled {
		scorer, err := scoring.NewScorer(cfg.Scoring.Weights, cfg.Scoring.PassThreshold, cfg.Scoring.Precision)
		if err != nil {
			return fmt.Errorf("invalid scoring config: %w", err)
		}
		workflow = scoring.New(bus, store, scorer)
		workflow.Register(manager)
	}

	// 6. Replay, snapshots, metrics collection
	replaySvc := replay.NewService(store, bus, replay.Options{
		BatchSize: cfg.Replay.BatchSize,
		Workers:   cfg.Replay.Workers,
	})
	snapshotSvc := snapshot.NewService(store)
	collector := monitoring.NewCollector(monitor, monitoring.CollectorConfig{
		Interval:    durations.MonitoringInterval,
		TopN:        cfg.Monitoring.TopN,
		DeadLetters: bus,
		Sagas:       manager,
		Store:       store,
		Exporter:    exporter,
	})

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode,
		append(healthChecks, server.WithMetrics(registry))...)

	ingestion.NewService(bus, store, cfg.Server.MaxBodySizeMB, cfg.Server.MaxBatchSize).
		RegisterRoutes(srv.Engine)

	deps := admin.Deps{
		DeadLetters: bus,
		Sagas:       manager,
		Replay:      replaySvc,
		Snapshots:   snapshotSvc,
		Metrics:     collector,
	}
	if contracts != nil {
		deps.Contracts = contracts
	}
	if workflow != nil {
		deps.Scoring = workflow
	}
	admin.NewService(deps).RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.Enabled {
		if err := collector.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := collector.Stop(); err != nil {
				slog.Error("Failed to stop collector", "error", err)
			}
		}()
	} else {
		slog.Info("Metrics collector disabled by config")
	}

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func openRepositories(cfg *corecfg.Config) (*repositories, error) {
	if cfg.Database.Type == "memory" {
		slog.Warn("Using in-memory storage; data is lost on restart")
		mem := memory.NewStore()
		return &repositories{events: mem, sagas: mem, deadLetters: mem, close: func() {}}, nil
	}

	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &repositories{
		events:      adapter,
		sagas:       postgres.NewSagaAdapter(db),
		deadLetters: postgres.NewDeadLetterAdapter(db),
		db:          db,
		close: func() {
			if err := adapter.Close(); err != nil {
				slog.Error("Failed to close database", "error", err)
			}
		},
	}, nil
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
