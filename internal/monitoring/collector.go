package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// SystemMetrics is the snapshot served to health and observability surfaces.
type SystemMetrics struct {
	TotalEvents         int64              `json:"total_events"`
	EventTypes          []EventTypeMetrics `json:"event_types"`
	TopByVolume         []EventTypeMetrics `json:"top_by_volume"`
	TopByLatency        []EventTypeMetrics `json:"top_by_latency"`
	DeadLetterQueueSize int                `json:"dead_letter_queue_size"`
	ActiveSagas         int                `json:"active_sagas"`
	// StoreSize is -1 when the store could not be counted.
	StoreSize   int64        `json:"store_size"`
	Health      HealthReport `json:"health"`
	CollectedAt time.Time    `json:"collected_at"`
}

type DeadLetterCounter interface {
	DeadLetterCount() int
}

type SagaCounter interface {
	ActiveCount() int
}

type StoreSizer interface {
	Size(ctx context.Context) (int64, error)
}

// CollectorConfig wires the collector's sources. Exporter may be nil.
type CollectorConfig struct {
	Interval    time.Duration
	TopN        int
	DeadLetters DeadLetterCounter
	Sagas       SagaCounter
	Store       StoreSizer
	Exporter    *PrometheusExporter
}

// Collector snapshots the system on an interval, logs and exports it, and
// resets the monitor's counters at midnight UTC.
type Collector struct {
	monitor *Monitor
	cfg     CollectorConfig

	mu        sync.RWMutex
	last      SystemMetrics
	scheduler gocron.Scheduler
}

func NewCollector(monitor *Monitor, cfg CollectorConfig) *Collector {
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	return &Collector{monitor: monitor, cfg: cfg}
}

// Collect builds a snapshot now and exports it.
func (c *Collector) Collect(ctx context.Context) SystemMetrics {
	dlq := 0
	if c.cfg.DeadLetters != nil {
		dlq = c.cfg.DeadLetters.DeadLetterCount()
	}
	m := SystemMetrics{
		TotalEvents:         c.monitor.TotalEvents(),
		EventTypes:          c.monitor.EventTypeMetrics(),
		TopByVolume:         c.monitor.TopByVolume(c.cfg.TopN),
		TopByLatency:        c.monitor.TopByLatency(c.cfg.TopN),
		DeadLetterQueueSize: dlq,
		Health:              c.monitor.Health(dlq),
		CollectedAt:         c.monitor.clock.Now(),
	}
	if c.cfg.Sagas != nil {
		m.ActiveSagas = c.cfg.Sagas.ActiveCount()
	}
	if c.cfg.Store != nil {
		size, err := c.cfg.Store.Size(ctx)
		if err != nil {
			slog.Warn("[Monitoring] Failed to count stored events", "error", err)
			size = -1
		}
		m.StoreSize = size
	}

	if c.cfg.Exporter != nil {
		c.cfg.Exporter.Observe(m)
	}

	c.mu.Lock()
	c.last = m
	c.mu.Unlock()
	return m
}

// Last returns the most recent snapshot.
func (c *Collector) Last() SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collectAndLog(ctx context.Context) {
	m := c.Collect(ctx)
	attrs := []any{
		"total_events", m.TotalEvents,
		"event_types", len(m.EventTypes),
		"dead_letters", m.DeadLetterQueueSize,
		"active_sagas", m.ActiveSagas,
		"store_size", m.StoreSize,
		"health", m.Health.Status,
	}
	if m.Health.Status != StatusHealthy {
		slog.Warn("[Monitoring] System degraded", append(attrs, "issues", m.Health.Issues)...)
		return
	}
	slog.Info("[Monitoring] System metrics", attrs...)
}

// Start schedules collection and the daily reset. Stop ends them.
func (c *Collector) Start(ctx context.Context) error {
	if c.cfg.Interval <= 0 {
		return fmt.Errorf("collector interval must be > 0")
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(c.cfg.Interval),
		gocron.NewTask(func() { c.collectAndLog(ctx) }),
		gocron.WithName("metrics-collect"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("failed to schedule collection: %w", err)
	}

	if _, err := scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(func() {
			c.monitor.Reset()
			slog.Info("[Monitoring] Daily counters reset")
		}),
		gocron.WithName("metrics-daily-reset"),
	); err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("failed to schedule daily reset: %w", err)
	}

	c.mu.Lock()
	c.scheduler = scheduler
	c.mu.Unlock()

	scheduler.Start()
	slog.Info("[Monitoring] Collector started", "interval", c.cfg.Interval)
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	scheduler := c.scheduler
	c.scheduler = nil
	c.mu.Unlock()

	if scheduler == nil {
		return nil
	}
	if err := scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop collector: %w", err)
	}
	slog.Info("[Monitoring] Collector stopped")
	return nil
}
