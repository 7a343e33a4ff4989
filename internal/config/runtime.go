package config

import (
	"fmt"
	"time"

	pkgconfig "newsrun/internal/pkg/config"
)

// RuntimeConfig holds every tunable knob spec.md §6 names for the task
// runtime, scan pipeline, provider gateway, and topic jobs. It follows
// the same fail-open loading strategy as internal/infra/worker.Config:
// start from DefaultRuntimeConfig, overlay environment variables, and
// fall back to the default on a bad value rather than refusing to
// start. The loaders' warnings are discarded, not logged.
type RuntimeConfig struct {
	// Worker pool sizes per queue class (spec §4.1 "fixed pool of workers").
	HighWorkers   int
	NormalWorkers int
	LowWorkers    int

	// WorkerRecycleAfter bounds memory growth (spec §6 worker_max_tasks_per_child).
	WorkerRecycleAfter int

	// ResultTTL / BrokerVisibilityTimeout (spec §6).
	ResultTTL               time.Duration
	BrokerVisibilityTimeout time.Duration

	// Scan pipeline knobs (spec §6).
	MaxConcurrentPerSource int
	ScanStaggerSeconds     int
	RequestTimeout         time.Duration
	RequestDelayMillis     int
	ArticleMaxRetries      int

	// Topic grouping knobs (spec §6).
	RollingSimilarityThreshold float64
	RollingMinGroupSize        int
	DailySimilarityThreshold   float64
	DailyMinGroupSize          int
	DailyMaxArticles           int
	DailyWindowDays            int

	// Provider Gateway knobs (spec §4.3, §6).
	ProviderMinIntervalSeconds float64
	ProviderQuotaSoftPct       float64

	// Timezone the periodic scheduler's cron expressions are evaluated
	// in (spec §6 "Periodic schedule (UTC)").
	SchedulerTimezone string
}

// DefaultRuntimeConfig returns spec.md §6's documented defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		HighWorkers:   2,
		NormalWorkers: 8,
		LowWorkers:    2,

		WorkerRecycleAfter: 50,

		ResultTTL:               time.Hour,
		BrokerVisibilityTimeout: time.Hour,

		MaxConcurrentPerSource: 5,
		ScanStaggerSeconds:     30,
		RequestTimeout:         30 * time.Second,
		RequestDelayMillis:     100,
		ArticleMaxRetries:      2,

		RollingSimilarityThreshold: 0.75,
		RollingMinGroupSize:        2,
		DailySimilarityThreshold:   0.80,
		DailyMinGroupSize:          5,
		DailyMaxArticles:           500,
		DailyWindowDays:            7,

		ProviderMinIntervalSeconds: 1.0,
		ProviderQuotaSoftPct:       90,

		SchedulerTimezone: "UTC",
	}
}

// Validate reports whether c's fields are within the ranges spec.md §6
// documents. Mirrors worker.WorkerConfig.Validate's aggregated-error
// style.
func (c *RuntimeConfig) Validate() error {
	var errs []error
	if err := pkgconfig.ValidateIntRange(c.HighWorkers, 1, 100); err != nil {
		errs = append(errs, fmt.Errorf("high workers: %w", err))
	}
	if err := pkgconfig.ValidateIntRange(c.NormalWorkers, 1, 100); err != nil {
		errs = append(errs, fmt.Errorf("normal workers: %w", err))
	}
	if err := pkgconfig.ValidateIntRange(c.LowWorkers, 1, 100); err != nil {
		errs = append(errs, fmt.Errorf("low workers: %w", err))
	}
	if err := pkgconfig.ValidateIntRange(c.WorkerRecycleAfter, 1, 10000); err != nil {
		errs = append(errs, fmt.Errorf("worker recycle after: %w", err))
	}
	if err := pkgconfig.ValidatePositiveDuration(c.ResultTTL); err != nil {
		errs = append(errs, fmt.Errorf("result ttl: %w", err))
	}
	if err := pkgconfig.ValidatePositiveDuration(c.BrokerVisibilityTimeout); err != nil {
		errs = append(errs, fmt.Errorf("broker visibility timeout: %w", err))
	}
	if err := pkgconfig.ValidateIntRange(c.MaxConcurrentPerSource, 1, 50); err != nil {
		errs = append(errs, fmt.Errorf("max concurrent per source: %w", err))
	}
	if err := pkgconfig.ValidateTimezone(c.SchedulerTimezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler timezone: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("runtime config validation failed: %v", errs)
	}
	return nil
}

// LoadRuntimeConfigFromEnv loads RuntimeConfig from environment
// variables with the fail-open strategy the teacher's
// worker.LoadConfigFromEnv uses: start from defaults, overlay each
// `NEWSRUN_*` variable that parses and validates, otherwise keep the
// default and continue.
func LoadRuntimeConfigFromEnv() RuntimeConfig {
	cfg := DefaultRuntimeConfig()

	cfg.HighWorkers = pkgconfig.LoadEnvInt("NEWSRUN_HIGH_WORKERS", cfg.HighWorkers,
		func(v int) error { return pkgconfig.ValidateIntRange(v, 1, 100) }).Value.(int)
	cfg.NormalWorkers = pkgconfig.LoadEnvInt("NEWSRUN_NORMAL_WORKERS", cfg.NormalWorkers,
		func(v int) error { return pkgconfig.ValidateIntRange(v, 1, 100) }).Value.(int)
	cfg.LowWorkers = pkgconfig.LoadEnvInt("NEWSRUN_LOW_WORKERS", cfg.LowWorkers,
		func(v int) error { return pkgconfig.ValidateIntRange(v, 1, 100) }).Value.(int)
	cfg.WorkerRecycleAfter = pkgconfig.LoadEnvInt("NEWSRUN_WORKER_RECYCLE_AFTER", cfg.WorkerRecycleAfter, nil).Value.(int)

	cfg.ResultTTL = pkgconfig.LoadEnvDuration("NEWSRUN_RESULT_TTL", cfg.ResultTTL, pkgconfig.ValidatePositiveDuration).Value.(time.Duration)
	cfg.BrokerVisibilityTimeout = pkgconfig.LoadEnvDuration("NEWSRUN_BROKER_VISIBILITY_TIMEOUT", cfg.BrokerVisibilityTimeout, pkgconfig.ValidatePositiveDuration).Value.(time.Duration)

	cfg.MaxConcurrentPerSource = pkgconfig.LoadEnvInt("NEWSRUN_MAX_CONCURRENT_SCANS", cfg.MaxConcurrentPerSource,
		func(v int) error { return pkgconfig.ValidateIntRange(v, 1, 50) }).Value.(int)
	cfg.ScanStaggerSeconds = pkgconfig.LoadEnvInt("NEWSRUN_SCAN_STAGGER_SECONDS", cfg.ScanStaggerSeconds, nil).Value.(int)
	cfg.RequestTimeout = pkgconfig.LoadEnvDuration("NEWSRUN_REQUEST_TIMEOUT", cfg.RequestTimeout, pkgconfig.ValidatePositiveDuration).Value.(time.Duration)
	cfg.RequestDelayMillis = pkgconfig.LoadEnvInt("NEWSRUN_REQUEST_DELAY_MS", cfg.RequestDelayMillis, nil).Value.(int)
	cfg.ArticleMaxRetries = pkgconfig.LoadEnvInt("NEWSRUN_MAX_RETRIES", cfg.ArticleMaxRetries, nil).Value.(int)

	cfg.SchedulerTimezone = pkgconfig.LoadEnvString("NEWSRUN_SCHEDULER_TIMEZONE", cfg.SchedulerTimezone)

	if err := cfg.Validate(); err != nil {
		// Fail open: when the combined config does not validate, drop
		// every environment override and return the defaults rather
		// than refusing to start.
		return DefaultRuntimeConfig()
	}
	return cfg
}
