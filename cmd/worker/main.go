package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"newsrun/internal/adminapi"
	"newsrun/internal/config"
	"newsrun/internal/dailytopic"
	"newsrun/internal/domain/entity"
	"newsrun/internal/embedding"
	"newsrun/internal/infra/db"
	workerPkg "newsrun/internal/infra/worker"
	"newsrun/internal/mlclient"
	"newsrun/internal/notify"
	"newsrun/internal/notify/transport"
	"newsrun/internal/obsmetrics"
	"newsrun/internal/provider"
	"newsrun/internal/scan"
	pgRepo "newsrun/internal/storage/postgres"
	"newsrun/internal/summary"
	"newsrun/internal/taskruntime"
)

func main() {
	logger := initLogger()
	database := db.Open()
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()
	waitForMigrations(logger, database)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtimeConfig := config.LoadRuntimeConfigFromEnv()
	logger.Info("runtime configuration loaded",
		slog.Int("high_workers", runtimeConfig.HighWorkers),
		slog.Int("normal_workers", runtimeConfig.NormalWorkers),
		slog.Int("low_workers", runtimeConfig.LowWorkers),
		slog.String("scheduler_timezone", runtimeConfig.SchedulerTimezone))

	sources := pgRepo.NewSourceRepo(database)
	articles := pgRepo.NewArticleRepo(database)
	embeddings := pgRepo.NewArticleEmbeddingRepo(database)
	topics := pgRepo.NewTopicRepo(database)
	tasks := pgRepo.NewTaskRepo(database)

	gateway := buildProviderGateway(logger)
	mlClient := buildMLClient(logger)
	notifySvc := buildNotifyService(logger)

	registry := taskruntime.NewRegistry()
	taskMetrics := obsmetrics.NewTaskRuntimeMetrics()
	pools := map[entity.QueueClass]taskruntime.WorkerPoolConfig{
		entity.QueueHigh:   workerPoolFor(runtimeConfig.HighWorkers),
		entity.QueueNormal: workerPoolFor(runtimeConfig.NormalWorkers),
		entity.QueueLow:    workerPoolFor(runtimeConfig.LowWorkers),
	}
	rt := taskruntime.New(tasks, registry, taskMetrics, logger, pools)

	scanSvc := scan.NewService(sources, articles,
		scan.NewGofeedFetcher(),
		scan.NewReadabilityExtractor(scan.DefaultExtractConfig()),
		rt, obsmetrics.NewScanMetrics(), logger, scan.Config{
			StaggerInterval:        time.Duration(runtimeConfig.ScanStaggerSeconds) * time.Second,
			MaxConcurrentPerSource: runtimeConfig.MaxConcurrentPerSource,
			MaxRetries:             runtimeConfig.ArticleMaxRetries,
		})
	scanSvc.Observer = notifySvc

	summarySvc := summary.NewService(articles, gateway, rt, summary.DefaultSystemPrompt)
	embeddingSvc := embedding.NewService(articles, embeddings, mlClient, logger)
	dailyTopicSvc := dailytopic.NewService(articles, topics, mlClient, gateway, logger)
	dailyTopicSvc.Threshold = runtimeConfig.DailySimilarityThreshold
	dailyTopicSvc.MinGroupSize = runtimeConfig.DailyMinGroupSize
	dailyTopicSvc.MaxArticles = runtimeConfig.DailyMaxArticles
	dailyTopicSvc.WindowDays = runtimeConfig.DailyWindowDays

	registerTasks(registry, scanSvc, summarySvc, embeddingSvc, dailyTopicSvc, rt)

	loc, err := time.LoadLocation(runtimeConfig.SchedulerTimezone)
	if err != nil {
		logger.Warn("invalid scheduler timezone, falling back to UTC",
			slog.String("timezone", runtimeConfig.SchedulerTimezone), slog.Any("error", err))
		loc = time.UTC
	}
	scheduler := buildScheduler(rt, loc, logger)

	// adminapi.API is the surface an HTTP layer would call for manual
	// submit/cancel/status/trigger-scan operations; this process itself
	// only drives the scheduler and worker pools.
	_ = adminapi.New(rt, tasks)

	healthServer := workerPkg.NewHealthServer(":9091", logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	startMetricsServer(ctx, logger, notifySvc)

	rt.Start(ctx)
	scheduler.Start()
	healthServer.SetReady(true)
	logger.Info("task runtime started", slog.Int("registered_tasks", len(registry.Names())))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining task runtime")
	scheduler.Stop()
	rt.Stop()

	if notifySvc != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := notifySvc.Shutdown(shutdownCtx); err != nil {
			logger.Warn("notify service shutdown timed out", slog.Any("error", err))
		}
	}
}

// waitForMigrations blocks until the sources table is queryable, mirroring
// the teacher's own readiness probe before serving traffic.
func waitForMigrations(logger *slog.Logger, database *sql.DB) {
	const probe = "SELECT 1 FROM sources LIMIT 1"
	for i := 0; i < 10; i++ {
		if _, err := database.Exec(probe); err == nil {
			return
		}
		logger.Info("waiting for migrations, retrying in 3s", slog.Int("attempt", i+1))
		time.Sleep(3 * time.Second)
	}
	log.Fatal("migrations did not complete in time")
}

func initLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

func workerPoolFor(workers int) taskruntime.WorkerPoolConfig {
	if workers <= 0 {
		workers = 1
	}
	return taskruntime.DefaultWorkerPoolConfig(workers)
}

// buildProviderGateway wires the C1 Provider Gateway with an OpenAI
// primary and a Claude fallback (spec §4.3: "primary (local) and
// fallback (remote)"). A missing API key simply leaves that backend
// nil; the Gateway tolerates either side being absent.
func buildProviderGateway(logger *slog.Logger) *provider.Gateway {
	var primary, fallback provider.Backend

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			model = "gpt-4o-mini"
		}
		primary = provider.NewOpenAIBackend(key, model, 1024)
		logger.Info("provider gateway: OpenAI backend enabled", slog.String("model", model))
	} else {
		logger.Warn("provider gateway: OPENAI_API_KEY not set, primary backend disabled")
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		model := os.Getenv("ANTHROPIC_MODEL")
		if model == "" {
			model = "claude-3-5-haiku-20241022"
		}
		fallback = provider.NewClaudeBackend(key, model, 1024)
		logger.Info("provider gateway: Claude fallback backend enabled", slog.String("model", model))
	} else {
		logger.Warn("provider gateway: ANTHROPIC_API_KEY not set, fallback backend disabled")
	}

	return provider.New(primary, fallback, provider.DefaultGatewayConfig(), logger)
}

// buildMLClient wires the C2 ML Client against the remote embedding/
// topic service's HTTP/JSON contract (spec §6).
func buildMLClient(logger *slog.Logger) mlclient.Client {
	baseURL := os.Getenv("ML_SERVICE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	return mlclient.NewHTTPClient(baseURL, 30*time.Second, obsmetrics.NewMLClientMetrics(), logger)
}

// buildNotifyService wires Discord/Slack channels as the scan pipeline's
// optional new-article observer (spec §2's "new article" event),
// adapted from the teacher's per-channel circuit-breaker notification
// idiom. Returns nil when no channel is enabled.
func buildNotifyService(logger *slog.Logger) notify.Service {
	var channels []notify.Channel
	if dc := loadDiscordConfig(logger); dc.Enabled {
		channels = append(channels, notify.NewDiscordChannel(dc))
	}
	if sc := loadSlackConfig(logger); sc.Enabled {
		channels = append(channels, notify.NewSlackChannel(sc))
	}
	if len(channels) == 0 {
		logger.Info("notify service: no notification channels enabled")
		return nil
	}
	return notify.NewService(channels, 10)
}

func loadDiscordConfig(logger *slog.Logger) transport.DiscordConfig {
	if os.Getenv("DISCORD_ENABLED") != "true" {
		return transport.DiscordConfig{Enabled: false}
	}
	webhookURL := os.Getenv("DISCORD_WEBHOOK_URL")
	u, err := url.Parse(webhookURL)
	if webhookURL == "" || err != nil || u.Scheme != "https" || u.Host != "discord.com" ||
		!strings.HasPrefix(u.Path, "/api/webhooks/") {
		logger.Warn("invalid or missing Discord webhook configuration, disabling channel")
		return transport.DiscordConfig{Enabled: false}
	}
	return transport.DiscordConfig{Enabled: true, WebhookURL: webhookURL, Timeout: 30 * time.Second}
}

func loadSlackConfig(logger *slog.Logger) transport.SlackConfig {
	if os.Getenv("SLACK_ENABLED") != "true" {
		return transport.SlackConfig{Enabled: false}
	}
	webhookURL := os.Getenv("SLACK_WEBHOOK_URL")
	u, err := url.Parse(webhookURL)
	if webhookURL == "" || err != nil || u.Scheme != "https" || u.Host != "hooks.slack.com" ||
		!strings.HasPrefix(u.Path, "/services/") {
		logger.Warn("invalid or missing Slack webhook configuration, disabling channel")
		return transport.SlackConfig{Enabled: false}
	}
	return transport.SlackConfig{Enabled: true, WebhookURL: webhookURL, Timeout: 30 * time.Second}
}

// registerTasks populates the registry with every handler spec.md §4.1's
// canonical policy table names, each bound to its retry policy.
func registerTasks(registry *taskruntime.Registry, scanSvc *scan.Service, summarySvc *summary.Service,
	embeddingSvc *embedding.Service, dailyTopicSvc *dailytopic.Service, rt *taskruntime.Runtime) {

	registry.Register(taskruntime.TaskSpec{
		Name: scan.TaskNameFanOut, Queue: entity.QueueLow, Priority: 3,
		Retry: taskruntime.FanOutPolicy, Handler: scanSvc.FanOutHandler,
	})
	registry.Register(taskruntime.TaskSpec{
		Name: scan.TaskNameSource, Queue: entity.QueueNormal, Priority: 3,
		Retry: taskruntime.ScheduledScanPolicy, Handler: scanSvc.ScanSourceHandler,
	})
	registry.Register(taskruntime.TaskSpec{
		Name: summary.TaskName, Queue: entity.QueueNormal, Priority: scan.SummarizePriority,
		Retry: taskruntime.SummaryPolicy, Handler: summarySvc.Handler,
	})
	registry.Register(taskruntime.TaskSpec{
		Name: embedding.TaskNameContentEmbedding, Queue: entity.QueueNormal, Priority: scan.EmbedContentPriority,
		Retry: taskruntime.EmbeddingPolicy, Handler: embeddingSvc.ContentEmbeddingHandler,
	})
	registry.Register(taskruntime.TaskSpec{
		Name: embedding.TaskNameSummaryEmbedding, Queue: entity.QueueNormal, Priority: summary.EmbedSummaryPriority,
		Retry: taskruntime.EmbeddingPolicy, Handler: embeddingSvc.SummaryEmbeddingHandler,
	})
	registry.Register(taskruntime.TaskSpec{
		Name: embedding.TaskNameTopicAnalysis, Queue: entity.QueueNormal, Priority: scan.TopicAnalysisPriority,
		Retry: taskruntime.EmbeddingPolicy, Handler: embeddingSvc.TopicAnalysisHandler,
	})
	registry.Register(taskruntime.TaskSpec{
		Name: embedding.TaskNameBatchBackfill, Queue: entity.QueueLow, Priority: 1,
		Retry: taskruntime.FanOutPolicy, Handler: embeddingSvc.BatchBackfillHandler(rt, 50),
	})
	registry.Register(taskruntime.TaskSpec{
		Name: dailytopic.TaskName, Queue: entity.QueueLow, Priority: 2,
		Retry: taskruntime.FanOutPolicy, Handler: dailyTopicSvc.Handler,
	})
}

// buildScheduler wires spec.md §6's periodic schedule table: a
// scheduled-scan trigger hourly, a summary/embedding backlog sweep
// every 30 minutes, an hourly daily-topics rebuild, and a weekly full
// backfill sweep on Sunday at 02:00.
func buildScheduler(rt *taskruntime.Runtime, loc *time.Location, logger *slog.Logger) *taskruntime.Scheduler {
	scheduler := taskruntime.NewScheduler(rt, loc, logger)

	entries := []taskruntime.ScheduleEntry{
		{Name: "scheduled-scan-trigger", Cron: "0 * * * *", Task: scan.TaskNameFanOut, Queue: entity.QueueLow, Priority: 3},
		{Name: "summary-backlog-sweep", Cron: "*/30 * * * *", Task: embedding.TaskNameBatchBackfill, Queue: entity.QueueLow, Priority: 2},
		{Name: "daily-topics-rebuild", Cron: "0 * * * *", Task: dailytopic.TaskName, Queue: entity.QueueLow, Priority: 2},
		{Name: "weekly-topic-pipeline", Cron: "0 2 * * 0", Task: embedding.TaskNameBatchBackfill, Queue: entity.QueueLow, Priority: 1},
	}
	for _, entry := range entries {
		if err := scheduler.AddSchedule(entry); err != nil {
			logger.Error("failed to register periodic schedule", slog.String("schedule", entry.Name), slog.Any("error", err))
		}
	}
	return scheduler
}
