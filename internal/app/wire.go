package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/stockast/internal/briefing"
	"github.com/hitoshi/stockast/internal/cache"
	"github.com/hitoshi/stockast/internal/collector"
	"github.com/hitoshi/stockast/internal/config"
	"github.com/hitoshi/stockast/internal/database"
	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/market"
	"github.com/hitoshi/stockast/internal/metrics"
	"github.com/hitoshi/stockast/internal/popularity"
	"github.com/hitoshi/stockast/internal/queue"
	"github.com/hitoshi/stockast/internal/repository"
	"github.com/hitoshi/stockast/internal/runtracker"
	"github.com/hitoshi/stockast/internal/security"
	"github.com/hitoshi/stockast/internal/summarizer"
)

// components はserve/worker/triggerで共有する依存関係。
type components struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  *edition.Clock

	db  *sql.DB
	rdb *redis.Client // REDIS_URL未設定のmemoryバックエンドではnil

	registry *prometheus.Registry
	metrics  *metrics.Collector

	queue      queue.Queue
	tracker    *runtracker.Tracker
	service    *briefing.Service
	aggregator *popularity.Aggregator
}

// buildComponents はDB・Redisに接続し、ドメインサービスを組み立てる。
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{
		cfg:      cfg,
		logger:   logger,
		clock:    edition.NewClock(cfg.EditionUTCOffsetHours, cfg.EditionCutoffHour),
		registry: prometheus.NewRegistry(),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.NewCollector(c.registry)

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.db = db
	logger.Info("database connection established")

	// 2. Redis接続（memoryバックエンドでもURLがあればキャッシュに使う）
	if cfg.RedisURL != "" {
		rdb, err := openRedis(pingCtx, cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.rdb = rdb
		logger.Info("redis connection established")
	}

	// 3. キュー
	c.queue = newQueue(cfg, c.rdb)

	// 4. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	briefingRepo := repository.NewPostgresBriefingRepo(db)
	snapshotRepo := repository.NewPostgresSnapshotRepo(db)
	runRepo := repository.NewPostgresRunRepo(db)
	popularityRepo := repository.NewPostgresPopularityRepo(db)

	// 5. 外部プロバイダ
	sanitizer := security.NewTextSanitizer()
	finnhubClient := market.NewFinnhubClient(cfg.FinnhubAPIKey, sanitizer)
	news, err := newNewsProvider(cfg, finnhubClient, c.clock, sanitizer)
	if err != nil {
		c.Close()
		return nil, err
	}
	dataCollector := collector.NewCollector(
		finnhubClient, finnhubClient, news, snapshotRepo, c.metrics, logger,
		collector.Config{
			MinInterval:      cfg.ProviderMinInterval,
			CallTimeout:      cfg.ProviderTimeout,
			NewsLookbackDays: cfg.NewsLookbackDays,
		},
	)
	generator := briefing.NewGenerator(newSummarizer(cfg, logger), c.metrics, logger, cfg.LLMTimeout)

	// 6. ドメインサービス
	c.tracker = runtracker.NewTracker(runRepo, logger)
	deps := briefing.Deps{
		Users:     userRepo,
		Briefings: briefingRepo,
		Collector: dataCollector,
		Generator: generator,
		Runs:      c.tracker,
		Queue:     c.queue,
		Clock:     c.clock,
		Logger:    logger,
	}
	if c.rdb != nil {
		deps.Cache = cache.NewRedisBriefingCache(c.rdb, c.clock, cfg.BriefingCacheTTL)
	}
	c.service = briefing.NewService(deps)
	c.aggregator = popularity.NewAggregator(popularityRepo, logger, popularity.DefaultTopN)

	return c, nil
}

// Close はDBとRedisの接続を閉じる。
func (c *components) Close() {
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			c.logger.Warn("failed to close redis", slog.String("error", err.Error()))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}

// metricsHandler は/metricsで公開するハンドラーを返す。
func (c *components) metricsHandler() http.Handler {
	return metrics.Handler(c.registry)
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// queueOptions は設定値からキューのOptionsを組み立てる。
func queueOptions(cfg *config.Config) queue.Options {
	return queue.Options{
		MaxAttempts:        cfg.QueueMaxAttempts,
		BackoffBase:        cfg.QueueBackoffBase,
		BackoffMax:         cfg.QueueBackoffMax,
		VisibilityTimeout:  cfg.QueueVisibilityTimeout,
		PollTimeout:        cfg.QueuePollTimeout,
		CompletedRetention: cfg.QueueCompletedRetention,
		CompletedMax:       cfg.QueueCompletedMax,
		DeadRetention:      cfg.QueueDeadRetention,
		DeadMax:            cfg.QueueDeadMax,
	}
}

func newQueue(cfg *config.Config, rdb *redis.Client) queue.Queue {
	if cfg.QueueBackend == config.QueueBackendMemory || rdb == nil {
		return queue.NewMemoryQueue(queueOptions(cfg))
	}
	return queue.NewRedisQueue(rdb, queueOptions(cfg), queue.DefaultRedisPrefix)
}

// newNewsProvider はFinnhubを主、RSSを予備とするニュースプロバイダを返す。
// RSSのURLテンプレートが未設定の場合はFinnhubのみ。
func newNewsProvider(cfg *config.Config, primary market.NewsProvider, clock *edition.Clock, sanitizer security.TextSanitizer) (market.NewsProvider, error) {
	if cfg.NewsRSSURLTemplate == "" {
		return primary, nil
	}
	client := security.NewSSRFGuard().NewSafeClient(cfg.ProviderTimeout)
	rss, err := market.NewRSSNewsProvider(client, cfg.NewsRSSURLTemplate, clock.Location(), sanitizer)
	if err != nil {
		return nil, fmt.Errorf("invalid NEWS_RSS_URL_TEMPLATE: %w", err)
	}
	return market.NewFallbackNewsProvider(primary, rss), nil
}

// newSummarizer はLLM_PROVIDERに応じたSummarizerを返す。
// APIキーがない場合は常にフォールバック本文になる。
func newSummarizer(cfg *config.Config, logger *slog.Logger) summarizer.Summarizer {
	switch cfg.LLMProvider {
	case config.LLMProviderOpenAI:
		if cfg.OpenAIAPIKey != "" {
			return summarizer.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		}
	case config.LLMProviderAnthropic:
		if cfg.AnthropicAPIKey != "" {
			return summarizer.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		}
	case config.LLMProviderNone:
		return summarizer.Disabled{}
	}
	logger.Warn("LLM API key is not set, briefings will use fallback content",
		slog.String("provider", cfg.LLMProvider),
	)
	return summarizer.Disabled{}
}
