package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/stockast/internal/config"
	"github.com/hitoshi/stockast/internal/database"
	"github.com/hitoshi/stockast/internal/handler"
	"github.com/hitoshi/stockast/internal/logger"
	"github.com/hitoshi/stockast/internal/middleware"
	"github.com/hitoshi/stockast/internal/worker/cleanup"
	"github.com/hitoshi/stockast/internal/worker/consumer"
	"github.com/hitoshi/stockast/internal/worker/trigger"
)

const (
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .envでLOG_LEVELが指定された場合に備えて設定値で再構成する
	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	var triggerOpts TriggerOptions
	if cmd == CommandTrigger {
		opts, err := ParseTriggerOptions(args[1:], w)
		if err != nil {
			return err
		}
		triggerOpts = opts
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("queue_backend", cfg.QueueBackend),
		slog.String("llm_provider", cfg.LLMProvider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandTrigger:
		return runTrigger(ctx, cfg, triggerOpts)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// memoryバックエンドの場合、キューを共有するため同じプロセスでコンシューマも起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	limiter := middleware.NewRateLimiter(middleware.RefreshRateLimiterConfig(cfg.RefreshRatePerMinute))
	defer limiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Briefings:      c.service,
		Runs:           c.tracker,
		Popular:        c.aggregator,
		HealthChecker:  c.db,
		Clock:          c.clock,
		CronSecret:     cfg.CronSecret,
		RefreshLimiter: limiter,
		Metrics:        c.metrics,
		MetricsHandler: c.metricsHandler(),
		Logger:         c.logger,
	})

	server := newHTTPServer(cfg.ServerPort, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, server, "API server")
	})
	if cfg.QueueBackend == config.QueueBackendMemory {
		c.logger.Info("memory queue backend: running consumers in the API process")
		g.Go(func() error {
			return runConsumers(gctx, c)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// キューコンシューマ、日次トリガー、保持期間クリーンアップを並行に動かし、
// /healthと/metricsだけを公開する小さなHTTPサーバーを併設する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	cleanupJob := cleanup.NewCleanupJob(c.db, c.logger)
	cleanupJob.SnapshotRetentionDays = cfg.SnapshotRetentionDays
	cleanupJob.RunRetentionDays = cfg.RunRetentionDays

	slog.Info("worker starting",
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.Duration("job_timeout", cfg.JobTimeout),
		slog.Bool("trigger_enabled", cfg.TriggerEnabled),
	)

	ops := handler.NewOpsHandler(nil, nil, c.db, c.logger)
	r := chi.NewRouter()
	r.Get("/health", ops.Health)
	r.Handle("/metrics", c.metricsHandler())
	server := newHTTPServer(cfg.ServerPort, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runConsumers(gctx, c)
	})
	g.Go(func() error {
		return serveHTTP(gctx, server, "worker probe server")
	})
	if cfg.TriggerEnabled {
		t := trigger.NewTrigger(c.queue, c.clock, cfg.TriggerHour, cfg.TriggerMinute, c.logger)
		g.Go(func() error {
			t.Start(gctx, cfg.TriggerCheckInterval)
			return nil
		})
	}
	g.Go(func() error {
		cleanupJob.Start(gctx, cleanupInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runConsumers は全ジョブ種別のコンシューマをctxがキャンセルされるまで動かす。
func runConsumers(ctx context.Context, c *components) error {
	runner := consumer.NewRunner(c.queue, c.metrics, c.logger, consumer.Config{
		Concurrency: c.cfg.WorkerConcurrency,
		JobTimeout:  c.cfg.JobTimeout,
	})
	consumer.Register(runner, c.service, c.aggregator, c.logger)
	return runner.Run(ctx)
}

// runTrigger は指定版の生成ジョブと人気銘柄集計ジョブを1回だけ投入する。
// 同じ版のジョブが実行中または待機中であれば何もしない。
func runTrigger(ctx context.Context, cfg *config.Config, opts TriggerOptions) error {
	if cfg.QueueBackend == config.QueueBackendMemory {
		return errors.New("trigger command requires QUEUE_BACKEND=redis")
	}

	c, err := buildComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	date := c.clock.EditionDate(time.Now())
	if opts.Date != nil {
		date = *opts.Date
	}
	if _, err := trigger.Fire(ctx, c.queue, c.logger, date, opts.Force); err != nil {
		return fmt.Errorf("trigger failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

func newHTTPServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serveHTTP はserverを起動し、ctxがキャンセルされたらグレースフルシャットダウンする。
func serveHTTP(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
