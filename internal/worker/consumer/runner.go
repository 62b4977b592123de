// Package consumer はジョブキューのコンシューマを提供する。
// 種類ごとにハンドラを登録し、指定数のgoroutineで取り出し・実行・Ack/Failを繰り返す。
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/stockast/internal/metrics"
	"github.com/hitoshi/stockast/internal/queue"
)

const (
	// DefaultJobTimeout は1ジョブあたりの実行時間の上限。
	DefaultJobTimeout = 10 * time.Minute
	// consumeRetryDelay はConsumeが失敗した場合の再試行までの待ち時間。
	consumeRetryDelay = time.Second
)

// Handler はジョブ1件を処理する。queue.Permanentで包んだエラーはリトライされない。
type Handler func(ctx context.Context, d *queue.Delivery) error

// Config はRunnerの設定。
type Config struct {
	// Concurrency は種類ごとのコンシューマ数（デフォルト: 1）。
	Concurrency int
	// JobTimeout は1ジョブの実行時間の上限（デフォルト: 10分）。
	JobTimeout time.Duration
}

// Runner は登録されたハンドラでジョブを処理する。
type Runner struct {
	queue    queue.Queue
	handlers map[queue.Kind]Handler
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	config   Config
}

// NewRunner はRunnerを生成する。
func NewRunner(q queue.Queue, mc metrics.MetricsCollector, logger *slog.Logger, config Config) *Runner {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultJobTimeout
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	return &Runner{
		queue:    q,
		handlers: make(map[queue.Kind]Handler),
		metrics:  mc,
		logger:   logger,
		config:   config,
	}
}

// Register はジョブ種類にハンドラを登録する。Runの前に呼ぶこと。
func (r *Runner) Register(kind queue.Kind, h Handler) {
	r.handlers[kind] = h
}

// Run は登録された種類ごとにConcurrency個のコンシューマを起動し、ctxがキャンセルされるまでブロックする。
func (r *Runner) Run(ctx context.Context) error {
	if len(r.handlers) == 0 {
		return errors.New("no job handlers registered")
	}

	g, ctx := errgroup.WithContext(ctx)
	for kind, h := range r.handlers {
		for i := 0; i < r.config.Concurrency; i++ {
			g.Go(func() error {
				r.consumeLoop(ctx, kind, h)
				return nil
			})
		}
		r.logger.Info("ジョブコンシューマを開始しました",
			slog.String("kind", string(kind)),
			slog.Int("concurrency", r.config.Concurrency),
		)
	}
	err := g.Wait()
	r.logger.Info("ジョブコンシューマを停止しました")
	return err
}

func (r *Runner) consumeLoop(ctx context.Context, kind queue.Kind, h Handler) {
	for {
		d, err := r.queue.Consume(ctx, kind)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("ジョブの取り出しに失敗しました",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(consumeRetryDelay):
			}
			continue
		}
		r.Process(ctx, d, h)
	}
}

// Process はジョブ1件をタイムアウト付きで実行し、結果に応じてAckまたはFailする。
// ハンドラのパニックは失敗として扱う。
func (r *Runner) Process(ctx context.Context, d *queue.Delivery, h Handler) {
	start := time.Now()
	attrs := []any{
		slog.String("kind", string(d.Kind)),
		slog.String("job_id", d.ID),
		slog.String("key", d.Key),
		slog.Int("attempt", d.Attempt),
		slog.Int("max_attempts", d.MaxAttempts),
	}
	r.logger.Info("ジョブを開始します", attrs...)

	err := r.invoke(ctx, d, h)
	duration := time.Since(start)
	attrs = append(attrs, slog.Float64("duration_ms", float64(duration.Milliseconds())))

	// 停止中でも結果を記録できるようにキャンセルを切り離す
	finishCtx := context.WithoutCancel(ctx)

	if err == nil {
		if aerr := r.queue.Ack(finishCtx, d); aerr != nil {
			r.logger.Error("ジョブのAckに失敗しました", append(attrs, slog.String("error", aerr.Error()))...)
		}
		r.metrics.RecordJob(string(d.Kind), metrics.ResultSuccess, duration)
		r.logger.Info("ジョブが完了しました", attrs...)
		return
	}

	if errors.Is(err, queue.ErrInvalidPayload) {
		err = queue.Permanent(err)
	}
	if ferr := r.queue.Fail(finishCtx, d, err); ferr != nil {
		r.logger.Error("ジョブの失敗記録に失敗しました", append(attrs, slog.String("error", ferr.Error()))...)
	}

	result := metrics.ResultRetry
	if queue.IsPermanent(err) || d.Attempt >= d.MaxAttempts {
		result = metrics.ResultDead
	}
	r.metrics.RecordJob(string(d.Kind), result, duration)
	r.logger.Error("ジョブが失敗しました", append(attrs,
		slog.String("result", result),
		slog.String("error", err.Error()),
	)...)
}

func (r *Runner) invoke(ctx context.Context, d *queue.Delivery, h Handler) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("ジョブハンドラでパニックが発生しました",
				slog.String("job_id", d.ID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("job handler panic: %v", rec)
		}
	}()

	return h(ctx, d)
}
