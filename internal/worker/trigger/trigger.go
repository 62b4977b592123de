// Package trigger は毎朝の版生成ジョブを投入する日次トリガーを提供する。
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/queue"
)

// DefaultCheckInterval は時刻を確認する間隔。
const DefaultCheckInterval = time.Minute

// Enqueuer はジョブをキューに投入する。
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload, key string) (queue.EnqueueResult, error)
}

// Trigger は版のローカル時刻がhour:minuteを過ぎたら、その版の生成ジョブと
// 前日の版の人気銘柄集計ジョブを1日1回投入する。
// 投入は冪等キーで重複排除されるため、複数のワーカーで動かしてもよい。
type Trigger struct {
	queue  Enqueuer
	clock  *edition.Clock
	hour   int
	minute int
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last edition.Date
}

// NewTrigger はTriggerを生成する。
func NewTrigger(q Enqueuer, clock *edition.Clock, hour, minute int, logger *slog.Logger) *Trigger {
	if clock == nil {
		clock = edition.DefaultClock()
	}
	return &Trigger{
		queue:  q,
		clock:  clock,
		hour:   hour,
		minute: minute,
		logger: logger,
		now:    time.Now,
	}
}

// Start はintervalごとに時刻を確認する。起動直後にも1回確認する。
// コンテキストがキャンセルされるまで実行を継続する。
func (t *Trigger) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.Info("日次トリガーを開始しました",
		slog.String("at", fmt.Sprintf("%02d:%02d", t.hour, t.minute)),
		slog.Duration("interval", interval),
	)

	t.check(ctx)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("日次トリガーを停止しました")
			return
		case <-ticker.C:
			t.check(ctx)
		}
	}
}

func (t *Trigger) check(ctx context.Context) {
	if _, err := t.RunOnce(ctx); err != nil {
		t.logger.Error("日次トリガーの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は投入時刻を過ぎていて現在の版をまだ投入していなければジョブを投入する。
// 投入した場合はtrueを返す。失敗した場合は次回の確認で再試行する。
func (t *Trigger) RunOnce(ctx context.Context) (bool, error) {
	now := t.now()
	date, due := t.due(now)
	if !due {
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last.Equal(date) {
		return false, nil
	}

	if _, err := Fire(ctx, t.queue, t.logger, date, false); err != nil {
		return false, err
	}
	t.last = date
	return true, nil
}

// due は現在の版日付と、その日の投入時刻を過ぎているかを返す。
func (t *Trigger) due(now time.Time) (edition.Date, bool) {
	local := now.In(t.clock.Location())
	at := time.Date(local.Year(), local.Month(), local.Day(), t.hour, t.minute, 0, 0, local.Location())
	return t.clock.EditionDate(now), !local.Before(at)
}

// Fired は投入結果。
type Fired struct {
	Edition    queue.EnqueueResult
	Popularity queue.EnqueueResult
}

// Fire はdateの版生成ジョブと前日の版の人気銘柄集計ジョブを投入する。
func Fire(ctx context.Context, q Enqueuer, logger *slog.Logger, date edition.Date, force bool) (*Fired, error) {
	gen := queue.GenerateEdition{EditionDate: date, Force: force}
	genRes, err := q.Enqueue(ctx, gen, queue.IdempotencyKey(gen))
	if err != nil {
		return nil, fmt.Errorf("版生成ジョブの投入に失敗しました: %w", err)
	}

	agg := queue.AggregatePopularity{EditionDate: date.AddDays(-1)}
	aggRes, err := q.Enqueue(ctx, agg, queue.IdempotencyKey(agg))
	if err != nil {
		return nil, fmt.Errorf("人気銘柄集計ジョブの投入に失敗しました: %w", err)
	}

	logger.Info("日次ジョブを投入しました",
		slog.String("edition_date", date.String()),
		slog.Bool("force", force),
		slog.String("edition_job_id", genRes.JobID),
		slog.Bool("edition_enqueued", genRes.Enqueued),
		slog.String("popularity_job_id", aggRes.JobID),
		slog.Bool("popularity_enqueued", aggRes.Enqueued),
	)
	return &Fired{Edition: genRes, Popularity: aggRes}, nil
}
