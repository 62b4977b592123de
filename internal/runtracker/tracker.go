// Package runtracker はバッチ実行記録（ingest_runs）を管理する。
// 記録は観測用で、生成を行うかどうかの判断には使わない。
package runtracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/repository"
)

// maxErrorMessageLen はerror_messageに保存する最大文字数。
const maxErrorMessageLen = 1000

// Handle は開始済みの実行を表す。
type Handle struct {
	Date      edition.Date
	StartedAt time.Time
}

// Tracker はバッチ実行の開始・完了・失敗を記録する。
type Tracker struct {
	repo   repository.RunRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker はTrackerを生成する。
func NewTracker(repo repository.RunRepository, logger *slog.Logger) *Tracker {
	return &Tracker{repo: repo, logger: logger, now: time.Now}
}

// Start は実行をrunningで記録する。同じ日付で実行中の記録があっても開始時刻をリセットして再開する。
func (t *Tracker) Start(ctx context.Context, date edition.Date) (*Handle, error) {
	h := &Handle{Date: date, StartedAt: t.now()}
	if err := t.repo.Start(ctx, date, h.StartedAt); err != nil {
		return nil, fmt.Errorf("failed to start run %s: %w", date, err)
	}
	t.logger.Info("バッチ実行を開始しました", slog.String("run_date", date.String()))
	return h, nil
}

// Complete は実行をcompletedにしてカウンタを保存する。
func (t *Tracker) Complete(ctx context.Context, h *Handle, counters model.RunCounters) error {
	err := t.finish(ctx, h, model.RunStatusCompleted, counters, "")
	if err != nil {
		return err
	}
	t.logger.Info("バッチ実行が完了しました",
		slog.String("run_date", h.Date.String()),
		slog.Int("prices_collected", counters.PricesCollected),
		slog.Int("news_collected", counters.NewsCollected),
		slog.Int("summaries_generated", counters.SummariesGenerated),
	)
	return nil
}

// Fail は実行をfailedにしてエラーメッセージを保存する。
func (t *Tracker) Fail(ctx context.Context, h *Handle, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = truncate(cause.Error(), maxErrorMessageLen)
	}
	if err := t.finish(ctx, h, model.RunStatusFailed, model.RunCounters{}, msg); err != nil {
		return err
	}
	t.logger.Error("バッチ実行が失敗しました",
		slog.String("run_date", h.Date.String()),
		slog.String("error", msg),
	)
	return nil
}

// Get は日付の実行記録を返す。ない場合はnil。
func (t *Tracker) Get(ctx context.Context, date edition.Date) (*model.RunRecord, error) {
	return t.repo.FindByDate(ctx, date)
}

func (t *Tracker) finish(ctx context.Context, h *Handle, status model.RunStatus, counters model.RunCounters, msg string) error {
	completedAt := t.now()
	rec := &model.RunRecord{
		RunDate:      h.Date,
		Status:       status,
		StartedAt:    h.StartedAt,
		CompletedAt:  &completedAt,
		Counters:     counters,
		ErrorMessage: msg,
	}
	if err := t.repo.Finish(ctx, rec); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", h.Date, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
