// Package cleanup は保持期間を過ぎた株価スナップショットとバッチ実行記録の削除ジョブを提供する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultSnapshotRetentionDays はmarket_snapshotsの保持日数。
	DefaultSnapshotRetentionDays = 90
	// DefaultRunRetentionDays はingest_runsの保持日数。
	DefaultRunRetentionDays = 180
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// target は削除対象のテーブルと日付カラム。
type target struct {
	table  string
	column string
	days   int
}

// CleanupJob は保持期間を過ぎた行を日次で削除する。冪等。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger

	SnapshotRetentionDays int // market_snapshotsの保持日数（デフォルト: 90）
	RunRetentionDays      int // ingest_runsの保持日数（デフォルト: 180）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                    db,
		logger:                logger,
		SnapshotRetentionDays: DefaultSnapshotRetentionDays,
		RunRetentionDays:      DefaultRunRetentionDays,
	}
}

// Run はmarket_snapshotsとingest_runsから保持期間を過ぎた行を削除する。
// 一方が失敗しても他方は実行し、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	targets := []target{
		{table: "market_snapshots", column: "edition_date", days: j.SnapshotRetentionDays},
		{table: "ingest_runs", column: "run_date", days: j.RunRetentionDays},
	}

	var firstErr error
	for _, t := range targets {
		if err := j.delete(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (j *CleanupJob) delete(ctx context.Context, t target) error {
	start := time.Now()
	interval := fmt.Sprintf("%d days", t.days)

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s < (now() - $1::interval)::date`, t.table, t.column)
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("table", t.table),
			slog.String("error", err.Error()),
			slog.Int("retention_days", t.days),
		)
		return fmt.Errorf("%sのクリーンアップに失敗: %w", t.table, err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("table", t.table),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.String("table", t.table),
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", t.days),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。ctxがキャンセルされるまで戻らない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	run := func() {
		// 失敗はRun内でログ済み
		_ = j.Run(ctx)
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
