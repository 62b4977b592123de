package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
)

// PostgresRunRepo はPostgreSQLを使用したバッチ実行記録リポジトリ。
type PostgresRunRepo struct {
	db *sql.DB
}

// NewPostgresRunRepo はPostgresRunRepoを生成する。
func NewPostgresRunRepo(db *sql.DB) *PostgresRunRepo {
	return &PostgresRunRepo{db: db}
}

// Start はrun_dateの記録をrunningでUPSERTする。既存の記録があれば開始時刻とカウンタをリセットする。
func (r *PostgresRunRepo) Start(ctx context.Context, date edition.Date, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (run_date, status, started_at)
		 VALUES ($1, 'running', $2)
		 ON CONFLICT (run_date) DO UPDATE SET
		   status = 'running',
		   started_at = EXCLUDED.started_at,
		   completed_at = NULL,
		   prices_collected = 0,
		   news_collected = 0,
		   summaries_generated = 0,
		   error_message = ''`,
		date, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to start ingest run: %w", err)
	}
	return nil
}

// Finish は記録を最終状態に更新する。
func (r *PostgresRunRepo) Finish(ctx context.Context, rec *model.RunRecord) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE ingest_runs SET
		   status = $2,
		   completed_at = $3,
		   prices_collected = $4,
		   news_collected = $5,
		   summaries_generated = $6,
		   error_message = $7
		 WHERE run_date = $1`,
		rec.RunDate, string(rec.Status), rec.CompletedAt,
		rec.Counters.PricesCollected, rec.Counters.NewsCollected, rec.Counters.SummariesGenerated,
		rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to finish ingest run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ingest run not found: %s", rec.RunDate)
	}
	return nil
}

// FindByDate は記録を取得する。見つからない場合はnilを返す。
func (r *PostgresRunRepo) FindByDate(ctx context.Context, date edition.Date) (*model.RunRecord, error) {
	rec := &model.RunRecord{}
	var status string
	var completedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT run_date, status, started_at, completed_at, prices_collected, news_collected, summaries_generated, error_message
		 FROM ingest_runs WHERE run_date = $1`,
		date,
	).Scan(&rec.RunDate, &status, &rec.StartedAt, &completedAt,
		&rec.Counters.PricesCollected, &rec.Counters.NewsCollected, &rec.Counters.SummariesGenerated,
		&rec.ErrorMessage)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ingest run: %w", err)
	}
	rec.Status = model.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}
