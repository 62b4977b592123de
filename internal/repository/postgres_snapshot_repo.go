package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLを使用した株価スナップショットリポジトリ。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// UpsertSnapshot は(ticker, edition_date)をキーに作成または上書きする。後勝ち。
func (r *PostgresSnapshotRepo) UpsertSnapshot(ctx context.Context, s *model.MarketSnapshot) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO market_snapshots
		   (ticker, edition_date, name, price, change_absolute, change_percent, open, high, low, prev_close, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (ticker, edition_date) DO UPDATE SET
		   name = EXCLUDED.name,
		   price = EXCLUDED.price,
		   change_absolute = EXCLUDED.change_absolute,
		   change_percent = EXCLUDED.change_percent,
		   open = EXCLUDED.open,
		   high = EXCLUDED.high,
		   low = EXCLUDED.low,
		   prev_close = EXCLUDED.prev_close,
		   updated_at = EXCLUDED.updated_at`,
		s.Ticker, s.EditionDate, s.Name, s.Price, s.ChangeAbsolute, s.ChangePercent,
		s.Open, s.High, s.Low, s.PrevClose, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert market snapshot: %w", err)
	}
	return nil
}

// ListByDate は指定エディションのスナップショットをティッカー順に返す。
func (r *PostgresSnapshotRepo) ListByDate(ctx context.Context, date edition.Date) ([]*model.MarketSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ticker, edition_date, name, price, change_absolute, change_percent, open, high, low, prev_close, updated_at
		 FROM market_snapshots
		 WHERE edition_date = $1
		 ORDER BY ticker`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list market snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*model.MarketSnapshot
	for rows.Next() {
		s := &model.MarketSnapshot{}
		if err := rows.Scan(&s.Ticker, &s.EditionDate, &s.Name, &s.Price, &s.ChangeAbsolute, &s.ChangePercent,
			&s.Open, &s.High, &s.Low, &s.PrevClose, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan market snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate market snapshots: %w", err)
	}
	return snapshots, nil
}
