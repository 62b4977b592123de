package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
)

// PostgresPopularityRepo はPostgreSQLを使用した人気銘柄集計リポジトリ。
type PostgresPopularityRepo struct {
	db *sql.DB
}

// NewPostgresPopularityRepo はPostgresPopularityRepoを生成する。
func NewPostgresPopularityRepo(db *sql.DB) *PostgresPopularityRepo {
	return &PostgresPopularityRepo{db: db}
}

// AggregateDaily は集計とランキングの置き換えを1トランザクションで行う。
func (r *PostgresPopularityRepo) AggregateDaily(ctx context.Context, date edition.Date, topN int) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO popularity_daily (ticker, edition_date, views, clicks, favorites, engagement, updated_at)
		 SELECT ticker, edition_date,
		        count(*) FILTER (WHERE event_type = 'view'),
		        count(*) FILTER (WHERE event_type = 'click'),
		        count(*) FILTER (WHERE event_type = 'favorite'),
		        count(*) FILTER (WHERE event_type = 'view') * $2
		          + count(*) FILTER (WHERE event_type = 'click') * $3
		          + count(*) FILTER (WHERE event_type = 'favorite') * $4,
		        now()
		 FROM user_events
		 WHERE edition_date = $1
		 GROUP BY ticker, edition_date
		 ON CONFLICT (ticker, edition_date) DO UPDATE SET
		   views = EXCLUDED.views,
		   clicks = EXCLUDED.clicks,
		   favorites = EXCLUDED.favorites,
		   engagement = EXCLUDED.engagement,
		   updated_at = EXCLUDED.updated_at`,
		date, model.ViewWeight, model.ClickWeight, model.FavoriteWeight,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate popularity: %w", err)
	}
	aggregated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM popular_interest`); err != nil {
		return 0, fmt.Errorf("failed to clear popular interest: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO popular_interest (rank, ticker, edition_date, engagement, updated_at)
		 SELECT row_number() OVER (ORDER BY engagement DESC, ticker ASC), ticker, edition_date, engagement, now()
		 FROM popularity_daily
		 WHERE edition_date = $1
		 ORDER BY engagement DESC, ticker ASC
		 LIMIT $2`,
		date, topN,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to rank popular interest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(aggregated), nil
}

// ListPopular はpopular_interestを順位順に返す。
func (r *PostgresPopularityRepo) ListPopular(ctx context.Context, limit int) ([]model.PopularTicker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT rank, ticker, edition_date, engagement FROM popular_interest ORDER BY rank LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list popular interest: %w", err)
	}
	defer rows.Close()

	var out []model.PopularTicker
	for rows.Next() {
		var p model.PopularTicker
		if err := rows.Scan(&p.Rank, &p.Ticker, &p.EditionDate, &p.Engagement); err != nil {
			return nil, fmt.Errorf("failed to scan popular interest: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate popular interest: %w", err)
	}
	return out, nil
}
