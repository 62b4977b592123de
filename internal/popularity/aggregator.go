// Package popularity はユーザー操作から人気銘柄ランキングを集計する。
package popularity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/repository"
)

const (
	// DefaultTopN はランキングに残す銘柄数。
	DefaultTopN = 50
	// DefaultListLimit はランキング取得のデフォルト件数。
	DefaultListLimit = 10
)

// Aggregator は版日付ごとのエンゲージメントを集計し、ランキングを置き換える。
// エンゲージメント = 閲覧 + 2×クリック + 3×お気に入り。
type Aggregator struct {
	repo   repository.PopularityRepository
	logger *slog.Logger
	topN   int
}

// NewAggregator はAggregatorを生成する。topNが0以下の場合はDefaultTopN。
func NewAggregator(repo repository.PopularityRepository, logger *slog.Logger, topN int) *Aggregator {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Aggregator{repo: repo, logger: logger, topN: topN}
}

// Aggregate は版日付の集計を実行し、集計した銘柄数を返す。同じ日付で再実行しても結果は同じ。
func (a *Aggregator) Aggregate(ctx context.Context, date edition.Date) (int, error) {
	start := time.Now()
	n, err := a.repo.AggregateDaily(ctx, date, a.topN)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate popularity for %s: %w", date, err)
	}
	a.logger.Info("人気銘柄の集計が完了しました",
		slog.String("edition_date", date.String()),
		slog.Int("tickers", n),
		slog.Int("top_n", a.topN),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return n, nil
}

// Popular は現在のランキングを上位limit件返す。
func (a *Aggregator) Popular(ctx context.Context, limit int) ([]model.PopularTicker, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > a.topN {
		limit = a.topN
	}
	list, err := a.repo.ListPopular(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list popular tickers: %w", err)
	}
	if list == nil {
		list = []model.PopularTicker{}
	}
	return list, nil
}
