package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/stockast/internal/briefing"
	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/queue"
)

// BriefingService はジョブから呼び出すブリーフィング生成処理。
type BriefingService interface {
	RunBatch(ctx context.Context, date edition.Date, force bool) (*briefing.BatchResult, error)
	GenerateForUser(ctx context.Context, userID string, date edition.Date, force bool) (*model.Briefing, error)
}

// PopularityAggregator は人気銘柄の集計処理。
type PopularityAggregator interface {
	Aggregate(ctx context.Context, date edition.Date) (int, error)
}

// Register は各ジョブ種類の標準ハンドラをRunnerに登録する。
func Register(r *Runner, svc BriefingService, agg PopularityAggregator, logger *slog.Logger) {
	r.Register(queue.KindGenerateEdition, GenerateEditionHandler(svc, logger))
	r.Register(queue.KindGenerateUserBriefing, GenerateUserBriefingHandler(svc, logger))
	r.Register(queue.KindAggregatePopularity, AggregatePopularityHandler(agg))
}

// GenerateEditionHandler は版全体のバッチ生成ジョブを処理する。
func GenerateEditionHandler(svc BriefingService, logger *slog.Logger) Handler {
	return func(ctx context.Context, d *queue.Delivery) error {
		p, ok := d.Payload.(queue.GenerateEdition)
		if !ok {
			return payloadMismatch(d)
		}
		res, err := svc.RunBatch(ctx, p.EditionDate, p.Force)
		if err != nil {
			return fmt.Errorf("バッチ生成に失敗しました: %w", err)
		}
		logger.Info("バッチ生成が完了しました",
			slog.String("edition_date", res.EditionDate.String()),
			slog.Int("users", res.Users),
			slog.Int("generated", res.Generated),
			slog.Int("fallbacks", res.Fallbacks),
			slog.Int("failed", res.Failed),
		)
		return nil
	}
}

// GenerateUserBriefingHandler はユーザー単位の生成ジョブを処理する。
// お気に入り未登録はリトライしても解消しないため即座にdeadにする。
func GenerateUserBriefingHandler(svc BriefingService, logger *slog.Logger) Handler {
	return func(ctx context.Context, d *queue.Delivery) error {
		p, ok := d.Payload.(queue.GenerateUserBriefing)
		if !ok {
			return payloadMismatch(d)
		}
		b, err := svc.GenerateForUser(ctx, p.UserID, p.EditionDate, p.Force)
		if err != nil {
			if errors.Is(err, briefing.ErrNoFavorites) {
				return queue.Permanent(err)
			}
			return fmt.Errorf("ブリーフィング生成に失敗しました: %w", err)
		}
		logger.Info("ブリーフィングを生成しました",
			slog.String("user_id", p.UserID),
			slog.String("edition_date", p.EditionDate.String()),
			slog.Bool("fallback", b.IsFallback()),
		)
		return nil
	}
}

// AggregatePopularityHandler は人気銘柄の集計ジョブを処理する。
func AggregatePopularityHandler(agg PopularityAggregator) Handler {
	return func(ctx context.Context, d *queue.Delivery) error {
		p, ok := d.Payload.(queue.AggregatePopularity)
		if !ok {
			return payloadMismatch(d)
		}
		if _, err := agg.Aggregate(ctx, p.EditionDate); err != nil {
			return fmt.Errorf("人気銘柄の集計に失敗しました: %w", err)
		}
		return nil
	}
}

func payloadMismatch(d *queue.Delivery) error {
	return fmt.Errorf("%w: kind %s got %T", queue.ErrInvalidPayload, d.Kind, d.Payload)
}
