// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
)

// UserRepository はブリーフィング生成に必要なユーザーデータの読み取りインターフェース。
// ユーザー・お気に入りの作成や編集はアカウント管理側の責務で、ここでは扱わない。
type UserRepository interface {
	// ListFavorites はユーザーのお気に入り銘柄をRank昇順で返す。
	ListFavorites(ctx context.Context, userID string) ([]model.FavoriteTicker, error)

	// FindPreferences はユーザーのブリーフィング設定を返す。未登録の場合はnilを返す。
	FindPreferences(ctx context.Context, userID string) (*model.Preferences, error)

	// ListUsersWithFavorites はお気に入りが1件以上あるユーザーのIDを返す。
	ListUsersWithFavorites(ctx context.Context) ([]string, error)

	// ListUsersWithoutBriefing はお気に入りがあり、指定エディションのブリーフィングが
	// まだないユーザーのIDを返す。
	ListUsersWithoutBriefing(ctx context.Context, date edition.Date) ([]string, error)
}

// BriefingRepository はブリーフィングの永続化インターフェース。
// (user_id, edition_date)につき最大1件を保証する。
type BriefingRepository interface {
	// Upsert は(user_id, edition_date)をキーにブリーフィングを作成または置き換える。
	// 新規作成時のみIDを採番し、bのID・CreatedAt・UpdatedAtを保存後の値で更新する。
	Upsert(ctx context.Context, b *model.Briefing) error

	// FindByUserAndDate はブリーフィングを取得する。見つからない場合はnilを返す。
	FindByUserAndDate(ctx context.Context, userID string, date edition.Date) (*model.Briefing, error)

	// Delete はブリーフィングを削除し、削除したかどうかを返す。
	Delete(ctx context.Context, userID string, date edition.Date) (bool, error)
}

// SnapshotRepository は株価スナップショットの永続化インターフェース。
type SnapshotRepository interface {
	// UpsertSnapshot は(ticker, edition_date)をキーに作成または上書きする。
	UpsertSnapshot(ctx context.Context, s *model.MarketSnapshot) error

	// ListByDate は指定エディションのスナップショットをティッカー順に返す。
	ListByDate(ctx context.Context, date edition.Date) ([]*model.MarketSnapshot, error)
}

// RunRepository はバッチ実行記録の永続化インターフェース。
type RunRepository interface {
	// Start はrun_dateの記録をrunningにし、開始時刻とカウンタをリセットする。
	Start(ctx context.Context, date edition.Date, startedAt time.Time) error

	// Finish は記録の状態・終了時刻・カウンタ・エラーメッセージを更新する。
	Finish(ctx context.Context, rec *model.RunRecord) error

	// FindByDate は記録を取得する。見つからない場合はnilを返す。
	FindByDate(ctx context.Context, date edition.Date) (*model.RunRecord, error)
}

// PopularityRepository は人気銘柄集計の永続化インターフェース。
type PopularityRepository interface {
	// AggregateDaily は指定エディションのuser_eventsを銘柄ごとに集計してpopularity_dailyへUPSERTし、
	// 上位topN件でpopular_interestを置き換える。集計した銘柄数を返す。
	AggregateDaily(ctx context.Context, date edition.Date, topN int) (int, error)

	// ListPopular はpopular_interestを順位順に返す。
	ListPopular(ctx context.Context, limit int) ([]model.PopularTicker, error)
}
