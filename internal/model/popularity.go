package model

import "github.com/hitoshi/stockast/internal/edition"

// EventType はエンゲージメント集計の対象となるユーザー操作の種類。
type EventType string

const (
	EventView     EventType = "view"
	EventClick    EventType = "click"
	EventFavorite EventType = "favorite"
)

// エンゲージメントスコアの重み。
const (
	ViewWeight     = 1
	ClickWeight    = 2
	FavoriteWeight = 3
)

// PopularTicker は人気銘柄ランキングの1行。
type PopularTicker struct {
	Rank        int          `json:"rank"`
	Ticker      string       `json:"ticker"`
	EditionDate edition.Date `json:"editionDate"`
	Engagement  int          `json:"engagement"`
}
