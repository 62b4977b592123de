package model

import (
	"time"

	"github.com/hitoshi/stockast/internal/edition"
)

// MarketSnapshot は銘柄ごと・版日付ごとの株価スナップショットを表す。
// (Ticker, EditionDate)で一意。後から書かれた値で上書きされる。
type MarketSnapshot struct {
	Ticker         string
	EditionDate    edition.Date
	Name           string
	Price          float64
	ChangeAbsolute float64
	ChangePercent  float64
	Open           float64
	High           float64
	Low            float64
	PrevClose      float64
	UpdatedAt      time.Time
}

// NewsItem は銘柄に関するニュース1件を表す。永続化はしない。
type NewsItem struct {
	Title       string
	Summary     string
	Source      string
	URL         string
	PublishedAt int64 // Unix秒
}

// NewsDigest はある銘柄の期間内ニュース一覧。新しい順に並ぶ。
type NewsDigest []NewsItem

// Headlines は先頭からn件の見出しを返す。
func (d NewsDigest) Headlines(n int) []string {
	if n > len(d) {
		n = len(d)
	}
	out := make([]string, 0, n)
	for _, item := range d[:n] {
		out = append(out, item.Title)
	}
	return out
}
