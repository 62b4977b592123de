package model

import (
	"time"

	"github.com/hitoshi/stockast/internal/edition"
)

const (
	// FallbackModel はフォールバック生成時のモデル識別子。
	FallbackModel = "fallback"
	// FallbackPromptVersion はフォールバック生成時のプロンプトバージョン。
	FallbackPromptVersion = 0
)

// StockSummary は銘柄ごとの要約を表す。
type StockSummary struct {
	Ticker         string   `json:"ticker"`
	Name           string   `json:"name"`
	PriceContext   string   `json:"priceContext"`
	NewsHighlights []string `json:"newsHighlights"`
	Outlook        string   `json:"outlook"`
}

// BriefingContent はブリーフィング本文の構造化ドキュメント。
// StockSummariesの銘柄集合と順序は生成時のお気に入り銘柄と一致する。
type BriefingContent struct {
	MarketOverview string         `json:"marketOverview"`
	StockSummaries []StockSummary `json:"stockSummaries"`
	DailySummary   string         `json:"dailySummary"`
}

// Tickers は要約に含まれるティッカーを順に返す。
func (c *BriefingContent) Tickers() []string {
	out := make([]string, len(c.StockSummaries))
	for i, s := range c.StockSummaries {
		out[i] = s.Ticker
	}
	return out
}

// Briefing はユーザー・版日付ごとのブリーフィングを表す。
// (UserID, EditionDate)につき最大1件。
type Briefing struct {
	ID               string
	UserID           string
	EditionDate      edition.Date
	Content          BriefingContent
	Tickers          []string
	Model            string
	PromptVersion    int
	InputFingerprint string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsFallback はフォールバック生成されたかどうかを返す。
func (b *Briefing) IsFallback() bool {
	return b.Model == FallbackModel
}
