// Package summarizer はLLMによるブリーフィング本文の生成を提供する。
//
// どのプロバイダも同じプロンプトとJSON形式を使い、応答の解釈はparseContentに集約する。
// 応答の銘柄集合の検証は呼び出し側（briefing.Generator）の責務。
package summarizer

import (
	"context"
	"errors"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
)

// PromptVersion は現在のプロンプトのバージョン。文面を変えたら上げる。
const PromptVersion = 1

// MaxHeadlinesPerStock はプロンプトに含める銘柄あたりの見出し数。
const MaxHeadlinesPerStock = 3

// ErrDisabled はLLMが設定されていないことを示す。
var ErrDisabled = errors.New("summarizer is disabled")

// StockInput はプロンプトに渡す銘柄1件分の入力。
// HasQuoteがfalseの場合、価格は0で「データなし」と扱う。
type StockInput struct {
	Ticker        string
	Name          string
	Price         float64
	Change        float64
	ChangePercent float64
	HasQuote      bool
	Headlines     []string
}

// Request はブリーフィング生成の入力。StocksはRank順。
type Request struct {
	EditionDate edition.Date
	Stocks      []StockInput
	Preferences model.Preferences
}

// Response はLLMの生成結果。
type Response struct {
	Content model.BriefingContent
	Model   string
}

// Summarizer はブリーフィング本文を生成する。
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (*Response, error)
}

// Disabled は常にErrDisabledを返すSummarizer。APIキー未設定時に使う。
type Disabled struct{}

// Summarize は常にErrDisabledを返す。
func (Disabled) Summarize(context.Context, Request) (*Response, error) {
	return nil, ErrDisabled
}

var _ Summarizer = Disabled{}
