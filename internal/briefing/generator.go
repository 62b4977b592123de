// Package briefing はブリーフィングの生成・保存・取得とバッチの進行を担う。
package briefing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/market"
	"github.com/hitoshi/stockast/internal/metrics"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/summarizer"
)

const (
	// FallbackMarker はフォールバック生成されたmarketOverviewの先頭に付く文言。
	FallbackMarker = "【簡易版】お気に入り銘柄の価格と騰落率のみをまとめています。"
	// fallbackDailySummary はフォールバック時のdailySummary。
	fallbackDailySummary = "AIによるブリーフィングを一時的に生成できないため、基本情報のみでお届けしています。"
	// fallbackOutlook はフォールバック時の各銘柄のoutlook。
	fallbackOutlook = "AI分析が再開され次第、見通しをお届けします。"
	// fallbackHeadlines はフォールバック時に載せる銘柄あたりの見出し数。
	fallbackHeadlines = 2

	// DefaultLLMTimeout は要約呼び出しのデフォルトタイムアウト。
	DefaultLLMTimeout = 60 * time.Second
)

// errInvalidContent は要約結果が入力と整合しないことを示す。
var errInvalidContent = errors.New("summarizer returned invalid content")

// Input はブリーフィング生成の入力。FavoritesはRank昇順。
// Snapshotsにない銘柄は価格0・ニュースなしとして扱う。
type Input struct {
	UserID      string
	EditionDate edition.Date
	Favorites   []model.FavoriteTicker
	Preferences model.Preferences
	Snapshots   map[string]*model.MarketSnapshot
	News        map[string]model.NewsDigest
}

// Output は生成結果。
type Output struct {
	Content       model.BriefingContent
	Model         string
	PromptVersion int
}

// IsFallback はフォールバック生成かどうかを返す。
func (o *Output) IsFallback() bool {
	return o.Model == model.FallbackModel
}

// ContentGenerator はブリーフィング本文を生成する。
type ContentGenerator interface {
	Generate(ctx context.Context, in Input) (*Output, error)
}

// Generator はLLMで本文を生成し、失敗した場合は価格データのみの本文に切り替える。
type Generator struct {
	summarizer summarizer.Summarizer
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	timeout    time.Duration
}

// NewGenerator はGeneratorを生成する。timeoutが0以下の場合はDefaultLLMTimeoutを使う。
func NewGenerator(s summarizer.Summarizer, mc metrics.MetricsCollector, logger *slog.Logger, timeout time.Duration) *Generator {
	if s == nil {
		s = summarizer.Disabled{}
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	if timeout <= 0 {
		timeout = DefaultLLMTimeout
	}
	return &Generator{summarizer: s, metrics: mc, logger: logger, timeout: timeout}
}

// Generate は本文を生成する。要約の失敗・タイムアウト・不整合はフォールバックで吸収し、
// フォールバック自体は失敗しない。
// 例外は呼び出し元のctxがキャンセルまたは期限切れになった場合で、このときだけ
// フォールバックを作らずctx.Err()を返す。
func (g *Generator) Generate(ctx context.Context, in Input) (*Output, error) {
	stocks := buildStockInputs(in)

	resp, err := g.summarize(ctx, summarizer.Request{
		EditionDate: in.EditionDate,
		Stocks:      stocks,
		Preferences: in.Preferences.Normalize(),
	})
	if err == nil {
		err = validateContent(&resp.Content, stocks)
	}
	if err == nil {
		g.metrics.RecordBriefingGenerated(metrics.PathSummarized)
		return &Output{
			Content:       resp.Content,
			Model:         resp.Model,
			PromptVersion: summarizer.PromptVersion,
		}, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if !errors.Is(err, summarizer.ErrDisabled) {
		g.logger.Warn("要約の生成に失敗しました。簡易版で生成します",
			slog.String("user_id", in.UserID),
			slog.String("edition_date", in.EditionDate.String()),
			slog.String("error", err.Error()),
		)
	}
	g.metrics.RecordBriefingGenerated(metrics.PathFallback)
	return &Output{
		Content:       Fallback(stocks),
		Model:         model.FallbackModel,
		PromptVersion: model.FallbackPromptVersion,
	}, nil
}

// summarize はタイムアウト付きで要約を呼び出す。パニックはエラーに変換する。
func (g *Generator) summarize(ctx context.Context, req summarizer.Request) (resp *summarizer.Response, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("summarizer panic: %v", r)
		}
	}()

	resp, err = g.summarizer.Summarize(ctx, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("%w: empty response", errInvalidContent)
	}
	return resp, err
}

// validateContent は銘柄の集合と順序が入力と一致し、概況とまとめが空でないことを確認する。
func validateContent(c *model.BriefingContent, stocks []summarizer.StockInput) error {
	if strings.TrimSpace(c.MarketOverview) == "" {
		return fmt.Errorf("%w: empty marketOverview", errInvalidContent)
	}
	if strings.TrimSpace(c.DailySummary) == "" {
		return fmt.Errorf("%w: empty dailySummary", errInvalidContent)
	}
	if len(c.StockSummaries) != len(stocks) {
		return fmt.Errorf("%w: got %d stock summaries, want %d", errInvalidContent, len(c.StockSummaries), len(stocks))
	}
	for i, s := range c.StockSummaries {
		if s.Ticker != stocks[i].Ticker {
			return fmt.Errorf("%w: summary %d is %q, want %q", errInvalidContent, i, s.Ticker, stocks[i].Ticker)
		}
		if s.Name == "" {
			c.StockSummaries[i].Name = stocks[i].Name
		}
	}
	return nil
}

// buildStockInputs はお気に入りの順に要約入力を組み立てる。データのない銘柄も落とさない。
func buildStockInputs(in Input) []summarizer.StockInput {
	stocks := make([]summarizer.StockInput, 0, len(in.Favorites))
	for _, f := range in.Favorites {
		ticker := market.NormalizeTicker(f.Ticker)
		s := summarizer.StockInput{Ticker: ticker, Name: f.Name}
		if snap := in.Snapshots[ticker]; snap != nil {
			s.Name = snap.Name
			s.Price = snap.Price
			s.Change = snap.ChangeAbsolute
			s.ChangePercent = snap.ChangePercent
			s.HasQuote = true
		}
		if s.Name == "" {
			s.Name = ticker
		}
		s.Headlines = in.News[ticker].Headlines(summarizer.MaxHeadlinesPerStock)
		stocks = append(stocks, s)
	}
	return stocks
}

// Fallback は価格データと見出しだけから本文を組み立てる。
func Fallback(stocks []summarizer.StockInput) model.BriefingContent {
	lines := make([]string, 0, len(stocks))
	summaries := make([]model.StockSummary, 0, len(stocks))
	for _, s := range stocks {
		lines = append(lines, fmt.Sprintf("%s: $%.2f (%s%%)", s.Ticker, s.Price, signed(s.ChangePercent)))

		highlights := s.Headlines
		if len(highlights) > fallbackHeadlines {
			highlights = highlights[:fallbackHeadlines]
		}
		summaries = append(summaries, model.StockSummary{
			Ticker:         s.Ticker,
			Name:           s.Name,
			PriceContext:   fmt.Sprintf("現在値 $%.2f (%s, %s%%)", s.Price, signed(s.Change), signed(s.ChangePercent)),
			NewsHighlights: append([]string{}, highlights...),
			Outlook:        fallbackOutlook,
		})
	}

	overview := FallbackMarker
	if len(lines) > 0 {
		overview += "\n" + strings.Join(lines, "\n")
	}
	return model.BriefingContent{
		MarketOverview: overview,
		StockSummaries: summaries,
		DailySummary:   fallbackDailySummary,
	}
}

// signed は小数2桁で整形し、正の値にだけ+を付ける。
func signed(v float64) string {
	if v > 0 {
		return fmt.Sprintf("+%.2f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

var _ ContentGenerator = (*Generator)(nil)
