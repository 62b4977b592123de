package briefing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/stockast/internal/metrics"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/summarizer"
)

func favorites(tickers ...string) []model.FavoriteTicker {
	out := make([]model.FavoriteTicker, len(tickers))
	for i, t := range tickers {
		out[i] = model.FavoriteTicker{UserID: "u1", Ticker: t, Rank: i + 1}
	}
	return out
}

func testInput(tickers ...string) Input {
	return Input{
		UserID:      "u1",
		EditionDate: testDate,
		Favorites:   favorites(tickers...),
		Preferences: model.DefaultPreferences(),
		Snapshots:   map[string]*model.MarketSnapshot{},
		News:        map[string]model.NewsDigest{},
	}
}

func TestGenerator_Summarized(t *testing.T) {
	rec := &pathRecorder{}
	g := NewGenerator(echoSummarizer(), rec, testLogger(), time.Second)

	out, err := g.Generate(context.Background(), testInput("AAPL", "NVDA"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Model != "test-model" || out.PromptVersion != summarizer.PromptVersion {
		t.Errorf("model = %q, version = %d", out.Model, out.PromptVersion)
	}
	if out.IsFallback() {
		t.Error("summarized output must not be marked as fallback")
	}
	if len(rec.paths) != 1 || rec.paths[0] != metrics.PathSummarized {
		t.Errorf("paths = %v", rec.paths)
	}
}

func TestGenerator_PassesStocksInRankOrderWithMissingData(t *testing.T) {
	var got summarizer.Request
	s := &mockSummarizer{summarizeFunc: func(_ context.Context, req summarizer.Request) (*summarizer.Response, error) {
		got = req
		return nil, errors.New("stop")
	}}
	g := NewGenerator(s, nil, testLogger(), time.Second)

	in := testInput("nvda", "AAPL")
	in.Snapshots["AAPL"] = &model.MarketSnapshot{Ticker: "AAPL", Name: "Apple Inc", Price: 150, ChangeAbsolute: 2.22, ChangePercent: 1.5}
	in.News["AAPL"] = model.NewsDigest{{Title: "h1"}, {Title: "h2"}, {Title: "h3"}, {Title: "h4"}}
	in.Preferences = model.Preferences{Style: "loud", Focus: model.FocusNews}

	if _, err := g.Generate(context.Background(), in); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(got.Stocks) != 2 || got.Stocks[0].Ticker != "NVDA" || got.Stocks[1].Ticker != "AAPL" {
		t.Fatalf("stocks = %+v", got.Stocks)
	}
	if got.Stocks[0].HasQuote || got.Stocks[0].Price != 0 || got.Stocks[0].Name != "NVDA" {
		t.Errorf("missing ticker = %+v, want zero-valued with ticker as name", got.Stocks[0])
	}
	if !got.Stocks[1].HasQuote || got.Stocks[1].Name != "Apple Inc" || len(got.Stocks[1].Headlines) != summarizer.MaxHeadlinesPerStock {
		t.Errorf("AAPL = %+v", got.Stocks[1])
	}
	if got.Preferences.Style != model.StyleConcise || got.Preferences.Focus != model.FocusNews {
		t.Errorf("preferences = %+v, want normalized", got.Preferences)
	}
}

func TestGenerator_FallbackCases(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, req summarizer.Request) (*summarizer.Response, error)
	}{
		{
			name: "error",
			fn: func(context.Context, summarizer.Request) (*summarizer.Response, error) {
				return nil, errors.New("quota exceeded")
			},
		},
		{
			name: "nil response",
			fn: func(context.Context, summarizer.Request) (*summarizer.Response, error) {
				return nil, nil
			},
		},
		{
			name: "panic",
			fn: func(context.Context, summarizer.Request) (*summarizer.Response, error) {
				panic("boom")
			},
		},
		{
			name: "different ticker set",
			fn: func(context.Context, summarizer.Request) (*summarizer.Response, error) {
				return &summarizer.Response{Content: model.BriefingContent{
					MarketOverview: "o",
					DailySummary:   "d",
					StockSummaries: []model.StockSummary{{Ticker: "AAPL"}, {Ticker: "TSLA"}},
				}}, nil
			},
		},
		{
			name: "different order",
			fn: func(context.Context, summarizer.Request) (*summarizer.Response, error) {
				return &summarizer.Response{Content: model.BriefingContent{
					MarketOverview: "o",
					DailySummary:   "d",
					StockSummaries: []model.StockSummary{{Ticker: "NVDA"}, {Ticker: "AAPL"}},
				}}, nil
			},
		},
		{
			name: "missing ticker",
			fn: func(context.Context, summarizer.Request) (*summarizer.Response, error) {
				return &summarizer.Response{Content: model.BriefingContent{
					MarketOverview: "o",
					DailySummary:   "d",
					StockSummaries: []model.StockSummary{{Ticker: "AAPL"}},
				}}, nil
			},
		},
		{
			name: "empty overview",
			fn: func(_ context.Context, req summarizer.Request) (*summarizer.Response, error) {
				resp, _ := echoSummarizer().Summarize(context.Background(), req)
				resp.Content.MarketOverview = "  "
				return resp, nil
			},
		},
		{
			name: "timeout",
			fn: func(ctx context.Context, _ summarizer.Request) (*summarizer.Response, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &pathRecorder{}
			g := NewGenerator(&mockSummarizer{summarizeFunc: tt.fn}, rec, testLogger(), 20*time.Millisecond)

			out, err := g.Generate(context.Background(), testInput("AAPL", "NVDA"))
			if err != nil {
				t.Fatalf("Generate must not fail: %v", err)
			}
			if !out.IsFallback() || out.PromptVersion != model.FallbackPromptVersion {
				t.Errorf("model = %q, version = %d, want fallback", out.Model, out.PromptVersion)
			}
			if got := out.Content.Tickers(); len(got) != 2 || got[0] != "AAPL" || got[1] != "NVDA" {
				t.Errorf("tickers = %v, want [AAPL NVDA]", got)
			}
			if !strings.Contains(out.Content.MarketOverview, FallbackMarker) {
				t.Errorf("overview = %q, want fallback marker", out.Content.MarketOverview)
			}
			if len(rec.paths) != 1 || rec.paths[0] != metrics.PathFallback {
				t.Errorf("paths = %v", rec.paths)
			}
		})
	}
}

func TestGenerator_Disabled_FallsBack(t *testing.T) {
	g := NewGenerator(nil, nil, testLogger(), 0)
	out, err := g.Generate(context.Background(), testInput("AAPL"))
	if err != nil || !out.IsFallback() {
		t.Errorf("Generate = (%+v, %v), want fallback", out, err)
	}
}

func TestGenerator_ParentContextDone_ReturnsError(t *testing.T) {
	g := NewGenerator(failingSummarizer(), nil, testLogger(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Generate(ctx, testInput("AAPL")); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFallback_Format(t *testing.T) {
	content := Fallback([]summarizer.StockInput{
		{Ticker: "AAPL", Name: "Apple Inc", Price: 150, Change: 2.22, ChangePercent: 1.5, HasQuote: true,
			Headlines: []string{"first", "second", "third"}},
		{Ticker: "TSLA", Name: "Tesla", Price: 200.5, Change: -3.1, ChangePercent: -1.52, HasQuote: true},
		{Ticker: "NVDA", Name: "NVDA"},
	})

	for _, line := range []string{"AAPL: $150.00 (+1.50%)", "TSLA: $200.50 (-1.52%)", "NVDA: $0.00 (0.00%)"} {
		if !strings.Contains(content.MarketOverview, line) {
			t.Errorf("overview %q should contain %q", content.MarketOverview, line)
		}
	}
	if !strings.HasPrefix(content.MarketOverview, FallbackMarker) {
		t.Errorf("overview should start with the marker: %q", content.MarketOverview)
	}
	if content.DailySummary == "" {
		t.Error("daily summary must not be empty")
	}

	aapl := content.StockSummaries[0]
	if aapl.PriceContext != "現在値 $150.00 (+2.22, +1.50%)" {
		t.Errorf("AAPL priceContext = %q", aapl.PriceContext)
	}
	if len(aapl.NewsHighlights) != 2 || aapl.NewsHighlights[0] != "first" || aapl.NewsHighlights[1] != "second" {
		t.Errorf("AAPL highlights = %v, want first two verbatim", aapl.NewsHighlights)
	}
	if got := content.StockSummaries[1].PriceContext; got != "現在値 $200.50 (-3.10, -1.52%)" {
		t.Errorf("TSLA priceContext = %q", got)
	}
	nvda := content.StockSummaries[2]
	if nvda.PriceContext != "現在値 $0.00 (0.00, 0.00%)" || nvda.NewsHighlights == nil || len(nvda.NewsHighlights) != 0 {
		t.Errorf("NVDA = %+v", nvda)
	}
	if nvda.Outlook == "" {
		t.Error("outlook must not be empty")
	}
}

func TestFallback_Empty(t *testing.T) {
	content := Fallback(nil)
	if content.MarketOverview != FallbackMarker || content.StockSummaries == nil {
		t.Errorf("content = %+v", content)
	}
}

func TestFingerprint(t *testing.T) {
	sum := sha256.Sum256([]byte(`{"userId":"u1","date":"2026-10-14","stocks":["AAPL","NVDA"]}`))
	want := hex.EncodeToString(sum[:])

	if got := Fingerprint("u1", testDate, []string{"AAPL", "NVDA"}); got != want {
		t.Errorf("Fingerprint = %s, want %s", got, want)
	}
	if Fingerprint("u1", testDate, []string{"NVDA", "AAPL"}) == want {
		t.Error("fingerprint must depend on ticker order")
	}
	if Fingerprint("u2", testDate, []string{"AAPL", "NVDA"}) == want {
		t.Error("fingerprint must depend on user")
	}
	if Fingerprint("u1", testDate.AddDays(1), []string{"AAPL", "NVDA"}) == want {
		t.Error("fingerprint must depend on date")
	}
	if len(Fingerprint("u1", testDate, nil)) != 64 {
		t.Error("fingerprint should be 64 hex chars")
	}
}
