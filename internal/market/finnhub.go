package market

import (
	"context"
	"fmt"
	"strings"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/security"
)

// FinnhubClient はFinnhub APIで株価・企業情報・ニュースを取得する。
// レート制限はこのクライアントでは行わず、呼び出し側（collector）で直列化する。
type FinnhubClient struct {
	api       *finnhub.DefaultApiService
	sanitizer security.TextSanitizer
}

// NewFinnhubClient はAPIキーを設定したFinnhubClientを生成する。
func NewFinnhubClient(apiKey string, sanitizer security.TextSanitizer) *FinnhubClient {
	cfg := finnhub.NewConfiguration()
	cfg.AddDefaultHeader("X-Finnhub-Token", apiKey)
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &FinnhubClient{
		api:       finnhub.NewAPIClient(cfg).DefaultApi,
		sanitizer: sanitizer,
	}
}

// Quote は現在値を取得する。Finnhubは未知の銘柄に全項目0を返すため、その場合は(nil, nil)。
func (c *FinnhubClient) Quote(ctx context.Context, ticker string) (*Quote, error) {
	res, _, err := c.api.Quote(ctx).Symbol(ticker).Execute()
	if err != nil {
		return nil, fmt.Errorf("Finnhubの株価取得に失敗しました: %s: %w", ticker, err)
	}
	return quoteFromAPI(res), nil
}

func quoteFromAPI(q finnhub.Quote) *Quote {
	out := &Quote{
		Price:         float64(q.GetC()),
		Change:        float64(q.GetD()),
		ChangePercent: float64(q.GetDp()),
		Open:          float64(q.GetO()),
		High:          float64(q.GetH()),
		Low:           float64(q.GetL()),
		PrevClose:     float64(q.GetPc()),
	}
	if out.Price == 0 && out.PrevClose == 0 && out.High == 0 && out.Low == 0 {
		return nil
	}
	return out
}

// Profile は企業情報を取得する。名称が空の場合は(nil, nil)。
func (c *FinnhubClient) Profile(ctx context.Context, ticker string) (*Profile, error) {
	res, _, err := c.api.CompanyProfile2(ctx).Symbol(ticker).Execute()
	if err != nil {
		return nil, fmt.Errorf("Finnhubの企業情報取得に失敗しました: %s: %w", ticker, err)
	}
	name := strings.TrimSpace(res.GetName())
	if name == "" {
		return nil, nil
	}
	return &Profile{
		Name:     name,
		Exchange: res.GetExchange(),
		Industry: res.GetFinnhubIndustry(),
	}, nil
}

// CompanyNews は期間内の企業ニュースを取得する。
func (c *FinnhubClient) CompanyNews(ctx context.Context, ticker string, from, to edition.Date) ([]model.NewsItem, error) {
	res, _, err := c.api.CompanyNews(ctx).Symbol(ticker).From(from.String()).To(to.String()).Execute()
	if err != nil {
		return nil, fmt.Errorf("Finnhubのニュース取得に失敗しました: %s: %w", ticker, err)
	}

	items := make([]model.NewsItem, 0, len(res))
	for _, n := range res {
		items = append(items, model.NewsItem{
			Title:       c.sanitizer.Clean(n.GetHeadline()),
			Summary:     c.sanitizer.Clean(n.GetSummary()),
			Source:      n.GetSource(),
			URL:         n.GetUrl(),
			PublishedAt: int64(n.GetDatetime()),
		})
	}
	return SortNews(items), nil
}

var (
	_ QuoteProvider   = (*FinnhubClient)(nil)
	_ ProfileProvider = (*FinnhubClient)(nil)
	_ NewsProvider    = (*FinnhubClient)(nil)
)
