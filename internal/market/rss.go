package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/security"
)

// maxFeedBodySize はRSSレスポンスの最大読み込みサイズ。
const maxFeedBodySize = 2 * 1024 * 1024

// RSSNewsProvider は銘柄ごとのRSS検索フィードからニュースを取得する。
// urlTemplateの%sにはクエリエスケープした銘柄コードが入る。
type RSSNewsProvider struct {
	client      *http.Client
	urlTemplate string
	loc         *time.Location
	sanitizer   security.TextSanitizer
}

// NewRSSNewsProvider はRSSNewsProviderを生成する。
// locは期間判定に使うタイムゾーン（エディション日付のタイムゾーン）。
func NewRSSNewsProvider(client *http.Client, urlTemplate string, loc *time.Location, sanitizer security.TextSanitizer) (*RSSNewsProvider, error) {
	if strings.Count(urlTemplate, "%s") != 1 {
		return nil, fmt.Errorf("RSS URLテンプレートには%%sを1つだけ含めてください: %s", urlTemplate)
	}
	if loc == nil {
		loc = time.UTC
	}
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &RSSNewsProvider{
		client:      client,
		urlTemplate: urlTemplate,
		loc:         loc,
		sanitizer:   sanitizer,
	}, nil
}

// CompanyNews はフィードを取得し、公開日時が期間内の記事だけを返す。
// 公開日時のない記事は期間を判定できないため除外する。
func (p *RSSNewsProvider) CompanyNews(ctx context.Context, ticker string, from, to edition.Date) ([]model.NewsItem, error) {
	feedURL := fmt.Sprintf(p.urlTemplate, url.QueryEscape(ticker))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Stockast/1.0 News Collector")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("RSSの取得に失敗しました: %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("RSSの取得に失敗しました: %s: HTTPステータス %d", ticker, resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBodySize))
	if err != nil {
		return nil, fmt.Errorf("RSSのパースに失敗しました: %s: %w", ticker, err)
	}

	start := time.Date(from.Year, from.Month, from.Day, 0, 0, 0, 0, p.loc)
	end := time.Date(to.Year, to.Month, to.Day, 0, 0, 0, 0, p.loc).AddDate(0, 0, 1)

	items := make([]model.NewsItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published == nil || published.Before(start) || !published.Before(end) {
			continue
		}

		source := feed.Title
		if item.Author != nil && item.Author.Name != "" {
			source = item.Author.Name
		}
		items = append(items, model.NewsItem{
			Title:       p.sanitizer.Clean(item.Title),
			Summary:     p.sanitizer.Clean(item.Description),
			Source:      source,
			URL:         item.Link,
			PublishedAt: published.Unix(),
		})
	}
	return SortNews(items), nil
}

var _ NewsProvider = (*RSSNewsProvider)(nil)
