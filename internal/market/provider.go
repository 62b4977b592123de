// Package market は株価・企業情報・ニュースの外部プロバイダとの連携を提供する。
package market

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
)

// Quote はプロバイダから取得した株価。
type Quote struct {
	Price         float64
	Change        float64
	ChangePercent float64
	Open          float64
	High          float64
	Low           float64
	PrevClose     float64
}

// Profile はプロバイダから取得した企業情報。
type Profile struct {
	Name     string
	Exchange string
	Industry string
}

// QuoteProvider は株価を取得する。銘柄が存在しない場合は(nil, nil)を返す。
type QuoteProvider interface {
	Quote(ctx context.Context, ticker string) (*Quote, error)
}

// ProfileProvider は企業情報を取得する。存在しない場合は(nil, nil)を返す。
type ProfileProvider interface {
	Profile(ctx context.Context, ticker string) (*Profile, error)
}

// NewsProvider は期間内（両端含む）の企業ニュースを取得する。
type NewsProvider interface {
	CompanyNews(ctx context.Context, ticker string, from, to edition.Date) ([]model.NewsItem, error)
}

// FallbackNewsProvider はprimaryが失敗した場合にsecondaryでニュースを取得する。
type FallbackNewsProvider struct {
	primary   NewsProvider
	secondary NewsProvider
}

// NewFallbackNewsProvider はFallbackNewsProviderを生成する。
func NewFallbackNewsProvider(primary, secondary NewsProvider) *FallbackNewsProvider {
	return &FallbackNewsProvider{primary: primary, secondary: secondary}
}

// CompanyNews はprimary、失敗時はsecondaryからニュースを取得する。両方失敗した場合は両方のエラーを返す。
func (p *FallbackNewsProvider) CompanyNews(ctx context.Context, ticker string, from, to edition.Date) ([]model.NewsItem, error) {
	items, err := p.primary.CompanyNews(ctx, ticker, from, to)
	if err == nil {
		return items, nil
	}
	items, err2 := p.secondary.CompanyNews(ctx, ticker, from, to)
	if err2 != nil {
		return nil, errors.Join(err, err2)
	}
	return items, nil
}

// NormalizeTicker は前後の空白を除いて大文字にする。
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// SortNews はURL（URLがなければ見出し）で重複を除き、新しい順に並べる。
func SortNews(items []model.NewsItem) []model.NewsItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]model.NewsItem, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Title) == "" {
			continue
		}
		id := item.URL
		if id == "" {
			id = item.Title
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt > out[j].PublishedAt
	})
	return out
}
