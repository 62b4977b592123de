// Package collector は銘柄ごとの株価・企業情報・ニュースを収集する。
//
// 外部プロバイダへの呼び出しは全て1つのレートリミッタで直列化し、
// プロバイダ側の秒間リクエスト上限を自前で守る。
// 1銘柄の失敗は他の銘柄の収集を止めない。
package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/market"
	"github.com/hitoshi/stockast/internal/metrics"
	"github.com/hitoshi/stockast/internal/model"
)

// SnapshotUpserter は株価スナップショットの保存先。
type SnapshotUpserter interface {
	UpsertSnapshot(ctx context.Context, snapshot *model.MarketSnapshot) error
}

// Config はコレクターの設定パラメータ。
type Config struct {
	// MinInterval はプロバイダ呼び出しの最低間隔（デフォルト: 1秒、負の値で無制限）。
	MinInterval time.Duration
	// CallTimeout は呼び出し1回あたりのタイムアウト（デフォルト: 10秒）。
	CallTimeout time.Duration
	// NewsLookbackDays はニュースの取得日数。エディション日付を含む（デフォルト: 7日）。
	NewsLookbackDays int
	// ProviderName はメトリクスのproviderラベル（デフォルト: finnhub）。
	ProviderName string
}

// DefaultConfig はデフォルトのコレクター設定を返す。
func DefaultConfig() Config {
	return Config{
		MinInterval:      time.Second,
		CallTimeout:      10 * time.Second,
		NewsLookbackDays: 7,
		ProviderName:     "finnhub",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	switch {
	case c.MinInterval == 0:
		c.MinInterval = d.MinInterval
	case c.MinInterval < 0:
		c.MinInterval = 0
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.NewsLookbackDays <= 0 {
		c.NewsLookbackDays = d.NewsLookbackDays
	}
	if c.ProviderName == "" {
		c.ProviderName = d.ProviderName
	}
	return c
}

// Result は収集結果。取得できなかった銘柄はマップに含まれない（0円扱いにしない）。
type Result struct {
	Snapshots       map[string]*model.MarketSnapshot
	News            map[string]model.NewsDigest
	PricesCollected int
	NewsCollected   int
}

func newResult(n int) *Result {
	return &Result{
		Snapshots: make(map[string]*model.MarketSnapshot, n),
		News:      make(map[string]model.NewsDigest, n),
	}
}

// Snapshot は銘柄のスナップショットを返す。ない場合はnil。
func (r *Result) Snapshot(ticker string) *model.MarketSnapshot {
	if r == nil {
		return nil
	}
	return r.Snapshots[ticker]
}

// NewsFor は銘柄のニュースを返す。ない場合は空。
func (r *Result) NewsFor(ticker string) model.NewsDigest {
	if r == nil {
		return nil
	}
	return r.News[ticker]
}

// Collector は株価・企業情報・ニュースを収集し、スナップショットを保存する。
type Collector struct {
	quotes   market.QuoteProvider
	profiles market.ProfileProvider
	news     market.NewsProvider
	store    SnapshotUpserter
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	config   Config

	// mu と limiter で全プロバイダ呼び出しを直列化する
	mu      sync.Mutex
	limiter *rate.Limiter
	now     func() time.Time
}

// NewCollector はCollectorの新しいインスタンスを生成する。
func NewCollector(
	quotes market.QuoteProvider,
	profiles market.ProfileProvider,
	news market.NewsProvider,
	store SnapshotUpserter,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Collector {
	config = config.withDefaults()
	limit := rate.Inf
	if config.MinInterval > 0 {
		limit = rate.Every(config.MinInterval)
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	return &Collector{
		quotes:   quotes,
		profiles: profiles,
		news:     news,
		store:    store,
		metrics:  mc,
		logger:   logger,
		config:   config,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

// Collect はtickersの株価とニュースを収集する。
// 銘柄ごとのエラーはログに記録して次の銘柄へ進み、部分的な結果を返す。
// エラーを返すのはコンテキストがキャンセルされた場合のみで、その場合もそれまでの結果を返す。
func (c *Collector) Collect(ctx context.Context, tickers []string, date edition.Date) (*Result, error) {
	start := time.Now()
	targets := uniqueTickers(tickers)
	result := newResult(len(targets))
	from, to := edition.NewsWindow(date, c.config.NewsLookbackDays)

	upserted := 0
	for _, ticker := range targets {
		if err := ctx.Err(); err != nil {
			c.metrics.RecordSnapshotsUpserted(upserted)
			return result, err
		}

		if snap := c.collectQuote(ctx, ticker, date); snap != nil {
			result.Snapshots[ticker] = snap
			result.PricesCollected++
			if c.saveSnapshot(ctx, snap) {
				upserted++
			}
		}

		if digest, ok := c.collectNews(ctx, ticker, from, to); ok {
			result.News[ticker] = digest
			result.NewsCollected += len(digest)
		}
	}
	c.metrics.RecordSnapshotsUpserted(upserted)

	c.logger.Info("銘柄データの収集が完了しました",
		slog.String("edition_date", date.String()),
		slog.Int("tickers", len(targets)),
		slog.Int("prices_collected", result.PricesCollected),
		slog.Int("news_collected", result.NewsCollected),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}

func (c *Collector) collectQuote(ctx context.Context, ticker string, date edition.Date) *model.MarketSnapshot {
	var quote *market.Quote
	err := c.call(ctx, "quote", func(ctx context.Context) (bool, error) {
		var err error
		quote, err = c.quotes.Quote(ctx, ticker)
		return quote != nil, err
	})
	if err != nil {
		c.logger.Warn("株価の取得に失敗しました",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if quote == nil {
		c.logger.Info("株価データがありません", slog.String("ticker", ticker))
		return nil
	}

	name := ticker
	var profile *market.Profile
	err = c.call(ctx, "profile", func(ctx context.Context) (bool, error) {
		var err error
		profile, err = c.profiles.Profile(ctx, ticker)
		return profile != nil, err
	})
	switch {
	case err != nil:
		c.logger.Warn("企業情報の取得に失敗しました。表示名にティッカーを使用します",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
	case profile != nil && profile.Name != "":
		name = profile.Name
	}

	return &model.MarketSnapshot{
		Ticker:         ticker,
		EditionDate:    date,
		Name:           name,
		Price:          quote.Price,
		ChangeAbsolute: quote.Change,
		ChangePercent:  quote.ChangePercent,
		Open:           quote.Open,
		High:           quote.High,
		Low:            quote.Low,
		PrevClose:      quote.PrevClose,
		UpdatedAt:      c.now(),
	}
}

func (c *Collector) collectNews(ctx context.Context, ticker string, from, to edition.Date) (model.NewsDigest, bool) {
	var items []model.NewsItem
	err := c.call(ctx, "news", func(ctx context.Context) (bool, error) {
		var err error
		items, err = c.news.CompanyNews(ctx, ticker, from, to)
		return len(items) > 0, err
	})
	if err != nil {
		c.logger.Warn("ニュースの取得に失敗しました",
			slog.String("ticker", ticker),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return model.NewsDigest(market.SortNews(items)), true
}

// saveSnapshot はスナップショットを保存する。失敗しても収集結果からは落とさない。
func (c *Collector) saveSnapshot(ctx context.Context, snap *model.MarketSnapshot) bool {
	if c.store == nil {
		return false
	}
	if err := c.store.UpsertSnapshot(ctx, snap); err != nil {
		c.logger.Error("株価スナップショットの保存に失敗しました",
			slog.String("ticker", snap.Ticker),
			slog.String("edition_date", snap.EditionDate.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// call はレートリミッタを待ってからfnをタイムアウト付きで実行する。
// fnはデータが得られたかどうかを返し、メトリクスのresultラベルに使う。
func (c *Collector) call(ctx context.Context, op string, fn func(ctx context.Context) (bool, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	start := time.Now()
	found, err := fn(callCtx)
	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultFailure
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			c.logger.Warn("プロバイダ呼び出しがタイムアウトしました",
				slog.String("op", op),
				slog.Duration("timeout", c.config.CallTimeout),
			)
		}
	case !found:
		result = metrics.ResultAbsent
	}
	c.metrics.RecordProviderCall(c.config.ProviderName, op, result, time.Since(start))
	return err
}

// uniqueTickers は正規化して重複を除いたティッカーを元の順序で返す。
func uniqueTickers(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = market.NormalizeTicker(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
