package briefing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/stockast/internal/collector"
	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/market"
	"github.com/hitoshi/stockast/internal/metrics"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/repository"
	"github.com/hitoshi/stockast/internal/runtracker"
	"github.com/hitoshi/stockast/internal/summarizer"
)

var testDate = edition.NewDate(2026, 10, 14)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// --- summarizer ---

type mockSummarizer struct {
	summarizeFunc func(ctx context.Context, req summarizer.Request) (*summarizer.Response, error)
}

func (m *mockSummarizer) Summarize(ctx context.Context, req summarizer.Request) (*summarizer.Response, error) {
	return m.summarizeFunc(ctx, req)
}

// echoSummarizer は入力どおりの銘柄で正しい本文を返す。
func echoSummarizer() *mockSummarizer {
	return &mockSummarizer{summarizeFunc: func(_ context.Context, req summarizer.Request) (*summarizer.Response, error) {
		c := model.BriefingContent{MarketOverview: "市場は堅調", DailySummary: "良い一日を"}
		for _, s := range req.Stocks {
			c.StockSummaries = append(c.StockSummaries, model.StockSummary{
				Ticker:         s.Ticker,
				Name:           s.Name,
				PriceContext:   "上昇",
				NewsHighlights: []string{},
				Outlook:        "注視",
			})
		}
		return &summarizer.Response{Content: c, Model: "test-model"}, nil
	}}
}

func failingSummarizer() *mockSummarizer {
	return &mockSummarizer{summarizeFunc: func(context.Context, summarizer.Request) (*summarizer.Response, error) {
		return nil, errors.New("upstream unreachable")
	}}
}

// --- metrics ---

type pathRecorder struct {
	metrics.Noop
	mu    sync.Mutex
	paths []string
}

func (r *pathRecorder) RecordBriefingGenerated(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

// --- repositories ---

type memoryUserRepo struct {
	favorites   map[string][]model.FavoriteTicker
	preferences map[string]model.Preferences
	briefings   *memoryBriefingRepo
	listErr     error
	favoriteErr map[string]error
}

var _ repository.UserRepository = (*memoryUserRepo)(nil)

func newMemoryUserRepo(briefings *memoryBriefingRepo) *memoryUserRepo {
	return &memoryUserRepo{
		favorites:   make(map[string][]model.FavoriteTicker),
		preferences: make(map[string]model.Preferences),
		briefings:   briefings,
		favoriteErr: make(map[string]error),
	}
}

func (m *memoryUserRepo) addUser(userID string, tickers ...string) {
	for i, t := range tickers {
		m.favorites[userID] = append(m.favorites[userID], model.FavoriteTicker{UserID: userID, Ticker: t, Rank: i + 1})
	}
	if len(tickers) == 0 {
		m.favorites[userID] = nil
	}
}

func (m *memoryUserRepo) ListFavorites(_ context.Context, userID string) ([]model.FavoriteTicker, error) {
	if err := m.favoriteErr[userID]; err != nil {
		return nil, err
	}
	return m.favorites[userID], nil
}

func (m *memoryUserRepo) FindPreferences(_ context.Context, userID string) (*model.Preferences, error) {
	p, ok := m.preferences[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memoryUserRepo) ListUsersWithFavorites(context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var ids []string
	for id, favs := range m.favorites {
		if len(favs) > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memoryUserRepo) ListUsersWithoutBriefing(ctx context.Context, date edition.Date) ([]string, error) {
	all, err := m.ListUsersWithFavorites(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range all {
		if b, _ := m.briefings.FindByUserAndDate(ctx, id, date); b == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type briefingKey struct {
	userID string
	date   edition.Date
}

type memoryBriefingRepo struct {
	mu        sync.Mutex
	rows      map[briefingKey]model.Briefing
	upsertErr error
	upserts   int
	nextID    int
}

var _ repository.BriefingRepository = (*memoryBriefingRepo)(nil)

func newMemoryBriefingRepo() *memoryBriefingRepo {
	return &memoryBriefingRepo{rows: make(map[briefingKey]model.Briefing)}
}

func (m *memoryBriefingRepo) Upsert(_ context.Context, b *model.Briefing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	key := briefingKey{b.UserID, b.EditionDate}
	now := time.Now()
	if existing, ok := m.rows[key]; ok {
		b.ID = existing.ID
		b.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		b.ID = fmt.Sprintf("b%d", m.nextID)
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	m.rows[key] = *b
	return nil
}

func (m *memoryBriefingRepo) FindByUserAndDate(_ context.Context, userID string, date edition.Date) (*model.Briefing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[briefingKey{userID, date}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *memoryBriefingRepo) Delete(_ context.Context, userID string, date edition.Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := briefingKey{userID, date}
	_, ok := m.rows[key]
	delete(m.rows, key)
	return ok, nil
}

// pausingBriefingRepo は最初のFindByUserAndDateで行を読んだあと、releaseが閉じられるまで戻らない。
type pausingBriefingRepo struct {
	*memoryBriefingRepo
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newPausingBriefingRepo(inner *memoryBriefingRepo) *pausingBriefingRepo {
	return &pausingBriefingRepo{
		memoryBriefingRepo: inner,
		read:               make(chan struct{}),
		release:            make(chan struct{}),
	}
}

func (p *pausingBriefingRepo) FindByUserAndDate(ctx context.Context, userID string, date edition.Date) (*model.Briefing, error) {
	b, err := p.memoryBriefingRepo.FindByUserAndDate(ctx, userID, date)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return b, err
}

func (m *memoryBriefingRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// --- collector ---

type mockCollector struct {
	mu        sync.Mutex
	result    *collector.Result
	err       error
	requested [][]string
}

func (m *mockCollector) Collect(_ context.Context, tickers []string, _ edition.Date) (*collector.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requested = append(m.requested, tickers)
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &collector.Result{}, nil
	}
	return m.result, nil
}

// --- providers (for the real collector) ---

type mockMarket struct {
	quoteFn func(ticker string) (*market.Quote, error)
	newsFn  func(ticker string) ([]model.NewsItem, error)
}

func (m *mockMarket) Quote(_ context.Context, ticker string) (*market.Quote, error) {
	return m.quoteFn(ticker)
}

func (m *mockMarket) Profile(_ context.Context, ticker string) (*market.Profile, error) {
	return &market.Profile{Name: ticker + " Inc."}, nil
}

func (m *mockMarket) CompanyNews(_ context.Context, ticker string, _, _ edition.Date) ([]model.NewsItem, error) {
	return m.newsFn(ticker)
}

type discardSnapshots struct{}

func (discardSnapshots) UpsertSnapshot(context.Context, *model.MarketSnapshot) error { return nil }

// --- generator ---

type mockGenerator struct {
	generateFunc func(ctx context.Context, in Input) (*Output, error)
}

func (m *mockGenerator) Generate(ctx context.Context, in Input) (*Output, error) {
	return m.generateFunc(ctx, in)
}

// --- run tracker ---

type mockRunTracker struct {
	mu        sync.Mutex
	started   []edition.Date
	completed []model.RunCounters
	failed    []error
}

func (m *mockRunTracker) Start(_ context.Context, date edition.Date) (*runtracker.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, date)
	return &runtracker.Handle{Date: date, StartedAt: time.Now()}, nil
}

func (m *mockRunTracker) Complete(_ context.Context, _ *runtracker.Handle, counters model.RunCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, counters)
	return nil
}

func (m *mockRunTracker) Fail(_ context.Context, _ *runtracker.Handle, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, cause)
	return nil
}

// --- cache ---

type memoryCache struct {
	mu      sync.Mutex
	rows    map[briefingKey]model.Briefing
	gets    int
	hits    int
	deletes int
	getErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{rows: make(map[briefingKey]model.Briefing)}
}

func (c *memoryCache) Get(_ context.Context, userID string, date edition.Date) (*model.Briefing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	b, ok := c.rows[briefingKey{userID, date}]
	if !ok {
		return nil, nil
	}
	c.hits++
	return &b, nil
}

func (c *memoryCache) Set(_ context.Context, b *model.Briefing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[briefingKey{b.UserID, b.EditionDate}] = *b
	return nil
}

func (c *memoryCache) peek(userID string, date edition.Date) (model.Briefing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.rows[briefingKey{userID, date}]
	return b, ok
}

func (c *memoryCache) Delete(_ context.Context, userID string, date edition.Date) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.rows, briefingKey{userID, date})
	return nil
}
