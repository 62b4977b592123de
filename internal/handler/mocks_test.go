package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/stockast/internal/briefing"
	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/queue"
)

// --- モック定義 ---

// mockBriefingService はBriefingAPIのモック実装。
type mockBriefingService struct {
	edition         edition.Date
	getBriefingFn   func(ctx context.Context, userID string, date edition.Date) (*model.Briefing, error)
	requestFn       func(ctx context.Context, userID string, date edition.Date, force bool) (*briefing.RefreshStatus, error)
	refreshStatusFn func(ctx context.Context, userID string, date edition.Date, force bool) (*briefing.RefreshStatus, error)
	requestBatchFn  func(ctx context.Context, date edition.Date, force bool) (queue.EnqueueResult, error)
}

func (m *mockBriefingService) CurrentEdition(time.Time) edition.Date { return m.edition }

func (m *mockBriefingService) GetBriefing(ctx context.Context, userID string, date edition.Date) (*model.Briefing, error) {
	if m.getBriefingFn != nil {
		return m.getBriefingFn(ctx, userID, date)
	}
	return nil, nil
}

func (m *mockBriefingService) RequestUserBriefing(ctx context.Context, userID string, date edition.Date, force bool) (*briefing.RefreshStatus, error) {
	if m.requestFn != nil {
		return m.requestFn(ctx, userID, date, force)
	}
	return &briefing.RefreshStatus{State: briefing.RefreshPending, EditionDate: date, Enqueued: true}, nil
}

func (m *mockBriefingService) RefreshStatus(ctx context.Context, userID string, date edition.Date, force bool) (*briefing.RefreshStatus, error) {
	if m.refreshStatusFn != nil {
		return m.refreshStatusFn(ctx, userID, date, force)
	}
	return &briefing.RefreshStatus{State: briefing.RefreshNone, EditionDate: date}, nil
}

func (m *mockBriefingService) RequestBatch(ctx context.Context, date edition.Date, force bool) (queue.EnqueueResult, error) {
	if m.requestBatchFn != nil {
		return m.requestBatchFn(ctx, date, force)
	}
	return queue.EnqueueResult{JobID: "job-1", Enqueued: true}, nil
}

// mockRunFinder はRunFinderのモック実装。
type mockRunFinder struct {
	getFn func(ctx context.Context, date edition.Date) (*model.RunRecord, error)
}

func (m *mockRunFinder) Get(ctx context.Context, date edition.Date) (*model.RunRecord, error) {
	if m.getFn != nil {
		return m.getFn(ctx, date)
	}
	return nil, nil
}

// mockPopularLister はPopularListerのモック実装。
type mockPopularLister struct {
	limits []int
}

func (m *mockPopularLister) Popular(_ context.Context, limit int) ([]model.PopularTicker, error) {
	m.limits = append(m.limits, limit)
	return []model.PopularTicker{{Rank: 1, Ticker: "NVDA", Engagement: 12}}, nil
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error { return m.err }

var (
	_ BriefingAPI   = (*mockBriefingService)(nil)
	_ RunFinder     = (*mockRunFinder)(nil)
	_ PopularLister = (*mockPopularLister)(nil)
	_ HealthChecker = (*mockHealthChecker)(nil)
)

// --- テストヘルパー ---

const (
	testUserID = "6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f"
	testSecret = "cron-secret"
)

var testEdition = edition.NewDate(2026, 10, 14)

type testDeps struct {
	briefings *mockBriefingService
	runs      *mockRunFinder
	popular   *mockPopularLister
	health    *mockHealthChecker
}

func newTestRouter(t *testing.T) (http.Handler, *testDeps) {
	t.Helper()
	d := &testDeps{
		briefings: &mockBriefingService{edition: testEdition},
		runs:      &mockRunFinder{},
		popular:   &mockPopularLister{},
		health:    &mockHealthChecker{},
	}
	router := NewRouter(&RouterDeps{
		Briefings:     d.briefings,
		Runs:          d.runs,
		Popular:       d.popular,
		HealthChecker: d.health,
		Clock:         edition.DefaultClock(),
		CronSecret:    testSecret,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return router, d
}

func doRequest(router http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func asUser() map[string]string {
	return map[string]string{"X-User-ID": testUserID}
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
	return out
}

func sampleBriefing(userID string, date edition.Date) *model.Briefing {
	return &model.Briefing{
		ID:          "b-1",
		UserID:      userID,
		EditionDate: date,
		Content: model.BriefingContent{
			MarketOverview: "米国株は堅調",
			StockSummaries: []model.StockSummary{
				{Ticker: "AAPL", Name: "Apple Inc"},
				{Ticker: "NVDA", Name: "NVIDIA Corp"},
			},
			DailySummary: "要点",
		},
		Tickers:   []string{"AAPL", "NVDA"},
		Model:     "gpt-4o-mini",
		UpdatedAt: time.Date(2026, 10, 13, 23, 10, 0, 0, time.UTC),
	}
}
