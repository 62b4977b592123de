package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/metrics"
	"github.com/hitoshi/stockast/internal/middleware"
)

// BriefingAPI はルーターが必要とするブリーフィングサービス。
type BriefingAPI interface {
	BriefingServiceInterface
	BatchRequester
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Briefings     BriefingAPI
	Runs          RunFinder
	Popular       PopularLister
	HealthChecker HealthChecker
	Clock         *edition.Clock
	CronSecret    string

	// RefreshLimiter はPOST /api/briefings/refreshにのみ適用する
	RefreshLimiter *middleware.RateLimiter
	Metrics        metrics.MetricsCollector
	// MetricsHandler は/metricsで公開するハンドラー（nilの場合は公開しない）
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → UserID → RateLimit(refreshのみ)
//
// /health、/metrics、cron、実行記録はユーザー識別の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	briefingHandler := NewBriefingHandler(deps.Briefings, deps.Clock, logger)
	cronHandler := NewCronHandler(deps.Briefings, deps.CronSecret, logger)
	opsHandler := NewOpsHandler(deps.Runs, deps.Popular, deps.HealthChecker, logger)

	// --- ユーザー識別不要のルート ---
	r.Get("/health", opsHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Post("/api/cron/daily-briefing", cronHandler.DailyBriefing)
	r.Get("/api/runs/{date}", opsHandler.GetRun)
	r.Get("/api/popular", opsHandler.ListPopular)

	// --- X-User-IDが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewUserIDMiddleware())

		r.Route("/api/briefings", func(r chi.Router) {
			r.Get("/today", briefingHandler.GetToday)

			refresh := http.HandlerFunc(briefingHandler.Refresh)
			if deps.RefreshLimiter != nil {
				r.With(deps.RefreshLimiter.Middleware()).Post("/refresh", refresh)
			} else {
				r.Post("/refresh", refresh)
			}
			r.Get("/refresh/status", briefingHandler.RefreshStatus)

			r.Get("/{date}", briefingHandler.GetByDate)
		})
	})

	return r
}
