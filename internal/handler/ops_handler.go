package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/middleware"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/queue"
)

// BatchRequester はバッチ生成ジョブを投入する。
type BatchRequester interface {
	CurrentEdition(now time.Time) edition.Date
	RequestBatch(ctx context.Context, date edition.Date, force bool) (queue.EnqueueResult, error)
}

// RunFinder はバッチ実行記録を取得する。記録がない場合は(nil, nil)。
type RunFinder interface {
	Get(ctx context.Context, date edition.Date) (*model.RunRecord, error)
}

// PopularLister は人気銘柄ランキングを返す。
type PopularLister interface {
	Popular(ctx context.Context, limit int) ([]model.PopularTicker, error)
}

// HealthChecker はDB接続の疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// CronHandler は外部スケジューラからのバッチ起動を受け付ける。
type CronHandler struct {
	batches BatchRequester
	secret  string
	logger  *slog.Logger
	now     func() time.Time
}

// NewCronHandler はCronHandlerを生成する。secretが空の場合はすべてのリクエストを拒否する。
func NewCronHandler(batches BatchRequester, secret string, logger *slog.Logger) *CronHandler {
	return &CronHandler{batches: batches, secret: secret, logger: logger, now: time.Now}
}

type cronResponse struct {
	EditionDate edition.Date `json:"editionDate"`
	Force       bool         `json:"force"`
	Enqueued    bool         `json:"enqueued"`
	JobID       string       `json:"jobId"`
}

// DailyBriefing はバッチ生成ジョブを投入し、202を返す。
// POST /api/cron/daily-briefing?date=YYYY-MM-DD&force=true
func (h *CronHandler) DailyBriefing(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	date := h.batches.CurrentEdition(h.now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := edition.ParseDate(raw)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(raw))
			return
		}
		date = parsed
	}
	force := queryBool(r, "force")

	res, err := h.batches.RequestBatch(r.Context(), date, force)
	if err != nil {
		h.logger.Error("バッチ生成ジョブの投入に失敗しました",
			slog.String("edition_date", date.String()),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewQueueUnavailableError())
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, cronResponse{
		EditionDate: date,
		Force:       force,
		Enqueued:    res.Enqueued,
		JobID:       res.JobID,
	})
}

func (h *CronHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}

// OpsHandler は実行記録・人気銘柄・ヘルスチェックのHTTPハンドラー。
type OpsHandler struct {
	runs    RunFinder
	popular PopularLister
	health  HealthChecker
	logger  *slog.Logger
}

// NewOpsHandler はOpsHandlerを生成する。
func NewOpsHandler(runs RunFinder, popular PopularLister, health HealthChecker, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{runs: runs, popular: popular, health: health, logger: logger}
}

type runResponse struct {
	RunDate            edition.Date    `json:"runDate"`
	Status             model.RunStatus `json:"status"`
	StartedAt          time.Time       `json:"startedAt"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
	PricesCollected    int             `json:"pricesCollected"`
	NewsCollected      int             `json:"newsCollected"`
	SummariesGenerated int             `json:"summariesGenerated"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
}

// GetRun は版日付のバッチ実行記録を返す。
// GET /api/runs/{date}
func (h *OpsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "date")
	date, err := edition.ParseDate(raw)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(raw))
		return
	}

	run, err := h.runs.Get(r.Context(), date)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	if run == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewRunNotFoundError(raw))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, runResponse{
		RunDate:            run.RunDate,
		Status:             run.Status,
		StartedAt:          run.StartedAt,
		CompletedAt:        run.CompletedAt,
		PricesCollected:    run.Counters.PricesCollected,
		NewsCollected:      run.Counters.NewsCollected,
		SummariesGenerated: run.Counters.SummariesGenerated,
		ErrorMessage:       run.ErrorMessage,
	})
}

// ListPopular は人気銘柄ランキングを返す。
// GET /api/popular?limit=10
func (h *OpsHandler) ListPopular(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	tickers, err := h.popular.Popular(r.Context(), limit)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"tickers": tickers})
}

// Health はDBに疎通できれば200、できなければ503を返す。
// GET /health
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.health.PingContext(ctx); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
