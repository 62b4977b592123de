// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/stockast/internal/briefing"
	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/middleware"
	"github.com/hitoshi/stockast/internal/model"
)

// BriefingServiceInterface はブリーフィングハンドラーが必要とするサービスインターフェース。
type BriefingServiceInterface interface {
	CurrentEdition(now time.Time) edition.Date
	// GetBriefing は未生成の場合(nil, nil)を返す。
	GetBriefing(ctx context.Context, userID string, date edition.Date) (*model.Briefing, error)
	RequestUserBriefing(ctx context.Context, userID string, date edition.Date, force bool) (*briefing.RefreshStatus, error)
	RefreshStatus(ctx context.Context, userID string, date edition.Date, force bool) (*briefing.RefreshStatus, error)
}

const (
	notGeneratedMessage = "本日のブリーフィングはまだ生成されていません。"
	pastMissingMessage  = "指定日のブリーフィングはありません。"
)

// BriefingHandler はブリーフィング取得・更新のHTTPハンドラー。
type BriefingHandler struct {
	service BriefingServiceInterface
	clock   *edition.Clock
	logger  *slog.Logger
	now     func() time.Time
}

// NewBriefingHandler はBriefingHandlerを生成する。
func NewBriefingHandler(service BriefingServiceInterface, clock *edition.Clock, logger *slog.Logger) *BriefingHandler {
	if clock == nil {
		clock = edition.DefaultClock()
	}
	return &BriefingHandler{
		service: service,
		clock:   clock,
		logger:  logger,
		now:     time.Now,
	}
}

// briefingResponse はブリーフィング取得のAPIレスポンス。
type briefingResponse struct {
	Exists      bool          `json:"exists"`
	EditionDate edition.Date  `json:"editionDate"`
	Message     string        `json:"message,omitempty"`
	NextUpdate  *time.Time    `json:"nextUpdate,omitempty"`
	Briefing    *briefingBody `json:"briefing,omitempty"`
}

type briefingBody struct {
	Content     model.BriefingContent `json:"content"`
	Stocks      []stockRef            `json:"stocks"`
	Model       string                `json:"model"`
	Fallback    bool                  `json:"fallback"`
	GeneratedAt time.Time             `json:"generatedAt"`
}

type stockRef struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
	Rank   int    `json:"rank"`
}

// GetToday は現在の版のブリーフィングを返す。
// GET /api/briefings/today
func (h *BriefingHandler) GetToday(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	now := h.now()
	date := h.service.CurrentEdition(now)
	b, err := h.service.GetBriefing(r.Context(), userID, date)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	if b == nil {
		next := h.clock.NextCutoff(now)
		middleware.WriteJSON(w, http.StatusOK, briefingResponse{
			EditionDate: date,
			Message:     notGeneratedMessage,
			NextUpdate:  &next,
		})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBriefingResponse(b))
}

// GetByDate は指定した版日付のブリーフィングを返す。
// GET /api/briefings/{date}
func (h *BriefingHandler) GetByDate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	raw := chi.URLParam(r, "date")
	date, err := edition.ParseDate(raw)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(raw))
		return
	}

	b, err := h.service.GetBriefing(r.Context(), userID, date)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	if b == nil {
		middleware.WriteJSON(w, http.StatusOK, briefingResponse{
			EditionDate: date,
			Message:     pastMissingMessage,
		})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBriefingResponse(b))
}

// Refresh は現在の版のブリーフィング生成ジョブを投入し、202を返す。
// POST /api/briefings/refresh?force=true
func (h *BriefingHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	date := h.service.CurrentEdition(h.now())
	force := queryBool(r, "force")

	status, err := h.service.RequestUserBriefing(r.Context(), userID, date, force)
	if err != nil {
		if errors.Is(err, briefing.ErrNoFavorites) {
			middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, model.NewNoFavoritesError())
			return
		}
		h.logger.Error("ブリーフィング生成ジョブの投入に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewQueueUnavailableError())
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, status)
}

// RefreshStatus はオンデマンド生成の状態を返す。
// GET /api/briefings/refresh/status?force=true
func (h *BriefingHandler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	date := h.service.CurrentEdition(h.now())

	force := queryBool(r, "force")
	status, err := h.service.RefreshStatus(r.Context(), userID, date, force)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	// 強制再生成の失敗時は以前のブリーフィングが削除済みであることを伝える
	if force && status.State == briefing.RefreshFailed {
		status.Error = model.NewRegenerationFailedError(status.Error).Message
	}
	middleware.WriteJSON(w, http.StatusOK, status)
}

func toBriefingResponse(b *model.Briefing) briefingResponse {
	stocks := make([]stockRef, len(b.Content.StockSummaries))
	for i, s := range b.Content.StockSummaries {
		stocks[i] = stockRef{Ticker: s.Ticker, Name: s.Name, Rank: i + 1}
	}
	return briefingResponse{
		Exists:      true,
		EditionDate: b.EditionDate,
		Briefing: &briefingBody{
			Content:     b.Content,
			Stocks:      stocks,
			Model:       b.Model,
			Fallback:    b.IsFallback(),
			GeneratedAt: b.UpdatedAt,
		},
	}
}

// requireUserID はコンテキストのユーザーIDを返す。取得できない場合は401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

func queryBool(r *http.Request, key string) bool {
	return r.URL.Query().Get(key) == "true"
}
