package briefing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/queue"
)

// RefreshState はオンデマンド生成の進行状態。
type RefreshState string

const (
	RefreshPending   RefreshState = "pending"
	RefreshFailed    RefreshState = "failed"
	RefreshSucceeded RefreshState = "succeeded"
	RefreshNone      RefreshState = "none"
)

// RefreshStatus はオンデマンド生成の状態。
type RefreshStatus struct {
	State       RefreshState `json:"status"`
	EditionDate edition.Date `json:"editionDate"`
	Enqueued    bool         `json:"enqueued"`
	JobID       string       `json:"jobId,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// RequestUserBriefing はユーザー単位の生成ジョブを投入する。
// 同じキーのジョブが処理待ち・処理中の場合は投入せず、Enqueued=falseでpendingを返す。
func (s *Service) RequestUserBriefing(ctx context.Context, userID string, date edition.Date, force bool) (*RefreshStatus, error) {
	favorites, err := s.users.ListFavorites(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	if len(favorites) == 0 {
		return nil, ErrNoFavorites
	}

	p := queue.GenerateUserBriefing{UserID: userID, EditionDate: date, Force: force}
	res, err := s.queue.Enqueue(ctx, p, queue.IdempotencyKey(p))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue briefing job: %w", err)
	}

	s.logger.Info("ブリーフィング生成ジョブを受け付けました",
		slog.String("user_id", userID),
		slog.String("edition_date", date.String()),
		slog.Bool("force", force),
		slog.Bool("enqueued", res.Enqueued),
		slog.String("job_id", res.JobID),
	)
	return &RefreshStatus{
		State:       RefreshPending,
		EditionDate: date,
		Enqueued:    res.Enqueued,
		JobID:       res.JobID,
	}, nil
}

// RequestBatch は版日付のバッチ生成ジョブを投入する。
func (s *Service) RequestBatch(ctx context.Context, date edition.Date, force bool) (queue.EnqueueResult, error) {
	p := queue.GenerateEdition{EditionDate: date, Force: force}
	res, err := s.queue.Enqueue(ctx, p, queue.IdempotencyKey(p))
	if err != nil {
		return queue.EnqueueResult{}, fmt.Errorf("failed to enqueue batch job: %w", err)
	}
	s.logger.Info("バッチ生成ジョブを受け付けました",
		slog.String("edition_date", date.String()),
		slog.Bool("force", force),
		slog.Bool("enqueued", res.Enqueued),
		slog.String("job_id", res.JobID),
	)
	return res, nil
}

// RefreshStatus はジョブの状態とブリーフィングの有無から進行状態を返す。
func (s *Service) RefreshStatus(ctx context.Context, userID string, date edition.Date, force bool) (*RefreshStatus, error) {
	status := &RefreshStatus{EditionDate: date}

	key := queue.IdempotencyKey(queue.GenerateUserBriefing{UserID: userID, EditionDate: date, Force: force})
	info, err := s.queue.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}
	if info != nil {
		status.JobID = info.ID
		switch {
		case info.State.Live():
			status.State = RefreshPending
			return status, nil
		case info.State == queue.StateDead:
			status.State = RefreshFailed
			status.Error = info.LastError
			return status, nil
		}
	}

	b, err := s.GetBriefing(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if b != nil {
		status.State = RefreshSucceeded
	} else {
		status.State = RefreshNone
	}
	return status, nil
}
