package briefing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/stockast/internal/collector"
	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
	"github.com/hitoshi/stockast/internal/queue"
	"github.com/hitoshi/stockast/internal/repository"
	"github.com/hitoshi/stockast/internal/runtracker"
)

var (
	// ErrNoFavorites はお気に入り銘柄が未登録であることを示す。リトライしても解消しない。
	ErrNoFavorites = errors.New("user has no favorite tickers")
	// ErrForcedRegenerationFailed は強制再生成で既存のブリーフィングを削除した後に失敗したことを示す。
	ErrForcedRegenerationFailed = errors.New("forced regeneration failed after deleting the previous briefing")
)

// DataCollector は銘柄データを収集する。
type DataCollector interface {
	Collect(ctx context.Context, tickers []string, date edition.Date) (*collector.Result, error)
}

// RunTracker はバッチ実行記録を扱う。
type RunTracker interface {
	Start(ctx context.Context, date edition.Date) (*runtracker.Handle, error)
	Complete(ctx context.Context, h *runtracker.Handle, counters model.RunCounters) error
	Fail(ctx context.Context, h *runtracker.Handle, cause error) error
}

// Cache はブリーフィングのキャッシュ。保存時に書き込み、強制再生成で削除する。
// エラーは読み書きを失敗させない。
type Cache interface {
	Get(ctx context.Context, userID string, date edition.Date) (*model.Briefing, error)
	Set(ctx context.Context, b *model.Briefing) error
	Delete(ctx context.Context, userID string, date edition.Date) error
}

// Deps はServiceの依存関係。
type Deps struct {
	Users     repository.UserRepository
	Briefings repository.BriefingRepository
	Collector DataCollector
	Generator ContentGenerator
	Runs      RunTracker
	Queue     queue.Queue
	Cache     Cache
	Clock     *edition.Clock
	Logger    *slog.Logger
}

// Service はブリーフィングのバッチ生成・オンデマンド生成・取得を提供する。
type Service struct {
	users     repository.UserRepository
	briefings repository.BriefingRepository
	collector DataCollector
	generator ContentGenerator
	runs      RunTracker
	queue     queue.Queue
	cache     Cache
	clock     *edition.Clock
	logger    *slog.Logger
}

// NewService はServiceを生成する。CacheとClockは省略できる。
func NewService(deps Deps) *Service {
	s := &Service{
		users:     deps.Users,
		briefings: deps.Briefings,
		collector: deps.Collector,
		generator: deps.Generator,
		runs:      deps.Runs,
		queue:     deps.Queue,
		cache:     deps.Cache,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
	if s.cache == nil {
		s.cache = noopCache{}
	}
	if s.clock == nil {
		s.clock = edition.DefaultClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// CurrentEdition は現在の版日付を返す。
func (s *Service) CurrentEdition(now time.Time) edition.Date {
	return s.clock.EditionDate(now)
}

// BatchResult はバッチ生成の結果。
type BatchResult struct {
	EditionDate edition.Date
	Users       int
	Generated   int
	Fallbacks   int
	Failed      int
	Counters    model.RunCounters
}

// userTarget はバッチ内で生成対象となる1ユーザー分の入力。
type userTarget struct {
	userID      string
	favorites   []model.FavoriteTicker
	preferences model.Preferences
}

// RunBatch は版日付のブリーフィングを一括生成する。
// 通常はブリーフィング未生成のユーザーのみ、forceの場合はお気に入りのある全ユーザーが対象。
// 銘柄データは対象ユーザー全体の和集合で1回だけ収集する。
// ユーザー単位の失敗は記録して続行し、実行全体を失敗にするのはユーザー一覧の取得失敗などに限る。
func (s *Service) RunBatch(ctx context.Context, date edition.Date, force bool) (*BatchResult, error) {
	h, err := s.runs.Start(ctx, date)
	if err != nil {
		return nil, err
	}

	result, err := s.runBatch(ctx, date, force)
	if err != nil {
		if ferr := s.runs.Fail(context.WithoutCancel(ctx), h, err); ferr != nil {
			s.logger.Error("バッチ実行記録の更新に失敗しました", slog.String("error", ferr.Error()))
		}
		return nil, err
	}

	if err := s.runs.Complete(ctx, h, result.Counters); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) runBatch(ctx context.Context, date edition.Date, force bool) (*BatchResult, error) {
	var (
		userIDs []string
		err     error
	)
	if force {
		userIDs, err = s.users.ListUsersWithFavorites(ctx)
	} else {
		userIDs, err = s.users.ListUsersWithoutBriefing(ctx, date)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list target users: %w", err)
	}

	result := &BatchResult{EditionDate: date}
	s.logger.Info("バッチ生成の対象ユーザーを取得しました",
		slog.String("edition_date", date.String()),
		slog.Bool("force", force),
		slog.Int("users", len(userIDs)),
	)

	targets := make([]userTarget, 0, len(userIDs))
	var tickers []string
	for _, id := range userIDs {
		t, err := s.loadTarget(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrNoFavorites) {
				result.Failed++
				s.logger.Error("ユーザー情報の取得に失敗しました",
					slog.String("user_id", id),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		targets = append(targets, *t)
		tickers = append(tickers, model.Tickers(t.favorites)...)
	}
	result.Users = len(targets)

	data, err := s.collector.Collect(ctx, tickers, date)
	if err != nil {
		return nil, fmt.Errorf("collection aborted: %w", err)
	}
	result.Counters.PricesCollected = data.PricesCollected
	result.Counters.NewsCollected = data.NewsCollected

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("batch aborted: %w", err)
		}
		b, err := s.generateAndStore(ctx, t, date, data)
		if err != nil {
			result.Failed++
			s.logger.Error("ブリーフィングの生成に失敗しました",
				slog.String("user_id", t.userID),
				slog.String("edition_date", date.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Generated++
		if b.IsFallback() {
			result.Fallbacks++
		}
	}
	result.Counters.SummariesGenerated = result.Generated

	s.logger.Info("バッチ生成が完了しました",
		slog.String("edition_date", date.String()),
		slog.Int("users", result.Users),
		slog.Int("generated", result.Generated),
		slog.Int("fallbacks", result.Fallbacks),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// GenerateForUser は1ユーザー分のブリーフィングを生成して保存する。
// forceの場合は生成前に既存のブリーフィングを削除し、その後の失敗はErrForcedRegenerationFailedで返す。
func (s *Service) GenerateForUser(ctx context.Context, userID string, date edition.Date, force bool) (*model.Briefing, error) {
	t, err := s.loadTarget(ctx, userID)
	if err != nil {
		return nil, err
	}

	if force {
		deleted, err := s.briefings.Delete(ctx, userID, date)
		if err != nil {
			return nil, fmt.Errorf("failed to delete briefing before regeneration: %w", err)
		}
		s.invalidate(ctx, userID, date)
		s.logger.Info("強制再生成のため既存のブリーフィングを削除しました",
			slog.String("user_id", userID),
			slog.String("edition_date", date.String()),
			slog.Bool("deleted", deleted),
		)
	}

	b, err := s.generateForTarget(ctx, *t, date)
	if err != nil {
		if force {
			return nil, fmt.Errorf("%w: %w", ErrForcedRegenerationFailed, err)
		}
		return nil, err
	}
	return b, nil
}

func (s *Service) generateForTarget(ctx context.Context, t userTarget, date edition.Date) (*model.Briefing, error) {
	data, err := s.collector.Collect(ctx, model.Tickers(t.favorites), date)
	if err != nil {
		return nil, fmt.Errorf("collection aborted: %w", err)
	}
	return s.generateAndStore(ctx, t, date, data)
}

func (s *Service) loadTarget(ctx context.Context, userID string) (*userTarget, error) {
	favorites, err := s.users.ListFavorites(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	if len(favorites) == 0 {
		return nil, ErrNoFavorites
	}

	prefs := model.DefaultPreferences()
	p, err := s.users.FindPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	if p != nil {
		prefs = p.Normalize()
	}
	return &userTarget{userID: userID, favorites: favorites, preferences: prefs}, nil
}

func (s *Service) generateAndStore(ctx context.Context, t userTarget, date edition.Date, data *collector.Result) (*model.Briefing, error) {
	out, err := s.generator.Generate(ctx, Input{
		UserID:      t.userID,
		EditionDate: date,
		Favorites:   t.favorites,
		Preferences: t.preferences,
		Snapshots:   data.Snapshots,
		News:        data.News,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate briefing: %w", err)
	}

	tickers := out.Content.Tickers()
	b := &model.Briefing{
		UserID:           t.userID,
		EditionDate:      date,
		Content:          out.Content,
		Tickers:          tickers,
		Model:            out.Model,
		PromptVersion:    out.PromptVersion,
		InputFingerprint: Fingerprint(t.userID, date, tickers),
	}
	if err := s.briefings.Upsert(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to store briefing: %w", err)
	}
	if err := s.cache.Set(ctx, b); err != nil {
		s.logger.Warn("キャッシュの書き込みに失敗しました",
			slog.String("user_id", t.userID),
			slog.String("error", err.Error()),
		)
		s.invalidate(ctx, t.userID, date)
	}

	s.logger.Info("ブリーフィングを保存しました",
		slog.String("user_id", t.userID),
		slog.String("edition_date", date.String()),
		slog.String("model", b.Model),
		slog.String("fingerprint", b.InputFingerprint),
	)
	return b, nil
}

// GetBriefing はブリーフィングを返す。未生成の場合はnil。
// キャッシュは保存時にだけ書き込み、読み取りでは埋めない。
func (s *Service) GetBriefing(ctx context.Context, userID string, date edition.Date) (*model.Briefing, error) {
	if b, err := s.cache.Get(ctx, userID, date); err != nil {
		s.logger.Warn("キャッシュの読み取りに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	} else if b != nil {
		return b, nil
	}

	b, err := s.briefings.FindByUserAndDate(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get briefing: %w", err)
	}
	return b, nil
}

func (s *Service) invalidate(ctx context.Context, userID string, date edition.Date) {
	if err := s.cache.Delete(ctx, userID, date); err != nil {
		s.logger.Warn("キャッシュの削除に失敗しました",
			slog.String("user_id", userID),
			slog.String("edition_date", date.String()),
			slog.String("error", err.Error()),
		)
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, edition.Date) (*model.Briefing, error) { return nil, nil }
func (noopCache) Set(context.Context, *model.Briefing) error                        { return nil }
func (noopCache) Delete(context.Context, string, edition.Date) error                { return nil }
