package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, briefing, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidDate        = "INVALID_DATE"
	ErrCodeNoFavorites        = "NO_FAVORITES"
	ErrCodeRunNotFound        = "RUN_NOT_FOUND"
	ErrCodeRegenerationFailed = "REGENERATION_FAILED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeQueueUnavailable   = "QUEUE_UNAVAILABLE"
)

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidDateError は日付パラメータが不正な場合のエラーを生成する。
func NewInvalidDateError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付です: %s", value),
		Category: "validation",
		Action:   "日付は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewNoFavoritesError はお気に入り銘柄が未登録の場合のエラーを生成する。
func NewNoFavoritesError() *APIError {
	return &APIError{
		Code:     ErrCodeNoFavorites,
		Message:  "お気に入り銘柄が登録されていません。",
		Category: "briefing",
		Action:   "プロフィール画面でお気に入り銘柄を登録してください。",
	}
}

// NewRunNotFoundError は指定日のバッチ実行記録がない場合のエラーを生成する。
func NewRunNotFoundError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeRunNotFound,
		Message:  fmt.Sprintf("指定日のバッチ実行記録が見つかりません: %s", date),
		Category: "briefing",
		Action:   "日付を確認してください。",
	}
}

// NewRegenerationFailedError は強制再生成が失敗した場合のエラーを生成する。
// 既存のブリーフィングは削除済みであることを利用者に伝える。
func NewRegenerationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRegenerationFailed,
		Message:  fmt.Sprintf("ブリーフィングの再生成に失敗しました。以前のブリーフィングは削除されています: %s", reason),
		Category: "briefing",
		Action:   "しばらく待ってから再度更新してください。",
	}
}

// NewRateLimitedError は更新リクエストの回数制限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "更新リクエストが多すぎます。",
		Category: "validation",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewQueueUnavailableError はジョブキューに登録できない場合のエラーを生成する。
func NewQueueUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeQueueUnavailable,
		Message:  "ブリーフィング生成を受け付けられませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
