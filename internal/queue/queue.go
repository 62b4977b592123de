package queue

import (
	"context"
	"errors"
	"time"
)

// State はジョブの状態を表す。
type State string

const (
	// StatePending は配信待ち。
	StatePending State = "pending"
	// StateActive はコンシューマが処理中。
	StateActive State = "active"
	// StateRetry はバックオフ後の再配信待ち。
	StateRetry State = "retry"
	// StateCompleted は正常終了（終端）。
	StateCompleted State = "completed"
	// StateDead はリトライ上限到達または恒久的エラー（終端）。
	StateDead State = "dead"
)

// Live は同じキーでの再投入を抑止すべき状態かどうかを返す。
func (s State) Live() bool {
	return s == StatePending || s == StateActive || s == StateRetry
}

// ErrLeaseLost は可視性タイムアウト切れなどで配信の所有権を失った場合のエラー。
var ErrLeaseLost = errors.New("job lease lost")

// Delivery はConsumeで取り出したジョブのハンドル。
type Delivery struct {
	ID          string
	Kind        Kind
	Key         string
	Payload     Payload
	Attempt     int // 1始まり
	MaxAttempts int
	EnqueuedAt  time.Time

	lease string
}

// JobInfo はジョブ状態の参照用スナップショット。
type JobInfo struct {
	ID          string
	Kind        Kind
	Key         string
	State       State
	Attempts    int
	MaxAttempts int
	LastError   string
	EnqueuedAt  time.Time
	UpdatedAt   time.Time
}

// EnqueueResult はEnqueueの結果。
// 同じキーのジョブが処理待ち・処理中の場合はEnqueued=falseで既存のJobIDを返す。
type EnqueueResult struct {
	JobID    string
	Enqueued bool
}

// Queue はジョブキューの操作を定義する。
type Queue interface {
	// Enqueue はキーが未使用なら投入し、処理待ち・処理中・リトライ待ちの同一キーがあれば何もしない。
	Enqueue(ctx context.Context, p Payload, key string) (EnqueueResult, error)

	// Consume は指定種類のジョブが取り出せるまでブロックする。
	// ctxがキャンセルされた場合はctx.Err()を返す。
	Consume(ctx context.Context, kind Kind) (*Delivery, error)

	// Ack は処理成功を記録する。
	Ack(ctx context.Context, d *Delivery) error

	// Fail は処理失敗を記録し、リトライまたはdead状態へ移行する。
	Fail(ctx context.Context, d *Delivery, cause error) error

	// Lookup はキーに対応する最新ジョブの状態を返す。存在しない場合はnilを返す。
	Lookup(ctx context.Context, key string) (*JobInfo, error)
}

// Options はキューの動作パラメータ。
type Options struct {
	// MaxAttempts は1ジョブあたりの最大試行回数（デフォルト: 3）。
	MaxAttempts int
	// BackoffBase はリトライ遅延の初期値（デフォルト: 30秒）。
	BackoffBase time.Duration
	// BackoffMax はリトライ遅延の上限（デフォルト: 30分）。
	BackoffMax time.Duration
	// VisibilityTimeout はAck/Failされない配信が再び取り出し可能になるまでの時間（デフォルト: 15分）。
	VisibilityTimeout time.Duration
	// PollTimeout はConsumeの待機1回あたりの上限（デフォルト: 5秒）。
	PollTimeout time.Duration
	// CompletedRetention / CompletedMax は完了ジョブの保持期間と件数上限。
	CompletedRetention time.Duration
	CompletedMax       int
	// DeadRetention / DeadMax はdeadジョブの保持期間と件数上限。
	DeadRetention time.Duration
	DeadMax       int
}

// DefaultOptions はデフォルトのキュー設定を返す。
func DefaultOptions() Options {
	return Options{
		MaxAttempts:        3,
		BackoffBase:        30 * time.Second,
		BackoffMax:         30 * time.Minute,
		VisibilityTimeout:  15 * time.Minute,
		PollTimeout:        5 * time.Second,
		CompletedRetention: 24 * time.Hour,
		CompletedMax:       500,
		DeadRetention:      7 * 24 * time.Hour,
		DeadMax:            200,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = d.BackoffMax
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = d.VisibilityTimeout
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = d.PollTimeout
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = d.CompletedRetention
	}
	if o.CompletedMax <= 0 {
		o.CompletedMax = d.CompletedMax
	}
	if o.DeadRetention <= 0 {
		o.DeadRetention = d.DeadRetention
	}
	if o.DeadMax <= 0 {
		o.DeadMax = d.DeadMax
	}
	return o
}

// Backoff はattempt回目の失敗後の再配信遅延を返す。
// 初回BackoffBase、2倍ずつ増加、最大BackoffMax。
func (o Options) Backoff(attempt int) time.Duration {
	o = o.withDefaults()
	delay := o.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= o.BackoffMax {
			return o.BackoffMax
		}
	}
	if delay > o.BackoffMax {
		return o.BackoffMax
	}
	return delay
}

// permanentError はリトライしても回復しないエラーを表す。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はerrをリトライ不要なエラーとして包む。
// FailにPermanentなエラーを渡すと即座にdead状態になる。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent はerrがPermanentで包まれているかどうかを返す。
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
