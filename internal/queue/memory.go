package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memJob struct {
	info      JobInfo
	payload   []byte
	lease     string
	visibleAt time.Time // retry: 再配信時刻, active: リース期限
	doneAt    time.Time
}

// MemoryQueue は単一プロセス内で動作するQueueの実装。
// 開発環境とテストで使用する。プロセス終了でジョブは失われる。
type MemoryQueue struct {
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	jobs      map[string]*memJob
	keys      map[string]string // 冪等キー → 最新のジョブID
	ready     map[Kind][]string
	completed []string // 完了順
	dead      []string // dead移行順
	wake      chan struct{}
}

// NewMemoryQueue はMemoryQueueを生成する。
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:  opts.withDefaults(),
		now:   time.Now,
		jobs:  make(map[string]*memJob),
		keys:  make(map[string]string),
		ready: make(map[Kind][]string),
		wake:  make(chan struct{}),
	}
}

// Enqueue はジョブを投入する。同一キーのジョブが生存中なら何もしない。
func (q *MemoryQueue) Enqueue(ctx context.Context, p Payload, key string) (EnqueueResult, error) {
	data, err := Encode(p)
	if err != nil {
		return EnqueueResult{}, err
	}
	if key == "" {
		key = IdempotencyKey(p)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := q.keys[key]; ok {
		if j, ok := q.jobs[id]; ok && j.info.State.Live() {
			return EnqueueResult{JobID: id, Enqueued: false}, nil
		}
	}

	now := q.now()
	id := uuid.New().String()
	q.jobs[id] = &memJob{
		info: JobInfo{
			ID:          id,
			Kind:        p.Kind(),
			Key:         key,
			State:       StatePending,
			MaxAttempts: q.opts.MaxAttempts,
			EnqueuedAt:  now,
			UpdatedAt:   now,
		},
		payload: data,
	}
	q.keys[key] = id
	q.ready[p.Kind()] = append(q.ready[p.Kind()], id)
	q.notifyLocked()

	return EnqueueResult{JobID: id, Enqueued: true}, nil
}

// Consume は指定種類のジョブを1件取り出す。取り出せるまでブロックする。
func (q *MemoryQueue) Consume(ctx context.Context, kind Kind) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.mu.Lock()
		now := q.now()
		q.promoteLocked(now)
		d, err := q.claimLocked(kind, now)
		if d != nil || err != nil {
			q.mu.Unlock()
			if err != nil {
				continue
			}
			return d, nil
		}
		wait := q.waitDurationLocked(kind, now)
		wake := q.wake
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// claimLocked はreadyの先頭を取り出してactiveにする。
// ペイロードが壊れている場合はdeadにしてエラーを返す。
func (q *MemoryQueue) claimLocked(kind Kind, now time.Time) (*Delivery, error) {
	ids := q.ready[kind]
	for len(ids) > 0 {
		id := ids[0]
		ids = ids[1:]
		q.ready[kind] = ids

		j, ok := q.jobs[id]
		if !ok || j.info.State != StatePending {
			continue
		}

		j.info.Attempts++
		j.info.State = StateActive
		j.info.UpdatedAt = now
		j.lease = uuid.New().String()
		j.visibleAt = now.Add(q.opts.VisibilityTimeout)

		p, err := Decode(j.info.Kind, j.payload)
		if err != nil {
			q.finishLocked(j, StateDead, err, now)
			return nil, err
		}

		return &Delivery{
			ID:          id,
			Kind:        j.info.Kind,
			Key:         j.info.Key,
			Payload:     p,
			Attempt:     j.info.Attempts,
			MaxAttempts: j.info.MaxAttempts,
			EnqueuedAt:  j.info.EnqueuedAt,
			lease:       j.lease,
		}, nil
	}
	return nil, nil
}

// promoteLocked は再配信時刻を過ぎたretryジョブと、リース期限切れのactiveジョブをreadyに戻す。
func (q *MemoryQueue) promoteLocked(now time.Time) {
	for id, j := range q.jobs {
		if now.Before(j.visibleAt) {
			continue
		}
		switch j.info.State {
		case StateRetry:
			j.info.State = StatePending
			j.info.UpdatedAt = now
			q.ready[j.info.Kind] = append(q.ready[j.info.Kind], id)
		case StateActive:
			j.lease = ""
			if j.info.Attempts >= j.info.MaxAttempts {
				q.finishLocked(j, StateDead, fmt.Errorf("visibility timeout exceeded"), now)
				continue
			}
			j.info.State = StatePending
			j.info.UpdatedAt = now
			q.ready[j.info.Kind] = append(q.ready[j.info.Kind], id)
		}
	}
}

// waitDurationLocked は次に状態が変わり得る時刻までの待機時間を返す。
func (q *MemoryQueue) waitDurationLocked(kind Kind, now time.Time) time.Duration {
	wait := q.opts.PollTimeout
	for _, j := range q.jobs {
		if j.info.Kind != kind {
			continue
		}
		if j.info.State != StateRetry && j.info.State != StateActive {
			continue
		}
		if d := j.visibleAt.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// Ack は処理成功を記録する。
func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.leasedLocked(d)
	if err != nil {
		return err
	}
	q.finishLocked(j, StateCompleted, nil, q.now())
	return nil
}

// Fail は処理失敗を記録する。試行回数が上限未満ならバックオフ後に再配信する。
func (q *MemoryQueue) Fail(ctx context.Context, d *Delivery, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.leasedLocked(d)
	if err != nil {
		return err
	}

	now := q.now()
	if IsPermanent(cause) || j.info.Attempts >= j.info.MaxAttempts {
		q.finishLocked(j, StateDead, cause, now)
		return nil
	}

	j.lease = ""
	j.info.State = StateRetry
	j.info.LastError = errorText(cause)
	j.info.UpdatedAt = now
	j.visibleAt = now.Add(q.opts.Backoff(j.info.Attempts))
	q.notifyLocked()
	return nil
}

// Lookup はキーに対応する最新ジョブの状態を返す。
func (q *MemoryQueue) Lookup(ctx context.Context, key string) (*JobInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, ok := q.keys[key]
	if !ok {
		return nil, nil
	}
	j, ok := q.jobs[id]
	if !ok {
		return nil, nil
	}
	info := j.info
	return &info, nil
}

func (q *MemoryQueue) leasedLocked(d *Delivery) (*memJob, error) {
	if d == nil {
		return nil, ErrLeaseLost
	}
	j, ok := q.jobs[d.ID]
	if !ok || j.info.State != StateActive || j.lease != d.lease {
		return nil, ErrLeaseLost
	}
	return j, nil
}

// finishLocked はジョブを終端状態にし、保持期間・件数を超えた終端ジョブを削除する。
func (q *MemoryQueue) finishLocked(j *memJob, state State, cause error, now time.Time) {
	j.lease = ""
	j.info.State = state
	j.info.UpdatedAt = now
	j.doneAt = now
	if cause != nil {
		j.info.LastError = errorText(cause)
	}

	if state == StateCompleted {
		q.completed = q.trimLocked(append(q.completed, j.info.ID), now, q.opts.CompletedRetention, q.opts.CompletedMax)
	} else {
		q.dead = q.trimLocked(append(q.dead, j.info.ID), now, q.opts.DeadRetention, q.opts.DeadMax)
	}
	q.notifyLocked()
}

func (q *MemoryQueue) trimLocked(ids []string, now time.Time, retention time.Duration, max int) []string {
	drop := 0
	for drop < len(ids) {
		j, ok := q.jobs[ids[drop]]
		expired := !ok || now.Sub(j.doneAt) > retention
		if !expired && len(ids)-drop <= max {
			break
		}
		drop++
	}
	for _, id := range ids[:drop] {
		if j, ok := q.jobs[id]; ok {
			if q.keys[j.info.Key] == id {
				delete(q.keys, j.info.Key)
			}
			delete(q.jobs, id)
		}
	}
	return append([]string(nil), ids[drop:]...)
}

// notifyLocked は待機中のConsumeを起こす。
func (q *MemoryQueue) notifyLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

var _ Queue = (*MemoryQueue)(nil)
