package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix はRedisキーの既定プレフィックス。
// ハッシュタグで全キーを同一スロットに置く。
const DefaultRedisPrefix = "{stockast}:queue"

// enqueueScript は同一キーの生存ジョブがなければジョブを作成してreadyに積む。
// 戻り値は有効なジョブID（既存または新規）。
var enqueueScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  local state = redis.call('HGET', ARGV[7] .. existing, 'state')
  if state == 'pending' or state == 'active' or state == 'retry' then
    return existing
  end
end
redis.call('HSET', KEYS[2],
  'kind', ARGV[2], 'key', ARGV[3], 'payload', ARGV[4], 'state', 'pending',
  'attempts', 0, 'max_attempts', ARGV[5], 'enqueued_at', ARGV[6], 'updated_at', ARGV[6],
  'last_error', '', 'lease', '')
redis.call('SET', KEYS[1], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[1])
redis.call('LPUSH', KEYS[4], '1')
redis.call('LTRIM', KEYS[4], 0, 0)
return ARGV[1]
`)

// claimScript は期限到来のretryと期限切れのactiveをreadyへ戻し、readyから1件取り出す。
// 取り出せなければ {'', 次に状態が変わる時刻(ms) or -1} を返す。
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('HSET', ARGV[4] .. id, 'state', 'pending', 'updated_at', now)
  redis.call('LPUSH', KEYS[1], id)
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  local jk = ARGV[4] .. id
  local attempts = tonumber(redis.call('HGET', jk, 'attempts') or '0')
  local maxa = tonumber(redis.call('HGET', jk, 'max_attempts') or '1')
  if attempts >= maxa then
    redis.call('HSET', jk, 'state', 'dead', 'lease', '', 'last_error', 'visibility timeout exceeded', 'updated_at', now)
    redis.call('ZADD', KEYS[4], now, id)
  else
    redis.call('HSET', jk, 'state', 'pending', 'lease', '', 'updated_at', now)
    redis.call('LPUSH', KEYS[1], id)
  end
end
while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then break end
  local jk = ARGV[4] .. id
  if redis.call('HGET', jk, 'state') == 'pending' then
    local attempts = redis.call('HINCRBY', jk, 'attempts', 1)
    redis.call('HSET', jk, 'state', 'active', 'lease', ARGV[3], 'updated_at', now)
    redis.call('ZADD', KEYS[2], now + tonumber(ARGV[2]), id)
    if redis.call('LLEN', KEYS[1]) > 0 then
      redis.call('LPUSH', KEYS[5], '1')
      redis.call('LTRIM', KEYS[5], 0, 0)
    end
    local h = redis.call('HMGET', jk, 'payload', 'max_attempts', 'key', 'enqueued_at')
    return {id, h[1], tostring(attempts), h[2], h[3], h[4]}
  end
end
local nextAt = -1
local r = redis.call('ZRANGE', KEYS[3], 0, 0, 'WITHSCORES')
if r[2] then nextAt = tonumber(r[2]) end
local a = redis.call('ZRANGE', KEYS[2], 0, 0, 'WITHSCORES')
if a[2] and (nextAt < 0 or tonumber(a[2]) < nextAt) then nextAt = tonumber(a[2]) end
return {'', tostring(nextAt)}
`)

// ackScript はリースが一致する場合のみcompletedに移す。
var ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'active' or redis.call('HGET', KEYS[1], 'lease') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'completed', 'lease', '', 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// failScript はリースが一致する場合のみretryまたはdeadに移す。
// 戻り値: -1 リース不一致, 0 dead, 1 retry
var failScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'active' or redis.call('HGET', KEYS[1], 'lease') ~= ARGV[2] then
  return -1
end
redis.call('ZREM', KEYS[2], ARGV[1])
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts') or '0')
local maxa = tonumber(redis.call('HGET', KEYS[1], 'max_attempts') or '1')
redis.call('HSET', KEYS[1], 'last_error', ARGV[4], 'lease', '', 'updated_at', ARGV[3])
if ARGV[5] == '1' or attempts >= maxa then
  redis.call('HSET', KEYS[1], 'state', 'dead')
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'retry')
redis.call('ZADD', KEYS[3], tonumber(ARGV[3]) + tonumber(ARGV[6]), ARGV[1])
redis.call('LPUSH', KEYS[5], '1')
redis.call('LTRIM', KEYS[5], 0, 0)
return 1
`)

// trimScript は保持期間切れと件数超過の終端ジョブを削除する。
var trimScript = redis.NewScript(`
local removed = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local remaining = redis.call('ZCARD', KEYS[1]) - #removed
local max = tonumber(ARGV[2])
if remaining > max then
  local extra = redis.call('ZRANGE', KEYS[1], #removed, #removed + (remaining - max) - 1)
  for _, id in ipairs(extra) do table.insert(removed, id) end
end
for _, id in ipairs(removed) do
  local jk = ARGV[3] .. id
  local key = redis.call('HGET', jk, 'key')
  if key then
    local kk = ARGV[4] .. key
    if redis.call('GET', kk) == id then redis.call('DEL', kk) end
  end
  redis.call('DEL', jk)
  redis.call('ZREM', KEYS[1], id)
end
return #removed
`)

// RedisQueue はRedisを永続化先とするQueueの実装。
// 状態遷移はLuaスクリプトで原子的に行い、複数ワーカープロセスから共有できる。
// 待機はnotifyリストへのBLPOPで行い、ポーリングはPollTimeout毎の再確認のみ。
type RedisQueue struct {
	rdb    redis.UniversalClient
	opts   Options
	prefix string
	now    func() time.Time
}

// NewRedisQueue はRedisQueueを生成する。prefixが空の場合はDefaultRedisPrefixを使う。
func NewRedisQueue(rdb redis.UniversalClient, opts Options, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisQueue{
		rdb:    rdb,
		opts:   opts.withDefaults(),
		prefix: prefix,
		now:    time.Now,
	}
}

func (q *RedisQueue) jobPrefix() string { return q.prefix + ":job:" }
func (q *RedisQueue) keyPrefix() string { return q.prefix + ":key:" }
func (q *RedisQueue) jobKey(id string) string { return q.jobPrefix() + id }
func (q *RedisQueue) keyKey(key string) string { return q.keyPrefix() + key }
func (q *RedisQueue) readyKey(k Kind) string { return q.prefix + ":ready:" + string(k) }
func (q *RedisQueue) activeKey(k Kind) string { return q.prefix + ":active:" + string(k) }
func (q *RedisQueue) retryKey(k Kind) string { return q.prefix + ":retry:" + string(k) }
func (q *RedisQueue) notifyKey(k Kind) string { return q.prefix + ":notify:" + string(k) }
func (q *RedisQueue) completedKey() string { return q.prefix + ":completed" }
func (q *RedisQueue) deadKey() string { return q.prefix + ":dead" }
func (q *RedisQueue) nowMillis() int64 { return q.now().UnixMilli() }

func millis(d time.Duration) int64 { return d.Milliseconds() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Enqueue はジョブを投入する。同一キーのジョブが生存中なら何もしない。
func (q *RedisQueue) Enqueue(ctx context.Context, p Payload, key string) (EnqueueResult, error) {
	data, err := Encode(p)
	if err != nil {
		return EnqueueResult{}, err
	}
	if key == "" {
		key = IdempotencyKey(p)
	}

	id := uuid.New().String()
	got, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.keyKey(key), q.jobKey(id), q.readyKey(p.Kind()), q.notifyKey(p.Kind())},
		id, string(p.Kind()), key, string(data), q.opts.MaxAttempts, q.nowMillis(), q.jobPrefix(),
	).Text()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("ジョブの投入に失敗しました: %w", err)
	}

	return EnqueueResult{JobID: got, Enqueued: got == id}, nil
}

// Consume は指定種類のジョブを1件取り出す。取り出せるまでブロックする。
func (q *RedisQueue) Consume(ctx context.Context, kind Kind) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lease := uuid.New().String()
		res, err := claimScript.Run(ctx, q.rdb,
			[]string{q.readyKey(kind), q.activeKey(kind), q.retryKey(kind), q.deadKey(), q.notifyKey(kind)},
			q.nowMillis(), millis(q.opts.VisibilityTimeout), lease, q.jobPrefix(),
		).StringSlice()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("ジョブの取り出しに失敗しました: %w", err)
		}

		if len(res) == 6 && res[0] != "" {
			d, derr := q.delivery(kind, lease, res)
			if derr != nil {
				q.bury(ctx, kind, res[0], lease, derr)
				continue
			}
			return d, nil
		}

		var nextAt int64 = -1
		if len(res) == 2 {
			nextAt, _ = strconv.ParseInt(res[1], 10, 64)
		}
		if err := q.wait(ctx, kind, nextAt); err != nil {
			return nil, err
		}
	}
}

func (q *RedisQueue) delivery(kind Kind, lease string, res []string) (*Delivery, error) {
	attempt, _ := strconv.Atoi(res[2])
	maxAttempts, _ := strconv.Atoi(res[3])
	enqueuedAt, _ := strconv.ParseInt(res[5], 10, 64)

	p, err := Decode(kind, []byte(res[1]))
	if err != nil {
		return nil, err
	}
	return &Delivery{
		ID:          res[0],
		Kind:        kind,
		Key:         res[4],
		Payload:     p,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  fromMillis(enqueuedAt),
		lease:       lease,
	}, nil
}

// bury はデコードできないジョブをdeadに移す。
func (q *RedisQueue) bury(ctx context.Context, kind Kind, id, lease string, cause error) {
	_ = q.Fail(ctx, &Delivery{ID: id, Kind: kind, lease: lease}, Permanent(cause))
}

// wait はnotifyリストをBLPOPで待つ。次のretry/リース期限かPollTimeoutの早い方で戻る。
func (q *RedisQueue) wait(ctx context.Context, kind Kind, nextAt int64) error {
	timeout := q.opts.PollTimeout
	if nextAt >= 0 {
		if d := fromMillis(nextAt).Sub(q.now()); d < timeout {
			timeout = d
		}
	}
	if timeout < time.Second {
		timeout = time.Second
	}

	err := q.rdb.BLPop(ctx, timeout, q.notifyKey(kind)).Err()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("ジョブの待機に失敗しました: %w", err)
	}
	return nil
}

// Ack は処理成功を記録する。
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil {
		return ErrLeaseLost
	}
	now := q.nowMillis()
	ok, err := ackScript.Run(ctx, q.rdb,
		[]string{q.jobKey(d.ID), q.activeKey(d.Kind), q.completedKey()},
		d.ID, d.lease, now,
	).Int()
	if err != nil {
		return fmt.Errorf("ジョブの完了記録に失敗しました: %w", err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return q.trim(ctx, q.completedKey(), now, q.opts.CompletedRetention, q.opts.CompletedMax)
}

// Fail は処理失敗を記録する。試行回数が上限未満ならバックオフ後に再配信する。
func (q *RedisQueue) Fail(ctx context.Context, d *Delivery, cause error) error {
	if d == nil {
		return ErrLeaseLost
	}
	now := q.nowMillis()
	res, err := failScript.Run(ctx, q.rdb,
		[]string{q.jobKey(d.ID), q.activeKey(d.Kind), q.retryKey(d.Kind), q.deadKey(), q.notifyKey(d.Kind)},
		d.ID, d.lease, now, errorText(cause), boolArg(IsPermanent(cause)), millis(q.opts.Backoff(d.Attempt)),
	).Int()
	if err != nil {
		return fmt.Errorf("ジョブの失敗記録に失敗しました: %w", err)
	}
	switch res {
	case -1:
		return ErrLeaseLost
	case 0:
		return q.trim(ctx, q.deadKey(), now, q.opts.DeadRetention, q.opts.DeadMax)
	default:
		return nil
	}
}

func (q *RedisQueue) trim(ctx context.Context, zset string, now int64, retention time.Duration, max int) error {
	err := trimScript.Run(ctx, q.rdb, []string{zset},
		now-millis(retention), max, q.jobPrefix(), q.keyPrefix(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("終了済みジョブの整理に失敗しました: %w", err)
	}
	return nil
}

// Lookup はキーに対応する最新ジョブの状態を返す。存在しない場合はnilを返す。
func (q *RedisQueue) Lookup(ctx context.Context, key string) (*JobInfo, error) {
	id, err := q.rdb.Get(ctx, q.keyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ジョブキーの参照に失敗しました: %w", err)
	}

	h, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("ジョブの参照に失敗しました: %w", err)
	}
	if len(h) == 0 {
		return nil, nil
	}

	attempts, _ := strconv.Atoi(h["attempts"])
	maxAttempts, _ := strconv.Atoi(h["max_attempts"])
	enqueuedAt, _ := strconv.ParseInt(h["enqueued_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(h["updated_at"], 10, 64)

	return &JobInfo{
		ID:          id,
		Kind:        Kind(h["kind"]),
		Key:         h["key"],
		State:       State(h["state"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LastError:   h["last_error"],
		EnqueuedAt:  fromMillis(enqueuedAt),
		UpdatedAt:   fromMillis(updatedAt),
	}, nil
}

var _ Queue = (*RedisQueue)(nil)
