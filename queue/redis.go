package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-inventory/utils"
)

// RedisQueue implements the delivery contract on redis: a ready list,
// a delayed zset scored by ready-time, and an in-flight zset scored by
// redelivery deadline. Promotion, redelivery, and pickup run in one
// Lua script so a crashed consumer can never lose a message. Messages
// that exceed MaxReceiveCount deliveries land on the dead list.
type RedisQueue struct {
	rdb             *redis.Client
	name            string
	maxReceiveCount int
	dedupWindow     time.Duration

	// pollSleep is the idle wait between script rounds while a Poll
	// deadline has not yet passed.
	pollSleep time.Duration
}

func NewRedisQueue(rdb *redis.Client, name string, maxReceiveCount int, dedupWindow time.Duration) *RedisQueue {
	return &RedisQueue{
		rdb:             rdb,
		name:            name,
		maxReceiveCount: maxReceiveCount,
		dedupWindow:     dedupWindow,
		pollSleep:       100 * time.Millisecond,
	}
}

func (q *RedisQueue) readyKey() string    { return "q:" + q.name + ":ready" }
func (q *RedisQueue) delayedKey() string  { return "q:" + q.name + ":delayed" }
func (q *RedisQueue) inflightKey() string { return "q:" + q.name + ":inflight" }
func (q *RedisQueue) deadKey() string     { return "q:" + q.name + ":dead" }
func (q *RedisQueue) bodyKey() string     { return "q:" + q.name + ":body" }
func (q *RedisQueue) recvKey() string     { return "q:" + q.name + ":recv" }

func (q *RedisQueue) dedupKey(key string) string { return "q:" + q.name + ":dedup:" + key }

// pollScript promotes due delayed messages, requeues (or dead-letters)
// lapsed in-flight messages, then pops up to max ready messages into
// flight. Returns a flat list of (id, body, receive_count) triples.
const pollScript = `
local ready, delayed, inflight, dead, body, recv =
  KEYS[1], KEYS[2], KEYS[3], KEYS[4], KEYS[5], KEYS[6]
local now = tonumber(ARGV[1])
local redeliverAt = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local maxReceive = tonumber(ARGV[4])

local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', now)
for _, id in ipairs(due) do
  redis.call('ZREM', delayed, id)
  redis.call('LPUSH', ready, id)
end

local lapsed = redis.call('ZRANGEBYSCORE', inflight, '-inf', now)
for _, id in ipairs(lapsed) do
  redis.call('ZREM', inflight, id)
  local n = tonumber(redis.call('HGET', recv, id) or '0')
  if n >= maxReceive then
    redis.call('LPUSH', dead, id)
  else
    redis.call('LPUSH', ready, id)
  end
end

local out = {}
for i = 1, max do
  local id = redis.call('RPOP', ready)
  if not id then break end
  local b = redis.call('HGET', body, id)
  if b then
    local n = redis.call('HINCRBY', recv, id, 1)
    redis.call('ZADD', inflight, redeliverAt, id)
    table.insert(out, id)
    table.insert(out, b)
    table.insert(out, n)
  end
end
return out
`

func (q *RedisQueue) Send(ctx context.Context, body string, delaySeconds int, dedupKey string) error {
	if err := ValidateDelay(delaySeconds); err != nil {
		return err
	}

	if dedupKey != "" {
		fresh, err := q.rdb.SetNX(ctx, q.dedupKey(dedupKey), 1, q.dedupWindow).Result()
		if err != nil {
			return err
		}
		if !fresh {
			// Duplicate send inside the window, collapsed.
			return nil
		}
	}

	id, err := utils.NewID("msg")
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.bodyKey(), id, body)
	if delaySeconds > 0 {
		readyAt := time.Now().Add(time.Duration(delaySeconds) * time.Second)
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt.Unix()), Member: id})
	} else {
		pipe.LPush(ctx, q.readyKey(), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Poll(ctx context.Context, maxMessages, waitSeconds, visibilityTimeoutSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		return nil, nil
	}
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)

	for {
		now := time.Now()
		redeliverAt := now.Add(time.Duration(visibilityTimeoutSeconds) * time.Second)
		keys := []string{
			q.readyKey(), q.delayedKey(), q.inflightKey(),
			q.deadKey(), q.bodyKey(), q.recvKey(),
		}
		res, err := q.rdb.Eval(ctx, pollScript, keys,
			now.Unix(), redeliverAt.Unix(), maxMessages, q.maxReceiveCount).Slice()
		if err != nil {
			return nil, err
		}

		if len(res) > 0 {
			msgs := make([]Message, 0, len(res)/3)
			for i := 0; i+2 < len(res); i += 3 {
				id, _ := res[i].(string)
				body, _ := res[i+1].(string)
				count, _ := res[i+2].(int64)
				msgs = append(msgs, Message{ID: id, Body: body, ReceiveCount: int(count)})
			}
			return msgs, nil
		}

		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollSleep):
		}
	}
}

func (q *RedisQueue) Delete(ctx context.Context, messageID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), messageID)
	pipe.HDel(ctx, q.bodyKey(), messageID)
	pipe.HDel(ctx, q.recvKey(), messageID)
	_, err := pipe.Exec(ctx)
	return err
}
