package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ropereraLK/conductor-community/engine/core"
)

const (
	redisQueuePrefix   = "conductor:queue:"
	redisUnackedPrefix = "conductor:unacked:"
	redisQueueSetKey   = "conductor:queues"
)

// RedisInterface is the slice of the redis client the queue needs. It allows
// both a real redis.Client and mocks to be plugged in.
type RedisInterface interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZAddNX(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	ZScore(ctx context.Context, key, member string) *redis.FloatCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// Redis is the shared-backend Queue implementation. Each queue is a sorted
// set scored by visibility deadline; unacked items live in a sibling sorted
// set scored by their requeue deadline. ZRem is the claim primitive, so
// concurrent poppers never hand out one id twice.
type Redis struct {
	client       RedisInterface
	unackTimeout time.Duration
}

func NewRedis(client RedisInterface, unackTimeout time.Duration) *Redis {
	return &Redis{client: client, unackTimeout: unackTimeout}
}

func queueKey(name string) string {
	return redisQueuePrefix + name
}

func unackedKey(name string) string {
	return redisUnackedPrefix + name
}

func scoreAt(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (q *Redis) Pop(ctx context.Context, queueName string, count int, timeout time.Duration) ([]core.ID, error) {
	deadline := time.Now().Add(timeout)
	popped := make([]core.ID, 0, count)
	for {
		now := time.Now()
		if err := q.requeueExpired(ctx, queueName, now); err != nil {
			return popped, err
		}
		ids, err := q.client.ZRangeByScore(ctx, queueKey(queueName), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: int64(count - len(popped)),
		}).Result()
		if err != nil {
			return popped, core.WrapError(core.CodeTransientIO, err, "failed to read queue %q", queueName)
		}
		for _, id := range ids {
			claimed, err := q.client.ZRem(ctx, queueKey(queueName), id).Result()
			if err != nil {
				return popped, core.WrapError(core.CodeTransientIO, err, "failed to claim %q from queue %q", id, queueName)
			}
			if claimed == 0 {
				// another popper claimed it first
				continue
			}
			if err := q.client.ZAdd(ctx, unackedKey(queueName), redis.Z{
				Score:  scoreAt(now.Add(q.unackTimeout)),
				Member: id,
			}).Err(); err != nil {
				return popped, core.WrapError(core.CodeTransientIO, err, "failed to park %q as unacked on %q", id, queueName)
			}
			popped = append(popped, id)
		}
		if len(popped) >= count || !now.Before(deadline) {
			return popped, nil
		}
		select {
		case <-ctx.Done():
			return popped, ctx.Err()
		case <-time.After(popPollInterval):
		}
	}
}

// requeueExpired moves lapsed unacked items back into the visible queue.
func (q *Redis) requeueExpired(ctx context.Context, queueName string, now time.Time) error {
	ids, err := q.client.ZRangeByScore(ctx, unackedKey(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return core.WrapError(core.CodeTransientIO, err, "failed to read unacked set of %q", queueName)
	}
	for _, id := range ids {
		claimed, err := q.client.ZRem(ctx, unackedKey(queueName), id).Result()
		if err != nil {
			return core.WrapError(core.CodeTransientIO, err, "failed to reclaim %q on %q", id, queueName)
		}
		if claimed == 0 {
			continue
		}
		if err := q.client.ZAdd(ctx, queueKey(queueName), redis.Z{Score: scoreAt(now), Member: id}).Err(); err != nil {
			return core.WrapError(core.CodeTransientIO, err, "failed to requeue %q on %q", id, queueName)
		}
	}
	return nil
}

func (q *Redis) Push(ctx context.Context, queueName string, id core.ID, delay time.Duration) error {
	if err := q.client.SAdd(ctx, redisQueueSetKey, queueName).Err(); err != nil {
		return core.WrapError(core.CodeTransientIO, err, "failed to register queue %q", queueName)
	}
	err := q.client.ZAdd(ctx, queueKey(queueName), redis.Z{
		Score:  scoreAt(time.Now().Add(delay)),
		Member: id,
	}).Err()
	if err != nil {
		return core.WrapError(core.CodeTransientIO, err, "failed to push %q to queue %q", id, queueName)
	}
	return nil
}

func (q *Redis) PushIfNotExists(ctx context.Context, queueName string, id core.ID, delay time.Duration) (bool, error) {
	unacked, err := q.existsIn(ctx, unackedKey(queueName), id)
	if err != nil {
		return false, err
	}
	if unacked {
		return false, nil
	}
	if err := q.client.SAdd(ctx, redisQueueSetKey, queueName).Err(); err != nil {
		return false, core.WrapError(core.CodeTransientIO, err, "failed to register queue %q", queueName)
	}
	added, err := q.client.ZAddNX(ctx, queueKey(queueName), redis.Z{
		Score:  scoreAt(time.Now().Add(delay)),
		Member: id,
	}).Result()
	if err != nil {
		return false, core.WrapError(core.CodeTransientIO, err, "failed to push %q to queue %q", id, queueName)
	}
	return added > 0, nil
}

func (q *Redis) Ack(ctx context.Context, queueName string, id core.ID) (bool, error) {
	removed, err := q.client.ZRem(ctx, unackedKey(queueName), id).Result()
	if err != nil {
		return false, core.WrapError(core.CodeTransientIO, err, "failed to ack %q on queue %q", id, queueName)
	}
	return removed > 0, nil
}

func (q *Redis) Remove(ctx context.Context, queueName string, id core.ID) error {
	if err := q.client.ZRem(ctx, queueKey(queueName), id).Err(); err != nil {
		return core.WrapError(core.CodeTransientIO, err, "failed to remove %q from queue %q", id, queueName)
	}
	if err := q.client.ZRem(ctx, unackedKey(queueName), id).Err(); err != nil {
		return core.WrapError(core.CodeTransientIO, err, "failed to remove %q from unacked set of %q", id, queueName)
	}
	return nil
}

func (q *Redis) Exists(ctx context.Context, queueName string, id core.ID) (bool, error) {
	visible, err := q.existsIn(ctx, queueKey(queueName), id)
	if err != nil || visible {
		return visible, err
	}
	return q.existsIn(ctx, unackedKey(queueName), id)
}

func (q *Redis) existsIn(ctx context.Context, key string, id core.ID) (bool, error) {
	err := q.client.ZScore(ctx, key, id).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, core.WrapError(core.CodeTransientIO, err, "failed to check %q in %q", id, key)
	}
	return true, nil
}

func (q *Redis) Size(ctx context.Context, queueName string) (int64, error) {
	size, err := q.client.ZCard(ctx, queueKey(queueName)).Result()
	if err != nil {
		return 0, core.WrapError(core.CodeTransientIO, err, "failed to size queue %q", queueName)
	}
	return size, nil
}

func (q *Redis) QueuesDetail(ctx context.Context) (map[string]int64, error) {
	names, err := q.client.SMembers(ctx, redisQueueSetKey).Result()
	if err != nil {
		return nil, core.WrapError(core.CodeTransientIO, err, "failed to list queues")
	}
	detail := make(map[string]int64, len(names))
	for _, name := range names {
		size, err := q.Size(ctx, name)
		if err != nil {
			return nil, err
		}
		detail[name] = size
	}
	return detail, nil
}
