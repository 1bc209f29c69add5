package queue

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
)

func TestName(t *testing.T) {
	t.Run("Should use the bare task type without a domain", func(t *testing.T) {
		assert.Equal(t, "encode", Name("encode", ""))
	})
	t.Run("Should qualify the task type with the domain", func(t *testing.T) {
		assert.Equal(t, "encode:eu", Name("encode", "eu"))
	})
	t.Run("Should strip the domain qualifier", func(t *testing.T) {
		assert.Equal(t, "encode", WithoutDomain("encode:eu"))
		assert.Equal(t, "encode", WithoutDomain("encode"))
	})
	t.Run("Should derive the queue name from a task", func(t *testing.T) {
		assert.Equal(t, "SIMPLE:eu", NameOf(&task.Task{TaskType: task.TypeSimple, Domain: "eu"}))
	})
}

// both implementations must satisfy the same dispatch contract
func queueImplementations(t *testing.T, unackTimeout time.Duration) map[string]Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Queue{
		"in-memory": NewInMemory(unackTimeout),
		"redis":     NewRedis(client, unackTimeout),
	}
}

func TestQueue_Contract(t *testing.T) {
	ctx := context.Background()

	for name, q := range queueImplementations(t, time.Minute) {
		t.Run(name, func(t *testing.T) {
			t.Run("Should pop pushed ids in order", func(t *testing.T) {
				require.NoError(t, q.Push(ctx, "ordered", "id-1", 0))
				require.NoError(t, q.Push(ctx, "ordered", "id-2", 0))
				require.NoError(t, q.Push(ctx, "ordered", "id-3", 0))

				ids, err := q.Pop(ctx, "ordered", 3, 100*time.Millisecond)
				require.NoError(t, err)
				assert.Equal(t, []core.ID{"id-1", "id-2", "id-3"}, ids)
			})

			t.Run("Should return fewer ids than asked on timeout", func(t *testing.T) {
				require.NoError(t, q.Push(ctx, "short", "only", 0))

				ids, err := q.Pop(ctx, "short", 5, 50*time.Millisecond)
				require.NoError(t, err)
				assert.Equal(t, []core.ID{"only"}, ids)
			})

			t.Run("Should not deliver one id to two pops", func(t *testing.T) {
				for _, id := range []core.ID{"a", "b", "c", "d", "e"} {
					require.NoError(t, q.Push(ctx, "exclusive", id, 0))
				}

				first, err := q.Pop(ctx, "exclusive", 3, 50*time.Millisecond)
				require.NoError(t, err)
				second, err := q.Pop(ctx, "exclusive", 3, 50*time.Millisecond)
				require.NoError(t, err)

				seen := make(map[core.ID]int)
				for _, id := range append(first, second...) {
					seen[id]++
				}
				assert.Len(t, seen, 5)
				for id, count := range seen {
					assert.Equal(t, 1, count, "id %s delivered twice", id)
				}
			})

			t.Run("Should hold a delayed id invisible until its delay lapses", func(t *testing.T) {
				require.NoError(t, q.Push(ctx, "delayed", "later", 80*time.Millisecond))

				ids, err := q.Pop(ctx, "delayed", 1, 10*time.Millisecond)
				require.NoError(t, err)
				assert.Empty(t, ids)

				ids, err = q.Pop(ctx, "delayed", 1, 200*time.Millisecond)
				require.NoError(t, err)
				assert.Equal(t, []core.ID{"later"}, ids)
			})

			t.Run("Should refuse a duplicate push of a queued id", func(t *testing.T) {
				pushed, err := q.PushIfNotExists(ctx, "dedup", "once", 0)
				require.NoError(t, err)
				assert.True(t, pushed)

				pushed, err = q.PushIfNotExists(ctx, "dedup", "once", 0)
				require.NoError(t, err)
				assert.False(t, pushed)
			})

			t.Run("Should refuse a duplicate push of an unacked id", func(t *testing.T) {
				require.NoError(t, q.Push(ctx, "dedup-unacked", "popped", 0))
				ids, err := q.Pop(ctx, "dedup-unacked", 1, 50*time.Millisecond)
				require.NoError(t, err)
				require.Len(t, ids, 1)

				pushed, err := q.PushIfNotExists(ctx, "dedup-unacked", "popped", 0)
				require.NoError(t, err)
				assert.False(t, pushed)
			})

			t.Run("Should ack a popped id exactly once", func(t *testing.T) {
				require.NoError(t, q.Push(ctx, "acked", "job", 0))
				_, err := q.Pop(ctx, "acked", 1, 50*time.Millisecond)
				require.NoError(t, err)

				acked, err := q.Ack(ctx, "acked", "job")
				require.NoError(t, err)
				assert.True(t, acked)

				acked, err = q.Ack(ctx, "acked", "job")
				require.NoError(t, err)
				assert.False(t, acked)
			})

			t.Run("Should report existence across visible and unacked", func(t *testing.T) {
				require.NoError(t, q.Push(ctx, "existence", "tracked", 0))
				exists, err := q.Exists(ctx, "existence", "tracked")
				require.NoError(t, err)
				assert.True(t, exists)

				_, err = q.Pop(ctx, "existence", 1, 50*time.Millisecond)
				require.NoError(t, err)
				exists, err = q.Exists(ctx, "existence", "tracked")
				require.NoError(t, err)
				assert.True(t, exists)

				_, err = q.Ack(ctx, "existence", "tracked")
				require.NoError(t, err)
				exists, err = q.Exists(ctx, "existence", "tracked")
				require.NoError(t, err)
				assert.False(t, exists)
			})

			t.Run("Should remove an id from wherever it sits", func(t *testing.T) {
				require.NoError(t, q.Push(ctx, "removal", "doomed", 0))
				require.NoError(t, q.Remove(ctx, "removal", "doomed"))

				ids, err := q.Pop(ctx, "removal", 1, 10*time.Millisecond)
				require.NoError(t, err)
				assert.Empty(t, ids)
			})

			t.Run("Should count delayed ids in the queue size", func(t *testing.T) {
				require.NoError(t, q.Push(ctx, "sized", "now", 0))
				require.NoError(t, q.Push(ctx, "sized", "later", time.Minute))

				size, err := q.Size(ctx, "sized")
				require.NoError(t, err)
				assert.Equal(t, int64(2), size)
			})
		})
	}
}

func TestQueue_UnackRedelivery(t *testing.T) {
	ctx := context.Background()

	for name, q := range queueImplementations(t, 40*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			t.Run("Should redeliver an unacked id after its visibility timeout", func(t *testing.T) {
				require.NoError(t, q.Push(ctx, "redelivery", "lost", 0))

				ids, err := q.Pop(ctx, "redelivery", 1, 50*time.Millisecond)
				require.NoError(t, err)
				require.Equal(t, []core.ID{"lost"}, ids)

				time.Sleep(60 * time.Millisecond)

				ids, err = q.Pop(ctx, "redelivery", 1, 100*time.Millisecond)
				require.NoError(t, err)
				assert.Equal(t, []core.ID{"lost"}, ids)
			})
		})
	}
}

func TestQueue_QueuesDetail(t *testing.T) {
	ctx := context.Background()

	for name, q := range queueImplementations(t, time.Minute) {
		t.Run(name, func(t *testing.T) {
			t.Run("Should report the size of every known queue", func(t *testing.T) {
				require.NoError(t, q.Push(ctx, "alpha", "a-1", 0))
				require.NoError(t, q.Push(ctx, "alpha", "a-2", 0))
				require.NoError(t, q.Push(ctx, "beta", "b-1", 0))

				detail, err := q.QueuesDetail(ctx)
				require.NoError(t, err)

				names := make([]string, 0, len(detail))
				for queueName := range detail {
					names = append(names, queueName)
				}
				sort.Strings(names)
				assert.Contains(t, names, "alpha")
				assert.Contains(t, names, "beta")
				assert.Equal(t, int64(2), detail["alpha"])
				assert.Equal(t, int64(1), detail["beta"])
			})
		})
	}
}
