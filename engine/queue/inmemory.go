package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ropereraLK/conductor-community/engine/core"
)

const popPollInterval = 10 * time.Millisecond

type memItem struct {
	id        core.ID
	visibleAt time.Time
	seq       uint64
}

type memQueue struct {
	items   map[core.ID]*memItem
	unacked map[core.ID]time.Time
}

// InMemory is the embedded Queue implementation: per-queue ordered item sets
// guarded by one mutex, visibility by deadline comparison on access.
type InMemory struct {
	mu           sync.Mutex
	queues       map[string]*memQueue
	unackTimeout time.Duration
	seq          uint64
}

func NewInMemory(unackTimeout time.Duration) *InMemory {
	return &InMemory{
		queues:       make(map[string]*memQueue),
		unackTimeout: unackTimeout,
	}
}

func (q *InMemory) queue(name string) *memQueue {
	mq, ok := q.queues[name]
	if !ok {
		mq = &memQueue{
			items:   make(map[core.ID]*memItem),
			unacked: make(map[core.ID]time.Time),
		}
		q.queues[name] = mq
	}
	return mq
}

// requeueExpiredLocked returns lapsed unacked items to the visible queue.
func (q *InMemory) requeueExpiredLocked(mq *memQueue, now time.Time) {
	for id, deadline := range mq.unacked {
		if now.After(deadline) {
			delete(mq.unacked, id)
			q.seq++
			mq.items[id] = &memItem{id: id, visibleAt: now, seq: q.seq}
		}
	}
}

func (q *InMemory) popVisibleLocked(mq *memQueue, count int, now time.Time) []core.ID {
	visible := make([]*memItem, 0, len(mq.items))
	for _, item := range mq.items {
		if !item.visibleAt.After(now) {
			visible = append(visible, item)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].visibleAt.Equal(visible[j].visibleAt) {
			return visible[i].visibleAt.Before(visible[j].visibleAt)
		}
		return visible[i].seq < visible[j].seq
	})
	if len(visible) > count {
		visible = visible[:count]
	}
	ids := make([]core.ID, 0, len(visible))
	for _, item := range visible {
		delete(mq.items, item.id)
		mq.unacked[item.id] = now.Add(q.unackTimeout)
		ids = append(ids, item.id)
	}
	return ids
}

func (q *InMemory) Pop(ctx context.Context, queueName string, count int, timeout time.Duration) ([]core.ID, error) {
	deadline := time.Now().Add(timeout)
	var popped []core.ID
	for {
		now := time.Now()
		q.mu.Lock()
		mq := q.queue(queueName)
		q.requeueExpiredLocked(mq, now)
		popped = append(popped, q.popVisibleLocked(mq, count-len(popped), now)...)
		q.mu.Unlock()
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

func (q *InMemory) Push(_ context.Context, queueName string, id core.ID, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mq := q.queue(queueName)
	q.seq++
	mq.items[id] = &memItem{id: id, visibleAt: time.Now().Add(delay), seq: q.seq}
	return nil
}

func (q *InMemory) PushIfNotExists(_ context.Context, queueName string, id core.ID, delay time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mq := q.queue(queueName)
	if _, ok := mq.items[id]; ok {
		return false, nil
	}
	if _, ok := mq.unacked[id]; ok {
		return false, nil
	}
	q.seq++
	mq.items[id] = &memItem{id: id, visibleAt: time.Now().Add(delay), seq: q.seq}
	return true, nil
}

func (q *InMemory) Ack(_ context.Context, queueName string, id core.ID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mq := q.queue(queueName)
	if _, ok := mq.unacked[id]; !ok {
		return false, nil
	}
	delete(mq.unacked, id)
	return true, nil
}

func (q *InMemory) Remove(_ context.Context, queueName string, id core.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mq := q.queue(queueName)
	delete(mq.items, id)
	delete(mq.unacked, id)
	return nil
}

func (q *InMemory) Exists(_ context.Context, queueName string, id core.ID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mq := q.queue(queueName)
	if _, ok := mq.items[id]; ok {
		return true, nil
	}
	_, ok := mq.unacked[id]
	return ok, nil
}

func (q *InMemory) Size(_ context.Context, queueName string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.queue(queueName).items)), nil
}

func (q *InMemory) QueuesDetail(_ context.Context) (map[string]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	detail := make(map[string]int64, len(q.queues))
	for name, mq := range q.queues {
		detail[name] = int64(len(mq.items))
	}
	return detail, nil
}
