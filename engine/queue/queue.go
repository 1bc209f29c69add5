// Package queue defines the task dispatch protocol: named FIFO queues with
// per-item visibility delay, an unacked holding area between dequeue and ack,
// and idempotent inserts. Implementations must be linearizable per queue name.
package queue

import (
	"context"
	"strings"
	"time"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
)

// DomainSeparator joins a task type and a domain into a queue name. It is
// part of the wire contract shared by producers and consumers.
const DomainSeparator = ":"

// Name returns the queue name for a task type, optionally domain-qualified.
func Name(taskType, domain string) string {
	if domain == "" {
		return taskType
	}
	return taskType + DomainSeparator + domain
}

// NameOf returns the queue a task belongs to.
func NameOf(t *task.Task) string {
	return Name(t.TaskType.String(), t.Domain)
}

// WithoutDomain strips the domain qualifier from a queue name.
func WithoutDomain(queueName string) string {
	name, _, _ := strings.Cut(queueName, DomainSeparator)
	return name
}

// Queue is the task dispatch backend. A task id lives in its type-queue while
// the task is SCHEDULED or awaiting a callback; popping moves it to the
// unacked area until it is acked, removed, or its visibility timer lapses.
type Queue interface {
	// Pop blocks up to timeout or until count items are visible, returning
	// fewer on timeout. Returned ids become unacked.
	Pop(ctx context.Context, queueName string, count int, timeout time.Duration) ([]core.ID, error)
	// Push appends id, visible after delay.
	Push(ctx context.Context, queueName string, id core.ID, delay time.Duration) error
	// PushIfNotExists inserts id only when absent from both the visible queue
	// and the unacked area, reporting whether it inserted.
	PushIfNotExists(ctx context.Context, queueName string, id core.ID, delay time.Duration) (bool, error)
	// Ack removes id from the unacked area; false when id is not there.
	Ack(ctx context.Context, queueName string, id core.ID) (bool, error)
	// Remove deletes id from both the visible queue and the unacked area.
	Remove(ctx context.Context, queueName string, id core.ID) error
	// Exists reports whether id is present, visible or unacked.
	Exists(ctx context.Context, queueName string, id core.ID) (bool, error)
	// Size returns the number of items in the visible queue, delayed included.
	Size(ctx context.Context, queueName string) (int64, error)
	// QueuesDetail returns the size of every known queue.
	QueuesDetail(ctx context.Context) (map[string]int64, error)
}
