package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-portal/internal/model"
)

// ErrQueueEmpty is returned by Pop when no event arrived before the timeout.
var ErrQueueEmpty = errors.New("queue empty")

// ReconcileQueue is a redis list of reconciliation events waiting for the
// reconcile worker.
type ReconcileQueue struct {
	rdb   *redis.Client
	queue string
}

// NewReconcileQueue creates a ReconcileQueue backed by the given list key.
func NewReconcileQueue(rdb *redis.Client, queue string) *ReconcileQueue {
	return &ReconcileQueue{rdb: rdb, queue: queue}
}

// Record queues an event. It satisfies session.Journal.
func (q *ReconcileQueue) Record(ctx context.Context, ev model.ReconciliationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode reconciliation event: %w", err)
	}
	return q.Push(ctx, payload)
}

// Push appends a raw payload to the tail of the queue.
func (q *ReconcileQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.rdb.RPush(ctx, q.queue, payload).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.queue, err)
	}
	return nil
}

// Pop blocks up to timeout for the head of the queue.
func (q *ReconcileQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, err := q.rdb.BLPop(ctx, timeout, q.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("blpop %s: %w", q.queue, err)
	}
	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}
	return []byte(result[1]), nil
}

// TryPop returns the head of the queue without blocking.
func (q *ReconcileQueue) TryPop(ctx context.Context) ([]byte, error) {
	result, err := q.rdb.LPop(ctx, q.queue).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("lpop %s: %w", q.queue, err)
	}
	return result, nil
}
