// Package queue provides the bounded FIFO used to hand received frames
// from the reader goroutine to waiting callers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/go-micros/micros/internal/pool"
)

// Bounded is a goroutine-safe FIFO with a fixed capacity.
//
// Producers never block: TryPush first evicts head items older than the configured
// TTL and drops the new item if the queue is still full. Consumers block in Pop until
// an item arrives, the timeout expires or the context is done.
//
// PushFront re-inserts items at the head and may exceed the capacity, so items
// removed by a consumer and handed back are never lost.
type Bounded[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	ttl      time.Duration
	stamp    func(T) time.Time
	ready    chan struct{}
}

// NewBounded creates a queue holding at most capacity items.
//
// When ttl > 0 and stamp is not nil, every push first discards head items whose
// stamp is older than ttl.
func NewBounded[T any](capacity int, ttl time.Duration, stamp func(T) time.Time) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Bounded[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		stamp:    stamp,
		ready:    make(chan struct{}, 1),
	}
}

// TryPush appends v to the tail. It returns false if the queue is full and v was dropped.
func (q *Bounded[T]) TryPush(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictExpired(time.Now())
	if len(q.items) >= q.capacity {
		return false
	}

	q.items = append(q.items, v)
	q.signal()

	return true
}

// PushFront inserts items at the head, keeping their order.
// Items that already outlived the ttl are dropped.
func (q *Bounded[T]) PushFront(items ...T) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	merged := make([]T, 0, len(items)+len(q.items))
	for _, v := range items {
		if q.expired(v, now) {
			continue
		}
		merged = append(merged, v)
	}
	merged = append(merged, q.items...)
	q.items = merged
	q.signal()
}

// TryPop removes and returns the head item without blocking.
func (q *Bounded[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}

	return v, true
}

// Pop removes and returns the head item, waiting up to timeout for one to arrive.
func (q *Bounded[T]) Pop(ctx context.Context, timeout time.Duration) (T, bool) {
	if v, ok := q.TryPop(); ok {
		return v, true
	}

	var zero T
	if timeout <= 0 {
		return zero, false
	}

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	for {
		select {
		case <-ctx.Done():
			return zero, false
		case <-timer.C:
			return q.TryPop()
		case <-q.ready:
			if v, ok := q.TryPop(); ok {
				return v, true
			}
		}
	}
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Cap returns the configured capacity.
func (q *Bounded[T]) Cap() int {
	return q.capacity
}

// evictExpired drops head items older than the ttl. Caller holds q.mu.
func (q *Bounded[T]) evictExpired(now time.Time) {
	n := 0
	for n < len(q.items) && q.expired(q.items[n], now) {
		n++
	}
	if n == 0 {
		return
	}

	clear(q.items[:n])
	q.items = q.items[n:]
}

func (q *Bounded[T]) expired(v T, now time.Time) bool {
	if q.ttl <= 0 || q.stamp == nil {
		return false
	}

	return now.Sub(q.stamp(v)) > q.ttl
}

func (q *Bounded[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
