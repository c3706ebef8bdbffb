package session

import (
	"context"
	"sync"
)

// LossEvent is one frame-loss or slow-sink notification from the decoder.
type LossEvent struct {
	FirstLostFrame      int32
	NextSuccessfulFrame int32
}

// LossQueue is an unbounded FIFO of loss events. Push never blocks.
type LossQueue struct {
	mu     sync.Mutex
	items  []LossEvent
	notify chan struct{}
}

func NewLossQueue() *LossQueue {
	return &LossQueue{
		notify: make(chan struct{}, 1),
	}
}

func (q *LossQueue) Push(ev LossEvent) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest event without blocking.
func (q *LossQueue) TryPop() (LossEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return LossEvent{}, false
	}
	ev := q.items[0]
	q.items[0] = LossEvent{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return ev, true
}

// Take blocks until an event is available or ctx is done.
func (q *LossQueue) Take(ctx context.Context) (LossEvent, error) {
	for {
		if ev, ok := q.TryPop(); ok {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return LossEvent{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *LossQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
