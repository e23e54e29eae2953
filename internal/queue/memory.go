package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for a server running embedded workers.
// Messages do not survive a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []Message
	inflight map[string]Message
	timers   map[*time.Timer]struct{}
	counter  uint64
	closed   bool
	notify   chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready:    make([]Message, 0, 64),
		inflight: make(map[string]Message),
		timers:   make(map[*time.Timer]struct{}),
		notify:   make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Ping(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.push(msg)
	return nil
}

// push appends msg and wakes one waiting consumer. Caller holds q.mu.
func (q *MemoryQueue) push(msg Message) {
	q.ready = append(q.ready, msg)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.ready) > 0 {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			q.counter++
			receipt := "mem:" + strconv.FormatUint(q.counter, 10)
			q.inflight[receipt] = msg
			// Another consumer may be waiting on what is left.
			if len(q.ready) > 0 {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return &Delivery{Message: msg, receipt: receipt}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrEmpty
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.receipt)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, d *Delivery, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	delete(q.inflight, d.receipt)

	msg := d.Message
	if delay <= 0 {
		q.push(msg)
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, t)
		if !q.closed {
			q.push(msg)
		}
	})
	q.timers[t] = struct{}{}
	return nil
}

// Len reports ready, in-flight and delayed message counts.
func (q *MemoryQueue) Len() (ready, inflight, delayed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.inflight), len(q.timers)
}

// Close stops pending retries and fails further operations with ErrClosed.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	close(q.notify)
}

var (
	_ Queue = (*RedisQueue)(nil)
	_ Queue = (*MemoryQueue)(nil)
)
