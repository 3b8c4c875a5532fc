package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/tasky"
)

type Config struct {
	RetryDelay func(attempts int) time.Duration
	// RetryMax is the number of retries after the first failure. Negative retries forever.
	RetryMax int
}

// Backend keeps tasks in process memory, ordered by priority then arrival.
type Backend[T ~string] struct {
	mu       sync.Mutex
	pending  priorityQueue[T]
	inFlight map[tasky.TaskID]*queueItem[T]
	failed   []tasky.Task[T]
	signal   chan struct{}
	seq      uint64
	cfg      Config
}

var _ tasky.Backend[string] = (*Backend[string])(nil)

func New[T ~string](cfg Config) *Backend[T] {
	backend := &Backend[T]{
		inFlight: make(map[tasky.TaskID]*queueItem[T]),
		signal:   make(chan struct{}, 1),
		cfg:      cfg,
	}
	heap.Init(&backend.pending)
	return backend
}

func (b *Backend[T]) Enqueue(ctx context.Context, task tasky.Task[T]) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	heap.Push(&b.pending, &queueItem[T]{task: task, seq: b.nextSeq()})
	b.signalLocked()
	return nil
}

func (b *Backend[T]) Dequeue(ctx context.Context) (tasky.Task[T], error) {
	for {
		if ctx.Err() != nil {
			return tasky.Task[T]{}, ctx.Err()
		}

		b.mu.Lock()
		if b.pending.Len() > 0 {
			item := heap.Pop(&b.pending).(*queueItem[T])
			b.inFlight[item.task.TaskID] = item
			if b.pending.Len() > 0 {
				b.signalLocked()
			}
			b.mu.Unlock()
			return item.task, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return tasky.Task[T]{}, ctx.Err()
		case <-b.signal:
		}
	}
}

func (b *Backend[T]) Ack(ctx context.Context, taskID tasky.TaskID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inFlight[taskID]; !ok {
		return fmt.Errorf("unknown task id: %v", taskID)
	}
	delete(b.inFlight, taskID)
	return nil
}

func (b *Backend[T]) Nack(ctx context.Context, taskID tasky.TaskID) error {
	b.mu.Lock()
	item, ok := b.inFlight[taskID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("unknown task id: %v", taskID)
	}
	delete(b.inFlight, taskID)
	item.task.Attempts++
	if b.cfg.RetryMax >= 0 && item.task.Attempts > b.cfg.RetryMax {
		b.failed = append(b.failed, item.task)
		b.mu.Unlock()
		return tasky.ErrRetriesExceeded
	}
	item.seq = b.nextSeq()

	var delay time.Duration
	if b.cfg.RetryDelay != nil {
		delay = b.cfg.RetryDelay(item.task.Attempts)
	}
	if delay <= 0 {
		heap.Push(&b.pending, item)
		b.signalLocked()
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	time.AfterFunc(delay, func() {
		b.mu.Lock()
		heap.Push(&b.pending, item)
		b.signalLocked()
		b.mu.Unlock()
	})
	return nil
}

// Failed returns tasks that exhausted their retries.
func (b *Backend[T]) Failed() []tasky.Task[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]tasky.Task[T], len(b.failed))
	copy(out, b.failed)
	return out
}

// Len reports pending plus in-flight tasks.
func (b *Backend[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Len() + len(b.inFlight)
}

func (b *Backend[T]) signalLocked() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *Backend[T]) nextSeq() uint64 {
	b.seq++
	return b.seq
}

type queueItem[T ~string] struct {
	task tasky.Task[T]
	seq  uint64
}

type priorityQueue[T ~string] []*queueItem[T]

func (q priorityQueue[T]) Len() int { return len(q) }

func (q priorityQueue[T]) Less(i, j int) bool {
	if q[i].task.Priority == q[j].task.Priority {
		return q[i].seq < q[j].seq
	}
	return q[i].task.Priority > q[j].task.Priority
}

func (q priorityQueue[T]) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue[T]) Push(x any) { *q = append(*q, x.(*queueItem[T])) }

func (q *priorityQueue[T]) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
