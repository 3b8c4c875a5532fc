package tasky

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type Queue[T ~string] struct {
	jobs      map[T]Job[T]
	backend   Backend[T]
	taskIDGen TaskIDGenerator
	onError   OnErrorHandler[T]
}

type uuidGenerator struct{}

func (uuidGenerator) Next() TaskID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func NewQueue[T ~string](cfg QueueConfig[T]) (*Queue[T], error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}

	jobs := make(map[T]Job[T], len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		if _, exists := jobs[job.ID]; exists {
			return nil, fmt.Errorf("duplicate job id: %v", job.ID)
		}
		if job.Run == nil {
			return nil, fmt.Errorf("job %v has nil Run handler", job.ID)
		}
		jobs[job.ID] = job
	}

	taskIDGen := cfg.TaskIDGen
	if taskIDGen == nil {
		taskIDGen = uuidGenerator{}
	}

	return &Queue[T]{
		jobs:      jobs,
		backend:   cfg.Backend,
		taskIDGen: taskIDGen,
		onError:   cfg.OnError,
	}, nil
}

func (q *Queue[T]) Enqueue(ctx context.Context, task Task[T]) (TaskID, error) {
	job, exists := q.jobs[task.JobID]
	if !exists {
		return "", fmt.Errorf("unknown job id: %v", task.JobID)
	}
	if task.TaskID == "" {
		task.TaskID = q.taskIDGen.Next()
	}
	task.Priority = job.Priority
	task.Attempts = 0
	if err := q.backend.Enqueue(ctx, task); err != nil {
		return "", err
	}
	return task.TaskID, nil
}

type ConsumerOptions struct {
	Workers int
}

type Consumer[T ~string] struct {
	queue   *Queue[T]
	options ConsumerOptions
}

func NewConsumer[T ~string](queue *Queue[T], options ConsumerOptions) *Consumer[T] {
	if options.Workers <= 0 {
		options.Workers = 1
	}
	return &Consumer[T]{queue: queue, options: options}
}

// Run processes tasks until ctx is cancelled or the error handler asks to stop.
func (c *Consumer[T]) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		stopErr error
		once    sync.Once
	)
	report := func(err error, task *Task[T]) {
		if err == nil || c.queue.onError == nil {
			return
		}
		if handlerErr := c.queue.onError(err, task); handlerErr != nil {
			once.Do(func() {
				stopErr = handlerErr
				cancel()
			})
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < c.options.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				task, err := c.queue.backend.Dequeue(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					report(err, nil)
					continue
				}
				c.process(ctx, &task, report)
			}
		}()
	}
	wg.Wait()
	return stopErr
}

func (c *Consumer[T]) process(ctx context.Context, task *Task[T], report func(error, *Task[T])) {
	job, ok := c.queue.jobs[task.JobID]
	if !ok {
		report(fmt.Errorf("unknown job id: %v", task.JobID), task)
		if err := c.queue.backend.Ack(ctx, task.TaskID); err != nil {
			report(err, task)
		}
		return
	}

	runErr := runSafely(ctx, job, task)
	if runErr == nil {
		if err := c.queue.backend.Ack(ctx, task.TaskID); err != nil {
			report(err, task)
		}
		return
	}

	if err := c.queue.backend.Nack(ctx, task.TaskID); err != nil {
		if errors.Is(err, ErrRetriesExceeded) {
			report(fmt.Errorf("%w: %v", ErrRetriesExceeded, runErr), task)
			return
		}
		report(err, task)
		return
	}
	report(runErr, task)
}

func runSafely[T ~string](ctx context.Context, job Job[T], task *Task[T]) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("job %v panicked: %v", job.ID, recovered)
		}
	}()
	return job.Run(ctx, task)
}
