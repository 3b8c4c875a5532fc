package tasky

import (
	"context"
	"errors"
)

type TaskID = string

var ErrRetriesExceeded = errors.New("retries exceeded")

// Task is one enqueued execution of a Job.
type Task[T ~string] struct {
	JobID    T
	TaskID   TaskID
	Payload  []byte
	Priority int
	Attempts int
}

type Job[T ~string] struct {
	ID       T
	Priority int
	Run      func(ctx context.Context, task *Task[T]) error
}

type JobConfig[T ~string] struct {
	Priority int
	Run      func(ctx context.Context, task *Task[T]) error
}

func NewJob[T ~string](id T, cfg JobConfig[T]) Job[T] {
	return Job[T]{ID: id, Priority: cfg.Priority, Run: cfg.Run}
}

func NewTask[T ~string](jobID T, payload []byte) Task[T] {
	return Task[T]{JobID: jobID, Payload: payload}
}

type TaskIDGenerator interface {
	Next() TaskID
}

// OnErrorHandler observes job failures. Returning an error stops the consumer.
type OnErrorHandler[T ~string] func(err error, task *Task[T]) error

type QueueConfig[T ~string] struct {
	Jobs      []Job[T]
	Backend   Backend[T]
	TaskIDGen TaskIDGenerator
	OnError   OnErrorHandler[T]
}

// Backend stores tasks until a consumer acknowledges them.
// Nack reschedules a task and returns ErrRetriesExceeded once it is given up on.
type Backend[T ~string] interface {
	Enqueue(ctx context.Context, task Task[T]) error
	Dequeue(ctx context.Context) (Task[T], error)
	Ack(ctx context.Context, taskID TaskID) error
	Nack(ctx context.Context, taskID TaskID) error
}
