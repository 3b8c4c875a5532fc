package taskysqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/tasky"
	_ "modernc.org/sqlite"
)

type Config struct {
	Path         string
	DB           *sql.DB
	QueueName    string
	RetryDelay   func(attempts int) time.Duration
	RetryMax     int
	PollInterval time.Duration
}

// Backend persists tasks in a sqlite table so pending work survives restarts.
type Backend[T ~string] struct {
	db     *sql.DB
	ownsDB bool
	signal chan struct{}
	cfg    Config
}

var _ tasky.Backend[string] = (*Backend[string])(nil)

func New[T ~string](cfg Config) (*Backend[T], error) {
	if cfg.DB == nil && cfg.Path == "" {
		return nil, errors.New("sqlite backend requires a db or path")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "tasky_queue"
	}
	if !queueNamePattern.MatchString(cfg.QueueName) {
		return nil, fmt.Errorf("invalid queue name: %s", cfg.QueueName)
	}

	db := cfg.DB
	ownsDB := false
	if db == nil {
		opened, err := sql.Open("sqlite", "file:"+cfg.Path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, err
		}
		opened.SetMaxOpenConns(1)
		db = opened
		ownsDB = true
	}

	backend := &Backend[T]{db: db, ownsDB: ownsDB, signal: make(chan struct{}, 1), cfg: cfg}
	if err := backend.init(); err != nil {
		if ownsDB {
			db.Close()
		}
		return nil, err
	}
	// Work left in flight by a previous process is handed out again.
	if _, err := db.Exec(fmt.Sprintf(`UPDATE %s SET status = 'pending' WHERE status = 'in_flight'`, cfg.QueueName)); err != nil {
		return nil, err
	}
	return backend, nil
}

func (b *Backend[T]) init() error {
	_, err := b.db.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	payload BLOB,
	priority INTEGER NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	available_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_dequeue ON %[1]s(status, available_at, priority DESC, created_at ASC);
`, b.cfg.QueueName))
	return err
}

func (b *Backend[T]) Enqueue(ctx context.Context, task tasky.Task[T]) error {
	if task.TaskID == "" {
		return errors.New("task id is required")
	}
	now := time.Now().UTC().UnixNano()
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, job_id, payload, priority, status, attempts, available_at, created_at, updated_at)
VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?)`, b.cfg.QueueName),
		task.TaskID, string(task.JobID), task.Payload, task.Priority, task.Attempts, now, now, now)
	if err != nil {
		return err
	}
	b.notify()
	return nil
}

func (b *Backend[T]) Dequeue(ctx context.Context) (tasky.Task[T], error) {
	timer := time.NewTimer(b.cfg.PollInterval)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return tasky.Task[T]{}, ctx.Err()
		}
		task, ok, err := b.tryDequeue(ctx)
		if err != nil {
			return tasky.Task[T]{}, err
		}
		if ok {
			return task, nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return tasky.Task[T]{}, ctx.Err()
		case <-b.signal:
		case <-timer.C:
		}
	}
}

func (b *Backend[T]) tryDequeue(ctx context.Context) (tasky.Task[T], bool, error) {
	now := time.Now().UTC().UnixNano()
	row := b.db.QueryRowContext(ctx, fmt.Sprintf(`
UPDATE %[1]s SET status = 'in_flight', updated_at = ?
WHERE id = (
	SELECT id FROM %[1]s
	WHERE status = 'pending' AND available_at <= ?
	ORDER BY priority DESC, created_at ASC
	LIMIT 1
)
RETURNING id, job_id, payload, priority, attempts`, b.cfg.QueueName), now, now)

	var task tasky.Task[T]
	var jobID string
	if err := row.Scan(&task.TaskID, &jobID, &task.Payload, &task.Priority, &task.Attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tasky.Task[T]{}, false, nil
		}
		return tasky.Task[T]{}, false, err
	}
	task.JobID = T(jobID)
	return task, true, nil
}

func (b *Backend[T]) Ack(ctx context.Context, taskID tasky.TaskID) error {
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = 'completed', updated_at = ? WHERE id = ? AND status = 'in_flight'`, b.cfg.QueueName),
		time.Now().UTC().UnixNano(), taskID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("unknown task id: %v", taskID)
	}
	return nil
}

func (b *Backend[T]) Nack(ctx context.Context, taskID tasky.TaskID) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT attempts FROM %s WHERE id = ? AND status = 'in_flight'`, b.cfg.QueueName), taskID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("unknown task id: %v", taskID)
	}
	if err != nil {
		return err
	}

	attempts++
	now := time.Now().UTC()
	if b.cfg.RetryMax >= 0 && attempts > b.cfg.RetryMax {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = 'failed', attempts = ?, updated_at = ? WHERE id = ?`, b.cfg.QueueName), attempts, now.UnixNano(), taskID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		return tasky.ErrRetriesExceeded
	}

	availableAt := now
	if b.cfg.RetryDelay != nil {
		availableAt = now.Add(b.cfg.RetryDelay(attempts))
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = 'pending', attempts = ?, available_at = ?, updated_at = ? WHERE id = ?`, b.cfg.QueueName),
		attempts, availableAt.UnixNano(), now.UnixNano(), taskID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	b.notify()
	return nil
}

// Counts reports the number of tasks per status.
func (b *Backend[T]) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, b.cfg.QueueName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (b *Backend[T]) Close() error {
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}

func (b *Backend[T]) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

var queueNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
