package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/conf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/timeouts"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

type StreamPolicy struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

func DefaultStreamPolicy() StreamPolicy {
	return StreamPolicy{PollInterval: timeouts.StreamPoll, HeartbeatInterval: timeouts.StreamHeartbeat}
}

func StreamPolicyFromConfig(cfg conf.StreamConfig) StreamPolicy {
	return StreamPolicy{
		PollInterval:      conf.Duration(cfg.PollInterval),
		HeartbeatInterval: conf.Duration(cfg.HeartbeatInterval),
	}
}

// Emitter delivers stream events to one observer. An error ends the stream.
type Emitter interface {
	Emit(ctx context.Context, event schemas.LogEvent) error
}

type EmitterFunc func(ctx context.Context, event schemas.LogEvent) error

func (f EmitterFunc) Emit(ctx context.Context, event schemas.LogEvent) error {
	return f(ctx, event)
}

// LogStream pushes a task's execution logs to an observer as they are written.
type LogStream struct {
	store  db.Store
	policy StreamPolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewLogStream(store db.Store, policy StreamPolicy, logger *slog.Logger, now func() time.Time) *LogStream {
	if now == nil {
		now = time.Now
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = timeouts.StreamPoll
	}
	if policy.HeartbeatInterval <= 0 {
		policy.HeartbeatInterval = timeouts.StreamHeartbeat
	}
	return &LogStream{store: store, policy: policy, logger: logger, now: now}
}

type streamCursor struct {
	id        string
	createdAt int64
	seq       int64
}

func (c streamCursor) precedes(entry db.ExecutionLog) bool {
	if entry.CreatedAt != c.createdAt {
		return entry.CreatedAt > c.createdAt
	}
	return entry.Seq > c.seq
}

// after returns the entries that follow the cursor in the freshly listed logs.
// Position in the list decides, so equal timestamps are never skipped or repeated.
func (c streamCursor) after(logs []db.ExecutionLog) []db.ExecutionLog {
	if c.id == "" {
		return logs
	}
	for i, entry := range logs {
		if entry.ID == c.id {
			return logs[i+1:]
		}
	}
	fresh := []db.ExecutionLog{}
	for _, entry := range logs {
		if c.precedes(entry) {
			fresh = append(fresh, entry)
		}
	}
	return fresh
}

// Run streams until ctx is done or the emitter fails. Store errors while
// polling are logged and the next poll tries again.
func (s *LogStream) Run(ctx context.Context, taskID string, emitter Emitter) error {
	logger := s.logger.With(slog.String("task_id", taskID))
	if err := emitter.Emit(ctx, schemas.NewLogEvent(schemas.LogEventInfo, "Connected to log stream", s.now())); err != nil {
		return err
	}

	cursor := streamCursor{}
	emitNew := func() error {
		logs, err := s.store.ListLogsByTask(ctx, taskID)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("log stream fetch failed", slog.String("error", err.Error()))
			}
			return nil
		}
		for _, entry := range cursor.after(logs) {
			for _, event := range LogEvents(entry) {
				if err := emitter.Emit(ctx, event); err != nil {
					return err
				}
			}
			cursor = streamCursor{id: entry.ID, createdAt: entry.CreatedAt, seq: entry.Seq}
		}
		return nil
	}

	if err := emitNew(); err != nil {
		return err
	}

	poll := time.NewTicker(s.policy.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(s.policy.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("log stream closed")
			return nil
		case <-poll.C:
			if err := emitNew(); err != nil {
				return err
			}
		case <-heartbeat.C:
			if err := emitter.Emit(ctx, schemas.NewLogEvent(schemas.LogEventInfo, "Connection alive", s.now())); err != nil {
				return err
			}
		}
	}
}

// LogEvents renders one execution log as stream events. A JSON object payload
// is forwarded as is; anything else becomes an info or error message.
func LogEvents(entry db.ExecutionLog) []schemas.LogEvent {
	events := []schemas.LogEvent{payloadEvent(entry)}
	if entry.Error != "" && entry.Error != entry.Payload {
		events = append(events, schemas.LogEvent{
			Type:      schemas.LogEventError,
			Message:   entry.Error,
			Timestamp: entry.CreatedAt,
		})
	}
	return events
}

func payloadEvent(entry db.ExecutionLog) schemas.LogEvent {
	if strings.HasPrefix(strings.TrimSpace(entry.Payload), "{") {
		var event schemas.LogEvent
		if err := json.Unmarshal([]byte(entry.Payload), &event); err == nil {
			if event.Type == "" {
				event.Type = schemas.LogEventInfo
			}
			if event.Timestamp == 0 {
				event.Timestamp = entry.CreatedAt
			}
			return event
		}
	}
	kind := schemas.LogEventInfo
	if entry.Status == db.LogStatusFailed {
		kind = schemas.LogEventError
	}
	return schemas.LogEvent{Type: kind, Message: entry.Payload, Timestamp: entry.CreatedAt}
}
