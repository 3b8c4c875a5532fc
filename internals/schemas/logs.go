package schemas

import (
	"encoding/json"
	"time"
)

const (
	LogEventInfo      = "info"
	LogEventError     = "error"
	LogEventHeartbeat = "heartbeat"
)

// LogEvent is one message on a task log stream. Fields carries any extra
// keys of a structured payload and is flattened into the JSON object.
type LogEvent struct {
	Type      string
	Message   string
	Timestamp int64
	Fields    map[string]any
}

func NewLogEvent(kind, message string, at time.Time) LogEvent {
	return LogEvent{Type: kind, Message: message, Timestamp: at.UnixMilli()}
}

func (e LogEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	out["timestamp"] = e.Timestamp
	if e.Message != "" {
		out["message"] = e.Message
	}
	return json.Marshal(out)
}

func (e *LogEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = LogEvent{}
	if v, ok := raw["type"].(string); ok {
		e.Type = v
	}
	if v, ok := raw["message"].(string); ok {
		e.Message = v
	}
	if v, ok := raw["timestamp"].(float64); ok {
		e.Timestamp = int64(v)
	}
	delete(raw, "type")
	delete(raw, "message")
	delete(raw, "timestamp")
	if len(raw) > 0 {
		e.Fields = raw
	}
	return nil
}
