package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	z "github.com/Oudwins/zog"
)

const Version = "0.1.0"

const FileName = "pithy.json"

type Config struct {
	Version     string            `json:"-"`
	Server      ServerConfig      `json:"server" zog:"server"`
	Backend     BackendConfig     `json:"backend" zog:"backend"`
	Agent       AgentConfig       `json:"agent" zog:"agent"`
	Maintenance MaintenanceConfig `json:"maintenance" zog:"maintenance"`
	Stream      StreamConfig      `json:"stream" zog:"stream"`
	Queue       QueueConfig       `json:"queue" zog:"queue"`
}

type ServerConfig struct {
	DataDir         string `json:"data_dir" zog:"data_dir"`
	LogLevel        string `json:"log_level" zog:"log_level"`
	ShutdownTimeout string `json:"shutdown_timeout" zog:"shutdown_timeout"`
}

type BackendConfig struct {
	APIURL         string `json:"api_url" zog:"api_url"`
	Snapshot       string `json:"snapshot" zog:"snapshot"`
	RequestTimeout string `json:"request_timeout" zog:"request_timeout"`
	MaxRetries     int    `json:"max_retries" zog:"max_retries"`
}

type AgentConfig struct {
	DefaultProvider string `json:"default_provider" zog:"default_provider"`
	DefaultModel    string `json:"default_model" zog:"default_model"`
}

// MaintenanceConfig holds the reclamation policy. Durations are Go duration strings.
type MaintenanceConfig struct {
	Enabled               bool   `json:"enabled" zog:"enabled"`
	Schedule              string `json:"schedule" zog:"schedule"`
	IdleTimeout           string `json:"idle_timeout" zog:"idle_timeout"`
	CompletionGracePeriod string `json:"completion_grace_period" zog:"completion_grace_period"`
	FailedGracePeriod     string `json:"failed_grace_period" zog:"failed_grace_period"`
	OrphanAge             string `json:"orphan_age" zog:"orphan_age"`
}

type StreamConfig struct {
	PollInterval      string `json:"poll_interval" zog:"poll_interval"`
	HeartbeatInterval string `json:"heartbeat_interval" zog:"heartbeat_interval"`
}

type QueueConfig struct {
	Workers       int    `json:"workers" zog:"workers"`
	RetryMax      int    `json:"retry_max" zog:"retry_max"`
	RetryBase     string `json:"retry_base" zog:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay" zog:"retry_max_delay"`
}

var durationMessage = z.Message("must be a duration such as 30s, 5m or 1h")

func durationString(def string) *z.StringSchema[string] {
	return z.String().Default(def).Trim().TestFunc(isDurationTest, durationMessage)
}

var serverSchema = z.Struct(z.Shape{
	"DataDir":         z.String().Default("~/.pithy").Trim().Transform(expandPathTransform),
	"LogLevel":        z.String().Default("debug").OneOf([]string{"debug", "info", "warn", "error"}),
	"ShutdownTimeout": durationString("5s"),
})

var backendSchema = z.Struct(z.Shape{
	"APIURL":         z.String().Default("https://app.daytona.io/api").Trim(),
	"Snapshot":       z.String().Default("butlerjake/pithy-jaunt-daytona:v1.0.2").Trim(),
	"RequestTimeout": durationString("30s"),
	"MaxRetries":     z.Int().Default(3),
})

var agentSchema = z.Struct(z.Shape{
	"DefaultProvider": z.String().Default("openai").OneOf([]string{"openai", "anthropic"}),
	"DefaultModel":    z.String().Default("gpt-4o-mini").Trim(),
})

var maintenanceSchema = z.Struct(z.Shape{
	"Enabled":               z.Bool().Default(true),
	"Schedule":              z.String().Default("@every 5m").Trim(),
	"IdleTimeout":           durationString("30m"),
	"CompletionGracePeriod": durationString("5m"),
	"FailedGracePeriod":     durationString("10m"),
	"OrphanAge":             durationString("1h"),
})

var streamSchema = z.Struct(z.Shape{
	"PollInterval":      durationString("2s"),
	"HeartbeatInterval": durationString("30s"),
})

var queueSchema = z.Struct(z.Shape{
	"Workers":       z.Int().Default(2),
	"RetryMax":      z.Int().Default(5),
	"RetryBase":     durationString("5s"),
	"RetryMaxDelay": durationString("5m"),
})

var ConfigSchema = z.Struct(z.Shape{
	"Server":      serverSchema,
	"Backend":     backendSchema,
	"Agent":       agentSchema,
	"Maintenance": maintenanceSchema,
	"Stream":      streamSchema,
	"Queue":       queueSchema,
})

var sections = []string{"server", "backend", "agent", "maintenance", "stream", "queue"}

// Default returns the configuration with every default applied.
func Default() (*Config, error) {
	return parse(map[string]any{})
}

// Load reads the config file at path. A missing or empty file yields the defaults.
// When path is empty the file is looked up in the default data dir.
func Load(path string) (*Config, error) {
	if path == "" {
		defaults, err := Default()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(defaults.Server.DataDir, FileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return Default()
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return parse(payload)
}

func parse(payload map[string]any) (*Config, error) {
	for _, section := range sections {
		if _, ok := payload[section]; !ok {
			payload[section] = map[string]any{}
		}
	}
	parsed := &Config{}
	if issues := ConfigSchema.Parse(payload, parsed); len(issues) > 0 {
		return nil, fmt.Errorf("invalid config:\n%s", z.Issues.Prettify(issues))
	}
	parsed.Version = Version
	parsed.Server.DataDir = filepath.Clean(parsed.Server.DataDir)
	return parsed, nil
}

// Duration converts a validated duration string. Invalid input yields zero.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func isDurationTest(valPtr *string, ctx z.Ctx) bool {
	d, err := time.ParseDuration(*valPtr)
	return err == nil && d > 0
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := ExpandPath(*ptr)
	*ptr = expanded
	return err
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
