// Package audit records security-relevant vault operations: key
// derivation, rotation events, export requests and decryption
// failures. Implementations are pluggable; the vault never blocks on
// audit failures but callers may inspect the returned error.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConfigType selects the audit backend.
type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	NoOpAuditType   ConfigType = ""
)

// Config defines audit logging configuration.
type Config struct {
	Enabled bool                   `json:"enabled"`
	Type    ConfigType             `json:"type"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// Logger is the interface vault components log audit events through.
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Close() error
}

// Event is a single audit record.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func newEvent(action string, success bool, metadata map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Success:   success,
		Metadata:  metadata,
	}
}

// QueryOptions filter events returned by FileLogger.Query.
type QueryOptions struct {
	Since   *time.Time
	Until   *time.Time
	Action  string
	Success *bool // nil matches both outcomes
	Limit   int
}

// NewLogger creates a logger for the given configuration. A nil or
// disabled configuration yields a NoOpLogger.
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}
	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case NoOpAuditType:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

// decodeOptions maps the free-form option map onto a backend-specific
// options struct via a JSON round trip.
func decodeOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	if err = json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return nil
}
