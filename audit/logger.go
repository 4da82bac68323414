// Package audit records every key cache state transition. Audit records never
// carry key material, only a short fingerprint of it.
package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Actions recorded by the key cache
const (
	ActionCacheInitialized     = "CACHE_INITIALIZED"
	ActionSecretCached         = "SECRET_CACHED"
	ActionSecretCleared        = "SECRET_CLEARED"
	ActionSecretExpired        = "SECRET_EXPIRED"
	ActionExpiryArmed          = "EXPIRY_ARMED"
	ActionExpiryCancelled      = "EXPIRY_CANCELLED"
	ActionExpiryArmFailed      = "EXPIRY_ARM_FAILED"
	ActionActivityCountClamped = "ACTIVITY_COUNT_CLAMPED"
	ActionEventPublishFailed   = "EVENT_PUBLISH_FAILED"
	ActionCacheShutdown        = "CACHE_SHUTDOWN"
)

// Config defines audit logging configuration
type Config struct {
	Enabled  bool                   `json:"enabled"`
	Instance string                 `json:"instance"`
	Type     ConfigType             `json:"type"`    // "file", "syslog" or empty for no-op
	Options  map[string]interface{} `json:"options"` // Provider-specific options
	LogLevel string                 `json:"log_level,omitempty"`
}

type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	NoOp            ConfigType = ""
)

// Logger interface for pluggable audit implementations
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event represents an audit log event
type Event struct {
	ID             string                 `json:"id"`
	RequestID      string                 `json:"request_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Instance       string                 `json:"instance"`
	Action         string                 `json:"action"`
	Success        bool                   `json:"success"`
	Error          string                 `json:"error,omitempty"`
	KeyFingerprint string                 `json:"key_fingerprint,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Source         string                 `json:"source,omitempty"`
}

// QueryOptions for filtering audit logs
type QueryOptions struct {
	Instance       string
	Since          *time.Time
	Until          *time.Time
	Action         string
	Success        *bool // nil = all, true = only success, false = only failures
	KeyFingerprint string
	Limit          int
	Offset         int
	LifecycleOnly  bool // only events that change whether a key is cached
}

// QueryResult contains the results of an audit query
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	Filtered   int     `json:"filtered"`
	HasMore    bool    `json:"has_more"`
}

// NewLogger creates an appropriate logger based on configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}

	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

// newEvent lifts the well-known metadata keys into event fields
func newEvent(instance, action string, success bool, metadata map[string]interface{}) Event {
	event := Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Instance:  instance,
		Action:    action,
		Success:   success,
		Metadata:  metadata,
	}
	if metadata != nil {
		if v, ok := metadata["request_id"].(string); ok {
			event.RequestID = v
		}
		if v, ok := metadata["error"].(string); ok {
			event.Error = v
		}
		if v, ok := metadata["key_fingerprint"].(string); ok {
			event.KeyFingerprint = v
		}
	}
	return event
}

// parseOptions converts map[string]interface{} to specific options struct
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}

	// Convert to JSON and back to parse into struct
	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}

	return nil
}
