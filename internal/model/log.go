package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LogLevel string

const (
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARNING"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
	LogLevelNone     LogLevel = "NONE"
)

// TimestampLayout is the wire format of event timestamps: ISO-8601 in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const DefaultModule = "NONE"

func ParseLogLevel(s string) (LogLevel, error) {
	switch level := LogLevel(strings.ToUpper(strings.TrimSpace(s))); level {
	case LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical, LogLevelNone:
		return level, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// DefaultCode is the status code a severity carries when the caller does not
// provide one.
func DefaultCode(level LogLevel) int {
	switch level {
	case LogLevelError:
		return 1
	case LogLevelCritical:
		return 2
	default:
		return 0
	}
}

type LogEvent struct {
	Timestamp  string   `json:"timestamp"`
	Level      LogLevel `json:"level"`
	Module     string   `json:"module"`
	Message    string   `json:"message"`
	StatusCode int      `json:"status_code"`
}

// LogRecord is a LogEvent without its client-side timestamp; storage assigns
// its own.
type LogRecord struct {
	Level      LogLevel `json:"level"`
	Module     string   `json:"module"`
	Message    string   `json:"message"`
	StatusCode int      `json:"status_code"`
}

func NewLogEvent(now time.Time, level LogLevel, message, module string, code int) LogEvent {
	module = strings.ToUpper(strings.TrimSpace(module))
	if module == "" {
		module = DefaultModule
	}
	return LogEvent{
		Timestamp:  FormatTimestamp(now),
		Level:      level,
		Module:     module,
		Message:    message,
		StatusCode: code,
	}
}

func (e LogEvent) Record() LogRecord {
	return LogRecord{
		Level:      e.Level,
		Module:     e.Module,
		Message:    e.Message,
		StatusCode: e.StatusCode,
	}
}

// Field returns the textual value of a column addressed by its JSON name.
func (e LogEvent) Field(name string) string {
	switch name {
	case "timestamp":
		return e.Timestamp
	case "level":
		return string(e.Level)
	case "module":
		return e.Module
	case "message":
		return e.Message
	case "status_code", "code":
		return strconv.Itoa(e.StatusCode)
	}
	return ""
}

type TraceEvent struct {
	Timestamp    string `json:"timestamp"`
	UserID       int64  `json:"user_id"`
	ChatID       int64  `json:"chat_id"`
	QueryType    string `json:"query_type"`
	QueryText    string `json:"query_text"`
	ResponseTime *int64 `json:"response_time"`
	StatusCode   *int   `json:"status_code,omitempty"`
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 instants and zone-less ISO-8601 values,
// which are taken to be UTC.
func ParseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, lastErr)
}
