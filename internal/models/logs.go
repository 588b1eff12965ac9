package models

import (
	"strings"
	"time"
)

// LogLevel is the severity of a server-side log record.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ParseLogLevel upper-cases a level, mapping WARNING to WARN.
func ParseLogLevel(s string) LogLevel {
	l := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	if l == "WARNING" {
		return LevelWarn
	}
	return l
}

// LogRecord is one server-side log line.
type LogRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      LogLevel  `json:"level"`
	Message    string    `json:"message"`
	Module     string    `json:"module"`
	InstanceID string    `json:"instanceId,omitempty"`
}

// LogFilter is a single page request against the log store.
type LogFilter struct {
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
	Level      LogLevel `json:"level,omitempty"`
	InstanceID string   `json:"instanceId,omitempty"`
}

// LogPage is one page of filtered log records. Total counts every record
// matching the filter, not just the page.
type LogPage struct {
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Logs   []LogRecord `json:"logs"`
}

// HasNext reports whether another page follows this one.
func (p LogPage) HasNext() bool {
	return p.Offset+len(p.Logs) < p.Total
}
