package model

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// ParseSeverity is lenient, anything unknown is info.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning", "warn":
		return SeverityWarning
	case "error", "danger":
		return SeverityError
	case "success":
		return SeveritySuccess
	default:
		return SeverityInfo
	}
}

type Origin string

const (
	OriginLocal  Origin = "local"
	OriginServer Origin = "server"
)

// LogEntry is a human readable status message. Entries are never mutated
// once appended to a stream.
type LogEntry struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Origin    Origin    `json:"origin"`
}
