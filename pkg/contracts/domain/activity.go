package domain

import "time"

// LogLevel is the severity of an activity log entry
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// LogEntry is one timestamped line of the session activity log
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// String formats the entry as "[HH:MM:SS] LEVEL: message"
func (e LogEntry) String() string {
	return "[" + e.Timestamp.Format("15:04:05") + "] " + string(e.Level) + ": " + e.Message
}
