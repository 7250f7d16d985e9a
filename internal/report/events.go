package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventIngest    EventType = "ingest"
	EventDuplicate EventType = "duplicate"
	EventSession   EventType = "session"
	EventLink      EventType = "link"
	EventMaster    EventType = "master"
	EventCalibrate EventType = "calibrate"
	EventValidate  EventType = "validate"
	EventCleanup   EventType = "cleanup"
	EventSkip      EventType = "skip"
	EventError     EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in the pipeline
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	FileID    string            `json:"file_id,omitempty"`
	Path      string            `json:"path,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	MasterID  string            `json:"master_id,omitempty"`
	CalType   string            `json:"cal_type,omitempty"`
	Action    string            `json:"action,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// NullLogger returns a logger that discards everything
func NullLogger() *EventLogger {
	return &EventLogger{}
}

// Path returns the event log path, or "" for a null logger
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close closes the underlying file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogIngest logs a successful file registration
func (l *EventLogger) LogIngest(fileID, path string, sizeBytes int64) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventIngest,
		FileID: fileID,
		Path:   path,
		Extra: map[string]string{
			"size_bytes": fmt.Sprintf("%d", sizeBytes),
		},
	})
}

// LogDuplicate logs a dedup hit: the path resolved to an existing record
func (l *EventLogger) LogDuplicate(existingID, path string) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventDuplicate,
		FileID: existingID,
		Path:   path,
		Reason: "content hash already registered",
	})
}

// LogSession logs a session creation
func (l *EventLogger) LogSession(sessionID, object, date string, memberCount int) error {
	return l.Log(&Event{
		Level:     LevelInfo,
		Event:     EventSession,
		SessionID: sessionID,
		Extra: map[string]string{
			"object":       object,
			"date":         date,
			"member_count": fmt.Sprintf("%d", memberCount),
		},
	})
}

// LogLink logs a calibration cross-reference
func (l *EventLogger) LogLink(lightSessionID, calType, calSessionID string) error {
	return l.Log(&Event{
		Level:     LevelInfo,
		Event:     EventLink,
		SessionID: lightSessionID,
		CalType:   calType,
		Action:    "linked",
		Extra:     map[string]string{"target": calSessionID},
	})
}

// LogMaster logs a master-frame build
func (l *EventLogger) LogMaster(masterID, sessionID, calType, path, method string) error {
	return l.Log(&Event{
		Level:     LevelInfo,
		Event:     EventMaster,
		MasterID:  masterID,
		SessionID: sessionID,
		CalType:   calType,
		Path:      path,
		Action:    method,
	})
}

// LogCalibrate logs the outcome of calibrating one light frame
func (l *EventLogger) LogCalibrate(fileID, path, outPath string, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level:  level,
		Event:  EventCalibrate,
		FileID: fileID,
		Path:   path,
		Error:  errMsg,
		Extra:  map[string]string{"output": outPath},
	})
}

// LogSkip logs a skipped unit of work with a reason
func (l *EventLogger) LogSkip(fileID, path, reason string) error {
	return l.Log(&Event{
		Level:  LevelDebug,
		Event:  EventSkip,
		FileID: fileID,
		Path:   path,
		Reason: reason,
	})
}

// LogError logs a contained per-file error
func (l *EventLogger) LogError(fileID, path string, err error) error {
	return l.Log(&Event{
		Level:  LevelError,
		Event:  EventError,
		FileID: fileID,
		Path:   path,
		Error:  err.Error(),
	})
}
