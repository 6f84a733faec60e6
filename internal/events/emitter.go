package events

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event types written during a scan.
const (
	ScanStart           = "scan-start"
	TargetResolved      = "target-resolved"
	ComponentDiscovered = "component-discovered"
	PracticeError       = "practice-error"
	InspectorError      = "inspector-error"
	ScanIncomplete      = "scan-incomplete"
	ScanFinished        = "scan-finished"
	AuthRetry           = "auth-retry"
	ArtifactArchived    = "artifact-archived"
	HistoryRecorded     = "history-recorded"
)

// Event represents a single NDJSON log record.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Emitter writes NDJSON events to an io.Writer safely across goroutines.
// A nil *Emitter discards everything, so callers never need to check.
type Emitter struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewEmitter returns a new NDJSON emitter.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{writer: w}
}

// Emit serializes the event to JSON and appends a newline.
func (e *Emitter) Emit(evt Event) error {
	if e == nil || e.writer == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err = e.writer.Write(append(payload, '\n'))
	return err
}

// Log emits an event and drops write errors. Logging must never fail a scan.
func (e *Emitter) Log(typ, msg string, fields map[string]any) {
	_ = e.Emit(Event{Type: typ, Message: msg, Fields: fields})
}
