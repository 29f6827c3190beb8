package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// WriterLogger appends events to w as JSON lines
type WriterLogger struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewWriterLogger writes one JSON object per line to w
func NewWriterLogger(w io.Writer) *WriterLogger {
	return &WriterLogger{enc: json.NewEncoder(w)}
}

// OpenFile appends to the audit file at path, creating it if needed
func OpenFile(path string) (*WriterLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	l := NewWriterLogger(f)
	l.closer = f
	return l, nil
}

// Log writes the event as a single line
func (l *WriterLogger) Log(event *Event) error {
	if err := prepare(event, time.Now()); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event %s: %w", event.ID, err)
	}
	return nil
}

// Close closes the underlying file, if the logger opened one
func (l *WriterLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ReadEvents decodes a JSON-lines audit trail
func ReadEvents(r io.Reader) ([]Event, error) {
	dec := json.NewDecoder(r)
	var events []Event
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			return events, fmt.Errorf("failed to decode audit event %d: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// multiLogger fans an event out to several loggers
type multiLogger []Logger

// Multi logs every event to each of loggers, collecting their errors
func Multi(loggers ...Logger) Logger {
	return multiLogger(loggers)
}

func (m multiLogger) Log(event *Event) error {
	if err := prepare(event, time.Now()); err != nil {
		return err
	}
	var errs error
	for _, l := range m {
		errs = multierr.Append(errs, l.Log(event))
	}
	return errs
}
