// Package audit records what a verification run checked and changed as a
// trail of events correlated by run id.
package audit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// EventType represents the type of audit event
type EventType string

const (
	// EventTypeRun marks the start or end of a run
	EventTypeRun EventType = "run"
	// EventTypeCheck is a single check result
	EventTypeCheck EventType = "check"
	// EventTypeMutation is a change made to the cluster
	EventTypeMutation EventType = "mutation"
)

// Run actions. Check events use ActionVerify; mutation events carry the
// mutation's own action.
const (
	ActionStart  = "start"
	ActionFinish = "finish"
	ActionVerify = "verify"
)

// Severity represents the severity of an event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is a single audit entry
type Event struct {
	ID           string            `json:"id"`
	RunID        string            `json:"run_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Type         EventType         `json:"type"`
	Action       string            `json:"action"`
	Severity     Severity          `json:"severity"`
	Suite        string            `json:"suite,omitempty"`
	Resource     string            `json:"resource,omitempty"`
	ResourceKind string            `json:"resource_kind,omitempty"`
	Description  string            `json:"description,omitempty"`
	Duration     time.Duration     `json:"duration,omitempty"`
	Success      bool              `json:"success"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Logger stores audit events
type Logger interface {
	Log(event *Event) error
}

// Filter defines criteria for querying events. Zero fields match everything.
type Filter struct {
	RunID      string
	Types      []EventType
	Severities []Severity
	Suite      string
	Resource   string
	Since      time.Time
	FailedOnly bool
	Limit      int
}

// Summary provides statistics about a set of events
type Summary struct {
	TotalEvents      int               `json:"total_events"`
	EventsByType     map[EventType]int `json:"events_by_type"`
	EventsBySeverity map[Severity]int  `json:"events_by_severity"`
	SuccessCount     int               `json:"success_count"`
	FailureCount     int               `json:"failure_count"`
	FirstEvent       *time.Time        `json:"first_event,omitempty"`
	LastEvent        *time.Time        `json:"last_event,omitempty"`
	SlowestCheck     string            `json:"slowest_check,omitempty"`
	SlowestDuration  time.Duration     `json:"slowest_duration,omitempty"`
	FailingSuites    []string          `json:"failing_suites,omitempty"`
}

const defaultMaxSize = 10000

// prepare fills the id and timestamp of an event about to be stored
func prepare(event *Event, now time.Time) error {
	if event == nil {
		return fmt.Errorf("audit event cannot be nil")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now.UTC()
	}
	return nil
}

// InMemoryLogger keeps events in memory, dropping the oldest past maxSize
type InMemoryLogger struct {
	mu      sync.RWMutex
	events  []Event
	maxSize int
}

// NewInMemoryLogger creates an in-memory logger. A non-positive maxSize
// selects the default.
func NewInMemoryLogger(maxSize int) *InMemoryLogger {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &InMemoryLogger{maxSize: maxSize}
}

// Log records an event
func (l *InMemoryLogger) Log(event *Event) error {
	if err := prepare(event, time.Now()); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *event)
	if overflow := len(l.events) - l.maxSize; overflow > 0 {
		l.events = append([]Event(nil), l.events[overflow:]...)
	}
	return nil
}

// Get retrieves an event by id
func (l *InMemoryLogger) Get(id string) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lo.Find(l.events, func(e Event) bool { return e.ID == id })
}

// List returns every event in the order it was logged
func (l *InMemoryLogger) List() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Event(nil), l.events...)
}

// Query returns the events matching filter, oldest first
func (l *InMemoryLogger) Query(filter Filter) []Event {
	matched := lo.Filter(l.List(), func(e Event, _ int) bool {
		return filter.matches(e)
	})
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

func (f Filter) matches(e Event) bool {
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if len(f.Types) > 0 && !lo.Contains(f.Types, e.Type) {
		return false
	}
	if len(f.Severities) > 0 && !lo.Contains(f.Severities, e.Severity) {
		return false
	}
	if f.Suite != "" && e.Suite != f.Suite {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if f.FailedOnly && e.Success {
		return false
	}
	return true
}

// Summary aggregates the stored events
func (l *InMemoryLogger) Summary() Summary {
	return Summarize(l.List())
}

// Summarize computes statistics over events
func Summarize(events []Event) Summary {
	summary := Summary{
		EventsByType:     map[EventType]int{},
		EventsBySeverity: map[Severity]int{},
	}
	failing := map[string]bool{}

	for _, e := range events {
		summary.TotalEvents++
		summary.EventsByType[e.Type]++
		summary.EventsBySeverity[e.Severity]++
		if e.Success {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
		}

		if summary.FirstEvent == nil || e.Timestamp.Before(*summary.FirstEvent) {
			ts := e.Timestamp
			summary.FirstEvent = &ts
		}
		if summary.LastEvent == nil || e.Timestamp.After(*summary.LastEvent) {
			ts := e.Timestamp
			summary.LastEvent = &ts
		}

		if e.Type != EventTypeCheck {
			continue
		}
		if e.Duration > summary.SlowestDuration {
			summary.SlowestDuration = e.Duration
			summary.SlowestCheck = e.Suite + "/" + e.Resource
		}
		if !e.Success && e.Severity != SeverityWarning {
			failing[e.Suite] = true
		}
	}

	summary.FailingSuites = lo.Keys(failing)
	sort.Strings(summary.FailingSuites)
	return summary
}
