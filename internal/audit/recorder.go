package audit

import (
	"context"
	"strconv"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

// Recorder turns runner results and cluster mutations into audit events.
// It satisfies verify.Observer and verify.MutationObserver.
type Recorder struct {
	logger Logger
	runID  string
	clock  clock.PassiveClock
	log    logr.Logger
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithClock sets the clock used to timestamp events
func WithClock(c clock.PassiveClock) RecorderOption {
	return func(r *Recorder) { r.clock = c }
}

// WithLogger sets where failures to write the trail are reported
func WithLogger(log logr.Logger) RecorderOption {
	return func(r *Recorder) { r.log = log }
}

// NewRecorder records every event under runID
func NewRecorder(logger Logger, runID string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		logger: logger,
		runID:  runID,
		clock:  clock.RealClock{},
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	_ verify.Observer         = (*Recorder)(nil)
	_ verify.MutationObserver = (*Recorder)(nil)
)

// RunStarted records the start of a run
func (r *Recorder) RunStarted(environment, region string, suites []string) {
	meta := map[string]string{"environment": environment, "region": region}
	for i, s := range suites {
		meta["suite."+strconv.Itoa(i)] = s
	}
	r.record(&Event{
		Type:     EventTypeRun,
		Action:   ActionStart,
		Severity: SeverityInfo,
		Success:  true,
		Metadata: meta,
	})
}

// RunFinished records the overall outcome of a report
func (r *Recorder) RunFinished(report *verify.Report) {
	severity := SeverityInfo
	switch report.OverallStatus {
	case verify.StatusFailed:
		severity = SeverityError
	case verify.StatusError:
		severity = SeverityCritical
	}
	r.record(&Event{
		Type:        EventTypeRun,
		Action:      ActionFinish,
		Severity:    severity,
		Description: string(report.OverallStatus),
		Duration:    report.Duration,
		Success:     report.Passed(),
		Metadata: map[string]string{
			"environment": report.Environment,
			"region":      report.Region,
			"total":       strconv.Itoa(report.Summary.TotalChecks),
			"passed":      strconv.Itoa(report.Summary.PassedChecks),
			"failed":      strconv.Itoa(report.Summary.FailedChecks),
			"skipped":     strconv.Itoa(report.Summary.SkippedChecks),
			"errors":      strconv.Itoa(report.Summary.ErrorChecks),
		},
	})
}

// ObserveCheck records a check result
func (r *Recorder) ObserveCheck(_ context.Context, result verify.CheckResult) {
	e := &Event{
		Type:        EventTypeCheck,
		Action:      ActionVerify,
		Severity:    checkSeverity(result.Status),
		Suite:       result.Suite,
		Resource:    result.Name,
		Description: result.Message,
		Duration:    result.Duration,
		Success:     result.Status == verify.StatusPassed,
		Metadata:    map[string]string{"status": string(result.Status)},
	}
	if result.Kind != "" {
		e.Metadata["kind"] = string(result.Kind)
	}
	if result.Err != nil {
		e.ErrorMessage = result.Err.Error()
	}
	r.record(e)
}

// ObserveMutation records a change made to the cluster
func (r *Recorder) ObserveMutation(_ context.Context, m verify.Mutation) {
	e := &Event{
		Type:         EventTypeMutation,
		Action:       m.Action,
		Severity:     SeverityInfo,
		Resource:     m.Name,
		ResourceKind: m.Kind,
		Duration:     m.Duration,
		Success:      m.Err == nil,
	}
	if m.Err != nil {
		e.Severity = SeverityError
		e.ErrorMessage = m.Err.Error()
	}
	r.record(e)
}

func (r *Recorder) record(e *Event) {
	e.RunID = r.runID
	e.Timestamp = r.clock.Now().UTC()
	if err := r.logger.Log(e); err != nil {
		r.log.Error(err, "failed to record audit event", "type", e.Type, "action", e.Action)
	}
}

func checkSeverity(status verify.CheckStatus) Severity {
	switch status {
	case verify.StatusPassed:
		return SeverityInfo
	case verify.StatusSkipped:
		return SeverityWarning
	case verify.StatusFailed:
		return SeverityError
	default:
		return SeverityCritical
	}
}
