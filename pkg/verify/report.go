// Package verify runs verification suites against a live deployment and
// collects their outcome into a report
package verify

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// CheckStatus represents the outcome of a single check
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusSkipped CheckStatus = "skipped"
	StatusError   CheckStatus = "error"
)

// statusRank orders statuses for the overall result (error > failed > passed > skipped)
var statusRank = map[CheckStatus]int{
	StatusSkipped: 0,
	StatusPassed:  1,
	StatusFailed:  2,
	StatusError:   3,
}

// StatusFor maps a check error onto a status. Not-found, timeout and
// violations are failures of the deployment; anything else is an error of
// the run itself.
func StatusFor(err error) CheckStatus {
	switch Classify(err) {
	case KindNone:
		return StatusPassed
	case KindNotFound, KindTimeout, KindViolation:
		return StatusFailed
	default:
		return StatusError
	}
}

// CheckResult represents the result of a single check
type CheckResult struct {
	Suite       string        `json:"suite"`
	Name        string        `json:"name"`
	Status      CheckStatus   `json:"status"`
	Kind        FailureKind   `json:"kind,omitempty"`
	Message     string        `json:"message"`
	Details     []string      `json:"details,omitempty"`
	Duration    time.Duration `json:"duration"`
	CheckedAt   time.Time     `json:"checked_at"`
	Remediation string        `json:"remediation,omitempty"`
	Err         error         `json:"-"`
}

// NewCheckResult builds a result from the error a check returned
func NewCheckResult(suite, name string, err error, checkedAt time.Time, duration time.Duration) CheckResult {
	result := CheckResult{
		Suite:     suite,
		Name:      name,
		Status:    StatusFor(err),
		Kind:      Classify(err),
		Duration:  duration,
		CheckedAt: checkedAt,
		Err:       err,
	}

	if err == nil {
		result.Message = "ok"
		return result
	}

	errs := multierr.Errors(err)
	if len(errs) == 1 {
		result.Message = err.Error()
		return result
	}
	result.Message = fmt.Sprintf("%d problems found", len(errs))
	for _, e := range errs {
		result.Details = append(result.Details, e.Error())
	}
	return result
}

// Report represents the overall outcome of a verification run
type Report struct {
	Environment     string        `json:"environment"`
	Region          string        `json:"region"`
	RunID           string        `json:"run_id"`
	CheckedAt       time.Time     `json:"checked_at"`
	Duration        time.Duration `json:"duration"`
	OverallStatus   CheckStatus   `json:"overall_status"`
	Checks          []CheckResult `json:"checks"`
	Summary         Summary       `json:"summary"`
	Recommendations []string      `json:"recommendations,omitempty"`
}

// Summary provides aggregate statistics
type Summary struct {
	TotalChecks   int `json:"total_checks"`
	PassedChecks  int `json:"passed_checks"`
	FailedChecks  int `json:"failed_checks"`
	SkippedChecks int `json:"skipped_checks"`
	ErrorChecks   int `json:"error_checks"`
}

// NewReport starts an empty report
func NewReport(environment, region, runID string, checkedAt time.Time) *Report {
	return &Report{
		Environment:   environment,
		Region:        region,
		RunID:         runID,
		CheckedAt:     checkedAt,
		OverallStatus: StatusSkipped,
		Checks:        []CheckResult{},
	}
}

// Add appends a result and updates the summary and overall status
func (r *Report) Add(result CheckResult) {
	r.Checks = append(r.Checks, result)

	switch result.Status {
	case StatusPassed:
		r.Summary.PassedChecks++
	case StatusFailed:
		r.Summary.FailedChecks++
	case StatusSkipped:
		r.Summary.SkippedChecks++
	default:
		r.Summary.ErrorChecks++
	}
	r.Summary.TotalChecks++

	if statusRank[result.Status] > statusRank[r.OverallStatus] {
		r.OverallStatus = result.Status
	}
}

// Finish stamps the duration and collects recommendations
func (r *Report) Finish(now time.Time) {
	r.Duration = now.Sub(r.CheckedAt)
	r.Recommendations = r.generateRecommendations()
}

func (r *Report) generateRecommendations() []string {
	var recommendations []string
	seen := make(map[string]bool)

	for _, check := range r.Checks {
		if check.Status != StatusFailed && check.Status != StatusError {
			continue
		}
		if check.Remediation != "" && !seen[check.Remediation] {
			seen[check.Remediation] = true
			recommendations = append(recommendations, check.Remediation)
		}
	}

	if r.Summary.ErrorChecks > 0 {
		recommendations = append(recommendations, "Checks ended in errors: confirm credentials, region and kubeconfig before re-running")
	}

	return recommendations
}

// Failures returns the results that did not pass or get skipped
func (r *Report) Failures() []CheckResult {
	var failures []CheckResult
	for _, check := range r.Checks {
		if check.Status == StatusFailed || check.Status == StatusError {
			failures = append(failures, check)
		}
	}
	return failures
}

// Passed reports whether no check failed or errored
func (r *Report) Passed() bool {
	return r.OverallStatus == StatusPassed || r.OverallStatus == StatusSkipped
}

// Err combines the errors of every failing check
func (r *Report) Err() error {
	var err error
	for _, check := range r.Failures() {
		cause := check.Err
		if cause == nil {
			cause = errors.New(check.Message)
		}
		err = multierr.Append(err, fmt.Errorf("%s/%s: %w", check.Suite, check.Name, cause))
	}
	return err
}
