package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// DefaultSuiteTimeout bounds every suite unless overridden
const DefaultSuiteTimeout = 300 * time.Second

// Check is a single named assertion against the deployment
type Check struct {
	Name        string
	Remediation string
	Run         func(ctx context.Context) error
}

// Suite is a named group of checks. A suite only runs when every suite it
// depends on passed.
type Suite struct {
	Name      string
	DependsOn []string
	Checks    []Check
}

// Observer is notified of every check result as it is recorded
type Observer interface {
	ObserveCheck(ctx context.Context, result CheckResult)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, result CheckResult)

func (f ObserverFunc) ObserveCheck(ctx context.Context, result CheckResult) {
	f(ctx, result)
}

// Runner executes suites in dependency order
type Runner struct {
	log          logr.Logger
	clock        clock.PassiveClock
	suiteTimeout time.Duration
	observers    []Observer
	runID        string
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the logger
func WithLogger(log logr.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithClock replaces the clock used to time checks
func WithClock(c clock.PassiveClock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithSuiteTimeout bounds each suite
func WithSuiteTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.suiteTimeout = d
		}
	}
}

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// WithRunID sets the identifier recorded on the report
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// NewRunner creates a runner
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		log:          logr.Discard(),
		clock:        clock.RealClock{},
		suiteTimeout: DefaultSuiteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Order returns suites sorted so every suite follows its dependencies. Ties
// keep the order the suites were given in.
func Order(suites []Suite) ([]Suite, error) {
	byName := make(map[string]Suite, len(suites))
	position := make(map[string]int, len(suites))

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for i, s := range suites {
		if err := g.AddVertex(s.Name); err != nil {
			if errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, fmt.Errorf("suite %q registered twice", s.Name)
			}
			return nil, fmt.Errorf("failed to add suite %s: %w", s.Name, err)
		}
		byName[s.Name] = s
		position[s.Name] = i
	}

	for _, s := range suites {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("suite %q depends on unknown suite %q", s.Name, dep)
			}
			if err := g.AddEdge(dep, s.Name); err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, fmt.Errorf("dependency %s -> %s creates a cycle", dep, s.Name)
				}
				return nil, fmt.Errorf("failed to add dependency %s -> %s: %w", dep, s.Name, err)
			}
		}
	}

	names, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return position[a] < position[b]
	})
	if err != nil {
		return nil, fmt.Errorf("failed to order suites: %w", err)
	}

	ordered := make([]Suite, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, byName[name])
	}
	return ordered, nil
}

// Select returns the named suites together with everything they depend on,
// transitively. An empty selection returns all suites.
func Select(suites []Suite, names ...string) ([]Suite, error) {
	if len(names) == 0 {
		return suites, nil
	}

	byName := make(map[string]Suite, len(suites))
	for _, s := range suites {
		byName[s.Name] = s
	}

	wanted := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		if wanted[name] {
			return nil
		}
		s, ok := byName[name]
		if !ok {
			return fmt.Errorf("unknown suite %q", name)
		}
		wanted[name] = true
		for _, dep := range s.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	var selected []Suite
	for _, s := range suites {
		if wanted[s.Name] {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

// Run executes the suites and returns the report. The returned error is only
// set when the run itself could not proceed (bad suite graph, cancelled
// context); failing checks are reported through the report.
func (r *Runner) Run(ctx context.Context, environment, region string, suites []Suite) (*Report, error) {
	ordered, err := Order(suites)
	if err != nil {
		return nil, err
	}

	report := NewReport(environment, region, r.runID, r.clock.Now())
	blocked := make(map[string]string)

	for _, suite := range ordered {
		if err := ctx.Err(); err != nil {
			report.Finish(r.clock.Now())
			return report, fmt.Errorf("verification interrupted before suite %s: %w", suite.Name, err)
		}

		log := r.log.WithValues("suite", suite.Name)

		if cause, ok := r.blockedBy(suite, blocked); ok {
			blocked[suite.Name] = cause
			log.Info("Skipping suite", "prerequisite", cause)
			for _, check := range suite.Checks {
				result := CheckResult{
					Suite:     suite.Name,
					Name:      check.Name,
					Status:    StatusSkipped,
					Message:   fmt.Sprintf("prerequisite suite %q did not pass", cause),
					CheckedAt: r.clock.Now(),
				}
				r.record(ctx, report, result)
			}
			continue
		}

		log.Info("Running suite", "checks", len(suite.Checks))
		if !r.runSuite(ctx, log, report, suite) {
			blocked[suite.Name] = suite.Name
		}
	}

	report.Finish(r.clock.Now())
	return report, nil
}

func (r *Runner) blockedBy(suite Suite, blocked map[string]string) (string, bool) {
	for _, dep := range suite.DependsOn {
		if cause, ok := blocked[dep]; ok {
			return cause, true
		}
	}
	return "", false
}

// runSuite runs every check of the suite and reports whether all passed
func (r *Runner) runSuite(ctx context.Context, log logr.Logger, report *Report, suite Suite) bool {
	sctx, cancel := context.WithTimeout(ctx, r.suiteTimeout)
	defer cancel()

	passed := true
	for _, check := range suite.Checks {
		start := r.clock.Now()
		err := check.Run(sctx)
		result := NewCheckResult(suite.Name, check.Name, err, start, r.clock.Since(start))
		if result.Status != StatusPassed {
			result.Remediation = check.Remediation
			passed = false
			log.Error(err, "Check did not pass", "check", check.Name, "kind", result.Kind)
		} else {
			log.Info("Check passed", "check", check.Name, "duration", result.Duration)
		}
		r.record(ctx, report, result)
	}
	return passed
}

func (r *Runner) record(ctx context.Context, report *Report, result CheckResult) {
	report.Add(result)
	for _, o := range r.observers {
		o.ObserveCheck(ctx, result)
	}
}
