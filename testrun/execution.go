package testrun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/tracker"
)

// Kind is the tracker kind of test case units
const Kind = "test"

// Case phases carried on tracker units
const (
	PhaseQueued  = "queued"
	PhaseRunning = "running"
	PhasePassed  = "passed"
	PhaseFailed  = "failed"
	PhaseSkipped = "skipped"
)

// Runner executes one test case. A returned error fails the case.
type Runner interface {
	Execute(ctx context.Context, tc TestCase) (Result, error)
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, tc TestCase) (Result, error)

// Execute implements Runner
func (f RunnerFunc) Execute(ctx context.Context, tc TestCase) (Result, error) {
	return f(ctx, tc)
}

type caseRef struct {
	suite, idx int
}

// Execution drives the cases of every suite through a tracker and keeps
// the suite tallies current on every case transition.
type Execution struct {
	runner  Runner
	tracker *tracker.Tracker
	now     func() time.Time

	mu      sync.Mutex
	suites  []TestSuite
	index   map[string]caseRef
	results map[string]Result
}

// NewExecution plans the suites of iflows and prepares their tracker
func NewExecution(iflows []catalog.IFlow, runner Runner, opts ...tracker.Option) (*Execution, error) {
	if runner == nil {
		return nil, errors.New(errors.ErrConfiguration, "test runner is not configured")
	}
	x := &Execution{
		runner:  runner,
		now:     time.Now,
		suites:  Plan(iflows),
		index:   make(map[string]caseRef),
		results: make(map[string]Result),
	}

	var units []tracker.Unit
	for si, s := range x.suites {
		for ci, c := range s.Cases {
			x.index[c.ID] = caseRef{suite: si, idx: ci}
			units = append(units, tracker.Unit{
				ID:           c.ID,
				OwnerIFlowID: c.IFlowID,
				Name:         c.Name,
				Phase:        PhaseQueued,
			})
		}
	}

	opts = append(opts, tracker.WithObserver(x.observe))
	t, err := tracker.New(Kind, units, tracker.RunnerFunc(x.start), opts...)
	if err != nil {
		return nil, err
	}
	x.tracker = t
	// cases restored with tracker.WithState count from the start
	for _, u := range t.Units() {
		if u.Status.Terminal() {
			x.observe(tracker.Transition{Unit: u})
		}
	}
	return x, nil
}

// UnitsFromReport converts the resolved cases of a saved report back to
// tracker units, for tracker.WithState
func UnitsFromReport(r Report) []tracker.Unit {
	var out []tracker.Unit
	for _, s := range r.Suites {
		for _, c := range s.Cases {
			u := tracker.Unit{
				ID:           c.ID,
				Kind:         Kind,
				OwnerIFlowID: c.IFlowID,
				Name:         c.Name,
				Attempts:     1,
				StartedAt:    r.GeneratedAt.Add(-c.Duration),
				FinishedAt:   r.GeneratedAt,
			}
			switch c.Status {
			case CasePassed:
				u.Status, u.Phase, u.Progress = tracker.StatusCompleted, PhasePassed, 100
			case CaseSkipped:
				u.Status, u.Phase, u.Progress = tracker.StatusCompleted, PhaseSkipped, 100
			case CaseFailed:
				u.Status, u.Phase, u.Progress = tracker.StatusFailed, PhaseFailed, 99
				u.ErrorReason = c.Message
			default:
				continue
			}
			out = append(out, u)
		}
	}
	return out
}

// Tracker exposes the underlying unit tracker
func (x *Execution) Tracker() *tracker.Tracker {
	return x.tracker
}

// RunAll executes every pending case
func (x *Execution) RunAll(ctx context.Context) (Report, error) {
	_, err := x.tracker.RunAll(ctx)
	return x.Report(), err
}

// Retry re-runs one case
func (x *Execution) Retry(ctx context.Context, caseID string) (TestCase, error) {
	if _, err := x.tracker.Retry(ctx, caseID); err != nil {
		return TestCase{}, err
	}
	return x.Case(caseID)
}

// RetryAllFailed re-runs every failed case
func (x *Execution) RetryAllFailed(ctx context.Context) (Report, error) {
	_, err := x.tracker.RetryAllFailed(ctx)
	return x.Report(), err
}

// Case returns a snapshot of one case
func (x *Execution) Case(id string) (TestCase, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ref, ok := x.index[id]
	if !ok {
		return TestCase{}, errors.Newf(errors.ErrNotFound, "test case %s not found", id)
	}
	return x.suites[ref.suite].Cases[ref.idx], nil
}

// Suites returns a deep snapshot of every suite
func (x *Execution) Suites() []TestSuite {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.suitesLocked()
}

func (x *Execution) suitesLocked() []TestSuite {
	out := make([]TestSuite, len(x.suites))
	for i, s := range x.suites {
		s.Cases = append([]TestCase(nil), s.Cases...)
		out[i] = s
	}
	return out
}

// Report summarizes the suites; it is available at any time
func (x *Execution) Report() Report {
	x.mu.Lock()
	defer x.mu.Unlock()
	r := Report{Suites: x.suitesLocked(), GeneratedAt: x.now()}
	for _, s := range x.suites {
		r.Total += s.Total
		r.Passed += s.Passed
		r.Failed += s.Failed
		r.Skipped += s.Skipped
		if s.Status != SuiteCompleted {
			r.Running++
		}
	}
	return r
}

func (x *Execution) start(ctx context.Context, u tracker.Unit) <-chan tracker.Event {
	return tracker.Go(ctx, func(ctx context.Context, e *tracker.Emitter) error {
		tc, err := x.Case(u.ID)
		if err != nil {
			return err
		}
		e.Phase(PhaseRunning, 10)

		res, err := x.runner.Execute(ctx, tc)
		if err != nil {
			res = Result{Status: CaseFailed, Message: err.Error()}
		}
		x.mu.Lock()
		x.results[u.ID] = res
		x.mu.Unlock()

		switch res.Status {
		case CasePassed:
			e.Phase(PhasePassed, 99)
			return nil
		case CaseSkipped:
			e.Phase(PhaseSkipped, 99)
			return nil
		case CaseFailed:
			e.Phase(PhaseFailed, 99)
			if res.Message == "" {
				return fmt.Errorf("test case failed")
			}
			return fmt.Errorf("%s", res.Message)
		default:
			e.Phase(PhaseFailed, 99)
			return fmt.Errorf("runner reported unknown status %q", res.Status)
		}
	})
}

func caseStatus(u tracker.Unit) CaseStatus {
	switch u.Status {
	case tracker.StatusRunning:
		return CaseRunning
	case tracker.StatusFailed:
		return CaseFailed
	case tracker.StatusCompleted:
		if u.Phase == PhaseSkipped {
			return CaseSkipped
		}
		return CasePassed
	default:
		return CasePending
	}
}

// observe moves the tallies by the delta of one case transition
func (x *Execution) observe(tr tracker.Transition) {
	x.mu.Lock()
	defer x.mu.Unlock()

	ref, ok := x.index[tr.Unit.ID]
	if !ok {
		return
	}
	s := &x.suites[ref.suite]
	c := &s.Cases[ref.idx]

	next := caseStatus(tr.Unit)
	if next == c.Status {
		return
	}
	adjust(s, c.Status, -1)
	adjust(s, next, +1)
	c.Status = next

	switch next {
	case CaseRunning:
		c.Message = ""
		c.Duration = 0
	case CasePassed, CaseFailed, CaseSkipped:
		res := x.results[c.ID]
		c.Message = res.Message
		if next == CaseFailed && c.Message == "" {
			c.Message = tr.Unit.ErrorReason
		}
		c.Duration = res.Duration
		if c.Duration == 0 && !tr.Unit.StartedAt.IsZero() {
			c.Duration = tr.Unit.FinishedAt.Sub(tr.Unit.StartedAt)
		}
	}
	s.Status = suiteStatus(s.Cases)
}

func adjust(s *TestSuite, status CaseStatus, delta int) {
	switch status {
	case CasePassed:
		s.Passed += delta
	case CaseFailed:
		s.Failed += delta
	case CaseSkipped:
		s.Skipped += delta
	}
}

func suiteStatus(cases []TestCase) SuiteStatus {
	resolved, started := 0, 0
	for _, c := range cases {
		if c.Status.Resolved() {
			resolved++
		}
		if c.Status != CasePending {
			started++
		}
	}
	switch {
	case resolved == len(cases):
		return SuiteCompleted
	case started > 0:
		return SuiteRunning
	default:
		return SuitePending
	}
}
