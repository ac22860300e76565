package testrun

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/tracker"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func flows() []catalog.IFlow {
	return []catalog.IFlow{
		{ID: "if-low", Name: "Low", Complexity: catalog.ComplexityLow},
		{ID: "if-med", Name: "Medium", Complexity: catalog.ComplexityMedium},
		{ID: "if-high", Name: "High", Complexity: catalog.ComplexityHigh},
	}
}

// byCase returns fixed outcomes; failures happen once per listed case
type byCase struct {
	mu      sync.Mutex
	outcome map[string]CaseStatus
	once    map[string]bool
}

func newByCase() *byCase {
	return &byCase{outcome: map[string]CaseStatus{}, once: map[string]bool{}}
}

func (b *byCase) Execute(ctx context.Context, tc TestCase) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.once[tc.ID] {
		delete(b.once, tc.ID)
		return Result{Status: CaseFailed, Message: "assertion failed: status 500"}, nil
	}
	if s, ok := b.outcome[tc.ID]; ok {
		return Result{Status: s}, nil
	}
	return Result{Status: CasePassed}, nil
}

func assertTallies(t *testing.T, suites []TestSuite) {
	t.Helper()
	for _, s := range suites {
		var passed, failed, skipped int
		for _, c := range s.Cases {
			switch c.Status {
			case CasePassed:
				passed++
			case CaseFailed:
				failed++
			case CaseSkipped:
				skipped++
			}
		}
		assert.Equal(t, passed, s.Passed, "suite %s passed", s.ID)
		assert.Equal(t, failed, s.Failed, "suite %s failed", s.ID)
		assert.Equal(t, skipped, s.Skipped, "suite %s skipped", s.ID)
	}
}

func TestPlanCaseCountsFollowComplexity(t *testing.T) {
	suites := Plan(flows())
	require.Len(t, suites, 3)
	assert.Equal(t, 4, suites[0].Total)
	assert.Equal(t, 6, suites[1].Total)
	assert.Equal(t, 8, suites[2].Total)

	cats := map[Category]int{}
	for _, c := range suites[2].Cases {
		cats[c.Category]++
		assert.Equal(t, CasePending, c.Status)
		assert.Equal(t, "if-high/suite", c.SuiteID)
	}
	assert.Equal(t, map[Category]int{
		CategoryFunctional: 2, CategoryIntegration: 2, CategoryPerformance: 2, CategorySecurity: 2,
	}, cats)
	assert.Equal(t, "if-low/case-01", suites[0].Cases[0].ID)
}

func TestRunAllProducesReport(t *testing.T) {
	r := newByCase()
	r.outcome["if-med/case-03"] = CaseSkipped
	r.outcome["if-high/case-08"] = CaseFailed

	x, err := NewExecution(flows(), r)
	require.NoError(t, err)

	report, err := x.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 18, report.Total)
	assert.Equal(t, 16, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Running)
	for _, s := range report.Suites {
		assert.Equal(t, SuiteCompleted, s.Status)
	}
	assertTallies(t, report.Suites)

	c, err := x.Case("if-high/case-08")
	require.NoError(t, err)
	assert.Equal(t, CaseFailed, c.Status)
	assert.Equal(t, "test case failed", c.Message)
}

func TestRetryDecrementsFailedTally(t *testing.T) {
	r := newByCase()
	r.once["if-low/case-02"] = true

	x, err := NewExecution(flows()[:1], r)
	require.NoError(t, err)
	report, err := x.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	assert.Equal(t, "assertion failed: status 500", report.Suites[0].Cases[1].Message)

	c, err := x.Retry(context.Background(), "if-low/case-02")
	require.NoError(t, err)
	assert.Equal(t, CasePassed, c.Status)
	assert.Empty(t, c.Message)

	report = x.Report()
	assert.Zero(t, report.Failed)
	assert.Equal(t, 4, report.Passed)
	assertTallies(t, report.Suites)
}

func TestExecutionRestoredFromReport(t *testing.T) {
	r := newByCase()
	r.once["if-low/case-02"] = true
	r.outcome["if-low/case-03"] = CaseSkipped
	first, err := NewExecution(flows()[:1], r)
	require.NoError(t, err)
	saved, err := first.RunAll(context.Background())
	require.NoError(t, err)
	// the fourth case never ran before the interruption
	saved.Suites[0].Cases[3].Status = CasePending

	var mu sync.Mutex
	var ran []string
	counting := RunnerFunc(func(ctx context.Context, tc TestCase) (Result, error) {
		mu.Lock()
		ran = append(ran, tc.ID)
		mu.Unlock()
		return Result{Status: CasePassed}, nil
	})
	x, err := NewExecution(flows()[:1], counting, tracker.WithState(UnitsFromReport(saved)))
	require.NoError(t, err)

	report := x.Report()
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Running)
	assert.Equal(t, SuiteRunning, report.Suites[0].Status)
	assert.Equal(t, "assertion failed: status 500", report.Suites[0].Cases[1].Message)
	assertTallies(t, report.Suites)

	report, err = x.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"if-low/case-04"}, ran)
	assert.Equal(t, SuiteCompleted, report.Suites[0].Status)

	report, err = x.RetryAllFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"if-low/case-04", "if-low/case-02"}, ran)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 3, report.Passed)
	assertTallies(t, report.Suites)
}

func TestTalliesConsistentOnEveryTransition(t *testing.T) {
	r := newByCase()
	r.outcome["if-med/case-01"] = CaseFailed
	r.outcome["if-med/case-02"] = CaseSkipped

	var x *Execution
	var violations int
	var mu sync.Mutex
	check := func(tracker.Transition) {
		for _, s := range x.Suites() {
			var resolved int
			for _, c := range s.Cases {
				if c.Status.Resolved() {
					resolved++
				}
			}
			if resolved != s.Passed+s.Failed+s.Skipped {
				mu.Lock()
				violations++
				mu.Unlock()
			}
		}
	}
	var err error
	x, err = NewExecution(flows(), r, tracker.WithObserver(check), tracker.WithConcurrency(3))
	require.NoError(t, err)
	_, err = x.RunAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, violations)
}

func TestSuiteRunningUntilEveryCaseResolves(t *testing.T) {
	release := make(chan struct{})
	r := RunnerFunc(func(ctx context.Context, tc TestCase) (Result, error) {
		if tc.ID == "if-low/case-04" {
			<-release
		}
		return Result{Status: CasePassed}, nil
	})
	x, err := NewExecution(flows()[:1], r, tracker.WithConcurrency(4))
	require.NoError(t, err)

	assert.Equal(t, 1, x.Report().Running)
	assert.Equal(t, SuitePending, x.Suites()[0].Status)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = x.RunAll(context.Background())
	}()

	require.Eventually(t, func() bool {
		s := x.Suites()[0]
		return s.Passed == 3 && s.Status == SuiteRunning
	}, timeout, tick)
	assert.Equal(t, 1, x.Report().Running)

	close(release)
	<-done
	assert.Equal(t, SuiteCompleted, x.Suites()[0].Status)
	assert.Zero(t, x.Report().Running)
}

func TestRunnerErrorFailsCase(t *testing.T) {
	r := RunnerFunc(func(ctx context.Context, tc TestCase) (Result, error) {
		return Result{}, fmt.Errorf("harness unreachable")
	})
	x, err := NewExecution(flows()[:1], r)
	require.NoError(t, err)
	report, err := x.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Failed)
	assert.Equal(t, "harness unreachable", report.Suites[0].Cases[0].Message)
}

type fakeExecer struct {
	cmds [][]string
	res  ExecResult
	err  error
}

func (f *fakeExecer) Exec(ctx context.Context, containerID string, cmd []string) (ExecResult, error) {
	f.cmds = append(f.cmds, cmd)
	return f.res, f.err
}

func TestContainerRunner(t *testing.T) {
	tc := TestCase{ID: "if-low/case-01", IFlowID: "if-low", Category: CategorySecurity}

	ex := &fakeExecer{res: ExecResult{ExitCode: 0, Stdout: "running\nok\n"}}
	r := NewContainerRunner(ex, "harness", "run-test --iflow {iflow} --case {case} --category {category}")
	res, err := r.Execute(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, CasePassed, res.Status)
	assert.Equal(t, "ok", res.Message)
	assert.Equal(t, []string{"run-test", "--iflow", "if-low", "--case", "if-low/case-01", "--category", "security"}, ex.cmds[0])

	ex.res = ExecResult{ExitCode: SkipExitCode, Stdout: "no receiver in qa"}
	res, err = r.Execute(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, CaseSkipped, res.Status)

	ex.res = ExecResult{ExitCode: 2, Stderr: "expected 200 got 503\n"}
	res, err = r.Execute(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, CaseFailed, res.Status)
	assert.Equal(t, "exit code 2: expected 200 got 503", res.Message)

	ex.err = fmt.Errorf("no such container")
	_, err = r.Execute(context.Background(), tc)
	assert.Error(t, err)

	_, err = NewContainerRunner(ex, "harness", "  ").Execute(context.Background(), tc)
	assert.Error(t, err)
}
