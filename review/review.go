// Package review runs standalone design reviews as cancellable background jobs
package review

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/logging"
	"github.com/davidroman0O/iflowpipe/metrics"
	"github.com/davidroman0O/iflowpipe/report"
	"github.com/davidroman0O/iflowpipe/rules"
)

// Status of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the job can no longer change
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Params selects what a job reviews
type Params struct {
	PackageIDs  []string `json:"packageIds" yaml:"packageIds"`
	IFlowIDs    []string `json:"iflowIds" yaml:"iflowIds"`
	Environment string   `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// Job is a snapshot of one review job
type Job struct {
	ID              string    `json:"id" yaml:"id"`
	Params          Params    `json:"params" yaml:"params"`
	Status          Status    `json:"status" yaml:"status"`
	Progress        int       `json:"progress" yaml:"progress"`
	CompletedIFlows int       `json:"completedIflows" yaml:"completedIflows"`
	TotalIFlows     int       `json:"totalIflows" yaml:"totalIflows"`
	Logs            []string  `json:"logs" yaml:"logs"`
	ResultFile      string    `json:"resultFile,omitempty" yaml:"resultFile,omitempty"`
	Error           string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt" yaml:"createdAt"`
	CompletedAt     time.Time `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
}

type entry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
	report *report.Report
}

// Manager owns review jobs
type Manager struct {
	catalog  catalog.Provider
	rules    rules.CatalogProvider
	engine   *rules.Engine
	exporter *report.Exporter
	logger   logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu   sync.Mutex
	jobs map[string]*entry
}

// Option configures a Manager
type Option func(*Manager)

// WithExporter writes the result of every completed job
func WithExporter(e *report.Exporter) Option {
	return func(m *Manager) {
		m.exporter = e
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.OrNop(l)
	}
}

// WithMetrics counts jobs by final status
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a job manager reviewing iFlows of cat against rs
func NewManager(cat catalog.Provider, rs rules.CatalogProvider, ev rules.Evaluator, opts ...Option) (*Manager, error) {
	if cat == nil || rs == nil || ev == nil {
		return nil, errors.New(errors.ErrConfiguration, "review manager needs a catalog, rules and an evaluator")
	}
	m := &Manager{
		catalog: cat,
		rules:   rs,
		logger:  logging.NewNop(),
		now:     time.Now,
		jobs:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.engine = rules.NewEngine(rs, ev, rules.WithLogger(m.logger))
	return m, nil
}

// Submit resolves the selection and starts a job. The job outlives ctx;
// stop it with Cancel.
func (m *Manager) Submit(ctx context.Context, p Params) (string, error) {
	if len(p.IFlowIDs) == 0 {
		return "", errors.New(errors.ErrInvalidInput, "a review needs at least one iflow")
	}
	iflows, err := catalog.Lookup(ctx, m.catalog, p.PackageIDs, p.IFlowIDs)
	if err != nil {
		return "", errors.WithOp(err, "review.Submit")
	}

	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{
		job: Job{
			ID:          "job-" + uuid.NewString(),
			Params:      p,
			Status:      StatusPending,
			TotalIFlows: len(iflows),
			Logs:        []string{},
			CreatedAt:   m.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[e.job.ID] = e
	m.mu.Unlock()

	m.logger.Info("review %s submitted for %d iflows", e.job.ID, len(iflows))
	go m.run(jctx, e, iflows)
	return e.job.ID, nil
}

func (m *Manager) run(ctx context.Context, e *entry, iflows []catalog.IFlow) {
	defer close(e.done)
	defer e.cancel()

	if !m.update(e, func(j *Job) {
		j.Status = StatusRunning
		j.Logs = append(j.Logs, fmt.Sprintf("reviewing %d iflows", len(iflows)))
	}) {
		return
	}

	ruleSet, err := m.rules.ListRules(ctx)
	if err != nil {
		m.fail(ctx, e, err)
		return
	}

	var results []rules.Result
	ids := make([]string, 0, len(iflows))
	for i, f := range iflows {
		s, err := m.engine.Run(ctx, []catalog.IFlow{f})
		if err != nil {
			m.fail(ctx, e, err)
			return
		}
		results = append(results, s.Results...)
		ids = append(ids, f.ID)
		score := s.IFlows[f.ID]
		if !m.update(e, func(j *Job) {
			j.CompletedIFlows = i + 1
			j.Progress = (i + 1) * 99 / len(iflows)
			j.Logs = append(j.Logs, fmt.Sprintf("%s: %.1f%% (%d passed, %d warnings, %d failed)",
				f.ID, score.Score, score.Passed, score.Warnings, score.Failed))
		}) {
			return
		}
	}

	summary := rules.Summarize(results, ruleSet, ids)
	sel := report.Selection{
		Environment: e.job.Params.Environment,
		Packages:    append([]string{}, e.job.Params.PackageIDs...),
		IFlows:      ids,
	}
	rep := report.Review(e.job.ID, sel, summary, m.now())

	var path string
	if m.exporter != nil {
		if path, err = m.exporter.Export(e.job.ID+"-review", rep); err != nil {
			m.fail(ctx, e, err)
			return
		}
	}

	if !m.update(e, func(j *Job) {
		e.report = &rep
		j.Status = StatusCompleted
		j.Progress = 100
		j.ResultFile = path
		j.CompletedAt = m.now()
		j.Logs = append(j.Logs, fmt.Sprintf("overall compliance %.1f%%", summary.Overall))
	}) {
		// cancelled while exporting; a cancelled job has no result file
		if path != "" {
			if err := m.exporter.Remove(path); err != nil {
				m.logger.Warn("review %s: %v", e.job.ID, err)
			}
		}
		return
	}
	m.metrics.ReviewJob(string(StatusCompleted))
	m.logger.Info("review %s completed: overall %.1f%%", e.job.ID, summary.Overall)
}

func (m *Manager) fail(ctx context.Context, e *entry, err error) {
	if ctx.Err() != nil || errors.IsCancelled(err) {
		// Cancel already recorded the final status
		return
	}
	m.update(e, func(j *Job) {
		j.Status = StatusFailed
		j.Error = err.Error()
		j.CompletedAt = m.now()
		j.Logs = append(j.Logs, "failed: "+err.Error())
	})
	m.metrics.ReviewJob(string(StatusFailed))
	m.logger.Error("review %s failed: %v", e.job.ID, err)
}

// update applies fn unless the job already reached a final status
func (m *Manager) update(e *entry, fn func(*Job)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.job.Status.Terminal() {
		return false
	}
	fn(&e.job)
	return true
}

// Get returns a copy of a job
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, errors.Newf(errors.ErrNotFound, "job %s not found", id)
	}
	return e.job.clone(), nil
}

// List returns every job, oldest first
func (m *Manager) List() []Job {
	m.mu.Lock()
	out := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job.clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel stops a pending or running job. It returns false for unknown or
// finished jobs.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.job.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	e.job.Status = StatusCancelled
	e.job.CompletedAt = m.now()
	e.job.Logs = append(e.job.Logs, "cancelled")
	m.mu.Unlock()

	e.cancel()
	m.metrics.ReviewJob(string(StatusCancelled))
	m.logger.Warn("review %s cancelled", id)
	return true
}

// Delete cancels the job if needed, waits for it and forgets it
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	e, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return errors.Newf(errors.ErrNotFound, "job %s not found", id)
	}
	m.Cancel(id)
	<-e.done

	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
	return nil
}

// Wait blocks until the job goroutine returned or ctx is done
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Job{}, errors.Newf(errors.ErrNotFound, "job %s not found", id)
	}
	select {
	case <-e.done:
		return m.Get(id)
	case <-ctx.Done():
		return Job{}, errors.FromContext(ctx.Err())
	}
}

// Report returns the result of a completed job
func (m *Manager) Report(id string) (report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return report.Report{}, errors.Newf(errors.ErrNotFound, "job %s not found", id)
	}
	if e.report == nil {
		return report.Report{}, errors.Newf(errors.ErrInvalidInput, "job %s is %s and has no report", id, e.job.Status)
	}
	return *e.report, nil
}

func (j Job) clone() Job {
	j.Logs = append([]string(nil), j.Logs...)
	j.Params.PackageIDs = append([]string(nil), j.Params.PackageIDs...)
	j.Params.IFlowIDs = append([]string(nil), j.Params.IFlowIDs...)
	return j
}
