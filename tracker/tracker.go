package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/logging"
	"github.com/davidroman0O/iflowpipe/metrics"
)

const closedWithoutOutcome = "progress stream closed without a terminal event"

// Tracker exclusively owns a unit set for one stage activation
type Tracker struct {
	kind        string
	runner      Runner
	concurrency int
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	observers   []Observer
	saved       []Unit

	mu      sync.Mutex
	order   []string
	units   map[string]*Unit
	initial map[string]string

	notifyMu sync.Mutex
}

// Option configures a Tracker
type Option func(*Tracker)

// WithConcurrency bounds how many units run at once
func WithConcurrency(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) {
		t.logger = logging.OrNop(l)
	}
}

// WithMetrics records unit transitions
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithObserver registers a transition observer
func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		if o != nil {
			t.observers = append(t.observers, o)
		}
	}
}

// WithState restores units saved by an earlier activation. Saved units
// that were completed or failed keep their outcome, the others start over
// as pending with their attempt count. Unknown IDs are ignored.
func WithState(saved []Unit) Option {
	return func(t *Tracker) {
		t.saved = append(t.saved, saved...)
	}
}

// New creates a tracker over units, all reset to pending unless restored
// with WithState
func New(kind string, units []Unit, runner Runner, opts ...Option) (*Tracker, error) {
	if runner == nil {
		return nil, errors.New(errors.ErrInvalidInput, "tracker needs a runner")
	}
	t := &Tracker{
		kind:        kind,
		runner:      runner,
		concurrency: 4,
		logger:      logging.NewNop(),
		now:         time.Now,
		units:       make(map[string]*Unit, len(units)),
		initial:     make(map[string]string, len(units)),
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, u := range units {
		if u.ID == "" {
			return nil, errors.Newf(errors.ErrInvalidInput, "%s unit without id", kind)
		}
		if _, dup := t.units[u.ID]; dup {
			return nil, errors.Newf(errors.ErrInvalidInput, "duplicate %s unit %s", kind, u.ID)
		}
		u := u
		u.Kind = kind
		u.Status = StatusPending
		u.Progress = 0
		u.ErrorReason = ""
		u.Attempts = 0
		u.StartedAt = time.Time{}
		u.FinishedAt = time.Time{}
		t.units[u.ID] = &u
		t.initial[u.ID] = u.Phase
		t.order = append(t.order, u.ID)
	}

	restored := 0
	for _, saved := range t.saved {
		u, ok := t.units[saved.ID]
		if !ok {
			continue
		}
		u.Attempts = saved.Attempts
		if !saved.Status.Terminal() {
			continue
		}
		u.Status = saved.Status
		u.Phase = saved.Phase
		u.Progress = saved.Progress
		u.ErrorReason = saved.ErrorReason
		u.StartedAt = saved.StartedAt
		u.FinishedAt = saved.FinishedAt
		restored++
	}
	if restored > 0 {
		t.logger.Info("restored %d settled %s units", restored, kind)
	}
	return t, nil
}

// Kind returns the unit kind this tracker drives
func (t *Tracker) Kind() string {
	return t.kind
}

// RunAll runs every pending unit and blocks until they are terminal.
// A unit failure never aborts its siblings. Units not yet started when
// ctx is cancelled stay pending.
func (t *Tracker) RunAll(ctx context.Context) (Stats, error) {
	t.mu.Lock()
	var ids []string
	for _, id := range t.order {
		if t.units[id].Status == StatusPending {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	t.logger.Info("running %d %s units (concurrency %d)", len(ids), t.kind, t.concurrency)

	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			u, ok := t.claim(id, StatusPending)
			if !ok {
				return nil
			}
			t.execute(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	stats := t.Stats()
	if err := ctx.Err(); err != nil {
		return stats, errors.WithOp(errors.FromContext(err), "tracker.RunAll")
	}
	t.logger.Info("%s units settled: %d completed, %d failed", t.kind, stats.Completed, stats.Failed)
	return stats, nil
}

// Retry re-runs one unit. Completed units are left untouched, running
// units yield ErrUnitBusy. It blocks until the unit is terminal again.
func (t *Tracker) Retry(ctx context.Context, id string) (Unit, error) {
	t.mu.Lock()
	u, ok := t.units[id]
	if !ok {
		t.mu.Unlock()
		return Unit{}, errors.Newf(errors.ErrNotFound, "%s unit %s not found", t.kind, id)
	}
	status := u.Status
	snapshot := *u
	t.mu.Unlock()

	switch status {
	case StatusCompleted:
		return snapshot, nil
	case StatusRunning:
		return snapshot, errors.WithContext(
			errors.Newf(errors.ErrUnitBusy, "%s unit %s is running", t.kind, id),
			map[string]interface{}{"unit": id})
	}

	if err := ctx.Err(); err != nil {
		return snapshot, errors.FromContext(err)
	}

	claimed, ok := t.claim(id, status)
	if !ok {
		current, _ := t.Unit(id)
		if current.Status == StatusCompleted {
			return current, nil
		}
		return current, errors.Newf(errors.ErrUnitBusy, "%s unit %s is running", t.kind, id)
	}
	if status == StatusFailed {
		t.logger.Info("retrying %s unit %s (attempt %d)", t.kind, id, claimed.Attempts)
	}
	return t.execute(ctx, claimed), nil
}

// RetryAllFailed re-runs only the units currently failed
func (t *Tracker) RetryAllFailed(ctx context.Context) (Stats, error) {
	t.mu.Lock()
	var ids []string
	for _, id := range t.order {
		if t.units[id].Status == StatusFailed {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := t.Retry(ctx, id)
			if errors.GetCode(err) == errors.ErrUnitBusy {
				return nil
			}
			return err
		})
	}
	err := g.Wait()

	stats := t.Stats()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stats, errors.WithOp(errors.FromContext(ctxErr), "tracker.RetryAllFailed")
	}
	return stats, err
}

// claim moves a unit from `from` to running and starts a new attempt
func (t *Tracker) claim(id string, from Status) (Unit, bool) {
	t.mu.Lock()
	u := t.units[id]
	if u.Status != from {
		t.mu.Unlock()
		return Unit{}, false
	}
	u.Status = StatusRunning
	u.Phase = t.initial[id]
	u.Progress = 0
	u.ErrorReason = ""
	u.Attempts++
	u.StartedAt = t.now()
	u.FinishedAt = time.Time{}
	snapshot := *u
	stats := t.statsLocked()
	t.mu.Unlock()

	t.metrics.UnitTransition(t.kind, string(StatusRunning))
	t.notify(Transition{Unit: snapshot, Stats: stats})
	return snapshot, true
}

// execute drains the runner stream and leaves the unit terminal
func (t *Tracker) execute(ctx context.Context, u Unit) Unit {
	events := t.runner.Start(ctx, u)
	terminal := false
	last := u

	if events != nil {
		for ev := range events {
			if terminal {
				continue
			}
			last, terminal = t.apply(u.ID, ev)
		}
	}

	if !terminal {
		last, _ = t.apply(u.ID, Event{Outcome: OutcomeFailed, Reason: closedWithoutOutcome})
	}
	return last
}

func (t *Tracker) apply(id string, ev Event) (Unit, bool) {
	t.mu.Lock()
	u := t.units[id]
	changed := false

	if ev.Phase != "" && ev.Phase != u.Phase {
		u.Phase = ev.Phase
		changed = true
	}
	p := ev.Progress
	if p > 100 {
		p = 100
	}
	if p > u.Progress {
		u.Progress = p
		changed = true
	}

	terminal := false
	switch ev.Outcome {
	case OutcomeSucceeded:
		u.Status = StatusCompleted
		u.Progress = 100
		terminal = true
	case OutcomeFailed:
		u.Status = StatusFailed
		u.ErrorReason = ev.Reason
		if u.ErrorReason == "" {
			u.ErrorReason = "unit failed"
		}
		terminal = true
	}
	if terminal {
		u.FinishedAt = t.now()
		changed = true
	}

	snapshot := *u
	stats := t.statsLocked()
	t.mu.Unlock()

	if ev.Message != "" {
		t.logger.Debug("%s unit %s: %s", t.kind, id, ev.Message)
	}
	if terminal {
		t.metrics.UnitTransition(t.kind, string(snapshot.Status))
		t.metrics.UnitFinished(t.kind, string(snapshot.Status), snapshot.FinishedAt.Sub(snapshot.StartedAt))
		if snapshot.Status == StatusFailed {
			t.logger.Warn("%s unit %s failed: %s", t.kind, id, snapshot.ErrorReason)
		} else {
			t.logger.Debug("%s unit %s completed (%.0f%% overall)", t.kind, id, stats.Progress)
		}
	}
	if changed {
		t.notify(Transition{Unit: snapshot, Stats: stats})
	}
	return snapshot, terminal
}

func (t *Tracker) notify(tr Transition) {
	if len(t.observers) == 0 {
		return
	}
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	for _, o := range t.observers {
		o(tr)
	}
}

// Stats returns the current aggregate
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

func (t *Tracker) statsLocked() Stats {
	units := make([]Unit, 0, len(t.order))
	for _, id := range t.order {
		units = append(units, *t.units[id])
	}
	return Aggregate(units)
}

// Settled reports whether every unit is terminal
func (t *Tracker) Settled() bool {
	return t.Stats().Settled()
}

// Units returns a snapshot of every unit in creation order
func (t *Tracker) Units() []Unit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Unit, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.units[id])
	}
	return out
}

// Unit returns a snapshot of one unit
func (t *Tracker) Unit(id string) (Unit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.units[id]
	if !ok {
		return Unit{}, errors.Newf(errors.ErrNotFound, "%s unit %s not found", t.kind, id)
	}
	return *u, nil
}

// Groups aggregates units per owner iFlow, sorted by owner
func (t *Tracker) Groups() []Group {
	return groupUnits(t.Units())
}

// Summary snapshots the tracker for the pipeline accumulator
func (t *Tracker) Summary() Summary {
	units := t.Units()
	return Summary{
		Kind:   t.kind,
		Stats:  Aggregate(units),
		Groups: groupUnits(units),
		Units:  units,
	}
}

func groupUnits(units []Unit) []Group {
	byOwner := make(map[string][]Unit)
	for _, u := range units {
		byOwner[u.OwnerIFlowID] = append(byOwner[u.OwnerIFlowID], u)
	}
	out := make([]Group, 0, len(byOwner))
	for owner, us := range byOwner {
		out = append(out, Group{OwnerIFlowID: owner, Stats: Aggregate(us)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerIFlowID < out[j].OwnerIFlowID })
	return out
}
