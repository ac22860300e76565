package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/logging"
	"github.com/davidroman0O/iflowpipe/metrics"
)

// Run is one pipeline execution. It exclusively owns its accumulator.
type Run struct {
	id        string
	createdAt time.Time
	gates     gateOptions
	logger    logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu        sync.RWMutex
	current   StageID
	viewing   StageID
	completed map[StageID]bool
	finished  bool
	updatedAt time.Time
	acc       *accumulator
}

// Option configures a Run
type Option func(*Run)

// WithID overrides the generated run id
func WithID(id string) Option {
	return func(r *Run) {
		if id != "" {
			r.id = id
		}
	}
}

// WithRequirePassingTests makes the final gate refuse failed test cases
func WithRequirePassingTests(require bool) Option {
	return func(r *Run) {
		r.gates.requirePassingTests = require
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(r *Run) {
		r.logger = logging.OrNop(l)
	}
}

// WithMetrics records advances and refusals
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Run) {
		r.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Run) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRun starts a run at stage 1
func NewRun(opts ...Option) *Run {
	r := &Run{
		id:        "run-" + uuid.NewString(),
		logger:    logging.NewNop(),
		now:       time.Now,
		current:   FirstStage,
		viewing:   FirstStage,
		completed: make(map[StageID]bool),
		acc:       newAccumulator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.createdAt = r.now()
	r.updatedAt = r.createdAt
	return r
}

// ID returns the run id
func (r *Run) ID() string {
	return r.id
}

// Current returns the stage the run is waiting on
func (r *Run) Current() StageID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Viewing returns the stage currently displayed
func (r *Run) Viewing() StageID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewing
}

// Finished reports whether the final stage was completed
func (r *Run) Finished() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finished
}

// Completed returns the completed stages in order
func (r *Run) Completed() []StageID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completedLocked()
}

func (r *Run) completedLocked() []StageID {
	out := make([]StageID, 0, len(r.completed))
	for s := range r.completed {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsCompleted reports whether s was completed
func (r *Run) IsCompleted(s StageID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completed[s]
}

// Advance merges the payload of stage and evaluates its gate. Calling it
// for any stage other than the current one is a programming error and
// panics with a contract violation.
func (r *Run) Advance(stage StageID, p Payload) GateResult {
	r.mu.Lock()
	if stage != r.current {
		current := r.current
		r.mu.Unlock()
		panic(errors.WithContext(
			errors.Newf(errors.ErrContractViolation, "advance called for stage %d while stage %d is current", stage, current),
			map[string]interface{}{"run": r.id, "stage": int(stage), "current": int(current)}))
	}

	if err := r.acc.merge(p); err != nil {
		r.mu.Unlock()
		r.logger.Error("run %s: %v", r.id, err)
		return refuse(stage, 0, "%v", err)
	}
	v, err := r.acc.view()
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("run %s: %v", r.id, err)
		return refuse(stage, 0, "%v", err)
	}

	res := evaluateGate(stage, v, r.gates)
	r.updatedAt = r.now()
	if res.Passed {
		if stage == LastStage {
			r.finished = true
		} else {
			r.completed[stage] = true
			r.current = stage + 1
		}
		r.viewing = r.current
	}
	r.mu.Unlock()

	if res.Passed {
		r.metrics.StageAdvanced(stage.String())
		if stage == LastStage {
			r.logger.Info("run %s finished", r.id)
		} else {
			r.logger.Info("run %s: %s passed, now at %s", r.id, stage, stage+1)
		}
	} else {
		r.metrics.GateRefused(stage.String())
		r.logger.Warn("run %s: %s gate refused: %s", r.id, stage, res.Reason)
	}
	return res
}

// Merge updates the accumulator without evaluating a gate, e.g. to record
// progress of a stage that is still running.
func (r *Run) Merge(stage StageID, p Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stage != r.current {
		return errors.Newf(errors.ErrStageNotReady, "stage %d is not current", stage)
	}
	if err := r.acc.merge(p); err != nil {
		return err
	}
	r.updatedAt = r.now()
	return nil
}

// Check evaluates the gate of the current stage without merging anything
func (r *Run) Check() (GateResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, err := r.acc.view()
	if err != nil {
		return GateResult{}, err
	}
	return evaluateGate(r.current, v, r.gates), nil
}

// NavigateTo changes the viewed stage. Only the current stage and
// completed stages are reachable; nothing is re-executed.
func (r *Run) NavigateTo(stage StageID) error {
	if !stage.Valid() {
		return errors.Newf(errors.ErrInvalidInput, "stage %d does not exist", stage)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if stage > r.current && !r.completed[stage] {
		return errors.WithContext(
			errors.Newf(errors.ErrStageNotReady, "stage %s is not reachable yet", stage),
			map[string]interface{}{"current": int(r.current)})
	}
	r.viewing = stage
	r.logger.Debug("run %s: viewing %s", r.id, stage)
	return nil
}

// View returns a read-only copy of the accumulator
func (r *Run) View() (View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.acc.view()
}
