// Package workflows drives a whole pipeline run as a gostage workflow, one
// gostage stage per pipeline stage
package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/davidroman0O/gostage"
	"github.com/davidroman0O/gostage/store"

	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/logging"
	"github.com/davidroman0O/iflowpipe/pipeline"
)

// Store keys
const (
	KeyPackages = "selection.packages"
	KeyIFlows   = "selection.iflows"
	KeyRunID    = "run.id"
)

// GateKey is the store key holding the gate result of a stage
func GateKey(stage pipeline.StageID) string {
	return "gate." + stage.String()
}

// Driver performs the action of every stage
type Driver interface {
	ID() string
	SelectPackages(ctx context.Context, ids []string) (pipeline.GateResult, error)
	SelectIFlows(ctx context.Context, ids []string) (pipeline.GateResult, error)
	Configure(ctx context.Context) (pipeline.GateResult, error)
	Validate(ctx context.Context) (pipeline.GateResult, error)
	ProbeDependencies(ctx context.Context) (pipeline.GateResult, error)
	Upload(ctx context.Context) (pipeline.GateResult, error)
	Deploy(ctx context.Context) (pipeline.GateResult, error)
	RunTests(ctx context.Context) (pipeline.GateResult, error)
}

// StageAction runs the operation of one pipeline stage and records its gate
type StageAction struct {
	gostage.BaseAction
	stage pipeline.StageID
	op    func(ctx context.Context, s *store.KVStore) (pipeline.GateResult, error)
}

// NewStageAction wraps op as the action of stage
func NewStageAction(stage pipeline.StageID, op func(ctx context.Context, s *store.KVStore) (pipeline.GateResult, error)) *StageAction {
	info := stage.Info()
	return &StageAction{
		BaseAction: gostage.NewBaseAction(info.Name, info.Description),
		stage:      stage,
		op:         op,
	}
}

// Execute implements the Action interface. A refused gate stops the workflow.
func (a *StageAction) Execute(ctx *gostage.ActionContext) error {
	res, err := a.op(ctx.GoContext, ctx.Store())
	if err != nil {
		return errors.WithOp(err, a.stage.String())
	}
	if err := ctx.Store().Put(GateKey(a.stage), res); err != nil {
		return err
	}
	if !res.Passed {
		return errors.WithContext(
			errors.Newf(errors.ErrStageNotReady, "%s gate refused: %s", a.stage, res.Reason),
			map[string]interface{}{"stage": int(a.stage), "blocking": res.Blocking})
	}
	ctx.Logger.Info("%s passed", a.stage)
	return nil
}

// CreatePipeline builds the eight stage workflow for a selection
func CreatePipeline(d Driver, packages, iflows []string) *gostage.Workflow {
	return CreatePipelineFrom(d, pipeline.FirstStage, packages, iflows)
}

// CreatePipelineFrom builds the workflow of the stages from `from` on, for a
// run whose earlier stages already passed
func CreatePipelineFrom(d Driver, from pipeline.StageID, packages, iflows []string) *gostage.Workflow {
	workflow := gostage.NewWorkflow(
		d.ID(),
		fmt.Sprintf("iFlow pipeline %s", d.ID()),
		fmt.Sprintf("Deploys %s from %s", strings.Join(iflows, ", "), strings.Join(packages, ", ")),
	)
	workflow.Store.Put(KeyPackages, packages)
	workflow.Store.Put(KeyIFlows, iflows)
	workflow.Store.Put(KeyRunID, d.ID())

	ops := map[pipeline.StageID]func(ctx context.Context, s *store.KVStore) (pipeline.GateResult, error){
		pipeline.StagePackages: func(ctx context.Context, s *store.KVStore) (pipeline.GateResult, error) {
			ids, err := store.Get[[]string](s, KeyPackages)
			if err != nil {
				return pipeline.GateResult{}, err
			}
			return d.SelectPackages(ctx, ids)
		},
		pipeline.StageIFlows: func(ctx context.Context, s *store.KVStore) (pipeline.GateResult, error) {
			ids, err := store.Get[[]string](s, KeyIFlows)
			if err != nil {
				return pipeline.GateResult{}, err
			}
			return d.SelectIFlows(ctx, ids)
		},
		pipeline.StageConfiguration: ignoreStore(d.Configure),
		pipeline.StageValidation:    ignoreStore(d.Validate),
		pipeline.StageDependencies:  ignoreStore(d.ProbeDependencies),
		pipeline.StageUpload:        ignoreStore(d.Upload),
		pipeline.StageDeployment:    ignoreStore(d.Deploy),
		pipeline.StageTests:         ignoreStore(d.RunTests),
	}

	for _, info := range pipeline.Stages() {
		if info.ID < from {
			continue
		}
		stage := gostage.NewStage(fmt.Sprintf("stage-%d", info.ID), info.Name, info.Description)
		stage.AddAction(NewStageAction(info.ID, ops[info.ID]))
		workflow.AddStage(stage)
	}
	return workflow
}

func ignoreStore(op func(ctx context.Context) (pipeline.GateResult, error)) func(context.Context, *store.KVStore) (pipeline.GateResult, error) {
	return func(ctx context.Context, _ *store.KVStore) (pipeline.GateResult, error) {
		return op(ctx)
	}
}

// Result is the outcome of a workflow run. Gates holds the gates of the
// stages from From on.
type Result struct {
	RunID    string
	From     pipeline.StageID
	Gates    []pipeline.GateResult
	Duration time.Duration
	Err      error
}

func (r Result) first() pipeline.StageID {
	if r.From < pipeline.FirstStage {
		return pipeline.FirstStage
	}
	return r.From
}

// Passed reports whether every stage it ran passed
func (r Result) Passed() bool {
	return r.Err == nil && len(r.Gates) == int(pipeline.LastStage-r.first())+1
}

// NewRunner returns a gostage runner that logs every workflow it executes
func NewRunner() *gostage.Runner {
	runner := gostage.NewRunner()
	runner.Use(func(next gostage.RunnerFunc) gostage.RunnerFunc {
		return func(ctx context.Context, w *gostage.Workflow, logger gostage.Logger) error {
			logger.Info("Starting workflow: %s", w.Name)
			start := time.Now()
			err := next(ctx, w, logger)
			if err != nil {
				logger.Error("Workflow %s stopped after %s: %v", w.Name, time.Since(start).Round(time.Millisecond), err)
				return err
			}
			logger.Info("Completed workflow: %s (%s)", w.Name, time.Since(start).Round(time.Millisecond))
			return nil
		}
	})
	return runner
}

// Run executes the pipeline workflow of a selection with runner
func Run(ctx context.Context, runner *gostage.Runner, d Driver, packages, iflows []string, logger logging.Logger) Result {
	return RunFrom(ctx, runner, d, pipeline.FirstStage, packages, iflows, logger)
}

// RunFrom executes the stages from `from` on, continuing a run whose
// earlier stages passed
func RunFrom(ctx context.Context, runner *gostage.Runner, d Driver, from pipeline.StageID, packages, iflows []string, logger logging.Logger) Result {
	logger = logging.OrNop(logger)
	if !from.Valid() {
		return Result{RunID: d.ID(), From: from, Err: errors.Newf(errors.ErrInvalidInput, "stage %d does not exist", from)}
	}
	workflow := CreatePipelineFrom(d, from, packages, iflows)

	start := time.Now()
	err := runner.Execute(ctx, workflow, logger)
	res := Result{RunID: d.ID(), From: from, Duration: time.Since(start), Err: err}
	for _, info := range pipeline.Stages() {
		if info.ID < from {
			continue
		}
		gate, gerr := store.Get[pipeline.GateResult](workflow.Store, GateKey(info.ID))
		if gerr != nil {
			break
		}
		res.Gates = append(res.Gates, gate)
	}
	return res
}

// FormatResult renders a result in plain text
func FormatResult(r Result) string {
	var b strings.Builder
	for _, g := range r.Gates {
		status := "PASSED"
		if !g.Passed {
			status = "REFUSED"
		}
		fmt.Fprintf(&b, "Stage %d: %s - %s\n", g.Stage, g.Stage, status)
		if g.Reason != "" {
			fmt.Fprintf(&b, "  Reason: %s\n", g.Reason)
		}
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "  Error: %v\n", r.Err)
	}
	// stages before From passed in an earlier invocation
	done := passed(r.Gates) + int(r.first()-pipeline.FirstStage)
	fmt.Fprintf(&b, "\nSummary: %d/%d stages passed in %s\n", done, pipeline.LastStage, r.Duration.Round(time.Millisecond))
	return b.String()
}

func passed(gates []pipeline.GateResult) int {
	n := 0
	for _, g := range gates {
		if g.Passed {
			n++
		}
	}
	return n
}
