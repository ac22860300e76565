package iflowpipe

import (
	"context"
	"sort"
	"time"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/dependencies"
	"github.com/davidroman0O/iflowpipe/deploy"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/logging"
	"github.com/davidroman0O/iflowpipe/params"
	"github.com/davidroman0O/iflowpipe/pipeline"
	"github.com/davidroman0O/iflowpipe/report"
	"github.com/davidroman0O/iflowpipe/rules"
	"github.com/davidroman0O/iflowpipe/testrun"
	"github.com/davidroman0O/iflowpipe/tracker"
	"github.com/davidroman0O/iflowpipe/upload"
	"github.com/davidroman0O/iflowpipe/workflows"
)

// at refuses operations that do not belong to the current stage
func (s *Session) at(stage pipeline.StageID) error {
	if s.run.Finished() {
		return errors.Newf(errors.ErrStageNotReady, "run %s is finished", s.run.ID())
	}
	if current := s.run.Current(); current != stage {
		return errors.WithContext(
			errors.Newf(errors.ErrStageNotReady, "%s is not the current stage", stage),
			map[string]interface{}{"current": current.String()})
	}
	return nil
}

// advance hands the payload to the run and persists the state
func (s *Session) advance(stage pipeline.StageID, p pipeline.Payload) (pipeline.GateResult, error) {
	res := s.run.Advance(stage, p)
	if err := s.persist(); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Session) merge(stage pipeline.StageID, p pipeline.Payload) error {
	if err := s.run.Merge(stage, p); err != nil {
		return err
	}
	return s.persist()
}

func (s *Session) persist() error {
	if s.repo == nil {
		return nil
	}
	snap, err := s.run.Snapshot()
	if err != nil {
		return err
	}
	return s.repo.Save(snap)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// selection returns the selected iFlows
func (s *Session) selection() []catalog.IFlow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iflows
}

func (s *Session) selectedIDs() []string {
	return idsOf(s.selection())
}

func idsOf(flows []catalog.IFlow) []string {
	ids := make([]string, len(flows))
	for i, f := range flows {
		ids[i] = f.ID
	}
	return ids
}

// Packages lists the selectable packages
func (s *Session) Packages(ctx context.Context) ([]catalog.Package, error) {
	return s.catalog.ListPackages(ctx)
}

// IFlows lists the iFlows of the selected packages, or of packageIDs when given
func (s *Session) IFlows(ctx context.Context, packageIDs ...string) ([]catalog.IFlow, error) {
	if len(packageIDs) == 0 {
		v, err := s.run.View()
		if err != nil {
			return nil, err
		}
		packageIDs = v.SelectedPackages
	}
	return s.catalog.ListIFlowsForPackages(ctx, packageIDs)
}

// SelectPackages completes stage 1
func (s *Session) SelectPackages(ctx context.Context, ids []string) (pipeline.GateResult, error) {
	if err := s.at(pipeline.StagePackages); err != nil {
		return pipeline.GateResult{}, err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return pipeline.GateResult{}, errors.New(errors.ErrInvalidInput, "select at least one package")
	}
	// resolves every id or fails with ErrNotFound
	if _, err := s.catalog.ListIFlowsForPackages(ctx, ids); err != nil {
		return pipeline.GateResult{}, errors.WithOp(err, "SelectPackages")
	}
	return s.advance(pipeline.StagePackages, pipeline.Payload{SelectedPackages: ids})
}

// SelectIFlows completes stage 2; every iFlow must belong to a selected package
func (s *Session) SelectIFlows(ctx context.Context, ids []string) (pipeline.GateResult, error) {
	if err := s.at(pipeline.StageIFlows); err != nil {
		return pipeline.GateResult{}, err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return pipeline.GateResult{}, errors.New(errors.ErrInvalidInput, "select at least one iflow")
	}
	v, err := s.run.View()
	if err != nil {
		return pipeline.GateResult{}, err
	}
	flows, err := catalog.Lookup(ctx, s.catalog, v.SelectedPackages, ids)
	if err != nil {
		return pipeline.GateResult{}, errors.WithOp(err, "SelectIFlows")
	}

	s.mu.Lock()
	s.iflows = flows
	s.mu.Unlock()
	return s.advance(pipeline.StageIFlows, pipeline.Payload{SelectedIFlows: ids})
}

// Params returns the parameters of the selected iFlows, secrets masked
func (s *Session) Params(ctx context.Context) ([]params.ConfigParam, error) {
	return s.params.GetConfigParams(ctx, s.selectedIDs(), s.cfg.Environment)
}

// SetParam overwrites one parameter of a selected iFlow. Edits are accepted
// from configuration until deployment passed its gate; past configuration
// the recorded configuration is refreshed.
func (s *Session) SetParam(ctx context.Context, id, value string) error {
	current := s.run.Current()
	if s.run.Finished() || current < pipeline.StageConfiguration || current > pipeline.StageDeployment {
		return errors.WithContext(
			errors.Newf(errors.ErrStageNotReady, "parameters can only be edited from %s to %s",
				pipeline.StageConfiguration, pipeline.StageDeployment),
			map[string]interface{}{"current": current.String()})
	}
	ids := s.selectedIDs()
	if len(ids) == 0 {
		return errors.New(errors.ErrStageNotReady, "select iflows before editing parameters")
	}
	// seeds the parameter set so id can be resolved
	if _, err := s.params.GetConfigParams(ctx, ids, s.cfg.Environment); err != nil {
		return err
	}
	if err := s.params.Set(ctx, id, value); err != nil {
		return err
	}
	if current == pipeline.StageConfiguration {
		return nil
	}
	c, err := s.configuration(ctx, ids)
	if err != nil {
		return err
	}
	return s.merge(current, pipeline.Payload{Configuration: c})
}

func (s *Session) configuration(ctx context.Context, ids []string) (*pipeline.Configuration, error) {
	ps, err := s.params.GetConfigParams(ctx, ids, s.cfg.Environment)
	if err != nil {
		return nil, err
	}
	missing, err := s.params.Missing(ctx, ids, s.cfg.Environment)
	if err != nil {
		return nil, err
	}
	return &pipeline.Configuration{
		Environment: s.cfg.Environment,
		Params:      ps,
		Missing:     missing,
	}, nil
}

// Configure completes stage 3. Missing required parameters are reported
// but do not block.
func (s *Session) Configure(ctx context.Context) (pipeline.GateResult, error) {
	if err := s.at(pipeline.StageConfiguration); err != nil {
		return pipeline.GateResult{}, err
	}
	c, err := s.configuration(ctx, s.selectedIDs())
	if err != nil {
		return pipeline.GateResult{}, err
	}
	if len(c.Missing) > 0 {
		s.logger.Warn("%d required parameters have no value in %s", len(c.Missing), s.cfg.Environment)
	}
	return s.advance(pipeline.StageConfiguration, pipeline.Payload{Configuration: c})
}

// Validate runs the rule engine over the selection (stage 4). It may be
// called again after a refusal.
func (s *Session) Validate(ctx context.Context) (pipeline.GateResult, error) {
	if err := s.at(pipeline.StageValidation); err != nil {
		return pipeline.GateResult{}, err
	}
	engine := rules.NewEngine(s.rules, s.evaluator,
		rules.WithConcurrency(s.cfg.Tracker.Concurrency),
		rules.WithLogger(logging.Named(s.logger, "rules")))
	summary, err := engine.Run(ctx, s.selection())
	if err != nil {
		return pipeline.GateResult{}, err
	}
	return s.advance(pipeline.StageValidation, pipeline.Payload{Validation: &summary})
}

func (s *Session) dependencyProber(ctx context.Context) (*dependencies.Prober, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prober != nil {
		return s.prober, nil
	}
	provider := s.depProvider
	if provider == nil {
		provider = dependencies.NewCatalogProvider(s.iflows, s.checker)
	}
	p, err := dependencies.NewProber(ctx, provider, idsOf(s.iflows),
		dependencies.WithConcurrency(s.cfg.Tracker.Concurrency),
		dependencies.WithRate(s.cfg.Probe.RatePerSecond, s.cfg.Probe.Burst),
		dependencies.WithTimeout(s.cfg.Probe.Timeout),
		dependencies.WithLogger(logging.Named(s.logger, "dependencies")),
		dependencies.WithMetrics(s.metrics))
	if err != nil {
		return nil, err
	}
	s.prober = p
	return p, nil
}

func dependencyPayload(p *dependencies.Prober) pipeline.Payload {
	return pipeline.Payload{Dependencies: &pipeline.DependencyCheck{
		Dependencies: p.Dependencies(),
		Summary:      p.Summary(),
	}}
}

// ProbeDependencies probes every dependency of the selection (stage 5)
func (s *Session) ProbeDependencies(ctx context.Context) (pipeline.GateResult, error) {
	if err := s.at(pipeline.StageDependencies); err != nil {
		return pipeline.GateResult{}, err
	}
	p, err := s.dependencyProber(ctx)
	if err != nil {
		return pipeline.GateResult{}, err
	}
	if _, err := p.ProbeAll(ctx); err != nil {
		return pipeline.GateResult{}, err
	}
	return s.advance(pipeline.StageDependencies, dependencyPayload(p))
}

// TestDependency re-probes one dependency and records the result
func (s *Session) TestDependency(ctx context.Context, id string) (dependencies.Dependency, error) {
	if err := s.at(pipeline.StageDependencies); err != nil {
		return dependencies.Dependency{}, err
	}
	p, err := s.dependencyProber(ctx)
	if err != nil {
		return dependencies.Dependency{}, err
	}
	d, err := p.Test(ctx, id)
	if err != nil {
		return d, err
	}
	return d, s.merge(pipeline.StageDependencies, dependencyPayload(p))
}

func (s *Session) uploadTracker() (*tracker.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploads == nil {
		opts := s.trackerOptions("upload")
		if saved := s.restored.Upload; saved != nil {
			opts = append(opts, tracker.WithState(saved.Units))
		}
		t, err := upload.NewTracker(s.iflows, s.transport, s.source, opts...)
		if err != nil {
			return nil, err
		}
		s.uploads = t
	}
	return s.uploads, nil
}

func (s *Session) deployTracker() (*tracker.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deploys == nil {
		opts := s.trackerOptions("deploy")
		if saved := s.restored.Deployment; saved != nil {
			opts = append(opts, tracker.WithState(saved.Units))
		}
		t, err := deploy.NewTracker(s.iflows, s.deployer, s.params, s.cfg.Environment, opts...)
		if err != nil {
			return nil, err
		}
		s.deploys = t
	}
	return s.deploys, nil
}

func (s *Session) testExecution() (*testrun.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tests == nil {
		opts := s.trackerOptions("testrun")
		if saved := s.restored.Tests; saved != nil {
			opts = append(opts, tracker.WithState(testrun.UnitsFromReport(*saved)))
		}
		x, err := testrun.NewExecution(s.iflows, s.testRunner, opts...)
		if err != nil {
			return nil, err
		}
		s.tests = x
	}
	return s.tests, nil
}

func summaryPayload(stage pipeline.StageID, t *tracker.Tracker) pipeline.Payload {
	sum := t.Summary()
	if stage == pipeline.StageUpload {
		return pipeline.Payload{Upload: &sum}
	}
	return pipeline.Payload{Deployment: &sum}
}

// runUnits runs the pending units of a stage tracker and evaluates its gate
func (s *Session) runUnits(ctx context.Context, stage pipeline.StageID, get func() (*tracker.Tracker, error)) (pipeline.GateResult, error) {
	if err := s.at(stage); err != nil {
		return pipeline.GateResult{}, err
	}
	t, err := get()
	if err != nil {
		return pipeline.GateResult{}, err
	}
	if _, err := t.RunAll(ctx); err != nil {
		// keep what finished before the cancellation
		_ = s.merge(stage, summaryPayload(stage, t))
		return pipeline.GateResult{}, err
	}
	return s.advance(stage, summaryPayload(stage, t))
}

func (s *Session) retryUnit(ctx context.Context, stage pipeline.StageID, get func() (*tracker.Tracker, error), id string) (tracker.Unit, error) {
	if err := s.at(stage); err != nil {
		return tracker.Unit{}, err
	}
	t, err := get()
	if err != nil {
		return tracker.Unit{}, err
	}
	u, err := t.Retry(ctx, id)
	if err != nil {
		return u, err
	}
	return u, s.merge(stage, summaryPayload(stage, t))
}

func (s *Session) retryAll(ctx context.Context, stage pipeline.StageID, get func() (*tracker.Tracker, error)) (pipeline.GateResult, error) {
	if err := s.at(stage); err != nil {
		return pipeline.GateResult{}, err
	}
	t, err := get()
	if err != nil {
		return pipeline.GateResult{}, err
	}
	if _, err := t.RetryAllFailed(ctx); err != nil {
		_ = s.merge(stage, summaryPayload(stage, t))
		return pipeline.GateResult{}, err
	}
	return s.advance(stage, summaryPayload(stage, t))
}

// Upload transfers every artifact of the selection (stage 6)
func (s *Session) Upload(ctx context.Context) (pipeline.GateResult, error) {
	return s.runUnits(ctx, pipeline.StageUpload, s.uploadTracker)
}

// RetryUpload re-runs one failed upload unit
func (s *Session) RetryUpload(ctx context.Context, unitID string) (tracker.Unit, error) {
	return s.retryUnit(ctx, pipeline.StageUpload, s.uploadTracker, unitID)
}

// RetryAllUploads re-runs every failed upload unit and re-evaluates the gate
func (s *Session) RetryAllUploads(ctx context.Context) (pipeline.GateResult, error) {
	return s.retryAll(ctx, pipeline.StageUpload, s.uploadTracker)
}

// UploadUnits returns the upload units, empty before stage 6 ran
func (s *Session) UploadUnits() []tracker.Unit {
	s.mu.Lock()
	t := s.uploads
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Units()
}

// Deploy deploys and starts every selected iFlow (stage 7)
func (s *Session) Deploy(ctx context.Context) (pipeline.GateResult, error) {
	return s.runUnits(ctx, pipeline.StageDeployment, s.deployTracker)
}

// RetryDeploy re-runs deploy and start for one iFlow
func (s *Session) RetryDeploy(ctx context.Context, iflowID string) (tracker.Unit, error) {
	return s.retryUnit(ctx, pipeline.StageDeployment, s.deployTracker, deploy.UnitID(iflowID))
}

// RetryAllDeploys re-runs every failed deployment and re-evaluates the gate
func (s *Session) RetryAllDeploys(ctx context.Context) (pipeline.GateResult, error) {
	return s.retryAll(ctx, pipeline.StageDeployment, s.deployTracker)
}

// DeployUnits returns the deployment units, empty before stage 7 ran
func (s *Session) DeployUnits() []tracker.Unit {
	s.mu.Lock()
	t := s.deploys
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Units()
}

// RunTests executes every planned test case (stage 8)
func (s *Session) RunTests(ctx context.Context) (pipeline.GateResult, error) {
	if err := s.at(pipeline.StageTests); err != nil {
		return pipeline.GateResult{}, err
	}
	x, err := s.testExecution()
	if err != nil {
		return pipeline.GateResult{}, err
	}
	rep, err := x.RunAll(ctx)
	if err != nil {
		partial := x.Report()
		_ = s.merge(pipeline.StageTests, pipeline.Payload{Tests: &partial})
		return pipeline.GateResult{}, err
	}
	return s.advance(pipeline.StageTests, pipeline.Payload{Tests: &rep})
}

// RetryTest re-runs one test case
func (s *Session) RetryTest(ctx context.Context, caseID string) (testrun.TestCase, error) {
	if err := s.at(pipeline.StageTests); err != nil {
		return testrun.TestCase{}, err
	}
	x, err := s.testExecution()
	if err != nil {
		return testrun.TestCase{}, err
	}
	tc, err := x.Retry(ctx, caseID)
	if err != nil {
		return tc, err
	}
	rep := x.Report()
	return tc, s.merge(pipeline.StageTests, pipeline.Payload{Tests: &rep})
}

// RetryAllTests re-runs every failed test case and re-evaluates the gate
func (s *Session) RetryAllTests(ctx context.Context) (pipeline.GateResult, error) {
	if err := s.at(pipeline.StageTests); err != nil {
		return pipeline.GateResult{}, err
	}
	x, err := s.testExecution()
	if err != nil {
		return pipeline.GateResult{}, err
	}
	rep, err := x.RetryAllFailed(ctx)
	if err != nil {
		_ = s.merge(pipeline.StageTests, pipeline.Payload{Tests: &rep})
		return pipeline.GateResult{}, err
	}
	return s.advance(pipeline.StageTests, pipeline.Payload{Tests: &rep})
}

// RetryFailed retries the failed units of the current stage, which must
// be upload, deployment or test execution
func (s *Session) RetryFailed(ctx context.Context) (pipeline.GateResult, error) {
	switch stage := s.run.Current(); stage {
	case pipeline.StageUpload:
		return s.RetryAllUploads(ctx)
	case pipeline.StageDeployment:
		return s.RetryAllDeploys(ctx)
	case pipeline.StageTests:
		return s.RetryAllTests(ctx)
	default:
		return pipeline.GateResult{}, errors.Newf(errors.ErrInvalidInput, "%s has no units to retry", stage)
	}
}

// TestSuites returns the planned suites with their current tallies
func (s *Session) TestSuites() []testrun.TestSuite {
	s.mu.Lock()
	x := s.tests
	s.mu.Unlock()
	if x == nil {
		return nil
	}
	return x.Suites()
}

// Complete re-evaluates the gate of the current stage from the latest
// state of its engine. Stages 1 to 4 complete through their own operation.
func (s *Session) Complete(ctx context.Context) (pipeline.GateResult, error) {
	stage := s.run.Current()
	if err := s.at(stage); err != nil {
		return pipeline.GateResult{}, err
	}
	var p pipeline.Payload
	switch stage {
	case pipeline.StageDependencies:
		pr, err := s.dependencyProber(ctx)
		if err != nil {
			return pipeline.GateResult{}, err
		}
		p = dependencyPayload(pr)
	case pipeline.StageUpload:
		t, err := s.uploadTracker()
		if err != nil {
			return pipeline.GateResult{}, err
		}
		p = summaryPayload(stage, t)
	case pipeline.StageDeployment:
		t, err := s.deployTracker()
		if err != nil {
			return pipeline.GateResult{}, err
		}
		p = summaryPayload(stage, t)
	case pipeline.StageTests:
		x, err := s.testExecution()
		if err != nil {
			return pipeline.GateResult{}, err
		}
		rep := x.Report()
		p = pipeline.Payload{Tests: &rep}
	default:
		return pipeline.GateResult{}, errors.Newf(errors.ErrInvalidInput, "%s completes through its own operation", stage)
	}
	return s.advance(stage, p)
}

// NavigateTo changes the viewed stage
func (s *Session) NavigateTo(stage pipeline.StageID) error {
	if err := s.run.NavigateTo(stage); err != nil {
		return err
	}
	return s.persist()
}

// Snapshot captures the run
func (s *Session) Snapshot() (pipeline.Snapshot, error) {
	return s.run.Snapshot()
}

// Resume replaces the run with the saved state, if any. Stage engines are
// rebuilt on their next activation with the saved unit outcomes: settled
// units keep them, interrupted ones run again. Dependencies are probed
// again.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	if s.repo == nil {
		return false, errors.New(errors.ErrConfiguration, "state.path is not configured")
	}
	snap, err := s.repo.Load()
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	run, err := pipeline.Restore(snap,
		pipeline.WithRequirePassingTests(s.cfg.Gates.RequirePassingTests),
		pipeline.WithLogger(logging.Named(s.logger, "pipeline")),
		pipeline.WithMetrics(s.metrics))
	if err != nil {
		return false, err
	}

	var flows []catalog.IFlow
	if ids := snap.Accumulator.SelectedIFlows; len(ids) > 0 {
		if flows, err = catalog.Lookup(ctx, s.catalog, snap.Accumulator.SelectedPackages, ids); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	s.run = run
	s.iflows = flows
	s.prober, s.uploads, s.deploys, s.tests = nil, nil, nil, nil
	s.restored = snap.Accumulator
	s.mu.Unlock()
	s.logger.Info("resumed run %s at %s", run.ID(), run.Current())
	return true, nil
}

// Report builds the report of the run as it stands
func (s *Session) Report() (report.Report, error) {
	snap, err := s.run.Snapshot()
	if err != nil {
		return report.Report{}, err
	}
	return report.Build(snap, time.Now()), nil
}

// ExportReport writes the report into the configured report directory
func (s *Session) ExportReport() (string, error) {
	rep, err := s.Report()
	if err != nil {
		return "", err
	}
	exp, err := report.NewExporter(s.fs, s.cfg.Report.Dir, s.cfg.Report.Format)
	if err != nil {
		return "", err
	}
	path, err := exp.Export("", rep)
	if err != nil {
		return "", err
	}
	s.logger.Info("report of run %s written to %s", rep.RunID, path)
	return path, nil
}

// RunAll drives every stage with the given selection as one workflow. It
// stops at the first refused gate; the run keeps its state so the caller
// can retry and continue stage by stage.
func (s *Session) RunAll(ctx context.Context, packages, iflows []string) workflows.Result {
	return workflows.Run(ctx, workflows.NewRunner(), s, packages, iflows, logging.Named(s.logger, "workflow"))
}

// Continue drives the stages from the current one on, typically after
// Resume. The selection arguments only matter while stage 1 or 2 is
// current; they default to the recorded selection.
func (s *Session) Continue(ctx context.Context, packages, iflows []string) workflows.Result {
	from := s.run.Current()
	if s.run.Finished() {
		return workflows.Result{RunID: s.ID(), From: from,
			Err: errors.Newf(errors.ErrStageNotReady, "run %s is finished", s.ID())}
	}
	if v, err := s.run.View(); err == nil {
		if len(packages) == 0 {
			packages = v.SelectedPackages
		}
		if len(iflows) == 0 {
			iflows = v.SelectedIFlows
		}
	}
	return workflows.RunFrom(ctx, workflows.NewRunner(), s, from, packages, iflows, logging.Named(s.logger, "workflow"))
}
