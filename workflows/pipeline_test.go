package workflows

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/pipeline"
)

// fakeDriver passes every stage except refuse, and records the calls
type fakeDriver struct {
	refuse   pipeline.StageID
	fail     pipeline.StageID
	calls    []pipeline.StageID
	packages []string
	iflows   []string
}

func (d *fakeDriver) ID() string { return "run-test" }

func (d *fakeDriver) gate(s pipeline.StageID) (pipeline.GateResult, error) {
	d.calls = append(d.calls, s)
	if s == d.fail {
		return pipeline.GateResult{}, errors.New(errors.ErrConnection, "backend unreachable")
	}
	if s == d.refuse {
		return pipeline.GateResult{Stage: s, Reason: "1 upload unit failed", Blocking: 1}, nil
	}
	return pipeline.GateResult{Stage: s, Passed: true}, nil
}

func (d *fakeDriver) SelectPackages(ctx context.Context, ids []string) (pipeline.GateResult, error) {
	d.packages = ids
	return d.gate(pipeline.StagePackages)
}

func (d *fakeDriver) SelectIFlows(ctx context.Context, ids []string) (pipeline.GateResult, error) {
	d.iflows = ids
	return d.gate(pipeline.StageIFlows)
}

func (d *fakeDriver) Configure(ctx context.Context) (pipeline.GateResult, error) {
	return d.gate(pipeline.StageConfiguration)
}

func (d *fakeDriver) Validate(ctx context.Context) (pipeline.GateResult, error) {
	return d.gate(pipeline.StageValidation)
}

func (d *fakeDriver) ProbeDependencies(ctx context.Context) (pipeline.GateResult, error) {
	return d.gate(pipeline.StageDependencies)
}

func (d *fakeDriver) Upload(ctx context.Context) (pipeline.GateResult, error) {
	return d.gate(pipeline.StageUpload)
}

func (d *fakeDriver) Deploy(ctx context.Context) (pipeline.GateResult, error) {
	return d.gate(pipeline.StageDeployment)
}

func (d *fakeDriver) RunTests(ctx context.Context) (pipeline.GateResult, error) {
	return d.gate(pipeline.StageTests)
}

func TestCreatePipeline(t *testing.T) {
	w := CreatePipeline(&fakeDriver{}, []string{"pkg-orders"}, []string{"if-ord-create"})
	assert.Equal(t, "run-test", w.ID)
	assert.Len(t, w.Stages, 8)
}

func TestRunPassesEveryStage(t *testing.T) {
	d := &fakeDriver{}
	res := Run(context.Background(), NewRunner(), d, []string{"pkg-orders"}, []string{"if-ord-create"}, nil)

	require.NoError(t, res.Err)
	assert.True(t, res.Passed())
	assert.Equal(t, "run-test", res.RunID)
	require.Len(t, res.Gates, 8)
	for i, g := range res.Gates {
		assert.Equal(t, pipeline.StageID(i+1), g.Stage)
	}
	assert.Equal(t, []string{"pkg-orders"}, d.packages)
	assert.Equal(t, []string{"if-ord-create"}, d.iflows)

	out := FormatResult(res)
	assert.Contains(t, out, "Stage 1: package-selection - PASSED")
	assert.Contains(t, out, "Summary: 8/8 stages passed")
}

func TestRunStopsAtRefusedGate(t *testing.T) {
	d := &fakeDriver{refuse: pipeline.StageUpload}
	res := Run(context.Background(), NewRunner(), d, []string{"pkg-orders"}, []string{"if-ord-create"}, nil)

	require.Error(t, res.Err)
	assert.False(t, res.Passed())
	require.Len(t, res.Gates, 6)
	assert.False(t, res.Gates[5].Passed)
	assert.Len(t, d.calls, 6, "no stage after the refused one runs")

	out := FormatResult(res)
	assert.Contains(t, out, fmt.Sprintf("Stage 6: %s - REFUSED", pipeline.StageUpload))
	assert.Contains(t, out, "Reason: 1 upload unit failed")
	assert.Contains(t, out, "Summary: 5/8 stages passed")
}

func TestRunStopsOnStageError(t *testing.T) {
	d := &fakeDriver{fail: pipeline.StageDependencies}
	res := Run(context.Background(), NewRunner(), d, []string{"pkg-orders"}, []string{"if-ord-create"}, nil)

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "backend unreachable")
	assert.Len(t, res.Gates, 4)
	assert.Len(t, d.calls, 5)
}

func TestRunFromContinuesAtStage(t *testing.T) {
	d := &fakeDriver{}
	res := RunFrom(context.Background(), NewRunner(), d, pipeline.StageUpload, nil, nil, nil)

	require.NoError(t, res.Err)
	assert.True(t, res.Passed())
	assert.Equal(t, pipeline.StageUpload, res.From)
	require.Len(t, res.Gates, 3)
	assert.Equal(t, pipeline.StageUpload, res.Gates[0].Stage)
	assert.Equal(t, []pipeline.StageID{pipeline.StageUpload, pipeline.StageDeployment, pipeline.StageTests}, d.calls)

	w := CreatePipelineFrom(d, pipeline.StageUpload, nil, nil)
	assert.Len(t, w.Stages, 3)

	out := FormatResult(res)
	assert.NotContains(t, out, "Stage 1:")
	assert.Contains(t, out, "Summary: 8/8 stages passed")

	res = RunFrom(context.Background(), NewRunner(), d, pipeline.StageID(9), nil, nil, nil)
	assert.True(t, errors.IsInvalidInput(res.Err))
}
