package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/davidroman0O/iflowpipe/dependencies"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/params"
	"github.com/davidroman0O/iflowpipe/pipeline"
	"github.com/davidroman0O/iflowpipe/rules"
	"github.com/davidroman0O/iflowpipe/testrun"
	"github.com/davidroman0O/iflowpipe/tracker"
)

var generated = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func snapshot() pipeline.Snapshot {
	upload := []tracker.Unit{
		{ID: "if-a/A.zip", OwnerIFlowID: "if-a", Status: tracker.StatusCompleted, Progress: 100, Phase: "uploaded"},
		{ID: "if-a/A.prop", OwnerIFlowID: "if-a", Status: tracker.StatusFailed, Phase: "transferring", ErrorReason: "connection reset"},
	}
	return pipeline.Snapshot{
		ID:              "run-42",
		CurrentStage:    pipeline.StageUpload,
		CompletedStages: []pipeline.StageID{1, 2, 3, 4, 5},
		Accumulator: pipeline.View{
			SelectedPackages: []string{"pkg-orders"},
			SelectedIFlows:   []string{"if-a"},
			Configuration: &pipeline.Configuration{
				Environment: "qa",
				Missing:     []params.ConfigParam{{ID: "if-a/Sender_System"}},
			},
			Validation: &rules.Summary{
				Overall:      87.5,
				PassCount:    10,
				WarningCount: 2,
				Results: []rules.Result{
					{IFlowID: "if-a", RuleID: "R1", Verdict: rules.VerdictPass},
					{IFlowID: "if-a", RuleID: "R2", Verdict: rules.VerdictWarning, Detail: "no retry"},
				},
			},
			Dependencies: &pipeline.DependencyCheck{
				Dependencies: []dependencies.Dependency{
					{ID: "d1", Status: dependencies.StatusAvailable},
					{ID: "d2", Status: dependencies.StatusUnavailable, Message: "timeout"},
				},
				Summary: dependencies.Summary{Total: 2, Available: 1, Unavailable: 1},
			},
			Upload: &tracker.Summary{Kind: "upload", Stats: tracker.Aggregate(upload), Units: upload},
		},
	}
}

func TestBuild(t *testing.T) {
	r := Build(snapshot(), generated)

	assert.Equal(t, "run-42", r.RunID)
	assert.Equal(t, OutcomeInProgress, r.Outcome)
	assert.Equal(t, "artifact-upload", r.CurrentStage)
	require.Len(t, r.Stages, 8)
	assert.True(t, r.Stages[4].Completed)
	assert.False(t, r.Stages[5].Completed)

	assert.Equal(t, "qa", r.Selection.Environment)
	assert.Equal(t, []string{"if-a/Sender_System"}, r.Selection.MissingParams)

	require.NotNil(t, r.Compliance)
	require.Len(t, r.Compliance.Findings, 1, "passing results are left out of findings")
	assert.Equal(t, "R2", r.Compliance.Findings[0].RuleID)

	require.NotNil(t, r.Dependencies)
	require.Len(t, r.Unavailable, 1)
	assert.Equal(t, "d2", r.Unavailable[0].ID)

	require.NotNil(t, r.Upload)
	assert.Equal(t, []UnitFailure{{ID: "if-a/A.prop", Phase: "transferring", Reason: "connection reset"}}, r.Upload.Failures)
	assert.Nil(t, r.Deployment)
	assert.Nil(t, r.Tests)
}

func TestBuildFinishedRun(t *testing.T) {
	s := snapshot()
	s.CurrentStage = pipeline.StageTests
	s.CompletedStages = []pipeline.StageID{1, 2, 3, 4, 5, 6, 7}
	s.Finished = true
	s.Accumulator.Tests = &testrun.Report{Total: 6, Passed: 5, Skipped: 1}

	r := Build(s, generated)
	assert.Equal(t, OutcomeFinished, r.Outcome)
	for _, st := range r.Stages {
		assert.True(t, st.Completed, "stage %d", st.ID)
	}
	require.NotNil(t, r.Tests)
	assert.Equal(t, 5, r.Tests.Passed)
}

func TestSummary(t *testing.T) {
	out := Summary(Build(snapshot(), generated))

	assert.True(t, strings.HasPrefix(out, "Run run-42: IN-PROGRESS (stage artifact-upload)\n"))
	assert.Contains(t, out, "  [x] 5. dependency-validation\n")
	assert.Contains(t, out, "  [ ] 6. artifact-upload\n")
	assert.Contains(t, out, "Selection: 1 packages, 1 iFlows (qa)\n")
	assert.Contains(t, out, "Compliance: 87.5% (10 passed, 2 warnings, 0 failed)\n")
	assert.Contains(t, out, "Dependencies: 1/2 available, 0 warnings, 1 unavailable\n")
	assert.Contains(t, out, "  Error: if-a/A.prop: connection reset\n")
	assert.True(t, strings.HasSuffix(out, "\nSummary: 5/8 stages completed\n"))
}

func TestExportJSON(t *testing.T) {
	fs := memfs.New()
	e, err := NewExporter(fs, "reports", "json")
	require.NoError(t, err)

	p, err := e.Export("", Build(snapshot(), generated))
	require.NoError(t, err)
	assert.Equal(t, "reports/run-42-report.json", p)

	data, err := util.ReadFile(fs, p)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "run-42", back.RunID)
	assert.True(t, back.GeneratedAt.Equal(generated))
}

func TestExportYAML(t *testing.T) {
	fs := memfs.New()
	e, err := NewExporter(fs, "", "YML")
	require.NoError(t, err)

	p, err := e.Export("review", Build(snapshot(), generated))
	require.NoError(t, err)
	assert.Equal(t, "review.yaml", p)

	data, err := util.ReadFile(fs, p)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "run-42", doc["runId"])
	assert.Equal(t, "in-progress", doc["outcome"])
}

func TestExporterRejectsUnknownFormat(t *testing.T) {
	_, err := NewExporter(memfs.New(), "", "xml")
	assert.Equal(t, errors.ErrConfiguration, errors.GetCode(err))
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	props, ok := doc["properties"].(map[string]interface{})
	require.True(t, ok, "expanded schema exposes properties at the root")
	assert.Contains(t, props, "runId")
	assert.Contains(t, props, "stages")
	assert.Contains(t, props, "tests")
}
