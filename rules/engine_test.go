package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/params"
)

func fixedVerdicts(byRule map[string]Verdict) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, f catalog.IFlow, r ValidationRule) (Verdict, string, error) {
		if v, ok := byRule[r.ID]; ok {
			return v, "", nil
		}
		return VerdictPass, "", nil
	})
}

func TestScoreWeightedCredit(t *testing.T) {
	rules := []ValidationRule{
		{ID: "a", Weight: 10},
		{ID: "b", Weight: 5},
		{ID: "c", Weight: 5},
	}
	score := Score(map[string]Verdict{"a": VerdictPass, "b": VerdictWarning, "c": VerdictFail}, rules)
	assert.InDelta(t, 62.5, score, 1e-9)

	assert.Equal(t, 100.0, Score(nil, nil))
	assert.Equal(t, 0.0, Score(map[string]Verdict{}, rules))
}

func TestEngineRunAggregates(t *testing.T) {
	rules := []ValidationRule{
		{ID: "a", Weight: 10, Severity: SeverityError},
		{ID: "b", Weight: 5, Severity: SeverityWarning},
		{ID: "c", Weight: 5, Severity: SeverityError},
	}
	e := NewEngine(NewCatalog(rules), fixedVerdicts(map[string]Verdict{"b": VerdictWarning, "c": VerdictFail}), WithConcurrency(2))

	flows := []catalog.IFlow{{ID: "if-2"}, {ID: "if-1"}}
	s, err := e.Run(context.Background(), flows)
	require.NoError(t, err)

	require.Len(t, s.Results, 6)
	assert.Equal(t, "if-1", s.Results[0].IFlowID)
	assert.Equal(t, 2, s.FailCount)
	assert.Equal(t, 2, s.WarningCount)
	assert.Equal(t, 2, s.PassCount)
	assert.InDelta(t, 62.5, s.IFlows["if-1"].Score, 1e-9)
	assert.InDelta(t, 62.5, s.Overall, 1e-9)
	assert.Equal(t, IFlowScore{Score: 62.5, Passed: 1, Warnings: 1, Failed: 1}, s.IFlows["if-2"])
}

func TestEvaluatorErrorIsFail(t *testing.T) {
	rules := []ValidationRule{{ID: "reach", Weight: 1}, {ID: "odd", Weight: 1}}
	ev := EvaluatorFunc(func(ctx context.Context, f catalog.IFlow, r ValidationRule) (Verdict, string, error) {
		if r.ID == "reach" {
			return "", "", fmt.Errorf("target unreachable")
		}
		return Verdict("maybe"), "", nil
	})

	s, err := NewEngine(NewCatalog(rules), ev).Run(context.Background(), []catalog.IFlow{{ID: "if-1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, s.FailCount)
	assert.Contains(t, s.Results[1].Detail, "target unreachable")
	assert.Equal(t, 0.0, s.Overall)
}

func TestWarningsOnlyNeverFail(t *testing.T) {
	rules := DefaultCatalog()
	all := make(map[string]Verdict)
	for _, r := range rules {
		all[r.ID] = VerdictWarning
	}
	s, err := NewEngine(NewCatalog(rules), fixedVerdicts(all)).Run(context.Background(), []catalog.IFlow{{ID: "if-1"}, {ID: "if-2"}})
	require.NoError(t, err)
	assert.Zero(t, s.FailCount)
	assert.Equal(t, 2*len(rules), s.WarningCount)
	assert.InDelta(t, 50, s.Overall, 1e-9)
}

func TestEmptyCatalogScoresFull(t *testing.T) {
	s, err := NewEngine(NewCatalog(nil), fixedVerdicts(nil)).Run(context.Background(), []catalog.IFlow{{ID: "if-1"}})
	require.NoError(t, err)
	assert.Equal(t, 100.0, s.IFlows["if-1"].Score)
	assert.Zero(t, s.FailCount)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(NewCatalog(DefaultCatalog()), fixedVerdicts(nil)).Run(ctx, []catalog.IFlow{{ID: "if-1"}})
	assert.True(t, errors.IsCancelled(err))
}

func TestCatalogReturnsCopies(t *testing.T) {
	c := NewCatalog(DefaultCatalog())
	rules, err := c.ListRules(context.Background())
	require.NoError(t, err)
	rules[0].Weight = 0

	again, err := c.ListRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, again[0].Weight)
}

func TestMetadataEvaluatorOnDefaultCatalog(t *testing.T) {
	reg, err := params.NewRegistry()
	require.NoError(t, err)
	cat := catalog.NewDefault()
	flows, err := cat.ListIFlowsForPackages(context.Background(), []string{"pkg-finance", "pkg-orders"})
	require.NoError(t, err)

	e := NewEngine(NewCatalog(DefaultCatalog()), NewMetadataEvaluator(reg, params.EnvDev))
	s, err := e.Run(context.Background(), flows)
	require.NoError(t, err)

	assert.Zero(t, s.FailCount, "%+v", s.Results)
	// the one high complexity flow draws a performance warning
	assert.Equal(t, 1, s.IFlows["if-fin-invoice"].Warnings)
	assert.Equal(t, 100.0, s.IFlows["if-ord-create"].Score)
}

func TestMetadataEvaluatorDetectsViolations(t *testing.T) {
	reg, err := params.NewRegistry(params.WithDefaults(func(iflowID, env string) []params.ConfigParam {
		return []params.ConfigParam{
			{Name: "Receiver_Endpoint", Type: params.TypeURL, Value: "http://plain.example.com", Required: true},
			{Name: "Admin_Password", Type: params.TypeString, Value: "hunter2"},
			{Name: "Enable_Tracing", Type: params.TypeBoolean, Value: "true"},
			{Name: "Owner", Type: params.TypeString, Required: true},
		}
	}))
	require.NoError(t, err)

	flow := catalog.IFlow{ID: "if-x", Name: "bad name", Version: "v1", Status: catalog.IFlowDeprecated}
	ev := NewMetadataEvaluator(reg, params.EnvProd)
	ctx := context.Background()

	expect := map[string]Verdict{
		RuleNamingConvention:  VerdictFail,
		RuleSemanticVersion:   VerdictFail,
		RuleRequiredParams:    VerdictFail,
		RuleSecretsTyped:      VerdictFail,
		RuleTransportSecurity: VerdictFail,
		RuleDescription:       VerdictWarning,
		RuleLifecycle:         VerdictWarning,
		RuleTimeoutConfigured: VerdictWarning,
		RuleTracingInProd:     VerdictWarning,
		RuleExternalEndpoints: VerdictPass,
	}
	byID := make(map[string]ValidationRule)
	for _, r := range DefaultCatalog() {
		byID[r.ID] = r
	}
	for id, want := range expect {
		got, detail, err := ev.Evaluate(ctx, flow, byID[id])
		require.NoError(t, err, id)
		assert.Equal(t, want, got, "%s: %s", id, detail)
	}

	_, _, err = ev.Evaluate(ctx, flow, ValidationRule{ID: "XYZ-999"})
	assert.Error(t, err)
}
