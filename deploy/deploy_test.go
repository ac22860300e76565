package deploy

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/params"
	"github.com/davidroman0O/iflowpipe/tracker"
)

// scripted fails deploy or start of the listed iFlows on the first attempt
type scripted struct {
	mu          sync.Mutex
	failDeploy  map[string]bool
	failStart   map[string]bool
	deployments []Deployment
	started     []string
}

func newScripted() *scripted {
	return &scripted{failDeploy: map[string]bool{}, failStart: map[string]bool{}}
}

func (s *scripted) Deploy(ctx context.Context, d Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments = append(s.deployments, d)
	if s.failDeploy[d.IFlow.ID] {
		delete(s.failDeploy, d.IFlow.ID)
		return fmt.Errorf("artifact rejected by tenant")
	}
	return nil
}

func (s *scripted) Start(ctx context.Context, d Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStart[d.IFlow.ID] {
		delete(s.failStart, d.IFlow.ID)
		return fmt.Errorf("runtime did not reach STARTED")
	}
	s.started = append(s.started, d.IFlow.ID)
	return nil
}

func flows() []catalog.IFlow {
	return []catalog.IFlow{
		{ID: "if-ord-create", Name: "Order_Creation"},
		{ID: "if-ord-status", Name: "Order_Status_Sync"},
		{ID: "if-hr-employee", Name: "Employee_Replication"},
	}
}

func TestDeployAndStartEveryIFlow(t *testing.T) {
	d := newScripted()
	tr, err := NewTracker(flows(), d, nil, params.EnvDev)
	require.NoError(t, err)

	stats, err := tr.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Completed)
	for _, u := range tr.Units() {
		assert.Equal(t, PhaseStarted, u.Phase)
		assert.Equal(t, 100, u.Progress)
	}
	assert.Empty(t, Unstarted(tr.Units()))
	assert.Len(t, d.started, 3)
}

func TestDeployFailureSkipsStart(t *testing.T) {
	d := newScripted()
	d.failDeploy["if-ord-status"] = true
	tr, err := NewTracker(flows(), d, nil, params.EnvDev)
	require.NoError(t, err)

	_, err = tr.RunAll(context.Background())
	require.NoError(t, err)

	u, err := tr.Unit(UnitID("if-ord-status"))
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusFailed, u.Status)
	assert.Equal(t, PhaseFailed, u.Phase)
	assert.Equal(t, "deploy failed: artifact rejected by tenant", u.ErrorReason)
	assert.NotContains(t, d.started, "if-ord-status")
}

func TestStartFailureLeavesErrorPhase(t *testing.T) {
	d := newScripted()
	d.failStart["if-ord-create"] = true
	tr, err := NewTracker(flows(), d, nil, params.EnvDev)
	require.NoError(t, err)

	stats, err := tr.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	u, err := tr.Unit(UnitID("if-ord-create"))
	require.NoError(t, err)
	assert.Equal(t, PhaseError, u.Phase)
	assert.Equal(t, 60, u.Progress)
	require.Len(t, Unstarted(tr.Units()), 1)

	u, err = tr.Retry(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusCompleted, u.Status)
	assert.Equal(t, PhaseStarted, u.Phase)
	assert.Empty(t, Unstarted(tr.Units()))

	// retry runs both phases again
	deploys := 0
	for _, dep := range d.deployments {
		if dep.IFlow.ID == "if-ord-create" {
			deploys++
		}
	}
	assert.Equal(t, 2, deploys)
}

func TestDeploymentCarriesRevealedParams(t *testing.T) {
	reg, err := params.NewRegistry()
	require.NoError(t, err)
	id := params.ParamID("if-ord-create", params.EnvQA, "Receiver_Credential")
	_, err = reg.GetConfigParams(context.Background(), []string{"if-ord-create"}, params.EnvQA)
	require.NoError(t, err)
	require.NoError(t, reg.Set(context.Background(), id, "s3cr3t"))

	d := newScripted()
	tr, err := NewTracker(flows()[:1], d, reg, params.EnvQA)
	require.NoError(t, err)
	_, err = tr.RunAll(context.Background())
	require.NoError(t, err)

	require.Len(t, d.deployments, 1)
	got := d.deployments[0]
	assert.Equal(t, params.EnvQA, got.Environment)
	assert.Equal(t, "s3cr3t", got.Params["Receiver_Credential"])
	assert.Equal(t, "https://ord-create.qa.example.com/api", got.Params["Receiver_Endpoint"])
}

func TestMissingRequiredParamFailsDeploy(t *testing.T) {
	reg, err := params.NewRegistry()
	require.NoError(t, err)
	_, err = reg.GetConfigParams(context.Background(), []string{"if-ord-create"}, params.EnvDev)
	require.NoError(t, err)
	require.NoError(t, reg.Set(context.Background(), params.ParamID("if-ord-create", params.EnvDev, "Sender_System"), ""))

	tr, err := NewTracker(flows()[:1], newScripted(), reg, params.EnvDev)
	require.NoError(t, err)
	stats, err := tr.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	u, _ := tr.Unit(UnitID("if-ord-create"))
	assert.Contains(t, u.ErrorReason, "Sender_System")
}

func TestNewTrackerNeedsDeployer(t *testing.T) {
	_, err := NewTracker(flows(), nil, nil, params.EnvDev)
	assert.Error(t, err)
}
