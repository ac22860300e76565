package review

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/metrics"
	"github.com/davidroman0O/iflowpipe/report"
	"github.com/davidroman0O/iflowpipe/rules"
)

func passAll() rules.Evaluator {
	return rules.EvaluatorFunc(func(ctx context.Context, f catalog.IFlow, r rules.ValidationRule) (rules.Verdict, string, error) {
		return rules.VerdictPass, "", nil
	})
}

// blocking parks every evaluation until the job is cancelled
func blocking(started chan<- struct{}) rules.Evaluator {
	var once sync.Once
	return rules.EvaluatorFunc(func(ctx context.Context, f catalog.IFlow, r rules.ValidationRule) (rules.Verdict, string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", "", ctx.Err()
	})
}

func newManager(t *testing.T, ev rules.Evaluator, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(catalog.NewDefault(), rules.NewCatalog(rules.DefaultCatalog()), ev, opts...)
	require.NoError(t, err)
	return m
}

func TestReviewCompletesAndExports(t *testing.T) {
	fs := memfs.New()
	exp, err := report.NewExporter(fs, "reviews", "json")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	mt, err := metrics.New(reg)
	require.NoError(t, err)

	m := newManager(t, passAll(), WithExporter(exp), WithMetrics(mt))
	id, err := m.Submit(context.Background(), Params{
		PackageIDs:  []string{"pkg-orders"},
		IFlowIDs:    []string{"if-ord-status", "if-ord-create"},
		Environment: "dev",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := m.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 2, job.TotalIFlows)
	assert.Equal(t, 2, job.CompletedIFlows)
	assert.Equal(t, "reviews/"+id+"-review.json", job.ResultFile)
	assert.False(t, job.CompletedAt.IsZero())
	assert.Contains(t, job.Logs, "overall compliance 100.0%")

	data, err := util.ReadFile(fs, job.ResultFile)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	rep, err := m.Report(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"if-ord-create", "if-ord-status"}, rep.Selection.IFlows)
	require.NotNil(t, rep.Compliance)
	assert.Equal(t, float64(100), rep.Compliance.Overall)

	assert.Equal(t, float64(1), jobCount(t, reg, string(StatusCompleted)))
}

func jobCount(t *testing.T, reg *prometheus.Registry, status string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "iflowpipe_review_jobs_total" {
			continue
		}
		for _, mm := range mf.GetMetric() {
			for _, lp := range mm.GetLabel() {
				if lp.GetName() == "status" && lp.GetValue() == status {
					return mm.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	m := newManager(t, blocking(started))
	id, err := m.Submit(context.Background(), Params{PackageIDs: []string{"pkg-hr"}, IFlowIDs: []string{"if-hr-employee"}})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("review never started")
	}

	assert.True(t, m.Cancel(id))
	assert.False(t, m.Cancel(id), "a cancelled job cannot be cancelled again")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Empty(t, job.Error)

	_, err = m.Report(id)
	assert.True(t, errors.IsInvalidInput(err))
}

// cancelOnWrite runs fn before the first file is opened for writing
type cancelOnWrite struct {
	billy.Filesystem
	once sync.Once
	fn   func()
}

func (c *cancelOnWrite) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	c.once.Do(c.fn)
	return c.Filesystem.OpenFile(name, flag, perm)
}

func TestCancelDuringExportDropsResult(t *testing.T) {
	var m *Manager
	fs := &cancelOnWrite{Filesystem: memfs.New()}
	fs.fn = func() {
		for _, j := range m.List() {
			m.Cancel(j.ID)
		}
	}
	exp, err := report.NewExporter(fs, "reviews", "json")
	require.NoError(t, err)
	m = newManager(t, passAll(), WithExporter(exp))

	id, err := m.Submit(context.Background(), Params{PackageIDs: []string{"pkg-hr"}, IFlowIDs: []string{"if-hr-employee"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Empty(t, job.ResultFile)

	_, err = fs.Stat("reviews/" + id + "-review.json")
	assert.True(t, os.IsNotExist(err), "the exported file of a cancelled job is removed")
	_, err = m.Report(id)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestSubmitContextDoesNotCancelJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := newManager(t, passAll())
	id, err := m.Submit(ctx, Params{PackageIDs: []string{"pkg-hr"}, IFlowIDs: []string{"if-hr-employee"}})
	require.NoError(t, err)
	cancel()

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	job, err := m.Wait(wctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestEvaluatorFailureStillCompletes(t *testing.T) {
	ev := rules.EvaluatorFunc(func(ctx context.Context, f catalog.IFlow, r rules.ValidationRule) (rules.Verdict, string, error) {
		return "", "", errors.New(errors.ErrConnection, "design API unreachable")
	})
	m := newManager(t, ev)
	id, err := m.Submit(context.Background(), Params{PackageIDs: []string{"pkg-hr"}, IFlowIDs: []string{"if-hr-employee"}})
	require.NoError(t, err)

	job, err := m.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	rep, err := m.Report(id)
	require.NoError(t, err)
	assert.Equal(t, float64(0), rep.Compliance.Overall)
	assert.Greater(t, rep.Compliance.Failed, 0)
}

func TestSubmitRejectsBadSelection(t *testing.T) {
	m := newManager(t, passAll())

	_, err := m.Submit(context.Background(), Params{PackageIDs: []string{"pkg-hr"}})
	assert.True(t, errors.IsInvalidInput(err))

	_, err = m.Submit(context.Background(), Params{PackageIDs: []string{"pkg-hr"}, IFlowIDs: []string{"if-ord-create"}})
	assert.True(t, errors.IsNotFound(err))
	assert.Empty(t, m.List())
}

func TestListGetDelete(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	m := newManager(t, passAll(), WithClock(clock))

	first, err := m.Submit(context.Background(), Params{PackageIDs: []string{"pkg-hr"}, IFlowIDs: []string{"if-hr-employee"}})
	require.NoError(t, err)
	second, err := m.Submit(context.Background(), Params{PackageIDs: []string{"pkg-orders"}, IFlowIDs: []string{"if-ord-create"}})
	require.NoError(t, err)

	jobs := m.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, first, jobs[0].ID)
	assert.Equal(t, second, jobs[1].ID)

	require.NoError(t, m.Delete(first))
	_, err = m.Get(first)
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(m.Delete(first)))
	assert.False(t, m.Cancel(first))

	_, err = m.Wait(context.Background(), second)
	require.NoError(t, err)
	assert.Len(t, m.List(), 1)
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	_, err := NewManager(nil, rules.NewCatalog(nil), passAll())
	assert.Equal(t, errors.ErrConfiguration, errors.GetCode(err))
}
