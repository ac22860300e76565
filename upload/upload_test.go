package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/config"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/tracker"
)

func testIFlows() []catalog.IFlow {
	return []catalog.IFlow{
		{
			ID: "if-a",
			Artifacts: []catalog.Artifact{
				{ID: "if-a/archive", IFlowID: "if-a", Name: "A.zip", Kind: catalog.KindIFlowArchive, SizeBytes: 4096},
				{ID: "if-a/parameters", IFlowID: "if-a", Name: "A.prop", Kind: catalog.KindParameters, SizeBytes: 100},
			},
		},
		{
			ID: "if-b",
			Artifacts: []catalog.Artifact{
				{ID: "if-b/archive", IFlowID: "if-b", Name: "B.zip", Kind: catalog.KindIFlowArchive, SizeBytes: 2048},
			},
		},
	}
}

// memTransport keeps uploaded bytes and fails listed artifacts once
type memTransport struct {
	mu      sync.Mutex
	objects map[string][]byte
	failing map[string]bool
}

func newMemTransport(failing ...string) *memTransport {
	m := &memTransport{objects: map[string][]byte{}, failing: map[string]bool{}}
	for _, id := range failing {
		m.failing[id] = true
	}
	return m
}

func (m *memTransport) Upload(ctx context.Context, a catalog.Artifact, r io.Reader, size int64, progress ProgressFunc) error {
	m.mu.Lock()
	fail := m.failing[a.ID]
	delete(m.failing, a.ID)
	m.mu.Unlock()

	buf := make([]byte, 512)
	var got bytes.Buffer
	var done int64
	for {
		n, err := r.Read(buf)
		got.Write(buf[:n])
		done += int64(n)
		progress(done, size)
		if fail && done >= size/2 {
			return fmt.Errorf("connection reset by tenant")
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.objects[a.ID] = got.Bytes()
	m.mu.Unlock()
	return nil
}

func TestUnitsOnePerArtifact(t *testing.T) {
	units := Units(testIFlows())
	require.Len(t, units, 3)
	assert.Equal(t, "if-a/archive", units[0].ID)
	assert.Equal(t, "if-a", units[0].OwnerIFlowID)
	assert.Equal(t, PhaseQueued, units[0].Phase)
	assert.Equal(t, "if-b", units[2].OwnerIFlowID)
}

func TestTrackerUploadsEveryArtifact(t *testing.T) {
	transport := newMemTransport()
	tr, err := NewTracker(testIFlows(), transport, nil)
	require.NoError(t, err)

	stats, err := tr.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Completed)
	assert.Equal(t, float64(100), stats.Progress)

	for _, u := range tr.Units() {
		assert.Equal(t, PhaseUploaded, u.Phase)
	}
	assert.Len(t, transport.objects["if-a/archive"], 4096)
	assert.Len(t, transport.objects["if-a/parameters"], 100)
}

func TestTrackerFailureThenRetry(t *testing.T) {
	transport := newMemTransport("if-b/archive")
	tr, err := NewTracker(testIFlows(), transport, SyntheticSource{})
	require.NoError(t, err)

	stats, err := tr.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	u, err := tr.Unit("if-b/archive")
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusFailed, u.Status)
	assert.Equal(t, "connection reset by tenant", u.ErrorReason)
	assert.Equal(t, PhaseTransferring, u.Phase)
	assert.GreaterOrEqual(t, u.Progress, 49)

	u, err = tr.Retry(context.Background(), "if-b/archive")
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusCompleted, u.Status)
	assert.Equal(t, 2, u.Attempts)
	assert.Empty(t, u.ErrorReason)
	assert.True(t, tr.Settled())
}

func TestProgressIsMonotonicPerAttempt(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]int{}
	tr, err := NewTracker(testIFlows(), newMemTransport(), nil, tracker.WithObserver(func(tr tracker.Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen[tr.Unit.ID] = append(seen[tr.Unit.ID], tr.Unit.Progress)
	}))
	require.NoError(t, err)
	_, err = tr.RunAll(context.Background())
	require.NoError(t, err)

	for id, values := range seen {
		for i := 1; i < len(values); i++ {
			assert.GreaterOrEqual(t, values[i], values[i-1], "unit %s", id)
		}
		assert.Equal(t, 100, values[len(values)-1])
	}
}

func TestNewTrackerNeedsTransport(t *testing.T) {
	_, err := NewTracker(testIFlows(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrConfiguration, errors.GetCode(err))
}

func TestSyntheticSourceIsDeterministic(t *testing.T) {
	a := testIFlows()[0].Artifacts[0]
	read := func() []byte {
		rc, size, err := SyntheticSource{}.Open(context.Background(), a)
		require.NoError(t, err)
		defer rc.Close()
		assert.Equal(t, a.SizeBytes, size)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		return b
	}
	first := read()
	assert.Len(t, first, int(a.SizeBytes))
	assert.Equal(t, first, read())
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "if-a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "if-a", "A.zip"), []byte("zipdata"), 0o644))

	src := DirSource{Dir: dir}
	rc, size, err := src.Open(context.Background(), catalog.Artifact{IFlowID: "if-a", Name: "A.zip"})
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(7), size)

	_, _, err = src.Open(context.Background(), catalog.Artifact{IFlowID: "if-a", Name: "missing.prop"})
	assert.True(t, errors.IsNotFound(err))
}

type mockS3 struct {
	PutObjectFunc func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.PutObjectFunc(ctx, params, optFns...)
}

func TestS3TransportPutsObject(t *testing.T) {
	var got *s3.PutObjectInput
	var body []byte
	m := &mockS3{}
	m.PutObjectFunc = func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		got = params
		b, err := io.ReadAll(params.Body)
		body = b
		return &s3.PutObjectOutput{}, err
	}

	transport := NewS3Transport(m, "artifacts", "tenant-dev")
	a := testIFlows()[0].Artifacts[0]
	var last int64
	err := transport.Upload(context.Background(), a, bytes.NewReader(make([]byte, 4096)), 4096, func(done, total int64) {
		last = done
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "artifacts", aws.ToString(got.Bucket))
	assert.Equal(t, "tenant-dev/if-a/A.zip", aws.ToString(got.Key))
	assert.Equal(t, int64(4096), aws.ToInt64(got.ContentLength))
	assert.Equal(t, "application/zip", aws.ToString(got.ContentType))
	assert.Equal(t, "if-a", got.Metadata["iflow-id"])
	assert.Len(t, body, 4096)
	assert.Equal(t, int64(4096), last)
}

func TestS3TransportWrapsErrors(t *testing.T) {
	m := &mockS3{}
	m.PutObjectFunc = func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return nil, fmt.Errorf("AccessDenied")
	}
	err := NewS3Transport(m, "b", "").Upload(context.Background(), testIFlows()[1].Artifacts[0], bytes.NewReader(nil), 0, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrTransport, errors.GetCode(err))
	assert.Contains(t, err.Error(), "AccessDenied")
}

func newInMemSFTP(t *testing.T) *sftp.Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client
}

func TestSFTPTransportWritesRemoteFile(t *testing.T) {
	client := newInMemSFTP(t)
	transport := NewSFTPTransportWithClient(client, "/upload", nil)

	a := testIFlows()[0].Artifacts[1]
	payload := []byte("Receiver_Endpoint=https://erp.dev.example.com/api\n")
	err := transport.Upload(context.Background(), a, bytes.NewReader(payload), int64(len(payload)), nil)
	require.NoError(t, err)

	f, err := client.Open("/upload/if-a/A.prop")
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSFTPTransportRedialsAfterLostSession(t *testing.T) {
	lost := newInMemSFTP(t)
	require.NoError(t, lost.Close())
	healthy := newInMemSFTP(t)

	transport := NewSFTPTransportWithClient(lost, "/upload", nil)
	dials := 0
	transport.dial = func() (*sftp.Client, io.Closer, error) {
		dials++
		return healthy, nil, nil
	}

	a := testIFlows()[0].Artifacts[1]
	payload := []byte("Receiver_Endpoint=https://erp.dev.example.com/api\n")
	err := transport.Upload(context.Background(), a, bytes.NewReader(payload), int64(len(payload)), nil)
	assert.Equal(t, errors.ErrTransport, errors.GetCode(err))
	assert.Equal(t, 0, dials)

	err = transport.Upload(context.Background(), a, bytes.NewReader(payload), int64(len(payload)), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, dials)

	f, err := healthy.Open("/upload/if-a/A.prop")
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSFTPTransportWithoutDialerReportsLostSession(t *testing.T) {
	lost := newInMemSFTP(t)
	require.NoError(t, lost.Close())
	transport := NewSFTPTransportWithClient(lost, "/upload", nil)

	a := testIFlows()[0].Artifacts[1]
	err := transport.Upload(context.Background(), a, bytes.NewReader([]byte("x")), 1, nil)
	assert.Equal(t, errors.ErrTransport, errors.GetCode(err))
	err = transport.Upload(context.Background(), a, bytes.NewReader([]byte("x")), 1, nil)
	assert.Equal(t, errors.ErrConnection, errors.GetCode(err))
}

func TestSFTPTransportRequiresCredentials(t *testing.T) {
	_, err := sshClientConfig(config.SFTPConfig{Password: "secret"})
	assert.Equal(t, errors.ErrConfiguration, errors.GetCode(err))
	_, err = sshClientConfig(config.SFTPConfig{User: "deployer"})
	assert.Equal(t, errors.ErrConfiguration, errors.GetCode(err))
	cfg, err := sshClientConfig(config.SFTPConfig{User: "deployer", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "deployer", cfg.User)
}

func TestProgressReader(t *testing.T) {
	var calls []int64
	r := NewProgressReader(bytes.NewReader(make([]byte, 10)), 10, func(done, total int64) {
		assert.Equal(t, int64(10), total)
		calls = append(calls, done)
	})
	buf := make([]byte, 4)
	for {
		if _, err := r.Read(buf); err == io.EOF {
			break
		}
	}
	assert.Equal(t, []int64{4, 8, 10}, calls)
	assert.Equal(t, int64(10), r.Done())
}
