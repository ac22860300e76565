package testrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/davidroman0O/iflowpipe/errors"
)

// ExecResult is the outcome of one command run inside a container
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Execer runs a command in an existing container
type Execer interface {
	Exec(ctx context.Context, containerID string, cmd []string) (ExecResult, error)
}

// DockerExecer implements Execer with the Docker Engine API
type DockerExecer struct {
	client *client.Client
}

// NewDockerExecer connects to the daemon configured in the environment
func NewDockerExecer() (*DockerExecer, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConnection, "failed to create docker client")
	}
	return &DockerExecer{client: cli}, nil
}

// Exec implements Execer
func (d *DockerExecer) Exec(ctx context.Context, containerID string, cmd []string) (ExecResult, error) {
	execResp, err := d.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, errors.Wrap(err, errors.ErrTransport, "failed to create exec")
	}

	resp, err := d.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{Tty: false})
	if err != nil {
		return ExecResult{}, errors.Wrap(err, errors.ErrTransport, "failed to attach to exec")
	}
	defer resp.Close()

	var outBuf, errBuf strings.Builder
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, resp.Reader); err != nil {
		return ExecResult{}, errors.Wrap(err, errors.ErrTransport, "failed to read exec output")
	}

	inspectResp, err := d.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, errors.Wrap(err, errors.ErrTransport, "failed to inspect exec")
	}
	return ExecResult{ExitCode: inspectResp.ExitCode, Stdout: outBuf.String(), Stderr: errBuf.String()}, nil
}

// Close releases the docker client
func (d *DockerExecer) Close() error {
	return d.client.Close()
}

// SkipExitCode marks a case the harness chose not to run
const SkipExitCode = 77

// ContainerRunner executes cases inside a running test-harness container.
// Command is a template where {iflow}, {case} and {category} are
// substituted; exit code 0 passes, SkipExitCode skips, anything else fails.
type ContainerRunner struct {
	Execer      Execer
	ContainerID string
	Command     string
	now         func() time.Time
}

var _ Runner = (*ContainerRunner)(nil)

// NewContainerRunner creates a runner bound to one container
func NewContainerRunner(execer Execer, containerID, command string) *ContainerRunner {
	return &ContainerRunner{Execer: execer, ContainerID: containerID, Command: command, now: time.Now}
}

// CommandFor expands the command template for tc
func (r *ContainerRunner) CommandFor(tc TestCase) []string {
	replacer := strings.NewReplacer("{iflow}", tc.IFlowID, "{case}", tc.ID, "{category}", string(tc.Category))
	return strings.Fields(replacer.Replace(r.Command))
}

// Execute implements Runner
func (r *ContainerRunner) Execute(ctx context.Context, tc TestCase) (Result, error) {
	now := r.now
	if now == nil {
		now = time.Now
	}
	cmd := r.CommandFor(tc)
	if len(cmd) == 0 {
		return Result{}, errors.New(errors.ErrConfiguration, "test command is empty")
	}

	started := now()
	res, err := r.Execer.Exec(ctx, r.ContainerID, cmd)
	if err != nil {
		return Result{}, err
	}
	elapsed := now().Sub(started)

	switch res.ExitCode {
	case 0:
		return Result{Status: CasePassed, Message: lastLine(res.Stdout), Duration: elapsed}, nil
	case SkipExitCode:
		return Result{Status: CaseSkipped, Message: lastLine(res.Stdout), Duration: elapsed}, nil
	default:
		msg := lastLine(res.Stderr)
		if msg == "" {
			msg = lastLine(res.Stdout)
		}
		return Result{
			Status:   CaseFailed,
			Message:  fmt.Sprintf("exit code %d: %s", res.ExitCode, msg),
			Duration: elapsed,
		}, nil
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
