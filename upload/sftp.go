package upload

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/config"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/logging"
)

// SFTPTransport uploads artifacts to <RemoteDir>/<iflow>/<name> over SFTP
type SFTPTransport struct {
	cfg    config.SFTPConfig
	logger logging.Logger

	// dial opens a new session; nil when the transport was handed a client
	dial func() (*sftp.Client, io.Closer, error)

	mu     sync.Mutex
	conn   io.Closer
	client *sftp.Client
}

var _ Transport = (*SFTPTransport)(nil)

// NewSFTPTransport creates a transport that connects on first upload
func NewSFTPTransport(cfg config.SFTPConfig, logger logging.Logger) *SFTPTransport {
	t := &SFTPTransport{cfg: cfg, logger: logging.OrNop(logger)}
	t.dial = t.dialSSH
	return t
}

// NewSFTPTransportWithClient uses an already connected client. It cannot
// reconnect once that client is lost.
func NewSFTPTransportWithClient(client *sftp.Client, remoteDir string, logger logging.Logger) *SFTPTransport {
	return &SFTPTransport{
		cfg:    config.SFTPConfig{RemoteDir: remoteDir},
		client: client,
		logger: logging.OrNop(logger),
	}
}

func sshClientConfig(cfg config.SFTPConfig) (*ssh.ClientConfig, error) {
	if cfg.User == "" {
		return nil, errors.New(errors.ErrConfiguration, "SFTP user cannot be empty")
	}
	if cfg.Password == "" {
		return nil, errors.New(errors.ErrConfiguration, "SFTP password is required (key auth not implemented)")
	}
	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: accept a known_hosts file in SFTPConfig
		Timeout:         20 * time.Second,
	}, nil
}

func (t *SFTPTransport) connect() (*sftp.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	if t.dial == nil {
		return nil, errors.New(errors.ErrConnection, "sftp connection lost")
	}
	client, conn, err := t.dial()
	if err != nil {
		return nil, err
	}
	t.conn = conn
	t.client = client
	return client, nil
}

func (t *SFTPTransport) dialSSH() (*sftp.Client, io.Closer, error) {
	sshConfig, err := sshClientConfig(t.cfg)
	if err != nil {
		return nil, nil, err
	}
	port := t.cfg.Port
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, port)
	t.logger.Info("connecting to SFTP endpoint %s", addr)

	conn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrConnection, "ssh dial for sftp to "+addr+" failed")
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, errors.ErrConnection, "sftp client creation failed")
	}
	return client, conn, nil
}

// dropIfBroken forgets client after a failure that is not a server status
// reply, so the next upload dials again.
func (t *SFTPTransport) dropIfBroken(ctx context.Context, client *sftp.Client, err error) {
	var status *sftp.StatusError
	if ctx.Err() != nil || stderrors.As(err, &status) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != client {
		return
	}
	t.logger.Warn("sftp session lost, reconnecting on next upload: %v", err)
	_ = t.client.Close()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.client, t.conn = nil, nil
}

// Upload implements Transport
func (t *SFTPTransport) Upload(ctx context.Context, a catalog.Artifact, r io.Reader, size int64, progress ProgressFunc) error {
	client, err := t.connect()
	if err != nil {
		return err
	}

	remoteDir := path.Join(t.cfg.RemoteDir, a.IFlowID)
	if err := client.MkdirAll(remoteDir); err != nil {
		if _, statErr := client.Stat(remoteDir); statErr != nil {
			if !os.IsNotExist(statErr) {
				t.dropIfBroken(ctx, client, statErr)
			}
			return errors.Wrap(err, errors.ErrTransport, "failed to create remote directory "+remoteDir)
		}
	}

	remotePath := path.Join(remoteDir, a.Name)
	dst, err := client.Create(remotePath)
	if err != nil {
		t.dropIfBroken(ctx, client, err)
		return errors.Wrap(err, errors.ErrTransport, "failed to create remote file "+remotePath)
	}

	written, err := io.Copy(dst, NewProgressReader(contextReader{ctx: ctx, r: r}, size, progress))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = client.Remove(remotePath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.FromContext(ctxErr)
		}
		t.dropIfBroken(ctx, client, err)
		return errors.Wrap(err, errors.ErrTransport, "failed to copy artifact content")
	}

	t.logger.Debug("uploaded %s (%d bytes) to %s", a.ID, written, remotePath)
	return nil
}

// Close releases the SFTP session
func (t *SFTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	if t.client != nil {
		err = t.client.Close()
		t.client = nil
	}
	if t.conn != nil {
		if cerr := t.conn.Close(); err == nil {
			err = cerr
		}
		t.conn = nil
	}
	return err
}

// contextReader stops reading once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
