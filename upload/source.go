package upload

import (
	"context"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/errors"
)

// Source provides the bytes of an artifact
type Source interface {
	Open(ctx context.Context, a catalog.Artifact) (io.ReadCloser, int64, error)
}

// SyntheticSource produces deterministic bytes of the declared artifact size
type SyntheticSource struct{}

// Open implements Source
func (SyntheticSource) Open(ctx context.Context, a catalog.Artifact) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, errors.FromContext(err)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(a.ID))
	return io.NopCloser(io.LimitReader(&patternReader{seed: byte(h.Sum32())}, a.SizeBytes)), a.SizeBytes, nil
}

type patternReader struct {
	seed byte
	pos  int64
}

func (p *patternReader) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = p.seed ^ byte(p.pos)
		p.pos++
	}
	return len(b), nil
}

// DirSource reads <Dir>/<iflow id>/<artifact name>
type DirSource struct {
	Dir string
}

// Open implements Source
func (d DirSource) Open(ctx context.Context, a catalog.Artifact) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, errors.FromContext(err)
	}
	path := filepath.Join(d.Dir, a.IFlowID, a.Name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, errors.Wrap(err, errors.ErrNotFound, "artifact file missing: "+path)
		}
		return nil, 0, errors.Wrap(err, errors.ErrTransport, "failed to open artifact "+path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errors.Wrap(err, errors.ErrTransport, "failed to stat artifact "+path)
	}
	return f, info.Size(), nil
}
