// Package upload moves the artifacts of selected iFlows to the tenant
package upload

import (
	"context"
	"io"
	"sync"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/tracker"
)

// Kind is the tracker kind of upload units
const Kind = "upload"

// Upload phases
const (
	PhaseQueued       = "queued"
	PhaseOpening      = "opening"
	PhaseTransferring = "transferring"
	PhaseUploaded     = "uploaded"
)

// ProgressFunc reports bytes moved so far
type ProgressFunc func(done, total int64)

// Transport delivers one artifact
type Transport interface {
	Upload(ctx context.Context, a catalog.Artifact, r io.Reader, size int64, progress ProgressFunc) error
}

// Units derives one upload unit per artifact of each iFlow
func Units(iflows []catalog.IFlow) []tracker.Unit {
	var out []tracker.Unit
	for _, f := range iflows {
		for _, a := range f.Artifacts {
			out = append(out, tracker.Unit{
				ID:           a.ID,
				OwnerIFlowID: f.ID,
				Name:         a.Name,
				Phase:        PhaseQueued,
			})
		}
	}
	return out
}

// Runner adapts a Transport and Source to the tracker
type Runner struct {
	transport Transport
	source    Source

	mu        sync.RWMutex
	artifacts map[string]catalog.Artifact
}

var _ tracker.Runner = (*Runner)(nil)

// NewRunner indexes the artifacts of iflows
func NewRunner(iflows []catalog.IFlow, transport Transport, source Source) *Runner {
	r := &Runner{
		transport: transport,
		source:    source,
		artifacts: make(map[string]catalog.Artifact),
	}
	for _, f := range iflows {
		for _, a := range f.Artifacts {
			if a.IFlowID == "" {
				a.IFlowID = f.ID
			}
			r.artifacts[a.ID] = a
		}
	}
	return r
}

// Start implements tracker.Runner
func (r *Runner) Start(ctx context.Context, u tracker.Unit) <-chan tracker.Event {
	return tracker.Go(ctx, func(ctx context.Context, e *tracker.Emitter) error {
		r.mu.RLock()
		a, ok := r.artifacts[u.ID]
		r.mu.RUnlock()
		if !ok {
			return errors.Newf(errors.ErrNotFound, "artifact %s not found", u.ID)
		}

		e.Phase(PhaseOpening, 0)
		rc, size, err := r.source.Open(ctx, a)
		if err != nil {
			return err
		}
		defer rc.Close()

		e.Phase(PhaseTransferring, 1)
		err = r.transport.Upload(ctx, a, rc, size, func(done, total int64) {
			if total <= 0 {
				return
			}
			// the last percent is reserved for the terminal event
			pct := int(done * 99 / total)
			e.Progress(pct)
		})
		if err != nil {
			return err
		}
		e.Phase(PhaseUploaded, 99)
		return nil
	})
}

// NewTracker builds the upload tracker of one stage activation
func NewTracker(iflows []catalog.IFlow, transport Transport, source Source, opts ...tracker.Option) (*tracker.Tracker, error) {
	if transport == nil {
		return nil, errors.New(errors.ErrConfiguration, "upload transport is not configured")
	}
	if source == nil {
		source = SyntheticSource{}
	}
	return tracker.New(Kind, Units(iflows), NewRunner(iflows, transport, source), opts...)
}

// ProgressReader reports bytes read through it
type ProgressReader struct {
	r        io.Reader
	total    int64
	done     int64
	progress ProgressFunc
}

// NewProgressReader wraps r; progress may be nil
func NewProgressReader(r io.Reader, total int64, progress ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, total: total, progress: progress}
}

// Read implements io.Reader
func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if p.progress != nil {
			p.progress(p.done, p.total)
		}
	}
	return n, err
}

// Done returns the bytes read so far
func (p *ProgressReader) Done() int64 {
	return p.done
}
