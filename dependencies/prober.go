package dependencies

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/logging"
	"github.com/davidroman0O/iflowpipe/metrics"
)

// Prober owns the dependency set of one stage activation
type Prober struct {
	provider    Provider
	concurrency int
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu    sync.RWMutex
	order []string
	deps  map[string]Dependency
}

// Option configures a Prober
type Option func(*Prober)

// WithConcurrency bounds simultaneous probes
func WithConcurrency(n int) Option {
	return func(p *Prober) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRate throttles probes; a non-positive rate disables throttling
func WithRate(perSecond float64, burst int) Option {
	return func(p *Prober) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTimeout bounds each probe
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		p.timeout = d
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(p *Prober) {
		p.logger = logging.OrNop(l)
	}
}

// WithMetrics records probe outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Prober) {
		p.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Prober) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProber loads the dependencies of iflowIDs from provider
func NewProber(ctx context.Context, provider Provider, iflowIDs []string, opts ...Option) (*Prober, error) {
	p := &Prober{
		provider:    provider,
		concurrency: 4,
		logger:      logging.NewNop(),
		now:         time.Now,
		deps:        make(map[string]Dependency),
	}
	for _, opt := range opts {
		opt(p)
	}

	list, err := provider.ListDependencies(ctx, iflowIDs)
	if err != nil {
		return nil, errors.WithOp(err, "dependencies.NewProber")
	}
	for _, d := range list {
		if d.Status == "" {
			d.Status = StatusUnknown
		}
		if _, dup := p.deps[d.ID]; !dup {
			p.order = append(p.order, d.ID)
		}
		p.deps[d.ID] = d
	}
	return p, nil
}

// ProbeAll probes every dependency independently. Only cancellation is returned.
func (p *Prober) ProbeAll(ctx context.Context) (Summary, error) {
	p.mu.RLock()
	ids := append([]string(nil), p.order...)
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := p.Test(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return p.Summary(), err
	}

	s := p.Summary()
	p.logger.Info("probed %d dependencies: %d available, %d warning, %d unavailable",
		s.Total, s.Available, s.Warning, s.Unavailable)
	return s, nil
}

// Test re-probes one dependency. A probe failure marks it unavailable;
// cancellation leaves the previous status untouched.
func (p *Prober) Test(ctx context.Context, id string) (Dependency, error) {
	p.mu.RLock()
	_, ok := p.deps[id]
	p.mu.RUnlock()
	if !ok {
		return Dependency{}, errors.Newf(errors.ErrNotFound, "dependency %s not found", id)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return p.current(id), cancelled(ctx, err)
		}
	}

	probeCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	probed, err := p.provider.Probe(probeCtx, id)
	if ctx.Err() != nil {
		return p.current(id), cancelled(ctx, ctx.Err())
	}

	p.mu.Lock()
	d := p.deps[id]
	if err != nil {
		d.Status = StatusUnavailable
		d.Message = err.Error()
		d.LastCheckedAt = p.now()
	} else {
		d.Status = probed.Status
		d.Message = probed.Message
		d.LastCheckedAt = probed.LastCheckedAt
		if d.LastCheckedAt.IsZero() {
			d.LastCheckedAt = p.now()
		}
	}
	p.deps[id] = d
	p.mu.Unlock()

	p.metrics.DependencyProbed(string(d.Status))
	if d.Status == StatusUnavailable {
		p.logger.Warn("dependency %s (%s) unavailable: %s", d.ID, d.Name, d.Message)
	} else {
		p.logger.Debug("dependency %s is %s", d.ID, d.Status)
	}
	return d, nil
}

// Dependencies returns a snapshot in load order
func (p *Prober) Dependencies() []Dependency {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Dependency, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.deps[id])
	}
	return out
}

// Grouped returns the dependencies by type
func (p *Prober) Grouped() map[Type][]Dependency {
	out := make(map[Type][]Dependency)
	for _, d := range p.Dependencies() {
		out[d.Type] = append(out[d.Type], d)
	}
	return out
}

// Summary counts the current statuses
func (p *Prober) Summary() Summary {
	return Summarize(p.Dependencies())
}

func (p *Prober) current(id string) Dependency {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.deps[id]
}

func cancelled(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.FromContext(ctxErr)
	}
	return errors.Wrap(err, errors.ErrCancelled, "probe aborted")
}
