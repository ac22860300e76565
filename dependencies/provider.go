package dependencies

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/errors"
)

// Provider lists dependencies and re-evaluates one of them
type Provider interface {
	ListDependencies(ctx context.Context, iflowIDs []string) ([]Dependency, error)
	Probe(ctx context.Context, id string) (Dependency, error)
}

// Checker decides the health of one dependency. An error means the
// dependency could not be reached.
type Checker interface {
	Check(ctx context.Context, dep Dependency) (Status, string, error)
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context, dep Dependency) (Status, string, error)

// Check implements Checker
func (f CheckerFunc) Check(ctx context.Context, dep Dependency) (Status, string, error) {
	return f(ctx, dep)
}

// CatalogProvider serves the dependency specs declared by catalog iFlows
type CatalogProvider struct {
	deps    map[string]Dependency
	checker Checker
	now     func() time.Time
}

var _ Provider = (*CatalogProvider)(nil)

// NewCatalogProvider indexes the dependencies of iflows
func NewCatalogProvider(iflows []catalog.IFlow, checker Checker) *CatalogProvider {
	p := &CatalogProvider{
		deps:    make(map[string]Dependency),
		checker: checker,
		now:     time.Now,
	}
	for _, f := range iflows {
		for _, spec := range f.Dependencies {
			id := catalog.DependencyID(f.ID, spec.ID)
			p.deps[id] = Dependency{
				ID:       id,
				IFlowID:  f.ID,
				Name:     spec.Name,
				Type:     Type(spec.Type),
				Endpoint: spec.Endpoint,
				Status:   StatusUnknown,
			}
		}
	}
	return p
}

// ListDependencies returns the dependencies of the given iFlows in unknown state
func (p *CatalogProvider) ListDependencies(ctx context.Context, iflowIDs []string) ([]Dependency, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	want := make(map[string]bool, len(iflowIDs))
	for _, id := range iflowIDs {
		want[id] = true
	}
	var out []Dependency
	for _, d := range p.deps {
		if want[d.IFlowID] {
			out = append(out, d)
		}
	}
	sortDeps(out)
	return out, nil
}

// Probe runs the checker against one dependency
func (p *CatalogProvider) Probe(ctx context.Context, id string) (Dependency, error) {
	d, ok := p.deps[id]
	if !ok {
		return Dependency{}, errors.Newf(errors.ErrNotFound, "dependency %s not found", id)
	}
	status, msg, err := p.checker.Check(ctx, d)
	if err != nil {
		return Dependency{}, err
	}
	d.Status = status
	d.Message = msg
	d.LastCheckedAt = p.now()
	return d, nil
}

// TCPChecker dials the dependency endpoint. Dependencies without an
// endpoint (iFlow-to-iFlow links) are considered available.
type TCPChecker struct {
	// Timeout bounds one dial
	Timeout time.Duration
	// SlowAfter marks reachable but slow endpoints as warning; zero disables it
	SlowAfter time.Duration
}

// Check implements Checker
func (c TCPChecker) Check(ctx context.Context, dep Dependency) (Status, string, error) {
	if dep.Endpoint == "" {
		return StatusAvailable, "no endpoint to probe", nil
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", dep.Endpoint)
	if err != nil {
		return StatusUnavailable, "", errors.Wrap(err, errors.ErrConnection, fmt.Sprintf("dial %s", dep.Endpoint))
	}
	_ = conn.Close()

	elapsed := time.Since(start)
	if c.SlowAfter > 0 && elapsed > c.SlowAfter {
		return StatusWarning, fmt.Sprintf("slow handshake (%s)", elapsed.Round(time.Millisecond)), nil
	}
	return StatusAvailable, fmt.Sprintf("reachable in %s", elapsed.Round(time.Millisecond)), nil
}

func sortDeps(ds []Dependency) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].IFlowID != ds[j].IFlowID {
			return ds[i].IFlowID < ds[j].IFlowID
		}
		return ds[i].ID < ds[j].ID
	})
}
