// Package deploy activates the selected iFlows on the tenant in two
// phases: deploy the design-time artifact, then start the runtime.
package deploy

import (
	"context"
	"fmt"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/params"
	"github.com/davidroman0O/iflowpipe/tracker"
)

// Kind is the tracker kind of deployment units
const Kind = "deploy"

// Deployment phases. Units end in PhaseStarted, PhaseError or PhaseFailed.
const (
	PhasePending   = "pending"
	PhaseDeploying = "deploying"
	PhaseDeployed  = "deployed"
	PhaseStarting  = "starting"
	PhaseStarted   = "started"
	// PhaseError means deployed but the runtime did not start
	PhaseError = "error"
	// PhaseFailed means the deploy itself failed
	PhaseFailed = "failed"
)

// Deployment is what a Deployer receives for one iFlow
type Deployment struct {
	IFlow       catalog.IFlow
	Environment string
	// Params holds cleartext parameter values by name
	Params map[string]string
}

// Deployer performs the two activation phases
type Deployer interface {
	Deploy(ctx context.Context, d Deployment) error
	Start(ctx context.Context, d Deployment) error
}

// ParamSource resolves the configuration of an iFlow, secrets included
type ParamSource interface {
	params.Provider
	Reveal(id string) (string, error)
}

// UnitID is the deployment unit id of an iFlow
func UnitID(iflowID string) string {
	return iflowID + "/deploy"
}

// Units derives one unit per iFlow
func Units(iflows []catalog.IFlow) []tracker.Unit {
	out := make([]tracker.Unit, 0, len(iflows))
	for _, f := range iflows {
		out = append(out, tracker.Unit{
			ID:           UnitID(f.ID),
			OwnerIFlowID: f.ID,
			Name:         f.Name,
			Phase:        PhasePending,
		})
	}
	return out
}

// Runner adapts a Deployer to the tracker
type Runner struct {
	deployer    Deployer
	params      ParamSource
	environment string
	iflows      map[string]catalog.IFlow
}

var _ tracker.Runner = (*Runner)(nil)

// NewRunner creates a runner; ps may be nil when iFlows carry no parameters
func NewRunner(iflows []catalog.IFlow, deployer Deployer, ps ParamSource, environment string) *Runner {
	r := &Runner{
		deployer:    deployer,
		params:      ps,
		environment: environment,
		iflows:      make(map[string]catalog.IFlow, len(iflows)),
	}
	for _, f := range iflows {
		r.iflows[UnitID(f.ID)] = f
	}
	return r
}

// Start implements tracker.Runner
func (r *Runner) Start(ctx context.Context, u tracker.Unit) <-chan tracker.Event {
	return tracker.Go(ctx, func(ctx context.Context, e *tracker.Emitter) error {
		f, ok := r.iflows[u.ID]
		if !ok {
			e.Phase(PhaseFailed, 0)
			return errors.Newf(errors.ErrNotFound, "iflow for %s not found", u.ID)
		}

		e.Phase(PhaseDeploying, 10)
		d, err := r.resolve(ctx, f)
		if err == nil {
			err = r.deployer.Deploy(ctx, d)
		}
		if err != nil {
			e.Phase(PhaseFailed, 0)
			return fmt.Errorf("deploy failed: %w", err)
		}
		e.Phase(PhaseDeployed, 50)

		e.Phase(PhaseStarting, 60)
		if err := r.deployer.Start(ctx, d); err != nil {
			e.Phase(PhaseError, 0)
			return fmt.Errorf("start failed: %w", err)
		}
		e.Phase(PhaseStarted, 99)
		return nil
	})
}

func (r *Runner) resolve(ctx context.Context, f catalog.IFlow) (Deployment, error) {
	d := Deployment{IFlow: f, Environment: r.environment, Params: map[string]string{}}
	if r.params == nil {
		return d, nil
	}
	ps, err := r.params.GetConfigParams(ctx, []string{f.ID}, r.environment)
	if err != nil {
		return d, err
	}
	for _, p := range ps {
		value, err := r.params.Reveal(p.ID)
		if err != nil {
			return d, err
		}
		if p.Required && value == "" {
			return d, errors.Newf(errors.ErrConfiguration, "required parameter %s has no value", p.Name)
		}
		d.Params[p.Name] = value
	}
	return d, nil
}

// NewTracker builds the deployment tracker of one stage activation
func NewTracker(iflows []catalog.IFlow, deployer Deployer, ps ParamSource, environment string, opts ...tracker.Option) (*tracker.Tracker, error) {
	if deployer == nil {
		return nil, errors.New(errors.ErrConfiguration, "deployer is not configured")
	}
	return tracker.New(Kind, Units(iflows), NewRunner(iflows, deployer, ps, environment), opts...)
}

// Unstarted lists units left deployed but not running
func Unstarted(units []tracker.Unit) []tracker.Unit {
	var out []tracker.Unit
	for _, u := range units {
		switch u.Phase {
		case PhaseDeployed, PhaseStarting, PhaseError:
			out = append(out, u)
		}
	}
	return out
}
