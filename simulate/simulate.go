// Package simulate provides seeded, configurable outcome providers for
// every stage engine so a pipeline can run without a tenant.
package simulate

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/config"
	"github.com/davidroman0O/iflowpipe/dependencies"
	"github.com/davidroman0O/iflowpipe/deploy"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/rules"
	"github.com/davidroman0O/iflowpipe/testrun"
	"github.com/davidroman0O/iflowpipe/upload"
)

// Dice is a mutex-guarded seeded random source
type Dice struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDice creates dice from a seed
func NewDice(seed int64) *Dice {
	return &Dice{rng: rand.New(rand.NewSource(seed))}
}

// Roll reports true with probability rate. 0 never and 1 always succeed
// without consuming randomness.
func (d *Dice) Roll(rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Float64() < rate
}

// Pick returns 0 with probability first, 1 with probability second, else 2
func (d *Dice) Pick(first, second float64) int {
	if first >= 1 {
		return 0
	}
	if first <= 0 && second <= 0 {
		return 2
	}
	d.mu.Lock()
	v := d.rng.Float64()
	d.mu.Unlock()
	switch {
	case v < first:
		return 0
	case v < first+second:
		return 1
	default:
		return 2
	}
}

// Simulator rolls outcomes from the configured rates
type Simulator struct {
	dice  *Dice
	rates config.SimulationConfig
}

// New creates a simulator from the simulation section of the config
func New(cfg config.SimulationConfig) *Simulator {
	return &Simulator{dice: NewDice(cfg.Seed), rates: cfg}
}

// Rates returns the active configuration
func (s *Simulator) Rates() config.SimulationConfig {
	return s.rates
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.rates.Latency <= 0 {
		return errors.FromContext(ctx.Err())
	}
	timer := time.NewTimer(s.rates.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.FromContext(ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Evaluator returns a rule evaluator
func (s *Simulator) Evaluator() rules.Evaluator {
	return rules.EvaluatorFunc(func(ctx context.Context, f catalog.IFlow, r rules.ValidationRule) (rules.Verdict, string, error) {
		if err := s.wait(ctx); err != nil {
			return rules.VerdictFail, "", err
		}
		switch s.dice.Pick(s.rates.RuleFailRate, s.rates.RuleWarnRate) {
		case 0:
			return rules.VerdictFail, fmt.Sprintf("%s: violation found in %s", r.Name, f.Name), nil
		case 1:
			return rules.VerdictWarning, fmt.Sprintf("%s: partially satisfied", r.Name), nil
		default:
			return rules.VerdictPass, "", nil
		}
	})
}

// Checker returns a dependency checker
func (s *Simulator) Checker() dependencies.Checker {
	return dependencies.CheckerFunc(func(ctx context.Context, d dependencies.Dependency) (dependencies.Status, string, error) {
		if err := s.wait(ctx); err != nil {
			return dependencies.StatusUnknown, "", err
		}
		switch s.dice.Pick(s.rates.DependencyUnavailableRate, s.rates.DependencyWarnRate) {
		case 0:
			return dependencies.StatusUnavailable, fmt.Sprintf("%s did not respond", d.Name), nil
		case 1:
			return dependencies.StatusWarning, fmt.Sprintf("%s responded slowly", d.Name), nil
		default:
			return dependencies.StatusAvailable, "reachable", nil
		}
	})
}

// Transport returns an upload transport that discards the bytes
func (s *Simulator) Transport() upload.Transport {
	return &transport{sim: s}
}

type transport struct {
	sim *Simulator
}

func (t *transport) Upload(ctx context.Context, a catalog.Artifact, r io.Reader, size int64, progress upload.ProgressFunc) error {
	if err := t.sim.wait(ctx); err != nil {
		return err
	}
	fail := t.sim.dice.Roll(t.sim.rates.UploadFailRate)
	pr := upload.NewProgressReader(r, size, progress)
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return errors.FromContext(err)
		}
		_, err := pr.Read(buf)
		if fail && pr.Done() >= size/2 {
			return errors.Newf(errors.ErrTransport, "connection reset while uploading %s", a.Name)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrTransport, "read artifact")
		}
	}
}

// Deployer returns a two-phase deployer
func (s *Simulator) Deployer() deploy.Deployer {
	return &deployer{sim: s}
}

type deployer struct {
	sim *Simulator
}

func (d *deployer) Deploy(ctx context.Context, dep deploy.Deployment) error {
	if err := d.sim.wait(ctx); err != nil {
		return err
	}
	if d.sim.dice.Roll(d.sim.rates.DeployFailRate) {
		return errors.Newf(errors.ErrTransport, "tenant rejected %s", dep.IFlow.Name)
	}
	return nil
}

func (d *deployer) Start(ctx context.Context, dep deploy.Deployment) error {
	if err := d.sim.wait(ctx); err != nil {
		return err
	}
	if d.sim.dice.Roll(d.sim.rates.StartFailRate) {
		return errors.Newf(errors.ErrTransport, "runtime of %s stayed in ERROR", dep.IFlow.Name)
	}
	return nil
}

// TestRunner returns a test case runner
func (s *Simulator) TestRunner() testrun.Runner {
	return testrun.RunnerFunc(func(ctx context.Context, tc testrun.TestCase) (testrun.Result, error) {
		started := time.Now()
		if err := s.wait(ctx); err != nil {
			return testrun.Result{}, err
		}
		elapsed := time.Since(started)
		switch s.dice.Pick(s.rates.TestFailRate, s.rates.TestSkipRate) {
		case 0:
			return testrun.Result{Status: testrun.CaseFailed, Message: fmt.Sprintf("%s: unexpected response", tc.Name), Duration: elapsed}, nil
		case 1:
			return testrun.Result{Status: testrun.CaseSkipped, Message: "precondition not met", Duration: elapsed}, nil
		default:
			return testrun.Result{Status: testrun.CasePassed, Duration: elapsed}, nil
		}
	})
}
