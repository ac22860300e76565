// Package iflowpipe drives iFlows through the eight stage deployment pipeline
package iflowpipe

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/config"
	"github.com/davidroman0O/iflowpipe/dependencies"
	"github.com/davidroman0O/iflowpipe/deploy"
	"github.com/davidroman0O/iflowpipe/logging"
	"github.com/davidroman0O/iflowpipe/metrics"
	"github.com/davidroman0O/iflowpipe/params"
	"github.com/davidroman0O/iflowpipe/pipeline"
	"github.com/davidroman0O/iflowpipe/rules"
	"github.com/davidroman0O/iflowpipe/simulate"
	"github.com/davidroman0O/iflowpipe/testrun"
	"github.com/davidroman0O/iflowpipe/tracker"
	"github.com/davidroman0O/iflowpipe/upload"
)

// ParamStore is the configuration registry as the session uses it
type ParamStore interface {
	params.Provider
	Set(ctx context.Context, id, value string) error
	Reveal(id string) (string, error)
	Missing(ctx context.Context, iflowIDs []string, environment string) ([]params.ConfigParam, error)
}

// Session is the main entry point: one pipeline run plus the engines of
// every stage
type Session struct {
	// Configuration
	cfg     *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
	fs      billy.Filesystem

	// Collaborators
	catalog     catalog.Provider
	params      ParamStore
	rules       rules.CatalogProvider
	evaluator   rules.Evaluator
	depProvider dependencies.Provider
	checker     dependencies.Checker
	transport   upload.Transport
	source      upload.Source
	deployer    deploy.Deployer
	testRunner  testrun.Runner
	closers     []io.Closer

	run  *pipeline.Run
	repo *pipeline.FileRepository

	// Stage engines, created once per activation and reused on re-entry
	mu      sync.Mutex
	iflows  []catalog.IFlow
	prober  *dependencies.Prober
	uploads *tracker.Tracker
	deploys *tracker.Tracker
	tests   *testrun.Execution
	// restored holds the stage outcomes of a resumed run; engines built
	// after Resume start from them
	restored pipeline.View
}

// Option defines configuration options for Session
type Option func(*Session) error

// WithConfig uses cfg instead of config.Default()
func WithConfig(cfg *config.Config) Option {
	return func(s *Session) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		s.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from a file
func WithConfigFile(path string) Option {
	return func(s *Session) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
		s.cfg = cfg
		return nil
	}
}

// WithLogger sets the logger shared by every engine
func WithLogger(l logging.Logger) Option {
	return func(s *Session) error {
		s.logger = logging.OrNop(l)
		return nil
	}
}

// WithCatalog replaces the demo catalog
func WithCatalog(p catalog.Provider) Option {
	return func(s *Session) error {
		s.catalog = p
		return nil
	}
}

// WithParams replaces the in-memory configuration registry
func WithParams(p ParamStore) Option {
	return func(s *Session) error {
		s.params = p
		return nil
	}
}

// WithRules replaces the default rule catalog
func WithRules(p rules.CatalogProvider) Option {
	return func(s *Session) error {
		s.rules = p
		return nil
	}
}

// WithEvaluator overrides the configured rule evaluator
func WithEvaluator(ev rules.Evaluator) Option {
	return func(s *Session) error {
		s.evaluator = ev
		return nil
	}
}

// WithDependencyProvider replaces the catalog-backed dependency provider
func WithDependencyProvider(p dependencies.Provider) Option {
	return func(s *Session) error {
		s.depProvider = p
		return nil
	}
}

// WithChecker overrides how catalog dependencies are probed
func WithChecker(c dependencies.Checker) Option {
	return func(s *Session) error {
		s.checker = c
		return nil
	}
}

// WithTransport overrides the configured upload transport
func WithTransport(t upload.Transport) Option {
	return func(s *Session) error {
		s.transport = t
		return nil
	}
}

// WithSource overrides where artifact bytes are read from
func WithSource(src upload.Source) Option {
	return func(s *Session) error {
		s.source = src
		return nil
	}
}

// WithDeployer overrides the simulated deployer
func WithDeployer(d deploy.Deployer) Option {
	return func(s *Session) error {
		s.deployer = d
		return nil
	}
}

// WithTestRunner overrides the configured test runner
func WithTestRunner(r testrun.Runner) Option {
	return func(s *Session) error {
		s.testRunner = r
		return nil
	}
}

// WithMetrics records pipeline metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) error {
		s.metrics = m
		return nil
	}
}

// WithFilesystem sets where reports and state are written
func WithFilesystem(fs billy.Filesystem) Option {
	return func(s *Session) error {
		s.fs = fs
		return nil
	}
}

// New creates a Session. Anything not provided through options is built
// from the configuration, falling back to simulated providers.
func New(opts ...Option) (*Session, error) {
	s := &Session{
		cfg:    config.Default(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.initialize(); err != nil {
		s.Close()
		return nil, err
	}

	s.run = pipeline.NewRun(
		pipeline.WithRequirePassingTests(s.cfg.Gates.RequirePassingTests),
		pipeline.WithLogger(logging.Named(s.logger, "pipeline")),
		pipeline.WithMetrics(s.metrics),
	)
	if s.cfg.State.Path != "" {
		s.repo = pipeline.NewFileRepository(s.fs, s.cfg.State.Path)
	}
	s.logger.Info("session %s ready (environment %s, transport %s, runner %s)",
		s.run.ID(), s.cfg.Environment, s.cfg.Upload.Transport, s.cfg.Testing.Runner)
	return s, nil
}

func (s *Session) initialize() error {
	sim := simulate.New(s.cfg.Simulation)

	if s.fs == nil {
		s.fs = osfs.New(".")
	}
	if s.catalog == nil {
		s.catalog = catalog.NewDefault()
	}
	if s.params == nil {
		key, err := s.cfg.SecretKey()
		if err != nil {
			return err
		}
		reg, err := params.NewRegistry(params.WithKey(key), params.WithLogger(logging.Named(s.logger, "params")))
		if err != nil {
			return err
		}
		s.params = reg
	}
	if s.rules == nil {
		s.rules = rules.NewCatalog(rules.DefaultCatalog())
	}
	if s.evaluator == nil {
		if s.cfg.Rules.Evaluator == config.EvaluatorSimulated {
			s.evaluator = sim.Evaluator()
		} else {
			s.evaluator = rules.NewMetadataEvaluator(s.params, s.cfg.Environment)
		}
	}
	if s.checker == nil {
		if s.cfg.Probe.Checker == config.CheckerTCP {
			s.checker = dependencies.TCPChecker{Timeout: s.cfg.Probe.Timeout, SlowAfter: s.cfg.Probe.SlowAfter}
		} else {
			s.checker = sim.Checker()
		}
	}
	if s.transport == nil {
		t, err := s.newTransport(sim)
		if err != nil {
			return err
		}
		s.transport = t
	}
	if s.source == nil {
		if s.cfg.Upload.SourceDir != "" {
			s.source = upload.DirSource{Dir: s.cfg.Upload.SourceDir}
		} else {
			s.source = upload.SyntheticSource{}
		}
	}
	if s.deployer == nil {
		s.deployer = sim.Deployer()
	}
	if s.testRunner == nil {
		r, err := s.newTestRunner(sim)
		if err != nil {
			return err
		}
		s.testRunner = r
	}
	return nil
}

func (s *Session) newTransport(sim *simulate.Simulator) (upload.Transport, error) {
	switch s.cfg.Upload.Transport {
	case config.TransportSFTP:
		t := upload.NewSFTPTransport(s.cfg.Upload.SFTP, logging.Named(s.logger, "sftp"))
		s.closers = append(s.closers, t)
		return t, nil
	case config.TransportS3:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return upload.NewS3TransportFromConfig(ctx, s.cfg.Upload.S3)
	default:
		return sim.Transport(), nil
	}
}

func (s *Session) newTestRunner(sim *simulate.Simulator) (testrun.Runner, error) {
	if s.cfg.Testing.Runner != config.RunnerContainer {
		return sim.TestRunner(), nil
	}
	execer, err := testrun.NewDockerExecer()
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, execer)
	return testrun.NewContainerRunner(execer, s.cfg.Testing.ContainerID, s.cfg.Testing.Command), nil
}

// Close releases transport connections and the docker client
func (s *Session) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// ID returns the run id
func (s *Session) ID() string {
	return s.run.ID()
}

// Config returns the active configuration
func (s *Session) Config() *config.Config {
	return s.cfg
}

// Current returns the stage the run waits on
func (s *Session) Current() pipeline.StageID {
	return s.run.Current()
}

// Finished reports whether the last stage was completed
func (s *Session) Finished() bool {
	return s.run.Finished()
}

// Run exposes the underlying pipeline run
func (s *Session) Run() *pipeline.Run {
	return s.run
}

func (s *Session) trackerOptions(name string) []tracker.Option {
	return []tracker.Option{
		tracker.WithConcurrency(s.cfg.Tracker.Concurrency),
		tracker.WithLogger(logging.Named(s.logger, name)),
		tracker.WithMetrics(s.metrics),
	}
}
