package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/morrisxyang/xreflect"
	"gopkg.in/yaml.v3"

	"github.com/davidroman0O/iflowpipe/errors"
)

// Default returns a runnable, fully simulated configuration
func Default() *Config {
	return &Config{
		Environment: "dev",
		Logging:     LoggingConfig{Level: "info"},
		Tracker:     TrackerConfig{Concurrency: 4},
		Rules:       RulesConfig{Evaluator: EvaluatorMetadata},
		Simulation: SimulationConfig{
			Seed:    1,
			Latency: 10 * time.Millisecond,
		},
		Probe: ProbeConfig{
			RatePerSecond: 50,
			Burst:         10,
			Timeout:       3 * time.Second,
			Checker:       CheckerSimulated,
		},
		Upload:  UploadConfig{Transport: TransportSimulated},
		Testing: TestingConfig{Runner: RunnerSimulated, Command: "run-test --iflow {iflow} --case {case}"},
		Report:  ReportConfig{Dir: "reports", Format: FormatJSON},
	}
}

// LoadFile reads a YAML or JSON configuration on top of Default
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to read config file")
	}

	cfg := Default()
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to parse YAML config")
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to parse JSON config")
		}
	default:
		return nil, errors.Newf(errors.ErrConfiguration, "unsupported config file format: %s", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engines cannot run with
func (c *Config) Validate() error {
	if c.Tracker.Concurrency < 1 {
		return errors.Newf(errors.ErrConfiguration, "tracker.concurrency must be >= 1, got %d", c.Tracker.Concurrency)
	}

	rates := map[string]float64{
		"ruleFailRate":              c.Simulation.RuleFailRate,
		"ruleWarnRate":              c.Simulation.RuleWarnRate,
		"dependencyWarnRate":        c.Simulation.DependencyWarnRate,
		"dependencyUnavailableRate": c.Simulation.DependencyUnavailableRate,
		"uploadFailRate":            c.Simulation.UploadFailRate,
		"deployFailRate":            c.Simulation.DeployFailRate,
		"startFailRate":             c.Simulation.StartFailRate,
		"testFailRate":              c.Simulation.TestFailRate,
		"testSkipRate":              c.Simulation.TestSkipRate,
	}
	for name, r := range rates {
		if r < 0 || r > 1 {
			return errors.Newf(errors.ErrConfiguration, "simulation.%s must be within [0,1], got %v", name, r)
		}
	}
	if c.Simulation.RuleFailRate+c.Simulation.RuleWarnRate > 1 {
		return errors.New(errors.ErrConfiguration, "simulation.ruleFailRate + ruleWarnRate exceeds 1")
	}
	if c.Simulation.DependencyWarnRate+c.Simulation.DependencyUnavailableRate > 1 {
		return errors.New(errors.ErrConfiguration, "simulation dependency rates exceed 1")
	}
	if c.Simulation.TestFailRate+c.Simulation.TestSkipRate > 1 {
		return errors.New(errors.ErrConfiguration, "simulation.testFailRate + testSkipRate exceeds 1")
	}

	switch c.Rules.Evaluator {
	case EvaluatorMetadata, EvaluatorSimulated:
	default:
		return errors.Newf(errors.ErrConfiguration, "unknown rule evaluator %q", c.Rules.Evaluator)
	}

	switch c.Probe.Checker {
	case "", CheckerSimulated, CheckerTCP:
	default:
		return errors.Newf(errors.ErrConfiguration, "unknown dependency checker %q", c.Probe.Checker)
	}

	switch c.Upload.Transport {
	case TransportSimulated:
	case TransportSFTP:
		if c.Upload.SFTP.Host == "" || c.Upload.SFTP.User == "" {
			return errors.New(errors.ErrConfiguration, "upload.sftp requires host and user")
		}
	case TransportS3:
		if c.Upload.S3.Bucket == "" {
			return errors.New(errors.ErrConfiguration, "upload.s3.bucket is required")
		}
	default:
		return errors.Newf(errors.ErrConfiguration, "unknown upload transport %q", c.Upload.Transport)
	}

	switch c.Testing.Runner {
	case RunnerSimulated:
	case RunnerContainer:
		if c.Testing.ContainerID == "" {
			return errors.New(errors.ErrConfiguration, "testing.containerID is required for the container runner")
		}
	default:
		return errors.Newf(errors.ErrConfiguration, "unknown test runner %q", c.Testing.Runner)
	}

	switch c.Report.Format {
	case FormatJSON, FormatYAML:
	default:
		return errors.Newf(errors.ErrConfiguration, "unknown report format %q", c.Report.Format)
	}

	if c.Secrets.Key != "" {
		if _, err := c.SecretKey(); err != nil {
			return err
		}
	}
	return nil
}

// SecretKey decodes the configured secret key; nil when none is set
func (c *Config) SecretKey() (*[32]byte, error) {
	if c.Secrets.Key == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(c.Secrets.Key)
	if err != nil || len(raw) != 32 {
		return nil, errors.New(errors.ErrConfiguration, "secrets.key must be 32 bytes hex encoded")
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// ApplyOverrides sets fields by dotted Go field path, e.g. "Tracker.Concurrency=8"
func ApplyOverrides(cfg *Config, overrides map[string]string) error {
	for path, raw := range overrides {
		current, err := xreflect.EmbedFieldValue(cfg, path)
		if err != nil {
			return errors.Wrap(err, errors.ErrInvalidInput, fmt.Sprintf("unknown config field %s", path))
		}

		value, err := convert(reflect.TypeOf(current), raw)
		if err != nil {
			return errors.Wrap(err, errors.ErrInvalidInput, fmt.Sprintf("invalid value for %s", path))
		}

		if err := xreflect.SetEmbedField(cfg, path, value); err != nil {
			return errors.Wrap(err, errors.ErrInvalidInput, fmt.Sprintf("failed to set %s", path))
		}
	}
	return cfg.Validate()
}

// ParseOverrides splits k=v pairs from the command line
func ParseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, errors.Newf(errors.ErrInvalidInput, "invalid override %q (expected Field.Path=value)", p)
		}
		out[k] = v
	}
	return out, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func convert(t reflect.Type, raw string) (interface{}, error) {
	if t == durationType {
		return time.ParseDuration(raw)
	}
	switch t.Kind() {
	case reflect.String:
		return raw, nil
	case reflect.Bool:
		return strconv.ParseBool(raw)
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		return n, err
	case reflect.Int64:
		return strconv.ParseInt(raw, 10, 64)
	case reflect.Float64:
		return strconv.ParseFloat(raw, 64)
	default:
		return nil, fmt.Errorf("unsupported field kind %s", t.Kind())
	}
}
