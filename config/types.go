// Package config provides configuration structures and loading utilities
package config

import "time"

// Transport names accepted by upload.transport
const (
	TransportSimulated = "simulated"
	TransportSFTP      = "sftp"
	TransportS3        = "s3"
)

// Test runner names accepted by testing.runner
const (
	RunnerSimulated = "simulated"
	RunnerContainer = "container"
)

// Evaluator names accepted by rules.evaluator
const (
	EvaluatorMetadata  = "metadata"
	EvaluatorSimulated = "simulated"
)

// Dependency checkers accepted by probe.checker
const (
	CheckerSimulated = "simulated"
	CheckerTCP       = "tcp"
)

// Report formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Config represents the top-level configuration file structure
type Config struct {
	// Environment selects the configuration registry environment (dev, qa, prod)
	Environment string           `yaml:"environment" json:"environment"`
	Logging     LoggingConfig    `yaml:"logging" json:"logging"`
	Tracker     TrackerConfig    `yaml:"tracker" json:"tracker"`
	Gates       GatesConfig      `yaml:"gates" json:"gates"`
	Rules       RulesConfig      `yaml:"rules" json:"rules"`
	Simulation  SimulationConfig `yaml:"simulation" json:"simulation"`
	Probe       ProbeConfig      `yaml:"probe" json:"probe"`
	Secrets     SecretsConfig    `yaml:"secrets" json:"secrets"`
	Upload      UploadConfig     `yaml:"upload" json:"upload"`
	Testing     TestingConfig    `yaml:"testing" json:"testing"`
	Report      ReportConfig     `yaml:"report" json:"report"`
	State       StateConfig      `yaml:"state" json:"state"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// TrackerConfig bounds the worker pool of every task tracker
type TrackerConfig struct {
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// GatesConfig tunes stage gates
type GatesConfig struct {
	// RequirePassingTests refuses the final completion while any test case failed
	RequirePassingTests bool `yaml:"requirePassingTests" json:"requirePassingTests"`
}

// RulesConfig selects the design rule evaluator
type RulesConfig struct {
	Evaluator string `yaml:"evaluator" json:"evaluator"`
}

// SimulationConfig drives the simulated outcome providers
type SimulationConfig struct {
	Seed    int64         `yaml:"seed" json:"seed"`
	Latency time.Duration `yaml:"latency" json:"latency"`

	RuleFailRate              float64 `yaml:"ruleFailRate" json:"ruleFailRate"`
	RuleWarnRate              float64 `yaml:"ruleWarnRate" json:"ruleWarnRate"`
	DependencyWarnRate        float64 `yaml:"dependencyWarnRate" json:"dependencyWarnRate"`
	DependencyUnavailableRate float64 `yaml:"dependencyUnavailableRate" json:"dependencyUnavailableRate"`
	UploadFailRate            float64 `yaml:"uploadFailRate" json:"uploadFailRate"`
	DeployFailRate            float64 `yaml:"deployFailRate" json:"deployFailRate"`
	StartFailRate             float64 `yaml:"startFailRate" json:"startFailRate"`
	TestFailRate              float64 `yaml:"testFailRate" json:"testFailRate"`
	TestSkipRate              float64 `yaml:"testSkipRate" json:"testSkipRate"`
}

// ProbeConfig throttles dependency probes
type ProbeConfig struct {
	RatePerSecond float64       `yaml:"ratePerSecond" json:"ratePerSecond"`
	Burst         int           `yaml:"burst" json:"burst"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	// Checker is "simulated" or "tcp" (dial each dependency endpoint)
	Checker string `yaml:"checker" json:"checker"`
	// SlowAfter marks endpoints slower than this as warning (tcp only)
	SlowAfter time.Duration `yaml:"slowAfter" json:"slowAfter"`
}

// SecretsConfig holds the key sealing secret parameters
type SecretsConfig struct {
	// Key is 32 bytes hex encoded; empty generates an ephemeral key
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
}

// UploadConfig selects the artifact transport
type UploadConfig struct {
	Transport string     `yaml:"transport" json:"transport"`
	SourceDir string     `yaml:"sourceDir,omitempty" json:"sourceDir,omitempty"`
	SFTP      SFTPConfig `yaml:"sftp,omitempty" json:"sftp,omitempty"`
	S3        S3Config   `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// SFTPConfig contains SFTP connection details
type SFTPConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	User      string `yaml:"user" json:"user"`
	Password  string `yaml:"password,omitempty" json:"password,omitempty"`
	RemoteDir string `yaml:"remoteDir" json:"remoteDir"`
}

// S3Config contains the upload bucket
type S3Config struct {
	Bucket string `yaml:"bucket" json:"bucket"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
}

// TestingConfig selects the test case runner
type TestingConfig struct {
	Runner      string `yaml:"runner" json:"runner"`
	ContainerID string `yaml:"containerID,omitempty" json:"containerID,omitempty"`
	// Command is run inside the container; {iflow}, {case} and {category} are substituted
	Command string `yaml:"command,omitempty" json:"command,omitempty"`
}

// ReportConfig controls report export
type ReportConfig struct {
	Dir    string `yaml:"dir" json:"dir"`
	Format string `yaml:"format" json:"format"`
}

// StateConfig enables resumable runs
type StateConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}
