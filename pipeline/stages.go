// Package pipeline orchestrates the eight gated stages of an iFlow
// deployment run. A Run owns its accumulator and decides when the next
// stage becomes reachable; the engines behind each stage live in their
// own packages.
package pipeline

import "fmt"

// StageID identifies a stage, 1 through 8
type StageID int

const (
	StagePackages StageID = iota + 1
	StageIFlows
	StageConfiguration
	StageValidation
	StageDependencies
	StageUpload
	StageDeployment
	StageTests
)

// FirstStage and LastStage bound the stage range
const (
	FirstStage = StagePackages
	LastStage  = StageTests
)

// StageInfo describes one stage
type StageInfo struct {
	ID          StageID `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Gate        string  `json:"gate" yaml:"gate"`
}

var stages = []StageInfo{
	{StagePackages, "package-selection", "Select the integration packages to deliver", "none"},
	{StageIFlows, "iflow-selection", "Select the iFlows of the chosen packages", "none"},
	{StageConfiguration, "configuration", "Review and set externalized parameters", "none"},
	{StageValidation, "design-validation", "Check every iFlow against the design guidelines", "no failed rule"},
	{StageDependencies, "dependency-validation", "Probe the systems the iFlows depend on", "no unavailable dependency"},
	{StageUpload, "artifact-upload", "Upload the artifacts of every iFlow", "every upload completed"},
	{StageDeployment, "deployment", "Deploy and start every iFlow", "every iFlow started"},
	{StageTests, "test-execution", "Run the generated test suites", "no suite running"},
}

// Stages returns the ordered stage definitions
func Stages() []StageInfo {
	return append([]StageInfo(nil), stages...)
}

// Valid reports whether s is within 1..8
func (s StageID) Valid() bool {
	return s >= FirstStage && s <= LastStage
}

// Info returns the definition of s
func (s StageID) Info() StageInfo {
	if !s.Valid() {
		return StageInfo{ID: s, Name: fmt.Sprintf("stage-%d", int(s))}
	}
	return stages[s-1]
}

// String returns the stage name
func (s StageID) String() string {
	return s.Info().Name
}
