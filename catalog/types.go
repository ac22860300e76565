// Package catalog holds the read-only packages and integration flows a run selects from
package catalog

// Complexity grades how much work an iFlow represents
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// String returns the string representation of the complexity
func (c Complexity) String() string {
	return string(c)
}

// Valid reports whether c is a known complexity
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	}
	return false
}

// IFlowStatus is the lifecycle state of an iFlow in the design-time repository
type IFlowStatus string

const (
	IFlowDraft      IFlowStatus = "draft"
	IFlowActive     IFlowStatus = "active"
	IFlowDeprecated IFlowStatus = "deprecated"
)

// String returns the string representation of the status
func (s IFlowStatus) String() string {
	return string(s)
}

// ArtifactKind identifies what an uploadable artifact contains
type ArtifactKind string

const (
	KindIFlowArchive ArtifactKind = "iflow-archive"
	KindParameters   ArtifactKind = "parameters"
	KindScript       ArtifactKind = "script"
	KindMapping      ArtifactKind = "mapping"
)

// String returns the string representation of the kind
func (k ArtifactKind) String() string {
	return string(k)
}

// Package is a deployable unit of integration content
type Package struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string `yaml:"version" json:"version"`
	Author      string `yaml:"author" json:"author"`
	// IFlowCount is derived from the catalog contents
	IFlowCount int `yaml:"-" json:"iflowCount"`
}

// IFlow is a single integration flow belonging to a package
type IFlow struct {
	ID           string           `yaml:"id" json:"id"`
	Name         string           `yaml:"name" json:"name"`
	PackageID    string           `yaml:"packageId" json:"packageId"`
	Description  string           `yaml:"description,omitempty" json:"description,omitempty"`
	Version      string           `yaml:"version" json:"version"`
	Complexity   Complexity       `yaml:"complexity" json:"complexity"`
	Status       IFlowStatus      `yaml:"status" json:"status"`
	Artifacts    []Artifact       `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Dependencies []DependencySpec `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Artifact is one uploadable file of an iFlow
type Artifact struct {
	ID        string       `yaml:"id" json:"id"`
	IFlowID   string       `yaml:"iflowId" json:"iflowId"`
	Name      string       `yaml:"name" json:"name"`
	Kind      ArtifactKind `yaml:"kind" json:"kind"`
	SizeBytes int64        `yaml:"sizeBytes" json:"sizeBytes"`
}

// DependencySpec declares an external link an iFlow needs at runtime
type DependencySpec struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}
