// Package params is the per-iFlow, per-environment configuration registry
package params

// ParamType tags the value kind of a parameter
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeSecret  ParamType = "secret"
	TypeURL     ParamType = "url"
)

// String returns the string representation of the type
func (t ParamType) String() string {
	return string(t)
}

// Environments known to the registry
const (
	EnvDev  = "dev"
	EnvQA   = "qa"
	EnvProd = "prod"
)

// Mask replaces stored secret values on read
const Mask = "********"

// ConfigParam is one environment-scoped setting of one iFlow
type ConfigParam struct {
	ID          string    `json:"id" yaml:"id"`
	IFlowID     string    `json:"iflowId" yaml:"iflowId"`
	Environment string    `json:"environment" yaml:"environment"`
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Value       string    `json:"value" yaml:"value"`
	Required    bool      `json:"required" yaml:"required"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// IsSet reports whether the parameter holds a value
func (p ConfigParam) IsSet() bool {
	return p.Value != ""
}

// ValidEnvironment reports whether env is known
func ValidEnvironment(env string) bool {
	switch env {
	case EnvDev, EnvQA, EnvProd:
		return true
	}
	return false
}
