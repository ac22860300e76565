// Package dependencies probes the external systems integration flows rely on
package dependencies

import "time"

// Type groups dependencies for display
type Type string

const (
	TypeSystem  Type = "system"
	TypeService Type = "service"
	TypeIFlow   Type = "iflow"
	TypeData    Type = "data"
)

// Types lists every dependency type in display order
func Types() []Type {
	return []Type{TypeSystem, TypeService, TypeIFlow, TypeData}
}

// Status is the last known health of a dependency
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusAvailable   Status = "available"
	StatusWarning     Status = "warning"
	StatusUnavailable Status = "unavailable"
)

// Dependency is one external link required by an iFlow
type Dependency struct {
	ID            string    `json:"id" yaml:"id"`
	IFlowID       string    `json:"iflowId" yaml:"iflowId"`
	Name          string    `json:"name" yaml:"name"`
	Type          Type      `json:"type" yaml:"type"`
	Endpoint      string    `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Status        Status    `json:"status" yaml:"status"`
	LastCheckedAt time.Time `json:"lastCheckedAt,omitempty" yaml:"lastCheckedAt,omitempty"`
	Message       string    `json:"message,omitempty" yaml:"message,omitempty"`
}

// Summary counts dependencies by status
type Summary struct {
	Total       int `json:"total" yaml:"total"`
	Available   int `json:"available" yaml:"available"`
	Warning     int `json:"warning" yaml:"warning"`
	Unavailable int `json:"unavailable" yaml:"unavailable"`
	Unknown     int `json:"unknown" yaml:"unknown"`
}

// Summarize counts a dependency list
func Summarize(deps []Dependency) Summary {
	s := Summary{Total: len(deps)}
	for _, d := range deps {
		switch d.Status {
		case StatusAvailable:
			s.Available++
		case StatusWarning:
			s.Warning++
		case StatusUnavailable:
			s.Unavailable++
		default:
			s.Unknown++
		}
	}
	return s
}
