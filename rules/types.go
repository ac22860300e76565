// Package rules evaluates integration flows against a weighted compliance catalog
package rules

// Category groups rules by concern
type Category string

const (
	CategoryNaming        Category = "naming"
	CategorySecurity      Category = "security"
	CategoryErrorHandling Category = "error-handling"
	CategoryLogging       Category = "logging"
	CategoryPerformance   Category = "performance"
	CategoryDocumentation Category = "documentation"
	CategoryConfiguration Category = "configuration"
)

// Severity says how much a violated rule matters
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Verdict is the outcome of one rule against one iFlow
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictWarning Verdict = "warning"
	VerdictFail    Verdict = "fail"
)

// Credit is the share of a rule's weight a verdict earns
func (v Verdict) Credit() float64 {
	switch v {
	case VerdictPass:
		return 1.0
	case VerdictWarning:
		return 0.5
	default:
		return 0
	}
}

// Valid reports whether v is a known verdict
func (v Verdict) Valid() bool {
	return v == VerdictPass || v == VerdictWarning || v == VerdictFail
}

// ValidationRule is one immutable compliance rule
type ValidationRule struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Category    Category `json:"category" yaml:"category"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Weight      float64  `json:"weight" yaml:"weight"`
	Description string   `json:"description" yaml:"description"`
}

// Result is the verdict of one rule against one iFlow
type Result struct {
	IFlowID string  `json:"iflowId" yaml:"iflowId"`
	RuleID  string  `json:"ruleId" yaml:"ruleId"`
	Verdict Verdict `json:"verdict" yaml:"verdict"`
	Detail  string  `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// IFlowScore aggregates the results of one iFlow
type IFlowScore struct {
	Score    float64 `json:"score" yaml:"score"`
	Passed   int     `json:"passed" yaml:"passed"`
	Warnings int     `json:"warnings" yaml:"warnings"`
	Failed   int     `json:"failed" yaml:"failed"`
}

// Summary is the outcome of one validation run
type Summary struct {
	Results      []Result              `json:"results" yaml:"results"`
	IFlows       map[string]IFlowScore `json:"iflows" yaml:"iflows"`
	Overall      float64               `json:"overall" yaml:"overall"`
	FailCount    int                   `json:"failCount" yaml:"failCount"`
	WarningCount int                   `json:"warningCount" yaml:"warningCount"`
	PassCount    int                   `json:"passCount" yaml:"passCount"`
}
