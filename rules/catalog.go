package rules

import (
	"context"

	"github.com/davidroman0O/iflowpipe/errors"
)

// CatalogProvider lists the rules to evaluate
type CatalogProvider interface {
	ListRules(ctx context.Context) ([]ValidationRule, error)
}

// StaticCatalog serves a fixed rule list
type StaticCatalog struct {
	rules []ValidationRule
}

// NewCatalog creates a catalog over a copy of rules
func NewCatalog(rules []ValidationRule) *StaticCatalog {
	return &StaticCatalog{rules: append([]ValidationRule(nil), rules...)}
}

// ListRules returns a copy of the catalog
func (c *StaticCatalog) ListRules(ctx context.Context) ([]ValidationRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	return append([]ValidationRule(nil), c.rules...), nil
}

// Rule IDs of the default catalog
const (
	RuleNamingConvention  = "NAM-001"
	RuleArtifactNaming    = "NAM-002"
	RuleDescription       = "DOC-001"
	RuleLifecycle         = "DOC-002"
	RuleSemanticVersion   = "CFG-001"
	RuleRequiredParams    = "CFG-002"
	RuleExternalEndpoints = "CFG-003"
	RuleSecretsTyped      = "SEC-001"
	RuleTransportSecurity = "SEC-002"
	RuleTimeoutConfigured = "ERR-001"
	RuleTracingInProd     = "LOG-001"
	RuleComplexityBudget  = "PRF-001"
)

// DefaultCatalog returns the built-in rule set
func DefaultCatalog() []ValidationRule {
	return []ValidationRule{
		{ID: RuleNamingConvention, Name: "iFlow naming convention", Category: CategoryNaming, Severity: SeverityError, Weight: 10,
			Description: "iFlow names are Capitalised_Words joined by underscores"},
		{ID: RuleArtifactNaming, Name: "Artifact naming", Category: CategoryNaming, Severity: SeverityWarning, Weight: 5,
			Description: "Artifact file names start with the iFlow name"},
		{ID: RuleDescription, Name: "Description present", Category: CategoryDocumentation, Severity: SeverityWarning, Weight: 5,
			Description: "Every iFlow documents its purpose"},
		{ID: RuleLifecycle, Name: "Active lifecycle", Category: CategoryDocumentation, Severity: SeverityInfo, Weight: 2,
			Description: "Deprecated or draft iFlows should not be promoted"},
		{ID: RuleSemanticVersion, Name: "Semantic version", Category: CategoryConfiguration, Severity: SeverityError, Weight: 5,
			Description: "Version follows MAJOR.MINOR.PATCH"},
		{ID: RuleRequiredParams, Name: "Required parameters set", Category: CategoryConfiguration, Severity: SeverityError, Weight: 10,
			Description: "Every required externalized parameter holds a value"},
		{ID: RuleExternalEndpoints, Name: "Externalized endpoints", Category: CategoryConfiguration, Severity: SeverityWarning, Weight: 5,
			Description: "Receiver endpoints are externalized as URL parameters"},
		{ID: RuleSecretsTyped, Name: "Credentials typed as secret", Category: CategorySecurity, Severity: SeverityError, Weight: 10,
			Description: "Parameters carrying credentials use the secret type"},
		{ID: RuleTransportSecurity, Name: "Encrypted transport", Category: CategorySecurity, Severity: SeverityError, Weight: 10,
			Description: "Endpoint parameters use https"},
		{ID: RuleTimeoutConfigured, Name: "Receiver timeout", Category: CategoryErrorHandling, Severity: SeverityWarning, Weight: 5,
			Description: "A receiver timeout between 1 and 300 seconds is configured"},
		{ID: RuleTracingInProd, Name: "Tracing in production", Category: CategoryLogging, Severity: SeverityWarning, Weight: 3,
			Description: "Trace-level message logs are off in production"},
		{ID: RuleComplexityBudget, Name: "Complexity budget", Category: CategoryPerformance, Severity: SeverityWarning, Weight: 5,
			Description: "High complexity iFlows are flagged for performance review"},
	}
}
