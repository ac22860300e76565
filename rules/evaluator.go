package rules

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/params"
)

// Evaluator decides the verdict of one rule against one iFlow.
// A returned error is recorded as a fail verdict.
type Evaluator interface {
	Evaluate(ctx context.Context, iflow catalog.IFlow, rule ValidationRule) (Verdict, string, error)
}

// EvaluatorFunc adapts a function to Evaluator
type EvaluatorFunc func(ctx context.Context, iflow catalog.IFlow, rule ValidationRule) (Verdict, string, error)

// Evaluate implements Evaluator
func (f EvaluatorFunc) Evaluate(ctx context.Context, iflow catalog.IFlow, rule ValidationRule) (Verdict, string, error) {
	return f(ctx, iflow, rule)
}

var (
	namePattern    = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*(_[A-Z0-9][A-Za-z0-9]*)*$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	secretHints    = []string{"password", "credential", "secret", "token", "apikey", "api_key"}
)

// MetadataEvaluator checks rules against catalog metadata and configuration parameters
type MetadataEvaluator struct {
	params      params.Provider
	environment string
}

// NewMetadataEvaluator creates an evaluator reading parameters of one environment
func NewMetadataEvaluator(p params.Provider, environment string) *MetadataEvaluator {
	return &MetadataEvaluator{params: p, environment: environment}
}

// Evaluate implements Evaluator
func (m *MetadataEvaluator) Evaluate(ctx context.Context, iflow catalog.IFlow, rule ValidationRule) (Verdict, string, error) {
	var ps []params.ConfigParam
	if m.params != nil {
		var err error
		ps, err = m.params.GetConfigParams(ctx, []string{iflow.ID}, m.environment)
		if err != nil {
			return VerdictFail, "", err
		}
	}

	ok, detail, err := m.check(iflow, rule, ps)
	if err != nil {
		return VerdictFail, "", err
	}
	if ok {
		return VerdictPass, detail, nil
	}
	if rule.Severity == SeverityError {
		return VerdictFail, detail, nil
	}
	return VerdictWarning, detail, nil
}

func (m *MetadataEvaluator) check(iflow catalog.IFlow, rule ValidationRule, ps []params.ConfigParam) (bool, string, error) {
	switch rule.ID {
	case RuleNamingConvention:
		if !namePattern.MatchString(iflow.Name) {
			return false, fmt.Sprintf("name %q does not follow Capitalised_Words", iflow.Name), nil
		}
		return true, "", nil

	case RuleArtifactNaming:
		for _, a := range iflow.Artifacts {
			if !strings.HasPrefix(a.Name, iflow.Name) {
				return false, fmt.Sprintf("artifact %s is not prefixed with %s", a.Name, iflow.Name), nil
			}
		}
		return true, "", nil

	case RuleDescription:
		if strings.TrimSpace(iflow.Description) == "" {
			return false, "description is empty", nil
		}
		return true, "", nil

	case RuleLifecycle:
		if iflow.Status != catalog.IFlowActive {
			return false, fmt.Sprintf("iflow is %s", iflow.Status), nil
		}
		return true, "", nil

	case RuleSemanticVersion:
		if !versionPattern.MatchString(iflow.Version) {
			return false, fmt.Sprintf("version %q is not MAJOR.MINOR.PATCH", iflow.Version), nil
		}
		return true, "", nil

	case RuleRequiredParams:
		var missing []string
		for _, p := range ps {
			if p.Required && !p.IsSet() {
				missing = append(missing, p.Name)
			}
		}
		if len(missing) > 0 {
			return false, "missing " + strings.Join(missing, ", "), nil
		}
		return true, "", nil

	case RuleExternalEndpoints:
		for _, p := range ps {
			if p.Type == params.TypeURL {
				return true, "", nil
			}
		}
		return false, "no URL parameter externalized", nil

	case RuleSecretsTyped:
		for _, p := range ps {
			lower := strings.ToLower(p.Name)
			for _, hint := range secretHints {
				if strings.Contains(lower, hint) && p.Type != params.TypeSecret {
					return false, fmt.Sprintf("%s looks like a credential but is typed %s", p.Name, p.Type), nil
				}
			}
		}
		return true, "", nil

	case RuleTransportSecurity:
		for _, p := range ps {
			if p.Type != params.TypeURL || !p.IsSet() {
				continue
			}
			u, err := url.Parse(p.Value)
			if err != nil || u.Scheme != "https" {
				return false, fmt.Sprintf("%s does not use https", p.Name), nil
			}
		}
		return true, "", nil

	case RuleTimeoutConfigured:
		for _, p := range ps {
			if !strings.Contains(strings.ToLower(p.Name), "timeout") {
				continue
			}
			secs, err := strconv.ParseFloat(p.Value, 64)
			if err != nil || secs < 1 || secs > 300 {
				return false, fmt.Sprintf("%s=%q outside 1..300s", p.Name, p.Value), nil
			}
			return true, "", nil
		}
		return false, "no timeout parameter", nil

	case RuleTracingInProd:
		if m.environment != params.EnvProd {
			return true, "", nil
		}
		for _, p := range ps {
			if p.Type == params.TypeBoolean && strings.Contains(strings.ToLower(p.Name), "trac") && p.Value == "true" {
				return false, p.Name + " is enabled in production", nil
			}
		}
		return true, "", nil

	case RuleComplexityBudget:
		if iflow.Complexity == catalog.ComplexityHigh {
			return false, "high complexity", nil
		}
		return true, "", nil
	}

	return false, "", fmt.Errorf("no check implemented for rule %s", rule.ID)
}
