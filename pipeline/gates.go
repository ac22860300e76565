package pipeline

import (
	"fmt"

	"github.com/davidroman0O/iflowpipe/deploy"
	"github.com/davidroman0O/iflowpipe/tracker"
)

// GateResult is the decision on leaving a stage. Blocking counts the
// items that keep the gate closed.
type GateResult struct {
	Stage    StageID `json:"stage" yaml:"stage"`
	Passed   bool    `json:"passed" yaml:"passed"`
	Reason   string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	Blocking int     `json:"blocking,omitempty" yaml:"blocking,omitempty"`
}

type gateOptions struct {
	requirePassingTests bool
}

func pass(s StageID) GateResult {
	return GateResult{Stage: s, Passed: true}
}

func refuse(s StageID, blocking int, format string, args ...interface{}) GateResult {
	return GateResult{Stage: s, Reason: fmt.Sprintf(format, args...), Blocking: blocking}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// evaluateGate decides whether stage s may be left given the merged view
func evaluateGate(s StageID, v View, opts gateOptions) GateResult {
	switch s {
	case StageValidation:
		if v.Validation == nil {
			return refuse(s, 0, "design validation has not run")
		}
		if n := v.Validation.FailCount; n > 0 {
			return refuse(s, n, "%d critical %s remain", n, plural(n, "issue", "issues"))
		}
	case StageDependencies:
		if v.Dependencies == nil {
			return refuse(s, 0, "dependencies have not been probed")
		}
		sum := v.Dependencies.Summary
		if sum.Unavailable > 0 {
			return refuse(s, sum.Unavailable, "%d %s unavailable", sum.Unavailable, plural(sum.Unavailable, "dependency is", "dependencies are"))
		}
		if sum.Unknown > 0 {
			return refuse(s, sum.Unknown, "%d %s not been probed", sum.Unknown, plural(sum.Unknown, "dependency has", "dependencies have"))
		}
	case StageUpload:
		return unitGate(s, v.Upload, "upload")
	case StageDeployment:
		if r := unitGate(s, v.Deployment, "deployment"); !r.Passed {
			return r
		}
		if n := len(deploy.Unstarted(v.Deployment.Units)); n > 0 {
			return refuse(s, n, "%d deployed %s not started", n, plural(n, "iFlow is", "iFlows are"))
		}
	case StageTests:
		if v.Tests == nil {
			return refuse(s, 0, "tests have not run")
		}
		if n := v.Tests.Running; n > 0 {
			return refuse(s, n, "%d test %s still running", n, plural(n, "suite is", "suites are"))
		}
		if opts.requirePassingTests && v.Tests.Failed > 0 {
			return refuse(s, v.Tests.Failed, "%d test %s failed", v.Tests.Failed, plural(v.Tests.Failed, "case", "cases"))
		}
	}
	return pass(s)
}

func unitGate(s StageID, sum *tracker.Summary, what string) GateResult {
	if sum == nil {
		return refuse(s, 0, "%s has not started", what)
	}
	if n := sum.Stats.Pending + sum.Stats.Running; n > 0 {
		return refuse(s, n, "%d %s %s still in progress", n, what, plural(n, "unit is", "units are"))
	}
	if n := sum.Stats.Failed; n > 0 {
		return refuse(s, n, "%d %s %s failed", n, what, plural(n, "unit", "units"))
	}
	return pass(s)
}
