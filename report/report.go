// Package report turns a pipeline snapshot into an exportable document
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/davidroman0O/iflowpipe/dependencies"
	"github.com/davidroman0O/iflowpipe/pipeline"
	"github.com/davidroman0O/iflowpipe/rules"
	"github.com/davidroman0O/iflowpipe/testrun"
	"github.com/davidroman0O/iflowpipe/tracker"
)

// Outcome values
const (
	OutcomeFinished   = "finished"
	OutcomeInProgress = "in-progress"
)

// Stage is the completion state of one stage
type Stage struct {
	ID        pipeline.StageID `json:"id" yaml:"id"`
	Name      string           `json:"name" yaml:"name"`
	Completed bool             `json:"completed" yaml:"completed"`
}

// Selection lists what the run operates on
type Selection struct {
	Environment string   `json:"environment,omitempty" yaml:"environment,omitempty"`
	Packages    []string `json:"packages" yaml:"packages"`
	IFlows      []string `json:"iflows" yaml:"iflows"`
	// MissingParams names required parameters left empty
	MissingParams []string `json:"missingParams,omitempty" yaml:"missingParams,omitempty"`
}

// Compliance is the design validation section
type Compliance struct {
	Overall  float64                     `json:"overall" yaml:"overall"`
	Passed   int                         `json:"passed" yaml:"passed"`
	Warnings int                         `json:"warnings" yaml:"warnings"`
	Failed   int                         `json:"failed" yaml:"failed"`
	IFlows   map[string]rules.IFlowScore `json:"iflows" yaml:"iflows"`
	Findings []rules.Result              `json:"findings,omitempty" yaml:"findings,omitempty"`
}

// Units is the section of one tracked stage
type Units struct {
	Stats    tracker.Stats   `json:"stats" yaml:"stats"`
	Failures []UnitFailure   `json:"failures,omitempty" yaml:"failures,omitempty"`
	Groups   []tracker.Group `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// UnitFailure names a failed unit
type UnitFailure struct {
	ID     string `json:"id" yaml:"id"`
	Phase  string `json:"phase,omitempty" yaml:"phase,omitempty"`
	Reason string `json:"reason" yaml:"reason"`
}

// Tests is the test execution section
type Tests struct {
	Total   int                 `json:"total" yaml:"total"`
	Passed  int                 `json:"passed" yaml:"passed"`
	Failed  int                 `json:"failed" yaml:"failed"`
	Skipped int                 `json:"skipped" yaml:"skipped"`
	Running int                 `json:"running" yaml:"running"`
	Suites  []testrun.TestSuite `json:"suites,omitempty" yaml:"suites,omitempty"`
}

// Report is the exported summary of a run
type Report struct {
	RunID        string                    `json:"runId" yaml:"runId"`
	GeneratedAt  time.Time                 `json:"generatedAt" yaml:"generatedAt"`
	Outcome      string                    `json:"outcome" yaml:"outcome"`
	CurrentStage string                    `json:"currentStage" yaml:"currentStage"`
	Stages       []Stage                   `json:"stages" yaml:"stages"`
	Selection    Selection                 `json:"selection" yaml:"selection"`
	Compliance   *Compliance               `json:"compliance,omitempty" yaml:"compliance,omitempty"`
	Dependencies *dependencies.Summary     `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Unavailable  []dependencies.Dependency `json:"unavailable,omitempty" yaml:"unavailable,omitempty"`
	Upload       *Units                    `json:"upload,omitempty" yaml:"upload,omitempty"`
	Deployment   *Units                    `json:"deployment,omitempty" yaml:"deployment,omitempty"`
	Tests        *Tests                    `json:"tests,omitempty" yaml:"tests,omitempty"`
}

// Build derives the report of a snapshot
func Build(s pipeline.Snapshot, generatedAt time.Time) Report {
	completed := make(map[pipeline.StageID]bool, len(s.CompletedStages))
	for _, c := range s.CompletedStages {
		completed[c] = true
	}
	if s.Finished {
		completed[pipeline.LastStage] = true
	}

	r := Report{
		RunID:        s.ID,
		GeneratedAt:  generatedAt,
		Outcome:      OutcomeInProgress,
		CurrentStage: s.CurrentStage.String(),
	}
	if s.Finished {
		r.Outcome = OutcomeFinished
	}
	for _, info := range pipeline.Stages() {
		r.Stages = append(r.Stages, Stage{ID: info.ID, Name: info.Name, Completed: completed[info.ID]})
	}

	acc := s.Accumulator
	r.Selection = Selection{
		Packages: append([]string{}, acc.SelectedPackages...),
		IFlows:   append([]string{}, acc.SelectedIFlows...),
	}
	if c := acc.Configuration; c != nil {
		r.Selection.Environment = c.Environment
		for _, p := range c.Missing {
			r.Selection.MissingParams = append(r.Selection.MissingParams, p.ID)
		}
	}

	if v := acc.Validation; v != nil {
		r.Compliance = compliance(*v)
	}

	if d := acc.Dependencies; d != nil {
		sum := d.Summary
		r.Dependencies = &sum
		for _, dep := range d.Dependencies {
			if dep.Status == dependencies.StatusUnavailable {
				r.Unavailable = append(r.Unavailable, dep)
			}
		}
	}

	r.Upload = units(acc.Upload)
	r.Deployment = units(acc.Deployment)

	if t := acc.Tests; t != nil {
		r.Tests = &Tests{
			Total:   t.Total,
			Passed:  t.Passed,
			Failed:  t.Failed,
			Skipped: t.Skipped,
			Running: t.Running,
			Suites:  t.Suites,
		}
	}
	return r
}

// Review builds the report of a standalone design review: only the
// selection and compliance sections are filled.
func Review(id string, sel Selection, s rules.Summary, generatedAt time.Time) Report {
	return Report{
		RunID:       id,
		GeneratedAt: generatedAt,
		Outcome:     OutcomeFinished,
		Selection:   sel,
		Compliance:  compliance(s),
	}
}

func compliance(v rules.Summary) *Compliance {
	c := &Compliance{
		Overall:  v.Overall,
		Passed:   v.PassCount,
		Warnings: v.WarningCount,
		Failed:   v.FailCount,
		IFlows:   v.IFlows,
	}
	for _, res := range v.Results {
		if res.Verdict != rules.VerdictPass {
			c.Findings = append(c.Findings, res)
		}
	}
	return c
}

func units(s *tracker.Summary) *Units {
	if s == nil {
		return nil
	}
	out := &Units{Stats: s.Stats, Groups: s.Groups}
	for _, u := range s.Units {
		if u.Status == tracker.StatusFailed {
			out.Failures = append(out.Failures, UnitFailure{ID: u.ID, Phase: u.Phase, Reason: u.ErrorReason})
		}
	}
	sort.Slice(out.Failures, func(i, j int) bool { return out.Failures[i].ID < out.Failures[j].ID })
	return out
}

// Summary renders a plain-text digest of the report
func Summary(r Report) string {
	var b strings.Builder
	if r.CurrentStage != "" {
		fmt.Fprintf(&b, "Run %s: %s (stage %s)\n", r.RunID, strings.ToUpper(r.Outcome), r.CurrentStage)
	} else {
		fmt.Fprintf(&b, "Run %s: %s\n", r.RunID, strings.ToUpper(r.Outcome))
	}

	done := 0
	for _, s := range r.Stages {
		mark := " "
		if s.Completed {
			mark = "x"
			done++
		}
		fmt.Fprintf(&b, "  [%s] %d. %s\n", mark, s.ID, s.Name)
	}

	fmt.Fprintf(&b, "\nSelection: %d packages, %d iFlows", len(r.Selection.Packages), len(r.Selection.IFlows))
	if r.Selection.Environment != "" {
		fmt.Fprintf(&b, " (%s)", r.Selection.Environment)
	}
	b.WriteString("\n")
	if n := len(r.Selection.MissingParams); n > 0 {
		fmt.Fprintf(&b, "  Missing parameters: %s\n", strings.Join(r.Selection.MissingParams, ", "))
	}
	if c := r.Compliance; c != nil {
		fmt.Fprintf(&b, "Compliance: %.1f%% (%d passed, %d warnings, %d failed)\n", c.Overall, c.Passed, c.Warnings, c.Failed)
	}
	if d := r.Dependencies; d != nil {
		fmt.Fprintf(&b, "Dependencies: %d/%d available, %d warnings, %d unavailable\n", d.Available, d.Total, d.Warning, d.Unavailable)
	}
	writeUnits(&b, "Upload", r.Upload)
	writeUnits(&b, "Deployment", r.Deployment)
	if t := r.Tests; t != nil {
		fmt.Fprintf(&b, "Tests: %d/%d passed, %d failed, %d skipped", t.Passed, t.Total, t.Failed, t.Skipped)
		if t.Running > 0 {
			fmt.Fprintf(&b, ", %d suites running", t.Running)
		}
		b.WriteString("\n")
	}

	if len(r.Stages) > 0 {
		fmt.Fprintf(&b, "\nSummary: %d/%d stages completed\n", done, len(r.Stages))
	}
	return b.String()
}

func writeUnits(b *strings.Builder, label string, u *Units) {
	if u == nil {
		return
	}
	fmt.Fprintf(b, "%s: %d/%d completed, %d failed (%.0f%%)\n", label, u.Stats.Completed, u.Stats.Total, u.Stats.Failed, u.Stats.Progress)
	for _, f := range u.Failures {
		fmt.Fprintf(b, "  Error: %s: %s\n", f.ID, f.Reason)
	}
}
