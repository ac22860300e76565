// Package testrun executes the generated test suites of the deployed iFlows
package testrun

import "time"

// Category groups test cases
type Category string

const (
	CategoryFunctional  Category = "functional"
	CategoryIntegration Category = "integration"
	CategoryPerformance Category = "performance"
	CategorySecurity    Category = "security"
)

// Categories returns every category in plan order
func Categories() []Category {
	return []Category{CategoryFunctional, CategoryIntegration, CategoryPerformance, CategorySecurity}
}

// CaseStatus is the state of one test case
type CaseStatus string

const (
	CasePending CaseStatus = "pending"
	CaseRunning CaseStatus = "running"
	CasePassed  CaseStatus = "passed"
	CaseFailed  CaseStatus = "failed"
	CaseSkipped CaseStatus = "skipped"
)

// Resolved reports whether the case reached an outcome
func (s CaseStatus) Resolved() bool {
	return s == CasePassed || s == CaseFailed || s == CaseSkipped
}

// SuiteStatus is the state of one suite
type SuiteStatus string

const (
	SuitePending   SuiteStatus = "pending"
	SuiteRunning   SuiteStatus = "running"
	SuiteCompleted SuiteStatus = "completed"
)

// TestCase is one executable check of an iFlow
type TestCase struct {
	ID       string        `json:"id" yaml:"id"`
	SuiteID  string        `json:"suiteId" yaml:"suiteId"`
	IFlowID  string        `json:"iflowId" yaml:"iflowId"`
	Name     string        `json:"name" yaml:"name"`
	Category Category      `json:"category" yaml:"category"`
	Status   CaseStatus    `json:"status" yaml:"status"`
	Message  string        `json:"message,omitempty" yaml:"message,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// TestSuite owns the cases of one iFlow. Passed, Failed and Skipped are
// running tallies kept equal to the sum of case outcomes.
type TestSuite struct {
	ID      string      `json:"id" yaml:"id"`
	IFlowID string      `json:"iflowId" yaml:"iflowId"`
	Name    string      `json:"name" yaml:"name"`
	Status  SuiteStatus `json:"status" yaml:"status"`
	Total   int         `json:"total" yaml:"total"`
	Passed  int         `json:"passed" yaml:"passed"`
	Failed  int         `json:"failed" yaml:"failed"`
	Skipped int         `json:"skipped" yaml:"skipped"`
	Cases   []TestCase  `json:"cases" yaml:"cases"`
}

// Result is the outcome a Runner reports for one case
type Result struct {
	Status   CaseStatus
	Message  string
	Duration time.Duration
}

// Report summarizes a test run; Running counts suites not yet completed
type Report struct {
	Suites      []TestSuite `json:"suites" yaml:"suites"`
	Total       int         `json:"total" yaml:"total"`
	Passed      int         `json:"passed" yaml:"passed"`
	Failed      int         `json:"failed" yaml:"failed"`
	Skipped     int         `json:"skipped" yaml:"skipped"`
	Running     int         `json:"running" yaml:"running"`
	GeneratedAt time.Time   `json:"generatedAt" yaml:"generatedAt"`
}
