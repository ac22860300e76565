package testrun

import (
	"fmt"

	"github.com/davidroman0O/iflowpipe/catalog"
)

var caseNames = map[Category][]string{
	CategoryFunctional:  {"Message mapping produces target payload", "Content modifier sets headers", "Router picks expected branch"},
	CategoryIntegration: {"Receiver adapter accepts request", "Sender adapter authenticates", "End-to-end message reaches target"},
	CategoryPerformance: {"Throughput under nominal load", "Latency stays below timeout"},
	CategorySecurity:    {"Credentials are not logged", "Receiver enforces TLS"},
}

// CaseCount is the number of cases generated for a complexity
func CaseCount(c catalog.Complexity) int {
	switch c {
	case catalog.ComplexityLow:
		return 4
	case catalog.ComplexityHigh:
		return 8
	default:
		return 6
	}
}

// SuiteID is the suite id of an iFlow
func SuiteID(iflowID string) string {
	return iflowID + "/suite"
}

// Plan derives one pending suite per iFlow, cycling through the categories
func Plan(iflows []catalog.IFlow) []TestSuite {
	cats := Categories()
	out := make([]TestSuite, 0, len(iflows))
	for _, f := range iflows {
		s := TestSuite{
			ID:      SuiteID(f.ID),
			IFlowID: f.ID,
			Name:    f.Name + " test suite",
			Status:  SuitePending,
		}
		seen := map[Category]int{}
		for i := 0; i < CaseCount(f.Complexity); i++ {
			cat := cats[i%len(cats)]
			names := caseNames[cat]
			name := names[seen[cat]%len(names)]
			seen[cat]++
			s.Cases = append(s.Cases, TestCase{
				ID:       fmt.Sprintf("%s/case-%02d", f.ID, i+1),
				SuiteID:  s.ID,
				IFlowID:  f.ID,
				Name:     name,
				Category: cat,
				Status:   CasePending,
			})
		}
		s.Total = len(s.Cases)
		out = append(out, s)
	}
	return out
}
