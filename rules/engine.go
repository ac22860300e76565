package rules

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/logging"
)

// Engine evaluates every rule of a catalog against a set of iFlows
type Engine struct {
	catalog     CatalogProvider
	evaluator   Evaluator
	concurrency int
	logger      logging.Logger
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithConcurrency bounds how many iFlows are evaluated at once
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logging.OrNop(l)
	}
}

// NewEngine creates a rule engine
func NewEngine(c CatalogProvider, ev Evaluator, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog:     c,
		evaluator:   ev,
		concurrency: 4,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run evaluates all rules for all iFlows. Verdicts are state; only
// cancellation and catalog errors are returned.
func (e *Engine) Run(ctx context.Context, iflows []catalog.IFlow) (Summary, error) {
	rules, err := e.catalog.ListRules(ctx)
	if err != nil {
		return Summary{}, errors.WithOp(err, "rules.Run")
	}

	var (
		mu      sync.Mutex
		results []Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, f := range iflows {
		f := f
		g.Go(func() error {
			local := make([]Result, 0, len(rules))
			for _, r := range rules {
				res := e.evaluate(gctx, f, r)
				if err := gctx.Err(); err != nil {
					return errors.FromContext(err)
				}
				local = append(local, res)
			}
			mu.Lock()
			results = append(results, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, errors.WithOp(err, "rules.Run")
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].IFlowID != results[j].IFlowID {
			return results[i].IFlowID < results[j].IFlowID
		}
		return results[i].RuleID < results[j].RuleID
	})

	s := Summarize(results, rules, iflowIDs(iflows))
	e.logger.Info("validated %d iflows against %d rules: %d failed, %d warnings, overall %.1f%%",
		len(iflows), len(rules), s.FailCount, s.WarningCount, s.Overall)
	return s, nil
}

func (e *Engine) evaluate(ctx context.Context, f catalog.IFlow, r ValidationRule) Result {
	res := Result{IFlowID: f.ID, RuleID: r.ID}
	verdict, detail, err := e.evaluator.Evaluate(ctx, f, r)
	switch {
	case err != nil:
		res.Verdict = VerdictFail
		res.Detail = "evaluation failed: " + err.Error()
		e.logger.Warn("rule %s on %s could not be evaluated: %v", r.ID, f.ID, err)
	case !verdict.Valid():
		res.Verdict = VerdictFail
		res.Detail = "evaluator returned unknown verdict " + string(verdict)
	default:
		res.Verdict = verdict
		res.Detail = detail
	}
	return res
}

// Score computes Σ(weight·credit)/Σweight × 100 over rules for one iFlow.
// A rule without a verdict earns no credit. An empty catalog scores 100.
func Score(verdicts map[string]Verdict, rules []ValidationRule) float64 {
	var total, earned float64
	for _, r := range rules {
		total += r.Weight
		if v, ok := verdicts[r.ID]; ok {
			earned += r.Weight * v.Credit()
		}
	}
	if total == 0 {
		return 100
	}
	return earned / total * 100
}

// Summarize aggregates results into per-iFlow and overall figures
func Summarize(results []Result, rules []ValidationRule, iflows []string) Summary {
	s := Summary{
		Results: results,
		IFlows:  make(map[string]IFlowScore, len(iflows)),
	}

	verdicts := make(map[string]map[string]Verdict, len(iflows))
	for _, id := range iflows {
		verdicts[id] = make(map[string]Verdict, len(rules))
	}
	for _, r := range results {
		if _, ok := verdicts[r.IFlowID]; !ok {
			verdicts[r.IFlowID] = make(map[string]Verdict, len(rules))
		}
		verdicts[r.IFlowID][r.RuleID] = r.Verdict
	}

	var sum float64
	for id, vs := range verdicts {
		score := IFlowScore{Score: Score(vs, rules)}
		for _, v := range vs {
			switch v {
			case VerdictPass:
				score.Passed++
			case VerdictWarning:
				score.Warnings++
			default:
				score.Failed++
			}
		}
		s.IFlows[id] = score
		s.PassCount += score.Passed
		s.WarningCount += score.Warnings
		s.FailCount += score.Failed
		sum += score.Score
	}

	if len(s.IFlows) == 0 {
		s.Overall = 100
	} else {
		s.Overall = sum / float64(len(s.IFlows))
	}
	return s
}

func iflowIDs(iflows []catalog.IFlow) []string {
	out := make([]string, len(iflows))
	for i, f := range iflows {
		out[i] = f.ID
	}
	return out
}
