package match

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/metric"
	"github.com/mu-semtech/delta-notifier/rule"
)

// QueryService fetches triples from the store that satisfy patterns under
// fixed variable values. It stands for a CONSTRUCT query over the patterns
// with one VALUES clause per binding.
type QueryService interface {
	Construct(ctx context.Context, patterns []rule.Pattern, bindings Solution) ([]delta.Triple, error)
}

// Budget bounds a conjunctive search.
type Budget struct {
	// MaxRounds caps the number of anchor rounds.
	MaxRounds int
	// MaxBranches caps candidate expansions across the whole search.
	MaxBranches int
	// Timeout caps wall time, queries included.
	Timeout time.Duration
}

// DefaultBudget returns the budget used when none is configured.
func DefaultBudget() Budget {
	return Budget{
		MaxRounds:   16,
		MaxBranches: 10000,
		Timeout:     5 * time.Second,
	}
}

// Truncation reasons reported in Result.TruncatedBy.
const (
	TruncatedRounds   = "rounds"
	TruncatedBranches = "branches"
	TruncatedTimeout  = "timeout"
)

// Result is the outcome of evaluating a rule against a batch.
type Result struct {
	Matched   bool
	Solutions []Solution

	// Truncated is set when the budget stopped the search; solutions found
	// before that point are kept.
	Truncated   bool
	TruncatedBy string

	Rounds        int
	Branches      int
	Anchors       int
	QueryFailures int
}

// Engine evaluates rules against changed triples.
type Engine struct {
	query   QueryService
	budget  Budget
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewEngine creates an engine. A nil QueryService restricts conjunctive
// search to the triples of the batch.
func NewEngine(query QueryService, budget Budget, logger *slog.Logger, metrics *metric.Metrics) *Engine {
	def := DefaultBudget()
	if budget.MaxRounds <= 0 {
		budget.MaxRounds = def.MaxRounds
	}
	if budget.MaxBranches <= 0 {
		budget.MaxBranches = def.MaxBranches
	}
	if budget.Timeout <= 0 {
		budget.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		query:   query,
		budget:  budget,
		logger:  logger.With("component", "match"),
		metrics: metrics,
	}
}

// Evaluate decides whether r is interested in the change-sets, reading the
// plain or effective lists as the rule asks.
func (e *Engine) Evaluate(ctx context.Context, r *rule.Rule, changeSets []delta.ChangeSet) (Result, error) {
	triples := delta.ChangedTriples(changeSets, r.Options.MatchOnEffective)
	if r.Mode() == rule.MatchAny {
		return Result{Matched: AnyTriple(triples, r.Match)}, nil
	}
	return e.Solve(ctx, r, triples)
}

// anchor is a pattern satisfied by a known triple, with the bindings it
// produced. The other patterns are searched from it.
type anchor struct {
	pattern  int
	bindings Solution
}

func (a anchor) key() string {
	return strconv.Itoa(a.pattern) + "|" + a.bindings.Key()
}

type search struct {
	engine    *Engine
	rule      *rule.Rule
	variables []string
	batch     []delta.Triple

	visited   map[string]bool
	next      []anchor
	solutions map[string]Solution
	order     []string
	result    Result
}

// Solve searches complete solutions of r's patterns seeded from triples.
//
// Each changed triple matching a pattern seeds an anchor. For every anchor
// the remaining patterns are queried with the anchor's bindings fixed; the
// query results together with the batch form the candidates. A depth-first
// walk assigns every remaining pattern a candidate compatible with the
// bindings so far. A candidate that fits a pattern but contradicts the
// bindings becomes an anchor of the next round. Rounds repeat until no new
// anchor appears or the budget runs out.
func (e *Engine) Solve(ctx context.Context, r *rule.Rule, triples []delta.Triple) (Result, error) {
	start := time.Now()
	searchCtx, cancel := context.WithTimeout(ctx, e.budget.Timeout)
	defer cancel()

	s := &search{
		engine:    e,
		rule:      r,
		variables: r.Variables(),
		batch:     triples,
		visited:   map[string]bool{},
		solutions: map[string]Solution{},
	}

	for _, t := range triples {
		for i, p := range r.Match {
			if b, ok := Bindings(t, p); ok {
				s.discover(anchor{pattern: i, bindings: b})
			}
		}
	}

	for len(s.next) > 0 && !s.result.Truncated {
		if s.result.Rounds >= e.budget.MaxRounds {
			s.truncate(TruncatedRounds)
			break
		}
		s.result.Rounds++
		frontier := s.next
		s.next = nil
		for _, a := range frontier {
			if s.result.Truncated {
				break
			}
			s.explore(searchCtx, a)
		}
	}

	// The caller's cancellation is an error; our own deadline is truncation.
	if err := ctx.Err(); err != nil {
		return s.result, errors.WrapTransient(err, "Engine", "Solve", "conjunctive search")
	}

	for _, k := range s.order {
		s.result.Solutions = append(s.result.Solutions, s.solutions[k])
	}
	s.result.Matched = len(s.result.Solutions) > 0
	s.result.Anchors = len(s.visited)

	e.metrics.RecordSearchDuration(r.Index, time.Since(start))
	if s.result.Truncated {
		e.metrics.RecordTruncated(r.Index, s.result.TruncatedBy)
		e.logger.Warn("Conjunctive search truncated",
			"rule", r.Name(),
			"reason", s.result.TruncatedBy,
			"rounds", s.result.Rounds,
			"branches", s.result.Branches,
			"solutions", len(s.result.Solutions),
			"error", errors.ErrSearchBudget)
	}

	return s.result, nil
}

func (s *search) discover(a anchor) {
	k := a.key()
	if s.visited[k] {
		return
	}
	s.visited[k] = true
	s.next = append(s.next, a)
}

func (s *search) truncate(reason string) {
	if !s.result.Truncated {
		s.result.Truncated = true
		s.result.TruncatedBy = reason
	}
}

func (s *search) explore(ctx context.Context, a anchor) {
	remaining := make([]int, 0, len(s.rule.Match)-1)
	for i := range s.rule.Match {
		if i != a.pattern {
			remaining = append(remaining, i)
		}
	}

	candidates := s.batch
	if len(remaining) > 0 {
		candidates = s.candidates(ctx, a, remaining)
	}
	if s.result.Truncated {
		return
	}
	s.extend(ctx, remaining, candidates, a.bindings)
}

// candidates returns the query results for the remaining patterns merged
// with the batch triples, without duplicates.
func (s *search) candidates(ctx context.Context, a anchor, remaining []int) []delta.Triple {
	if s.engine.query == nil {
		return s.batch
	}
	if ctx.Err() != nil {
		s.truncate(TruncatedTimeout)
		return nil
	}

	patterns := make([]rule.Pattern, 0, len(remaining))
	for _, i := range remaining {
		patterns = append(patterns, s.rule.Match[i])
	}

	fetched, err := s.engine.query.Construct(ctx, patterns, a.bindings)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			s.truncate(TruncatedTimeout)
			return nil
		}
		s.result.QueryFailures++
		s.engine.metrics.RecordQueryFailure(s.rule.Index)
		s.engine.logger.Warn("Graph query failed, continuing with batch triples",
			"rule", s.rule.Name(),
			"anchor", fmt.Sprint(a.bindings.Bindings()),
			"error", err)
		return s.batch
	}

	seen := make(map[string]bool, len(fetched)+len(s.batch))
	out := make([]delta.Triple, 0, len(fetched)+len(s.batch))
	for _, list := range [][]delta.Triple{fetched, s.batch} {
		for _, t := range list {
			k := t.Key()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, t)
		}
	}
	return out
}

func (s *search) extend(ctx context.Context, remaining []int, candidates []delta.Triple, bindings Solution) {
	if s.result.Truncated {
		return
	}
	if len(remaining) == 0 {
		if bindings.Covers(s.variables) {
			k := bindings.Key()
			if _, ok := s.solutions[k]; !ok {
				s.solutions[k] = bindings
				s.order = append(s.order, k)
			}
		}
		return
	}

	idx := remaining[0]
	pattern := s.rule.Match[idx]
	for _, c := range candidates {
		if ctx.Err() != nil {
			s.truncate(TruncatedTimeout)
			return
		}
		s.result.Branches++
		if s.result.Branches > s.engine.budget.MaxBranches {
			s.truncate(TruncatedBranches)
			return
		}

		b, ok := Bindings(c, pattern)
		if !ok {
			continue
		}
		merged, ok := Combine(bindings, b)
		if !ok {
			s.discover(anchor{pattern: idx, bindings: b})
			continue
		}
		s.extend(ctx, remaining[1:], candidates, merged)
		if s.result.Truncated {
			return
		}
	}
}
