package match

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/rule"
)

// fakeQuery answers Construct from a table keyed by the value bound to ?s.
type fakeQuery struct {
	mu      sync.Mutex
	bySubj  map[string][]delta.Triple
	err     error
	block   bool
	calls   int
	lastLen int
}

func (f *fakeQuery) Construct(ctx context.Context, patterns []rule.Pattern, bindings Solution) ([]delta.Triple, error) {
	f.mu.Lock()
	f.calls++
	f.lastLen = len(patterns)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.bySubj[bindings["s"].Value], nil
}

var (
	rdfType  = delta.URI("rdf:type")
	person   = delta.URI("foaf:Person")
	foafName = delta.URI("foaf:name")
)

func personRule(t *testing.T) *rule.Rule {
	t.Helper()
	data := `[{"match":[
	  {"subject":{"type":"variable","value":"s"},"predicate":{"type":"uri","value":"rdf:type"},"object":{"type":"uri","value":"foaf:Person"}},
	  {"subject":{"type":"variable","value":"s"},"predicate":{"type":"uri","value":"foaf:name"},"object":{"type":"variable","value":"n"}}],
	  "callback":{"url":"http://consumer/","method":"POST"}}]`
	rules, err := rule.Parse([]byte(data), "json", rule.DefaultDefaults())
	require.NoError(t, err)
	require.Equal(t, rule.MatchAll, rules[0].Mode())
	return rules[0]
}

func TestSolve_BatchTriplesFormSolution(t *testing.T) {
	engine := NewEngine(&fakeQuery{}, DefaultBudget(), nil, nil)
	batch := []delta.Triple{
		delta.NewTriple(delta.URI("x"), rdfType, person),
		delta.NewTriple(delta.URI("x"), foafName, delta.Literal("Ann")),
	}

	res, err := engine.Solve(context.Background(), personRule(t), batch)
	require.NoError(t, err)

	assert.True(t, res.Matched)
	require.Len(t, res.Solutions, 1)
	assert.Equal(t, Solution{"s": delta.URI("x"), "n": delta.Literal("Ann")}, res.Solutions[0])
	assert.False(t, res.Truncated)
}

func TestSolve_NoSupportFromStore(t *testing.T) {
	engine := NewEngine(&fakeQuery{}, DefaultBudget(), nil, nil)
	batch := []delta.Triple{delta.NewTriple(delta.URI("x"), rdfType, person)}

	res, err := engine.Solve(context.Background(), personRule(t), batch)
	require.NoError(t, err)

	assert.False(t, res.Matched)
	assert.Empty(t, res.Solutions)
}

func TestSolve_QueryResultsCompleteSolution(t *testing.T) {
	query := &fakeQuery{bySubj: map[string][]delta.Triple{
		"x": {delta.NewTriple(delta.URI("x"), foafName, delta.Literal("Ann"))},
	}}
	engine := NewEngine(query, DefaultBudget(), nil, nil)

	res, err := engine.Solve(context.Background(), personRule(t), []delta.Triple{
		delta.NewTriple(delta.URI("x"), rdfType, person),
	})
	require.NoError(t, err)

	require.Len(t, res.Solutions, 1)
	assert.Equal(t, delta.Literal("Ann"), res.Solutions[0]["n"])
	assert.Equal(t, 1, query.lastLen, "only the remaining pattern is queried")
}

func TestSolve_ConflictSeedsNewAnchor(t *testing.T) {
	query := &fakeQuery{bySubj: map[string][]delta.Triple{
		// The store answers more than asked: y conflicts with the anchor on x.
		"x": {
			delta.NewTriple(delta.URI("x"), foafName, delta.Literal("Ann")),
			delta.NewTriple(delta.URI("y"), foafName, delta.Literal("Bob")),
		},
		"y": {delta.NewTriple(delta.URI("y"), rdfType, person)},
	}}
	engine := NewEngine(query, DefaultBudget(), nil, nil)

	res, err := engine.Solve(context.Background(), personRule(t), []delta.Triple{
		delta.NewTriple(delta.URI("x"), rdfType, person),
	})
	require.NoError(t, err)

	require.Len(t, res.Solutions, 2)
	assert.Equal(t, Solution{"s": delta.URI("x"), "n": delta.Literal("Ann")}, res.Solutions[0])
	assert.Equal(t, Solution{"s": delta.URI("y"), "n": delta.Literal("Bob")}, res.Solutions[1])
	assert.Equal(t, 2, res.Rounds)
}

func TestSolve_DeduplicatesSolutions(t *testing.T) {
	query := &fakeQuery{bySubj: map[string][]delta.Triple{
		"x": {
			delta.NewTriple(delta.URI("x"), rdfType, person),
			delta.NewTriple(delta.URI("x"), foafName, delta.Literal("Ann")),
		},
	}}
	engine := NewEngine(query, DefaultBudget(), nil, nil)

	// Both triples are anchors and both reach the same solution
	res, err := engine.Solve(context.Background(), personRule(t), []delta.Triple{
		delta.NewTriple(delta.URI("x"), rdfType, person),
		delta.NewTriple(delta.URI("x"), foafName, delta.Literal("Ann")),
	})
	require.NoError(t, err)
	assert.Len(t, res.Solutions, 1)
}

func TestSolve_QueryFailureFallsBackToBatch(t *testing.T) {
	query := &fakeQuery{err: fmt.Errorf("store unavailable")}
	engine := NewEngine(query, DefaultBudget(), nil, nil)

	res, err := engine.Solve(context.Background(), personRule(t), []delta.Triple{
		delta.NewTriple(delta.URI("x"), rdfType, person),
		delta.NewTriple(delta.URI("x"), foafName, delta.Literal("Ann")),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.QueryFailures)
	assert.True(t, res.Matched)
}

func TestSolve_BranchBudget(t *testing.T) {
	var names []delta.Triple
	for i := 0; i < 50; i++ {
		names = append(names, delta.NewTriple(delta.URI("x"), foafName, delta.Literal(fmt.Sprint(i))))
	}
	engine := NewEngine(&fakeQuery{bySubj: map[string][]delta.Triple{"x": names}},
		Budget{MaxBranches: 10}, nil, nil)

	res, err := engine.Solve(context.Background(), personRule(t), []delta.Triple{
		delta.NewTriple(delta.URI("x"), rdfType, person),
	})
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Equal(t, TruncatedBranches, res.TruncatedBy)
	assert.NotEmpty(t, res.Solutions, "solutions completed before the cut are kept")
	assert.Less(t, len(res.Solutions), 50)
}

func TestSolve_RoundBudget(t *testing.T) {
	query := &fakeQuery{bySubj: map[string][]delta.Triple{
		"x": {
			delta.NewTriple(delta.URI("x"), foafName, delta.Literal("Ann")),
			delta.NewTriple(delta.URI("y"), foafName, delta.Literal("Bob")),
		},
		"y": {delta.NewTriple(delta.URI("y"), rdfType, person)},
	}}
	engine := NewEngine(query, Budget{MaxRounds: 1}, nil, nil)

	res, err := engine.Solve(context.Background(), personRule(t), []delta.Triple{
		delta.NewTriple(delta.URI("x"), rdfType, person),
	})
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Equal(t, TruncatedRounds, res.TruncatedBy)
	require.Len(t, res.Solutions, 1)
	assert.Equal(t, delta.URI("x"), res.Solutions[0]["s"])
}

func TestSolve_Timeout(t *testing.T) {
	engine := NewEngine(&fakeQuery{block: true}, Budget{Timeout: 20 * time.Millisecond}, nil, nil)

	start := time.Now()
	res, err := engine.Solve(context.Background(), personRule(t), []delta.Triple{
		delta.NewTriple(delta.URI("x"), rdfType, person),
	})
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Equal(t, TruncatedTimeout, res.TruncatedBy)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSolve_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(&fakeQuery{}, DefaultBudget(), nil, nil)
	_, err := engine.Solve(ctx, personRule(t), []delta.Triple{
		delta.NewTriple(delta.URI("x"), rdfType, person),
	})
	assert.Error(t, err)
}

func TestEvaluate_Modes(t *testing.T) {
	engine := NewEngine(nil, DefaultBudget(), nil, nil)

	anyRule, err := rule.Parse([]byte(`{"match":{"predicate":{"type":"uri","value":"ex:name"}},"callback":{"url":"http://c/","method":"POST"}}`), "json", rule.DefaultDefaults())
	require.NoError(t, err)

	sets := []delta.ChangeSet{{
		Insert: []delta.Triple{delta.NewTriple(delta.URI("u1"), delta.URI("ex:name"), delta.Literal("A"))},
		Delete: []delta.Triple{},
	}}

	res, err := engine.Evaluate(context.Background(), anyRule[0], sets)
	require.NoError(t, err)
	assert.True(t, res.Matched)

	// matchOnEffective reads the effective lists, which are empty here
	anyRule[0].Options.MatchOnEffective = true
	res, err = engine.Evaluate(context.Background(), anyRule[0], sets)
	require.NoError(t, err)
	assert.False(t, res.Matched)

	allRule := personRule(t)
	res, err = engine.Evaluate(context.Background(), allRule, []delta.ChangeSet{{
		Insert: []delta.Triple{delta.NewTriple(delta.URI("x"), rdfType, person)},
		Delete: []delta.Triple{delta.NewTriple(delta.URI("x"), foafName, delta.Literal("Ann"))},
	}})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Len(t, res.Solutions, 1)
}
