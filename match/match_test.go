package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/rule"
)

func term(t delta.Term) *delta.Term { return &t }

func TestMatchTriple_ConcreteFields(t *testing.T) {
	triple := delta.NewTriple(delta.URI("u1"), delta.URI("ex:name"), delta.Term{Type: delta.TermLiteral, Value: "A", Lang: "en"})

	tests := []struct {
		name    string
		pattern rule.Pattern
		want    bool
	}{
		{"empty pattern is a wildcard", rule.Pattern{}, true},
		{"predicate type and value", rule.Pattern{Predicate: term(delta.URI("ex:name"))}, true},
		{"value only", rule.Pattern{Predicate: &delta.Term{Value: "ex:name"}}, true},
		{"type only", rule.Pattern{Object: &delta.Term{Type: delta.TermLiteral}}, true},
		{"value mismatch", rule.Pattern{Predicate: term(delta.URI("ex:other"))}, false},
		{"type mismatch", rule.Pattern{Subject: term(delta.Literal("u1"))}, false},
		{"language match", rule.Pattern{Object: &delta.Term{Lang: "en"}}, true},
		{"language mismatch", rule.Pattern{Object: &delta.Term{Lang: "nl"}}, false},
		{"datatype required but absent", rule.Pattern{Object: &delta.Term{Datatype: "xsd:string"}}, false},
		{"graph required but absent", rule.Pattern{Graph: term(delta.URI("g"))}, false},
		{"variable graph on absent graph", rule.Pattern{Graph: term(delta.Variable("g"))}, true},
		{"variable everywhere", rule.Pattern{Subject: term(delta.Variable("s")), Object: term(delta.Variable("o"))}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTriple(triple, tt.pattern))
		})
	}
}

func TestMatchTriple_AbsentTriplePositionNeverPanics(t *testing.T) {
	triple := delta.Triple{Predicate: term(delta.URI("p"))}
	assert.NotPanics(t, func() {
		assert.False(t, MatchTriple(triple, rule.Pattern{Subject: term(delta.URI("s"))}))
	})
	assert.True(t, MatchTriple(triple, rule.Pattern{Predicate: term(delta.URI("p"))}))
}

func TestMatchAny(t *testing.T) {
	triple := delta.NewTriple(delta.URI("s"), delta.URI("p2"), delta.Literal("o"))
	patterns := []rule.Pattern{
		{Predicate: term(delta.URI("p1"))},
		{Predicate: term(delta.URI("p2"))},
	}

	assert.True(t, MatchAny(triple, patterns))
	assert.False(t, MatchAny(triple, patterns[:1]))
	assert.False(t, MatchAny(triple, nil))
	assert.True(t, AnyTriple([]delta.Triple{triple}, patterns))
	assert.False(t, AnyTriple(nil, patterns))
}

func TestBindings(t *testing.T) {
	triple := delta.NewTriple(delta.URI("x"), delta.URI("knows"), delta.URI("x"))

	sol, ok := Bindings(triple, rule.Pattern{Subject: term(delta.Variable("a")), Object: term(delta.Variable("b"))})
	assert.True(t, ok)
	assert.Equal(t, Solution{"a": delta.URI("x"), "b": delta.URI("x")}, sol)

	// Same variable at two positions requires equal terms
	sol, ok = Bindings(triple, rule.Pattern{Subject: term(delta.Variable("a")), Object: term(delta.Variable("a"))})
	assert.True(t, ok)
	assert.Equal(t, Solution{"a": delta.URI("x")}, sol)

	other := delta.NewTriple(delta.URI("x"), delta.URI("knows"), delta.URI("y"))
	_, ok = Bindings(other, rule.Pattern{Subject: term(delta.Variable("a")), Object: term(delta.Variable("a"))})
	assert.False(t, ok)

	// A variable cannot bind an absent position
	_, ok = Bindings(triple, rule.Pattern{Graph: term(delta.Variable("g"))})
	assert.False(t, ok)

	_, ok = Bindings(triple, rule.Pattern{Predicate: term(delta.URI("other"))})
	assert.False(t, ok)
}

func TestCombine(t *testing.T) {
	left := Solution{"s": delta.URI("x")}

	merged, ok := Combine(left, Solution{"s": delta.URI("x"), "n": delta.Literal("Ann")})
	assert.True(t, ok)
	assert.Equal(t, Solution{"s": delta.URI("x"), "n": delta.Literal("Ann")}, merged)
	assert.Len(t, left, 1, "inputs are not modified")

	_, ok = Combine(left, Solution{"s": delta.URI("y")})
	assert.False(t, ok)
}

func TestSolution_Key(t *testing.T) {
	a := Solution{"s": delta.URI("x"), "n": delta.Literal("Ann")}
	b := Solution{"n": delta.Literal("Ann"), "s": delta.URI("x")}
	c := Solution{"s": delta.Literal("x"), "n": delta.Literal("Ann")}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.True(t, a.Covers([]string{"s", "n"}))
	assert.False(t, a.Covers([]string{"s", "m"}))
}

func TestFilterChangeSets(t *testing.T) {
	keep := delta.NewTriple(delta.URI("s"), delta.URI("ex:name"), delta.Literal("A"))
	drop := delta.NewTriple(delta.URI("s"), delta.URI("ex:age"), delta.Literal("3"))
	sets := []delta.ChangeSet{{
		Insert:          []delta.Triple{keep, drop},
		Delete:          []delta.Triple{drop},
		EffectiveInsert: []delta.Triple{keep, drop},
		EffectiveDelete: []delta.Triple{},
	}}

	out := FilterChangeSets(sets, []rule.Pattern{{Predicate: term(delta.URI("ex:name"))}})

	assert.Len(t, out, 1)
	assert.Equal(t, []delta.Triple{keep}, out[0].Insert)
	assert.Empty(t, out[0].Delete)
	assert.Equal(t, []delta.Triple{keep}, out[0].EffectiveInsert)
}
