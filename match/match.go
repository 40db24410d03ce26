package match

import (
	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/rule"
)

// MatchTerm compares a triple term against a pattern template. Only the
// sub-fields present in the template are compared; a variable accepts
// anything and an absent term fails every concrete template.
func MatchTerm(term *delta.Term, tmpl *delta.Term) bool {
	if tmpl == nil || tmpl.IsVariable() {
		return true
	}
	if term == nil {
		return false
	}
	if tmpl.Type != "" && tmpl.Type != term.Type {
		return false
	}
	if tmpl.Value != "" && tmpl.Value != term.Value {
		return false
	}
	if tmpl.Datatype != "" && tmpl.Datatype != term.Datatype {
		return false
	}
	if tmpl.Lang != "" && tmpl.Lang != term.Lang {
		return false
	}
	return true
}

// MatchTriple reports whether every position of p accepts the
// corresponding position of t. Positions absent from p are wildcards.
func MatchTriple(t delta.Triple, p rule.Pattern) bool {
	for _, pos := range delta.Positions {
		if !MatchTerm(t.At(pos), p.At(pos)) {
			return false
		}
	}
	return true
}

// MatchAny is the disjunction of MatchTriple over patterns.
func MatchAny(t delta.Triple, patterns []rule.Pattern) bool {
	for _, p := range patterns {
		if MatchTriple(t, p) {
			return true
		}
	}
	return false
}

// AnyTriple reports whether some triple matches some pattern.
func AnyTriple(triples []delta.Triple, patterns []rule.Pattern) bool {
	for _, t := range triples {
		if MatchAny(t, patterns) {
			return true
		}
	}
	return false
}

// FilterChangeSets keeps, in every list of every change-set, only the
// triples matching one of the patterns.
func FilterChangeSets(changeSets []delta.ChangeSet, patterns []rule.Pattern) []delta.ChangeSet {
	out := make([]delta.ChangeSet, 0, len(changeSets))
	for _, cs := range changeSets {
		out = append(out, cs.Filter(func(t delta.Triple) bool {
			return MatchAny(t, patterns)
		}))
	}
	return out
}
