package match

import (
	"sort"
	"strings"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/rule"
)

// Binding assigns a term to a variable name.
type Binding struct {
	Name  string     `json:"name"`
	Value delta.Term `json:"value"`
}

// Solution maps variable names to terms.
type Solution map[string]delta.Term

// Bindings extracts the variable bindings of t against p. It fails when t
// does not match p, when a variable position is absent on t, or when one
// variable occurs twice in p with different terms.
func Bindings(t delta.Triple, p rule.Pattern) (Solution, bool) {
	if !MatchTriple(t, p) {
		return nil, false
	}
	sol := Solution{}
	for _, pos := range delta.Positions {
		tmpl := p.At(pos)
		if tmpl == nil || !tmpl.IsVariable() {
			continue
		}
		term := t.At(pos)
		if term == nil {
			return nil, false
		}
		if prev, ok := sol[tmpl.Value]; ok && !prev.Equal(*term) {
			return nil, false
		}
		sol[tmpl.Value] = *term
	}
	return sol, true
}

// Combine merges two solutions, failing on a variable bound to different
// terms. Neither input is modified.
func Combine(left, right Solution) (Solution, bool) {
	out := make(Solution, len(left)+len(right))
	for name, term := range left {
		out[name] = term
	}
	for name, term := range right {
		if prev, ok := out[name]; ok && !prev.Equal(term) {
			return nil, false
		}
		out[name] = term
	}
	return out, true
}

// Covers reports whether s binds every name.
func (s Solution) Covers(names []string) bool {
	for _, n := range names {
		if _, ok := s[n]; !ok {
			return false
		}
	}
	return true
}

// Bindings lists the solution sorted by variable name.
func (s Solution) Bindings() []Binding {
	out := make([]Binding, 0, len(s))
	for name, term := range s {
		out = append(out, Binding{Name: name, Value: term})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Key is a canonical form of s, equal for equal solutions.
func (s Solution) Key() string {
	var b strings.Builder
	for _, binding := range s.Bindings() {
		b.WriteString(binding.Name)
		b.WriteByte('=')
		b.WriteString(string(binding.Value.Type))
		b.WriteByte(' ')
		b.WriteString(binding.Value.String())
		b.WriteByte(';')
	}
	return b.String()
}
