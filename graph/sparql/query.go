package sparql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/match"
	"github.com/mu-semtech/delta-notifier/rule"
)

// BuildConstruct renders a CONSTRUCT query returning the triples of every
// pattern, with one VALUES clause per bound variable. Wildcard positions
// become fresh variables. Graph positions are not part of the template:
// CONSTRUCT yields plain triples.
func BuildConstruct(patterns []rule.Pattern, bindings match.Solution) (string, error) {
	var tpl strings.Builder
	anon := 0
	for _, p := range patterns {
		tpl.WriteString("    ")
		for _, pos := range []delta.Position{delta.Subject, delta.Predicate, delta.Object} {
			term := p.At(pos)
			switch {
			case term == nil || (!term.IsVariable() && !concrete(*term)):
				fmt.Fprintf(&tpl, "?_anon%d ", anon)
				anon++
			case term.IsVariable():
				if !delta.ValidVariableName(term.Value) {
					return "", invalidVariable("BuildConstruct", term.Value)
				}
				tpl.WriteString("?" + term.Value + " ")
			default:
				s, err := TermString(*term)
				if err != nil {
					return "", err
				}
				tpl.WriteString(s + " ")
			}
		}
		tpl.WriteString(".\n")
	}

	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	var values strings.Builder
	for _, name := range names {
		term := bindings[name]
		if term.Type == delta.TermBlankNode {
			// Blank node labels are not stable across queries
			continue
		}
		if !delta.ValidVariableName(name) {
			return "", invalidVariable("BuildConstruct", name)
		}
		s, err := TermString(term)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&values, "    VALUES ?%s { %s }\n", name, s)
	}

	return fmt.Sprintf("CONSTRUCT {\n%s} WHERE {\n%s%s}", tpl.String(), tpl.String(), values.String()), nil
}

// concrete reports whether a template pins a full term. Partial templates,
// such as a type without value, only constrain locally.
func concrete(t delta.Term) bool {
	if t.Value == "" {
		return false
	}
	switch t.Type {
	case delta.TermURI, delta.TermLiteral, delta.TermTypedLiteral:
		return true
	}
	return false
}

// TermString renders a term in SPARQL syntax.
func TermString(t delta.Term) (string, error) {
	switch t.Type {
	case delta.TermURI:
		if strings.ContainsAny(t.Value, "<>\"{}|^`\\ \n\t") {
			return "", errors.WrapInvalid(fmt.Errorf("%w: iri %q", errors.ErrInvalidData, t.Value), "sparql", "TermString", "escape iri")
		}
		return "<" + t.Value + ">", nil
	case delta.TermLiteral, delta.TermTypedLiteral:
		s := `"` + escapeString(t.Value) + `"`
		if t.Lang != "" {
			return s + "@" + t.Lang, nil
		}
		if t.Datatype != "" {
			dt, err := TermString(delta.URI(t.Datatype))
			if err != nil {
				return "", err
			}
			return s + "^^" + dt, nil
		}
		return s, nil
	case delta.TermVariable:
		if !delta.ValidVariableName(t.Value) {
			return "", invalidVariable("TermString", t.Value)
		}
		return "?" + t.Value, nil
	}
	return "", errors.WrapInvalid(fmt.Errorf("%w: cannot render %s term", errors.ErrInvalidData, t.Type), "sparql", "TermString", "render term")
}

func invalidVariable(method, name string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: variable name %q", errors.ErrInvalidData, name), "sparql", method, "render variable")
}

var stringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escapeString(s string) string {
	return stringEscaper.Replace(s)
}
