package delta

import (
	"fmt"
	"regexp"

	"github.com/mu-semtech/delta-notifier/errors"
)

// TermType tags the kind of RDF term carried by a Term.
type TermType string

// Term types understood on the wire. TermVariable only appears in rule patterns.
const (
	TermURI          TermType = "uri"
	TermLiteral      TermType = "literal"
	TermTypedLiteral TermType = "typed-literal"
	TermBlankNode    TermType = "bnode"
	TermVariable     TermType = "variable"
)

// XSDDateTime is the datatype IRI of xsd:dateTime literals.
const XSDDateTime = "http://www.w3.org/2001/XMLSchema#dateTime"

// varName follows the SPARQL VARNAME production, with \p{L} standing in for
// the letter ranges of PN_CHARS_BASE.
var varName = regexp.MustCompile(`^[\p{L}_0-9][\p{L}_0-9\x{00B7}\x{0300}-\x{036F}\x{203F}-\x{2040}]*$`)

// ValidVariableName reports whether name can follow ? in a SPARQL query.
func ValidVariableName(name string) bool {
	return varName.MatchString(name)
}

// Term is a tagged RDF term as exchanged with the triple store.
//
// In change-sets every term carries a Type and a Value. In rule patterns a
// Term is a template: empty fields are not compared, and a Term of type
// TermVariable binds whatever sits at its position, Value naming the variable.
type Term struct {
	Type     TermType `json:"type,omitempty" yaml:"type,omitempty"`
	Value    string   `json:"value" yaml:"value,omitempty"`
	Datatype string   `json:"datatype,omitempty" yaml:"datatype,omitempty"`
	Lang     string   `json:"xml:lang,omitempty" yaml:"xml:lang,omitempty"`
}

// URI builds a uri term.
func URI(value string) Term {
	return Term{Type: TermURI, Value: value}
}

// Literal builds a plain literal term.
func Literal(value string) Term {
	return Term{Type: TermLiteral, Value: value}
}

// TypedLiteral builds a literal term with a datatype.
func TypedLiteral(value, datatype string) Term {
	return Term{Type: TermTypedLiteral, Value: value, Datatype: datatype}
}

// Variable builds a pattern variable.
func Variable(name string) Term {
	return Term{Type: TermVariable, Value: name}
}

// IsVariable reports whether t is a pattern variable.
func (t Term) IsVariable() bool {
	return t.Type == TermVariable
}

// IsLiteral reports whether t is a plain or typed literal.
func (t Term) IsLiteral() bool {
	return t.Type == TermLiteral || t.Type == TermTypedLiteral
}

// Equal compares every field of two terms.
func (t Term) Equal(other Term) bool {
	return t == other
}

// Validate checks a term received in a change-set.
func (t Term) Validate() error {
	switch t.Type {
	case TermURI, TermBlankNode:
		if t.Datatype != "" || t.Lang != "" {
			return fmt.Errorf("%w: %s term cannot carry datatype or language", errors.ErrInvalidData, t.Type)
		}
	case TermLiteral, TermTypedLiteral:
	case TermVariable:
		return fmt.Errorf("%w: variable term outside a pattern", errors.ErrInvalidData)
	case "":
		return fmt.Errorf("%w: term without type", errors.ErrInvalidData)
	default:
		return fmt.Errorf("%w: unknown term type %q", errors.ErrInvalidData, t.Type)
	}
	return nil
}

// ValidatePattern checks a term used as a rule pattern template.
func (t Term) ValidatePattern() error {
	switch t.Type {
	case TermVariable:
		if t.Value == "" {
			return fmt.Errorf("%w: variable without a name", errors.ErrInvalidConfig)
		}
		if !ValidVariableName(t.Value) {
			return fmt.Errorf("%w: invalid variable name %q", errors.ErrInvalidConfig, t.Value)
		}
		if t.Datatype != "" || t.Lang != "" {
			return fmt.Errorf("%w: variable ?%s cannot carry datatype or language", errors.ErrInvalidConfig, t.Value)
		}
	case "", TermURI, TermLiteral, TermTypedLiteral, TermBlankNode:
		if t == (Term{}) {
			return fmt.Errorf("%w: empty term template", errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown term type %q", errors.ErrInvalidConfig, t.Type)
	}
	return nil
}

func (t Term) String() string {
	switch t.Type {
	case TermVariable:
		return "?" + t.Value
	case TermURI:
		return "<" + t.Value + ">"
	case TermBlankNode:
		return "_:" + t.Value
	}
	s := fmt.Sprintf("%q", t.Value)
	if t.Lang != "" {
		return s + "@" + t.Lang
	}
	if t.Datatype != "" {
		return s + "^^<" + t.Datatype + ">"
	}
	return s
}
