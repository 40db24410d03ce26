package rule

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mu-semtech/delta-notifier/delta"
)

// Pattern is a template over triple positions. Absent positions are
// wildcards.
type Pattern struct {
	Subject   *delta.Term `json:"subject,omitempty" yaml:"subject,omitempty"`
	Predicate *delta.Term `json:"predicate,omitempty" yaml:"predicate,omitempty"`
	Object    *delta.Term `json:"object,omitempty" yaml:"object,omitempty"`
	Graph     *delta.Term `json:"graph,omitempty" yaml:"graph,omitempty"`
}

// At returns the template at position p, nil when it is a wildcard.
func (p Pattern) At(pos delta.Position) *delta.Term {
	switch pos {
	case delta.Subject:
		return p.Subject
	case delta.Predicate:
		return p.Predicate
	case delta.Object:
		return p.Object
	case delta.Graph:
		return p.Graph
	}
	return nil
}

// Validate checks every present template.
func (p Pattern) Validate() error {
	for _, pos := range delta.Positions {
		if term := p.At(pos); term != nil {
			if err := term.ValidatePattern(); err != nil {
				return fmt.Errorf("%s: %w", pos, err)
			}
		}
	}
	return nil
}

func (p Pattern) String() string {
	out := ""
	for _, pos := range delta.Positions {
		term := p.At(pos)
		if term == nil {
			if pos == delta.Graph {
				continue
			}
			out += "_ "
			continue
		}
		out += term.String() + " "
	}
	if out == "" {
		return out
	}
	return out[:len(out)-1]
}

// Patterns is the match clause of a rule. It decodes from either a single
// pattern object or a list of them.
type Patterns []Pattern

// UnmarshalJSON accepts a pattern object or an array of pattern objects.
func (ps *Patterns) UnmarshalJSON(data []byte) error {
	var list []Pattern
	if err := json.Unmarshal(data, &list); err == nil {
		*ps = list
		return nil
	}
	var single Pattern
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*ps = Patterns{single}
	return nil
}

// UnmarshalYAML accepts a pattern mapping or a sequence of them.
func (ps *Patterns) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var list []Pattern
		if err := node.Decode(&list); err != nil {
			return err
		}
		*ps = list
		return nil
	}
	var single Pattern
	if err := node.Decode(&single); err != nil {
		return err
	}
	*ps = Patterns{single}
	return nil
}
