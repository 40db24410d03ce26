package delta

import (
	"encoding/json"
	"fmt"
)

// Position names a slot of a triple.
type Position string

// Triple positions, in canonical order.
const (
	Subject   Position = "subject"
	Predicate Position = "predicate"
	Object    Position = "object"
	Graph     Position = "graph"
)

// Positions lists every triple position in canonical order.
var Positions = []Position{Subject, Predicate, Object, Graph}

// Triple is one quad of a change-set. Graph is optional; the other positions
// are normally present but a decoded triple may lack any of them.
type Triple struct {
	Subject   *Term `json:"subject,omitempty"`
	Predicate *Term `json:"predicate,omitempty"`
	Object    *Term `json:"object,omitempty"`
	Graph     *Term `json:"graph,omitempty"`
}

// NewTriple builds a triple without graph.
func NewTriple(s, p, o Term) Triple {
	return Triple{Subject: &s, Predicate: &p, Object: &o}
}

// InGraph returns a copy of t placed in graph g.
func (t Triple) InGraph(g Term) Triple {
	t.Graph = &g
	return t
}

// At returns the term at position p, or nil when absent.
func (t Triple) At(p Position) *Term {
	switch p {
	case Subject:
		return t.Subject
	case Predicate:
		return t.Predicate
	case Object:
		return t.Object
	case Graph:
		return t.Graph
	}
	return nil
}

// Key is the canonical serialization used to compare triples. Two triples
// have the same key iff every position holds an identical term.
func (t Triple) Key() string {
	b, err := json.Marshal(t)
	if err != nil {
		// Term only holds strings
		panic(err)
	}
	return string(b)
}

// Validate checks every present position.
func (t Triple) Validate() error {
	for _, p := range Positions {
		if term := t.At(p); term != nil {
			if err := term.Validate(); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
	}
	return nil
}

func (t Triple) String() string {
	out := ""
	for i, p := range Positions {
		term := t.At(p)
		if term == nil {
			if p == Graph {
				continue
			}
			out += "_"
		} else {
			out += term.String()
		}
		if i < len(Positions)-1 && (p != Object || t.Graph != nil) {
			out += " "
		}
	}
	return out
}
