package testutil

import (
	"encoding/json"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/rule"
)

// Common IRIs used across tests.
const (
	RDFType   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	FoafName  = "http://xmlns.com/foaf/0.1/name"
	FoafKnows = "http://xmlns.com/foaf/0.1/knows"
	Person    = "http://xmlns.com/foaf/0.1/Person"
	Graph     = "http://mu.semte.ch/graphs/public"
)

// T builds a triple with URI subject and predicate and a plain literal
// object.
func T(s, p, o string) delta.Triple {
	return delta.NewTriple(delta.URI(s), delta.URI(p), delta.Literal(o))
}

// TU builds a triple whose object is a URI.
func TU(s, p, o string) delta.Triple {
	return delta.NewTriple(delta.URI(s), delta.URI(p), delta.URI(o))
}

// ChangeSet builds a change-set whose effective lists equal the plain ones.
func ChangeSet(inserts, deletes []delta.Triple) delta.ChangeSet {
	if inserts == nil {
		inserts = []delta.Triple{}
	}
	if deletes == nil {
		deletes = []delta.Triple{}
	}
	return delta.ChangeSet{
		Insert:          inserts,
		Delete:          deletes,
		EffectiveInsert: inserts,
		EffectiveDelete: deletes,
	}
}

// BatchBody renders change-sets as an inbound request body.
func BatchBody(changeSets ...delta.ChangeSet) []byte {
	body, err := json.Marshal(map[string]any{"changeSets": changeSets})
	if err != nil {
		panic(err)
	}
	return body
}

// Rule builds a rule from its JSON form using process defaults. It panics on
// invalid input, so it is only meant for literals in tests.
func Rule(doc string) *rule.Rule {
	rules, err := rule.Parse([]byte("["+doc+"]"), "json", rule.DefaultDefaults())
	if err != nil {
		panic(err)
	}
	return rules[0]
}

// Rules builds several rules from one JSON array.
func Rules(doc string) []*rule.Rule {
	rules, err := rule.Parse([]byte(doc), "json", rule.DefaultDefaults())
	if err != nil {
		panic(err)
	}
	return rules
}
