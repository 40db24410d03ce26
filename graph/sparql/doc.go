// Package sparql queries the triple store for conjunctive matching.
//
// Construct posts a form-encoded CONSTRUCT query over the rule's remaining
// patterns, fixing the anchor's bindings with VALUES clauses, and reads the
// s/p/o bindings of the application/sparql-results+json response.
package sparql
