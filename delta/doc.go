// Package delta holds the data model exchanged with the triple store: tagged
// RDF terms, triples, change-sets and the inbound batch envelope.
//
// A batch arrives as
//
//	{"changeSets": [{"insert": [...], "delete": [...],
//	                 "effectiveInsert": [...], "effectiveDelete": [...],
//	                 "origin": "172.18.0.5", "allowedGroups": "[...]", "index": 0}]}
//
// Decoding defaults the four triple lists to empty slices and validates every
// term once, so later stages never inspect untyped input. Triple.Key gives
// the canonical form used for folding and de-duplication.
//
// Normalizer rewrites xsd:dateTime literals to a single textual form so that
// patterns and folding compare equal instants as equal terms.
package delta
