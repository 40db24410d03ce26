// Package rule defines notification rules and loads them from YAML or JSON.
//
// A rule names the triples a consumer cares about, the callback to notify and
// options tuning matching, bundling and delivery:
//
//	- match:
//	    - subject: {type: variable, value: s}
//	      predicate: {type: uri, value: "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"}
//	      object: {type: uri, value: "http://xmlns.com/foaf/0.1/Person"}
//	    - subject: {type: variable, value: s}
//	      predicate: {type: uri, value: "http://xmlns.com/foaf/0.1/name"}
//	      object: {type: variable, value: name}
//	  callback: {url: "http://consumer/delta", method: POST}
//	  options: {resourceFormat: v0.0.1, gracePeriod: 1000, retryCount: 3}
//
// A single pattern may be given without the surrounding list. Options left
// unset take the process defaults. Loading validates every term template
// once and reports configuration smells, such as variables that occur only
// once, as warnings.
package rule
