// Package testutil provides fakes and fixtures shared by the notifier's
// package tests.
//
// # Fakes
//
// CallbackServer is an httptest server standing in for a notified service.
// It records every request and answers with a configurable status.
//
// StaticQuery implements match.QueryService over an in-memory triple list,
// so conjunctive rules can be exercised without a SPARQL endpoint.
//
// StaticResolver implements origin.Resolver from a fixed host table.
//
// MockPublisher records NATS publications in memory.
//
// # Infrastructure
//
// RunNATSServer starts an embedded NATS server on a random local port and
// shuts it down when the test ends.
//
// # Fixtures
//
// Triple helpers and ready-made change-sets keep test tables short:
//
//	cs := testutil.ChangeSet(
//	    []delta.Triple{testutil.T("http://ex/s", "http://ex/p", "o")},
//	    nil,
//	)
package testutil
