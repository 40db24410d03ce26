// Package natsfeed connects the notifier to NATS.
//
// Feed subscribes to a subject carrying the same `{"changeSets": [...]}`
// bodies as the HTTP endpoint. The mu-call-id-trail, mu-call-id and
// mu-session-id values travel as NATS headers and are handled exactly like
// their HTTP counterparts. Accepted batches are queued on the notifier;
// messages that cannot be decoded or queued are logged and counted.
//
// FailurePublisher observes deliveries and publishes every delivery that
// gave up to a failure subject as a JSON-encoded dispatch.Outcome:
//
//	{"rule":0,"url":"http://svc/delta","method":"POST","statusCode":503,
//	 "attempts":3,"error":"...","at":"...","duration":1200000000}
package natsfeed
