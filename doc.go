// Package deltanotifier forwards triple-store change-sets to the services
// that asked for them.
//
// The triple store posts every update it applies as a batch of change-sets
// (inserted and deleted triples, their effective counterparts, the origin of
// the update and the access groups it ran under). A rules file names, per
// consuming service, the triple patterns it is interested in and the
// callback to notify.
//
// # Architecture
//
//	┌──────────────────────┐   ┌──────────────────────┐
//	│ gateway/http  POST / │   │ input/natsfeed (opt) │
//	└──────────┬───────────┘   └──────────┬───────────┘
//	           └──────────┬───────────────┘
//	                      ↓ Submit
//	┌─────────────────────────────────────────────┐
//	│ pipeline.Notifier (pkg/worker intake pool)  │
//	│   normalize → per rule:                     │
//	│     match-only reduction → origin filter    │
//	│     → match.Engine (graph/sparql)           │
//	│     → bundle.Bundler (grace period)         │
//	│     → fold.Folder → dispatch.Dispatcher     │
//	└──────────────────────┬──────────────────────┘
//	                       ↓ Outcome
//	          health.Log, natsfeed.FailurePublisher
//
// Rules are independent: each one is evaluated on its own goroutine and a
// failing callback never delays or cancels deliveries to another.
//
// # Packages
//
//   - delta: change-set, term and triple types, batch decoding, normalization
//   - rule: rule files (JSON or YAML), patterns and per-rule options
//   - match: single-pattern matching and the budgeted conjunctive search
//   - graph/sparql: CONSTRUCT queries against the store for conjunctive rules
//   - origin: ignoreFromSelf filtering with a cached host resolver
//   - fold: cancellation of insert/delete pairs across a bundle
//   - bundle: grace-period bundling keyed by rule, session and groups
//   - dispatch: body formats, headers, retries and delivery outcomes
//   - pipeline: the Notifier tying the stages together
//   - gateway/http, input/natsfeed: inbound surfaces
//   - health, metric, config, errors, natsclient: supporting infrastructure
//
// # Binary
//
//	delta-notifier --config /config/notifier.yaml --rules /config/rules.json
//
// Configuration is layered: built-in defaults, the optional config file and
// DELTA_* environment variables, in that order.
package deltanotifier
