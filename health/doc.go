// Package health tracks recent delivery failures and component status.
//
// Log records every delivery outcome reported by the dispatcher. Failures
// younger than the health window turn the service status to FAILING; the
// same log feeds the delivery report (total deliveries and failed requests
// grouped by callback URL and method). Monitor holds the status of
// long-lived components such as the NATS connection. Checker combines both
// into the body served on /health.
package health
