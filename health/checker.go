package health

import "github.com/mu-semtech/delta-notifier/dispatch"

// Body is served on /health.
type Body struct {
	Status     string             `json:"status"`
	Failures   []dispatch.Outcome `json:"failures,omitempty"`
	Report     *Report            `json:"report,omitempty"`
	Components []Status           `json:"components,omitempty"`
}

// Checker combines the delivery log with monitored components.
type Checker struct {
	log     *Log
	monitor *Monitor
}

// NewChecker creates a Checker; either argument may be nil.
func NewChecker(log *Log, monitor *Monitor) *Checker {
	return &Checker{log: log, monitor: monitor}
}

// Check computes the current body. The status is FAILING when a delivery
// failed within the window or a monitored component is failing.
func (c *Checker) Check() Body {
	body := Body{Status: StatusUp}
	if c.log != nil {
		body.Failures = c.log.Recent()
		report := c.log.Report()
		body.Report = &report
		if len(body.Failures) > 0 {
			body.Status = StatusFailing
		}
	}
	if c.monitor != nil {
		body.Components = c.monitor.All()
		for _, s := range body.Components {
			if !s.IsUp() {
				body.Status = StatusFailing
			}
		}
	}
	return body
}
