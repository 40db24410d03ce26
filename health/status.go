package health

import (
	"regexp"
	"strings"
	"time"
)

// Service states as served on /health.
const (
	StatusUp      = "UP"
	StatusFailing = "FAILING"
)

var credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)

// Status is the health of one component.
type Status struct {
	Component string    `json:"component"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsUp reports whether the component is up.
func (s Status) IsUp() bool {
	return s.Status == StatusUp
}

// Up creates a healthy status.
func Up(component, message string) Status {
	return Status{Component: component, Status: StatusUp, Message: message, Timestamp: time.Now()}
}

// Failing creates a failing status. Credentials in message are redacted.
func Failing(component, message string) Status {
	return Status{Component: component, Status: StatusFailing, Message: sanitizeErrorMessage(message), Timestamp: time.Now()}
}

// sanitizeErrorMessage redacts credential-looking key/value pairs.
func sanitizeErrorMessage(err string) string {
	lower := strings.ToLower(err)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			return credentialRegex.ReplaceAllString(err, "[REDACTED]")
		}
	}
	return err
}
