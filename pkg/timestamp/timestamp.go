// Package timestamp canonicalizes the date-time text found in xsd:dateTime
// literals.
//
// The canonical form is UTC with millisecond precision,
// 2006-01-02T15:04:05.000Z, so two literals naming the same instant compare
// equal as strings:
//
//	if t, ok := timestamp.ParseDateTime(literal); ok {
//	    literal = timestamp.ISO(t)
//	}
package timestamp

import (
	"strings"
	"time"
)

// ISOLayout is the fixed millisecond UTC layout produced by ISO.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// Layouts tried in order by ParseDateTime. Zoned forms come first so an
// explicit offset is never read as UTC.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// ISO renders t in UTC with millisecond precision.
func ISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// ParseDateTime parses the textual date-time forms seen in xsd:dateTime
// literals. Values without a zone are read as UTC.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
