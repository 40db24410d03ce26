package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestISO(t *testing.T) {
	cest := time.FixedZone("CEST", 2*3600)

	assert.Equal(t, "2023-01-15T12:30:45.123Z", ISO(time.Date(2023, 1, 15, 12, 30, 45, 123456789, time.UTC)))
	assert.Equal(t, "2023-01-15T12:30:45.000Z", ISO(time.Date(2023, 1, 15, 12, 30, 45, 0, time.UTC)))
	assert.Equal(t, "2023-01-15T12:30:45.000Z", ISO(time.Date(2023, 1, 15, 14, 30, 45, 0, cest)))
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"rfc3339", "2023-01-15T12:30:45Z", "2023-01-15T12:30:45.000Z", true},
		{"fraction truncated to millis", "2023-01-15T12:30:45.123456Z", "2023-01-15T12:30:45.123Z", true},
		{"offset", "2023-01-15T14:30:45+02:00", "2023-01-15T12:30:45.000Z", true},
		{"no zone is utc", "2023-01-15T12:30:45", "2023-01-15T12:30:45.000Z", true},
		{"space separated", "2023-01-15 12:30:45", "2023-01-15T12:30:45.000Z", true},
		{"date only", "2023-01-15", "2023-01-15T00:00:00.000Z", true},
		{"surrounding space", "  2023-01-15T12:30:45Z\n", "2023-01-15T12:30:45.000Z", true},
		{"garbage", "yesterday", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDateTime(tt.input)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, ISO(got))
			}
		})
	}
}
