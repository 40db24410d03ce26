package rule

import (
	"fmt"
	"time"

	"github.com/mu-semtech/delta-notifier/delta"
)

// MatchMode selects how a rule with several patterns is evaluated.
type MatchMode string

const (
	// MatchAuto evaluates conjunctively when a variable is shared between
	// two patterns, disjunctively otherwise.
	MatchAuto MatchMode = "auto"
	// MatchAny fires when any changed triple matches any pattern.
	MatchAny MatchMode = "any"
	// MatchAll fires when at least one complete solution binds every variable.
	MatchAll MatchMode = "all"
)

// RetryPolicy selects which callback responses are retried.
type RetryPolicy string

const (
	// RetryServerErrors retries transport errors and 5xx responses.
	RetryServerErrors RetryPolicy = "server-errors"
	// RetryAllNon2xx retries every response outside 2xx.
	RetryAllNon2xx RetryPolicy = "all-non-2xx"
)

// Resource formats understood by the dispatcher.
const (
	FormatV001    = "v0.0.1"
	FormatV002    = "v0.0.2"
	FormatGenesis = "v0.0.0-genesis"
)

// KnownFormat reports whether f names a supported body format. The empty
// format sends notifications without a body.
func KnownFormat(f string) bool {
	switch f {
	case "", FormatV001, FormatV002, FormatGenesis:
		return true
	}
	return false
}

// Callback is the consumer endpoint of a rule.
type Callback struct {
	URL    string `json:"url" yaml:"url" validate:"required,http_url"`
	Method string `json:"method" yaml:"method" validate:"required"`

	// URI is the historical spelling of URL.
	URI string `json:"uri,omitempty" yaml:"uri,omitempty" validate:"-"`
}

// Options tune matching, bundling and delivery of a rule. Pointer fields are
// filled from process defaults at load time.
type Options struct {
	SendMatchesOnly      bool        `json:"sendMatchesOnly,omitempty" yaml:"sendMatchesOnly,omitempty"`
	IgnoreFromSelf       bool        `json:"ignoreFromSelf,omitempty" yaml:"ignoreFromSelf,omitempty"`
	GracePeriod          *int        `json:"gracePeriod,omitempty" yaml:"gracePeriod,omitempty" validate:"omitempty,min=0"`
	ResourceFormat       string      `json:"resourceFormat,omitempty" yaml:"resourceFormat,omitempty"`
	RetryCount           *int        `json:"retryCount,omitempty" yaml:"retryCount,omitempty" validate:"omitempty,min=0"`
	RetryDelay           *int        `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty" validate:"omitempty,min=0"`
	MatchOnEffective     bool        `json:"matchOnEffective,omitempty" yaml:"matchOnEffective,omitempty"`
	RequestPerCallTrail  bool        `json:"requestPerCallTrail,omitempty" yaml:"requestPerCallTrail,omitempty"`
	PreciseBundling      bool        `json:"preciseBundling,omitempty" yaml:"preciseBundling,omitempty"`
	FoldEffectiveChanges bool        `json:"foldEffectiveChanges,omitempty" yaml:"foldEffectiveChanges,omitempty"`
	MatchMode            MatchMode   `json:"matchMode,omitempty" yaml:"matchMode,omitempty" validate:"omitempty,oneof=auto any all"`
	RetryPolicy          RetryPolicy `json:"retryPolicy,omitempty" yaml:"retryPolicy,omitempty" validate:"omitempty,oneof=server-errors all-non-2xx"`
}

// Grace returns the bundling grace period, zero when bundling is off.
func (o Options) Grace() time.Duration {
	if o.GracePeriod == nil {
		return 0
	}
	return time.Duration(*o.GracePeriod) * time.Millisecond
}

// Retries returns the number of additional delivery attempts.
func (o Options) Retries() int {
	if o.RetryCount == nil {
		return 0
	}
	return *o.RetryCount
}

// Delay returns the pause between delivery attempts.
func (o Options) Delay() time.Duration {
	if o.RetryDelay == nil {
		return 0
	}
	return time.Duration(*o.RetryDelay) * time.Millisecond
}

// Rule routes matching change-sets to one callback.
type Rule struct {
	Match    Patterns `json:"match" yaml:"match" validate:"min=1"`
	Callback Callback `json:"callback" yaml:"callback"`
	Options  Options  `json:"options" yaml:"options"`

	// Index is the position of the rule in its file; it is part of the
	// bundle key.
	Index int `json:"-" yaml:"-"`

	variables []string
	counts    map[string]int
	shared    bool
}

// Name identifies the rule in logs and metrics.
func (r *Rule) Name() string {
	return fmt.Sprintf("%d:%s %s", r.Index, r.Callback.Method, r.Callback.URL)
}

// Variables lists the variable names of all patterns in first-seen order.
func (r *Rule) Variables() []string {
	return r.variables
}

// HasVariables reports whether any pattern holds a variable.
func (r *Rule) HasVariables() bool {
	return len(r.variables) > 0
}

// SingleUseVariables lists variables occurring at exactly one position of
// the whole rule.
func (r *Rule) SingleUseVariables() []string {
	var out []string
	for _, v := range r.variables {
		if r.counts[v] == 1 {
			out = append(out, v)
		}
	}
	return out
}

// Mode resolves MatchAuto against the rule's patterns.
func (r *Rule) Mode() MatchMode {
	switch r.Options.MatchMode {
	case MatchAny, MatchAll:
		return r.Options.MatchMode
	}
	if r.shared {
		return MatchAll
	}
	return MatchAny
}

// analyze records variable usage; called once after decoding.
func (r *Rule) analyze() {
	r.variables = nil
	r.counts = map[string]int{}
	seenIn := map[string]int{}
	r.shared = false

	for i, p := range r.Match {
		inPattern := map[string]bool{}
		for _, pos := range delta.Positions {
			term := p.At(pos)
			if term == nil || !term.IsVariable() {
				continue
			}
			name := term.Value
			if _, ok := r.counts[name]; !ok {
				r.variables = append(r.variables, name)
			}
			r.counts[name]++
			if inPattern[name] {
				continue
			}
			inPattern[name] = true
			if prev, ok := seenIn[name]; ok && prev != i {
				r.shared = true
			}
			seenIn[name] = i
		}
	}
}
