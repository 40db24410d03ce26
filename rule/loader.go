package rule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mu-semtech/delta-notifier/errors"
)

// Defaults are the process-wide option values applied to rules that leave
// them unset.
type Defaults struct {
	GracePeriod time.Duration
	RetryCount  int
	RetryDelay  time.Duration
	MatchMode   MatchMode
	RetryPolicy RetryPolicy
}

// DefaultDefaults mirrors the historical delivery behaviour: no bundling,
// no retries and 250ms between attempts when retries are configured.
func DefaultDefaults() Defaults {
	return Defaults{
		RetryDelay:  250 * time.Millisecond,
		MatchMode:   MatchAuto,
		RetryPolicy: RetryServerErrors,
	}
}

var validate = validator.New()

// LoadFile reads a YAML or JSON rule file. The format follows the file
// extension; unknown extensions are tried as JSON then YAML.
func LoadFile(path string, defaults Defaults, logger *slog.Logger) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "RuleLoader", "LoadFile", fmt.Sprintf("read rules file %s", path))
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	rules, err := Parse(data, format, defaults)
	if err != nil {
		return nil, errors.Wrap(err, "RuleLoader", "LoadFile", fmt.Sprintf("parse rules file %s", path))
	}

	if logger == nil {
		logger = slog.Default()
	}
	for _, r := range rules {
		for _, w := range r.Warnings() {
			logger.Warn("Rule configuration warning", "rule", r.Name(), "warning", w)
		}
	}
	logger.Info("Loaded rules", "path", path, "count", len(rules))

	return rules, nil
}

// Parse decodes and validates rules. Format is "yaml", "yml", "json" or
// empty to detect.
func Parse(data []byte, format string, defaults Defaults) ([]*Rule, error) {
	var rules []*Rule
	var err error

	switch format {
	case "yaml", "yml":
		rules, err = decodeYAML(data)
	case "json":
		rules, err = decodeJSON(data)
	default:
		if rules, err = decodeJSON(data); err != nil {
			rules, err = decodeYAML(data)
		}
	}
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "RuleLoader", "Parse", "decode rules")
	}

	for i, r := range rules {
		if r == nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: rule %d is empty", errors.ErrInvalidConfig, i), "RuleLoader", "Parse", "validate rules")
		}
		r.Index = i
		if err := r.prepare(defaults); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("rule %d: %w", i, err), "RuleLoader", "Parse", "validate rules")
		}
	}
	return rules, nil
}

func decodeJSON(data []byte) ([]*Rule, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var single Rule
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, err
		}
		return []*Rule{&single}, nil
	}
	var rules []*Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func decodeYAML(data []byte) ([]*Rule, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]

	// A top-level "rules:" key is accepted for files that carry other keys.
	if root.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value == "rules" {
				root = root.Content[i+1]
				break
			}
		}
	}

	if root.Kind == yaml.MappingNode {
		var single Rule
		if err := root.Decode(&single); err != nil {
			return nil, err
		}
		return []*Rule{&single}, nil
	}
	var rules []*Rule
	if err := root.Decode(&rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// prepare normalizes, applies defaults and validates a decoded rule.
func (r *Rule) prepare(defaults Defaults) error {
	if r.Callback.URL == "" {
		r.Callback.URL = r.Callback.URI
	}
	r.Callback.Method = strings.ToUpper(strings.TrimSpace(r.Callback.Method))

	o := &r.Options
	if o.GracePeriod == nil && defaults.GracePeriod > 0 {
		ms := int(defaults.GracePeriod / time.Millisecond)
		o.GracePeriod = &ms
	}
	if o.RetryCount == nil {
		n := defaults.RetryCount
		o.RetryCount = &n
	}
	if o.RetryDelay == nil {
		ms := int(defaults.RetryDelay / time.Millisecond)
		o.RetryDelay = &ms
	}
	if o.MatchMode == "" {
		o.MatchMode = defaults.MatchMode
		if o.MatchMode == "" {
			o.MatchMode = MatchAuto
		}
	}
	if o.RetryPolicy == "" {
		o.RetryPolicy = defaults.RetryPolicy
		if o.RetryPolicy == "" {
			o.RetryPolicy = RetryServerErrors
		}
	}

	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if u, err := url.Parse(r.Callback.URL); err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: callback url %q has no host", errors.ErrInvalidConfig, r.Callback.URL)
	}
	for i, p := range r.Match {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("match[%d]: %w", i, err)
		}
	}

	r.analyze()
	return nil
}

// Warnings reports configuration smells that do not prevent evaluation.
func (r *Rule) Warnings() []string {
	var out []string
	for _, v := range r.SingleUseVariables() {
		out = append(out, fmt.Sprintf("variable ?%s occurs only once and constrains nothing", v))
	}
	if !KnownFormat(r.Options.ResourceFormat) {
		out = append(out, fmt.Sprintf("unknown resourceFormat %q, deliveries will fail", r.Options.ResourceFormat))
	}
	if r.Options.MatchMode == MatchAll && !r.shared && len(r.Match) > 1 {
		out = append(out, "matchMode all without a variable shared between patterns")
	}
	if r.Options.RequestPerCallTrail && r.Options.Grace() == 0 {
		out = append(out, "requestPerCallTrail without gracePeriod sends one request per inbound call anyway")
	}
	return out
}
