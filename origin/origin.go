// Package origin drops change-sets a callback caused itself.
//
// The store stamps every change-set with the IP address of the service that
// issued the update. A rule with ignoreFromSelf skips change-sets whose
// origin is the address of its own callback host.
package origin

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/metric"
	"github.com/mu-semtech/delta-notifier/rule"
)

// Filter applies ignoreFromSelf.
type Filter struct {
	resolver Resolver
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// NewFilter creates a Filter resolving hosts through resolver.
func NewFilter(resolver Resolver, logger *slog.Logger, metrics *metric.Metrics) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		resolver: resolver,
		logger:   logger.With("component", "origin"),
		metrics:  metrics,
	}
}

// Hostname extracts the host of a callback URL, without port.
func Hostname(callback string) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", errors.WrapInvalid(err, "origin", "Hostname", "parse callback url")
	}
	if u.Hostname() == "" {
		return "", errors.WrapInvalid(fmt.Errorf("%w: no host in %q", errors.ErrInvalidConfig, callback), "origin", "Hostname", "parse callback url")
	}
	return u.Hostname(), nil
}

// Apply returns changeSets without those originating from the rule's own
// callback host. Rules without ignoreFromSelf pass everything. When the host
// cannot be resolved nothing is dropped.
func (f *Filter) Apply(ctx context.Context, r *rule.Rule, changeSets []delta.ChangeSet) []delta.ChangeSet {
	if !r.Options.IgnoreFromSelf {
		return changeSets
	}

	host, err := Hostname(r.Callback.URL)
	if err != nil {
		f.logger.Warn("Cannot filter on origin", "rule", r.Name(), "error", err)
		return changeSets
	}
	ip, err := f.resolver.LookupIPv4(ctx, host)
	if err != nil {
		f.logger.Warn("Origin lookup failed, not filtering",
			"rule", r.Name(),
			"host", host,
			"error", err)
		f.metrics.RecordResolveFailure(host)
		return changeSets
	}

	out := make([]delta.ChangeSet, 0, len(changeSets))
	for _, cs := range changeSets {
		if cs.Origin == ip {
			continue
		}
		out = append(out, cs)
	}
	if dropped := len(changeSets) - len(out); dropped > 0 {
		f.metrics.RecordFiltered(r.Index, dropped)
		f.logger.Debug("Dropped self-originated change-sets",
			"rule", r.Name(),
			"origin", ip,
			"dropped", dropped)
	}
	return out
}
