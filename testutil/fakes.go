package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/match"
	"github.com/mu-semtech/delta-notifier/rule"
)

// StaticQuery answers Construct from an in-memory store. A triple is
// returned when it matches one of the patterns under the given bindings.
type StaticQuery struct {
	mu      sync.RWMutex
	store   []delta.Triple
	err     error
	queries atomic.Int64
}

// NewStaticQuery creates a query service over store.
func NewStaticQuery(store ...delta.Triple) *StaticQuery {
	return &StaticQuery{store: store}
}

// Add appends triples to the store.
func (q *StaticQuery) Add(triples ...delta.Triple) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.store = append(q.store, triples...)
}

// FailWith makes every following query fail with err. Nil restores service.
func (q *StaticQuery) FailWith(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

// Queries returns the number of Construct calls.
func (q *StaticQuery) Queries() int {
	return int(q.queries.Load())
}

// Construct implements match.QueryService.
func (q *StaticQuery) Construct(ctx context.Context, patterns []rule.Pattern, bindings match.Solution) ([]delta.Triple, error) {
	q.queries.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.err != nil {
		return nil, q.err
	}

	var out []delta.Triple
	for _, t := range q.store {
		for _, p := range patterns {
			got, ok := match.Bindings(t, p)
			if !ok {
				continue
			}
			if _, ok := match.Combine(bindings, got); ok {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// StaticResolver resolves hosts from a fixed table.
type StaticResolver struct {
	Hosts map[string]string

	lookups atomic.Int64
}

// Lookups returns the number of LookupIPv4 calls.
func (r *StaticResolver) Lookups() int {
	return int(r.lookups.Load())
}

// LookupIPv4 implements origin.Resolver.
func (r *StaticResolver) LookupIPv4(_ context.Context, host string) (string, error) {
	r.lookups.Add(1)
	if ip, ok := r.Hosts[host]; ok {
		return ip, nil
	}
	return "", fmt.Errorf("no such host %q", host)
}
