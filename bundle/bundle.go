// Package bundle coalesces change-sets of one rule during a grace period.
//
// Change-sets arriving for the same rule, session and authorization groups
// are collected in one Bundle. The first arrival arms a one-shot timer;
// later arrivals only append. When the timer fires the bundle leaves the
// table and is handed to the fire handler in one piece.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/metric"
	"github.com/mu-semtech/delta-notifier/rule"
)

// HeaderBundledTrails lists the call-id trails of every request in a bundle.
const HeaderBundledTrails = "mu-bundled-call-id-trails"

// Bundle is the set of change-sets collected for one key.
type Bundle struct {
	Key       string
	Rule      *rule.Rule
	SessionID string

	// CallIDTrail is the trail of the request that opened the bundle.
	CallIDTrail string

	// Trails holds the trail of every request added, opener first.
	Trails     []string
	ChangeSets []delta.ChangeSet
	Opened     time.Time

	timer *clock.Timer
}

// Headers returns the extra headers sent with the bundled notification.
func (b *Bundle) Headers() map[string]string {
	return map[string]string{HeaderBundledTrails: strings.Join(b.Trails, ",")}
}

// FireFunc processes a bundle after it left the table.
type FireFunc func(b *Bundle)

// Bundler owns the bundle table.
type Bundler struct {
	clock   clock.Clock
	fire    FireFunc
	logger  *slog.Logger
	metrics *metric.Metrics
	debug   bool

	mu      sync.Mutex
	bundles map[string]*Bundle
}

// Option configures a Bundler.
type Option func(*Bundler)

// WithClock replaces the wall clock, typically with a mock in tests.
func WithClock(clk clock.Clock) Option {
	return func(b *Bundler) { b.clock = clk }
}

// WithMetrics records open and fired bundles.
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Bundler) { b.metrics = m }
}

// WithDebug logs every bundle creation and addition at info level.
func WithDebug(debug bool) Option {
	return func(b *Bundler) { b.debug = debug }
}

// New creates a Bundler handing fired bundles to fire.
func New(fire FireFunc, logger *slog.Logger, opts ...Option) *Bundler {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bundler{
		clock:   clock.New(),
		fire:    fire,
		logger:  logger.With("component", "bundle"),
		bundles: make(map[string]*Bundle),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key computes the bundle key of a rule, session and groups. The session is
// length-prefixed since session ids and group strings both contain dashes.
func Key(r *rule.Rule, sessionID string, groups delta.Groups) string {
	digest := string(groups)
	if r.Options.PreciseBundling {
		digest = GroupsDigest(groups)
	}
	return fmt.Sprintf("%d-%d:%s-%s", r.Index, len(sessionID), sessionID, digest)
}

// GroupsDigest hashes the group list independent of element order. Values
// that are not a JSON array are hashed as they are.
func GroupsDigest(groups delta.Groups) string {
	var items []json.RawMessage
	canonical := []byte(groups)
	if err := json.Unmarshal([]byte(groups), &items); err == nil {
		encoded := make([]string, 0, len(items))
		for _, item := range items {
			encoded = append(encoded, canonicalJSON(item))
		}
		sort.Strings(encoded)
		canonical = []byte("[" + strings.Join(encoded, ",") + "]")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON re-encodes a value so object keys come out sorted.
func canonicalJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// Add appends changeSets to the bundle of their key, opening it when absent.
// It reports whether a new bundle was opened. The grace period is counted
// from the opening; additions never extend it.
func (b *Bundler) Add(r *rule.Rule, sessionID, callIDTrail string, changeSets []delta.ChangeSet) (string, bool) {
	var groups delta.Groups
	if len(changeSets) > 0 {
		groups = changeSets[0].AllowedGroups
	}
	key := Key(r, sessionID, groups)

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.bundles[key]; ok {
		existing.ChangeSets = append(existing.ChangeSets, changeSets...)
		existing.Trails = append(existing.Trails, callIDTrail)
		if b.debug {
			b.logger.Info("Added to bundle",
				"key", key,
				"change_sets", len(existing.ChangeSets))
		}
		return key, false
	}

	bundle := &Bundle{
		Key:         key,
		Rule:        r,
		SessionID:   sessionID,
		CallIDTrail: callIDTrail,
		Trails:      []string{callIDTrail},
		ChangeSets:  append([]delta.ChangeSet(nil), changeSets...),
		Opened:      b.clock.Now(),
	}
	bundle.timer = b.clock.AfterFunc(r.Options.Grace(), func() { b.expire(key) })
	b.bundles[key] = bundle
	b.metrics.RecordBundlesOpen(len(b.bundles))

	if b.debug {
		b.logger.Info("Created bundle",
			"key", key,
			"grace_period", r.Options.Grace())
	}
	return key, true
}

// pop removes and returns the bundle of key.
func (b *Bundler) pop(key string) *Bundle {
	b.mu.Lock()
	defer b.mu.Unlock()
	bundle, ok := b.bundles[key]
	if !ok {
		return nil
	}
	delete(b.bundles, key)
	b.metrics.RecordBundlesOpen(len(b.bundles))
	return bundle
}

func (b *Bundler) expire(key string) {
	bundle := b.pop(key)
	if bundle == nil {
		b.logger.Error("Bundle already handled", "key", key)
		return
	}
	b.handle(bundle)
}

func (b *Bundler) handle(bundle *Bundle) {
	b.metrics.RecordBundleFired(bundle.Rule.Index)
	if b.debug {
		b.logger.Info("Firing bundle",
			"key", bundle.Key,
			"change_sets", len(bundle.ChangeSets),
			"requests", len(bundle.Trails))
	}
	b.fire(bundle)
}

// Flush fires every open bundle now, in key order, and returns how many
// were fired. Timers of flushed bundles are stopped.
func (b *Bundler) Flush() int {
	b.mu.Lock()
	pending := make([]*Bundle, 0, len(b.bundles))
	for key, bundle := range b.bundles {
		bundle.timer.Stop()
		pending = append(pending, bundle)
		delete(b.bundles, key)
	}
	b.metrics.RecordBundlesOpen(0)
	b.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].Key < pending[j].Key })
	for _, bundle := range pending {
		b.handle(bundle)
	}
	return len(pending)
}

// Pending returns the number of open bundles.
func (b *Bundler) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bundles)
}
