// Package fold computes the net effect of a sequence of change-sets.
//
// A triple deleted after being inserted, or inserted after being deleted,
// cancels out. Within one change-set deletes are applied before inserts,
// the order in which the store commits them.
package fold

import (
	"log/slog"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/metric"
	"github.com/mu-semtech/delta-notifier/rule"
)

// orderedSet keeps triples by canonical key in first-insertion order.
type orderedSet struct {
	index   map[string]int
	entries []entry
}

type entry struct {
	triple delta.Triple
	alive  bool
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: map[string]int{}}
}

func (s *orderedSet) add(key string, t delta.Triple) {
	if _, ok := s.index[key]; ok {
		return
	}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, entry{triple: t, alive: true})
}

// remove reports whether key was present.
func (s *orderedSet) remove(key string) bool {
	i, ok := s.index[key]
	if !ok {
		return false
	}
	s.entries[i].alive = false
	delete(s.index, key)
	return true
}

func (s *orderedSet) values() []delta.Triple {
	out := make([]delta.Triple, 0, len(s.index))
	for _, e := range s.entries {
		if e.alive {
			out = append(out, e.triple)
		}
	}
	return out
}

// Net folds the effective lists of changeSets. It returns at most two
// change-sets, a delete-only one then an insert-only one, each omitted when
// empty, and the number of triples cancelled. The result carries the allowed
// groups and call-id trail of the first input.
func Net(changeSets []delta.ChangeSet) ([]delta.ChangeSet, int) {
	pendingDelete := newOrderedSet()
	pendingInsert := newOrderedSet()
	cancelled := 0

	for _, cs := range changeSets {
		for _, t := range cs.EffectiveDelete {
			k := t.Key()
			if pendingInsert.remove(k) {
				cancelled++
				continue
			}
			pendingDelete.add(k, t)
		}
		for _, t := range cs.EffectiveInsert {
			k := t.Key()
			if pendingDelete.remove(k) {
				cancelled++
				continue
			}
			pendingInsert.add(k, t)
		}
	}

	var template delta.ChangeSet
	if len(changeSets) > 0 {
		template.AllowedGroups = changeSets[0].AllowedGroups
		template.CallIDTrail = changeSets[0].CallIDTrail
	}

	var out []delta.ChangeSet
	if deletes := pendingDelete.values(); len(deletes) > 0 {
		cs := template
		cs.Delete, cs.EffectiveDelete = deletes, deletes
		cs.Insert, cs.EffectiveInsert = []delta.Triple{}, []delta.Triple{}
		out = append(out, cs)
	}
	if inserts := pendingInsert.values(); len(inserts) > 0 {
		cs := template
		cs.Insert, cs.EffectiveInsert = inserts, inserts
		cs.Delete, cs.EffectiveDelete = []delta.Triple{}, []delta.Triple{}
		out = append(out, cs)
	}
	return out, cancelled
}

// Folder applies Net for rules that ask for it.
type Folder struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	debug   bool
}

// NewFolder creates a Folder. With debug set, every fold is logged.
func NewFolder(logger *slog.Logger, metrics *metric.Metrics, debug bool) *Folder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Folder{
		logger:  logger.With("component", "fold"),
		metrics: metrics,
		debug:   debug,
	}
}

// Fold returns the net change-sets when r has foldEffectiveChanges set and
// the input unchanged otherwise.
func (f *Folder) Fold(r *rule.Rule, changeSets []delta.ChangeSet) []delta.ChangeSet {
	if !r.Options.FoldEffectiveChanges {
		return changeSets
	}
	out, cancelled := Net(changeSets)
	f.metrics.RecordFoldCancelled(cancelled)
	if f.debug {
		f.logger.Info("Folded change-sets",
			"rule", r.Name(),
			"in", len(changeSets),
			"out", len(out),
			"cancelled", cancelled)
	}
	return out
}
