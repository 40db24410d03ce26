package delta

import (
	"github.com/mu-semtech/delta-notifier/pkg/timestamp"
)

// Normalizer canonicalizes terms of incoming change-sets before matching.
type Normalizer struct {
	// DateTime rewrites xsd:dateTime objects to the millisecond UTC form.
	DateTime bool
}

// Normalize rewrites the change-sets in place.
func (n Normalizer) Normalize(changeSets []ChangeSet) {
	if !n.DateTime {
		return
	}
	for i := range changeSets {
		cs := &changeSets[i]
		for _, list := range [][]Triple{cs.Insert, cs.Delete, cs.EffectiveInsert, cs.EffectiveDelete} {
			for j := range list {
				list[j] = n.NormalizeTriple(list[j])
			}
		}
	}
}

// NormalizeTriple returns t with its object canonicalized. Unparseable
// date-times are left untouched.
func (n Normalizer) NormalizeTriple(t Triple) Triple {
	if !n.DateTime || t.Object == nil || t.Object.Datatype != XSDDateTime {
		return t
	}
	parsed, ok := timestamp.ParseDateTime(t.Object.Value)
	if !ok {
		return t
	}
	obj := *t.Object
	obj.Value = timestamp.ISO(parsed)
	t.Object = &obj
	return t
}
