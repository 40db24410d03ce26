package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/rule"
)

type changeV001 struct {
	Inserts []delta.Triple `json:"inserts"`
	Deletes []delta.Triple `json:"deletes"`
}

type changeV002 struct {
	Inserts          []delta.Triple `json:"inserts"`
	Deletes          []delta.Triple `json:"deletes"`
	EffectiveInserts []delta.Triple `json:"effectiveInserts"`
	EffectiveDeletes []delta.Triple `json:"effectiveDeletes"`
	Index            *int           `json:"index,omitempty"`
}

// genesisTriple is the flattened form of the oldest format; graphs are dropped.
type genesisTriple struct {
	S string `json:"s"`
	P string `json:"p"`
	O string `json:"o"`
}

type genesisBody struct {
	Delta struct {
		Inserts []genesisTriple `json:"inserts"`
		Deletes []genesisTriple `json:"deletes"`
	} `json:"delta"`
}

// FormatBody renders changeSets in format. The empty format yields a nil
// body; an unknown format fails with ErrUnknownFormat.
func FormatBody(format string, changeSets []delta.ChangeSet) ([]byte, error) {
	var payload any
	switch format {
	case "":
		return nil, nil
	case rule.FormatV001:
		out := make([]changeV001, 0, len(changeSets))
		for _, cs := range changeSets {
			out = append(out, changeV001{Inserts: orEmpty(cs.Insert), Deletes: orEmpty(cs.Delete)})
		}
		payload = out
	case rule.FormatV002:
		out := make([]changeV002, 0, len(changeSets))
		for _, cs := range changeSets {
			out = append(out, changeV002{
				Inserts:          orEmpty(cs.Insert),
				Deletes:          orEmpty(cs.Delete),
				EffectiveInserts: orEmpty(cs.EffectiveInsert),
				EffectiveDeletes: orEmpty(cs.EffectiveDelete),
				Index:            cs.Index,
			})
		}
		payload = out
	case rule.FormatGenesis:
		var body genesisBody
		body.Delta.Inserts = []genesisTriple{}
		body.Delta.Deletes = []genesisTriple{}
		for _, cs := range changeSets {
			body.Delta.Inserts = append(body.Delta.Inserts, flatten(cs.Insert)...)
			body.Delta.Deletes = append(body.Delta.Deletes, flatten(cs.Delete)...)
		}
		payload = body
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownFormat, format), "dispatch", "FormatBody", "format body")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WrapInvalid(err, "dispatch", "FormatBody", "marshal body")
	}
	return data, nil
}

func flatten(triples []delta.Triple) []genesisTriple {
	out := make([]genesisTriple, 0, len(triples))
	for _, t := range triples {
		out = append(out, genesisTriple{S: value(t.Subject), P: value(t.Predicate), O: value(t.Object)})
	}
	return out
}

func value(t *delta.Term) string {
	if t == nil {
		return ""
	}
	return t.Value
}

func orEmpty(triples []delta.Triple) []delta.Triple {
	if triples == nil {
		return []delta.Triple{}
	}
	return triples
}

// GroupByTrail partitions changeSets by call-id trail in first-seen order.
func GroupByTrail(changeSets []delta.ChangeSet) [][]delta.ChangeSet {
	index := map[string]int{}
	var groups [][]delta.ChangeSet
	for _, cs := range changeSets {
		i, ok := index[cs.CallIDTrail]
		if !ok {
			i = len(groups)
			index[cs.CallIDTrail] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], cs)
	}
	return groups
}
