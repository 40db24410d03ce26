package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/mu-semtech/delta-notifier/errors"
)

// Groups holds the authorization groups of a change-set as the raw JSON
// text sent by the store. The store normally sends a JSON-encoded string;
// a bare JSON array is accepted and kept as its textual form.
type Groups string

// UnmarshalJSON accepts either a JSON string or any other JSON value.
func (g *Groups) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*g = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*g = Groups(s)
		return nil
	}
	*g = Groups(data)
	return nil
}

// ChangeSet is one mutation unit delivered by the store.
type ChangeSet struct {
	Insert          []Triple `json:"insert"`
	Delete          []Triple `json:"delete"`
	EffectiveInsert []Triple `json:"effectiveInsert"`
	EffectiveDelete []Triple `json:"effectiveDelete"`
	Origin          string   `json:"origin,omitempty"`
	AllowedGroups   Groups   `json:"allowedGroups,omitempty"`
	Index           *int     `json:"index,omitempty"`

	// CallIDTrail is the outgoing mu-call-id-trail of the request that
	// carried this change-set.
	CallIDTrail string `json:"-"`

	// Dropped counts the triples removed while decoding because a term
	// failed validation.
	Dropped int `json:"-"`
}

// UnmarshalJSON decodes a change-set, defaulting the triple lists to empty.
// Triples holding an invalid term are dropped and counted in Dropped so one
// bad term does not lose the rest of the change-set.
func (c *ChangeSet) UnmarshalJSON(data []byte) error {
	type plain ChangeSet
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ChangeSet(p)
	c.ensureLists()
	c.dropInvalid()
	return nil
}

func (c *ChangeSet) dropInvalid() {
	before := len(c.Insert) + len(c.Delete) + len(c.EffectiveInsert) + len(c.EffectiveDelete)
	*c = c.Filter(func(t Triple) bool { return t.Validate() == nil })
	after := len(c.Insert) + len(c.Delete) + len(c.EffectiveInsert) + len(c.EffectiveDelete)
	c.Dropped += before - after
}

func (c *ChangeSet) ensureLists() {
	if c.Insert == nil {
		c.Insert = []Triple{}
	}
	if c.Delete == nil {
		c.Delete = []Triple{}
	}
	if c.EffectiveInsert == nil {
		c.EffectiveInsert = []Triple{}
	}
	if c.EffectiveDelete == nil {
		c.EffectiveDelete = []Triple{}
	}
}

// Validate checks every triple of every list.
func (c ChangeSet) Validate() error {
	lists := map[string][]Triple{
		"insert":          c.Insert,
		"delete":          c.Delete,
		"effectiveInsert": c.EffectiveInsert,
		"effectiveDelete": c.EffectiveDelete,
	}
	for name, triples := range lists {
		for i, t := range triples {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", name, i, err)
			}
		}
	}
	return nil
}

// Changed returns the triples considered for matching: inserts then deletes,
// or their effective counterparts.
func (c ChangeSet) Changed(effective bool) []Triple {
	ins, del := c.Insert, c.Delete
	if effective {
		ins, del = c.EffectiveInsert, c.EffectiveDelete
	}
	out := make([]Triple, 0, len(ins)+len(del))
	out = append(out, ins...)
	return append(out, del...)
}

// Filter returns a copy of c keeping only the triples accepted by keep in
// each of the four lists.
func (c ChangeSet) Filter(keep func(Triple) bool) ChangeSet {
	filter := func(in []Triple) []Triple {
		out := make([]Triple, 0, len(in))
		for _, t := range in {
			if keep(t) {
				out = append(out, t)
			}
		}
		return out
	}
	c.Insert = filter(c.Insert)
	c.Delete = filter(c.Delete)
	c.EffectiveInsert = filter(c.EffectiveInsert)
	c.EffectiveDelete = filter(c.EffectiveDelete)
	return c
}

// IsEmpty reports whether no list holds a triple.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Insert) == 0 && len(c.Delete) == 0 &&
		len(c.EffectiveInsert) == 0 && len(c.EffectiveDelete) == 0
}

// ChangedTriples flattens Changed over every change-set.
func ChangedTriples(changeSets []ChangeSet, effective bool) []Triple {
	var out []Triple
	for _, cs := range changeSets {
		out = append(out, cs.Changed(effective)...)
	}
	return out
}

// Batch is one inbound notification from the store.
type Batch struct {
	ChangeSets []ChangeSet `json:"changeSets"`

	// CallIDTrail is the trail forwarded to consumers.
	CallIDTrail string `json:"-"`
	SessionID   string `json:"-"`
}

// DecodeBatch reads a `{"changeSets": [...]}` body.
func DecodeBatch(r io.Reader) (*Batch, error) {
	var b Batch
	dec := json.NewDecoder(r)
	if err := dec.Decode(&b); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err), "delta", "DecodeBatch", "decode body")
	}
	if b.ChangeSets == nil {
		b.ChangeSets = []ChangeSet{}
	}
	return &b, nil
}

// Dropped returns the number of invalid triples removed while decoding.
func (b *Batch) Dropped() int {
	n := 0
	for _, cs := range b.ChangeSets {
		n += cs.Dropped
	}
	return n
}

// SetCallContext stamps the batch and each change-set with the outgoing trail
// and session.
func (b *Batch) SetCallContext(trail, sessionID string) {
	b.CallIDTrail = trail
	b.SessionID = sessionID
	for i := range b.ChangeSets {
		b.ChangeSets[i].CallIDTrail = trail
	}
}

// NextCallIDTrail extends the inbound mu-call-id-trail header (a JSON array,
// empty meaning []) with the inbound mu-call-id. A missing call id is
// replaced by a fresh one so the trail never holds an empty entry.
func NextCallIDTrail(trailHeader, callID string) (string, error) {
	trail := []string{}
	if trailHeader != "" {
		if err := json.Unmarshal([]byte(trailHeader), &trail); err != nil {
			return "", errors.WrapInvalid(fmt.Errorf("%w: mu-call-id-trail: %v", errors.ErrInvalidData, err), "delta", "NextCallIDTrail", "parse trail")
		}
	}
	if callID == "" {
		callID = uuid.NewString()
	}
	out, err := json.Marshal(append(trail, callID))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
