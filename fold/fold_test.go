package fold

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/rule"
)

func quad(o string) delta.Triple {
	return delta.NewTriple(delta.URI("s"), delta.URI("p"), delta.Literal(o))
}

func effective(del, ins []delta.Triple) delta.ChangeSet {
	if del == nil {
		del = []delta.Triple{}
	}
	if ins == nil {
		ins = []delta.Triple{}
	}
	return delta.ChangeSet{
		Insert: ins, Delete: del,
		EffectiveInsert: ins, EffectiveDelete: del,
	}
}

func TestNet_InsertThenDeleteCancels(t *testing.T) {
	out, cancelled := Net([]delta.ChangeSet{
		effective(nil, []delta.Triple{quad("a")}),
		effective([]delta.Triple{quad("a")}, nil),
	})
	assert.Empty(t, out)
	assert.Equal(t, 1, cancelled)
}

func TestNet_DeleteBeforeInsertWithinChangeSet(t *testing.T) {
	// One change-set replacing a value: the delete is applied first, then
	// the insert cancels it.
	out, cancelled := Net([]delta.ChangeSet{
		effective([]delta.Triple{quad("a")}, []delta.Triple{quad("a")}),
	})
	assert.Empty(t, out)
	assert.Equal(t, 1, cancelled)

	// Insert first, delete in a later set: the delete cancels the insert.
	// Within one set the order would be the other way round.
	out, _ = Net([]delta.ChangeSet{
		effective(nil, []delta.Triple{quad("a")}),
		effective([]delta.Triple{quad("a")}, []delta.Triple{quad("a")}),
	})
	require.Len(t, out, 1)
	assert.Equal(t, []delta.Triple{quad("a")}, out[0].Insert)
}

func TestNet_OutputShape(t *testing.T) {
	first := effective([]delta.Triple{quad("old")}, []delta.Triple{quad("new")})
	first.AllowedGroups = `[{"name":"public"}]`
	first.CallIDTrail = `["c1"]`
	second := effective(nil, []delta.Triple{quad("other")})
	second.AllowedGroups = `[{"name":"admin"}]`

	out, cancelled := Net([]delta.ChangeSet{first, second})
	assert.Equal(t, 0, cancelled)
	require.Len(t, out, 2)

	assert.Equal(t, []delta.Triple{quad("old")}, out[0].Delete)
	assert.Equal(t, []delta.Triple{quad("old")}, out[0].EffectiveDelete)
	assert.Empty(t, out[0].Insert)
	assert.NotNil(t, out[0].Insert)

	assert.Equal(t, []delta.Triple{quad("new"), quad("other")}, out[1].Insert)
	assert.Empty(t, out[1].Delete)

	for _, cs := range out {
		assert.Equal(t, delta.Groups(`[{"name":"public"}]`), cs.AllowedGroups)
		assert.Equal(t, `["c1"]`, cs.CallIDTrail)
	}
}

func TestNet_Idempotent(t *testing.T) {
	inputs := [][]delta.ChangeSet{
		{effective([]delta.Triple{quad("a"), quad("b")}, []delta.Triple{quad("c")})},
		{
			effective(nil, []delta.Triple{quad("a"), quad("b")}),
			effective([]delta.Triple{quad("b"), quad("c")}, []delta.Triple{quad("d")}),
			effective([]delta.Triple{quad("d")}, []delta.Triple{quad("c"), quad("e")}),
		},
		{},
	}

	for _, in := range inputs {
		once, _ := Net(in)
		twice, cancelled := Net(once)
		if diff := cmp.Diff(once, twice, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("folding twice changed the result (-once +twice):\n%s", diff)
		}
		assert.Equal(t, 0, cancelled)
	}
}

func TestNet_IndependentTriplesUnaffected(t *testing.T) {
	// a cancels, b and c are untouched by it
	out, cancelled := Net([]delta.ChangeSet{
		effective(nil, []delta.Triple{quad("a"), quad("b")}),
		effective([]delta.Triple{quad("a"), quad("c")}, nil),
	})
	assert.Equal(t, 1, cancelled)
	require.Len(t, out, 2)
	assert.Equal(t, []delta.Triple{quad("c")}, out[0].Delete)
	assert.Equal(t, []delta.Triple{quad("b")}, out[1].Insert)
}

func TestNet_Deterministic(t *testing.T) {
	in := []delta.ChangeSet{
		effective(nil, []delta.Triple{quad("z"), quad("y"), quad("x")}),
		effective([]delta.Triple{quad("y")}, []delta.Triple{quad("w")}),
	}
	first, _ := Net(in)
	for i := 0; i < 20; i++ {
		again, _ := Net(in)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []delta.Triple{quad("z"), quad("x"), quad("w")}, first[0].Insert)
}

func TestNet_GraphDistinguishesTriples(t *testing.T) {
	out, cancelled := Net([]delta.ChangeSet{
		effective(nil, []delta.Triple{quad("a").InGraph(delta.URI("g1"))}),
		effective([]delta.Triple{quad("a").InGraph(delta.URI("g2"))}, nil),
	})
	assert.Equal(t, 0, cancelled)
	assert.Len(t, out, 2)
}

func TestFolder_RespectsRuleOption(t *testing.T) {
	in := []delta.ChangeSet{
		effective(nil, []delta.Triple{quad("a")}),
		effective([]delta.Triple{quad("a")}, nil),
	}
	f := NewFolder(nil, nil, true)

	r := &rule.Rule{}
	assert.Equal(t, in, f.Fold(r, in))

	r.Options.FoldEffectiveChanges = true
	assert.Empty(t, f.Fold(r, in))
}
