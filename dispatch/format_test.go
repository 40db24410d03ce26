package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/rule"
)

func TestFormatBody(t *testing.T) {
	cs := []delta.ChangeSet{{
		Insert: []delta.Triple{delta.NewTriple(delta.URI("http://s"), delta.URI("http://p"), delta.Literal("o")).
			InGraph(delta.URI("http://g"))},
		Delete: []delta.Triple{},
	}}

	body, err := FormatBody(rule.FormatV001, cs)
	require.NoError(t, err)
	assert.JSONEq(t, `[{
		"inserts": [{"subject":{"type":"uri","value":"http://s"},"predicate":{"type":"uri","value":"http://p"},
		             "object":{"type":"literal","value":"o"},"graph":{"type":"uri","value":"http://g"}}],
		"deletes": []
	}]`, string(body))

	body, err = FormatBody(rule.FormatGenesis, cs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"delta":{"inserts":[{"s":"http://s","p":"http://p","o":"o"}],"deletes":[]}}`, string(body))

	body, err = FormatBody(rule.FormatV002, cs)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"effectiveInserts":[]`)
	assert.NotContains(t, string(body), `"index"`)

	body, err = FormatBody("", cs)
	require.NoError(t, err)
	assert.Nil(t, body)

	_, err = FormatBody("v1", cs)
	assert.ErrorIs(t, err, errors.ErrUnknownFormat)
	assert.True(t, errors.IsInvalid(err))
}

func TestGroupByTrail(t *testing.T) {
	groups := GroupByTrail([]delta.ChangeSet{
		{CallIDTrail: "x"}, {CallIDTrail: "y"}, {CallIDTrail: "x"}, {CallIDTrail: "z"},
	})
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 2)
	assert.Equal(t, "y", groups[1][0].CallIDTrail)
	assert.Equal(t, "z", groups[2][0].CallIDTrail)
}
