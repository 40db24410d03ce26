package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/rule"
)

type captured struct {
	method string
	header http.Header
	body   []byte
}

type callback struct {
	mu       sync.Mutex
	requests []captured
	status   int
	server   *httptest.Server
}

func newCallback(t *testing.T, status int) *callback {
	t.Helper()
	cb := &callback{status: status}
	cb.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cb.mu.Lock()
		cb.requests = append(cb.requests, captured{method: r.Method, header: r.Header.Clone(), body: body})
		status := cb.status
		cb.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(cb.server.Close)
	return cb
}

func (c *callback) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *callback) get(i int) captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

type outcomes struct {
	mu   sync.Mutex
	list []Outcome
}

func (o *outcomes) Observe(_ context.Context, out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, out)
}

func callbackRule(url, format string, retries int) *rule.Rule {
	delay := 250
	return &rule.Rule{
		Index:    2,
		Callback: rule.Callback{URL: url, Method: "POST"},
		Options: rule.Options{
			ResourceFormat: format,
			RetryCount:     &retries,
			RetryDelay:     &delay,
			RetryPolicy:    rule.RetryServerErrors,
		},
	}
}

func sample(trail string) delta.ChangeSet {
	ins := delta.NewTriple(delta.URI("http://s"), delta.URI("http://p"), delta.Literal("new"))
	del := delta.NewTriple(delta.URI("http://s"), delta.URI("http://p"), delta.Literal("old"))
	idx := 4
	return delta.ChangeSet{
		Insert:          []delta.Triple{ins},
		Delete:          []delta.Triple{del},
		EffectiveInsert: []delta.Triple{ins},
		EffectiveDelete: []delta.Triple{},
		AllowedGroups:   `[{"name":"public","variables":[]}]`,
		Index:           &idx,
		CallIDTrail:     trail,
	}
}

// run dispatches on a goroutine, advancing the mock clock until it returns.
func run(t *testing.T, d *Dispatcher, mock *clock.Mock, r *rule.Rule, cs []delta.ChangeSet) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- d.Dispatch(context.Background(), r, cs, "session-1", nil)
	}()

	var err error
	finished := assert.Eventually(t, func() bool {
		select {
		case err = <-done:
			return true
		default:
			mock.Add(250 * time.Millisecond)
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)
	require.True(t, finished)
	return err
}

func TestDispatch_HeadersAndBody(t *testing.T) {
	cb := newCallback(t, http.StatusNoContent)
	d := New(nil)
	r := callbackRule(cb.server.URL, rule.FormatV002, 0)

	err := d.Dispatch(context.Background(), r, []delta.ChangeSet{sample(`["a"]`)}, "session-1",
		map[string]string{"mu-bundled-call-id-trails": `["a"]`})
	require.NoError(t, err)
	require.Equal(t, 1, cb.count())

	req := cb.get(0)
	assert.Equal(t, "POST", req.method)
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, `["a"]`, req.header.Get(HeaderCallIDTrail))
	assert.Equal(t, "session-1", req.header.Get(HeaderSessionID))
	assert.Equal(t, `[{"name":"public","variables":[]}]`, req.header.Get(HeaderAllowedGroups))
	assert.Equal(t, `["a"]`, req.header.Get("mu-bundled-call-id-trails"))
	assert.Len(t, req.header.Get(HeaderCallID), 36)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(req.body, &body))
	require.Len(t, body, 1)
	assert.Contains(t, body[0], "effectiveInserts")
	assert.Contains(t, body[0], "effectiveDeletes")
	assert.EqualValues(t, 4, body[0]["index"])
}

func TestDispatch_FreshCallIDPerRequest(t *testing.T) {
	cb := newCallback(t, http.StatusOK)
	d := New(nil)
	r := callbackRule(cb.server.URL, "", 0)

	require.NoError(t, d.Dispatch(context.Background(), r, []delta.ChangeSet{sample(`[]`)}, "", nil))
	require.NoError(t, d.Dispatch(context.Background(), r, []delta.ChangeSet{sample(`[]`)}, "", nil))
	require.Equal(t, 2, cb.count())
	assert.NotEqual(t, cb.get(0).header.Get(HeaderCallID), cb.get(1).header.Get(HeaderCallID))
	assert.Empty(t, cb.get(0).body)
}

func TestDispatch_EmptyNeverSent(t *testing.T) {
	cb := newCallback(t, http.StatusOK)
	d := New(nil)
	require.NoError(t, d.Dispatch(context.Background(), callbackRule(cb.server.URL, rule.FormatV001, 0), nil, "", nil))
	assert.Equal(t, 0, cb.count())
}

func TestDispatch_ClientErrorNotRetried(t *testing.T) {
	cb := newCallback(t, http.StatusNotFound)
	obs := &outcomes{}
	mock := clock.NewMock()
	d := New(nil, WithClock(mock), WithObservers(obs))

	err := run(t, d, mock, callbackRule(cb.server.URL, rule.FormatV001, 3), []delta.ChangeSet{sample(`[]`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPermanentDelivery)
	assert.Equal(t, 1, cb.count())

	require.Len(t, obs.list, 1)
	assert.True(t, obs.list[0].Failed())
	assert.Equal(t, http.StatusNotFound, obs.list[0].StatusCode)
	assert.Equal(t, 1, obs.list[0].Attempts)
}

func TestDispatch_ServerErrorRetriedExactly(t *testing.T) {
	cb := newCallback(t, http.StatusInternalServerError)
	obs := &outcomes{}
	mock := clock.NewMock()
	d := New(nil, WithClock(mock), WithObservers(obs))

	err := run(t, d, mock, callbackRule(cb.server.URL, rule.FormatV001, 2), []delta.ChangeSet{sample(`[]`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDeliveryFailed)
	assert.Equal(t, 3, cb.count())
	require.Len(t, obs.list, 1)
	assert.Equal(t, 3, obs.list[0].Attempts)
}

func TestDispatch_RetryRecovers(t *testing.T) {
	cb := newCallback(t, http.StatusServiceUnavailable)
	mock := clock.NewMock()
	d := New(nil, WithClock(mock))
	r := callbackRule(cb.server.URL, rule.FormatV001, 3)

	done := make(chan error, 1)
	go func() {
		done <- d.Dispatch(context.Background(), r, []delta.ChangeSet{sample(`[]`)}, "", nil)
	}()

	require.Eventually(t, func() bool { return cb.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cb.mu.Lock()
	cb.status = http.StatusOK
	cb.mu.Unlock()

	var err error
	assert.Eventually(t, func() bool {
		select {
		case err = <-done:
			return true
		default:
			mock.Add(250 * time.Millisecond)
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 2, cb.count())
}

func TestDispatch_AllNon2xxPolicy(t *testing.T) {
	cb := newCallback(t, http.StatusConflict)
	mock := clock.NewMock()
	d := New(nil, WithClock(mock))
	r := callbackRule(cb.server.URL, rule.FormatV001, 1)
	r.Options.RetryPolicy = rule.RetryAllNon2xx

	err := run(t, d, mock, r, []delta.ChangeSet{sample(`[]`)})
	require.Error(t, err)
	assert.Equal(t, 2, cb.count())
}

func TestDispatch_UnknownFormat(t *testing.T) {
	cb := newCallback(t, http.StatusOK)
	obs := &outcomes{}
	d := New(nil, WithObservers(obs))

	err := d.Dispatch(context.Background(), callbackRule(cb.server.URL, "v9", 3), []delta.ChangeSet{sample(`[]`)}, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownFormat)
	assert.Equal(t, 0, cb.count())
	require.Len(t, obs.list, 1)
	assert.Equal(t, 0, obs.list[0].Attempts)
}

func TestDispatch_RequestPerCallTrail(t *testing.T) {
	cb := newCallback(t, http.StatusOK)
	d := New(nil)
	r := callbackRule(cb.server.URL, rule.FormatV001, 0)
	r.Options.RequestPerCallTrail = true

	cs := []delta.ChangeSet{sample(`["a"]`), sample(`["b"]`), sample(`["a"]`)}
	require.NoError(t, d.Dispatch(context.Background(), r, cs, "", nil))
	require.Equal(t, 2, cb.count())
	assert.Equal(t, `["a"]`, cb.get(0).header.Get(HeaderCallIDTrail))
	assert.Equal(t, `["b"]`, cb.get(1).header.Get(HeaderCallIDTrail))

	var first []changeV001
	require.NoError(t, json.Unmarshal(cb.get(0).body, &first))
	assert.Len(t, first, 2)
}

func TestDispatch_UnreachableCallbackIsTransient(t *testing.T) {
	cb := newCallback(t, http.StatusOK)
	url := cb.server.URL
	cb.server.Close()

	mock := clock.NewMock()
	d := New(nil, WithClock(mock), WithTimeout(time.Second))
	err := run(t, d, mock, callbackRule(url, rule.FormatV001, 1), []delta.ChangeSet{sample(`[]`)})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
