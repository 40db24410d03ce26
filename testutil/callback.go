package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Request is one request received by a CallbackServer.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
	At     time.Time
}

// CallbackServer records notifications sent to it.
type CallbackServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []Request
	statuses []int
	status   int
}

// NewCallbackServer starts a server answering 204 until told otherwise. It
// is closed when the test ends.
func NewCallbackServer(t *testing.T) *CallbackServer {
	t.Helper()
	cs := &CallbackServer{status: http.StatusNoContent}
	cs.Server = httptest.NewServer(http.HandlerFunc(cs.handle))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	cs.mu.Lock()
	cs.requests = append(cs.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   body,
		At:     time.Now(),
	})
	status := cs.status
	if len(cs.statuses) > 0 {
		status = cs.statuses[0]
		cs.statuses = cs.statuses[1:]
	}
	cs.mu.Unlock()

	w.WriteHeader(status)
}

// RespondWith sets the status for all following requests.
func (cs *CallbackServer) RespondWith(status int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.status = status
	cs.statuses = nil
}

// RespondSequence answers the next requests with statuses in order, then
// falls back to the default status.
func (cs *CallbackServer) RespondSequence(statuses ...int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.statuses = append([]int(nil), statuses...)
}

// Requests returns a copy of the recorded requests.
func (cs *CallbackServer) Requests() []Request {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]Request(nil), cs.requests...)
}

// Count returns the number of recorded requests.
func (cs *CallbackServer) Count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.requests)
}

// WaitForRequests waits until at least n requests arrived and returns them.
func (cs *CallbackServer) WaitForRequests(t *testing.T, n int, timeout time.Duration) []Request {
	t.Helper()
	require.Eventually(t, func() bool { return cs.Count() >= n }, timeout, 5*time.Millisecond,
		"expected %d callback requests", n)
	return cs.Requests()
}
