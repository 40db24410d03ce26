package testutil

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// RunNATSServer starts an embedded NATS server bound to localhost on a
// random port and returns its client URL. The server stops with the test.
func RunNATSServer(t *testing.T) string {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		ServerName: "delta_notifier_test",
		Host:       "127.0.0.1",
		Port:       server.RANDOM_PORT,
		NoLog:      true,
		NoSigs:     true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server failed to start in time")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	port := ns.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("nats://127.0.0.1:%d", port)
}

// MockPublisher records published messages in memory.
type MockPublisher struct {
	mu       sync.Mutex
	messages []*nats.Msg
	err      error
}

// NewMockPublisher creates an empty publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// FailWith makes following publications fail.
func (p *MockPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// PublishMsg records msg.
func (p *MockPublisher) PublishMsg(_ context.Context, msg *nats.Msg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

// Messages returns the messages published on subject.
func (p *MockPublisher) Messages(subject string) []*nats.Msg {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*nats.Msg
	for _, m := range p.messages {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}
