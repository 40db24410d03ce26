package natsclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/testutil"
)

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithTimeout(0))
	require.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithReconnect(-1, 0))
	require.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithAuth("user", "pass", "token"))
	require.Error(t, err)

	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, c.Publish(ctx, "x", []byte("y")), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe(ctx, "x", func(context.Context, *nats.Msg) {}), ErrNotConnected)
}

func TestClient_ConnectFailure(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1", WithTimeout(200*time.Millisecond), WithReconnect(0, time.Millisecond))
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClient_PublishSubscribe(t *testing.T) {
	url := testutil.RunNATSServer(t)

	var healthy atomic.Bool
	c, err := NewClient(url, WithHealthChangeCallback(func(h bool) { healthy.Store(h) }))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsHealthy())
	assert.Eventually(t, healthy.Load, time.Second, 10*time.Millisecond)

	received := make(chan *nats.Msg, 1)
	require.NoError(t, c.Subscribe(ctx, "delta.test", func(_ context.Context, msg *nats.Msg) {
		received <- msg
	}))

	msg := nats.NewMsg("delta.test")
	msg.Data = []byte(`{"changeSets":[]}`)
	msg.Header.Set("mu-session-id", "session-1")
	require.NoError(t, c.PublishMsg(ctx, msg))

	select {
	case got := <-received:
		assert.Equal(t, `{"changeSets":[]}`, string(got.Data))
		assert.Equal(t, "session-1", got.Header.Get("mu-session-id"))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Eventually(t, func() bool { return !healthy.Load() }, time.Second, 10*time.Millisecond)
	assert.NoError(t, c.Close(ctx), "second close is a no-op")

	err = c.Connect(ctx)
	assert.True(t, errors.IsFatal(err))
}
