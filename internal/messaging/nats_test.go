package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()

	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv
}

func newTestNATSClient(t *testing.T) *NATSClient {
	t.Helper()
	srv := runJetStreamServer(t)

	client, err := NewNATSClient(srv.ClientURL(), StreamOptions{
		Name:     "MATCHING",
		Subjects: []string{"matching.>"},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestNATSClient_PublishSubscribe(t *testing.T) {
	client := newTestNATSClient(t)
	ctx := context.Background()

	received := make(chan []byte, 1)
	require.NoError(t, client.Subscribe(ctx, "MATCHING", "matching-worker", "matching.requests",
		func(_ context.Context, data []byte) error {
			received <- data
			return nil
		}))

	require.NoError(t, client.Publish(ctx, "matching.requests", []byte(`{"job":"matching"}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"job":"matching"}`, string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.NoError(t, client.HealthCheck(ctx))
}

func TestNATSClient_HandlerErrorRedelivers(t *testing.T) {
	client := newTestNATSClient(t)
	ctx := context.Background()

	var attempts atomic.Int32
	done := make(chan struct{})
	require.NoError(t, client.Subscribe(ctx, "MATCHING", "matching-worker", "matching.requests",
		func(_ context.Context, _ []byte) error {
			if attempts.Add(1) == 1 {
				return errors.New("store unavailable")
			}
			close(done)
			return nil
		}))

	require.NoError(t, client.Publish(ctx, "matching.requests", []byte(`{"job":"matching"}`)))

	select {
	case <-done:
		assert.Equal(t, int32(2), attempts.Load())
	case <-time.After(10 * time.Second):
		t.Fatal("message not redelivered")
	}
}

func TestNATSClient_HandlerPanicIsNaked(t *testing.T) {
	client := newTestNATSClient(t)
	ctx := context.Background()

	var attempts atomic.Int32
	done := make(chan struct{})
	require.NoError(t, client.Subscribe(ctx, "MATCHING", "matching-worker", "matching.requests",
		func(_ context.Context, _ []byte) error {
			if attempts.Add(1) == 1 {
				panic("boom")
			}
			close(done)
			return nil
		}))

	require.NoError(t, client.Publish(ctx, "matching.requests", []byte(`{}`)))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("message not redelivered after panic")
	}
}

func TestNewNATSClient_Unreachable(t *testing.T) {
	_, err := NewNATSClient("nats://127.0.0.1:1", StreamOptions{Name: "MATCHING", Subjects: []string{"matching.>"}}, nil)
	assert.Error(t, err)
}
